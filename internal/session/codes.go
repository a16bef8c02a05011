package session

import (
	"math/rand"
	"sync"
	"time"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// DefaultCodeLength matches what fits on a party screen.
const DefaultCodeLength = 5

// codeGenerator produces short uppercase alphanumeric session codes.
// rand.Rand is not safe for concurrent use, hence the mutex.
type codeGenerator struct {
	mu     sync.Mutex
	rng    *rand.Rand
	length int
}

func newCodeGenerator(length int) *codeGenerator {
	if length <= 0 {
		length = DefaultCodeLength
	}
	return &codeGenerator{
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		length: length,
	}
}

func (g *codeGenerator) next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	code := make([]byte, g.length)
	for i := range code {
		code[i] = codeAlphabet[g.rng.Intn(len(codeAlphabet))]
	}
	return string(code)
}

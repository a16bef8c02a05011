package session

import (
	"sync"

	"github.com/google/uuid"
)

// Store is the single source of truth mapping session codes to live sessions.
// Every read-then-write for one code runs behind that code's mutex, so
// registry-driven and queue/settings-driven mutations cannot interleave for
// the same session. Operations on different codes proceed in parallel.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	codes    *codeGenerator
}

type entry struct {
	mu sync.Mutex
	s  *Session
}

func NewStore(codeLength int) *Store {
	return &Store{
		sessions: make(map[string]*entry),
		codes:    newCodeGenerator(codeLength),
	}
}

// Create allocates a fresh empty session and returns its code. Codes are
// unique among live sessions; collisions retry.
func (st *Store) Create(password string) string {
	st.mu.Lock()
	defer st.mu.Unlock()

	var code string
	for {
		code = st.codes.next()
		if _, exists := st.sessions[code]; !exists {
			break
		}
	}

	st.sessions[code] = &entry{s: &Session{
		Code:        code,
		Users:       []Participant{},
		Queue:       []QueueEntry{},
		Settings:    map[string]any{},
		Leaderboard: []LeaderboardEntry{},
		Password:    password,
	}}
	return code
}

// Restore overwrites whatever state exists for the code with the supplied
// snapshot. The started flag is monotonic: if the session already existed and
// had started, the restored session stays started. Queue entries without an id
// (cached before the server assigned one) get a fresh id.
func (st *Store) Restore(code string, snap Snapshot, password string) Snapshot {
	st.mu.Lock()
	e, exists := st.sessions[code]
	if !exists {
		e = &entry{s: &Session{Code: code}}
		st.sessions[code] = e
	}
	st.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	started := snap.Started || e.s.Started
	restored := &Session{
		Code:         code,
		Users:        append([]Participant{}, snap.Users...),
		Queue:        append([]QueueEntry{}, snap.Queue...),
		Settings:     map[string]any{},
		Leaderboard:  append([]LeaderboardEntry{}, snap.Leaderboard...),
		Password:     password,
		Started:      started,
		QueueVersion: e.s.QueueVersion + 1,
	}
	for k, v := range snap.Settings {
		restored.Settings[k] = v
	}
	for i := range restored.Queue {
		if restored.Queue[i].EntryID == "" {
			restored.Queue[i].EntryID = uuid.NewString()
		}
	}
	e.s = restored
	return restored.snapshot()
}

// Validate reports whether the code names a live session and whether joining
// it requires a password. It never creates state.
func (st *Store) Validate(code string) (exists, passwordRequired bool) {
	st.mu.RLock()
	e, ok := st.sessions[code]
	st.mu.RUnlock()
	if !ok {
		return false, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return true, e.s.Password != ""
}

// Snapshot returns the sanitized state for the code.
func (st *Store) Snapshot(code string) (Snapshot, error) {
	var snap Snapshot
	err := st.with(code, func(s *Session) error {
		snap = s.snapshot()
		return nil
	})
	return snap, err
}

// Delete removes the session. Reports whether a session existed.
func (st *Store) Delete(code string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[code]; !ok {
		return false
	}
	delete(st.sessions, code)
	return true
}

// with runs fn while holding the per-code lock. A missing code aborts the
// caller with ErrSessionNotFound; sessions are never default-constructed.
func (st *Store) with(code string, fn func(*Session) error) error {
	st.mu.RLock()
	e, ok := st.sessions[code]
	st.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.s)
}

// Join adds a participant after checking the session password. Joining with
// an id that is already present is idempotent and returns the existing entry
// unchanged.
func (st *Store) Join(code string, p Participant, password string) (Participant, error) {
	var joined Participant
	err := st.with(code, func(s *Session) error {
		if s.Password != "" && password != s.Password {
			return ErrWrongPassword
		}
		for _, u := range s.Users {
			if u.ID == p.ID {
				joined = u
				return nil
			}
		}
		s.Users = append(s.Users, p)
		joined = p
		return nil
	})
	return joined, err
}

// RemoveParticipant drops the user from the session and returns the resulting
// snapshot. The removed flag is false when the user was already gone; the
// snapshot is valid either way so callers converge on identical state.
func (st *Store) RemoveParticipant(code, userID string) (Snapshot, bool, error) {
	var (
		snap    Snapshot
		removed bool
	)
	err := st.with(code, func(s *Session) error {
		users := s.Users[:0]
		for _, u := range s.Users {
			if u.ID == userID {
				removed = true
				continue
			}
			users = append(users, u)
		}
		s.Users = users
		snap = s.snapshot()
		return nil
	})
	return snap, removed, err
}

// AddSong appends an entry to the queue on behalf of requesterID, who must be
// a current member. The entry id is always server-assigned.
func (st *Store) AddSong(code string, song QueueEntry, requesterID string) ([]QueueEntry, error) {
	var queue []QueueEntry
	err := st.with(code, func(s *Session) error {
		if !s.member(requesterID) {
			return ErrNotMember
		}
		song.EntryID = uuid.NewString()
		song.AddedBy = requesterID
		s.Queue = append(s.Queue, song)
		s.QueueVersion++
		queue = append([]QueueEntry{}, s.Queue...)
		return nil
	})
	return queue, err
}

// RemoveSong removes the entry with the given id. Only the original adder may
// remove their own entry. A missing id is a no-op, not an error: the caller
// still gets the unchanged queue to rebroadcast.
func (st *Store) RemoveSong(code, entryID, requesterID string) ([]QueueEntry, error) {
	var queue []QueueEntry
	err := st.with(code, func(s *Session) error {
		if !s.member(requesterID) {
			return ErrNotMember
		}
		idx := -1
		for i, q := range s.Queue {
			if q.EntryID == entryID {
				idx = i
				break
			}
		}
		if idx >= 0 {
			if s.Queue[idx].AddedBy != requesterID {
				return ErrNotEntryOwner
			}
			s.Queue = append(s.Queue[:idx], s.Queue[idx+1:]...)
			s.QueueVersion++
		}
		queue = append([]QueueEntry{}, s.Queue...)
		return nil
	})
	return queue, err
}

// Queue returns a copy of the current queue and its version.
func (st *Store) Queue(code string) ([]QueueEntry, uint64, error) {
	var (
		queue   []QueueEntry
		version uint64
	)
	err := st.with(code, func(s *Session) error {
		queue = append([]QueueEntry{}, s.Queue...)
		version = s.QueueVersion
		return nil
	})
	return queue, version, err
}

// ReplaceLeaderboard swaps the whole leaderboard for the supplied rows; there
// is no increment primitive. Returns the resulting snapshot.
func (st *Store) ReplaceLeaderboard(code string, entries []LeaderboardEntry) (Snapshot, error) {
	var snap Snapshot
	err := st.with(code, func(s *Session) error {
		s.Leaderboard = append([]LeaderboardEntry{}, entries...)
		snap = s.snapshot()
		return nil
	})
	return snap, err
}

// SetSetting writes the key/value pair unconditionally. No schema is enforced
// at this layer.
func (st *Store) SetSetting(code, key string, value any) error {
	return st.with(code, func(s *Session) error {
		if s.Settings == nil {
			s.Settings = map[string]any{}
		}
		s.Settings[key] = value
		return nil
	})
}

// MarkStarted flips the monotonic started flag. Reports whether the session
// had already started.
func (st *Store) MarkStarted(code string) (bool, error) {
	var already bool
	err := st.with(code, func(s *Session) error {
		already = s.Started
		s.Started = true
		return nil
	})
	return already, err
}

// Started reports the started flag.
func (st *Store) Started(code string) (bool, error) {
	var started bool
	err := st.with(code, func(s *Session) error {
		started = s.Started
		return nil
	})
	return started, err
}

package session

import "errors"

// Sentinel errors surfaced by the store. The HTTP layer maps them onto status
// codes; the hub logs and drops, since socket events carry no response channel.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrWrongPassword   = errors.New("invalid password for this session")
	ErrNotMember       = errors.New("user is not part of the session")
	ErrNotEntryOwner   = errors.New("queue entry was added by another user")
)

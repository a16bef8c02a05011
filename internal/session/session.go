// Package session holds the authoritative in-memory state for every live
// party session. Nothing here survives a restart: clients that cached a
// snapshot can resubmit it through Restore.
package session

// Participant is a member of a session. The id is caller-supplied and unique
// within the session; insertion order is display order.
type Participant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar_base64"`
}

// QueueEntry is one song in the FIFO queue. EntryID is server-assigned and
// unique for the lifetime of the process, so duplicated songs stay
// distinguishable.
type QueueEntry struct {
	EntryID   string `json:"entry_id"`
	SongID    string `json:"song_id"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Thumbnail string `json:"thumbnail"`
	Duration  string `json:"duration"`
	AddedBy   string `json:"added_by"`
}

// LeaderboardEntry is a scored row. The leaderboard is replace-only; there is
// no increment primitive.
type LeaderboardEntry struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// Session is the full mutable state behind one code. Fields are only touched
// while the store holds the per-code lock.
type Session struct {
	Code         string
	Users        []Participant
	Queue        []QueueEntry
	Settings     map[string]any
	Leaderboard  []LeaderboardEntry
	Password     string
	Started      bool
	QueueVersion uint64
}

// Snapshot is the sanitized, serializable view of a session sent to clients.
// The password never appears in a snapshot.
type Snapshot struct {
	SessionCode  string             `json:"session_code"`
	Users        []Participant      `json:"users"`
	Queue        []QueueEntry       `json:"queue"`
	Leaderboard  []LeaderboardEntry `json:"leaderboard"`
	Settings     map[string]any     `json:"settings"`
	Started      bool               `json:"started"`
	QueueVersion uint64             `json:"queue_version"`
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		SessionCode:  s.Code,
		Users:        make([]Participant, len(s.Users)),
		Queue:        make([]QueueEntry, len(s.Queue)),
		Leaderboard:  make([]LeaderboardEntry, len(s.Leaderboard)),
		Settings:     make(map[string]any, len(s.Settings)),
		Started:      s.Started,
		QueueVersion: s.QueueVersion,
	}
	copy(snap.Users, s.Users)
	copy(snap.Queue, s.Queue)
	copy(snap.Leaderboard, s.Leaderboard)
	for k, v := range s.Settings {
		snap.Settings[k] = v
	}
	return snap
}

func (s *Session) member(userID string) bool {
	for _, u := range s.Users {
		if u.ID == userID {
			return true
		}
	}
	return false
}

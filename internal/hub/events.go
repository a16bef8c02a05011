package hub

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/psychopatz/KaraYouke/internal/session"
)

// Message types exchanged over the socket.
const (
	// Client -> Server
	MsgTypeJoinRoom           = "join_room"
	MsgTypeRegisterHost       = "register_host"
	MsgTypeRegisterUser       = "register_user"
	MsgTypeLogoutUser         = "logout_user"
	MsgTypeKickUser           = "kick_user"
	MsgTypeAddSong            = "add_song"
	MsgTypeRemoveSong         = "remove_song"
	MsgTypeChangeSetting      = "change_setting"
	MsgTypePlayerControl      = "player_control"
	MsgTypeGetPlayerState     = "get_player_state"
	MsgTypePlayerStateUpdated = "player_state_updated"
	MsgTypeRequestStart       = "request_start"
	MsgTypeHostStarted        = "host_started"
	MsgTypeUpdateLeaderboard  = "update_leaderboard"
	MsgTypeGetSessionInfo     = "get_session_info"
	MsgTypePing               = "ping"

	// Server -> Client
	MsgTypeSessionUpdated = "session_updated"
	MsgTypeQueueUpdated   = "queue_updated"
	MsgTypeSettingUpdated = "setting_updated"
	MsgTypeKicked         = "kicked"
	MsgTypeSessionDeleted = "session_deleted"
	MsgTypeSessionInvalid = "session_invalid"
	MsgTypePong           = "pong"
)

// Security limits on client-supplied strings.
const (
	MaxNameLength  = 50
	MaxCodeLength  = 10
	MaxTitleLength = 200
	MaxURLLength   = 500
	MaxKeyLength   = 100
)

// Message is the envelope for every frame in both directions.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RoomPayload carries events that only name a session.
type RoomPayload struct {
	SessionCode string `json:"session_code"`
}

// RegisterUserPayload attaches a participant identity to an already
// room-joined connection.
type RegisterUserPayload struct {
	ID string `json:"id"`
}

// UserRefPayload targets a participant within a session (logout, kick).
type UserRefPayload struct {
	SessionCode string `json:"session_code"`
	ID          string `json:"id"`
}

// AddSongPayload appends a song to the queue on behalf of its adder.
type AddSongPayload struct {
	SessionCode string             `json:"session_code"`
	Song        session.QueueEntry `json:"song"`
}

// RemoveSongPayload removes one queue entry by id.
type RemoveSongPayload struct {
	SessionCode string `json:"session_code"`
	EntryID     string `json:"entry_id"`
	UserID      string `json:"user_id"`
}

// ChangeSettingPayload writes one session setting.
type ChangeSettingPayload struct {
	SessionCode string `json:"session_code"`
	Key         string `json:"key"`
	Value       any    `json:"value"`
}

// ControlUser identifies who pressed a remote control button, so the host can
// show a toast.
type ControlUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PlayerControlPayload is relayed from a remote to the host, never stored.
type PlayerControlPayload struct {
	SessionCode string      `json:"session_code"`
	Action      string      `json:"action"`
	User        ControlUser `json:"user"`
}

// PlayerStatePayload is the host's playback report, fanned out to the room
// minus the host itself.
type PlayerStatePayload struct {
	SessionCode string `json:"session_code"`
	IsPlaying   bool   `json:"isPlaying"`
}

// RequestStartPayload asks the host to begin the party.
type RequestStartPayload struct {
	SessionCode string      `json:"session_code"`
	User        ControlUser `json:"user"`
}

// SettingUpdatedPayload broadcasts only the changed pair, not the whole map.
type SettingUpdatedPayload struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// KickedPayload tells the target connection it was removed.
type KickedPayload struct {
	Reason string `json:"reason"`
}

// UpdateLeaderboardPayload replaces the whole leaderboard. Scores are computed
// on the host display; the server only stores and fans them out.
type UpdateLeaderboardPayload struct {
	SessionCode string                     `json:"session_code"`
	Leaderboard []session.LeaderboardEntry `json:"leaderboard"`
}

// sanitizeString strips control characters, trims whitespace, enforces valid
// UTF-8 and caps the byte length without splitting a multi-byte rune.
func sanitizeString(s string, maxLen int) string {
	s = strings.Map(func(r rune) rune {
		if r == 0 || (r < 32 && r != '\t' && r != '\n' && r != '\r') {
			return -1
		}
		return r
	}, s)

	s = strings.TrimSpace(s)

	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}

	if len(s) > maxLen {
		for i := maxLen; i > 0 && i > maxLen-4; i-- {
			if utf8.ValidString(s[:i]) {
				return s[:i]
			}
		}
		return s[:maxLen]
	}

	return s
}

// SanitizeCode normalizes a client-supplied session code: uppercased, trimmed,
// control characters stripped, capped at MaxCodeLength. Shared with the HTTP
// layer so both boundaries apply the same rules.
func SanitizeCode(code string) string {
	return sanitizeString(strings.ToUpper(code), MaxCodeLength)
}

func sanitizeSong(song *session.QueueEntry) {
	song.SongID = sanitizeString(song.SongID, MaxTitleLength)
	song.Title = sanitizeString(song.Title, MaxTitleLength)
	song.URL = sanitizeString(song.URL, MaxURLLength)
	song.Thumbnail = sanitizeString(song.Thumbnail, MaxURLLength)
	song.Duration = sanitizeString(song.Duration, MaxKeyLength)
}

// encode wraps a payload in the envelope. A payload that cannot marshal is a
// programming error; callers drop the frame.
func encode(msgType string, payload any) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if payload != nil {
		data, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(Message{Type: msgType, Payload: data})
}

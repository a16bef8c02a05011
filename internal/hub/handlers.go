package hub

import (
	"encoding/json"

	"go.uber.org/zap"
)

// handleMessage dispatches one inbound frame. Socket events carry no response
// channel: invalid or unauthorized events are logged and dropped, and a
// malformed frame never takes down the room or any other session.
func (h *Hub) handleMessage(c *Client, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		h.log.Debug("invalid frame", zap.String("client_id", c.id), zap.Error(err))
		return
	}
	if msg.Type == "" {
		h.log.Debug("frame without type", zap.String("client_id", c.id))
		return
	}

	switch msg.Type {
	case MsgTypeJoinRoom:
		h.handleJoinRoom(c, msg.Payload)
	case MsgTypeRegisterHost:
		h.handleRegisterHost(c, msg.Payload)
	case MsgTypeRegisterUser:
		h.handleRegisterUser(c, msg.Payload)
	case MsgTypeLogoutUser:
		h.handleLogoutUser(c, msg.Payload)
	case MsgTypeKickUser:
		h.handleKickUser(c, msg.Payload)
	case MsgTypeAddSong:
		h.handleAddSong(c, msg.Payload)
	case MsgTypeRemoveSong:
		h.handleRemoveSong(c, msg.Payload)
	case MsgTypeChangeSetting:
		h.handleChangeSetting(c, msg.Payload)
	case MsgTypePlayerControl:
		h.handlePlayerControl(c, msg.Payload)
	case MsgTypeGetPlayerState:
		h.handleGetPlayerState(c, msg.Payload)
	case MsgTypePlayerStateUpdated:
		h.handlePlayerStateUpdated(c, msg.Payload)
	case MsgTypeRequestStart:
		h.handleRequestStart(c, msg.Payload)
	case MsgTypeHostStarted:
		h.handleHostStarted(c, msg.Payload)
	case MsgTypeUpdateLeaderboard:
		h.handleUpdateLeaderboard(c, msg.Payload)
	case MsgTypeGetSessionInfo:
		h.handleGetSessionInfo(c, msg.Payload)
	case MsgTypePing:
		h.unicast(c, MsgTypePong, nil)
	default:
		h.log.Debug("unknown message type",
			zap.String("client_id", c.id),
			zap.String("message_type", msg.Type))
	}
}

// handleJoinRoom subscribes the connection to the session's broadcasts. It
// does not add a participant; the HTTP join endpoint does that first, and
// register_user attaches the identity afterwards.
//
// TODO: this event never checks the session password, so a connection that
// skips the HTTP join endpoint can subscribe to a protected room's
// broadcasts. Clients join the room before registering identity, so closing
// the gap needs a protocol change on both sides.
func (h *Hub) handleJoinRoom(c *Client, payload json.RawMessage) {
	var p RoomPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.log.Debug("invalid join_room payload", zap.String("client_id", c.id), zap.Error(err))
		return
	}
	code := SanitizeCode(p.SessionCode)
	if code == "" {
		h.log.Debug("join_room without session code", zap.String("client_id", c.id))
		return
	}

	h.joinRoom(c, code)
	h.log.Info("client joined room",
		zap.String("client_id", c.id),
		zap.String("session_code", code))
}

// handleRegisterHost claims the host slot for the session. Registering
// against an unknown code answers session_invalid to the sender only; the
// store never default-constructs a session.
func (h *Hub) handleRegisterHost(c *Client, payload json.RawMessage) {
	var p RoomPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.log.Debug("invalid register_host payload", zap.String("client_id", c.id), zap.Error(err))
		return
	}
	code := SanitizeCode(p.SessionCode)

	if exists, _ := h.store.Validate(code); !exists {
		h.unicast(c, MsgTypeSessionInvalid, RoomPayload{SessionCode: code})
		h.log.Warn("host registered against unknown session",
			zap.String("client_id", c.id),
			zap.String("session_code", code))
		return
	}

	h.bindHost(c, code)
	h.log.Info("host registered",
		zap.String("client_id", c.id),
		zap.String("session_code", code))
}

// handleRegisterUser attaches a participant id to an already room-joined
// connection (two-phase join), then broadcasts the full session so every
// subscriber observes the new identity.
func (h *Hub) handleRegisterUser(c *Client, payload json.RawMessage) {
	var p RegisterUserPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.log.Debug("invalid register_user payload", zap.String("client_id", c.id), zap.Error(err))
		return
	}
	userID := sanitizeString(p.ID, MaxNameLength)

	h.mu.Lock()
	code := c.code
	if code != "" && userID != "" {
		c.userID = userID
	}
	h.mu.Unlock()

	if code == "" || userID == "" {
		h.log.Debug("register_user without room binding", zap.String("client_id", c.id))
		return
	}

	snap, err := h.store.Snapshot(code)
	if err != nil {
		h.log.Debug("register_user for missing session",
			zap.String("session_code", code), zap.Error(err))
		return
	}
	h.Broadcast(code, MsgTypeSessionUpdated, snap)
	h.log.Info("user registered",
		zap.String("client_id", c.id),
		zap.String("session_code", code),
		zap.String("user_id", userID))
}

func (h *Hub) handleLogoutUser(c *Client, payload json.RawMessage) {
	var p UserRefPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.log.Debug("invalid logout_user payload", zap.String("client_id", c.id), zap.Error(err))
		return
	}
	code := SanitizeCode(p.SessionCode)
	if code == "" || p.ID == "" {
		return
	}

	h.removeParticipant(code, p.ID)

	h.mu.Lock()
	if c.code == code {
		h.leaveRoomLocked(c)
	}
	h.mu.Unlock()
}

// handleKickUser removes the participant whether or not their connection is
// still live. A live target is notified and force-disconnected, which runs
// the normal disconnect teardown; a stale target gets the same teardown
// directly. Both paths end in removeParticipant, so the final state is
// identical.
func (h *Hub) handleKickUser(c *Client, payload json.RawMessage) {
	var p UserRefPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.log.Debug("invalid kick_user payload", zap.String("client_id", c.id), zap.Error(err))
		return
	}
	code := SanitizeCode(p.SessionCode)
	if code == "" || p.ID == "" {
		return
	}

	h.mu.RLock()
	isHost := h.hosts[code] == c
	var target *Client
	for sub := range h.rooms[code] {
		if sub.userID == p.ID {
			target = sub
			break
		}
	}
	h.mu.RUnlock()

	if !isHost {
		h.log.Warn("kick_user from non-host connection",
			zap.String("client_id", c.id),
			zap.String("session_code", code))
		return
	}

	if target == nil {
		// Already disconnected; remove the participant directly.
		h.removeParticipant(code, p.ID)
		return
	}

	h.unicast(target, MsgTypeKicked, KickedPayload{Reason: "You have been removed from the session"})
	if target.conn != nil {
		target.conn.Close()
	}
	h.disconnect(target)
}

func (h *Hub) handleAddSong(c *Client, payload json.RawMessage) {
	var p AddSongPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.log.Debug("invalid add_song payload", zap.String("client_id", c.id), zap.Error(err))
		return
	}
	code := SanitizeCode(p.SessionCode)
	sanitizeSong(&p.Song)
	if code == "" || p.Song.Title == "" || p.Song.AddedBy == "" {
		h.log.Debug("add_song missing required fields", zap.String("client_id", c.id))
		return
	}

	queue, err := h.store.AddSong(code, p.Song, p.Song.AddedBy)
	if err != nil {
		h.log.Warn("add_song rejected",
			zap.String("session_code", code),
			zap.String("user_id", p.Song.AddedBy),
			zap.Error(err))
		return
	}

	h.Broadcast(code, MsgTypeQueueUpdated, queue)
	h.log.Info("song added",
		zap.String("session_code", code),
		zap.String("user_id", p.Song.AddedBy),
		zap.String("title", p.Song.Title))
}

func (h *Hub) handleRemoveSong(c *Client, payload json.RawMessage) {
	var p RemoveSongPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.log.Debug("invalid remove_song payload", zap.String("client_id", c.id), zap.Error(err))
		return
	}
	code := SanitizeCode(p.SessionCode)
	if code == "" || p.UserID == "" {
		return
	}

	queue, err := h.store.RemoveSong(code, p.EntryID, p.UserID)
	if err != nil {
		h.log.Warn("remove_song rejected",
			zap.String("session_code", code),
			zap.String("user_id", p.UserID),
			zap.Error(err))
		return
	}

	// Removing an id that is no longer queued is a no-op, but the unchanged
	// queue is still rebroadcast so clients converge.
	h.Broadcast(code, MsgTypeQueueUpdated, queue)
}

func (h *Hub) handleChangeSetting(c *Client, payload json.RawMessage) {
	var p ChangeSettingPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.log.Debug("invalid change_setting payload", zap.String("client_id", c.id), zap.Error(err))
		return
	}
	code := SanitizeCode(p.SessionCode)
	key := sanitizeString(p.Key, MaxKeyLength)
	if code == "" || key == "" {
		h.log.Debug("change_setting missing required fields", zap.String("client_id", c.id))
		return
	}

	if err := h.store.SetSetting(code, key, p.Value); err != nil {
		h.log.Debug("change_setting for missing session",
			zap.String("session_code", code), zap.Error(err))
		return
	}

	// Only the changed pair goes out, never the full settings map.
	h.Broadcast(code, MsgTypeSettingUpdated, SettingUpdatedPayload{Key: key, Value: p.Value})
	h.log.Info("setting changed",
		zap.String("session_code", code),
		zap.String("key", key))
}

// handlePlayerControl relays a remote's control request to the host only.
// Nothing is persisted; with no host bound the request is dropped.
func (h *Hub) handlePlayerControl(c *Client, payload json.RawMessage) {
	var p PlayerControlPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.log.Debug("invalid player_control payload", zap.String("client_id", c.id), zap.Error(err))
		return
	}
	code := SanitizeCode(p.SessionCode)
	if code == "" || p.Action == "" {
		return
	}
	if exists, _ := h.store.Validate(code); !exists {
		h.log.Debug("player_control for missing session", zap.String("session_code", code))
		return
	}

	host := h.host(code)
	if host == nil {
		h.log.Warn("player_control with no host bound", zap.String("session_code", code))
		return
	}
	h.unicast(host, MsgTypePlayerControl, p)
	h.log.Debug("player control forwarded",
		zap.String("session_code", code),
		zap.String("action", p.Action),
		zap.String("user_id", p.User.ID))
}

// handleGetPlayerState asks the host to report its playback state; the host
// answers with a player_state_updated event.
func (h *Hub) handleGetPlayerState(c *Client, payload json.RawMessage) {
	var p RoomPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.log.Debug("invalid get_player_state payload", zap.String("client_id", c.id), zap.Error(err))
		return
	}
	code := SanitizeCode(p.SessionCode)
	host := h.host(code)
	if host == nil {
		h.log.Debug("get_player_state with no host bound", zap.String("session_code", code))
		return
	}
	h.unicast(host, MsgTypeGetPlayerState, nil)
}

// handlePlayerStateUpdated fans the host's playback report out to the room,
// excluding the sender.
func (h *Hub) handlePlayerStateUpdated(c *Client, payload json.RawMessage) {
	var p PlayerStatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.log.Debug("invalid player_state_updated payload", zap.String("client_id", c.id), zap.Error(err))
		return
	}
	code := SanitizeCode(p.SessionCode)
	if code == "" {
		return
	}
	if exists, _ := h.store.Validate(code); !exists {
		return
	}
	h.broadcastExcept(code, c, MsgTypePlayerStateUpdated, p)
}

// handleRequestStart forwards a remote's start request to the host, unless
// the session already started; repeated prompts are suppressed.
func (h *Hub) handleRequestStart(c *Client, payload json.RawMessage) {
	var p RequestStartPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.log.Debug("invalid request_start payload", zap.String("client_id", c.id), zap.Error(err))
		return
	}
	code := SanitizeCode(p.SessionCode)

	started, err := h.store.Started(code)
	if err != nil {
		h.log.Debug("request_start for missing session", zap.String("session_code", code))
		return
	}
	if started {
		h.log.Debug("request_start suppressed, session already started",
			zap.String("session_code", code))
		return
	}

	host := h.host(code)
	if host == nil {
		h.log.Warn("request_start with no host bound", zap.String("session_code", code))
		return
	}
	h.unicast(host, MsgTypeRequestStart, p)
}

func (h *Hub) handleHostStarted(c *Client, payload json.RawMessage) {
	var p RoomPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.log.Debug("invalid host_started payload", zap.String("client_id", c.id), zap.Error(err))
		return
	}
	code := SanitizeCode(p.SessionCode)

	already, err := h.store.MarkStarted(code)
	if err != nil {
		h.log.Debug("host_started for missing session", zap.String("session_code", code))
		return
	}
	if !already {
		h.log.Info("session started", zap.String("session_code", code))
	}
}

// handleUpdateLeaderboard replaces the leaderboard wholesale and broadcasts
// the resulting session. Scores come from the host display, so only the host
// connection may write them.
func (h *Hub) handleUpdateLeaderboard(c *Client, payload json.RawMessage) {
	var p UpdateLeaderboardPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.log.Debug("invalid update_leaderboard payload", zap.String("client_id", c.id), zap.Error(err))
		return
	}
	code := SanitizeCode(p.SessionCode)
	if code == "" {
		return
	}

	h.mu.RLock()
	isHost := h.hosts[code] == c
	h.mu.RUnlock()
	if !isHost {
		h.log.Warn("update_leaderboard from non-host connection",
			zap.String("client_id", c.id),
			zap.String("session_code", code))
		return
	}

	for i := range p.Leaderboard {
		p.Leaderboard[i].Name = sanitizeString(p.Leaderboard[i].Name, MaxNameLength)
	}

	snap, err := h.store.ReplaceLeaderboard(code, p.Leaderboard)
	if err != nil {
		h.log.Debug("update_leaderboard for missing session",
			zap.String("session_code", code), zap.Error(err))
		return
	}

	h.Broadcast(code, MsgTypeSessionUpdated, snap)
	h.log.Info("leaderboard updated",
		zap.String("session_code", code),
		zap.Int("entries", len(p.Leaderboard)))
}

// handleGetSessionInfo answers the requesting connection with the current
// snapshot and queue, used to populate the UI on first load.
func (h *Hub) handleGetSessionInfo(c *Client, payload json.RawMessage) {
	var p RoomPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.log.Debug("invalid get_session_info payload", zap.String("client_id", c.id), zap.Error(err))
		return
	}
	code := SanitizeCode(p.SessionCode)

	snap, err := h.store.Snapshot(code)
	if err != nil {
		h.log.Debug("get_session_info for missing session", zap.String("session_code", code))
		return
	}
	h.unicast(c, MsgTypeSessionUpdated, snap)
	h.unicast(c, MsgTypeQueueUpdated, snap.Queue)
}

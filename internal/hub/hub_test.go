package hub

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/psychopatz/KaraYouke/internal/session"
)

func newTestHub() (*Hub, *session.Store) {
	store := session.NewStore(0)
	return New(store, zap.NewNop()), store
}

// newTestClient registers a connection with no underlying socket; frames land
// in the send channel where tests can inspect them.
func newTestClient(h *Hub) *Client {
	return h.register(nil)
}

func frame(t *testing.T, msgType string, payload any) []byte {
	t.Helper()
	data, err := encode(msgType, payload)
	require.NoError(t, err)
	return data
}

// drain returns every frame currently buffered for the client.
func drain(t *testing.T, c *Client) []Message {
	t.Helper()
	var out []Message
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return out
			}
			var msg Message
			require.NoError(t, json.Unmarshal(data, &msg))
			out = append(out, msg)
		default:
			return out
		}
	}
}

func frameTypes(msgs []Message) []string {
	types := make([]string, 0, len(msgs))
	for _, m := range msgs {
		types = append(types, m.Type)
	}
	return types
}

func countType(msgs []Message, msgType string) int {
	n := 0
	for _, m := range msgs {
		if m.Type == msgType {
			n++
		}
	}
	return n
}

func TestRegisterHostUnknownCodeSendsSessionInvalid(t *testing.T) {
	h, _ := newTestHub()
	host := newTestClient(h)

	h.handleMessage(host, frame(t, MsgTypeRegisterHost, RoomPayload{SessionCode: "GH0ST"}))

	msgs := drain(t, host)
	require.Equal(t, []string{MsgTypeSessionInvalid}, frameTypes(msgs))
	assert.Empty(t, host.code, "an invalid registration must not bind the connection")
}

func TestRegisterHostReplacesPreviousHost(t *testing.T) {
	h, store := newTestHub()
	code := store.Create("")

	first := newTestClient(h)
	second := newTestClient(h)
	h.handleMessage(first, frame(t, MsgTypeRegisterHost, RoomPayload{SessionCode: code}))
	h.handleMessage(second, frame(t, MsgTypeRegisterHost, RoomPayload{SessionCode: code}))

	assert.Same(t, second, h.host(code))
	assert.Equal(t, RoleParticipant, first.role, "replaced host is demoted, not negotiated with")
}

func TestHostDisconnectDeletesSessionAndNotifiesRoomOnce(t *testing.T) {
	h, store := newTestHub()
	code := store.Create("")
	_, err := store.Join(code, session.Participant{ID: "u1", Name: "Ana"}, "")
	require.NoError(t, err)

	host := newTestClient(h)
	h.handleMessage(host, frame(t, MsgTypeRegisterHost, RoomPayload{SessionCode: code}))

	remote := newTestClient(h)
	h.handleMessage(remote, frame(t, MsgTypeJoinRoom, RoomPayload{SessionCode: code}))
	h.handleMessage(remote, frame(t, MsgTypeRegisterUser, RegisterUserPayload{ID: "u1"}))
	drain(t, remote)

	h.disconnect(host)

	exists, _ := store.Validate(code)
	assert.False(t, exists, "losing the host must delete the session")

	msgs := drain(t, remote)
	assert.Equal(t, 1, countType(msgs, MsgTypeSessionDeleted), "exactly one session_deleted per subscriber")
	assert.Empty(t, remote.code, "room subscribers are unbound on teardown")
}

func TestParticipantDisconnectRemovesUserAndBroadcasts(t *testing.T) {
	h, store := newTestHub()
	code := store.Create("")
	for _, id := range []string{"u1", "u2"} {
		_, err := store.Join(code, session.Participant{ID: id}, "")
		require.NoError(t, err)
	}

	stayer := newTestClient(h)
	h.handleMessage(stayer, frame(t, MsgTypeJoinRoom, RoomPayload{SessionCode: code}))
	h.handleMessage(stayer, frame(t, MsgTypeRegisterUser, RegisterUserPayload{ID: "u1"}))

	leaver := newTestClient(h)
	h.handleMessage(leaver, frame(t, MsgTypeJoinRoom, RoomPayload{SessionCode: code}))
	h.handleMessage(leaver, frame(t, MsgTypeRegisterUser, RegisterUserPayload{ID: "u2"}))
	drain(t, stayer)

	h.disconnect(leaver)

	snap, err := store.Snapshot(code)
	require.NoError(t, err)
	require.Len(t, snap.Users, 1)
	assert.Equal(t, "u1", snap.Users[0].ID)

	msgs := drain(t, stayer)
	require.Equal(t, 1, countType(msgs, MsgTypeSessionUpdated))
}

func TestUnboundDisconnectIsNoOp(t *testing.T) {
	h, store := newTestHub()
	code := store.Create("")
	_, err := store.Join(code, session.Participant{ID: "u1"}, "")
	require.NoError(t, err)

	loner := newTestClient(h)
	h.disconnect(loner)

	exists, _ := store.Validate(code)
	assert.True(t, exists)
}

func TestKickConvergesForLiveAndStaleConnections(t *testing.T) {
	runKick := func(t *testing.T, live bool) session.Snapshot {
		h, store := newTestHub()
		code := store.Create("")
		for _, id := range []string{"u1", "u2"} {
			_, err := store.Join(code, session.Participant{ID: id}, "")
			require.NoError(t, err)
		}

		host := newTestClient(h)
		h.handleMessage(host, frame(t, MsgTypeRegisterHost, RoomPayload{SessionCode: code}))

		var target *Client
		if live {
			target = newTestClient(h)
			h.handleMessage(target, frame(t, MsgTypeJoinRoom, RoomPayload{SessionCode: code}))
			h.handleMessage(target, frame(t, MsgTypeRegisterUser, RegisterUserPayload{ID: "u2"}))
			drain(t, target)
		}
		drain(t, host)

		h.handleMessage(host, frame(t, MsgTypeKickUser, UserRefPayload{SessionCode: code, ID: "u2"}))

		if live {
			msgs := drain(t, target)
			assert.Equal(t, 1, countType(msgs, MsgTypeKicked), "live target is notified before teardown")
		}

		msgs := drain(t, host)
		require.Equal(t, 1, countType(msgs, MsgTypeSessionUpdated))

		snap, err := store.Snapshot(code)
		require.NoError(t, err)
		return snap
	}

	liveSnap := runKick(t, true)
	staleSnap := runKick(t, false)

	// Both paths must converge on identical final state.
	assert.Equal(t, liveSnap.Users, staleSnap.Users)
	require.Len(t, liveSnap.Users, 1)
	assert.Equal(t, "u1", liveSnap.Users[0].ID)
}

func TestKickFromNonHostIsDropped(t *testing.T) {
	h, store := newTestHub()
	code := store.Create("")
	for _, id := range []string{"u1", "u2"} {
		_, err := store.Join(code, session.Participant{ID: id}, "")
		require.NoError(t, err)
	}

	remote := newTestClient(h)
	h.handleMessage(remote, frame(t, MsgTypeJoinRoom, RoomPayload{SessionCode: code}))
	h.handleMessage(remote, frame(t, MsgTypeRegisterUser, RegisterUserPayload{ID: "u1"}))

	h.handleMessage(remote, frame(t, MsgTypeKickUser, UserRefPayload{SessionCode: code, ID: "u2"}))

	snap, err := store.Snapshot(code)
	require.NoError(t, err)
	assert.Len(t, snap.Users, 2, "only the host may kick")
}

func TestAddSongBroadcastsQueueToRoom(t *testing.T) {
	h, store := newTestHub()
	code := store.Create("")
	_, err := store.Join(code, session.Participant{ID: "u1"}, "")
	require.NoError(t, err)

	remote := newTestClient(h)
	h.handleMessage(remote, frame(t, MsgTypeJoinRoom, RoomPayload{SessionCode: code}))
	drain(t, remote)

	h.handleMessage(remote, frame(t, MsgTypeAddSong, AddSongPayload{
		SessionCode: code,
		Song:        session.QueueEntry{Title: "Song A", AddedBy: "u1"},
	}))

	msgs := drain(t, remote)
	require.Equal(t, []string{MsgTypeQueueUpdated}, frameTypes(msgs))

	var queue []session.QueueEntry
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &queue))
	require.Len(t, queue, 1)
	assert.Equal(t, "Song A", queue[0].Title)
	assert.NotEmpty(t, queue[0].EntryID)
}

func TestAddSongFromNonMemberIsDroppedSilently(t *testing.T) {
	h, store := newTestHub()
	code := store.Create("")

	remote := newTestClient(h)
	h.handleMessage(remote, frame(t, MsgTypeJoinRoom, RoomPayload{SessionCode: code}))
	drain(t, remote)

	h.handleMessage(remote, frame(t, MsgTypeAddSong, AddSongPayload{
		SessionCode: code,
		Song:        session.QueueEntry{Title: "Song A", AddedBy: "stranger"},
	}))

	assert.Empty(t, drain(t, remote), "events have no response channel; rejections are silent")
	snap, err := store.Snapshot(code)
	require.NoError(t, err)
	assert.Empty(t, snap.Queue)
}

func TestRemoveSongMissingIDStillBroadcasts(t *testing.T) {
	h, store := newTestHub()
	code := store.Create("")
	_, err := store.Join(code, session.Participant{ID: "u1"}, "")
	require.NoError(t, err)
	queue, err := store.AddSong(code, session.QueueEntry{Title: "Song A"}, "u1")
	require.NoError(t, err)

	remote := newTestClient(h)
	h.handleMessage(remote, frame(t, MsgTypeJoinRoom, RoomPayload{SessionCode: code}))
	drain(t, remote)

	h.handleMessage(remote, frame(t, MsgTypeRemoveSong, RemoveSongPayload{
		SessionCode: code,
		EntryID:     "not-" + queue[0].EntryID,
		UserID:      "u1",
	}))

	msgs := drain(t, remote)
	require.Equal(t, []string{MsgTypeQueueUpdated}, frameTypes(msgs))

	var got []session.QueueEntry
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &got))
	assert.Equal(t, queue, got, "queue is unchanged but still rebroadcast")
}

func TestChangeSettingBroadcastsOnlyChangedPair(t *testing.T) {
	h, store := newTestHub()
	code := store.Create("")

	remote := newTestClient(h)
	h.handleMessage(remote, frame(t, MsgTypeJoinRoom, RoomPayload{SessionCode: code}))
	drain(t, remote)

	h.handleMessage(remote, frame(t, MsgTypeChangeSetting, ChangeSettingPayload{
		SessionCode: code,
		Key:         "show_scores",
		Value:       true,
	}))

	msgs := drain(t, remote)
	require.Equal(t, []string{MsgTypeSettingUpdated}, frameTypes(msgs))

	var p SettingUpdatedPayload
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &p))
	assert.Equal(t, "show_scores", p.Key)
	assert.Equal(t, true, p.Value)

	snap, err := store.Snapshot(code)
	require.NoError(t, err)
	assert.Equal(t, true, snap.Settings["show_scores"])
}

func TestPlayerControlForwardedToHostOnly(t *testing.T) {
	h, store := newTestHub()
	code := store.Create("")

	host := newTestClient(h)
	h.handleMessage(host, frame(t, MsgTypeRegisterHost, RoomPayload{SessionCode: code}))

	remote := newTestClient(h)
	h.handleMessage(remote, frame(t, MsgTypeJoinRoom, RoomPayload{SessionCode: code}))
	drain(t, host)
	drain(t, remote)

	h.handleMessage(remote, frame(t, MsgTypePlayerControl, PlayerControlPayload{
		SessionCode: code,
		Action:      "toggle_play_pause",
		User:        ControlUser{ID: "u1", Name: "Ana"},
	}))

	hostMsgs := drain(t, host)
	require.Equal(t, []string{MsgTypePlayerControl}, frameTypes(hostMsgs))

	var p PlayerControlPayload
	require.NoError(t, json.Unmarshal(hostMsgs[0].Payload, &p))
	assert.Equal(t, "toggle_play_pause", p.Action)
	assert.Equal(t, "Ana", p.User.Name)

	assert.Empty(t, drain(t, remote), "control requests are unicast, not broadcast")
}

func TestPlayerControlWithNoHostIsDropped(t *testing.T) {
	h, store := newTestHub()
	code := store.Create("")

	remote := newTestClient(h)
	h.handleMessage(remote, frame(t, MsgTypeJoinRoom, RoomPayload{SessionCode: code}))
	drain(t, remote)

	h.handleMessage(remote, frame(t, MsgTypePlayerControl, PlayerControlPayload{
		SessionCode: code,
		Action:      "next_song",
	}))

	assert.Empty(t, drain(t, remote))
}

func TestPlayerStateUpdateExcludesSender(t *testing.T) {
	h, store := newTestHub()
	code := store.Create("")

	host := newTestClient(h)
	h.handleMessage(host, frame(t, MsgTypeRegisterHost, RoomPayload{SessionCode: code}))

	remoteA := newTestClient(h)
	remoteB := newTestClient(h)
	for _, c := range []*Client{remoteA, remoteB} {
		h.handleMessage(c, frame(t, MsgTypeJoinRoom, RoomPayload{SessionCode: code}))
	}
	drain(t, host)

	h.handleMessage(host, frame(t, MsgTypePlayerStateUpdated, PlayerStatePayload{
		SessionCode: code,
		IsPlaying:   true,
	}))

	for _, c := range []*Client{remoteA, remoteB} {
		msgs := drain(t, c)
		require.Equal(t, 1, countType(msgs, MsgTypePlayerStateUpdated))
	}
	assert.Empty(t, drain(t, host), "the reporting host must not hear its own update")
}

func TestRequestStartForwardedUntilStarted(t *testing.T) {
	h, store := newTestHub()
	code := store.Create("")

	host := newTestClient(h)
	h.handleMessage(host, frame(t, MsgTypeRegisterHost, RoomPayload{SessionCode: code}))

	remote := newTestClient(h)
	h.handleMessage(remote, frame(t, MsgTypeJoinRoom, RoomPayload{SessionCode: code}))
	drain(t, host)

	h.handleMessage(remote, frame(t, MsgTypeRequestStart, RequestStartPayload{
		SessionCode: code,
		User:        ControlUser{ID: "u1"},
	}))
	require.Equal(t, 1, countType(drain(t, host), MsgTypeRequestStart))

	h.handleMessage(host, frame(t, MsgTypeHostStarted, RoomPayload{SessionCode: code}))
	h.handleMessage(remote, frame(t, MsgTypeRequestStart, RequestStartPayload{
		SessionCode: code,
		User:        ControlUser{ID: "u1"},
	}))
	assert.Empty(t, drain(t, host), "start prompts are suppressed once the session started")
}

func TestGetSessionInfoAnswersRequesterOnly(t *testing.T) {
	h, store := newTestHub()
	code := store.Create("")
	_, err := store.Join(code, session.Participant{ID: "u1", Name: "Ana"}, "")
	require.NoError(t, err)

	asker := newTestClient(h)
	other := newTestClient(h)
	for _, c := range []*Client{asker, other} {
		h.handleMessage(c, frame(t, MsgTypeJoinRoom, RoomPayload{SessionCode: code}))
	}

	h.handleMessage(asker, frame(t, MsgTypeGetSessionInfo, RoomPayload{SessionCode: code}))

	msgs := drain(t, asker)
	assert.Equal(t, []string{MsgTypeSessionUpdated, MsgTypeQueueUpdated}, frameTypes(msgs))
	assert.Empty(t, drain(t, other))
}

func TestUpdateLeaderboardReplacesAndBroadcasts(t *testing.T) {
	h, store := newTestHub()
	code := store.Create("")

	host := newTestClient(h)
	h.handleMessage(host, frame(t, MsgTypeRegisterHost, RoomPayload{SessionCode: code}))

	remote := newTestClient(h)
	h.handleMessage(remote, frame(t, MsgTypeJoinRoom, RoomPayload{SessionCode: code}))
	drain(t, remote)

	h.handleMessage(host, frame(t, MsgTypeUpdateLeaderboard, UpdateLeaderboardPayload{
		SessionCode: code,
		Leaderboard: []session.LeaderboardEntry{{ID: "u1", Name: "Ana", Score: 9500}},
	}))

	msgs := drain(t, remote)
	require.Equal(t, []string{MsgTypeSessionUpdated}, frameTypes(msgs))

	var snap session.Snapshot
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &snap))
	require.Len(t, snap.Leaderboard, 1)
	assert.Equal(t, 9500, snap.Leaderboard[0].Score)

	// Replace, never merge.
	h.handleMessage(host, frame(t, MsgTypeUpdateLeaderboard, UpdateLeaderboardPayload{
		SessionCode: code,
		Leaderboard: []session.LeaderboardEntry{{ID: "u2", Name: "Ben", Score: 100}},
	}))
	stored, err := store.Snapshot(code)
	require.NoError(t, err)
	require.Len(t, stored.Leaderboard, 1)
	assert.Equal(t, "u2", stored.Leaderboard[0].ID)
}

func TestUpdateLeaderboardFromNonHostIsDropped(t *testing.T) {
	h, store := newTestHub()
	code := store.Create("")

	host := newTestClient(h)
	h.handleMessage(host, frame(t, MsgTypeRegisterHost, RoomPayload{SessionCode: code}))

	remote := newTestClient(h)
	h.handleMessage(remote, frame(t, MsgTypeJoinRoom, RoomPayload{SessionCode: code}))
	drain(t, host)
	drain(t, remote)

	h.handleMessage(remote, frame(t, MsgTypeUpdateLeaderboard, UpdateLeaderboardPayload{
		SessionCode: code,
		Leaderboard: []session.LeaderboardEntry{{ID: "u1", Score: 1}},
	}))

	assert.Empty(t, drain(t, host))
	snap, err := store.Snapshot(code)
	require.NoError(t, err)
	assert.Empty(t, snap.Leaderboard, "only the host may write scores")
}

func TestMalformedFramesAreIgnored(t *testing.T) {
	h, store := newTestHub()
	code := store.Create("")

	remote := newTestClient(h)
	h.handleMessage(remote, frame(t, MsgTypeJoinRoom, RoomPayload{SessionCode: code}))
	drain(t, remote)

	h.handleMessage(remote, []byte("{not json"))
	h.handleMessage(remote, []byte(`{"payload": {}}`))
	h.handleMessage(remote, []byte(`{"type": "no_such_event"}`))
	h.handleMessage(remote, frame(t, MsgTypeAddSong, map[string]any{"song": 42}))

	assert.Empty(t, drain(t, remote))
	exists, _ := store.Validate(code)
	assert.True(t, exists, "malformed events never take the session down")
}

func TestPingPong(t *testing.T) {
	h, _ := newTestHub()
	c := newTestClient(h)

	h.handleMessage(c, frame(t, MsgTypePing, nil))
	assert.Equal(t, []string{MsgTypePong}, frameTypes(drain(t, c)))
}

package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sharedkingdom/protocol"
)

func TestRoom_JoinEmptyRoom(t *testing.T) {
	r, _ := newTestRoom(t, RoomOptions{})
	a := &fakeConn{}

	res := r.handleJoin("a", a, "Alice")
	require.True(t, res.Accepted(), res.String())

	// 空房间：没有 snapshot，也没有 chat-history
	assert.Equal(t, []protocol.Kind{protocol.KindSpawn, protocol.KindChat}, a.kinds())

	spawn := decode[protocol.SpawnMessage](t, a.ofKind(protocol.KindSpawn)[0])
	assert.Equal(t, "a", spawn.ID)
	assert.Equal(t, "Alice", spawn.Name)
	assert.GreaterOrEqual(t, spawn.Position.X, -spawnRadius/2)
	assert.LessOrEqual(t, spawn.Position.X, spawnRadius/2)
	assert.Equal(t, spawnHeight, spawn.Position.Y)
	assert.GreaterOrEqual(t, spawn.Position.Z, 2.0)
	assert.LessOrEqual(t, spawn.Position.Z, 2+spawnRadius)

	chat := decode[protocol.ChatMessage](t, a.ofKind(protocol.KindChat)[0])
	assert.True(t, chat.System)
	assert.Nil(t, chat.ID)
	assert.Equal(t, "Alice entered the world.", chat.Text)

	st, ok := r.store.Player("a")
	require.True(t, ok)
	assert.Equal(t, spawn.Position, st.Position)
}

func TestRoom_JoinSecondPlayer(t *testing.T) {
	r, _ := newTestRoom(t, RoomOptions{})
	a, b := &fakeConn{}, &fakeConn{}
	require.True(t, r.handleJoin("a", a, "Alice").Accepted())
	alice, _ := r.store.Player("a")
	a.reset()

	require.True(t, r.handleJoin("b", b, "Bob").Accepted())

	assert.Equal(t, []protocol.Kind{
		protocol.KindSnapshot,
		protocol.KindSpawn,
		protocol.KindChatHistory,
		protocol.KindChat,
	}, b.kinds())

	snap := decode[protocol.SnapshotMessage](t, b.ofKind(protocol.KindSnapshot)[0])
	require.Len(t, snap.Players, 1)
	assert.Equal(t, protocol.PlayerSnapshot{ID: "a", Name: "Alice", Position: alice.Position}, snap.Players[0])

	own := decode[protocol.SpawnMessage](t, b.ofKind(protocol.KindSpawn)[0])
	assert.Equal(t, "b", own.ID)
	assert.Equal(t, "Bob", own.Name)

	history := decode[protocol.ChatHistoryMessage](t, b.ofKind(protocol.KindChatHistory)[0])
	require.Len(t, history.History, 1)
	assert.Equal(t, "Alice entered the world.", history.History[0].Text)

	// 第一位玩家收到新玩家的 spawn 与系统消息
	assert.Equal(t, []protocol.Kind{protocol.KindSpawn, protocol.KindChat}, a.kinds())
	other := decode[protocol.SpawnMessage](t, a.ofKind(protocol.KindSpawn)[0])
	assert.Equal(t, own, other)

	for _, c := range []*fakeConn{a, b} {
		msg := decode[protocol.ChatMessage](t, c.ofKind(protocol.KindChat)[0])
		assert.True(t, msg.System)
		assert.Equal(t, "Bob entered the world.", msg.Text)
	}
}

func TestRoom_JoinFallbackNames(t *testing.T) {
	r, _ := newTestRoom(t, RoomOptions{})

	tests := []struct {
		id        string
		requested string
		want      string
	}{
		{id: "p1", requested: "!!", want: "Wanderer 1"},
		{id: "p2", requested: "", want: "Wanderer 2"},
		{id: "p3", requested: "  Zed the Bold  ", want: "Zed the Bold"},
		{id: "p4", requested: "Al", want: "Wanderer 3"},
		{id: "p5", requested: "Zed the Bold", want: "Zed the Bold"},
	}
	for _, tt := range tests {
		require.True(t, r.handleJoin(tt.id, &fakeConn{}, tt.requested).Accepted())
		st, ok := r.store.Player(tt.id)
		require.True(t, ok)
		assert.Equal(t, tt.want, st.Name, tt.id)
	}
}

func TestRoom_JoinRoomFull(t *testing.T) {
	r, _ := newTestRoom(t, RoomOptions{MaxClients: 1})
	a, b := &fakeConn{}, &fakeConn{}
	require.True(t, r.handleJoin("a", a, "Alice").Accepted())
	a.reset()

	res := r.handleJoin("b", b, "Bob")
	assert.Equal(t, DropRoomFull, res.Reason)
	assert.Empty(t, b.kinds())
	assert.Empty(t, a.kinds())
	assert.Equal(t, 1, r.store.PlayerCount())
}

// joinAndSettle 加入并推进时钟，使之后的上报不受限流影响
func joinAndSettle(t *testing.T, r *Room, clk *fakeClock, id, name string) *fakeConn {
	t.Helper()
	c := &fakeConn{}
	require.True(t, r.handleJoin(id, c, name).Accepted())
	clk.Advance(100 * time.Millisecond)
	return c
}

func TestRoom_PositionBroadcastExcludesSender(t *testing.T) {
	r, clk := newTestRoom(t, RoomOptions{})
	a := joinAndSettle(t, r, clk, "a", "Alice")
	b := joinAndSettle(t, r, clk, "b", "Bob")
	a.reset()
	b.reset()

	st, _ := r.store.Player("a")
	target := st.Position
	target.X += 0.5

	res := r.handlePosition("a", posPayload(target))
	require.True(t, res.Accepted(), res.String())

	assert.Empty(t, a.kinds())
	require.Len(t, b.ofKind(protocol.KindPosition), 1)
	msg := decode[protocol.PositionMessage](t, b.ofKind(protocol.KindPosition)[0])
	assert.Equal(t, "a", msg.ID)
	assert.Equal(t, target, msg.Position)

	st, _ = r.store.Player("a")
	assert.Equal(t, target, st.Position)
	assert.Equal(t, clk.Now().UnixMilli(), st.LastUpdateMs)
}

func TestRoom_PositionFlood(t *testing.T) {
	r, clk := newTestRoom(t, RoomOptions{})
	joinAndSettle(t, r, clk, "a", "Alice")
	b := joinAndSettle(t, r, clk, "b", "Bob")
	b.reset()

	st, _ := r.store.Player("a")
	first := st.Position
	first.X += 0.1
	require.True(t, r.handlePosition("a", posPayload(first)).Accepted())

	clk.Advance(10 * time.Millisecond)
	second := first
	second.X += 0.01
	res := r.handlePosition("a", posPayload(second))
	assert.Equal(t, DropFlood, res.Reason)

	st, _ = r.store.Player("a")
	assert.Equal(t, first, st.Position)
	assert.Len(t, b.ofKind(protocol.KindPosition), 1)
}

func TestRoom_PositionTooSoonAfterJoin(t *testing.T) {
	r, clk := newTestRoom(t, RoomOptions{})
	require.True(t, r.handleJoin("a", &fakeConn{}, "Alice").Accepted())
	clk.Advance(39 * time.Millisecond)

	res := r.handlePosition("a", posPayload(protocol.Position{X: 0, Y: 1, Z: 3}))
	assert.Equal(t, DropFlood, res.Reason)
}

func TestRoom_PositionSpeedCheck(t *testing.T) {
	r, clk := newTestRoom(t, RoomOptions{})
	joinAndSettle(t, r, clk, "a", "Alice")

	st, _ := r.store.Player("a")
	base := st.Position
	require.True(t, r.handlePosition("a", posPayload(base)).Accepted())

	// 50ms 内移动 100 单位（裁剪后仍远超上限）
	clk.Advance(50 * time.Millisecond)
	far := base
	far.X += 100
	res := r.handlePosition("a", posPayload(far))
	assert.Equal(t, DropSpeed, res.Reason)
	st, _ = r.store.Player("a")
	assert.Equal(t, base, st.Position)

	// 50ms 内移动 0.1 单位：速度 2
	r2, clk2 := newTestRoom(t, RoomOptions{})
	joinAndSettle(t, r2, clk2, "a", "Alice")
	st2, _ := r2.store.Player("a")
	require.True(t, r2.handlePosition("a", posPayload(st2.Position)).Accepted())
	clk2.Advance(50 * time.Millisecond)
	next := st2.Position
	next.Z += 0.1
	res = r2.handlePosition("a", posPayload(next))
	require.True(t, res.Accepted(), res.String())
}

func TestRoom_FirstPositionSkipsSpeedCheck(t *testing.T) {
	r, clk := newTestRoom(t, RoomOptions{})
	require.True(t, r.handleJoin("a", &fakeConn{}, "Alice").Accepted())
	clk.Advance(protocol.MinIntervalMs * time.Millisecond)

	corner := protocol.Position{X: -30, Y: 5, Z: -30}
	require.True(t, r.handlePosition("a", posPayload(corner)).Accepted())

	clk.Advance(protocol.MinIntervalMs * time.Millisecond)
	res := r.handlePosition("a", posPayload(protocol.Position{X: 30, Y: 0, Z: 30}))
	assert.Equal(t, DropSpeed, res.Reason)
}

func TestRoom_PositionIsClamped(t *testing.T) {
	r, clk := newTestRoom(t, RoomOptions{})
	joinAndSettle(t, r, clk, "a", "Alice")
	b := joinAndSettle(t, r, clk, "b", "Bob")
	b.reset()

	require.True(t, r.handlePosition("a", posPayload(protocol.Position{X: 500, Y: -3, Z: 2})).Accepted())

	st, _ := r.store.Player("a")
	assert.Equal(t, protocol.Position{X: 30, Y: 0, Z: 2}, st.Position)
	msg := decode[protocol.PositionMessage](t, b.ofKind(protocol.KindPosition)[0])
	assert.Equal(t, st.Position, msg.Position)
}

func TestRoom_PositionRejections(t *testing.T) {
	r, clk := newTestRoom(t, RoomOptions{})
	joinAndSettle(t, r, clk, "a", "Alice")
	b := joinAndSettle(t, r, clk, "b", "Bob")
	b.reset()

	tests := []struct {
		name   string
		id     string
		raw    string
		reason DropReason
	}{
		{name: "unknown player", id: "ghost", raw: `{"x":0,"y":0,"z":0}`, reason: DropUnknownPlayer},
		{name: "missing field", id: "a", raw: `{"x":0,"y":0}`, reason: DropMalformed},
		{name: "string field", id: "a", raw: `{"x":"0","y":0,"z":0}`, reason: DropMalformed},
		{name: "not an object", id: "a", raw: `[0,0,0]`, reason: DropMalformed},
		{name: "overflow", id: "a", raw: `{"x":1e999,"y":0,"z":0}`, reason: DropMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.handlePosition(tt.id, json.RawMessage(tt.raw))
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
	assert.Empty(t, b.kinds())
}

func TestRoom_Chat(t *testing.T) {
	r, clk := newTestRoom(t, RoomOptions{})
	a := joinAndSettle(t, r, clk, "a", "Alice")
	b := joinAndSettle(t, r, clk, "b", "Bob")
	a.reset()
	b.reset()

	res := r.handleChat("a", chatPayload("  hello   world "))
	require.True(t, res.Accepted(), res.String())

	for _, c := range []*fakeConn{a, b} {
		require.Len(t, c.ofKind(protocol.KindChat), 1)
		msg := decode[protocol.ChatMessage](t, c.ofKind(protocol.KindChat)[0])
		require.NotNil(t, msg.ID)
		assert.Equal(t, "a", *msg.ID)
		assert.Equal(t, "Alice", msg.Name)
		assert.Equal(t, "hello world", msg.Text)
		assert.Equal(t, clk.Now().UnixMilli(), msg.Timestamp)
		assert.False(t, msg.System)
	}

	history := r.store.History()
	assert.Equal(t, "hello world", history[len(history)-1].Text)
}

func TestRoom_ChatRejections(t *testing.T) {
	r, clk := newTestRoom(t, RoomOptions{})
	a := joinAndSettle(t, r, clk, "a", "Alice")
	a.reset()
	before := len(r.store.History())

	assert.Equal(t, DropEmptyText, r.handleChat("a", chatPayload("   \t ")).Reason)
	assert.Equal(t, DropMalformed, r.handleChat("a", json.RawMessage(`{"text":5}`)).Reason)
	assert.Equal(t, DropMalformed, r.handleChat("a", json.RawMessage(`"hi"`)).Reason)
	assert.Equal(t, DropUnknownPlayer, r.handleChat("ghost", chatPayload("hi")).Reason)

	assert.Empty(t, a.kinds())
	assert.Len(t, r.store.History(), before)
}

func TestRoom_HistoryDeliveredOnJoin(t *testing.T) {
	r, clk := newTestRoom(t, RoomOptions{})
	joinAndSettle(t, r, clk, "a", "Alice")
	for i := 0; i < 60; i++ {
		require.True(t, r.handleChat("a", chatPayload("spam")).Accepted())
	}

	b := &fakeConn{}
	require.True(t, r.handleJoin("b", b, "Bob").Accepted())
	history := decode[protocol.ChatHistoryMessage](t, b.ofKind(protocol.KindChatHistory)[0])
	assert.Len(t, history.History, protocol.HistoryLimit)
}

func TestRoom_Leave(t *testing.T) {
	r, clk := newTestRoom(t, RoomOptions{})
	a := joinAndSettle(t, r, clk, "a", "Alice")
	b := joinAndSettle(t, r, clk, "b", "Bob")
	c := joinAndSettle(t, r, clk, "c", "Cleo")
	b.reset()
	c.reset()

	res := r.handleLeave("a")
	require.True(t, res.Accepted(), res.String())
	assert.True(t, a.isClosed())

	_, ok := r.store.Player("a")
	assert.False(t, ok)

	for _, conn := range []*fakeConn{b, c} {
		despawns := conn.ofKind(protocol.KindDespawn)
		require.Len(t, despawns, 1)
		assert.Equal(t, "a", decode[protocol.DespawnMessage](t, despawns[0]).ID)

		chats := conn.ofKind(protocol.KindChat)
		require.Len(t, chats, 1)
		assert.Equal(t, "Alice left the world.", decode[protocol.ChatMessage](t, chats[0]).Text)
	}

	// 离开后迟到的消息静默丢弃
	clk.Advance(time.Second)
	assert.Equal(t, DropUnknownPlayer, r.handlePosition("a", posPayload(protocol.Position{})).Reason)
	assert.Equal(t, DropUnknownPlayer, r.handleChat("a", chatPayload("still here?")).Reason)
	assert.Len(t, b.ofKind(protocol.KindDespawn), 1)
}

func TestRoom_LeaveWithoutJoin(t *testing.T) {
	r, clk := newTestRoom(t, RoomOptions{})
	b := joinAndSettle(t, r, clk, "b", "Bob")
	b.reset()
	before := len(r.store.History())

	res := r.handleLeave("ghost")
	assert.Equal(t, DropUnknownPlayer, res.Reason)

	// despawn 仍然无条件广播，但不产生系统消息
	assert.Equal(t, []protocol.Kind{protocol.KindDespawn}, b.kinds())
	assert.Len(t, r.store.History(), before)
}

package server

import (
	"encoding/json"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sharedkingdom/protocol"
)

// fakeConn 记录房间投递的每一帧
type fakeConn struct {
	mu     sync.Mutex
	frames []protocol.Envelope
	closed bool
}

func (c *fakeConn) Enqueue(b []byte) {
	env, ok := protocol.DecodeEnvelope(b)
	if !ok {
		panic("room produced an undecodable frame: " + string(b))
	}
	c.mu.Lock()
	c.frames = append(c.frames, env)
	c.mu.Unlock()
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) kinds() []protocol.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Kind, 0, len(c.frames))
	for _, f := range c.frames {
		out = append(out, f.Type)
	}
	return out
}

func (c *fakeConn) ofKind(k protocol.Kind) []protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Envelope
	for _, f := range c.frames {
		if f.Type == k {
			out = append(out, f)
		}
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

func decode[T any](t *testing.T, env protocol.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Payload, &v))
	return v
}

// fakeClock 可手动推进的时钟；房间协程与测试协程会并发读写
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRoom(t *testing.T, opts RoomOptions) (*Room, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	opts.Clock = clk.Now
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(1))
	}
	return NewRoom("test-"+t.Name(), opts), clk
}

func posPayload(p protocol.Position) json.RawMessage {
	b, _ := json.Marshal(p)
	return b
}

func chatPayload(text string) json.RawMessage {
	b, _ := json.Marshal(protocol.ChatPayload{Text: text})
	return b
}

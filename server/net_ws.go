package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TransportOptions WebSocket 连接参数
type TransportOptions struct {
	SendBuffer   int           // 每个连接的发送队列长度
	ReadLimit    int64         // 单帧最大字节数；超出时连接被断开
	PongWait     time.Duration // 读超时；收到 pong 时续期
	WriteWait    time.Duration
	InboundRate  float64 // 每秒允许的入站帧数，超出直接丢弃
	InboundBurst int
}

// DefaultTransportOptions 默认参数
func DefaultTransportOptions() TransportOptions {
	return TransportOptions{
		SendBuffer:   64,
		ReadLimit:    1 << 20,
		PongWait:     60 * time.Second,
		WriteWait:    5 * time.Second,
		InboundRate:  60,
		InboundBurst: 30,
	}
}

// ClientConn 负责发送（写）数据到客户端的轻量包装
type ClientConn struct {
	ws   *websocket.Conn
	opts TransportOptions

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func NewClientConn(ws *websocket.Conn, opts TransportOptions) *ClientConn {
	return &ClientConn{
		ws:   ws,
		opts: opts,
		send: make(chan []byte, opts.SendBuffer),
	}
}

// Enqueue 将要发送的消息压入队列（非阻塞，满则丢弃）
func (c *ClientConn) Enqueue(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- b:
	default:
		// 为了实时性，丢弃（防止阻塞房间协程）
		wsOutboundDiscarded.Inc()
	}
}

// Close 关闭发送队列，写协程会把剩余消息写完后关闭底层连接
func (c *ClientConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// writePump 独立协程，负责从 send 队列写出到 WS，并定期发送 ping
func (c *ClientConn) writePump() {
	ping := time.NewTicker(c.opts.PongWait * 9 / 10)
	defer func() {
		ping.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 读取客户端消息并投递给房间；退出即触发离开
func (c *ClientConn) readPump(room *Room, id string) {
	defer c.ws.Close()
	// 读泵退出时，通知房间在房间协程中移除该玩家
	defer room.Leave(id)

	limiter := rate.NewLimiter(rate.Limit(c.opts.InboundRate), c.opts.InboundBurst)
	c.ws.SetReadLimit(c.opts.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		kind, payload, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		if !limiter.Allow() {
			wsFramesLimited.Inc()
			continue
		}
		room.Deliver(id, payload)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 同源限制交给 CORS 与部署层，这里允许所有来源
		return true
	},
}

// WSHandler WebSocket 接入：/ws?room=room-1&name=alice
type WSHandler struct {
	Rooms       *RoomManager
	DefaultRoom string
	Transport   TransportOptions
	Log         *zap.SugaredLogger
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		roomID = h.DefaultRoom
	}
	name := r.URL.Query().Get("name")

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Warnw("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	// 连接标识由服务端签发，连接生命周期内唯一，断开后不复用
	id := uuid.NewString()
	client := NewClientConn(ws, h.Transport)
	room, err := h.join(r.Context(), roomID, id, client, name)
	if err != nil {
		code := websocket.CloseGoingAway
		if errors.Is(err, ErrRoomFull) {
			code = websocket.CloseTryAgainLater
		}
		h.Log.Infow("join refused", "room", roomID, "remote", r.RemoteAddr, "error", err)
		h.reject(ws, code, err)
		return
	}

	wsConnectionsActive.Inc()
	go client.writePump()
	go func() {
		defer wsConnectionsActive.Dec()
		client.readPump(room, id)
	}()
}

// join 加入房间；房间恰好在此期间被回收时重新获取
func (h *WSHandler) join(ctx context.Context, roomID, id string, client *ClientConn, name string) (*Room, error) {
	for attempt := 0; ; attempt++ {
		room, err := h.Rooms.GetOrCreateRoom(roomID)
		if err != nil {
			return nil, err
		}
		err = room.Join(ctx, id, client, name)
		switch {
		case err == nil:
			return room, nil
		case errors.Is(err, ErrRoomClosed) && attempt < 2:
			continue
		case errors.Is(err, ErrRoomFull), errors.Is(err, ErrRoomClosed):
			return nil, err
		default:
			// 未进入房间；空 Leave 让新建的空房间也能被回收
			room.Leave(id)
			return nil, err
		}
	}
}

func (h *WSHandler) reject(ws *websocket.Conn, code int, err error) {
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, err.Error()), time.Now().Add(h.Transport.WriteWait))
	_ = ws.Close()
}

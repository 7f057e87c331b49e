package server

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus 指标：标签只用房间 id 与有限枚举，避免按玩家打标签。
// 临时房间回收时删除对应的 room 序列（见 unregister）
var (
	eventsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kingdom_room_events_accepted_total",
		Help: "Room events committed, by kind",
	}, []string{"room", "kind"})

	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kingdom_room_events_dropped_total",
		Help: "Room events silently dropped, by reason",
	}, []string{"room", "reason"})

	playersActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kingdom_room_players_active",
		Help: "Currently active players per room",
	}, []string{"room"})

	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kingdom_websocket_connections_active",
		Help: "Currently open WebSocket connections",
	})

	wsFramesLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kingdom_websocket_frames_rate_limited_total",
		Help: "Inbound frames discarded by the per-connection limiter",
	})

	wsOutboundDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kingdom_websocket_outbound_discarded_total",
		Help: "Outbound frames discarded because the send queue was full",
	})
)

// RoomMetrics 房间运行期计数（用于 /admin 输出），同时同步到 Prometheus
type RoomMetrics struct {
	room string

	Joins         int64
	Leaves        int64
	PositionsOK   int64
	ChatsOK       int64
	UnknownPlayer int64
	Malformed     int64
	Flood         int64
	Speed         int64
	EmptyText     int64
	InboxFull     int64
	RoomFull      int64
}

func newRoomMetrics(room string) *RoomMetrics {
	return &RoomMetrics{room: room}
}

// Record 按事件类型与处理结果计数
func (m *RoomMetrics) Record(kind string, res Result) {
	if res.Accepted() {
		eventsAccepted.WithLabelValues(m.room, kind).Inc()
		switch kind {
		case "join":
			atomic.AddInt64(&m.Joins, 1)
		case "leave":
			atomic.AddInt64(&m.Leaves, 1)
		case "pos":
			atomic.AddInt64(&m.PositionsOK, 1)
		case "chat":
			atomic.AddInt64(&m.ChatsOK, 1)
		}
		return
	}
	eventsDropped.WithLabelValues(m.room, string(res.Reason)).Inc()
	switch res.Reason {
	case DropUnknownPlayer:
		atomic.AddInt64(&m.UnknownPlayer, 1)
	case DropMalformed:
		atomic.AddInt64(&m.Malformed, 1)
	case DropFlood:
		atomic.AddInt64(&m.Flood, 1)
	case DropSpeed:
		atomic.AddInt64(&m.Speed, 1)
	case DropEmptyText:
		atomic.AddInt64(&m.EmptyText, 1)
	case DropInboxFull:
		atomic.AddInt64(&m.InboxFull, 1)
	case DropRoomFull:
		atomic.AddInt64(&m.RoomFull, 1)
	}
}

func (m *RoomMetrics) setPlayers(n int) {
	playersActive.WithLabelValues(m.room).Set(float64(n))
}

// unregister 删除该房间的全部 Prometheus 序列，房间回收时调用
func (m *RoomMetrics) unregister() {
	labels := prometheus.Labels{"room": m.room}
	eventsAccepted.DeletePartialMatch(labels)
	eventsDropped.DeletePartialMatch(labels)
	playersActive.DeleteLabelValues(m.room)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *RoomMetrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"joins":          atomic.LoadInt64(&m.Joins),
		"leaves":         atomic.LoadInt64(&m.Leaves),
		"positions_ok":   atomic.LoadInt64(&m.PositionsOK),
		"chats_ok":       atomic.LoadInt64(&m.ChatsOK),
		"unknown_player": atomic.LoadInt64(&m.UnknownPlayer),
		"malformed":      atomic.LoadInt64(&m.Malformed),
		"flood":          atomic.LoadInt64(&m.Flood),
		"speed":          atomic.LoadInt64(&m.Speed),
		"empty_text":     atomic.LoadInt64(&m.EmptyText),
		"inbox_full":     atomic.LoadInt64(&m.InboxFull),
		"room_full":      atomic.LoadInt64(&m.RoomFull),
	}
}

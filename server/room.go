package server

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"sharedkingdom/protocol"
)

const (
	// 出生点：X ∈ [-R/2, R/2]，Z ∈ [2, 2+R]，保证出现在默认朝前的相机视野内
	spawnRadius = 4.0
	spawnHeight = 0.5

	systemName = "System"
)

// Conn 房间向客户端投递数据的最小接口（ClientConn 实现）
type Conn interface {
	// Enqueue 非阻塞入队，队列满时丢弃
	Enqueue(b []byte)
	Close()
}

// RoomOptions 房间可选参数；零值即可用
type RoomOptions struct {
	MaxClients   int // <= 0 表示不限
	InboxSize    int
	HistoryLimit int
	Logger       *zap.SugaredLogger
	Clock        func() time.Time
	Rand         *rand.Rand
	// OnEmpty 最后一名玩家离开后在房间协程中调用；返回 true 时房间停止
	OnEmpty func(*Room) bool
}

// Room 房间世界：权威状态维护在内存，由单个协程串行处理所有事件
type Room struct {
	ID string

	store   *Store
	conns   map[string]Conn
	events  chan event
	done    chan struct{}
	metrics *RoomMetrics

	maxClients int
	nameSeq    int

	now     func() time.Time
	rng     *rand.Rand
	log     *zap.SugaredLogger
	onEmpty func(*Room) bool
}

// NewRoom 创建房间，初始化数据结构；需要调用 Run 才开始处理事件
func NewRoom(id string, opts RoomOptions) *Room {
	if opts.InboxSize <= 0 {
		opts.InboxSize = 256
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Room{
		ID:         id,
		store:      NewStore(opts.HistoryLimit),
		conns:      make(map[string]Conn),
		events:     make(chan event, opts.InboxSize),
		done:       make(chan struct{}),
		metrics:    newRoomMetrics(id),
		maxClients: opts.MaxClients,
		now:        opts.Clock,
		rng:        opts.Rand,
		log:        opts.Logger.With("room", id),
		onEmpty:    opts.OnEmpty,
	}
}

// Metrics 返回房间计数器
func (r *Room) Metrics() *RoomMetrics { return r.metrics }

func (r *Room) nowMs() int64 { return r.now().UnixMilli() }

// handleJoin absent → active
func (r *Room) handleJoin(id string, conn Conn, requestedName string) Result {
	if r.maxClients > 0 && len(r.conns) >= r.maxClients {
		return dropped(DropRoomFull)
	}

	// 空串不可能通过清洗，用它标记"需要生成回退名"
	name := protocol.SanitizeDisplayName(requestedName, "")
	if name == "" {
		r.nameSeq++
		name = fmt.Sprintf("%s %d", protocol.DefaultPlayerName, r.nameSeq)
	}

	if r.store.PlayerCount() > 0 {
		players := r.store.AllPlayers()
		snap := protocol.SnapshotMessage{Players: make([]protocol.PlayerSnapshot, 0, len(players))}
		for _, p := range players {
			snap.Players = append(snap.Players, p.snapshot())
		}
		r.sendTo(conn, protocol.KindSnapshot, snap)
	}

	pos := r.spawnPosition()
	r.store.UpsertPlayer(id, PlayerState{Position: pos, LastUpdateMs: r.nowMs(), Name: name})
	r.conns[id] = conn

	spawn := protocol.SpawnMessage{ID: id, Name: name, Position: pos}
	r.broadcast(protocol.KindSpawn, spawn, except(id))
	r.sendTo(conn, protocol.KindSpawn, spawn)

	if history := r.store.History(); len(history) > 0 {
		r.sendTo(conn, protocol.KindChatHistory, protocol.ChatHistoryMessage{History: history})
	}

	r.systemChat(name + " entered the world.")
	r.log.Infow("player joined", "player", id, "name", name, "players", r.store.PlayerCount())
	return accepted
}

func (r *Room) spawnPosition() protocol.Position {
	return protocol.ClampPosition(protocol.Position{
		X: (r.rng.Float64()*2 - 1) * (spawnRadius / 2),
		Y: spawnHeight,
		Z: 2 + r.rng.Float64()*spawnRadius,
	})
}

// handlePosition 校验 → 限流 → 裁剪 → 速度检查 → 提交并广播给其他人
func (r *Room) handlePosition(id string, raw json.RawMessage) Result {
	st, ok := r.store.Player(id)
	if !ok {
		return dropped(DropUnknownPlayer)
	}
	candidate, ok := protocol.DecodePosition(raw)
	if !ok {
		return dropped(DropMalformed)
	}

	now := r.nowMs()
	elapsed := now - st.LastUpdateMs
	if elapsed < protocol.MinIntervalMs {
		return dropped(DropFlood)
	}

	next := protocol.ClampPosition(candidate)
	// 加入后的第一次上报没有可比较的基准，直接接受
	if st.moved && elapsed > 0 {
		speed := protocol.Distance(st.Position, next) / (float64(elapsed) / 1000)
		if speed > protocol.MaxSpeed {
			return dropped(DropSpeed)
		}
	}

	st.Position = next
	st.LastUpdateMs = now
	st.moved = true
	r.store.UpsertPlayer(id, st)

	r.broadcast(protocol.KindPosition, protocol.PositionMessage{ID: id, Position: next}, except(id))
	return accepted
}

// handleChat 广播给所有人（包括发送者，用于确认时间戳与顺序）
func (r *Room) handleChat(id string, raw json.RawMessage) Result {
	st, ok := r.store.Player(id)
	if !ok {
		return dropped(DropUnknownPlayer)
	}
	payload, ok := protocol.DecodeChat(raw)
	if !ok {
		return dropped(DropMalformed)
	}
	text, ok := protocol.SanitizeChatText(payload.Text)
	if !ok {
		return dropped(DropEmptyText)
	}

	msg := protocol.NewChatMessage(id, st.Name, text, false, r.nowMs())
	r.store.AppendChatMessage(msg)
	r.broadcast(protocol.KindChat, msg, everyone)
	return accepted
}

// handleLeave active → absent。即使没有完成加入也可安全调用：
// despawn 无条件广播，保证客户端收敛。
func (r *Room) handleLeave(id string) Result {
	st, existed := r.store.RemovePlayer(id)
	if conn, ok := r.conns[id]; ok {
		delete(r.conns, id)
		conn.Close()
	}

	r.broadcast(protocol.KindDespawn, protocol.DespawnMessage{ID: id}, everyone)

	if !existed {
		return dropped(DropUnknownPlayer)
	}
	r.systemChat(st.Name + " left the world.")
	r.log.Infow("player left", "player", id, "name", st.Name, "players", r.store.PlayerCount())
	return accepted
}

// systemChat 记录并广播系统消息
func (r *Room) systemChat(text string) {
	msg := protocol.NewChatMessage("", systemName, text, true, r.nowMs())
	r.store.AppendChatMessage(msg)
	r.broadcast(protocol.KindChat, msg, everyone)
}

// recipient 广播时对当前活跃连接集合的过滤条件
type recipient func(id string) bool

func everyone(string) bool { return true }

func except(sender string) recipient {
	return func(id string) bool { return id != sender }
}

// broadcast 编码一次，投递给满足条件的连接
func (r *Room) broadcast(kind protocol.Kind, payload any, to recipient) {
	b, err := protocol.Encode(kind, payload)
	if err != nil {
		r.log.Errorw("encode failed", "kind", kind, "error", err)
		return
	}
	for id, c := range r.conns {
		if to(id) {
			c.Enqueue(b)
		}
	}
}

func (r *Room) sendTo(c Conn, kind protocol.Kind, payload any) {
	b, err := protocol.Encode(kind, payload)
	if err != nil {
		r.log.Errorw("encode failed", "kind", kind, "error", err)
		return
	}
	c.Enqueue(b)
}

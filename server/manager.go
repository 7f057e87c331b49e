package server

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// RoomManager 管理多个房间的生命周期；房间之间互不共享状态
type RoomManager struct {
	mu     sync.RWMutex
	rooms  map[string]*Room
	keep   map[string]bool // 常驻房间，变空后不回收
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	opts RoomOptions
	log  *zap.SugaredLogger
}

// NewRoomManager 创建管理器；opts 作为每个新房间的模板
func NewRoomManager(ctx context.Context, opts RoomOptions) *RoomManager {
	ctx, cancel := context.WithCancel(ctx)
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &RoomManager{
		rooms:  make(map[string]*Room),
		keep:   make(map[string]bool),
		ctx:    ctx,
		cancel: cancel,
		opts:   opts,
		log:    opts.Logger,
	}
}

// GetOrCreateRoom 获取或创建房间，并确保房间协程已启动。
// 这样创建的房间在最后一名玩家离开后被回收。
func (m *RoomManager) GetOrCreateRoom(id string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreateLocked(id)
}

// KeepRoom 同 GetOrCreateRoom，但房间常驻，变空后也不回收
func (m *RoomManager) KeepRoom(id string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.getOrCreateLocked(id)
	if err != nil {
		return nil, err
	}
	m.keep[id] = true
	return r, nil
}

func (m *RoomManager) getOrCreateLocked(id string) (*Room, error) {
	if m.closed {
		return nil, ErrRoomClosed
	}
	r, ok := m.rooms[id]
	if !ok {
		opts := m.opts
		// rand.Rand 不是并发安全的，每个房间各自生成
		opts.Rand = nil
		opts.OnEmpty = m.release
		r = NewRoom(id, opts)
		m.rooms[id] = r
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			r.Run(m.ctx)
		}()
		m.log.Infow("room created", "room", id)
	}
	return r, nil
}

// release 由房间协程在变空时调用：非常驻房间从表中移除并删除其指标序列。
// 之后对旧 *Room 的 Join 返回 ErrRoomClosed，调用方重新 GetOrCreateRoom 即可。
func (m *RoomManager) release(r *Room) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.keep[r.ID] || m.rooms[r.ID] != r {
		return false
	}
	delete(m.rooms, r.ID)
	r.metrics.unregister()
	return true
}

// Len 当前房间数
func (m *RoomManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// Room 查找已有房间，不创建
func (m *RoomManager) Room(id string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	return r, ok
}

// Close 停止所有房间并等待其协程退出
func (m *RoomManager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()
	m.wg.Wait()
}

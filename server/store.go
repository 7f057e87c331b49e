package server

import (
	"sort"

	"sharedkingdom/protocol"
)

// Store 单个房间的内存状态：玩家表 + 有界聊天记录。
// 不含网络与校验逻辑；只在房间协程内访问，因此无需加锁。
type Store struct {
	players      map[string]PlayerState
	history      []protocol.ChatMessage
	historyLimit int
}

// NewStore 创建空状态，historyLimit <= 0 时使用协议默认值
func NewStore(historyLimit int) *Store {
	if historyLimit <= 0 {
		historyLimit = protocol.HistoryLimit
	}
	return &Store{
		players:      make(map[string]PlayerState),
		historyLimit: historyLimit,
	}
}

func (s *Store) UpsertPlayer(id string, st PlayerState) {
	s.players[id] = st
}

func (s *Store) Player(id string) (PlayerState, bool) {
	st, ok := s.players[id]
	return st, ok
}

// RemovePlayer 删除并返回删除前的状态
func (s *Store) RemovePlayer(id string) (PlayerState, bool) {
	st, ok := s.players[id]
	if ok {
		delete(s.players, id)
	}
	return st, ok
}

func (s *Store) PlayerCount() int { return len(s.players) }

// AllPlayers 返回全部玩家（按 id 排序，便于快照与测试的确定性）
func (s *Store) AllPlayers() []PlayerEntry {
	out := make([]PlayerEntry, 0, len(s.players))
	for id, st := range s.players {
		out = append(out, PlayerEntry{ID: id, State: st})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AppendChatMessage 追加后从头部淘汰，直到长度不超过上限（FIFO）
func (s *Store) AppendChatMessage(msg protocol.ChatMessage) {
	s.history = append(s.history, msg)
	if over := len(s.history) - s.historyLimit; over > 0 {
		// 拷贝到新切片，避免底层数组无限增长
		s.history = append([]protocol.ChatMessage(nil), s.history[over:]...)
	}
}

// History 返回聊天记录副本（旧 → 新）
func (s *Store) History() []protocol.ChatMessage {
	return append([]protocol.ChatMessage(nil), s.history...)
}

package server

import "sharedkingdom/protocol"

// PlayerState 服务端权威的玩家状态，由 Room 独占
type PlayerState struct {
	Position     protocol.Position
	LastUpdateMs int64 // 最近一次被接受的位置更新（或加入）时间
	Name         string

	// moved 是否已收到过位置更新；首个更新不做速度检查
	moved bool
}

// PlayerEntry 枚举时使用的 (id, state) 对
type PlayerEntry struct {
	ID    string
	State PlayerState
}

func (e PlayerEntry) snapshot() protocol.PlayerSnapshot {
	return protocol.PlayerSnapshot{ID: e.ID, Name: e.State.Name, Position: e.State.Position}
}

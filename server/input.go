package server

import "sharedkingdom/protocol"

type eventKind int

const (
	evJoin eventKind = iota
	evLeave
	evMessage
	evInspect
)

// event 进入房间收件箱的一条事件，由房间协程串行处理
type event struct {
	kind eventKind
	id   string

	// join
	conn  Conn
	name  string
	reply chan error

	// message
	env protocol.Envelope

	// inspect
	view chan RoomView
}

// RoomView 房间状态的只读副本（管理接口使用）
type RoomView struct {
	Room     string                 `json:"room"`
	Players  []PlayerView           `json:"players"`
	History  []protocol.ChatMessage `json:"history"`
	Counters map[string]int64       `json:"counters"`
}

type PlayerView struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Position   protocol.Position `json:"position"`
	LastUpdate int64             `json:"lastUpdate"`
}

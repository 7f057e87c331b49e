// Package protocol 定义客户端与服务端共用的消息契约与校验工具。
// 两端必须使用完全一致的常量与清洗规则，任何差异都视为协议 bug。
package protocol

import (
	"encoding/json"
)

// Kind 消息类型（大小写敏感的字符串标签）
type Kind string

const (
	KindSnapshot    Kind = "snapshot"
	KindSpawn       Kind = "spawn"
	KindDespawn     Kind = "despawn"
	KindPosition    Kind = "pos"
	KindChat        Kind = "chat"
	KindChatHistory Kind = "chat-history"
)

// 运动限制：非常宽松的合理性检查，只过滤最离谱的异常值
const (
	MaxSpeed      = 8.0 // 世界单位/秒
	MinIntervalMs = 40  // 两次位置上报的最小间隔
)

// 世界边界
const (
	XZRadius = 30.0
	YMin     = 0.0
	YMax     = 5.0
)

const (
	NameMinLength    = 3
	NameMaxLength    = 16
	MessageMaxLength = 160
	HistoryLimit     = 50
)

// DefaultPlayerName 默认昵称，生成的回退名以它为前缀
const DefaultPlayerName = "Wanderer"

// Position 三维坐标
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// PlayerSnapshot 单个玩家的可见状态
type PlayerSnapshot struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Position Position `json:"position"`
}

type SnapshotMessage struct {
	Players []PlayerSnapshot `json:"players"`
}

// SpawnMessage 与 PlayerSnapshot 同构
type SpawnMessage = PlayerSnapshot

type PositionMessage struct {
	ID       string   `json:"id"`
	Position Position `json:"position"`
}

type DespawnMessage struct {
	ID string `json:"id"`
}

// ChatPayload 客户端发送的聊天内容
type ChatPayload struct {
	Text string `json:"text"`
}

// ChatMessage 服务端确认后的聊天消息，创建后不可修改。
// ID 为 nil 表示系统消息。
type ChatMessage struct {
	ID        *string `json:"id"`
	Name      string  `json:"name"`
	Text      string  `json:"text"`
	Timestamp int64   `json:"timestamp"`
	System    bool    `json:"system"`
}

type ChatHistoryMessage struct {
	History []ChatMessage `json:"history"`
}

// NewChatMessage 构造聊天消息；id 为空串时视为系统来源
func NewChatMessage(id, name, text string, system bool, timestampMs int64) ChatMessage {
	msg := ChatMessage{Name: name, Text: text, Timestamp: timestampMs, System: system}
	if id != "" {
		sender := id
		msg.ID = &sender
	}
	return msg
}

// Envelope 线上帧：{"type": kind, "payload": {...}}
type Envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode 将消息编码为一帧文本
func Encode(kind Kind, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: kind, Payload: raw})
}

// DecodeEnvelope 解析入站帧，只检查外层结构
func DecodeEnvelope(b []byte) (Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil || env.Type == "" {
		return Envelope{}, false
	}
	return env, true
}

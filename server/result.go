package server

// DropReason 说明一条入站事件为何被静默丢弃
type DropReason string

const (
	DropUnknownPlayer DropReason = "unknown_player" // 无玩家状态（与离开竞争）
	DropMalformed     DropReason = "malformed"      // 结构校验失败
	DropFlood         DropReason = "flood"          // 间隔小于最小上报间隔
	DropSpeed         DropReason = "speed"          // 隐含速度超过上限
	DropEmptyText     DropReason = "empty_text"     // 清洗后无内容
	DropInboxFull     DropReason = "inbox_full"     // 房间收件箱已满
	DropRoomFull      DropReason = "room_full"      // 房间人数已满
)

// Result 处理结果。线上效果总是"什么都不回"，这里只为计数与测试。
type Result struct {
	Reason DropReason
}

// accepted 表示已提交
var accepted = Result{}

func dropped(reason DropReason) Result { return Result{Reason: reason} }

func (r Result) Accepted() bool { return r.Reason == "" }

func (r Result) String() string {
	if r.Accepted() {
		return "accepted"
	}
	return "dropped(" + string(r.Reason) + ")"
}

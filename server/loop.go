package server

import (
	"context"
	"errors"

	"sharedkingdom/protocol"
)

var (
	ErrRoomFull   = errors.New("room is full")
	ErrRoomClosed = errors.New("room is closed")
)

// Run 房间主循环：一次只处理一个事件，处理期间不做阻塞 I/O。
// ctx 取消后关闭所有连接并返回；房间变空且 OnEmpty 同意回收时也会返回。
func (r *Room) Run(ctx context.Context) {
	released := false
	defer func() {
		for id, c := range r.conns {
			c.Close()
			delete(r.conns, id)
		}
		// 已回收的房间指标标签已删除，不要再写回
		if !released {
			r.metrics.setPlayers(0)
		}
		close(r.done)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.events:
			r.dispatch(ev)
			if ev.kind == evLeave && r.store.PlayerCount() == 0 && r.onEmpty != nil && r.onEmpty(r) {
				released = true
				r.log.Infow("room released")
				return
			}
		}
	}
}

// Done 在 Run 返回后关闭
func (r *Room) Done() <-chan struct{} { return r.done }

func (r *Room) dispatch(ev event) {
	switch ev.kind {
	case evJoin:
		res := r.handleJoin(ev.id, ev.conn, ev.name)
		r.record("join", ev.id, res)
		if res.Accepted() {
			ev.reply <- nil
		} else {
			ev.reply <- ErrRoomFull
		}
	case evLeave:
		r.record("leave", ev.id, r.handleLeave(ev.id))
	case evMessage:
		switch ev.env.Type {
		case protocol.KindPosition:
			r.record("pos", ev.id, r.handlePosition(ev.id, ev.env.Payload))
		case protocol.KindChat:
			r.record("chat", ev.id, r.handleChat(ev.id, ev.env.Payload))
		default:
			// 客户端只允许发送 pos 与 chat
			r.record("unknown", ev.id, dropped(DropMalformed))
		}
	case evInspect:
		ev.view <- r.view()
	}
	r.metrics.setPlayers(r.store.PlayerCount())
}

func (r *Room) record(kind, id string, res Result) {
	r.metrics.Record(kind, res)
	if !res.Accepted() {
		r.log.Debugw("event dropped", "kind", kind, "player", id, "reason", string(res.Reason))
	}
}

func (r *Room) view() RoomView {
	players := r.store.AllPlayers()
	v := RoomView{
		Room:     r.ID,
		Players:  make([]PlayerView, 0, len(players)),
		History:  r.store.History(),
		Counters: r.metrics.Snapshot(),
	}
	for _, p := range players {
		v.Players = append(v.Players, PlayerView{
			ID:         p.ID,
			Name:       p.State.Name,
			Position:   p.State.Position,
			LastUpdate: p.State.LastUpdateMs,
		})
	}
	return v
}

// Join 注册新连接并等待房间协程完成加入流程
func (r *Room) Join(ctx context.Context, id string, conn Conn, requestedName string) error {
	ev := event{kind: evJoin, id: id, conn: conn, name: requestedName, reply: make(chan error, 1)}
	select {
	case r.events <- ev:
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-ev.reply:
		return err
	case <-r.done:
		return ErrRoomClosed
	}
}

// Leave 请求在房间协程中移除玩家；阻塞式写入，保证移除一定生效
func (r *Room) Leave(id string) {
	select {
	case r.events <- event{kind: evLeave, id: id}:
	case <-r.done:
	}
}

// Deliver 投递一帧客户端消息（非阻塞）。无法解析的帧与收件箱已满时静默丢弃。
func (r *Room) Deliver(id string, frame []byte) {
	select {
	case <-r.done:
		return
	default:
	}
	env, ok := protocol.DecodeEnvelope(frame)
	if !ok {
		r.record("unknown", id, dropped(DropMalformed))
		return
	}
	select {
	case r.events <- event{kind: evMessage, id: id, env: env}:
	default:
		// 为了实时性，拥塞时丢弃，避免背压影响房间推进
		r.record(string(env.Type), id, dropped(DropInboxFull))
	}
}

// Inspect 在房间协程中生成状态副本
func (r *Room) Inspect(ctx context.Context) (RoomView, error) {
	ev := event{kind: evInspect, view: make(chan RoomView, 1)}
	select {
	case r.events <- ev:
	case <-r.done:
		return RoomView{}, ErrRoomClosed
	case <-ctx.Done():
		return RoomView{}, ctx.Err()
	}
	select {
	case v := <-ev.view:
		return v, nil
	case <-r.done:
		return RoomView{}, ErrRoomClosed
	case <-ctx.Done():
		return RoomView{}, ctx.Err()
	}
}

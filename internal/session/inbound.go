package session

import (
	"context"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/netplay/internal/chat"
	"github.com/jason-s-yu/netplay/internal/models"
	"github.com/jason-s-yu/netplay/internal/neterr"
	"github.com/jason-s-yu/netplay/internal/protocol"
	"github.com/jason-s-yu/netplay/internal/registry"
)

// readLoop feeds frames from conn to the worker in order until the socket
// fails or the attempt is superseded.
func (s *Session) readLoop(attempt uint64, conn *websocket.Conn) {
	defer s.wg.Done()
	for {
		typ, data, err := conn.Read(context.Background())
		if err != nil {
			s.do(func() { s.onTransportError(attempt, err) })
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		env, err := protocol.Decode(data)
		if err != nil {
			s.log.Warnf("invalid frame from room: %v", err)
			continue
		}
		if s.do(func() { s.handleInbound(attempt, env) }) != nil {
			conn.CloseNow()
			return
		}
	}
}

// onTransportError runs on the worker. A stale attempt or an already
// disconnected session makes it a no-op, so a racing user disconnect and a
// server kick resolve to whichever the worker saw first.
func (s *Session) onTransportError(attempt uint64, err error) {
	if attempt != s.attempt || s.state != models.StateConnected {
		return
	}
	code := neterr.ForSession(neterr.Classify(err))
	if code != neterr.Kicked {
		code = neterr.LostConnection
	}
	s.fail(code, err)
	s.teardown(0)
	s.stopHosting()
}

func (s *Session) handleInbound(attempt uint64, env protocol.Envelope) {
	if attempt != s.attempt || s.state != models.StateConnected {
		return
	}

	switch env.Type {
	case protocol.TypeMemberJoined:
		var p protocol.MemberJoined
		if s.decode(env, &p) {
			s.applyRoomEvent(registry.MemberJoined{Member: p.Member})
		}
	case protocol.TypeMemberLeft, protocol.TypeMemberKicked, protocol.TypeMemberBanned:
		var p protocol.MemberRemoved
		if !s.decode(env, &p) {
			return
		}
		switch env.Type {
		case protocol.TypeMemberLeft:
			s.applyRoomEvent(registry.MemberLeft{Username: p.Username})
		case protocol.TypeMemberKicked:
			s.applyRoomEvent(registry.MemberKicked{Username: p.Username})
		default:
			s.applyRoomEvent(registry.MemberBanned{Username: p.Username})
		}
	case protocol.TypeMemberUnbanned:
		var p protocol.MemberUnbanned
		if s.decode(env, &p) {
			s.applyRoomEvent(registry.MemberUnbanned{Entry: p.Entry})
		}
	case protocol.TypeGameChanged:
		var p protocol.GameChanged
		if s.decode(env, &p) {
			s.applyRoomEvent(registry.GameChanged{Username: p.Username, Game: p.Game})
		}
	case protocol.TypeChat:
		var p protocol.Chat
		if s.decode(env, &p) && s.blocks.Filter(p.Username) {
			s.events.emit(ChatReceived{Username: p.Username, Message: p.Message})
		}
	case protocol.TypeStatus:
		var p protocol.Status
		if s.decode(env, &p) {
			s.events.emit(StatusReceived{Notice: chat.Notice{Kind: chat.NoticeKind(p.Kind), Username: p.Username}})
		}
	case protocol.TypeGameData:
		var p protocol.GameData
		if s.decode(env, &p) {
			s.events.emit(GameDataReceived{Data: p})
		}
	case protocol.TypeModResult:
		var p protocol.ModResult
		if !s.decode(env, &p) {
			return
		}
		var err error
		if !p.OK {
			err = neterr.New(p.Code, "moderation")
		}
		s.resolve(p.RequestID, result{err: err})
	case protocol.TypeBanList:
		var p protocol.BanList
		if !s.decode(env, &p) {
			return
		}
		s.events.emit(BanListReceived{Entries: p.Entries})
		s.resolve(p.RequestID, result{entries: p.Entries})
	case protocol.TypeRoomClosed:
		s.log.Info("room is closing")
	default:
		s.log.Warnf("unknown message type %q from room", env.Type)
	}
}

// applyRoomEvent updates the mirror; duplicates are dropped silently.
func (s *Session) applyRoomEvent(ev registry.Event) {
	if s.mirror.Apply(ev) {
		s.events.emit(RoomEvent{Event: ev})
		return
	}
	if _, ok := ev.(registry.MemberUnbanned); ok {
		// Clients hold no ban list; the event itself is the result.
		s.events.emit(RoomEvent{Event: ev})
	}
}

func (s *Session) decode(env protocol.Envelope, v any) bool {
	if err := env.Into(v); err != nil {
		s.log.Warnf("bad %s frame: %v", env.Type, err)
		return false
	}
	return true
}

func (s *Session) resolve(id string, r result) {
	ch, ok := s.pending[id]
	if !ok {
		return
	}
	delete(s.pending, id)
	ch <- r
}

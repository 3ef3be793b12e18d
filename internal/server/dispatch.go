package server

import (
	"github.com/jason-s-yu/netplay/internal/chat"
	"github.com/jason-s-yu/netplay/internal/models"
	"github.com/jason-s-yu/netplay/internal/neterr"
	"github.com/jason-s-yu/netplay/internal/protocol"
	"github.com/jason-s-yu/netplay/internal/registry"
)

// dispatch handles one frame from an admitted member. Runs on the worker.
func (s *Server) dispatch(mc *memberConn, env protocol.Envelope) {
	if cur, ok := s.conns[mc.username]; !ok || cur != mc {
		// Removed while the frame was in flight.
		return
	}
	log := s.log.WithField("member", mc.username)

	switch env.Type {
	case protocol.TypeChat:
		var msg protocol.Chat
		if err := env.Into(&msg); err != nil {
			log.Warnf("bad chat frame: %v", err)
			return
		}
		if err := s.relay.Chat(mc.username, msg.Message); err != nil {
			log.Debugf("chat dropped: %v", err)
		}

	case protocol.TypeGameData:
		var gd protocol.GameData
		if err := env.Into(&gd); err != nil {
			log.Warnf("bad game_data frame: %v", err)
			return
		}
		s.relayGameData(mc, gd)

	case protocol.TypeUpdateGame:
		var upd protocol.UpdateGame
		if err := env.Into(&upd); err != nil {
			log.Warnf("bad update_game frame: %v", err)
			return
		}
		changed, err := s.reg.SetGame(mc.username, upd.Game)
		if err != nil {
			log.WithError(err).Warn("update_game for unknown member")
			return
		}
		if changed {
			s.Publish(registry.GameChanged{Username: mc.username, Game: upd.Game})
		}

	case protocol.TypeModKick, protocol.TypeModBan:
		var req protocol.ModRequest
		if err := env.Into(&req); err != nil {
			log.Warnf("bad %s frame: %v", env.Type, err)
			return
		}
		var err error
		if env.Type == protocol.TypeModKick {
			err = s.mod.Kick(mc.username, req.Username)
		} else {
			err = s.mod.Ban(mc.username, req.Username)
		}
		s.replyResult(mc, req.RequestID, err)

	case protocol.TypeModUnban:
		var req protocol.ModUnban
		if err := env.Into(&req); err != nil {
			log.Warnf("bad mod_unban frame: %v", err)
			return
		}
		s.replyResult(mc, req.RequestID, s.mod.Unban(mc.username, req.Entry))

	case protocol.TypeModGetBanList:
		var req protocol.ModGetBanList
		if len(env.Payload) > 0 {
			if err := env.Into(&req); err != nil {
				log.Warnf("bad mod_get_ban_list frame: %v", err)
				return
			}
		}
		entries, err := s.mod.BanList(mc.username)
		if err != nil {
			s.replyResult(mc, req.RequestID, err)
			return
		}
		if entries == nil {
			entries = []models.BanEntry{}
		}
		s.send(mc, protocol.TypeBanList, protocol.BanList{RequestID: req.RequestID, Entries: entries})

	default:
		log.Warnf("unknown message type %q", env.Type)
	}
}

func (s *Server) relayGameData(mc *memberConn, gd protocol.GameData) {
	gd.Source = mc.mac
	frame, err := protocol.Encode(protocol.TypeGameData, gd)
	if err != nil {
		s.log.WithError(err).Error("failed to encode game data")
		return
	}
	if gd.Destination == models.BroadcastMAC {
		s.relay.BroadcastFrame(frame, mc.username)
		return
	}
	for name, other := range s.conns {
		if other.mac == gd.Destination {
			s.relay.SendTo(name, frame)
			return
		}
	}
	s.log.WithField("member", mc.username).Debugf("game data for unknown mac %s dropped", gd.Destination)
}

func (s *Server) replyResult(mc *memberConn, requestID string, err error) {
	res := protocol.ModResult{RequestID: requestID, OK: err == nil}
	if err != nil {
		res.Code = neterr.Classify(err)
	}
	s.send(mc, protocol.TypeModResult, res)
}

func (s *Server) send(mc *memberConn, msgType string, payload any) {
	frame, err := protocol.Encode(msgType, payload)
	if err != nil {
		s.log.WithError(err).Errorf("failed to encode %s", msgType)
		return
	}
	if !mc.Send(frame) {
		s.log.WithField("member", mc.username).Warnf("dropping %s: outbound queue full", msgType)
	}
}

// Publish broadcasts a registry event and its system notice to every member.
// It is part of moderation.Broadcaster and runs on the worker.
func (s *Server) Publish(ev registry.Event) {
	msgType, payload := eventMessage(ev)
	if msgType == "" {
		return
	}
	if err := s.relay.Broadcast(msgType, payload); err != nil {
		s.log.WithError(err).Errorf("failed to broadcast %s", msgType)
	}
	if n, ok := chat.NoticeFor(ev); ok {
		if err := s.relay.Notify(n.Kind, n.Username); err != nil {
			s.log.WithError(err).Error("failed to broadcast notice")
		}
	}
}

// Disconnect drops a member removed by moderation. It is part of
// moderation.Broadcaster and runs on the worker.
func (s *Server) Disconnect(username string, reason neterr.Code) {
	mc, ok := s.conns[username]
	if !ok {
		return
	}
	delete(s.conns, username)
	s.relay.Unregister(username)
	mc.closeWith(neterr.CloseCodeFor(reason), reason.String())
}

func eventMessage(ev registry.Event) (string, any) {
	switch e := ev.(type) {
	case registry.MemberJoined:
		return protocol.TypeMemberJoined, protocol.MemberJoined{Member: e.Member}
	case registry.MemberLeft:
		return protocol.TypeMemberLeft, protocol.MemberRemoved{Username: e.Username}
	case registry.MemberKicked:
		return protocol.TypeMemberKicked, protocol.MemberRemoved{Username: e.Username}
	case registry.MemberBanned:
		return protocol.TypeMemberBanned, protocol.MemberRemoved{Username: e.Username}
	case registry.MemberUnbanned:
		return protocol.TypeMemberUnbanned, protocol.MemberUnbanned{Entry: e.Entry}
	case registry.GameChanged:
		return protocol.TypeGameChanged, protocol.GameChanged{Username: e.Username, Game: e.Game}
	}
	return "", nil
}

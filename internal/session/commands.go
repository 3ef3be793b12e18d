package session

import (
	"context"
	"errors"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/netplay/internal/chat"
	"github.com/jason-s-yu/netplay/internal/models"
	"github.com/jason-s-yu/netplay/internal/moderation"
	"github.com/jason-s-yu/netplay/internal/neterr"
	"github.com/jason-s-yu/netplay/internal/protocol"
)

const writeTimeout = 5 * time.Second

var errNotConnected = errors.New("not connected to a room")

// Disconnect leaves the room. When other members are present or a game is
// running the Prompt is asked first; a declined prompt returns false and
// changes nothing. Disconnecting an already disconnected session is a no-op.
func (s *Session) Disconnect(ctx context.Context) (bool, error) {
	if s.State() == models.StateConnected && s.needsConfirmation() {
		if s.opts.Prompt != nil && !s.opts.Prompt.ConfirmDisconnect() {
			return false, nil
		}
	}

	var hosted *hostedRoom
	if err := s.do(func() {
		if s.state == models.StateDisconnected {
			return
		}
		s.teardown(websocket.StatusNormalClosure)
		hosted = s.hosting
		s.hosting = nil
	}); err != nil {
		return false, err
	}
	if hosted != nil {
		hosted.shutdown(ctx, s.log)
	}
	return true, nil
}

func (s *Session) needsConfirmation() bool {
	if s.opts.Core != nil && s.opts.Core.IsRunning() {
		return true
	}
	return len(s.mirror.Snapshot().Members) > 1
}

// connected returns the live connection and local member name. Runs on the
// worker.
func (s *Session) connected(op string) (*websocket.Conn, error) {
	if s.state != models.StateConnected || s.conn == nil {
		return nil, neterr.Wrap(neterr.UnableToConnect, op, errNotConnected)
	}
	return s.conn, nil
}

// send writes one frame on the current connection.
func (s *Session) send(ctx context.Context, op, msgType string, payload any) error {
	var conn *websocket.Conn
	var err error
	if derr := s.do(func() { conn, err = s.connected(op) }); derr != nil {
		return neterr.Wrap(neterr.UnableToConnect, op, derr)
	}
	if err != nil {
		return err
	}
	return s.write(ctx, op, conn, msgType, payload)
}

func (s *Session) write(ctx context.Context, op string, conn *websocket.Conn, msgType string, payload any) error {
	frame, err := protocol.Encode(msgType, payload)
	if err != nil {
		return neterr.Wrap(neterr.UnknownError, op, err)
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, frame); err != nil {
		return neterr.Wrap(neterr.ForSession(neterr.Classify(err)), op, err)
	}
	return nil
}

// SendChat sends a chat line to the room.
func (s *Session) SendChat(ctx context.Context, text string) error {
	if err := chat.CheckMessage(text); err != nil {
		return err
	}
	return s.send(ctx, "chat", protocol.TypeChat, protocol.Chat{Message: text})
}

// SendGameData sends an opaque frame to the member with MAC dest, or to
// everyone when dest is models.BroadcastMAC.
func (s *Session) SendGameData(ctx context.Context, dest string, channel int, data []byte) error {
	return s.send(ctx, "game data", protocol.TypeGameData, protocol.GameData{
		Destination: dest,
		Channel:     channel,
		Data:        data,
	})
}

// UpdateGame reports the core's current game to the room.
func (s *Session) UpdateGame(ctx context.Context) error {
	var game models.GameInfo
	if s.opts.Core != nil && s.opts.Core.IsRunning() {
		game, _ = s.opts.Core.CurrentGameTitle()
	}
	return s.send(ctx, "update game", protocol.TypeUpdateGame, protocol.UpdateGame{Game: game})
}

// Kick asks the room to remove username.
func (s *Session) Kick(ctx context.Context, username string) error {
	_, err := s.request(ctx, "kick", func(id string) (string, any) {
		return protocol.TypeModKick, protocol.ModRequest{RequestID: id, Username: username}
	})
	return err
}

// Ban asks the room to remove and ban username.
func (s *Session) Ban(ctx context.Context, username string) error {
	_, err := s.request(ctx, "ban", func(id string) (string, any) {
		return protocol.TypeModBan, protocol.ModRequest{RequestID: id, Username: username}
	})
	return err
}

// Unban asks the room to lift a ban entry.
func (s *Session) Unban(ctx context.Context, entry models.BanEntry) error {
	_, err := s.request(ctx, "unban", func(id string) (string, any) {
		return protocol.TypeModUnban, protocol.ModUnban{RequestID: id, Entry: entry}
	})
	return err
}

// RequestBanList fetches the room's ban list. Only the host may.
func (s *Session) RequestBanList(ctx context.Context) ([]models.BanEntry, error) {
	return s.request(ctx, "ban list", func(id string) (string, any) {
		return protocol.TypeModGetBanList, protocol.ModGetBanList{RequestID: id}
	})
}

// KickAsync runs Kick without blocking the caller.
func (s *Session) KickAsync(ctx context.Context, username string) <-chan error {
	return async(func() error { return s.Kick(ctx, username) })
}

// BanAsync runs Ban without blocking the caller.
func (s *Session) BanAsync(ctx context.Context, username string) <-chan error {
	return async(func() error { return s.Ban(ctx, username) })
}

// UnbanAsync runs Unban without blocking the caller.
func (s *Session) UnbanAsync(ctx context.Context, entry models.BanEntry) <-chan error {
	return async(func() error { return s.Unban(ctx, entry) })
}

func async(fn func() error) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- fn() }()
	return ch
}

// request sends a moderation frame and waits for the matching answer. The
// host check runs locally first so a non-host never reaches the network.
func (s *Session) request(ctx context.Context, op string, build func(id string) (string, any)) ([]models.BanEntry, error) {
	id := uuid.NewString()
	ch := make(chan result, 1)

	var conn *websocket.Conn
	var err error
	if derr := s.do(func() {
		if conn, err = s.connected(op); err != nil {
			return
		}
		if err = moderation.Authorize(s.self.Username, s.mirror.Snapshot()); err != nil {
			err = neterr.New(neterr.PermissionDenied, op)
			return
		}
		s.pending[id] = ch
	}); derr != nil {
		return nil, neterr.Wrap(neterr.UnableToConnect, op, derr)
	}
	if err != nil {
		return nil, err
	}

	msgType, payload := build(id)
	if err := s.write(ctx, op, conn, msgType, payload); err != nil {
		s.forget(id)
		return nil, err
	}

	select {
	case r := <-ch:
		return r.entries, r.err
	case <-ctx.Done():
		s.forget(id)
		return nil, neterr.Wrap(neterr.UnableToConnect, op, ctx.Err())
	}
}

func (s *Session) forget(id string) {
	s.do(func() { delete(s.pending, id) })
}

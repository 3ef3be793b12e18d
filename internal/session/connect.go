package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/netplay/internal/models"
	"github.com/jason-s-yu/netplay/internal/neterr"
	"github.com/jason-s-yu/netplay/internal/protocol"
	"github.com/jason-s-yu/netplay/internal/validation"
)

const readLimit = 64 << 10

// ConnectParams describe the room to join and who joins it.
type ConnectParams struct {
	Address  string
	Port     int
	Username string
	Password string

	// PreferredMAC requests a specific MAC address; empty lets the room pick.
	PreferredMAC string

	hostToken string
}

func newConsoleID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// validate runs the checks that need no network.
func (p ConnectParams) validate() error {
	switch {
	case !validation.Username(p.Username):
		return neterr.New(neterr.UsernameNotValid, "connect")
	case !validation.IP(p.Address):
		return neterr.New(neterr.IPNotValid, "connect")
	case !validation.Port(p.Port):
		return neterr.New(neterr.PortNotValid, "connect")
	}
	return nil
}

func (p ConnectParams) url() string {
	host := net.JoinHostPort(trimBrackets(p.Address), strconv.Itoa(p.Port))
	return "ws://" + host + protocol.RoomPath
}

func trimBrackets(s string) string {
	if len(s) > 1 && s[0] == '[' && s[len(s)-1] == ']' {
		return s[1 : len(s)-1]
	}
	return s
}

// ConnectAsync starts Connect and returns a channel that receives its
// result.
func (s *Session) ConnectAsync(ctx context.Context, p ConnectParams) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- s.Connect(ctx, p) }()
	return ch
}

// Connect joins a room. It blocks until the handshake completes, fails, or
// ctx is done; every failure is a *neterr.Error. A connect while another is in
// flight or while connected is rejected with UnableToConnect.
func (s *Session) Connect(ctx context.Context, p ConnectParams) error {
	if err := p.validate(); err != nil {
		return err
	}

	var (
		attempt  uint64
		attemptC context.Context
		busy     bool
	)
	if err := s.do(func() {
		if s.state != models.StateDisconnected {
			busy = true
			return
		}
		s.attempt++
		attempt = s.attempt
		var cancel context.CancelFunc
		attemptC, cancel = context.WithCancel(context.Background())
		s.cancelAttempt = cancel
		s.setState(models.StateConnecting)
	}); err != nil {
		return neterr.Wrap(neterr.UnableToConnect, "connect", err)
	}
	if busy {
		return neterr.Wrap(neterr.UnableToConnect, "connect", errors.New("a connection is already active"))
	}

	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(attemptC, cancel)
	defer stop()

	conn, accepted, err := s.handshake(dctx, p)
	if err != nil && dctx.Err() != nil {
		err = neterr.Wrap(neterr.UnableToConnect, "connect", err)
	}

	var out error
	if derr := s.do(func() { out = s.finishConnect(attempt, conn, accepted, err) }); derr != nil {
		if conn != nil {
			conn.CloseNow()
		}
		return neterr.Wrap(neterr.UnableToConnect, "connect", derr)
	}
	return out
}

// handshake dials the room and exchanges join_request for the server's
// verdict. On error no connection is left open.
func (s *Session) handshake(ctx context.Context, p ConnectParams) (_ *websocket.Conn, _ protocol.JoinAccepted, err error) {
	var accepted protocol.JoinAccepted

	conn, _, err := websocket.Dial(ctx, p.url(), &websocket.DialOptions{
		Subprotocols: []string{protocol.Subprotocol},
	})
	if err != nil {
		return nil, accepted, err
	}
	defer func() {
		if err != nil {
			conn.CloseNow()
		}
	}()
	conn.SetReadLimit(readLimit)

	req := protocol.JoinRequest{
		Username:     p.Username,
		ConsoleID:    s.opts.ConsoleID,
		PreferredMAC: p.PreferredMAC,
		Password:     p.Password,
		Version:      protocol.Version,
		HostToken:    p.hostToken,
	}
	if s.opts.Account != nil && s.opts.Account.IsAccountLinked() {
		req.Token = s.opts.Account.Token()
	}
	if s.opts.Core != nil && s.opts.Core.IsRunning() {
		if game, ok := s.opts.Core.CurrentGameTitle(); ok {
			req.Game = game
		}
	}

	frame, err := protocol.Encode(protocol.TypeJoinRequest, req)
	if err != nil {
		return nil, accepted, err
	}
	if err = conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return nil, accepted, err
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		return nil, accepted, err
	}
	env, err := protocol.Decode(data)
	if err != nil {
		return nil, accepted, err
	}
	switch env.Type {
	case protocol.TypeJoinAccepted:
		if err = env.Into(&accepted); err != nil {
			return nil, accepted, err
		}
		return conn, accepted, nil
	case protocol.TypeJoinRejected:
		var rej protocol.JoinRejected
		if err = env.Into(&rej); err != nil {
			return nil, accepted, err
		}
		err = neterr.New(rej.Code, "join")
		return nil, accepted, err
	default:
		err = fmt.Errorf("unexpected %s during handshake", env.Type)
		return nil, accepted, err
	}
}

// finishConnect applies the handshake outcome. Runs on the worker.
func (s *Session) finishConnect(attempt uint64, conn *websocket.Conn, accepted protocol.JoinAccepted, err error) error {
	if attempt != s.attempt || s.state != models.StateConnecting {
		// Disconnected while the handshake was in flight.
		if conn != nil {
			conn.CloseNow()
		}
		return neterr.Wrap(neterr.UnableToConnect, "connect", errors.New("connect aborted"))
	}
	s.cancelAttempt()
	s.cancelAttempt = nil

	if err != nil {
		code := neterr.ForConnect(neterr.Classify(err))
		s.fail(code, err)
		s.setState(models.StateDisconnected)
		var classified *neterr.Error
		if errors.As(err, &classified) && classified.Code == code {
			return err
		}
		return neterr.Wrap(code, "connect", err)
	}

	s.conn = conn
	s.self = accepted.Member
	s.blocks.SetSelf(accepted.Member.Username)
	s.mirror.Reset(accepted.Snapshot)
	s.hasError = false
	s.lastError = neterr.UnknownError
	s.setState(models.StateConnected)

	s.wg.Add(1)
	go s.readLoop(attempt, conn)
	s.log.WithField("room", accepted.Snapshot.Info.Name).Info("joined room")
	return nil
}

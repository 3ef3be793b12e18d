package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/netplay/internal/middleware"
	"github.com/jason-s-yu/netplay/internal/neterr"
	"github.com/jason-s-yu/netplay/internal/protocol"
	"github.com/jason-s-yu/netplay/internal/registry"
	"github.com/sirupsen/logrus"
)

const (
	pingInterval = 30 * time.Second
	pingTimeout  = 15 * time.Second
	writeTimeout = 5 * time.Second
)

// memberConn is one member's socket. Frames queued with Send are written by
// writePump in order.
type memberConn struct {
	conn     *websocket.Conn
	remote   string
	username string
	mac      string

	out     chan []byte
	closing chan struct{}

	closeOnce   sync.Once
	closeCode   websocket.StatusCode
	closeReason string
}

func newMemberConn(c *websocket.Conn, remote string) *memberConn {
	return &memberConn{
		conn:    c,
		remote:  remote,
		out:     make(chan []byte, outboundQueueSize),
		closing: make(chan struct{}),
	}
}

// Send queues a frame without blocking. It reports false if the queue is
// full or the connection is closing.
func (mc *memberConn) Send(frame []byte) bool {
	select {
	case <-mc.closing:
		return false
	default:
	}
	select {
	case mc.out <- frame:
		return true
	default:
		return false
	}
}

// closeWith makes writePump flush queued frames and close the socket with
// code.
func (mc *memberConn) closeWith(code websocket.StatusCode, reason string) {
	mc.closeOnce.Do(func() {
		mc.closeCode = code
		mc.closeReason = reason
		close(mc.closing)
	})
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	s.handlers.Add(1)
	defer s.handlers.Done()

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{protocol.Subprotocol},
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warnf("websocket accept error: %v", err)
		return
	}
	defer c.CloseNow()

	if c.Subprotocol() != protocol.Subprotocol {
		c.Close(neterr.CloseBadSubprotocol, "client must speak the room subprotocol")
		return
	}
	c.SetReadLimit(readLimit)
	middleware.LogWebSocketConnect(s.log, r.RemoteAddr, r.URL.Path)

	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()

	req, err := s.readJoin(ctx, c)
	if err != nil {
		s.log.WithField("remote", r.RemoteAddr).Warnf("bad join handshake: %v", err)
		c.Close(neterr.CloseHandshake, "expected join_request")
		return
	}

	mc := newMemberConn(c, r.RemoteAddr)
	forum := s.verifyToken(req.Token)
	var joinErr error
	if err := s.do(ctx, func() { joinErr = s.admit(mc, req, remoteIP(r.RemoteAddr), forum) }); err != nil {
		c.Close(neterr.CloseRoomClosed, "room closed")
		return
	}
	if joinErr != nil {
		s.reject(ctx, c, joinErr)
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump(ctx, mc)
	}()

	readErr := s.readPump(ctx, mc)

	s.do(context.Background(), func() { s.leave(mc) })
	cancel()
	<-writerDone

	if websocket.CloseStatus(readErr) == websocket.StatusNormalClosure || errors.Is(readErr, context.Canceled) {
		readErr = nil
	}
	middleware.LogWebSocketDisconnect(s.log.WithField("member", mc.username), r.RemoteAddr, r.URL.Path, readErr)
}

func (s *Server) readJoin(ctx context.Context, c *websocket.Conn) (protocol.JoinRequest, error) {
	var req protocol.JoinRequest
	// Not a read deadline: that closes with a policy violation.
	timer := time.AfterFunc(s.opts.HandshakeTimeout, func() {
		c.Close(neterr.CloseHandshake, "join handshake timed out")
	})
	defer timer.Stop()

	typ, data, err := c.Read(ctx)
	if err != nil {
		return req, err
	}
	if typ != websocket.MessageText {
		return req, errors.New("join_request must be a text frame")
	}
	env, err := protocol.Decode(data)
	if err != nil {
		return req, err
	}
	if env.Type != protocol.TypeJoinRequest {
		return req, errors.New("first frame is " + env.Type)
	}
	err = env.Into(&req)
	return req, err
}

func (s *Server) verifyToken(token string) string {
	if token == "" || s.opts.Verifier == nil {
		return ""
	}
	name, err := s.opts.Verifier.Verify(token)
	if err != nil {
		s.log.Debugf("account token rejected: %v", err)
		return ""
	}
	return name
}

func (s *Server) reject(ctx context.Context, c *websocket.Conn, joinErr error) {
	code := neterr.Classify(joinErr)
	frame, err := protocol.Encode(protocol.TypeJoinRejected, protocol.JoinRejected{Code: code})
	if err == nil {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err = c.Write(wctx, websocket.MessageText, frame)
		cancel()
	}
	if err != nil {
		s.log.Debugf("failed to send join rejection: %v", err)
	}
	c.Close(neterr.CloseJoinRejected, code.String())
}

// readPump hands every inbound frame to the worker, in arrival order.
func (s *Server) readPump(ctx context.Context, mc *memberConn) error {
	for {
		typ, data, err := mc.conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			s.log.WithField("member", mc.username).Warnf("ignoring non-text message type %d", typ)
			continue
		}
		env, err := protocol.Decode(data)
		if err != nil {
			s.log.WithField("member", mc.username).Warnf("invalid frame: %v", err)
			continue
		}
		if err := s.do(ctx, func() { s.dispatch(mc, env) }); err != nil {
			return err
		}
	}
}

func (s *Server) writePump(ctx context.Context, mc *memberConn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	write := func(frame []byte) error {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		return mc.conn.Write(wctx, websocket.MessageText, frame)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-mc.out:
			if err := write(frame); err != nil {
				s.log.WithField("member", mc.username).Debugf("write failed: %v", err)
				mc.conn.CloseNow()
				return
			}
		case <-mc.closing:
		drain:
			for {
				select {
				case frame := <-mc.out:
					if err := write(frame); err != nil {
						mc.conn.CloseNow()
						return
					}
				default:
					break drain
				}
			}
			mc.conn.Close(mc.closeCode, mc.closeReason)
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := mc.conn.Ping(pctx)
			cancel()
			if err != nil {
				s.log.WithField("member", mc.username).Debugf("ping failed: %v", err)
				mc.conn.CloseNow()
				return
			}
		}
	}
}

// admit runs on the worker.
func (s *Server) admit(mc *memberConn, req protocol.JoinRequest, ip, forum string) error {
	m, err := s.reg.Admit(registry.Candidate{Request: req, IPAddress: ip, ForumUsername: forum})
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"remote": mc.remote,
			"member": req.Username,
			"code":   neterr.Classify(err).String(),
		}).Info("join rejected")
		return err
	}
	mc.username = m.Username
	mc.mac = m.MACAddress
	s.conns[m.Username] = mc

	if req.HostToken != "" && req.HostToken == s.hostToken {
		if err := s.reg.SetHost(m.Username); err != nil {
			s.log.WithError(err).Error("failed to record host member")
		}
	}

	frame, err := protocol.Encode(protocol.TypeJoinAccepted, protocol.JoinAccepted{
		Member:   m,
		Snapshot: s.reg.Snapshot().Public(),
	})
	if err != nil {
		return neterr.Wrap(neterr.UnknownError, "admit", err)
	}
	mc.Send(frame)
	s.relay.Register(m.Username, mc)
	s.Publish(registry.MemberJoined{Member: m.Public()})

	s.log.WithFields(logrus.Fields{"member": m.Username, "remote": mc.remote}).Info("member joined")
	return nil
}

// leave runs on the worker after a member's socket closes.
func (s *Server) leave(mc *memberConn) {
	if cur, ok := s.conns[mc.username]; !ok || cur != mc {
		return
	}
	delete(s.conns, mc.username)
	s.relay.Unregister(mc.username)
	if _, err := s.reg.Remove(mc.username); err != nil {
		s.log.WithError(err).Warn("leaving member was not registered")
	}
	s.Publish(registry.MemberLeft{Username: mc.username})
	s.log.WithField("member", mc.username).Info("member left")

	if mc.username == s.reg.Info().Host {
		s.log.Info("host left, closing room")
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.Close(ctx); err != nil {
				s.log.WithError(err).Warn("error closing room")
			}
		}()
	}
}

func remoteIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap().String()
	}
	return host
}

// Package session is the client side of a room: one connection per process,
// driven by a state machine whose transitions all run on a single worker
// goroutine.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/netplay/internal/chat"
	"github.com/jason-s-yu/netplay/internal/lobby"
	"github.com/jason-s-yu/netplay/internal/models"
	"github.com/jason-s-yu/netplay/internal/neterr"
	"github.com/jason-s-yu/netplay/internal/registry"
	"github.com/sirupsen/logrus"
)

// Core is the emulator facing collaborator.
type Core interface {
	CurrentGameTitle() (models.GameInfo, bool)
	IsRunning() bool
}

// Account is the account-service collaborator.
type Account interface {
	IsAccountLinked() bool
	Username() string
	Token() string
}

// Prompt asks the user to confirm a destructive disconnect.
type Prompt interface {
	ConfirmDisconnect() bool
}

// Options configures a Session. Every collaborator is optional.
type Options struct {
	Core    Core
	Account Account
	Lobby   lobby.Announcer
	Prompt  Prompt

	// ConsoleID identifies this installation to rooms.
	ConsoleID string
	// PublicAddress is the address announced for rooms hosted here.
	PublicAddress string

	Logger *logrus.Logger
}

// ErrSessionClosed is returned after Close.
var ErrSessionClosed = errors.New("session: closed")

type status struct {
	state     models.ConnectionState
	lastError neterr.Code
	hasError  bool
}

// Session is the process's single room connection.
type Session struct {
	opts Options
	log  logrus.FieldLogger

	inbox chan func()
	stop  chan struct{}
	wg    sync.WaitGroup

	events *dispatcher
	mirror *registry.Registry
	blocks *chat.BlockList
	status atomic.Pointer[status]

	closeOnce sync.Once

	// Owned by the worker goroutine.
	state         models.ConnectionState
	lastError     neterr.Code
	hasError      bool
	attempt       uint64
	cancelAttempt context.CancelFunc
	conn          *websocket.Conn
	self          models.Member
	pending       map[string]chan result
	hosting       *hostedRoom
}

type result struct {
	entries []models.BanEntry
	err     error
}

// New returns a disconnected session and starts its worker.
func New(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.ConsoleID == "" {
		opts.ConsoleID = newConsoleID()
	}
	s := &Session{
		opts:    opts,
		log:     opts.Logger.WithField("component", "session"),
		inbox:   make(chan func()),
		stop:    make(chan struct{}),
		events:  newDispatcher(),
		mirror:  registry.NewMirror(),
		blocks:  chat.NewBlockList(""),
		state:   models.StateDisconnected,
		pending: make(map[string]chan result),
	}
	s.publishStatus()
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Session) run() {
	defer s.wg.Done()
	for {
		select {
		case fn := <-s.inbox:
			fn()
		case <-s.stop:
			return
		}
	}
}

// do runs fn on the worker and waits for it.
func (s *Session) do(fn func()) error {
	done := make(chan struct{})
	select {
	case s.inbox <- func() { defer close(done); fn() }:
	case <-s.stop:
		return ErrSessionClosed
	}
	<-done
	return nil
}

// State returns the current connection state.
func (s *Session) State() models.ConnectionState { return s.status.Load().state }

// LastError returns the code of the last failure. ok is false if there was
// none since the last successful connect.
func (s *Session) LastError() (code neterr.Code, ok bool) {
	st := s.status.Load()
	return st.lastError, st.hasError
}

// Snapshot returns the local mirror of the room.
func (s *Session) Snapshot() models.Snapshot { return s.mirror.Snapshot() }

// Self returns the member this session joined as.
func (s *Session) Self() models.Member {
	var m models.Member
	s.do(func() { m = s.self })
	return m
}

// Events returns the event stream. It is closed by Close.
func (s *Session) Events() <-chan Event { return s.events.out }

// Block hides chat from username on this client only.
func (s *Session) Block(username string) error { return s.blocks.Block(username) }

// Unblock reverses Block.
func (s *Session) Unblock(username string) { s.blocks.Unblock(username) }

// IsBlocked reports whether username is blocked locally.
func (s *Session) IsBlocked(username string) bool { return s.blocks.IsBlocked(username) }

// setState runs on the worker.
func (s *Session) setState(st models.ConnectionState) {
	if s.state == st {
		return
	}
	s.state = st
	s.publishStatus()
	s.log.WithField("state", st).Debug("session state changed")
	s.events.emit(StateChanged{State: st})
}

// fail records a classified error. Runs on the worker.
func (s *Session) fail(code neterr.Code, err error) {
	s.lastError = code
	s.hasError = true
	s.publishStatus()
	if code == neterr.UnknownError {
		s.log.WithError(err).Error("unexpected session failure")
	}
	s.events.emit(ErrorRaised{Code: code, Err: err})
}

func (s *Session) publishStatus() {
	s.status.Store(&status{state: s.state, lastError: s.lastError, hasError: s.hasError})
}

// teardown drops the connection and all room state. Runs on the worker.
func (s *Session) teardown(closeCode websocket.StatusCode) {
	if s.cancelAttempt != nil {
		s.cancelAttempt()
		s.cancelAttempt = nil
	}
	if s.conn != nil {
		conn := s.conn
		s.conn = nil
		if closeCode == 0 {
			conn.CloseNow()
		} else {
			go conn.Close(closeCode, "")
		}
	}
	for id, ch := range s.pending {
		ch <- result{err: neterr.New(neterr.LostConnection, "request")}
		delete(s.pending, id)
	}
	s.attempt++
	s.self = models.Member{}
	s.mirror.Clear()
	s.setState(models.StateDisconnected)
}

// Close disconnects without prompting, stops the worker and closes Events.
func (s *Session) Close() error {
	var hosted *hostedRoom
	s.closeOnce.Do(func() {
		s.do(func() {
			hosted = s.hosting
			s.hosting = nil
			s.teardown(websocket.StatusNormalClosure)
		})
		close(s.stop)
		s.wg.Wait()
		s.events.abandon()
	})
	if hosted != nil {
		hosted.shutdown(context.Background(), s.log)
	}
	return nil
}

// Package server hosts a room: it accepts members over websocket, admits
// them against the room registry, relays chat and game data, and applies the
// host's moderation requests.
//
// All registry and moderation state is owned by a single worker goroutine.
// Connection goroutines hand work to it as closures and never touch that
// state directly.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/netplay/internal/auth"
	"github.com/jason-s-yu/netplay/internal/chat"
	"github.com/jason-s-yu/netplay/internal/models"
	"github.com/jason-s-yu/netplay/internal/moderation"
	"github.com/jason-s-yu/netplay/internal/neterr"
	"github.com/jason-s-yu/netplay/internal/protocol"
	"github.com/jason-s-yu/netplay/internal/registry"
	"github.com/jason-s-yu/netplay/internal/validation"
	"github.com/sirupsen/logrus"
)

// ErrClosed is returned by operations on a room that has shut down.
var ErrClosed = errors.New("server: room closed")

// TokenVerifier resolves an account token to a forum username.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Options configures a room.
type Options struct {
	Name          string
	Description   string
	PreferredGame models.GameInfo
	MaxMembers    int
	Visibility    models.Visibility
	Password      string

	// BindAddress and Port select the listen address. Port 0 picks a free port.
	BindAddress string
	Port        int

	// BanList seeds the ban list, as loaded from a previous session.
	BanList []models.BanEntry
	// BanStore, when set, receives the ban list on Close.
	BanStore moderation.BanStore
	Recorder moderation.Recorder
	Verifier TokenVerifier

	HandshakeTimeout time.Duration
	Logger           *logrus.Logger
}

const (
	defaultHandshakeTimeout = 5 * time.Second
	outboundQueueSize       = 64
	readLimit               = 64 << 10
)

// Server is one hosted room.
type Server struct {
	opts      Options
	log       *logrus.Entry
	hostToken string

	// Owned by the worker goroutine.
	reg   *registry.Registry
	mod   *moderation.Engine
	conns map[string]*memberConn

	relay *chat.Relay

	inbox chan func()
	stop  chan struct{}

	baseCtx    context.Context
	cancelBase context.CancelFunc
	httpSrv    *http.Server
	ln         net.Listener
	handlers   sync.WaitGroup

	startOnce sync.Once
	closeOnce sync.Once
	closeErr  error
}

// New validates opts and prepares a room. Nothing listens until Start.
func New(opts Options) (*Server, error) {
	if !validation.RoomName(opts.Name) {
		return nil, neterr.New(neterr.RoomNameNotValid, "new room")
	}
	if opts.Port != 0 && !validation.Port(opts.Port) {
		return nil, neterr.New(neterr.PortNotValid, "new room")
	}
	if opts.MaxMembers == 0 {
		opts.MaxMembers = validation.DefaultMaxMembers
	}
	if !validation.MaxMembers(opts.MaxMembers) {
		return nil, neterr.Wrap(neterr.CouldNotCreateRoom, "new room",
			fmt.Errorf("max members %d outside %d..%d", opts.MaxMembers, validation.MinMembers, validation.MaxConcurrentConnections))
	}
	if opts.Visibility == "" {
		opts.Visibility = models.VisibilityUnlisted
	}
	if !opts.Visibility.Valid() {
		return nil, neterr.Wrap(neterr.CouldNotCreateRoom, "new room", fmt.Errorf("unknown visibility %q", opts.Visibility))
	}
	if opts.Visibility == models.VisibilityPublic && opts.PreferredGame.IsZero() {
		return nil, neterr.New(neterr.NoPreferredGame, "new room")
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	hash := ""
	if opts.Password != "" {
		var err error
		if hash, err = auth.HashPassword(opts.Password, auth.RoomPasswordParams); err != nil {
			return nil, neterr.Wrap(neterr.CouldNotCreateRoom, "new room", err)
		}
	}

	info := models.RoomInfo{
		ID:            uuid.New(),
		Name:          opts.Name,
		Description:   opts.Description,
		PreferredGame: opts.PreferredGame,
		MaxPlayers:    opts.MaxMembers,
		Visibility:    opts.Visibility,
		Port:          opts.Port,
		Version:       protocol.Version,
	}

	s := &Server{
		opts:      opts,
		log:       opts.Logger.WithField("room", info.Name),
		hostToken: uuid.NewString(),
		reg:       registry.New(info, hash),
		conns:     make(map[string]*memberConn),
		inbox:     make(chan func()),
		stop:      make(chan struct{}),
	}
	s.relay = chat.NewRelay(s.log)
	s.mod = moderation.NewEngine(s.reg, s, opts.Recorder, s.log)
	if len(opts.BanList) > 0 {
		s.mod.LoadBanList(opts.BanList)
	}
	return s, nil
}

// Start begins listening and serving members.
func (s *Server) Start() error {
	err := ErrClosed
	s.startOnce.Do(func() {
		addr := net.JoinHostPort(s.opts.BindAddress, strconv.Itoa(s.opts.Port))
		ln, lerr := net.Listen("tcp", addr)
		if lerr != nil {
			err = neterr.Wrap(neterr.CouldNotCreateRoom, "listen", lerr)
			return
		}
		s.ln = ln
		s.reg.SetPort(ln.Addr().(*net.TCPAddr).Port)

		s.baseCtx, s.cancelBase = context.WithCancel(context.Background())
		mux := http.NewServeMux()
		mux.HandleFunc(protocol.RoomPath, s.handleRoom)
		s.httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: s.opts.HandshakeTimeout}

		go s.run()
		go func() {
			if serr := s.httpSrv.Serve(ln); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
				s.log.WithError(serr).Error("room listener stopped")
			}
		}()
		s.log.WithField("addr", ln.Addr().String()).Info("room is open")
		err = nil
	})
	return err
}

// run is the worker loop.
func (s *Server) run() {
	for {
		select {
		case fn := <-s.inbox:
			fn()
		case <-s.stop:
			return
		}
	}
}

// do runs fn on the worker and waits for it to finish.
func (s *Server) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case s.inbox <- func() { defer close(done); fn() }:
	case <-s.stop:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// Addr returns the listen address, nil before Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Port returns the port the room listens on.
func (s *Server) Port() int { return s.reg.Snapshot().Info.Port }

// HostToken is the secret a join must carry to become the host member.
func (s *Server) HostToken() string { return s.hostToken }

// Snapshot returns the current room state. Safe for concurrent use.
func (s *Server) Snapshot() models.Snapshot { return s.reg.Snapshot() }

// BanList returns the current ban list.
func (s *Server) BanList() []models.BanEntry { return s.reg.Snapshot().BanList }

// Descriptor returns the lobby listing for this room reached at address.
func (s *Server) Descriptor(address string) models.RoomDescriptor {
	return models.DescriptorFromSnapshot(s.reg.Snapshot(), address)
}

// Done is closed once the room has shut down.
func (s *Server) Done() <-chan struct{} { return s.stop }

// Close tells every member the room is closing, persists the ban list and
// releases the listener. It is safe to call more than once.
func (s *Server) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { s.closeErr = s.shutdown(ctx) })
	return s.closeErr
}

func (s *Server) shutdown(ctx context.Context) error {
	// A room that never started has no worker; keep it from starting later.
	s.startOnce.Do(func() {})
	if s.httpSrv == nil {
		close(s.stop)
		return s.saveBans(ctx, s.reg.BanList())
	}

	var bans []models.BanEntry
	err := s.do(ctx, func() {
		frame, _ := protocol.Encode(protocol.TypeRoomClosed, nil)
		s.relay.BroadcastFrame(frame, "")
		for name, mc := range s.conns {
			mc.closeWith(neterr.CloseRoomClosed, "room closed")
			s.relay.Unregister(name)
			delete(s.conns, name)
		}
		bans = s.reg.BanList()
	})
	if err != nil && !errors.Is(err, ErrClosed) {
		// The worker is unreachable; fall back to the last published list.
		bans = s.reg.Snapshot().BanList
	}
	close(s.stop)

	var errs []error
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown listener: %w", err))
	}
	waitCtx(ctx, &s.handlers)
	s.cancelBase()
	s.handlers.Wait()

	if err := s.saveBans(ctx, bans); err != nil {
		errs = append(errs, err)
	}
	s.log.WithField("bans", len(bans)).Info("room closed")
	return errors.Join(errs...)
}

func (s *Server) saveBans(ctx context.Context, bans []models.BanEntry) error {
	if s.opts.BanStore == nil {
		return nil
	}
	if err := s.opts.BanStore.Save(ctx, bans); err != nil {
		return fmt.Errorf("save ban list: %w", err)
	}
	return nil
}

// waitCtx waits for wg or until ctx is done.
func waitCtx(ctx context.Context, wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

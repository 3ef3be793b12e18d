package session

import (
	"context"
	"errors"
	"time"

	"github.com/jason-s-yu/netplay/internal/lobby"
	"github.com/jason-s-yu/netplay/internal/models"
	"github.com/jason-s-yu/netplay/internal/moderation"
	"github.com/jason-s-yu/netplay/internal/neterr"
	"github.com/jason-s-yu/netplay/internal/server"
	"github.com/jason-s-yu/netplay/internal/validation"
	"github.com/sirupsen/logrus"
)

// HostParams describe a room to create locally.
type HostParams struct {
	Name          string
	Description   string
	MaxMembers    int
	Visibility    models.Visibility
	Password      string
	PreferredGame models.GameInfo

	// Username is the host member's name.
	Username    string
	BindAddress string
	Port        int

	BanList  []models.BanEntry
	BanStore moderation.BanStore
	Recorder moderation.Recorder
	// Verifier resolves members' account tokens to forum usernames.
	Verifier server.TokenVerifier

	// AnnounceInterval is how often a public room is re-announced.
	AnnounceInterval time.Duration
}

// HostResult describes a hosted room. Warning is AnnounceFailed when the
// room is up but could not be listed.
type HostResult struct {
	Room        models.RoomInfo
	Warning     neterr.Code
	HasWarning  bool
	AnnounceErr error
}

const (
	defaultAnnounceInterval = 15 * time.Second
	delistTimeout           = 5 * time.Second
)

type hostedRoom struct {
	srv          *server.Server
	announcer    lobby.Announcer
	stopAnnounce context.CancelFunc
	announceDone chan struct{}
}

func (p HostParams) validate(account Account) error {
	const op = "host"
	switch {
	case !validation.Username(p.Username):
		return neterr.New(neterr.UsernameNotValid, op)
	case !validation.RoomName(p.Name):
		return neterr.New(neterr.RoomNameNotValid, op)
	case p.Port != 0 && !validation.Port(p.Port):
		return neterr.New(neterr.PortNotValid, op)
	}
	if p.Visibility == models.VisibilityPublic {
		if p.PreferredGame.IsZero() {
			return neterr.New(neterr.NoPreferredGame, op)
		}
		if account == nil || !account.IsAccountLinked() {
			return neterr.New(neterr.CouldNotCreateRoom, op)
		}
	}
	return nil
}

// Host creates a room on this machine and joins it as the host member. Public
// rooms are announced to the lobby; a failed announce leaves the room up and
// is reported as an AnnounceFailed warning, not an error.
func (s *Session) Host(ctx context.Context, p HostParams) (HostResult, error) {
	if p.PreferredGame.IsZero() && s.opts.Core != nil {
		if game, ok := s.opts.Core.CurrentGameTitle(); ok {
			p.PreferredGame = game
		}
	}
	if p.Visibility == "" {
		p.Visibility = models.VisibilityUnlisted
	}
	if err := p.validate(s.opts.Account); err != nil {
		return HostResult{}, err
	}
	if s.State() != models.StateDisconnected {
		return HostResult{}, neterr.New(neterr.UnableToConnect, "host")
	}

	srv, err := server.New(server.Options{
		Name:          p.Name,
		Description:   p.Description,
		PreferredGame: p.PreferredGame,
		MaxMembers:    p.MaxMembers,
		Visibility:    p.Visibility,
		Password:      p.Password,
		BindAddress:   p.BindAddress,
		Port:          p.Port,
		BanList:       p.BanList,
		BanStore:      p.BanStore,
		Recorder:      p.Recorder,
		Verifier:      p.Verifier,
		Logger:        s.opts.Logger,
	})
	if err != nil {
		return HostResult{}, err
	}
	if err := srv.Start(); err != nil {
		return HostResult{}, err
	}

	err = s.Connect(ctx, ConnectParams{
		Address:   "127.0.0.1",
		Port:      srv.Port(),
		Username:  p.Username,
		Password:  p.Password,
		hostToken: srv.HostToken(),
	})
	if err != nil {
		srv.Close(context.Background())
		return HostResult{}, neterr.Wrap(neterr.CouldNotCreateRoom, "host", err)
	}

	room := &hostedRoom{srv: srv}
	res := HostResult{Room: srv.Snapshot().Info}

	if p.Visibility == models.VisibilityPublic {
		if aerr := s.announce(ctx, room, p.AnnounceInterval); aerr != nil {
			res.Warning = neterr.AnnounceFailed
			res.HasWarning = true
			res.AnnounceErr = aerr
		}
	}

	if err := s.adopt(room); err != nil {
		return HostResult{}, err
	}
	if res.HasWarning {
		s.log.WithError(res.AnnounceErr).Warn("room is up but could not be announced")
		s.events.emit(ErrorRaised{Code: neterr.AnnounceFailed, Err: res.AnnounceErr})
	}
	return res, nil
}

// adopt records room as hosted by this session, provided the host connection
// is still up. Otherwise the room is shut down and delisted.
func (s *Session) adopt(room *hostedRoom) error {
	alive := false
	err := s.do(func() {
		if s.state == models.StateConnected {
			s.hosting = room
			alive = true
		}
	})
	if err == nil && !alive {
		err = errors.New("host connection dropped")
	}
	if err != nil {
		room.shutdown(context.Background(), s.log)
		return neterr.Wrap(neterr.CouldNotCreateRoom, "host", err)
	}
	return nil
}

// announce lists the room once and keeps it listed in the background.
func (s *Session) announce(ctx context.Context, room *hostedRoom, interval time.Duration) error {
	if s.opts.Lobby == nil {
		return neterr.New(neterr.AnnounceFailed, "announce")
	}
	if interval <= 0 {
		interval = defaultAnnounceInterval
	}
	describe := func() models.RoomDescriptor { return room.srv.Descriptor(s.opts.PublicAddress) }

	err := s.opts.Lobby.Announce(ctx, describe())

	actx, cancel := context.WithCancel(context.Background())
	room.announcer = s.opts.Lobby
	room.stopAnnounce = cancel
	room.announceDone = make(chan struct{})
	go func() {
		defer close(room.announceDone)
		lobby.KeepAnnounced(actx, s.opts.Lobby, interval, describe, s.log)
	}()
	if err != nil {
		return neterr.Wrap(neterr.AnnounceFailed, "announce", err)
	}
	return nil
}

// stopHosting shuts a hosted room down after the host's own connection
// dropped. Runs on the worker.
func (s *Session) stopHosting() {
	if s.hosting == nil {
		return
	}
	room := s.hosting
	s.hosting = nil
	go room.shutdown(context.Background(), s.log)
}

// shutdown stops announcing, delists and closes the room.
func (h *hostedRoom) shutdown(ctx context.Context, log logrus.FieldLogger) {
	if h.stopAnnounce != nil {
		h.stopAnnounce()
		<-h.announceDone
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), delistTimeout)
		if err := h.announcer.Delist(dctx, h.srv.Snapshot().Info.ID); err != nil {
			log.WithError(err).Warn("failed to delist room")
		}
		cancel()
	}
	if err := h.srv.Close(ctx); err != nil {
		log.WithError(err).Warn("error closing hosted room")
	}
}

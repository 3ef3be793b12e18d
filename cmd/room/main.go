// cmd/room/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/netplay/internal/auth"
	"github.com/jason-s-yu/netplay/internal/cache"
	"github.com/jason-s-yu/netplay/internal/config"
	"github.com/jason-s-yu/netplay/internal/database"
	"github.com/jason-s-yu/netplay/internal/lobby"
	"github.com/jason-s-yu/netplay/internal/models"
	"github.com/jason-s-yu/netplay/internal/moderation"
	"github.com/jason-s-yu/netplay/internal/server"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

const (
	announceInterval = 15 * time.Second
	shutdownTimeout  = 10 * time.Second
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.LoadRoom()
	if err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openBanStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("ban list store: %v", err)
	}
	defer closeStore()

	bans, err := store.Load(ctx)
	if err != nil {
		// Keep whatever is stored; this run's bans will not be saved.
		logger.WithError(err).Warn("could not load ban list, starting with an empty one")
		store = nil
	}

	opts := server.Options{
		Name:          cfg.Name,
		Description:   cfg.Description,
		PreferredGame: cfg.Game(),
		MaxMembers:    cfg.MaxMembers,
		Visibility:    models.Visibility(cfg.Visibility),
		Password:      cfg.Password,
		BindAddress:   cfg.BindAddress,
		Port:          cfg.Port,
		BanList:       bans,
		Logger:        logger,
	}
	if store != nil {
		opts.BanStore = store
	}

	if cfg.JWTPublicKeyFile != "" {
		key, err := auth.ReadPublicKey(cfg.JWTPublicKeyFile)
		if err != nil {
			logger.Fatalf("account key: %v", err)
		}
		opts.Verifier = auth.NewVerifier(key)
	}

	if cfg.AuditQueue != "" {
		rdb, err := cache.ConnectRedis(ctx, cfg.Redis.Cache())
		if err != nil {
			logger.Fatalf("audit queue: %v", err)
		}
		defer rdb.Close()
		opts.Recorder = cache.NewAuditQueue(rdb, cfg.AuditQueue)
	}

	srv, err := server.New(opts)
	if err != nil {
		logger.Fatalf("could not create room: %v", err)
	}
	if err := srv.Start(); err != nil {
		logger.Fatalf("could not start room: %v", err)
	}

	var client *lobby.Client
	announceDone := make(chan struct{})
	actx, cancelAnnounce := context.WithCancel(ctx)
	if cfg.Public() {
		client = lobby.NewClient(cfg.LobbyURL, cfg.LobbyToken)
		describe := func() models.RoomDescriptor {
			d := srv.Descriptor(cfg.PublicAddress)
			if d.Host == "" {
				d.Host = cfg.LobbyUsername
			}
			return d
		}
		if err := client.Announce(ctx, describe()); err != nil {
			logger.WithError(err).Warn("room is up but could not be announced")
		}
		go func() {
			defer close(announceDone)
			lobby.KeepAnnounced(actx, client, announceInterval, describe, logger)
		}()
	} else {
		close(announceDone)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down room")
	case <-srv.Done():
	}

	cancelAnnounce()
	<-announceDone

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if client != nil {
		if err := client.Delist(sctx, srv.Snapshot().Info.ID); err != nil {
			logger.WithError(err).Warn("failed to delist room")
		}
	}
	if err := srv.Close(sctx); err != nil {
		logger.WithError(err).Error("room did not close cleanly")
	}
}

// openBanStore picks where the ban list lives between runs.
func openBanStore(ctx context.Context, cfg config.RoomConfig) (moderation.BanStore, func(), error) {
	if cfg.BanListSource == config.BanSourcePostgres {
		pool, err := database.ConnectDB(ctx, cfg.Postgres.Database())
		if err != nil {
			return nil, nil, err
		}
		if err := database.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return &database.BanStore{Pool: pool, RoomKey: cfg.Name}, pool.Close, nil
	}

	path := cfg.BanListFile
	if path == "" {
		path = cfg.Name + ".banlist"
	}
	return &moderation.FileStore{Path: path}, func() {}, nil
}

// cmd/lobby/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jason-s-yu/netplay/internal/auth"
	"github.com/jason-s-yu/netplay/internal/cache"
	"github.com/jason-s-yu/netplay/internal/config"
	"github.com/jason-s-yu/netplay/internal/handlers"
	"github.com/jason-s-yu/netplay/internal/lobby"
	"github.com/jason-s-yu/netplay/internal/middleware"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	cfg, err := config.LoadLobby()
	if err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}
	ttl, _ := cfg.TTL()
	tokenTTL, _ := auth.ParseTokenExpireTime(cfg.TokenExpireTime)

	if cfg.JWTPublicKeyFile != "" {
		if err := auth.InitFromPath(cfg.JWTPrivateKeyFile, cfg.JWTPublicKeyFile, tokenTTL); err != nil {
			logger.Fatalf("account keys: %v", err)
		}
	} else {
		logger.Warn("JWT_PUBLIC_KEY_FILE not set, using an ephemeral key pair")
		if err := auth.Init(tokenTTL); err != nil {
			logger.Fatalf("account keys: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var dir lobby.Directory
	switch cfg.Store {
	case "memory":
		dir = lobby.NewMemoryDirectory(ttl)
	default:
		rdb, err := cache.ConnectRedis(ctx, cfg.Redis.Cache())
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
		dir = lobby.NewRedisDirectory(rdb, ttl)
	}

	mux := http.NewServeMux()
	handlers.NewLobbyServer(dir, auth.NewVerifier(auth.PublicKey()), logger).Routes(mux)

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           middleware.LogMiddleware(logger)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()

	logger.Infof("Running on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("server exited: %v", err)
	}
}

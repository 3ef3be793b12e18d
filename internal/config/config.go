// Package config loads the room and lobby binaries' settings from the
// environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JeremyLoy/config"
	"github.com/jason-s-yu/netplay/internal/auth"
	"github.com/jason-s-yu/netplay/internal/cache"
	"github.com/jason-s-yu/netplay/internal/database"
	"github.com/jason-s-yu/netplay/internal/models"
	"github.com/jason-s-yu/netplay/internal/validation"
)

// Ban list sources for a dedicated room.
const (
	BanSourceFile     = "file"
	BanSourcePostgres = "postgres"
)

// Postgres holds the PG_* connection variables.
type Postgres struct {
	URL      string `config:"DATABASE_URL"`
	User     string `config:"POSTGRES_USER"`
	Password string `config:"POSTGRES_PASSWORD"`
	Host     string `config:"PG_HOST"`
	Port     int    `config:"PG_PORT"`
	DBName   string `config:"PG_DATABASE"`
}

// Database returns the pool settings.
func (p Postgres) Database() database.Config {
	return database.Config{URL: p.URL, User: p.User, Password: p.Password, Host: p.Host, Port: p.Port, Database: p.DBName}
}

// Redis holds REDIS_* settings.
type Redis struct {
	Addr string `config:"REDIS_ADDR"`
	DB   int    `config:"REDIS_DB"`
}

// Cache returns the client settings.
func (r Redis) Cache() cache.Config { return cache.Config{Addr: r.Addr, DB: r.DB} }

// RoomConfig configures a dedicated room server.
type RoomConfig struct {
	Name          string `config:"ROOM_NAME"`
	Description   string `config:"ROOM_DESCRIPTION"`
	BindAddress   string `config:"ROOM_BIND_ADDRESS"`
	Port          int    `config:"ROOM_PORT"`
	MaxMembers    int    `config:"ROOM_MAX_MEMBERS"`
	Password      string `config:"ROOM_PASSWORD"`
	PreferredGame string `config:"ROOM_PREFERRED_GAME"`
	GameID        uint64 `config:"ROOM_PREFERRED_GAME_ID"`
	Visibility    string `config:"ROOM_VISIBILITY"`

	BanListFile   string `config:"ROOM_BAN_LIST_FILE"`
	BanListSource string `config:"ROOM_BAN_LIST_SOURCE"`

	// PublicAddress is what the lobby lists as the room's address.
	PublicAddress string `config:"ROOM_PUBLIC_ADDRESS"`

	LobbyURL      string `config:"LOBBY_URL"`
	LobbyUsername string `config:"LOBBY_USERNAME"`
	LobbyToken    string `config:"LOBBY_TOKEN"`

	// AuditQueue, when set, pushes moderation records to this Redis list.
	AuditQueue string `config:"ROOM_AUDIT_QUEUE"`

	JWTPublicKeyFile string `config:"JWT_PUBLIC_KEY_FILE"`

	Postgres Postgres
	Redis    Redis
}

// LoadRoom reads a RoomConfig from the environment and validates it.
func LoadRoom() (RoomConfig, error) {
	cfg := RoomConfig{
		Port:          validation.DefaultRoomPort,
		MaxMembers:    validation.DefaultMaxMembers,
		Visibility:    string(models.VisibilityUnlisted),
		BanListSource: BanSourceFile,
		Redis:         Redis{Addr: "localhost:6379"},
	}
	if err := config.FromEnv().To(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to read room config: %w", err)
	}
	if err := config.FromEnv().To(&cfg.Postgres); err != nil {
		return cfg, fmt.Errorf("failed to read postgres config: %w", err)
	}
	if err := config.FromEnv().To(&cfg.Redis); err != nil {
		return cfg, fmt.Errorf("failed to read redis config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks ranges and combinations.
func (c RoomConfig) Validate() error {
	var errs []error
	if !validation.RoomName(c.Name) {
		errs = append(errs, fmt.Errorf("ROOM_NAME %q is not a valid room name", c.Name))
	}
	if !validation.Port(c.Port) {
		errs = append(errs, fmt.Errorf("ROOM_PORT %d out of range", c.Port))
	}
	if !validation.MaxMembers(c.MaxMembers) {
		errs = append(errs, fmt.Errorf("ROOM_MAX_MEMBERS must be between %d and %d", validation.MinMembers, validation.MaxConcurrentConnections))
	}
	if !models.Visibility(c.Visibility).Valid() {
		errs = append(errs, fmt.Errorf("ROOM_VISIBILITY %q must be public or unlisted", c.Visibility))
	}
	switch c.BanListSource {
	case BanSourceFile:
	case BanSourcePostgres:
		if c.Postgres.URL == "" && c.Postgres.Host == "" {
			errs = append(errs, errors.New("ROOM_BAN_LIST_SOURCE=postgres needs DATABASE_URL or PG_HOST"))
		}
	default:
		errs = append(errs, fmt.Errorf("ROOM_BAN_LIST_SOURCE %q must be file or postgres", c.BanListSource))
	}
	if c.Public() {
		if c.Game().IsZero() {
			errs = append(errs, errors.New("public rooms need ROOM_PREFERRED_GAME"))
		}
		if c.LobbyURL == "" || c.LobbyToken == "" || c.LobbyUsername == "" {
			errs = append(errs, errors.New("public rooms need LOBBY_URL, LOBBY_USERNAME and LOBBY_TOKEN"))
		}
		if !validation.IP(c.PublicAddress) {
			errs = append(errs, fmt.Errorf("ROOM_PUBLIC_ADDRESS %q is not a valid address", c.PublicAddress))
		}
	}
	return errors.Join(errs...)
}

// Public reports whether the room is announced.
func (c RoomConfig) Public() bool {
	return models.Visibility(c.Visibility) == models.VisibilityPublic
}

// Game returns the preferred game.
func (c RoomConfig) Game() models.GameInfo {
	return models.GameInfo{Name: strings.TrimSpace(c.PreferredGame), ID: c.GameID}
}

// LobbyConfig configures the lobby service.
type LobbyConfig struct {
	Port    int    `config:"LOBBY_PORT"`
	RoomTTL string `config:"LOBBY_ROOM_TTL"`

	// Store selects the directory backend: "redis" or "memory".
	Store string `config:"LOBBY_STORE"`

	JWTPublicKeyFile  string `config:"JWT_PUBLIC_KEY_FILE"`
	JWTPrivateKeyFile string `config:"JWT_PRIVATE_KEY_FILE"`
	TokenExpireTime   string `config:"TOKEN_EXPIRE_TIME"`

	Redis Redis
}

// LoadLobby reads a LobbyConfig from the environment and validates it.
func LoadLobby() (LobbyConfig, error) {
	cfg := LobbyConfig{
		Port:    8080,
		RoomTTL: "60s",
		Store:   "redis",
		Redis:   Redis{Addr: "localhost:6379"},
	}
	if err := config.FromEnv().To(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to read lobby config: %w", err)
	}
	if err := config.FromEnv().To(&cfg.Redis); err != nil {
		return cfg, fmt.Errorf("failed to read redis config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks ranges and formats.
func (c LobbyConfig) Validate() error {
	var errs []error
	if !validation.Port(c.Port) {
		errs = append(errs, fmt.Errorf("LOBBY_PORT %d out of range", c.Port))
	}
	if _, err := c.TTL(); err != nil {
		errs = append(errs, err)
	}
	if _, err := auth.ParseTokenExpireTime(c.TokenExpireTime); err != nil {
		errs = append(errs, err)
	}
	if c.Store != "redis" && c.Store != "memory" {
		errs = append(errs, fmt.Errorf("LOBBY_STORE %q must be redis or memory", c.Store))
	}
	return errors.Join(errs...)
}

// TTL parses RoomTTL.
func (c LobbyConfig) TTL() (time.Duration, error) {
	d, err := time.ParseDuration(c.RoomTTL)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("LOBBY_ROOM_TTL %q is not a positive duration", c.RoomTTL)
	}
	return d, nil
}

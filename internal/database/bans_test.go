package database

import (
	"context"
	"os"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/jason-s-yu/netplay/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	c := Config{User: "u", Password: "p", Host: "db", Database: "netplay"}
	assert.Equal(t, "postgres://u:p@db:5432/netplay", c.DSN())
	c.Port = 6543
	assert.Equal(t, "postgres://u:p@db:6543/netplay", c.DSN())
	c.URL = "postgres://override"
	assert.Equal(t, "postgres://override", c.DSN())
}

// TestBanStoreRoundTrip needs a live database; it is skipped unless PG_HOST
// is set.
func TestBanStoreRoundTrip(t *testing.T) {
	if os.Getenv("PG_HOST") == "" {
		t.Skip("PG_HOST not set")
	}
	port, _ := strconv.Atoi(os.Getenv("PG_PORT"))
	ctx := context.Background()
	pool, err := ConnectDB(ctx, Config{
		User:     os.Getenv("POSTGRES_USER"),
		Password: os.Getenv("POSTGRES_PASSWORD"),
		Host:     os.Getenv("PG_HOST"),
		Port:     port,
		Database: os.Getenv("PG_DATABASE"),
	})
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, EnsureSchema(ctx, pool))

	store := &BanStore{Pool: pool, RoomKey: "test-" + uuid.NewString()}
	t.Cleanup(func() {
		pool.Exec(context.Background(), `DELETE FROM room_bans WHERE room_key = $1`, store.RoomKey)
	})

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	entries := []models.BanEntry{
		{SubjectType: models.SubjectForumUsername, SubjectValue: "griefer"},
		{SubjectType: models.SubjectIPAddress, SubjectValue: "203.0.113.9"},
	}
	require.NoError(t, store.Save(ctx, entries))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, entries, got)

	require.NoError(t, store.Save(ctx, entries[1:]))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, entries[1:], got)
}

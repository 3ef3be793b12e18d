// internal/database/bans.go
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/netplay/internal/models"
)

// Schema creates the tables this package uses.
const Schema = `
CREATE TABLE IF NOT EXISTS room_bans (
	room_key      TEXT        NOT NULL,
	position      INTEGER     NOT NULL,
	subject_type  TEXT        NOT NULL,
	subject_value TEXT        NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (room_key, position)
)`

// EnsureSchema creates missing tables.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// BanStore persists one room's ban list, keyed by RoomKey. Entry order is
// preserved.
type BanStore struct {
	Pool    *pgxpool.Pool
	RoomKey string
}

// Load returns the stored ban list, empty if none was saved.
func (s *BanStore) Load(ctx context.Context) ([]models.BanEntry, error) {
	q := `
		SELECT subject_type, subject_value
		FROM room_bans
		WHERE room_key = $1
		ORDER BY position
	`
	rows, err := s.Pool.Query(ctx, q, s.RoomKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query bans: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.BanEntry, error) {
		var typ, value string
		err := row.Scan(&typ, &value)
		return models.BanEntry{SubjectType: models.SubjectType(typ), SubjectValue: value}, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read bans: %w", err)
	}
	return entries, nil
}

// Save replaces the stored ban list in one transaction.
func (s *BanStore) Save(ctx context.Context, entries []models.BanEntry) error {
	return pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM room_bans WHERE room_key = $1`, s.RoomKey); err != nil {
			return fmt.Errorf("failed to clear bans: %w", err)
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"room_bans"},
			[]string{"room_key", "position", "subject_type", "subject_value"},
			pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
				e := entries[i]
				return []any{s.RoomKey, i, string(e.SubjectType), e.SubjectValue}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("failed to write bans: %w", err)
		}
		return nil
	})
}

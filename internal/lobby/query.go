// internal/lobby/query.go
package lobby

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/jason-s-yu/netplay/internal/models"
	"github.com/jason-s-yu/netplay/internal/neterr"
)

// OwnedGames reports which titles the local user has.
type OwnedGames interface {
	Owns(gameID uint64) bool
}

// Lister fetches the public room list.
type Lister interface {
	List(ctx context.Context) ([]models.RoomDescriptor, error)
}

// Filters narrow the room list shown to the user.
type Filters struct {
	OwnedGamesOnly bool
	HideEmpty      bool
	HideFull       bool
	Search         string
}

// Match reports whether d passes every enabled filter. owned may be nil, in
// which case OwnedGamesOnly hides nothing.
func (f Filters) Match(d models.RoomDescriptor, owned OwnedGames) bool {
	if f.OwnedGamesOnly && owned != nil && !owned.Owns(d.PreferredGame.ID) {
		return false
	}
	if f.HideEmpty && d.CurrentPlayers == 0 {
		return false
	}
	if f.HideFull && d.Full() {
		return false
	}
	return d.Matches(f.Search)
}

// DefaultRefreshTimeout bounds a Refresh when the caller's context has no
// deadline.
const DefaultRefreshTimeout = 5 * time.Second

// Query is a filtered view over the lobby's room list.
type Query struct {
	lister Lister
	owned  OwnedGames

	mu      sync.RWMutex
	filters Filters
	rooms   []models.RoomDescriptor
}

// NewQuery returns an empty Query. owned may be nil.
func NewQuery(l Lister, owned OwnedGames) *Query {
	return &Query{lister: l, owned: owned}
}

// Refresh refetches the room list. On failure the previous list is kept and
// the error carries UnableToConnect or NoInternetConnection.
func (q *Query) Refresh(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultRefreshTimeout)
		defer cancel()
	}
	rooms, err := q.lister.List(ctx)
	if err != nil {
		code := neterr.ForConnect(neterr.Classify(err))
		if code == neterr.UnknownError {
			code = neterr.UnableToConnect
		}
		return neterr.Wrap(code, "refresh", err)
	}
	q.mu.Lock()
	q.rooms = rooms
	q.mu.Unlock()
	return nil
}

// SetFilters replaces the active filters.
func (q *Query) SetFilters(f Filters) {
	q.mu.Lock()
	q.filters = f
	q.mu.Unlock()
}

// Filters returns the active filters.
func (q *Query) Filters() Filters {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.filters
}

// Rooms yields the rooms passing the active filters. Each iteration works on
// the list and filters current when it starts.
func (q *Query) Rooms() iter.Seq[models.RoomDescriptor] {
	return func(yield func(models.RoomDescriptor) bool) {
		q.mu.RLock()
		rooms, f := q.rooms, q.filters
		q.mu.RUnlock()
		for _, d := range rooms {
			if !f.Match(d, q.owned) {
				continue
			}
			if !yield(d) {
				return
			}
		}
	}
}

// internal/lobby/directory.go
package lobby

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/netplay/internal/models"
	"github.com/jason-s-yu/netplay/internal/validation"
)

// ErrRoomNotFound is returned when a listing does not exist or has expired.
var ErrRoomNotFound = errors.New("lobby: room not found")

// DefaultRoomTTL is how long a listing lives without a re-announce.
const DefaultRoomTTL = 60 * time.Second

// Listing is a room descriptor together with the account that announced it.
type Listing struct {
	Room      models.RoomDescriptor `json:"room"`
	Owner     string                `json:"owner"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// Directory stores the public room listings of the lobby service.
type Directory interface {
	Put(ctx context.Context, l Listing) error
	Get(ctx context.Context, id uuid.UUID) (Listing, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]Listing, error)
}

// ValidateDescriptor checks an announced room before it is listed.
func ValidateDescriptor(d models.RoomDescriptor) error {
	switch {
	case d.ID == uuid.Nil:
		return errors.New("missing room id")
	case !validation.RoomName(d.Name):
		return fmt.Errorf("invalid room name %q", d.Name)
	case !validation.IP(d.Address):
		return fmt.Errorf("invalid address %q", d.Address)
	case !validation.Port(d.Port):
		return fmt.Errorf("invalid port %d", d.Port)
	case !validation.MaxMembers(d.MaxPlayers):
		return fmt.Errorf("invalid max players %d", d.MaxPlayers)
	case d.CurrentPlayers < 0 || d.CurrentPlayers > d.MaxPlayers:
		return fmt.Errorf("invalid player count %d", d.CurrentPlayers)
	case d.PreferredGame.IsZero():
		return errors.New("missing preferred game")
	}
	return nil
}

// MemoryDirectory keeps listings in process memory. It is safe for concurrent
// use.
type MemoryDirectory struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	listings map[uuid.UUID]Listing
}

// NewMemoryDirectory returns an empty MemoryDirectory. ttl <= 0 selects
// DefaultRoomTTL.
func NewMemoryDirectory(ttl time.Duration) *MemoryDirectory {
	if ttl <= 0 {
		ttl = DefaultRoomTTL
	}
	return &MemoryDirectory{
		ttl:      ttl,
		now:      time.Now,
		listings: make(map[uuid.UUID]Listing),
	}
}

func (s *MemoryDirectory) expired(l Listing) bool {
	return s.now().Sub(l.UpdatedAt) > s.ttl
}

// Put adds or refreshes a listing.
func (s *MemoryDirectory) Put(_ context.Context, l Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = s.now()
	}
	s.listings[l.Room.ID] = l
	return nil
}

// Get returns a live listing.
func (s *MemoryDirectory) Get(_ context.Context, id uuid.UUID) (Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok || s.expired(l) {
		delete(s.listings, id)
		return Listing{}, ErrRoomNotFound
	}
	return l, nil
}

// Delete removes a listing.
func (s *MemoryDirectory) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listings[id]; !ok {
		return ErrRoomNotFound
	}
	delete(s.listings, id)
	return nil
}

// List returns all live listings ordered by room name. Expired ones are
// dropped.
func (s *MemoryDirectory) List(_ context.Context) ([]Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Listing, 0, len(s.listings))
	for id, l := range s.listings {
		if s.expired(l) {
			delete(s.listings, id)
			continue
		}
		out = append(out, l)
	}
	sortListings(out)
	return out, nil
}

func sortListings(ls []Listing) {
	slices.SortFunc(ls, func(a, b Listing) int {
		if c := cmp.Compare(a.Room.Name, b.Room.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.Room.ID.String(), b.Room.ID.String())
	})
}

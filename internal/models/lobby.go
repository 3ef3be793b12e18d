// internal/models/lobby.go
package models

import (
	"strings"

	"github.com/google/uuid"
)

// Visibility controls whether a room is announced to the public lobby.
type Visibility string

const (
	// VisibilityPublic rooms are announced to the lobby service.
	VisibilityPublic Visibility = "public"
	// VisibilityUnlisted rooms are only reachable by direct address:port.
	VisibilityUnlisted Visibility = "unlisted"
)

// Valid reports whether v is one of the known visibilities.
func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityUnlisted
}

// ConnectionState is the state of the client's single room connection.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
)

// GameInfo identifies a title. The zero value means "no game".
type GameInfo struct {
	Name string `json:"name"`
	ID   uint64 `json:"id"`
}

// IsZero reports whether no game is set.
func (g GameInfo) IsZero() bool {
	return g.Name == "" && g.ID == 0
}

// RoomInfo holds the immutable properties of a hosted room.
type RoomInfo struct {
	ID            uuid.UUID  `json:"id"`
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	PreferredGame GameInfo   `json:"preferred_game"`
	MaxPlayers    int        `json:"max_players"`
	Visibility    Visibility `json:"visibility"`
	HasPassword   bool       `json:"has_password"`
	Port          int        `json:"port"`
	Version       int        `json:"version"`

	// Host is the username of the host member, empty until the host has joined
	// (and always empty for dedicated rooms).
	Host string `json:"host"`
}

// Snapshot is a consistent, deep-copied view of a room at one point in time.
type Snapshot struct {
	Info    RoomInfo   `json:"info"`
	Members []Member   `json:"members"`
	BanList []BanEntry `json:"ban_list,omitempty"`
	Version uint64     `json:"version"`
}

// Member returns the member with the given username.
func (s Snapshot) Member(username string) (Member, bool) {
	for _, m := range s.Members {
		if m.Username == username {
			return m, true
		}
	}
	return Member{}, false
}

// Public returns the view sent to room members: no ban list and no member
// addresses.
func (s Snapshot) Public() Snapshot {
	out := s
	out.BanList = nil
	out.Members = make([]Member, len(s.Members))
	for i, m := range s.Members {
		out.Members[i] = m.Public()
	}
	return out
}

// IsHost reports whether username is the room's host and is still present.
func (s Snapshot) IsHost(username string) bool {
	if s.Info.Host == "" || s.Info.Host != username {
		return false
	}
	_, ok := s.Member(username)
	return ok
}

// RoomDescriptor is the public lobby listing for a room.
type RoomDescriptor struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Address        string    `json:"address"`
	Port           int       `json:"port"`
	PreferredGame  GameInfo  `json:"preferred_game"`
	Host           string    `json:"host"`
	CurrentPlayers int       `json:"current_players"`
	MaxPlayers     int       `json:"max_players"`
	HasPassword    bool      `json:"has_password"`
	Version        int       `json:"version"`
	Members        []string  `json:"members,omitempty"`
}

// Full reports whether the room has no free slot.
func (d RoomDescriptor) Full() bool {
	return d.MaxPlayers > 0 && d.CurrentPlayers >= d.MaxPlayers
}

// Matches reports whether the lower-cased search text appears in the room name,
// the host name or the preferred game name.
func (d RoomDescriptor) Matches(search string) bool {
	search = strings.ToLower(strings.TrimSpace(search))
	if search == "" {
		return true
	}
	for _, field := range []string{d.Name, d.Host, d.PreferredGame.Name} {
		if strings.Contains(strings.ToLower(field), search) {
			return true
		}
	}
	return false
}

// DescriptorFromSnapshot builds the lobby listing for a room snapshot.
func DescriptorFromSnapshot(s Snapshot, address string) RoomDescriptor {
	names := make([]string, 0, len(s.Members))
	for _, m := range s.Members {
		names = append(names, m.Username)
	}
	return RoomDescriptor{
		ID:             s.Info.ID,
		Name:           s.Info.Name,
		Description:    s.Info.Description,
		Address:        address,
		Port:           s.Info.Port,
		PreferredGame:  s.Info.PreferredGame,
		Host:           s.Info.Host,
		CurrentPlayers: len(s.Members),
		MaxPlayers:     s.Info.MaxPlayers,
		HasPassword:    s.Info.HasPassword,
		Version:        s.Info.Version,
		Members:        names,
	}
}

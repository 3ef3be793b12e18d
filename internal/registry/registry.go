// Package registry holds the in-memory model of one room: its members, its
// ban list and the games being played. On the host it is authoritative; on a
// client it mirrors what the server broadcasts.
//
// A Registry is owned by exactly one goroutine. Every mutating method must be
// called from that goroutine. Snapshot may be called from anywhere: it
// returns the last published copy.
package registry

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/jason-s-yu/netplay/internal/auth"
	"github.com/jason-s-yu/netplay/internal/models"
	"github.com/jason-s-yu/netplay/internal/neterr"
	"github.com/jason-s-yu/netplay/internal/protocol"
	"github.com/jason-s-yu/netplay/internal/validation"
)

// ErrNotFound is returned when a member or ban entry does not exist.
var ErrNotFound = errors.New("registry: not found")

// Candidate is a join request together with what the server knows about the
// connection it arrived on.
type Candidate struct {
	Request   protocol.JoinRequest
	IPAddress string

	// ForumUsername is the verified account name, empty if the request carried
	// no valid token.
	ForumUsername string
}

// Registry is the state of one room.
type Registry struct {
	info         models.RoomInfo
	passwordHash string
	members      []models.Member
	bans         []models.BanEntry
	version      uint64

	published atomic.Pointer[models.Snapshot]
}

// New returns a registry for a room. passwordHash is an auth.HashPassword
// result, empty for open rooms.
func New(info models.RoomInfo, passwordHash string) *Registry {
	info.HasPassword = passwordHash != ""
	r := &Registry{info: info, passwordHash: passwordHash}
	r.publish()
	return r
}

// NewMirror returns an empty client-side projection.
func NewMirror() *Registry {
	r := &Registry{}
	r.publish()
	return r
}

// Snapshot returns a consistent copy of the room. Safe for concurrent use.
func (r *Registry) Snapshot() models.Snapshot {
	return *r.published.Load()
}

// Info returns the room properties.
func (r *Registry) Info() models.RoomInfo { return r.info }

// Len returns the number of members.
func (r *Registry) Len() int { return len(r.members) }

func (r *Registry) publish() {
	r.version++
	snap := &models.Snapshot{
		Info:    r.info,
		Members: slices.Clone(r.members),
		BanList: slices.Clone(r.bans),
		Version: r.version,
	}
	if snap.Members == nil {
		snap.Members = []models.Member{}
	}
	r.published.Store(snap)
}

func (r *Registry) indexOf(username string) int {
	return slices.IndexFunc(r.members, func(m models.Member) bool { return m.Username == username })
}

// Member looks up a member by username.
func (r *Registry) Member(username string) (models.Member, bool) {
	i := r.indexOf(username)
	if i < 0 {
		return models.Member{}, false
	}
	return r.members[i], true
}

// Admit runs the join checks in order and, when all pass, adds the member.
// The first failing check decides the returned *neterr.Error:
//
//	RoomIsFull, UsernameNotValid, UsernameNotValidServer, HostKickedBan,
//	WrongPassword, VersionMismatch, MacCollision, ConsoleIDCollision.
//
// A missing or malformed console ID is reported as ConsoleIDCollision, which
// tells the client to regenerate it.
//
// Bans are checked before the password and version so a banned identity
// learns nothing else about the room.
func (r *Registry) Admit(c Candidate) (models.Member, error) {
	const op = "admit"
	req := c.Request

	if r.info.MaxPlayers > 0 && len(r.members) >= r.info.MaxPlayers {
		return models.Member{}, neterr.New(neterr.RoomIsFull, op)
	}
	if !validation.Username(req.Username) {
		return models.Member{}, neterr.New(neterr.UsernameNotValid, op)
	}
	if r.indexOf(req.Username) >= 0 {
		return models.Member{}, neterr.New(neterr.UsernameNotValidServer, op)
	}
	if r.IsBanned(req.ConsoleID, c.ForumUsername, c.IPAddress) {
		return models.Member{}, neterr.New(neterr.HostKickedBan, op)
	}
	ok, err := auth.CheckPassword(req.Password, r.passwordHash)
	if err != nil {
		return models.Member{}, neterr.Wrap(neterr.UnknownError, op, err)
	}
	if !ok {
		return models.Member{}, neterr.New(neterr.WrongPassword, op)
	}
	if req.Version != protocol.Version {
		return models.Member{}, neterr.New(neterr.VersionMismatch, op)
	}

	mac := strings.ToLower(req.PreferredMAC)
	if mac != "" && r.macInUse(mac) {
		return models.Member{}, neterr.New(neterr.MacCollision, op)
	}
	if !models.ValidConsoleID(req.ConsoleID) ||
		slices.ContainsFunc(r.members, func(m models.Member) bool { return m.ConsoleID == req.ConsoleID }) {
		return models.Member{}, neterr.New(neterr.ConsoleIDCollision, op)
	}
	if mac == "" {
		if mac, err = r.freeMAC(); err != nil {
			return models.Member{}, neterr.Wrap(neterr.UnknownError, op, err)
		}
	}

	m := models.Member{
		Username:      req.Username,
		ForumUsername: c.ForumUsername,
		ConsoleID:     req.ConsoleID,
		MACAddress:    mac,
		IPAddress:     c.IPAddress,
		State:         models.MemberConnected,
		Game:          req.Game,
	}
	r.members = append(r.members, m)
	r.publish()
	return m, nil
}

func (r *Registry) macInUse(mac string) bool {
	return slices.ContainsFunc(r.members, func(m models.Member) bool { return m.MACAddress == mac })
}

// freeMAC picks a locally administered address no member uses.
func (r *Registry) freeMAC() (string, error) {
	buf := make([]byte, 4)
	for range 64 {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		mac := fmt.Sprintf("02:00:%02x:%02x:%02x:%02x", buf[0], buf[1], buf[2], buf[3])
		if !r.macInUse(mac) && mac != models.BroadcastMAC {
			return mac, nil
		}
	}
	return "", errors.New("no free mac address")
}

// SetPort records the port the room actually listens on.
func (r *Registry) SetPort(port int) {
	r.info.Port = port
	r.publish()
}

// SetHost records username as the host member.
func (r *Registry) SetHost(username string) error {
	if r.indexOf(username) < 0 {
		return fmt.Errorf("set host %q: %w", username, ErrNotFound)
	}
	r.info.Host = username
	r.publish()
	return nil
}

// Remove deletes a member and returns it.
func (r *Registry) Remove(username string) (models.Member, error) {
	i := r.indexOf(username)
	if i < 0 {
		return models.Member{}, fmt.Errorf("remove %q: %w", username, ErrNotFound)
	}
	m := r.members[i]
	r.members = slices.Delete(r.members, i, i+1)
	r.publish()
	return m, nil
}

// SetGame updates the game a member plays. It reports whether anything
// changed.
func (r *Registry) SetGame(username string, game models.GameInfo) (bool, error) {
	i := r.indexOf(username)
	if i < 0 {
		return false, fmt.Errorf("set game %q: %w", username, ErrNotFound)
	}
	if r.members[i].Game == game {
		return false, nil
	}
	r.members[i].Game = game
	r.publish()
	return true, nil
}

// AddBan appends the well-formed entries to the ban list and returns how
// many were skipped.
func (r *Registry) AddBan(entries ...models.BanEntry) int {
	n := len(r.bans)
	for _, e := range entries {
		if e.Valid() {
			r.bans = append(r.bans, e)
		}
	}
	if len(r.bans) > n {
		r.publish()
	}
	return len(entries) - (len(r.bans) - n)
}

// RemoveBan deletes every entry equal to entry.
func (r *Registry) RemoveBan(entry models.BanEntry) error {
	n := len(r.bans)
	r.bans = slices.DeleteFunc(r.bans, func(b models.BanEntry) bool { return b == entry })
	if len(r.bans) == n {
		return fmt.Errorf("unban %s %q: %w", entry.SubjectType, entry.SubjectValue, ErrNotFound)
	}
	r.publish()
	return nil
}

// ReplaceBans swaps the ban list for the valid entries of entries and
// returns how many were skipped as malformed.
func (r *Registry) ReplaceBans(entries []models.BanEntry) int {
	kept := make([]models.BanEntry, 0, len(entries))
	for _, e := range entries {
		if e.Valid() {
			kept = append(kept, e)
		}
	}
	r.bans = kept
	r.publish()
	return len(entries) - len(kept)
}

// BanList returns a copy of the ban list.
func (r *Registry) BanList() []models.BanEntry {
	return slices.Clone(r.bans)
}

// IsBanned reports whether any identity matches a ban entry. consoleID and
// forumUsername are checked against ForumUsername entries, ip against
// IPAddress entries.
func (r *Registry) IsBanned(consoleID, forumUsername, ip string) bool {
	addr, addrErr := netip.ParseAddr(ip)
	for _, b := range r.bans {
		switch b.SubjectType {
		case models.SubjectForumUsername:
			if (consoleID != "" && b.SubjectValue == consoleID) ||
				(forumUsername != "" && strings.EqualFold(b.SubjectValue, forumUsername)) {
				return true
			}
		case models.SubjectIPAddress:
			if ip == "" {
				continue
			}
			if b.SubjectValue == ip {
				return true
			}
			if banned, err := netip.ParseAddr(b.SubjectValue); err == nil && addrErr == nil && banned.Unmap() == addr.Unmap() {
				return true
			}
		}
	}
	return false
}

// Apply folds a broadcast event into the registry. Duplicate delivery is a
// no-op. It reports whether the registry changed.
func (r *Registry) Apply(ev Event) bool {
	switch e := ev.(type) {
	case MemberJoined:
		if r.indexOf(e.Member.Username) >= 0 {
			return false
		}
		r.members = append(r.members, e.Member)
	case MemberLeft:
		return r.drop(e.Username)
	case MemberKicked:
		return r.drop(e.Username)
	case MemberBanned:
		return r.drop(e.Username)
	case MemberUnbanned:
		n := len(r.bans)
		r.bans = slices.DeleteFunc(r.bans, func(b models.BanEntry) bool { return b == e.Entry })
		if len(r.bans) == n {
			return false
		}
	case GameChanged:
		i := r.indexOf(e.Username)
		if i < 0 || r.members[i].Game == e.Game {
			return false
		}
		r.members[i].Game = e.Game
	default:
		return false
	}
	r.publish()
	return true
}

func (r *Registry) drop(username string) bool {
	i := r.indexOf(username)
	if i < 0 {
		return false
	}
	r.members = slices.Delete(r.members, i, i+1)
	r.publish()
	return true
}

// Reset replaces the whole state with a server snapshot.
func (r *Registry) Reset(s models.Snapshot) {
	r.info = s.Info
	r.members = slices.Clone(s.Members)
	r.bans = slices.Clone(s.BanList)
	r.publish()
}

// Clear empties the registry, as after a disconnect.
func (r *Registry) Clear() {
	r.info = models.RoomInfo{}
	r.members = nil
	r.bans = nil
	r.publish()
}

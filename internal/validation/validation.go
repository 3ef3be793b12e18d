// Package validation holds the client-side input checks that run before any
// network call is made.
package validation

import (
	"net/netip"
	"regexp"
	"strconv"
	"strings"
)

const (
	// DefaultRoomPort is the port a room listens on when none is configured.
	DefaultRoomPort = 24872

	// MaxConcurrentConnections caps the member limit of a room.
	MaxConcurrentConnections = 254
	// MinMembers is the smallest member limit a room may be created with.
	MinMembers = 2
	// DefaultMaxMembers is used when no member limit is configured.
	DefaultMaxMembers = 16

	// MaxMessageSize is the longest chat message relayed, in bytes.
	MaxMessageSize = 500
)

var (
	nameRe     = regexp.MustCompile(`^[A-Za-z0-9]{4,20}$`)
	hostnameRe = regexp.MustCompile(`^([A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?)(\.[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?)*$`)
)

// Username reports whether s is an acceptable member name.
func Username(s string) bool {
	return nameRe.MatchString(s)
}

// RoomName reports whether s is an acceptable room name.
func RoomName(s string) bool {
	return nameRe.MatchString(s)
}

// IP accepts an address literal or a DNS hostname.
func IP(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if _, err := netip.ParseAddr(strings.Trim(s, "[]")); err == nil {
		return true
	}
	return len(s) <= 253 && hostnameRe.MatchString(s)
}

// Port reports whether p is a usable TCP port.
func Port(p int) bool {
	return p > 0 && p <= 65535
}

// PortString parses and checks a port typed as text.
func PortString(s string) (int, bool) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || !Port(p) {
		return 0, false
	}
	return p, true
}

// MaxMembers reports whether n is within the supported member limits.
func MaxMembers(n int) bool {
	return n >= MinMembers && n <= MaxConcurrentConnections
}

package models

import (
	"net/netip"
	"strings"
	"unicode"
)

// MemberState is the lifecycle state of a room member.
type MemberState string

// MemberConnected is the state of every admitted member.
const MemberConnected MemberState = "connected"

// BroadcastMAC addresses every member of a room.
const BroadcastMAC = "ff:ff:ff:ff:ff:ff"

// Member is a participant of a room.
type Member struct {
	Username string `json:"username"`

	// ForumUsername is the verified account name, empty when the member
	// joined without a valid account token.
	ForumUsername string `json:"forum_username,omitempty"`

	ConsoleID  string      `json:"console_id"`
	MACAddress string      `json:"mac_address"`
	IPAddress  string      `json:"ip_address,omitempty"`
	State      MemberState `json:"state"`
	Game       GameInfo    `json:"game"`
}

// BanIdentity is the value recorded in a ForumUsername ban entry for m: the
// console ID, so the ban holds whether or not the member rejoins with an
// account token.
func (m Member) BanIdentity() string {
	return m.ConsoleID
}

// Public returns a copy of m without the network address, as broadcast to
// other members.
func (m Member) Public() Member {
	m.IPAddress = ""
	return m
}

// SubjectType tells which identity a ban entry blocks.
type SubjectType string

const (
	SubjectForumUsername SubjectType = "forum_username"
	SubjectIPAddress     SubjectType = "ip_address"
)

// BanEntry is one persisted block rule.
type BanEntry struct {
	SubjectType  SubjectType `json:"subject_type"`
	SubjectValue string      `json:"subject_value"`
}

const maxBanSubjectLength = 64

// Valid reports whether the entry is well-formed: a non-empty single-token
// name for ForumUsername entries, a parseable address for IPAddress entries.
func (b BanEntry) Valid() bool {
	switch b.SubjectType {
	case SubjectForumUsername:
		return validSubjectName(b.SubjectValue)
	case SubjectIPAddress:
		_, err := netip.ParseAddr(b.SubjectValue)
		return err == nil
	default:
		return false
	}
}

func validSubjectName(s string) bool {
	if s == "" || len(s) > maxBanSubjectLength {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}) == -1
}

// ValidConsoleID reports whether id can identify a member and be stored in a
// ban list.
func ValidConsoleID(id string) bool { return validSubjectName(id) }

// BanEntriesFor returns the two entries a ban produces for m.
func BanEntriesFor(m Member) []BanEntry {
	return []BanEntry{
		{SubjectType: SubjectForumUsername, SubjectValue: m.BanIdentity()},
		{SubjectType: SubjectIPAddress, SubjectValue: m.IPAddress},
	}
}

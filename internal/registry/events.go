package registry

import "github.com/jason-s-yu/netplay/internal/models"

// Event is a change to room membership or state. The set of variants is
// closed: MemberJoined, MemberLeft, MemberKicked, MemberBanned,
// MemberUnbanned and GameChanged.
type Event interface {
	// Subject is the username (or unbanned subject value) the event is about.
	Subject() string
	isEvent()
}

// MemberJoined is emitted when a member is admitted.
type MemberJoined struct{ Member models.Member }

// MemberLeft is emitted when a member leaves or drops.
type MemberLeft struct{ Username string }

// MemberKicked is emitted when the host removes a member.
type MemberKicked struct{ Username string }

// MemberBanned is emitted when the host removes and bans a member.
type MemberBanned struct{ Username string }

// MemberUnbanned is emitted when the host lifts a ban entry.
type MemberUnbanned struct{ Entry models.BanEntry }

// GameChanged is emitted when a member reports a new game.
type GameChanged struct {
	Username string
	Game     models.GameInfo
}

func (e MemberJoined) Subject() string   { return e.Member.Username }
func (e MemberLeft) Subject() string     { return e.Username }
func (e MemberKicked) Subject() string   { return e.Username }
func (e MemberBanned) Subject() string   { return e.Username }
func (e MemberUnbanned) Subject() string { return e.Entry.SubjectValue }
func (e GameChanged) Subject() string    { return e.Username }

func (MemberJoined) isEvent()   {}
func (MemberLeft) isEvent()     {}
func (MemberKicked) isEvent()   {}
func (MemberBanned) isEvent()   {}
func (MemberUnbanned) isEvent() {}
func (GameChanged) isEvent()    {}

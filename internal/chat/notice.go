package chat

import (
	"fmt"

	"github.com/jason-s-yu/netplay/internal/registry"
)

// NoticeKind is the kind of a system notice.
type NoticeKind string

const (
	NoticeJoined   NoticeKind = "joined"
	NoticeLeft     NoticeKind = "left"
	NoticeKicked   NoticeKind = "kicked"
	NoticeBanned   NoticeKind = "banned"
	NoticeUnbanned NoticeKind = "unbanned"
)

// Notice is a system message about one member.
type Notice struct {
	Kind     NoticeKind
	Username string
}

// Text renders the notice for display.
func (n Notice) Text() string {
	switch n.Kind {
	case NoticeJoined:
		return fmt.Sprintf("%s has joined", n.Username)
	case NoticeLeft:
		return fmt.Sprintf("%s has left", n.Username)
	case NoticeKicked:
		return fmt.Sprintf("%s has been kicked", n.Username)
	case NoticeBanned:
		return fmt.Sprintf("%s has been banned", n.Username)
	case NoticeUnbanned:
		return fmt.Sprintf("%s has been unbanned", n.Username)
	default:
		return n.Username
	}
}

// NoticeFor returns the notice a membership event produces. GameChanged
// produces none.
func NoticeFor(ev registry.Event) (Notice, bool) {
	switch e := ev.(type) {
	case registry.MemberJoined:
		return Notice{Kind: NoticeJoined, Username: e.Member.Username}, true
	case registry.MemberLeft:
		return Notice{Kind: NoticeLeft, Username: e.Username}, true
	case registry.MemberKicked:
		return Notice{Kind: NoticeKicked, Username: e.Username}, true
	case registry.MemberBanned:
		return Notice{Kind: NoticeBanned, Username: e.Username}, true
	case registry.MemberUnbanned:
		return Notice{Kind: NoticeUnbanned, Username: e.Entry.SubjectValue}, true
	}
	return Notice{}, false
}

// Package chat fans chat lines and system notices out to room members and
// filters what a viewer chooses not to see.
package chat

import (
	"errors"
	"strings"
	"sync"

	"github.com/jason-s-yu/netplay/internal/protocol"
	"github.com/jason-s-yu/netplay/internal/validation"
	"github.com/sirupsen/logrus"
)

var (
	// ErrEmptyMessage is returned for blank chat lines; nothing is relayed.
	ErrEmptyMessage = errors.New("chat: empty message")
	// ErrMessageTooLong is returned for lines over validation.MaxMessageSize.
	ErrMessageTooLong = errors.New("chat: message too long")
)

// Sink receives encoded frames for one member. Send must not block; it
// reports false when the frame was dropped.
type Sink interface {
	Send(frame []byte) bool
}

// Relay delivers chat and notices to every registered member in the order
// they were relayed.
type Relay struct {
	mu    sync.Mutex
	sinks map[string]Sink
	order []string
	log   logrus.FieldLogger
}

// NewRelay returns an empty relay.
func NewRelay(log logrus.FieldLogger) *Relay {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Relay{sinks: make(map[string]Sink), log: log}
}

// Register adds a member's sink, replacing any previous one.
func (r *Relay) Register(username string, s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sinks[username]; !ok {
		r.order = append(r.order, username)
	}
	r.sinks[username] = s
}

// Unregister removes a member. Unknown names are ignored.
func (r *Relay) Unregister(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sinks[username]; !ok {
		return
	}
	delete(r.sinks, username)
	for i, name := range r.order {
		if name == username {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of registered members.
func (r *Relay) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sinks)
}

// CheckMessage validates a chat line before it is sent or relayed.
func CheckMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if len(text) > validation.MaxMessageSize {
		return ErrMessageTooLong
	}
	return nil
}

// Chat relays text verbatim, attributed to sender.
func (r *Relay) Chat(sender, text string) error {
	if err := CheckMessage(text); err != nil {
		return err
	}
	return r.Broadcast(protocol.TypeChat, protocol.Chat{Username: sender, Message: text})
}

// Notify relays a system notice about username.
func (r *Relay) Notify(kind NoticeKind, username string) error {
	return r.Broadcast(protocol.TypeStatus, protocol.Status{Kind: string(kind), Username: username})
}

// Broadcast encodes one frame and hands it to every sink.
func (r *Relay) Broadcast(msgType string, payload any) error {
	frame, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}
	r.BroadcastFrame(frame, "")
	return nil
}

// BroadcastFrame sends an already encoded frame to every sink except skip.
func (r *Relay) BroadcastFrame(frame []byte, skip string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range r.order {
		if name == skip {
			continue
		}
		if !r.sinks[name].Send(frame) {
			r.log.WithField("member", name).Warn("dropping frame: outbound queue full")
		}
	}
}

// SendTo delivers a frame to a single member.
func (r *Relay) SendTo(username string, frame []byte) bool {
	r.mu.Lock()
	s, ok := r.sinks[username]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return s.Send(frame)
}

package chat

import (
	"errors"
	"sync"
)

// ErrBlockSelf is returned when a viewer tries to block themselves.
var ErrBlockSelf = errors.New("chat: cannot block yourself")

// BlockList is a viewer's local set of muted members. It is never sent to
// the room.
type BlockList struct {
	mu      sync.RWMutex
	self    string
	blocked map[string]struct{}
}

// NewBlockList returns an empty block list for the viewer self.
func NewBlockList(self string) *BlockList {
	return &BlockList{self: self, blocked: make(map[string]struct{})}
}

// SetSelf changes the viewer name, as after reconnecting under a new name.
func (b *BlockList) SetSelf(self string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.self = self
}

func (b *BlockList) Block(username string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if username == b.self {
		return ErrBlockSelf
	}
	b.blocked[username] = struct{}{}
	return nil
}

func (b *BlockList) Unblock(username string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blocked, username)
}

func (b *BlockList) IsBlocked(username string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.blocked[username]
	return ok
}

// Filter reports whether a chat line from sender should be shown.
func (b *BlockList) Filter(sender string) bool {
	return !b.IsBlocked(sender)
}

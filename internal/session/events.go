package session

import (
	"sync"

	"github.com/jason-s-yu/netplay/internal/chat"
	"github.com/jason-s-yu/netplay/internal/models"
	"github.com/jason-s-yu/netplay/internal/neterr"
	"github.com/jason-s-yu/netplay/internal/protocol"
	"github.com/jason-s-yu/netplay/internal/registry"
)

// Event is delivered on Session.Events. The variants are StateChanged,
// RoomEvent, ChatReceived, StatusReceived, GameDataReceived, ErrorRaised and
// BanListReceived.
type Event interface{ isSessionEvent() }

// StateChanged reports a connection state transition.
type StateChanged struct {
	State models.ConnectionState
}

// RoomEvent wraps a membership change applied to the local room mirror.
type RoomEvent struct {
	Event registry.Event
}

// ChatReceived is a chat line from a member that is not blocked.
type ChatReceived struct {
	Username string
	Message  string
}

// StatusReceived is a system notice.
type StatusReceived struct {
	Notice chat.Notice
}

// GameDataReceived is a game-state frame addressed to this member.
type GameDataReceived struct {
	Data protocol.GameData
}

// ErrorRaised reports a classified failure, including the AnnounceFailed
// warning.
type ErrorRaised struct {
	Code neterr.Code
	Err  error
}

// BanListReceived carries the ban list sent to the host.
type BanListReceived struct {
	Entries []models.BanEntry
}

func (StateChanged) isSessionEvent()     {}
func (RoomEvent) isSessionEvent()        {}
func (ChatReceived) isSessionEvent()     {}
func (StatusReceived) isSessionEvent()   {}
func (GameDataReceived) isSessionEvent() {}
func (ErrorRaised) isSessionEvent()      {}
func (BanListReceived) isSessionEvent()  {}

// dispatcher is an unbounded FIFO between the session worker and the
// consumer of Events, so the worker never blocks on a slow reader.
type dispatcher struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool

	out  chan Event
	done chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{out: make(chan Event), done: make(chan struct{})}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

func (d *dispatcher) emit(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.queue = append(d.queue, ev)
	d.cond.Signal()
}

func (d *dispatcher) run() {
	defer close(d.out)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		ev := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()

		select {
		case d.out <- ev:
		case <-d.done:
			return
		}
	}
}

// close stops accepting events. Queued events are still delivered until
// abandon is called.
func (d *dispatcher) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.cond.Signal()
}

func (d *dispatcher) abandon() {
	d.close()
	select {
	case <-d.done:
	default:
		close(d.done)
	}
}

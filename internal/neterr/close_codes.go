package neterr

import "github.com/coder/websocket"

// Custom WebSocket close codes used by the room server.
const (
	CloseBadSubprotocol websocket.StatusCode = 3000 // Client did not speak the room subprotocol.
	CloseJoinRejected   websocket.StatusCode = 3001 // Join was refused; the reason travels in join_rejected.
	CloseKicked         websocket.StatusCode = 3002 // Removed by the host.
	CloseBanned         websocket.StatusCode = 3003 // Removed and banned by the host.
	CloseRoomClosed     websocket.StatusCode = 3004 // The room shut down.
	CloseHandshake      websocket.StatusCode = 3005 // No join request arrived in time.
)

// CloseCodeFor returns the close code the server uses when dropping a member
// for the given reason.
func CloseCodeFor(code Code) websocket.StatusCode {
	switch code {
	case Kicked:
		return CloseKicked
	case HostKickedBan:
		return CloseBanned
	case LostConnection:
		return CloseRoomClosed
	default:
		return CloseJoinRejected
	}
}

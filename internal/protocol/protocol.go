// Package protocol defines the JSON messages exchanged between a room server
// and its members over a websocket connection.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/jason-s-yu/netplay/internal/models"
	"github.com/jason-s-yu/netplay/internal/neterr"
)

// Version is the room protocol version. Joins with a different version are
// rejected with VersionMismatch.
const Version = 4

// Subprotocol is the websocket subprotocol both ends must negotiate.
const Subprotocol = "room"

// RoomPath is the HTTP path the room server accepts members on.
const RoomPath = "/room"

// Message types.
const (
	TypeJoinRequest    = "join_request"
	TypeJoinAccepted   = "join_accepted"
	TypeJoinRejected   = "join_rejected"
	TypeMemberJoined   = "member_joined"
	TypeMemberLeft     = "member_left"
	TypeMemberKicked   = "member_kicked"
	TypeMemberBanned   = "member_banned"
	TypeMemberUnbanned = "member_unbanned"
	TypeGameChanged    = "game_changed"
	TypeChat           = "chat"
	TypeStatus         = "status"
	TypeGameData       = "game_data"
	TypeModKick        = "mod_kick"
	TypeModBan         = "mod_ban"
	TypeModUnban       = "mod_unban"
	TypeModGetBanList  = "mod_get_ban_list"
	TypeModResult      = "mod_result"
	TypeBanList        = "ban_list"
	TypeUpdateGame     = "update_game"
	TypeRoomClosed     = "room_closed"
)

// Envelope wraps every frame on the wire.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode marshals payload into an envelope of the given type.
func Encode(msgType string, payload any) ([]byte, error) {
	env := Envelope{Type: msgType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// Decode parses a frame into its envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}

// Into unmarshals the envelope payload into v.
func (e Envelope) Into(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s: %w", e.Type, err)
	}
	return nil
}

// JoinRequest is the first frame a member sends.
type JoinRequest struct {
	Username     string          `json:"username"`
	ConsoleID    string          `json:"console_id"`
	PreferredMAC string          `json:"preferred_mac,omitempty"`
	Password     string          `json:"password,omitempty"`
	Version      int             `json:"version"`
	Game         models.GameInfo `json:"game"`

	// Token is an account token used to verify the member's forum username.
	Token string `json:"token,omitempty"`
	// HostToken identifies the member that hosts the room.
	HostToken string `json:"host_token,omitempty"`
}

// JoinAccepted answers a successful join with the admitted member and the
// room state that includes it.
type JoinAccepted struct {
	Member   models.Member   `json:"member"`
	Snapshot models.Snapshot `json:"snapshot"`
}

// JoinRejected carries the admission failure. The server closes the
// connection right after sending it.
type JoinRejected struct {
	Code neterr.Code `json:"code"`
}

// MemberJoined announces a newly admitted member.
type MemberJoined struct {
	Member models.Member `json:"member"`
}

// MemberRemoved is the payload of member_left, member_kicked and
// member_banned.
type MemberRemoved struct {
	Username string `json:"username"`
}

// MemberUnbanned reports a removed ban entry.
type MemberUnbanned struct {
	Entry models.BanEntry `json:"entry"`
}

// GameChanged reports the game a member is now playing.
type GameChanged struct {
	Username string          `json:"username"`
	Game     models.GameInfo `json:"game"`
}

// Chat is a chat line. Members send only Message; the server fills in the
// sender.
type Chat struct {
	Username string `json:"username,omitempty"`
	Message  string `json:"message"`
}

// Status is a system notification about a member.
type Status struct {
	Kind     string `json:"kind"`
	Username string `json:"username"`
}

// GameData is an opaque game-state frame addressed by MAC address. A
// Destination of models.BroadcastMAC reaches every other member.
type GameData struct {
	Source      string `json:"source,omitempty"`
	Destination string `json:"destination"`
	Channel     int    `json:"channel"`
	Data        []byte `json:"data"`
}

// ModRequest asks the server to kick or ban a member.
type ModRequest struct {
	RequestID string `json:"request_id"`
	Username  string `json:"username"`
}

// ModUnban asks the server to remove a ban entry.
type ModUnban struct {
	RequestID string          `json:"request_id"`
	Entry     models.BanEntry `json:"entry"`
}

// ModGetBanList asks the server for the current ban list.
type ModGetBanList struct {
	RequestID string `json:"request_id"`
}

// ModResult answers a moderation request.
type ModResult struct {
	RequestID string      `json:"request_id"`
	OK        bool        `json:"ok"`
	Code      neterr.Code `json:"code,omitempty"`
}

// BanList answers mod_get_ban_list.
type BanList struct {
	RequestID string            `json:"request_id"`
	Entries   []models.BanEntry `json:"entries"`
}

// UpdateGame tells the server which game the member is playing.
type UpdateGame struct {
	Game models.GameInfo `json:"game"`
}

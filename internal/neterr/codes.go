// Package neterr classifies every failure of the room subsystem into a closed
// set of codes that callers can branch on.
package neterr

// Code is a user-actionable failure condition.
type Code int

const (
	// UnknownError is the fallback for failures nothing else matches.
	UnknownError Code = iota
	UsernameNotValid
	RoomNameNotValid
	UsernameNotValidServer
	IPNotValid
	PortNotValid
	NoPreferredGame
	NoInternetConnection
	UnableToConnect
	RoomIsFull
	CouldNotCreateRoom
	HostKickedBan
	VersionMismatch
	WrongPassword
	MacCollision
	ConsoleIDCollision
	PermissionDenied
	TargetNotFound
	LostConnection
	Kicked

	// AnnounceFailed is a warning: the room stays up but is not listed.
	AnnounceFailed
)

// Category groups codes by the stage at which they arise.
type Category int

const (
	CategoryFatal Category = iota
	CategoryValidation
	CategoryAdmission
	CategoryTransport
	CategoryPermission
	CategoryWarning
)

func (c Category) String() string {
	switch c {
	case CategoryValidation:
		return "validation"
	case CategoryAdmission:
		return "admission"
	case CategoryTransport:
		return "transport"
	case CategoryPermission:
		return "permission"
	case CategoryWarning:
		return "warning"
	default:
		return "fatal"
	}
}

var codeNames = map[Code]string{
	UnknownError:           "UnknownError",
	UsernameNotValid:       "UsernameNotValid",
	RoomNameNotValid:       "RoomNameNotValid",
	UsernameNotValidServer: "UsernameNotValidServer",
	IPNotValid:             "IpNotValid",
	PortNotValid:           "PortNotValid",
	NoPreferredGame:        "NoPreferredGame",
	NoInternetConnection:   "NoInternetConnection",
	UnableToConnect:        "UnableToConnect",
	RoomIsFull:             "RoomIsFull",
	CouldNotCreateRoom:     "CouldNotCreateRoom",
	HostKickedBan:          "HostKickedBan",
	VersionMismatch:        "VersionMismatch",
	WrongPassword:          "WrongPassword",
	MacCollision:           "MacCollision",
	ConsoleIDCollision:     "ConsoleIdCollision",
	PermissionDenied:       "PermissionDenied",
	TargetNotFound:         "TargetNotFound",
	LostConnection:         "LostConnection",
	Kicked:                 "Kicked",
	AnnounceFailed:         "AnnounceFailed",
}

var codeMessages = map[Code]string{
	UnknownError:           "An unknown error occurred. If this error continues to occur, please open an issue.",
	UsernameNotValid:       "Username is not valid. Must be 4 to 20 alphanumeric characters.",
	RoomNameNotValid:       "Room name is not valid. Must be 4 to 20 alphanumeric characters.",
	UsernameNotValidServer: "Username is already in use or not valid. Please choose another.",
	IPNotValid:             "IP is not a valid IPv4 address or hostname.",
	PortNotValid:           "Port must be a number between 0 to 65535.",
	NoPreferredGame:        "You must choose a Preferred Game to host a public room.",
	NoInternetConnection:   "Unable to find an internet connection. Check your internet settings.",
	UnableToConnect:        "Unable to connect to the host. Verify that the connection settings are correct.",
	RoomIsFull:             "Unable to connect to the room because it is already full.",
	CouldNotCreateRoom:     "Creating a room failed. Please retry. Restarting may be necessary.",
	HostKickedBan:          "The host of the room has banned you.",
	VersionMismatch:        "Version mismatch! Please update to the latest version. If the problem persists, contact the room host.",
	WrongPassword:          "Incorrect password.",
	MacCollision:           "MAC address is already in use. Please choose another.",
	ConsoleIDCollision:     "Your Console ID conflicted with someone else's in the room. Please regenerate your Console ID.",
	PermissionDenied:       "You do not have enough permission to perform this action.",
	TargetNotFound:         "The user you are trying to kick/ban could not be found.\nThey may have left the room.",
	LostConnection:         "Connection to room lost. Try to reconnect.",
	Kicked:                 "You have been kicked by the room host.",
	AnnounceFailed:         "Failed to announce the room to the public lobby. The room remains joinable by address.",
}

// String returns the stable wire name of the code.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return codeNames[UnknownError]
}

// Message returns user-facing text for the code.
func (c Code) Message() string {
	if msg, ok := codeMessages[c]; ok {
		return msg
	}
	return codeMessages[UnknownError]
}

// Known reports whether c belongs to the closed set.
func (c Code) Known() bool {
	_, ok := codeNames[c]
	return ok
}

// Category returns the stage that produces c.
func (c Code) Category() Category {
	switch c {
	case UsernameNotValid, RoomNameNotValid, IPNotValid, PortNotValid, NoPreferredGame, CouldNotCreateRoom:
		return CategoryValidation
	case UsernameNotValidServer, RoomIsFull, HostKickedBan, VersionMismatch, WrongPassword, MacCollision, ConsoleIDCollision:
		return CategoryAdmission
	case NoInternetConnection, UnableToConnect, LostConnection, Kicked:
		return CategoryTransport
	case PermissionDenied, TargetNotFound:
		return CategoryPermission
	case AnnounceFailed:
		return CategoryWarning
	default:
		return CategoryFatal
	}
}

// IsCreateRoomFailure reports whether c is one of the codes that stop a room
// from being hosted.
func (c Code) IsCreateRoomFailure() bool {
	switch c {
	case CouldNotCreateRoom, NoPreferredGame, RoomNameNotValid, PortNotValid:
		return true
	}
	return false
}

// ParseCode maps a wire name back to its code. Unrecognized names are
// UnknownError.
func ParseCode(name string) Code {
	for code, n := range codeNames {
		if n == name {
			return code
		}
	}
	return UnknownError
}

// MarshalText implements encoding.TextMarshaler so codes travel as names.
func (c Code) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Code) UnmarshalText(b []byte) error {
	*c = ParseCode(string(b))
	return nil
}

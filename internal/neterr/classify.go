package neterr

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/coder/websocket"
)

// Classify maps any error, wrapped or raw, to a code. A nil error and
// anything unrecognized map to UnknownError.
func Classify(err error) Code {
	if err == nil {
		return UnknownError
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified.Code
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return UnableToConnect
	}

	switch websocket.CloseStatus(err) {
	case -1:
	case CloseKicked, CloseBanned:
		return Kicked
	default:
		return LostConnection
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return UnableToConnect
		}
		return NoInternetConnection
	}

	switch {
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETDOWN):
		return NoInternetConnection
	case errors.Is(err, syscall.ECONNREFUSED):
		return UnableToConnect
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE), errors.Is(err, syscall.ECONNABORTED):
		return LostConnection
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return UnableToConnect
	}

	return UnknownError
}

// ForConnect adjusts a code for failures that happen before the session is
// established: a dropped socket during the handshake means the host could not
// be reached.
func ForConnect(code Code) Code {
	if code == LostConnection {
		return UnableToConnect
	}
	return code
}

// ForSession adjusts a code for failures on an established session: a timeout
// there means the connection was lost.
func ForSession(code Code) Code {
	if code == UnableToConnect || code == NoInternetConnection {
		return LostConnection
	}
	return code
}

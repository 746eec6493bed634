package link

import (
	"errors"
	"net"
	"os"
)

var (
	// ErrHandshake covers identity mismatches, timeouts and I/O errors before a link is established.
	ErrHandshake = errors.New("handshake failed")
	// ErrTransport is a read or write failure on an established link.
	ErrTransport = errors.New("transport failure")
	// ErrUnreachable is returned when sending to a neighbour without an outbound connection.
	ErrUnreachable = errors.New("neighbour unreachable")
	// ErrBind is returned when the listener cannot be opened.
	ErrBind      = errors.New("cannot bind listener")
	ErrQueueFull = errors.New("send queue full")
	ErrClosed    = errors.New("connection closed")
)

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

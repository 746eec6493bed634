package link

import (
	"fmt"
	"net"
	"time"

	"github.com/encodeous/dvrouter/protocol"
	"github.com/encodeous/dvrouter/state"
)

func writeMsg(conn net.Conn, m protocol.Message) error {
	raw, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	_, err = conn.Write(raw)
	return err
}

// clientHandshake says HELLO and expects the dialed peer to answer with its own
// identity. The peer acknowledges with WELCOME; a HELLO answer is accepted as well.
func clientHandshake(conn net.Conn, self, peer state.NodeId, timeout time.Duration) error {
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	if err := writeMsg(conn, protocol.NewHello(self)); err != nil {
		return fmt.Errorf("%w: sending hello: %w", ErrHandshake, err)
	}
	m, err := protocol.NewDecoder(conn).Decode()
	if err != nil {
		return fmt.Errorf("%w: reading welcome: %w", ErrHandshake, err)
	}
	if m.From != peer {
		return fmt.Errorf("%w: expected %s, got %s", ErrHandshake, peer, m.From)
	}
	if m.Kind != protocol.Welcome && m.Kind != protocol.Hello {
		return fmt.Errorf("%w: expected WELCOME, got %s", ErrHandshake, m.Kind)
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	return nil
}

// serverHandshake waits for the peer's HELLO, answers WELCOME and returns the
// declared identity. dec is kept by the caller for the rest of the stream.
func serverHandshake(conn net.Conn, dec *protocol.Decoder, self state.NodeId, timeout time.Duration) (state.NodeId, error) {
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return "", fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	m, err := dec.Decode()
	if err != nil {
		return "", fmt.Errorf("%w: reading hello: %w", ErrHandshake, err)
	}
	if m.Kind != protocol.Hello {
		return "", fmt.Errorf("%w: expected HELLO, got %s", ErrHandshake, m.Kind)
	}
	if m.From == self {
		return "", fmt.Errorf("%w: peer claims our identity %s", ErrHandshake, self)
	}
	if err := writeMsg(conn, protocol.NewWelcome(self)); err != nil {
		return "", fmt.Errorf("%w: sending welcome: %w", ErrHandshake, err)
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return "", fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	return m.From, nil
}

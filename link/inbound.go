package link

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/encodeous/dvrouter/protocol"
	"github.com/encodeous/dvrouter/state"
	"github.com/google/uuid"
)

// Inbound is the receiving half of a neighbour link, created for every accepted socket.
type Inbound struct {
	id        state.NodeId
	cid       uuid.UUID
	conn      net.Conn
	dec       *protocol.Decoder
	lastAlive atomic.Int64
	done      chan struct{}
	once      sync.Once
	reg       *Registry
	cfg       *Config
	log       *slog.Logger
}

func newInbound(conn net.Conn, reg *Registry, cfg *Config) *Inbound {
	cid := uuid.New()
	return &Inbound{
		cid:  cid,
		conn: conn,
		dec:  protocol.NewDecoder(conn),
		done: make(chan struct{}),
		reg:  reg,
		cfg:  cfg,
		log:  cfg.Log.With("dir", dirInbound, "conn", cid.String()),
	}
}

// Id is the identity the peer declared during the handshake.
func (i *Inbound) Id() state.NodeId {
	return i.id
}

// RemoteAddr is the address the peer connected from.
func (i *Inbound) RemoteAddr() net.Addr {
	return i.conn.RemoteAddr()
}

// LastAliveAt is when the last message from the peer was decoded.
func (i *Inbound) LastAliveAt() time.Time {
	return time.Unix(0, i.lastAlive.Load())
}

func (i *Inbound) touch() {
	i.lastAlive.Store(i.cfg.Now().UnixNano())
}

// Stopped reports whether Close has been called.
func (i *Inbound) Stopped() bool {
	select {
	case <-i.done:
		return true
	default:
		return false
	}
}

// Close closes the socket, waking the blocked reader.
func (i *Inbound) Close() {
	i.once.Do(func() {
		close(i.done)
		_ = i.conn.Close()
	})
}

// serve runs the handshake and then reads until the link fails or is closed.
func (i *Inbound) serve() {
	id, err := serverHandshake(i.conn, i.dec, i.cfg.Self, i.cfg.HandshakeTimeout)
	if err != nil {
		i.cfg.Metrics.Handshakes.WithLabelValues(dirInbound, resultFail).Inc()
		if !i.Stopped() {
			i.log.Warn("inbound handshake failed", "remote", i.conn.RemoteAddr(), "err", err)
		}
		i.Close()
		return
	}
	i.cfg.Metrics.Handshakes.WithLabelValues(dirInbound, resultOk).Inc()
	i.id = id
	i.log = i.log.With("peer", id)
	i.touch()
	i.log.Info("inbound link established", "remote", i.conn.RemoteAddr())
	i.reg.AddInbound(i)

	err = i.readLoop()
	if i.Stopped() {
		i.log.Debug("reader stopped")
		return
	}
	if errors.Is(err, io.EOF) {
		i.log.Info("link closed by peer")
	} else {
		i.log.Warn("link lost", "err", err)
	}
	i.Close()
	i.reg.dropInbound(i, reasonRead)
}

func (i *Inbound) readLoop() error {
	for {
		m, err := i.dec.Decode()
		if i.Stopped() {
			return ErrClosed
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}
		if m.From != i.id {
			return fmt.Errorf("%w: %w: message from %s on link from %s", ErrTransport, protocol.ErrMalformed, m.From, i.id)
		}
		i.touch()
		i.cfg.Metrics.Messages.WithLabelValues(dirInbound, m.Kind.String()).Inc()
		switch m.Kind {
		case protocol.Dv:
			i.reg.engine.ReceivePacket(m)
		case protocol.KeepAlive:
		default:
			i.log.Debug("ignoring message on established link", "kind", m.Kind)
		}
	}
}

package link

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/encodeous/dvrouter/state"
	"github.com/google/uuid"
)

// Outbound is the sending half of a neighbour link. Any goroutine may Enqueue;
// only the writer goroutine started by run touches the socket after the handshake.
type Outbound struct {
	id     state.NodeId
	cid    uuid.UUID
	conn   net.Conn
	queue  chan []byte
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
	mu     sync.Mutex // orders Enqueue against Close
	reg    *Registry
	cfg    *Config
	log    *slog.Logger
}

func newOutbound(conn net.Conn, id state.NodeId, reg *Registry, cfg *Config) *Outbound {
	cid := uuid.New()
	return &Outbound{
		id:     id,
		cid:    cid,
		conn:   conn,
		queue:  make(chan []byte, cfg.QueueSize),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		reg:    reg,
		cfg:    cfg,
		log:    cfg.Log.With("peer", id, "dir", dirOutbound, "conn", cid.String()),
	}
}

// Id is the neighbour this connection sends to.
func (o *Outbound) Id() state.NodeId {
	return o.id
}

// RemoteAddr is the address the connection was dialled to.
func (o *Outbound) RemoteAddr() net.Addr {
	return o.conn.RemoteAddr()
}

// Enqueue queues an encoded message without blocking. Messages queued to one
// neighbour are written in the order they were queued. Once Close has returned,
// every Enqueue fails with ErrClosed.
func (o *Outbound) Enqueue(raw []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	select {
	case <-o.done:
		return ErrClosed
	default:
	}
	select {
	case o.queue <- raw:
		return nil
	default:
		o.cfg.Metrics.SendErrors.WithLabelValues("queue_full").Inc()
		return fmt.Errorf("%w: %s", ErrQueueFull, o.id)
	}
}

// Stopped reports whether Close has been called.
func (o *Outbound) Stopped() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}

// Close stops the writer and closes the socket, waking a blocked write.
func (o *Outbound) Close() {
	o.once.Do(func() {
		o.mu.Lock()
		close(o.done)
		o.mu.Unlock()
		_ = o.conn.Close()
	})
}

// Wait blocks until the writer goroutine has exited.
func (o *Outbound) Wait() {
	<-o.exited
}

func (o *Outbound) run() {
	defer close(o.exited)
	o.log.Debug("writer started")
	for {
		select {
		case <-o.done:
			if n := len(o.queue); n > 0 {
				o.cfg.Metrics.SendErrors.WithLabelValues("closed").Add(float64(n))
				o.log.Debug("writer stopped with messages queued", "dropped", n)
			} else {
				o.log.Debug("writer stopped")
			}
			return
		case raw := <-o.queue:
			err := o.write(raw)
			if err == nil {
				continue
			}
			if o.Stopped() {
				return
			}
			o.log.Warn("link lost", "err", err)
			o.Close()
			o.reg.dropOutbound(o, reasonWrite)
			return
		}
	}
}

// write returns an error only when the stream can no longer be used. A write that
// times out before any byte left is dropped and the writer moves on.
func (o *Outbound) write(raw []byte) error {
	if err := o.conn.SetWriteDeadline(time.Now().Add(o.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	n, err := o.conn.Write(raw)
	if err == nil {
		return nil
	}
	if isTimeout(err) && n == 0 {
		o.cfg.Metrics.SendErrors.WithLabelValues("timeout").Inc()
		o.log.Warn("write timed out, dropping message", "err", err)
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

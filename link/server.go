package link

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/encodeous/dvrouter/state"
	"golang.org/x/sync/errgroup"
)

// Server accepts neighbour connections and dials outbound ones.
type Server struct {
	cfg      *Config
	reg      *Registry
	log      *slog.Logger
	listener net.Listener
	stopped  atomic.Bool
	pool     errgroup.Group
	accepted chan struct{}

	mu      sync.Mutex
	serving map[*Inbound]struct{}

	// Fatal is called when accepting fails for a reason other than Stop. The
	// accept loop has exited by then.
	Fatal func(err error)
}

// NewServer creates a server registering its connections in reg.
func NewServer(reg *Registry) *Server {
	return &Server{
		cfg:      reg.cfg,
		reg:      reg,
		log:      reg.cfg.Log.With("module", "server"),
		accepted: make(chan struct{}),
		serving:  make(map[*Inbound]struct{}),
	}
}

// Start binds the listener and serves at most workers inbound connections at once.
// Port 0 picks an ephemeral port, see Addr.
func (s *Server) Start(ctx context.Context, port uint16, workers int) error {
	if workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1", ErrBind)
	}
	lc := net.ListenConfig{}
	addr := net.JoinHostPort(s.cfg.ListenHost, strconv.Itoa(int(port)))
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBind, addr, err)
	}
	s.listener = listener
	s.pool.SetLimit(workers)
	s.log.Info("listening on", "addr", listener.Addr(), "workers", workers)
	go s.acceptLoop()
	return nil
}

// Addr is the bound listener address. Only valid after a successful Start.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) acceptLoop() {
	defer close(s.accepted)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.stopped.Load() {
				s.log.Info("server stopped")
				return
			}
			s.log.Error("failed to accept connection", "err", err)
			if s.Fatal != nil {
				s.Fatal(fmt.Errorf("accepting connections: %w", err))
			}
			return
		}
		in := newInbound(conn, s.reg, s.cfg)
		if !s.track(in) {
			continue
		}
		s.log.Debug("new connection", "remote", conn.RemoteAddr())
		// blocks while all workers are busy, the connection waits in the backlog
		s.pool.Go(func() error {
			defer s.untrack(in)
			in.serve()
			return nil
		})
	}
}

func (s *Server) track(in *Inbound) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped.Load() {
		in.Close()
		return false
	}
	s.serving[in] = struct{}{}
	return true
}

func (s *Server) untrack(in *Inbound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.serving, in)
}

// Stop closes the listener and every inbound socket, then waits for the workers.
func (s *Server) Stop() {
	if s.stopped.Swap(true) || s.listener == nil {
		return
	}
	_ = s.listener.Close()

	s.mu.Lock()
	for in := range s.serving {
		in.Close()
	}
	s.mu.Unlock()

	<-s.accepted
	_ = s.pool.Wait()
}

// Dial connects to a neighbour, verifies its identity and registers the outbound
// connection. A failed handshake leaves nothing registered.
func (s *Server) Dial(ctx context.Context, host string, port uint16, id state.NodeId) (*Outbound, error) {
	if s.stopped.Load() {
		return nil, ErrClosed
	}
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))
	d := net.Dialer{Timeout: s.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s at %s: %w", ErrTransport, id, addr, err)
	}
	out := newOutbound(conn, id, s.reg, s.cfg)
	err = clientHandshake(conn, s.cfg.Self, id, s.cfg.HandshakeTimeout)
	if err != nil {
		s.cfg.Metrics.Handshakes.WithLabelValues(dirOutbound, resultFail).Inc()
		out.Close()
		return nil, err
	}
	s.cfg.Metrics.Handshakes.WithLabelValues(dirOutbound, resultOk).Inc()
	out.log.Info("outbound link established", "remote", conn.RemoteAddr())
	go out.run()
	s.reg.AddOutbound(out)
	return out, nil
}

package core

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"maps"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/encodeous/dvrouter/state"
)

// IPCGet asks the admin endpoint of a running node for its state
func IPCGet(addr string) (string, error) {
	conn, err := net.DialTimeout("tcp", addr, state.DialTimeout)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))

	_, err = rw.WriteString("inspect\n")
	if err != nil {
		return "", err
	}
	err = rw.Flush()
	if err != nil {
		return "", err
	}

	res, err := rw.ReadString(0)
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSuffix(res, "\x00"), nil
}

// Admin serves the inspect protocol on admin_addr
type Admin struct {
	env      *state.Env
	listener net.Listener
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

func (a *Admin) Init(s *state.State) error {
	a.env = s.Env
	if s.AdminAddr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", s.AdminAddr)
	if err != nil {
		return fmt.Errorf("admin endpoint: %w", err)
	}
	a.listener = ln
	a.conns = make(map[net.Conn]struct{})
	s.Log.Info("admin endpoint listening", "addr", ln.Addr())
	a.wg.Add(1)
	go a.acceptLoop()
	return nil
}

func (a *Admin) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

func (a *Admin) acceptLoop() {
	defer a.wg.Done()
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				a.env.Log.Warn("admin endpoint failed", "err", err)
			}
			return
		}
		a.mu.Lock()
		a.conns[conn] = struct{}{}
		a.mu.Unlock()
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			defer func() {
				a.mu.Lock()
				delete(a.conns, conn)
				a.mu.Unlock()
				_ = conn.Close()
			}()
			rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
			if err := HandleIPCGet(a.env, rw); err != nil {
				a.env.Log.Debug("admin request failed", "err", err)
				return
			}
			_ = rw.Flush()
		}()
	}
}

func HandleIPCGet(env *state.Env, rw *bufio.ReadWriter) error {
	cmd, err := rw.ReadString('\n')
	if err != nil {
		return err
	}
	switch cmd {
	case "inspect\n":
		res, err := env.DispatchWait(func(s *state.State) (any, error) {
			return inspect(s), nil
		})
		if err != nil {
			return err
		}
		_, err = rw.WriteString(res.(string) + "\x00")
		return err
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func inspect(s *state.State) string {
	r := Get[*DvRouter](s)
	l := Get[*Linker](s)
	sb := strings.Builder{}

	sb.WriteString(fmt.Sprintf("Node %s\n\nNeighbours:\n", s.Id))
	snap := l.Registry.Snapshot()
	if len(snap) == 0 {
		sb.WriteString(" (none)\n")
	}
	for _, n := range snap {
		sb.WriteString(fmt.Sprintf(" - %s\n", n.Id))
		if cost, ok := r.Links[n.Id]; ok {
			sb.WriteString(fmt.Sprintf("   Link Cost: %g\n", cost))
		}
		if n.HasInbound() {
			sb.WriteString(fmt.Sprintf("   Inbound: %s, last alive %.2fs ago\n",
				n.InboundAddr, time.Since(n.LastAliveAt).Seconds()))
		}
		if n.HasOutbound() {
			sb.WriteString(fmt.Sprintf("   Outbound: %s\n", n.OutboundAddr))
		}
		if vec, ok := r.Vectors[n.Id]; ok {
			rt := make([]string, 0, len(vec))
			for _, dest := range slices.Sorted(maps.Keys(vec)) {
				rt = append(rt, fmt.Sprintf("%s:%g", dest, vec[dest]))
			}
			sb.WriteString(fmt.Sprintf("   Advertised: %s\n", strings.Join(rt, " ")))
		}
	}

	sb.WriteString("\nRoute Table:\n")
	for _, line := range strings.Split(r.StringRoutes(), "\n") {
		sb.WriteString(" - " + line + "\n")
	}
	return sb.String()
}

func (a *Admin) Cleanup(s *state.State) error {
	if a.listener == nil {
		return nil
	}
	err := a.listener.Close()
	a.mu.Lock()
	for conn := range a.conns {
		_ = conn.Close()
	}
	a.mu.Unlock()
	a.wg.Wait()
	return err
}

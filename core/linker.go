package core

import (
	"context"
	"errors"
	"expvar"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/encodeous/dvrouter/link"
	"github.com/encodeous/dvrouter/perf"
	"github.com/encodeous/dvrouter/state"
	"github.com/encodeous/metric"
	"github.com/jellydator/ttlcache/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Linker owns the neighbour connections: the registry, the acceptor, the liveness monitor
// and the prober that keeps an outbound connection open to every configured neighbour.
type Linker struct {
	env      *state.Env
	Registry *link.Registry
	Server   *link.Server
	Monitor  *link.Monitor
	Prom     *prometheus.Registry

	// backoff holds neighbours whose last dial failed, they are not probed until the entry expires
	backoff *ttlcache.Cache[state.NodeId, struct{}]
	limiter *rate.Limiter
	metrics *http.Server

	mu      sync.Mutex
	dialing map[state.NodeId]struct{}
	wg      sync.WaitGroup
}

func (l *Linker) Init(s *state.State) error {
	s.Log.Debug("init linker")
	l.env = s.Env
	l.dialing = make(map[state.NodeId]struct{})
	l.Prom = prometheus.NewRegistry()
	l.Prom.MustRegister(collectors.NewGoCollector())

	cfg := &link.Config{
		Self:    s.Id,
		Log:     s.Log,
		Metrics: link.NewMetrics(l.Prom),
	}
	l.Registry = link.NewRegistry(cfg, Get[*DvRouter](s))
	l.Server = link.NewServer(l.Registry)
	l.Server.Fatal = func(err error) {
		s.Env.Cancel(err)
	}
	if err := l.Server.Start(s.Context, s.Port, s.Workers); err != nil {
		return err
	}

	l.Monitor = link.NewMonitor(l.Registry,
		s.KeepaliveInterval.Or(state.KeepaliveInterval),
		s.DeadThreshold.Or(state.DeadThreshold))
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.Monitor.Run(s.Context)
	}()

	l.backoff = ttlcache.New[state.NodeId, struct{}](
		ttlcache.WithTTL[state.NodeId, struct{}](state.ProbeBackoff),
		ttlcache.WithDisableTouchOnHit[state.NodeId, struct{}](),
	)
	go l.backoff.Start()
	l.limiter = rate.NewLimiter(rate.Every(state.ProbeRate), 1)

	if s.MetricsAddr != "" {
		if err := l.serveMetrics(s.MetricsAddr); err != nil {
			return err
		}
	}

	s.Env.ScheduleTask(probeNeighbours, 0)
	s.Env.RepeatTask(probeNeighbours, state.ProbeDelay)
	return nil
}

func (l *Linker) serveMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(l.Prom, promhttp.HandlerOpts{}))
	mux.Handle("/debug/vars", expvar.Handler())
	mux.Handle("/debug/metrics", metric.Handler(metric.Exposed))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	l.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	l.env.Log.Info("serving metrics", "addr", ln.Addr())
	go func() {
		err := l.metrics.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.env.Log.Error("metrics server failed", "err", err)
		}
	}()
	return nil
}

// probeNeighbours dials every configured neighbour that has no outbound connection
func probeNeighbours(s *state.State) error {
	l := Get[*Linker](s)
	for _, n := range s.Neighbours {
		if l.Registry.HasOutbound(n.Id) || l.backoff.Has(n.Id) {
			continue
		}
		host, port, err := n.HostPort()
		if err != nil {
			s.Log.Warn("invalid neighbour address", "neigh", n.Id, "err", err)
			continue
		}
		l.dial(n.Id, host, port)
	}
	return nil
}

// DialBack opens the outbound half of a link that a neighbour opened towards us. Configured
// neighbours are dialled at their configured address, others at the address they connected
// from on our own listener port. Backoff is ignored since the neighbour is evidently up.
func (l *Linker) DialBack(id state.NodeId, addr net.Addr) {
	if l.Registry.HasOutbound(id) {
		return
	}
	if n, ok := l.env.GetNeighbour(id); ok {
		host, port, err := n.HostPort()
		if err == nil {
			l.dial(id, host, port)
		}
		return
	}
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return
	}
	l.dial(id, tcp.IP.String(), l.env.Port)
}

func (l *Linker) dial(id state.NodeId, host string, port uint16) {
	l.mu.Lock()
	if _, ok := l.dialing[id]; ok {
		l.mu.Unlock()
		return
	}
	l.dialing[id] = struct{}{}
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			l.mu.Lock()
			delete(l.dialing, id)
			l.mu.Unlock()
		}()
		ctx := l.env.Context
		if err := l.limiter.Wait(ctx); err != nil {
			return
		}
		perf.DialsPerSecond.Add(1)
		_, err := l.Server.Dial(ctx, host, port, id)
		if err != nil {
			l.backoff.Set(id, struct{}{}, ttlcache.DefaultTTL)
			if ctx.Err() == nil && !errors.Is(err, link.ErrClosed) {
				l.env.Log.Warn("failed to connect to neighbour", "neigh", id, "host", host, "port", port, "err", err)
			}
			return
		}
		l.backoff.Delete(id)
	}()
}

func (l *Linker) Cleanup(s *state.State) error {
	if l.Server != nil {
		l.Server.Stop()
	}
	if l.Registry != nil {
		l.Registry.Close()
	}
	if l.backoff != nil {
		l.backoff.Stop()
	}
	var err error
	if l.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		err = l.metrics.Shutdown(ctx)
	}
	l.wg.Wait()
	// dials that raced the shutdown may have registered a connection
	if l.Registry != nil {
		l.Registry.Close()
	}
	return err
}

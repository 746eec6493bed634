package link

import (
	"context"
	"log/slog"
	"time"

	"github.com/encodeous/dvrouter/state"
)

// Monitor evicts neighbours whose inbound connection has been silent for longer
// than the threshold. It is the only detector for half-open links.
type Monitor struct {
	reg       *Registry
	interval  time.Duration
	threshold time.Duration
	log       *slog.Logger
}

func NewMonitor(reg *Registry, interval, threshold time.Duration) *Monitor {
	return &Monitor{
		reg:       reg,
		interval:  interval,
		threshold: threshold,
		log:       reg.cfg.Log.With("module", "liveness"),
	}
}

// Run sweeps every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep evicts every stale neighbour and returns the evicted identities.
func (m *Monitor) Sweep() []state.NodeId {
	now := m.reg.cfg.Now()
	var evicted []state.NodeId
	for _, in := range m.reg.Stale(now, m.threshold) {
		m.log.Warn("neighbour has been dropped", "peer", in.Id(), "silent", now.Sub(in.LastAliveAt()))
		if m.reg.dropInbound(in, reasonDead) {
			evicted = append(evicted, in.Id())
		}
	}
	return evicted
}

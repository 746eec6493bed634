package link

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/encodeous/dvrouter/protocol"
	"github.com/encodeous/dvrouter/state"
)

// Registry holds the inbound and outbound connection of every neighbour. A
// neighbour link is bidirectional: losing either direction removes both.
//
// Every mutation happens under mu. Engine callbacks are made after mu is released,
// one at a time under notifyMu, so the engine sees adds and disconnects of a
// neighbour in the order the registry applied them. Callbacks may use Send and the
// query methods but must not add or remove connections synchronously.
type Registry struct {
	mu       sync.Mutex
	notifyMu sync.Mutex
	inbound  map[state.NodeId]*Inbound
	outbound map[state.NodeId]*Outbound
	engine   Engine
	cfg      *Config
	log      *slog.Logger
}

// NewRegistry creates an empty registry reporting to engine. Unset fields of cfg are
// filled with defaults.
func NewRegistry(cfg *Config, engine Engine) *Registry {
	cfg.setDefaults()
	r := &Registry{
		inbound:  make(map[state.NodeId]*Inbound),
		outbound: make(map[state.NodeId]*Outbound),
		engine:   engine,
		cfg:      cfg,
		log:      cfg.Log.With("module", "registry"),
	}
	r.updateGauges()
	return r
}

func (r *Registry) updateGauges() {
	r.cfg.Metrics.Neighbours.WithLabelValues(dirInbound).Set(float64(len(r.inbound)))
	r.cfg.Metrics.Neighbours.WithLabelValues(dirOutbound).Set(float64(len(r.outbound)))
}

// AddOutbound registers o, replacing any previous outbound connection to the same
// neighbour, and tells the engine about the neighbour.
func (r *Registry) AddOutbound(o *Outbound) {
	r.mu.Lock()
	old := r.outbound[o.id]
	r.outbound[o.id] = o
	if old != nil && old != o {
		old.Close()
		r.cfg.Metrics.Disconnects.WithLabelValues(reasonReplaced).Inc()
	}
	r.updateGauges()
	r.mu.Unlock()

	r.log.Debug("added outbound connection", "peer", o.id)
	r.notifyAdd(o.id, o.RemoteAddr(), func() bool { return r.outbound[o.id] == o })
}

// AddInbound registers i under the identity declared in its handshake.
func (r *Registry) AddInbound(i *Inbound) {
	r.mu.Lock()
	old := r.inbound[i.id]
	r.inbound[i.id] = i
	if old != nil && old != i {
		old.Close()
		r.cfg.Metrics.Disconnects.WithLabelValues(reasonReplaced).Inc()
	}
	r.updateGauges()
	r.mu.Unlock()

	r.log.Debug("added inbound connection", "peer", i.id)
	r.notifyAdd(i.id, i.RemoteAddr(), func() bool { return r.inbound[i.id] == i })
}

// notifyAdd reports id to the engine unless the connection was torn down before
// its turn came. In that case the disconnect was already reported.
func (r *Registry) notifyAdd(id state.NodeId, addr net.Addr, registered func() bool) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	r.mu.Lock()
	live := registered()
	r.mu.Unlock()
	if !live {
		r.log.Debug("connection removed before it was announced", "peer", id)
		return
	}
	r.engine.AddNeighbourNode(id, addr)
}

// unlinkLocked closes and forgets both directions of id.
func (r *Registry) unlinkLocked(id state.NodeId) {
	if in, ok := r.inbound[id]; ok {
		delete(r.inbound, id)
		in.Close()
	}
	if out, ok := r.outbound[id]; ok {
		delete(r.outbound, id)
		out.Close()
	}
	r.updateGauges()
}

func (r *Registry) disconnected(id state.NodeId, reason string) {
	r.cfg.Metrics.Disconnects.WithLabelValues(reason).Inc()
	r.log.Info("neighbour disconnected", "peer", id, "reason", reason)
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	r.engine.DisconnectNode(id)
}

// RemoveOutbound removes the outbound connection to id together with its inbound
// counterpart. Removing an absent entry only logs a warning.
func (r *Registry) RemoveOutbound(id state.NodeId) bool {
	r.mu.Lock()
	if _, ok := r.outbound[id]; !ok {
		r.mu.Unlock()
		r.log.Warn("trying to remove nonexistent outbound connection", "peer", id)
		return false
	}
	r.unlinkLocked(id)
	r.mu.Unlock()

	r.disconnected(id, reasonRemoved)
	return true
}

// RemoveInbound removes the inbound connection from id together with its outbound
// counterpart. Removing an absent entry only logs a warning.
func (r *Registry) RemoveInbound(id state.NodeId) bool {
	r.mu.Lock()
	if _, ok := r.inbound[id]; !ok {
		r.mu.Unlock()
		r.log.Warn("trying to remove nonexistent inbound connection", "peer", id)
		return false
	}
	r.unlinkLocked(id)
	r.mu.Unlock()

	r.disconnected(id, reasonRemoved)
	return true
}

// dropOutbound is called by a failing writer. It is a no-op if o was already
// removed or replaced, which happens whenever the other direction failed first.
func (r *Registry) dropOutbound(o *Outbound, reason string) bool {
	r.mu.Lock()
	if r.outbound[o.id] != o {
		r.mu.Unlock()
		r.log.Debug("outbound connection already removed", "peer", o.id)
		return false
	}
	r.unlinkLocked(o.id)
	r.mu.Unlock()

	r.disconnected(o.id, reason)
	return true
}

// dropInbound is the reader side counterpart of dropOutbound.
func (r *Registry) dropInbound(i *Inbound, reason string) bool {
	r.mu.Lock()
	if r.inbound[i.id] != i {
		r.mu.Unlock()
		r.log.Debug("inbound connection already removed", "peer", i.id)
		return false
	}
	r.unlinkLocked(i.id)
	r.mu.Unlock()

	r.disconnected(i.id, reason)
	return true
}

// Send encodes m and queues it on the outbound connection to id.
func (r *Registry) Send(id state.NodeId, m protocol.Message) error {
	raw, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	r.mu.Lock()
	out, ok := r.outbound[id]
	r.mu.Unlock()
	if !ok {
		r.cfg.Metrics.SendErrors.WithLabelValues("unreachable").Inc()
		return fmt.Errorf("%w: %s", ErrUnreachable, id)
	}
	if err := out.Enqueue(raw); err != nil {
		return err
	}
	r.cfg.Metrics.Messages.WithLabelValues(dirOutbound, m.Kind.String()).Inc()
	return nil
}

// Broadcast queues m on every outbound connection.
func (r *Registry) Broadcast(m protocol.Message) error {
	var errs []error
	for _, id := range r.Outbound() {
		if err := r.Send(id, m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HasOutbound reports whether messages can be sent to id.
func (r *Registry) HasOutbound(id state.NodeId) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.outbound[id]
	return ok
}

// HasInbound reports whether id has a registered inbound connection.
func (r *Registry) HasInbound(id state.NodeId) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inbound[id]
	return ok
}

// Outbound returns the neighbours that can currently be sent to, sorted.
func (r *Registry) Outbound() []state.NodeId {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.outbound))
}

// NeighbourInfo is a point in time view of one neighbour, see Snapshot.
type NeighbourInfo struct {
	Id           state.NodeId
	InboundAddr  net.Addr
	OutboundAddr net.Addr
	LastAliveAt  time.Time
}

// HasInbound reports whether the neighbour had an inbound connection.
func (n NeighbourInfo) HasInbound() bool {
	return n.InboundAddr != nil
}

// HasOutbound reports whether the neighbour had an outbound connection.
func (n NeighbourInfo) HasOutbound() bool {
	return n.OutboundAddr != nil
}

// Snapshot lists every neighbour with at least one registered direction.
func (r *Registry) Snapshot() []NeighbourInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	infos := make(map[state.NodeId]*NeighbourInfo)
	get := func(id state.NodeId) *NeighbourInfo {
		if n, ok := infos[id]; ok {
			return n
		}
		n := &NeighbourInfo{Id: id}
		infos[id] = n
		return n
	}
	for id, in := range r.inbound {
		n := get(id)
		n.InboundAddr = in.RemoteAddr()
		n.LastAliveAt = in.LastAliveAt()
	}
	for id, out := range r.outbound {
		get(id).OutboundAddr = out.RemoteAddr()
	}
	res := make([]NeighbourInfo, 0, len(infos))
	for _, id := range slices.Sorted(maps.Keys(infos)) {
		res = append(res, *infos[id])
	}
	return res
}

// Stale returns the inbound connections that have been silent for longer than threshold.
func (r *Registry) Stale(now time.Time, threshold time.Duration) []*Inbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stale []*Inbound
	for _, in := range r.inbound {
		if now.Sub(in.LastAliveAt()) > threshold {
			stale = append(stale, in)
		}
	}
	slices.SortFunc(stale, func(a, b *Inbound) int {
		return cmp.Compare(a.id, b.id)
	})
	return stale
}

// Close closes every connection without notifying the engine and waits for the
// outbound writers to exit. Used on shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	ins := slices.Collect(maps.Values(r.inbound))
	outs := slices.Collect(maps.Values(r.outbound))
	clear(r.inbound)
	clear(r.outbound)
	r.updateGauges()
	r.mu.Unlock()

	for _, in := range ins {
		in.Close()
	}
	for _, out := range outs {
		out.Close()
		out.Wait()
	}
}

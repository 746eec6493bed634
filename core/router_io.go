package core

import (
	"errors"

	"github.com/encodeous/dvrouter/link"
	"github.com/encodeous/dvrouter/perf"
	"github.com/encodeous/dvrouter/protocol"
	"github.com/encodeous/dvrouter/state"
)

// triggerUpdate coalesces table changes within state.TriggeredUpdateHold into one push
func (r *DvRouter) triggerUpdate(s *state.State) {
	if r.updatePending {
		return
	}
	r.updatePending = true
	s.Env.ScheduleTask(func(s *state.State) error {
		r.updatePending = false
		return fullTableUpdate(s)
	}, state.TriggeredUpdateHold)
}

func (r *DvRouter) pushVector(s *state.State, neigh state.NodeId) {
	l := Get[*Linker](s)
	msg := protocol.NewDv(s.Id, VectorFor(r.RouterState, neigh))
	err := l.Registry.Send(neigh, msg)
	switch {
	case err == nil:
		perf.VectorsSentPerSecond.Add(1)
	case errors.Is(err, link.ErrUnreachable):
		s.Log.Debug("no outbound connection yet", "neigh", neigh)
	default:
		s.Log.Warn("failed to send distance vector", "neigh", neigh, "err", err)
	}
}

// fullTableUpdate sends our vector to every neighbour we have an outbound connection to
func fullTableUpdate(s *state.State) error {
	r := Get[*DvRouter](s)
	if r.RouterState == nil {
		return nil
	}
	dbgPrintRouteTable(s)
	for _, neigh := range Get[*Linker](s).Registry.Outbound() {
		r.pushVector(s, neigh)
	}
	return nil
}

func sendKeepAlives(s *state.State) error {
	err := Get[*Linker](s).Registry.Broadcast(protocol.NewKeepAlive(s.Id))
	if err != nil {
		s.Log.Warn("failed to send keep-alive", "err", err)
	}
	return nil
}

func dbgPrintRouteTable(s *state.State) {
	r := Get[*DvRouter](s)
	s.Log.Debug("--- route table ---\n" + r.StringRoutes())
}

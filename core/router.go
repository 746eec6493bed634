package core

import (
	"fmt"
	"net"

	"github.com/encodeous/dvrouter/perf"
	"github.com/encodeous/dvrouter/protocol"
	"github.com/encodeous/dvrouter/state"
)

// DvRouter is the distance vector routing engine. The link layer calls it from connection
// goroutines, every call is dispatched onto the main loop before touching RouterState.
type DvRouter struct {
	env *state.Env
	*RouterState
	// updatePending is set while a triggered update is waiting to be flushed
	updatePending bool
}

func (r *DvRouter) Log(event RouterEvent, desc string, args ...any) {
	if event >= VectorFromStranger {
		r.env.Log.Warn(fmt.Sprintf("%s %s", event.String(), desc), args...)
		return
	}
	r.env.Log.Debug(fmt.Sprintf("%s %s", event.String(), desc), args...)
}

// ReceivePacket handles a distance vector received from a neighbour
func (r *DvRouter) ReceivePacket(msg protocol.Message) {
	perf.VectorsRecvPerSecond.Add(1)
	r.env.Dispatch(func(s *state.State) error {
		if !ApplyVector(r.RouterState, r, msg.From, msg.Costs) {
			return nil
		}
		if ComputeRoutes(r.RouterState, r) {
			r.triggerUpdate(s)
		}
		return nil
	})
}

// AddNeighbourNode is called whenever a connection in either direction is registered
func (r *DvRouter) AddNeighbourNode(id state.NodeId, addr net.Addr) {
	r.env.Dispatch(func(s *state.State) error {
		if AddLink(r.RouterState, r, id, s.LinkCost(id)) && ComputeRoutes(r.RouterState, r) {
			r.triggerUpdate(s)
		}
		// a new outbound connection needs our table right away
		r.pushVector(s, id)
		Get[*Linker](s).DialBack(id, addr)
		return nil
	})
}

// DisconnectNode is called once when a neighbour link is torn down
func (r *DvRouter) DisconnectNode(id state.NodeId) {
	r.env.Dispatch(func(s *state.State) error {
		if RemoveLink(r.RouterState, r, id) && ComputeRoutes(r.RouterState, r) {
			r.triggerUpdate(s)
		}
		return nil
	})
}

func (r *DvRouter) Init(s *state.State) error {
	s.Log.Debug("init router")
	r.env = s.Env
	r.RouterState = NewRouterState(s.Id)

	s.Log.Debug("schedule router tasks")
	s.Env.RepeatTask(fullTableUpdate, s.RouteUpdateInterval.Or(state.RouteUpdateDelay))
	s.Env.RepeatTask(sendKeepAlives, s.KeepaliveInterval.Or(state.KeepaliveInterval))
	return nil
}

func (r *DvRouter) Cleanup(s *state.State) error {
	r.RouterState = nil
	return nil
}

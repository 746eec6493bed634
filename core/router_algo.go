package core

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"

	"github.com/encodeous/dvrouter/state"
)

type RouterEvent int

// trace events

const (
	RouteImproved RouterEvent = iota
	RouteChanged
	RouteRetracted
	RouteAdded
	LinkAdded
	LinkRemoved
)

// warn events

const (
	VectorFromStranger RouterEvent = iota + 1000
	InvalidCost
)

var eventNames = map[RouterEvent]string{
	RouteImproved:      "ROUTE_IMPROVED",
	RouteChanged:       "ROUTE_CHANGED",
	RouteRetracted:     "ROUTE_RETRACTED",
	RouteAdded:         "ROUTE_ADDED",
	LinkAdded:          "LINK_ADDED",
	LinkRemoved:        "LINK_REMOVED",
	VectorFromStranger: "VECTOR_FROM_STRANGER",
	InvalidCost:        "INVALID_COST",
}

func (e RouterEvent) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("RouterEvent(%d)", int(e))
}

// Router receives the side effects of the routing algorithm
type Router interface {
	Log(event RouterEvent, desc string, args ...any)
}

// Route is a selected path to a destination
type Route struct {
	Nh   state.NodeId
	Cost float64
}

func (r Route) String() string {
	return fmt.Sprintf("(nh: %s, cost: %g)", r.Nh, r.Cost)
}

type RouterState struct {
	Id state.NodeId
	// Links holds the cost of the direct link to every connected neighbour
	Links map[state.NodeId]float64
	// Vectors holds the last distance vector received from each neighbour
	Vectors map[state.NodeId]map[state.NodeId]float64
	// Routes is the selected route table, it always contains a zero cost route to ourselves
	Routes map[state.NodeId]Route
}

func NewRouterState(id state.NodeId) *RouterState {
	return &RouterState{
		Id:      id,
		Links:   make(map[state.NodeId]float64),
		Vectors: make(map[state.NodeId]map[state.NodeId]float64),
		Routes: map[state.NodeId]Route{
			id: {Nh: id, Cost: 0},
		},
	}
}

func (s *RouterState) StringRoutes() string {
	lines := make([]string, 0, len(s.Routes))
	for _, dest := range slices.Sorted(maps.Keys(s.Routes)) {
		lines = append(lines, fmt.Sprintf("%s via %s", dest, s.Routes[dest]))
	}
	return strings.Join(lines, "\n")
}

// AddCost sums two costs, saturating at state.MaxCost
func AddCost(a, b float64) float64 {
	return min(state.MaxCost, a+b)
}

// AddLink records a direct link, it returns false if the link was already known with the same cost.
func AddLink(s *RouterState, r Router, neigh state.NodeId, cost float64) bool {
	old, ok := s.Links[neigh]
	if ok && old == cost {
		return false
	}
	s.Links[neigh] = cost
	r.Log(LinkAdded, "neighbour link up", "neigh", neigh, "cost", cost)
	return true
}

// RemoveLink forgets a neighbour together with everything it advertised
func RemoveLink(s *RouterState, r Router, neigh state.NodeId) bool {
	if _, ok := s.Links[neigh]; !ok {
		return false
	}
	delete(s.Links, neigh)
	delete(s.Vectors, neigh)
	r.Log(LinkRemoved, "neighbour link down", "neigh", neigh)
	return true
}

// ApplyVector replaces the vector last advertised by neigh. Vectors from nodes without a
// link are ignored, as are entries with costs that are not valid numbers.
func ApplyVector(s *RouterState, r Router, neigh state.NodeId, costs map[state.NodeId]float64) bool {
	if _, ok := s.Links[neigh]; !ok {
		r.Log(VectorFromStranger, "ignoring vector from node without a link", "from", neigh)
		return false
	}
	vec := make(map[state.NodeId]float64, len(costs))
	for dest, cost := range costs {
		if cost < 0 || math.IsNaN(cost) {
			r.Log(InvalidCost, "ignoring invalid cost", "from", neigh, "dest", dest, "cost", cost)
			continue
		}
		vec[dest] = min(cost, state.MaxCost)
	}
	s.Vectors[neigh] = vec
	return true
}

func better(cost float64, nh state.NodeId, cur Route) bool {
	if cost != cur.Cost {
		return cost < cur.Cost
	}
	return nh < cur.Nh
}

// ComputeRoutes rebuilds the route table with Bellman-Ford over the direct links and the
// last vector of every neighbour. Destinations at state.MaxCost or beyond are unreachable
// and dropped. Ties go to the lexically smaller next hop. Returns true if the table changed.
func ComputeRoutes(s *RouterState, r Router) bool {
	next := map[state.NodeId]Route{
		s.Id: {Nh: s.Id, Cost: 0},
	}
	consider := func(dest, nh state.NodeId, cost float64) {
		if dest == s.Id || cost >= state.MaxCost {
			return
		}
		cur, ok := next[dest]
		if !ok || better(cost, nh, cur) {
			next[dest] = Route{Nh: nh, Cost: cost}
		}
	}
	for neigh, link := range s.Links {
		consider(neigh, neigh, link)
		for dest, cost := range s.Vectors[neigh] {
			consider(dest, neigh, AddCost(link, cost))
		}
	}

	changed := false
	for dest, route := range next {
		old, ok := s.Routes[dest]
		switch {
		case !ok:
			r.Log(RouteAdded, "new route", "dest", dest, "route", route)
		case route.Cost < old.Cost:
			r.Log(RouteImproved, "route improved", "dest", dest, "old", old, "route", route)
		case route != old:
			r.Log(RouteChanged, "route changed", "dest", dest, "old", old, "route", route)
		default:
			continue
		}
		changed = true
	}
	for dest, old := range s.Routes {
		if _, ok := next[dest]; !ok {
			r.Log(RouteRetracted, "route retracted", "dest", dest, "old", old)
			changed = true
		}
	}
	s.Routes = next
	return changed
}

// VectorFor is the distance vector advertised to neigh. Routes whose next hop is neigh are
// poisoned with state.MaxCost so that neigh never routes back through us.
func VectorFor(s *RouterState, neigh state.NodeId) map[state.NodeId]float64 {
	vec := make(map[state.NodeId]float64, len(s.Routes))
	for dest, route := range s.Routes {
		if dest == neigh {
			continue
		}
		if route.Nh == neigh {
			vec[dest] = state.MaxCost
		} else {
			vec[dest] = route.Cost
		}
	}
	return vec
}

package protocol

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/encodeous/dvrouter/state"
)

type Kind uint8

const (
	Hello Kind = iota + 1
	Welcome
	KeepAlive
	Dv
)

var kindNames = map[Kind]string{
	Hello:     "HELLO",
	Welcome:   "WELCOME",
	KeepAlive: "KEEP_ALIVE",
	Dv:        "DV",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// Message is one unit of the wire protocol. Costs is only populated for Dv.
type Message struct {
	Kind  Kind
	From  state.NodeId
	Costs map[state.NodeId]float64
}

// Len is the number of cost entries, written as the Len: header of a DV message.
func (m Message) Len() int {
	return len(m.Costs)
}

func NewHello(from state.NodeId) Message {
	return Message{Kind: Hello, From: from}
}

func NewWelcome(from state.NodeId) Message {
	return Message{Kind: Welcome, From: from}
}

func NewKeepAlive(from state.NodeId) Message {
	return Message{Kind: KeepAlive, From: from}
}

func NewDv(from state.NodeId, costs map[state.NodeId]float64) Message {
	if costs == nil {
		costs = make(map[state.NodeId]float64)
	}
	return Message{Kind: Dv, From: from, Costs: costs}
}

func (m Message) String() string {
	if m.Kind != Dv {
		return fmt.Sprintf("%s from %s", m.Kind, m.From)
	}
	dests := slices.Sorted(maps.Keys(m.Costs))
	entries := make([]string, 0, len(dests))
	for _, d := range dests {
		entries = append(entries, fmt.Sprintf("%s:%g", d, m.Costs[d]))
	}
	return fmt.Sprintf("%s from %s [%s]", m.Kind, m.From, strings.Join(entries, " "))
}

package link

import (
	"log/slog"
	"net"
	"time"

	"github.com/encodeous/dvrouter/protocol"
	"github.com/encodeous/dvrouter/state"
)

// Engine is the routing engine fed by the links. Calls are made from connection
// goroutines and must not block for long. AddNeighbourNode and DisconnectNode are
// delivered one at a time, in the order the registry changed.
type Engine interface {
	ReceivePacket(msg protocol.Message)
	AddNeighbourNode(id state.NodeId, addr net.Addr)
	DisconnectNode(id state.NodeId)
}

// Config is shared by the Registry, Server and every connection of a node.
type Config struct {
	Self state.NodeId
	// ListenHost is the host the Server binds to, all interfaces if empty.
	ListenHost       string
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	QueueSize        int
	Log              *slog.Logger
	Metrics          *Metrics
	Now              func() time.Time
}

func (c *Config) setDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = state.DialTimeout
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = state.HandshakeTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = state.WriteTimeout
	}
	if c.QueueSize == 0 {
		c.QueueSize = state.SendQueueSize
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = NewMetrics(nil)
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

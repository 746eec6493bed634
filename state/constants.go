package state

import "time"

const (
	// MaxCost marks a destination as unreachable. Routes at or above it are withdrawn.
	MaxCost = 99.0
	// DefaultLinkCost is used for neighbours that are not listed in the node config.
	DefaultLinkCost = 1.0

	// DefaultPort is the listener port used when the node config leaves it empty.
	DefaultPort    = 9000
	DefaultWorkers = 8
)

var (
	KeepaliveInterval   = time.Second * 5
	DeadThreshold       = 3 * KeepaliveInterval
	RouteUpdateDelay    = time.Second * 10
	ProbeDelay          = time.Second * 3
	ProbeBackoff        = time.Second * 10
	ProbeRate           = time.Millisecond * 200
	DialTimeout         = time.Second * 5
	HandshakeTimeout    = time.Second * 5
	WriteTimeout        = time.Second * 5
	TriggeredUpdateHold = time.Millisecond * 100

	// SendQueueSize bounds the number of encoded messages waiting for one neighbour.
	SendQueueSize = 1024
)

package state

import (
	"fmt"
	"net"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
)

var NodeConfigPath = "node.yaml"

// NeighbourCfg describes a directly connected router that this node dials.
type NeighbourCfg struct {
	Id   NodeId
	Addr string  // host:port of the neighbour's listener
	Cost float64 `yaml:",omitempty"` // link cost, DefaultLinkCost if zero
}

// LocalCfg represents local node-level configuration
type LocalCfg struct {
	Id                  NodeId         // unique id for this node
	Port                uint16         // port the listener binds to
	Workers             int            `yaml:",omitempty"`                      // max concurrently served inbound connections
	Neighbours          []NeighbourCfg `yaml:",omitempty"`                      // routers this node dials
	LogPath             string         `yaml:"log_path,omitempty"`              // if not empty, logs are also written to this file
	AdminAddr           string         `yaml:"admin_addr,omitempty"`            // if not empty, serves the inspect protocol
	MetricsAddr         string         `yaml:"metrics_addr,omitempty"`          // if not empty, serves prometheus and expvar metrics
	KeepaliveInterval   Duration       `yaml:"keepalive_interval,omitempty"`    // interval between keep-alives and liveness sweeps
	DeadThreshold       Duration       `yaml:"dead_threshold,omitempty"`        // silence after which a neighbour is evicted
	RouteUpdateInterval Duration       `yaml:"route_update_interval,omitempty"` // interval between full distance vector pushes
}

// Duration is a time.Duration that (un)marshals as a Go duration string, e.g. "5s".
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Or(def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return time.Duration(d)
}

// ExpandLocalConfig fills in defaults for every field left empty.
func ExpandLocalConfig(cfg *LocalCfg) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Workers == 0 {
		cfg.Workers = DefaultWorkers
	}
	cfg.KeepaliveInterval = Duration(cfg.KeepaliveInterval.Or(KeepaliveInterval))
	cfg.DeadThreshold = Duration(cfg.DeadThreshold.Or(DeadThreshold))
	cfg.RouteUpdateInterval = Duration(cfg.RouteUpdateInterval.Or(RouteUpdateDelay))
	for i := range cfg.Neighbours {
		if cfg.Neighbours[i].Cost == 0 {
			cfg.Neighbours[i].Cost = DefaultLinkCost
		}
	}
}

func ReadLocalConfig(nodePath string) (*LocalCfg, error) {
	var nodeCfg LocalCfg
	file, err := os.ReadFile(nodePath)
	if err != nil {
		return nil, err
	}
	err = yaml.Unmarshal(file, &nodeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", nodePath, err)
	}
	return &nodeCfg, nil
}

func WriteLocalConfig(nodePath string, cfg *LocalCfg) error {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(nodePath, out, 0600)
}

func (c *LocalCfg) GetNeighbour(id NodeId) (NeighbourCfg, bool) {
	idx := slices.IndexFunc(c.Neighbours, func(n NeighbourCfg) bool {
		return n.Id == id
	})
	if idx == -1 {
		return NeighbourCfg{}, false
	}
	return c.Neighbours[idx], true
}

// LinkCost returns the configured cost of the direct link to id.
func (c *LocalCfg) LinkCost(id NodeId) float64 {
	if n, ok := c.GetNeighbour(id); ok && n.Cost != 0 {
		return n.Cost
	}
	return DefaultLinkCost
}

// HostPort splits the neighbour address for dialing.
func (n NeighbourCfg) HostPort() (string, uint16, error) {
	host, port, err := net.SplitHostPort(n.Addr)
	if err != nil {
		return "", 0, err
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %s: %w", n.Addr, err)
	}
	return host, uint16(p), nil
}

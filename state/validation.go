package state

import (
	"fmt"
	"net"
	"regexp"
	"time"
)

var namePattern, _ = regexp.Compile("^[0-9A-Za-z._-]+$")

func NameValidator(s string) error {
	if !namePattern.MatchString(s) {
		return fmt.Errorf("%s is not a valid name, must match pattern %s", s, namePattern.String())
	}
	if len(s) > 100 {
		return fmt.Errorf("len(\"%s\") = %d > 100 is too long", s, len(s))
	}
	return nil
}

func AddrValidator(s string) error {
	_, _, err := net.SplitHostPort(s)
	return err
}

func NodeConfigValidator(node *LocalCfg) error {
	err := NameValidator(string(node.Id))
	if err != nil {
		return err
	}
	if node.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", node.Workers)
	}
	if node.KeepaliveInterval <= 0 {
		return fmt.Errorf("keepalive_interval must be positive")
	}
	if node.DeadThreshold < 2*node.KeepaliveInterval {
		return fmt.Errorf("dead_threshold (%s) must be at least twice keepalive_interval (%s)",
			time.Duration(node.DeadThreshold), time.Duration(node.KeepaliveInterval))
	}
	if node.RouteUpdateInterval <= 0 {
		return fmt.Errorf("route_update_interval must be positive")
	}
	for _, addr := range []string{node.AdminAddr, node.MetricsAddr} {
		if addr == "" {
			continue
		}
		if err := AddrValidator(addr); err != nil {
			return err
		}
	}
	seen := make(map[NodeId]struct{})
	for _, n := range node.Neighbours {
		if err := NameValidator(string(n.Id)); err != nil {
			return err
		}
		if n.Id == node.Id {
			return fmt.Errorf("node %s cannot be its own neighbour", n.Id)
		}
		if _, ok := seen[n.Id]; ok {
			return fmt.Errorf("duplicate neighbour: %s", n.Id)
		}
		seen[n.Id] = struct{}{}
		if _, _, err := n.HostPort(); err != nil {
			return fmt.Errorf("neighbour %s: %w", n.Id, err)
		}
		if n.Cost < 0 || n.Cost >= MaxCost {
			return fmt.Errorf("neighbour %s: cost %g must be in [0, %g)", n.Id, n.Cost, MaxCost)
		}
	}
	return nil
}

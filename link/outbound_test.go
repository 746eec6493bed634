package link

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/encodeous/dvrouter/protocol"
	"github.com/encodeous/dvrouter/state"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboundPreservesOrderPerSender(t *testing.T) {
	reg, _, _ := newTestRegistry("A")
	local, remote := net.Pipe()
	defer remote.Close()
	out := newOutbound(local, "B", reg, reg.cfg)
	go out.run()
	reg.AddOutbound(out)
	defer func() {
		out.Close()
		out.Wait()
	}()

	const senders, perSender = 4, 50
	var wg sync.WaitGroup
	for s := range senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perSender {
				dest := state.NodeId(fmt.Sprintf("s%d", s))
				costs := map[state.NodeId]float64{dest: float64(i)}
				assert.NoError(t, reg.Send("B", protocol.NewDv("A", costs)))
			}
		}()
	}

	dec := protocol.NewDecoder(remote)
	last := make(map[state.NodeId]float64)
	for range senders * perSender {
		m, err := dec.Decode()
		require.NoError(t, err)
		require.Equal(t, protocol.Dv, m.Kind)
		for dest, cost := range m.Costs {
			if prev, ok := last[dest]; ok {
				require.Greater(t, cost, prev, "messages from %s out of order", dest)
			}
			last[dest] = cost
		}
	}
	wg.Wait()
	assert.Len(t, last, senders)
}

func TestOutboundWriteFailureTearsDownLink(t *testing.T) {
	reg, engine, _ := newTestRegistry("A")
	in := pipeInbound(t, reg, "B")
	reg.AddInbound(in)

	local, remote := net.Pipe()
	out := newOutbound(local, "B", reg, reg.cfg)
	go out.run()
	reg.AddOutbound(out)
	defer out.Wait()

	require.NoError(t, remote.Close())
	require.NoError(t, reg.Send("B", protocol.NewKeepAlive("A")))

	waitFor(t, func() bool { return engine.count("disconnect", "B") == 1 }, "disconnect not reported")
	assert.False(t, reg.HasOutbound("B"))
	assert.False(t, reg.HasInbound("B"))
	assert.True(t, in.Stopped())
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.cfg.Metrics.Disconnects.WithLabelValues(reasonWrite)))
	assert.ErrorIs(t, reg.Send("B", protocol.NewKeepAlive("A")), ErrUnreachable)
}

func TestOutboundWriteTimeoutDropsMessage(t *testing.T) {
	reg, engine, _ := newTestRegistry("A")
	reg.cfg.WriteTimeout = 50 * time.Millisecond
	local, remote := net.Pipe()
	defer remote.Close()
	out := newOutbound(local, "B", reg, reg.cfg)
	go out.run()
	reg.AddOutbound(out)
	defer func() {
		out.Close()
		out.Wait()
	}()

	// nobody reads yet, so the first write times out without sending anything
	require.NoError(t, reg.Send("B", protocol.NewKeepAlive("A")))
	waitFor(t, func() bool {
		return testutil.ToFloat64(reg.cfg.Metrics.SendErrors.WithLabelValues("timeout")) == 1
	}, "write did not time out")
	assert.True(t, reg.HasOutbound("B"))
	assert.Equal(t, 0, engine.count("disconnect", "B"))

	require.NoError(t, reg.Send("B", protocol.NewDv("A", nil)))
	m, err := protocol.NewDecoder(remote).Decode()
	require.NoError(t, err)
	assert.Equal(t, protocol.Dv, m.Kind)
}

func TestOutboundCloseStopsWriter(t *testing.T) {
	reg, engine, _ := newTestRegistry("A")
	out := pipeOutbound(t, reg, "B")
	reg.AddOutbound(out)

	out.Close()
	out.Wait()
	assert.True(t, out.Stopped())
	assert.ErrorIs(t, out.Enqueue([]byte("x")), ErrClosed)
	// closing by hand does not unregister, the registry owns that
	assert.True(t, reg.HasOutbound("B"))
	assert.Equal(t, 0, engine.count("disconnect", "B"))
}

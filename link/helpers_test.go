package link

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/encodeous/dvrouter/protocol"
	"github.com/encodeous/dvrouter/state"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type engineEvent struct {
	Kind string
	Id   state.NodeId
	Msg  protocol.Message
}

type fakeEngine struct {
	mu     sync.Mutex
	events []engineEvent
}

func (f *fakeEngine) push(ev engineEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeEngine) ReceivePacket(msg protocol.Message) {
	f.push(engineEvent{Kind: "recv", Id: msg.From, Msg: msg})
}

func (f *fakeEngine) AddNeighbourNode(id state.NodeId, _ net.Addr) {
	f.push(engineEvent{Kind: "add", Id: id})
}

func (f *fakeEngine) DisconnectNode(id state.NodeId) {
	f.push(engineEvent{Kind: "disconnect", Id: id})
}

func (f *fakeEngine) count(kind string, id state.NodeId) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.events {
		if ev.Kind == kind && ev.Id == id {
			n++
		}
	}
	return n
}

func (f *fakeEngine) received() []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var msgs []protocol.Message
	for _, ev := range f.events {
		if ev.Kind == "recv" {
			msgs = append(msgs, ev.Msg)
		}
	}
	return msgs
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig(self state.NodeId) *Config {
	return &Config{
		Self:             self,
		ListenHost:       "127.0.0.1",
		DialTimeout:      time.Second,
		HandshakeTimeout: time.Second,
		WriteTimeout:     time.Second,
		Log:              slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

type testNode struct {
	id     state.NodeId
	cfg    *Config
	engine *fakeEngine
	reg    *Registry
	srv    *Server
}

func newTestNode(t *testing.T, id state.NodeId, workers int, opts ...func(*Config)) *testNode {
	t.Helper()
	n := &testNode{id: id, cfg: testConfig(id), engine: &fakeEngine{}}
	for _, opt := range opts {
		opt(n.cfg)
	}
	n.reg = NewRegistry(n.cfg, n.engine)
	n.srv = NewServer(n.reg)
	n.srv.Fatal = func(err error) {
		t.Errorf("unexpected fatal accept error: %v", err)
	}
	require.NoError(t, n.srv.Start(context.Background(), 0, workers))
	t.Cleanup(func() {
		n.reg.Close()
		n.srv.Stop()
	})
	return n
}

func (n *testNode) port() uint16 {
	_, p, _ := net.SplitHostPort(n.srv.Addr().String())
	v, _ := strconv.Atoi(p)
	return uint16(v)
}

func (n *testNode) dial(t *testing.T, to *testNode) *Outbound {
	t.Helper()
	out, err := n.srv.Dial(context.Background(), "127.0.0.1", to.port(), to.id)
	require.NoError(t, err)
	return out
}

// rawPeer is a hand driven neighbour speaking the wire protocol directly.
type rawPeer struct {
	conn net.Conn
	r    *bufio.Reader
}

func dialRaw(t *testing.T, n *testNode) *rawPeer {
	t.Helper()
	conn, err := net.Dial("tcp", n.srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &rawPeer{conn: conn, r: bufio.NewReader(conn)}
}

func (p *rawPeer) send(t *testing.T, raw string) {
	t.Helper()
	_, err := p.conn.Write([]byte(raw))
	require.NoError(t, err)
}

func (p *rawPeer) readLine(t *testing.T) string {
	t.Helper()
	require.NoError(t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := p.r.ReadString('\n')
	require.NoError(t, err)
	return line
}

// handshake introduces the peer as id and checks the WELCOME.
func (p *rawPeer) handshake(t *testing.T, id state.NodeId, n *testNode) {
	t.Helper()
	p.send(t, "From:"+string(id)+"\nType:HELLO\n")
	require.Equal(t, "From:"+string(n.id)+"\n", p.readLine(t))
	require.Equal(t, "Type:WELCOME\n", p.readLine(t))
}

// expectClosed waits for the node to hang up on the peer.
func (p *rawPeer) expectClosed(t *testing.T) {
	t.Helper()
	require.NoError(t, p.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, err := io.Copy(io.Discard, p.r)
	require.False(t, isTimeout(err), "connection still open")
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 10*time.Millisecond, msg)
}

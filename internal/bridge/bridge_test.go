package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/fabric/internal/link"
	"firestige.xyz/fabric/internal/metrics"
	"firestige.xyz/fabric/internal/protocol"
	"firestige.xyz/fabric/internal/protocol/prototest"
)

type ethLink = link.Link[protocol.MAC, *protocol.EthPacket]

type host struct {
	mu  sync.Mutex
	ni  *link.Interface[protocol.MAC, *protocol.EthPacket]
	got []*protocol.EthPacket
}

func (h *host) OnIncomingPacket(_ EthPort, pkt *protocol.EthPacket) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.got = append(h.got, pkt)
}

func (h *host) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.got)
}

func (h *host) send(dst protocol.MAC) *protocol.EthPacket {
	pkt := prototest.Frame(h.ni.Address(), dst, 32)
	h.ni.Send(pkt, protocol.MAC{})
	return pkt
}

// segments builds n links with one host each. Host i owns MAC i+1 and
// listens to everything on its segment.
func segments(n int) ([]*ethLink, []*host) {
	links := make([]*ethLink, n)
	hosts := make([]*host, n)
	for i := range n {
		links[i] = link.New[protocol.MAC, *protocol.EthPacket]()
		h := &host{ni: links[i].NewInterface(prototest.MAC(byte(i + 1)))}
		h.ni.AddPromiscuousListener(h)
		hosts[i] = h
	}
	return links, hosts
}

// received returns the per-host number of packets seen, minus their own sends.
func received(hosts []*host, sent map[int]int) []int {
	out := make([]int, len(hosts))
	for i, h := range hosts {
		out[i] = h.count() - sent[i]
	}
	return out
}

func TestRepeaterFloodsExactlyOnce(t *testing.T) {
	links, hosts := segments(4)
	r := NewRepeaterFromLinks(Config{Name: "flood-test"}, links...)
	defer r.Close()

	hosts[2].send(protocol.Broadcast)

	assert.Equal(t, []int{1, 1, 0, 1}, received(hosts, map[int]int{2: 1}))
	assert.Equal(t, uint64(3), r.Stats().Flooded.Load())
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.ForwardedPacketsTotal.WithLabelValues("flood-test", metrics.ModeFlood)))
}

func TestRepeaterForwardsUnmodified(t *testing.T) {
	links, hosts := segments(2)
	r := NewRepeaterFromLinks(Config{}, links...)
	defer r.Close()

	pkt := hosts[0].send(prototest.MAC(2))
	require.Len(t, hosts[1].got, 1)
	assert.Same(t, pkt, hosts[1].got[0])
}

func TestRepeaterCloseIsIdempotent(t *testing.T) {
	links, hosts := segments(3)
	r := NewRepeaterFromLinks(Config{}, links...)
	require.Equal(t, 2, links[0].NumInterfaces())

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Equal(t, 1, links[0].NumInterfaces())
	assert.Empty(t, r.Ports())

	hosts[0].send(protocol.Broadcast)
	assert.Equal(t, []int{0, 0, 0}, received(hosts, map[int]int{0: 1}))
}

func TestRepeaterOverExistingInterfaces(t *testing.T) {
	links, hosts := segments(2)
	ports := []EthPort{links[0].NewInterface(), links[1].NewInterface()}
	hub := NewHub(Config{}, ports...)

	hosts[0].send(prototest.MAC(2))
	assert.Equal(t, 1, hosts[1].count())

	require.NoError(t, hub.Close())
	assert.Equal(t, 2, links[0].NumInterfaces(), "caller-owned ports stay attached")
}

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func (c *clock) advance(d time.Duration) { c.now = c.now.Add(d) }

func TestBridgeLearning(t *testing.T) {
	links, hosts := segments(3)
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	b := NewFromLinks(Config{Name: "learn-test", Now: clk.Now}, links...)
	defer b.Close()

	// Unknown destination floods and teaches the bridge where MAC 1 lives.
	hosts[0].send(prototest.MAC(9))
	assert.Equal(t, []int{0, 1, 1}, received(hosts, map[int]int{0: 1}))

	// Within the window, traffic to MAC 1 goes only to segment 0.
	clk.advance(DefaultExpiration - time.Millisecond)
	hosts[1].send(prototest.MAC(1))
	assert.Equal(t, []int{1, 1, 1}, received(hosts, map[int]int{0: 1, 1: 1}))
	assert.Equal(t, uint64(1), b.Stats().Unicast.Load())

	// Once the window elapses the entry is gone and the packet floods.
	clk.advance(time.Millisecond)
	hosts[1].send(prototest.MAC(1))
	assert.Equal(t, []int{2, 1, 2}, received(hosts, map[int]int{0: 1, 1: 2}))
	_, ok := b.Table().Lookup(prototest.MAC(1))
	assert.False(t, ok, "expired entry is removed, not refreshed")

	port, ok := b.Table().Lookup(prototest.MAC(2))
	require.True(t, ok)
	assert.Same(t, b.Ports()[1], port)
}

func TestBridgeRelearnsMovedHost(t *testing.T) {
	links, hosts := segments(3)
	b := NewFromLinks(Config{}, links...)
	defer b.Close()

	hosts[0].send(prototest.MAC(9))
	// MAC 1 now shows up behind segment 2.
	moved := prototest.Frame(prototest.MAC(1), prototest.MAC(9), 32)
	hosts[2].ni.Send(moved, protocol.MAC{})

	hosts[1].send(prototest.MAC(1))
	assert.Equal(t, 2, hosts[0].count(), "own send plus the flood from segment 2")
	assert.Equal(t, 3, hosts[2].count(), "flood, own send, then the unicast")
}

func TestBridgeUnicastsBackToLearnedIngressPort(t *testing.T) {
	links, hosts := segments(2)
	extra := links[0].NewInterface(prototest.MAC(7))
	b := NewFromLinks(Config{}, links...)
	defer b.Close()

	hosts[0].send(prototest.MAC(9))
	before := received(hosts, nil)

	extra.Send(prototest.Frame(prototest.MAC(7), prototest.MAC(1), 32), protocol.MAC{})
	after := received(hosts, nil)
	// Once from the segment itself, once from the bridge.
	assert.Equal(t, before[0]+2, after[0])
	assert.Equal(t, before[1], after[1])
	assert.Equal(t, uint64(1), b.Stats().Unicast.Load())
	assert.Zero(t, b.Stats().Dropped.Load())
}

func TestBridgeFloodsMulticast(t *testing.T) {
	links, hosts := segments(3)
	b := NewFromLinks(Config{}, links...)
	defer b.Close()

	group := protocol.MAC{0x01, 0x00, 0x5e, 0x00, 0x00, 0x01}
	hosts[0].send(group)
	hosts[1].send(group)
	assert.Equal(t, []int{1, 1, 2}, received(hosts, map[int]int{0: 1, 1: 1}))
	assert.Equal(t, 2, b.Table().Len())
}

func TestBridgeClearAndClose(t *testing.T) {
	links, hosts := segments(2)
	b := NewFromLinks(Config{Name: "close-test"}, links...)

	hosts[0].send(prototest.MAC(2))
	assert.Equal(t, 1, b.Table().Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SwitchTableEntries.WithLabelValues("close-test")))

	b.Clear()
	assert.Zero(t, b.Table().Len())

	hosts[0].send(prototest.MAC(2))
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Zero(t, b.Table().Len())
	assert.Equal(t, 1, links[1].NumInterfaces())
}

func TestSwitchOverPorts(t *testing.T) {
	links, hosts := segments(2)
	sw := NewSwitch(Config{}, links[0].NewInterface(), links[1].NewInterface())
	defer sw.Close()

	hosts[0].send(prototest.MAC(2))
	hosts[1].send(prototest.MAC(1))
	assert.Equal(t, uint64(1), sw.Stats().Unicast.Load())
	assert.Equal(t, uint64(1), sw.Stats().Flooded.Load())
}

func TestTableSweep(t *testing.T) {
	clk := &clock{now: time.Unix(0, 0)}
	tbl := NewTable[string, int]("", time.Second, clk.Now)
	tbl.Learn("a", 1)
	clk.advance(500 * time.Millisecond)
	tbl.Learn("b", 2)

	clk.advance(500 * time.Millisecond)
	assert.Equal(t, 1, tbl.Sweep())
	v, ok := tbl.Lookup("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	assert.Equal(t, 1, tbl.ForgetFunc(func(v int) bool { return v == 2 }))
	assert.Zero(t, tbl.Len())
}

func TestTableRunSweeper(t *testing.T) {
	var mu sync.Mutex
	now := time.Unix(0, 0)
	tbl := NewTable[string, int]("", time.Second, func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})
	tbl.Learn("a", 1)
	mu.Lock()
	now = now.Add(2 * time.Second)
	mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- tbl.RunSweeper(ctx, 5*time.Millisecond) }()

	require.Eventually(t, func() bool { return tbl.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

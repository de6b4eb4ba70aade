package netif_test

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/fabric/internal/core"
	"firestige.xyz/fabric/internal/metrics"
	"firestige.xyz/fabric/internal/netif"
	"firestige.xyz/fabric/internal/protocol"
	"firestige.xyz/fabric/internal/protocol/prototest"
)

type stubInterface struct {
	*netif.Base[protocol.MAC, *protocol.EthPacket]
	sent []*protocol.EthPacket
}

func newStub(addrs ...protocol.MAC) *stubInterface {
	return &stubInterface{Base: netif.NewBase[protocol.MAC, *protocol.EthPacket](addrs...)}
}

func (s *stubInterface) Send(pkt *protocol.EthPacket, _ protocol.MAC) {
	s.sent = append(s.sent, pkt)
	_ = s.DeliverOutgoing(s, pkt)
}

func (s *stubInterface) Close() error {
	s.ClearListeners()
	return nil
}

type counter struct {
	n int
}

func (c *counter) OnIncomingPacket(netif.Interface[protocol.MAC, *protocol.EthPacket], *protocol.EthPacket) {
	c.n++
}

func TestListenerRegistrationIsIdempotent(t *testing.T) {
	ni := newStub()
	c := &counter{}
	ni.AddListener(c)
	ni.AddListener(c)

	require.NoError(t, ni.DeliverIncoming(ni, prototest.Frame(prototest.MAC(1), prototest.MAC(2), 10)))
	assert.Equal(t, 1, c.n)

	ni.RemoveListener(c)
	ni.RemoveListener(c)
	require.NoError(t, ni.DeliverIncoming(ni, prototest.Frame(prototest.MAC(1), prototest.MAC(2), 10)))
	assert.Equal(t, 1, c.n)
}

type sliceListener struct {
	tags []string
	n    *int
}

func (l sliceListener) OnIncomingPacket(netif.Interface[protocol.MAC, *protocol.EthPacket], *protocol.EthPacket) {
	*l.n++
}

func TestNonComparableListener(t *testing.T) {
	ni := newStub()
	n := 0
	l := sliceListener{tags: []string{"a"}, n: &n}
	c := &counter{}
	require.NotPanics(t, func() {
		ni.AddListener(c)
		ni.AddListener(l)
		ni.AddListener(l)
		ni.AddPromiscuousListener(l)
	})

	require.NoError(t, ni.DeliverIncoming(ni, prototest.Frame(prototest.MAC(1), prototest.MAC(2), 10)))
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, c.n)

	require.NotPanics(t, func() {
		ni.RemoveListener(l)
		ni.RemovePromiscuousListener(l)
		ni.RemoveListener(c)
	})
	require.NoError(t, ni.DeliverIncoming(ni, prototest.Frame(prototest.MAC(1), prototest.MAC(2), 10)))
	assert.Equal(t, 6, n)
	assert.Equal(t, 1, c.n)

	ni.ClearListeners()
	require.NoError(t, ni.DeliverIncoming(ni, prototest.Frame(prototest.MAC(1), prototest.MAC(2), 10)))
	assert.Equal(t, 6, n)
}

func TestIncomingAddressFilter(t *testing.T) {
	self := prototest.MAC(1)
	ni := newStub(self)
	normal, promiscuous := &counter{}, &counter{}
	ni.AddListener(normal)
	ni.AddPromiscuousListener(promiscuous)

	_ = ni.DeliverIncoming(ni, prototest.Frame(prototest.MAC(2), self, 10))
	_ = ni.DeliverIncoming(ni, prototest.Frame(prototest.MAC(2), prototest.MAC(3), 10))
	_ = ni.DeliverIncoming(ni, prototest.Frame(prototest.MAC(2), protocol.Broadcast, 10))

	assert.Equal(t, 2, normal.n)
	assert.Equal(t, 3, promiscuous.n)
}

func TestOutgoingReachesPromiscuousOnly(t *testing.T) {
	ni := newStub()
	normal, promiscuous := &counter{}, &counter{}
	ni.AddListener(normal)
	ni.AddPromiscuousListener(promiscuous)

	ni.Send(prototest.Frame(prototest.MAC(1), prototest.MAC(2), 10), protocol.MAC{})
	assert.Equal(t, 0, normal.n)
	assert.Equal(t, 1, promiscuous.n)
}

func TestListenerFuncIdentity(t *testing.T) {
	ni := newStub()
	calls := 0
	fn := func(netif.Interface[protocol.MAC, *protocol.EthPacket], *protocol.EthPacket) { calls++ }
	a, b := netif.NewListener(fn), netif.NewListener(fn)
	ni.AddListener(a)
	ni.AddListener(b)
	ni.AddListener(a)

	_ = ni.DeliverIncoming(ni, prototest.Frame(prototest.MAC(1), prototest.MAC(2), 10))
	assert.Equal(t, 2, calls)
}

func TestPanickingListenerIsIsolated(t *testing.T) {
	ni := newStub()
	ni.SetName("panicky")
	before := testutil.ToFloat64(metrics.ListenerFailuresTotal.WithLabelValues("panicky"))

	after := &counter{}
	ni.AddListener(netif.NewListener(func(netif.Interface[protocol.MAC, *protocol.EthPacket], *protocol.EthPacket) {
		panic("boom")
	}))
	ni.AddListener(after)

	err := ni.DeliverIncoming(ni, prototest.Frame(prototest.MAC(1), prototest.MAC(2), 10))
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrListenerFailure))
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, 1, after.n)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ListenerFailuresTotal.WithLabelValues("panicky")))
}

func TestAddresses(t *testing.T) {
	a, b := prototest.MAC(1), prototest.MAC(2)
	ni := newStub(a, protocol.MAC{})
	assert.Equal(t, a, ni.Address())
	assert.Equal(t, []protocol.MAC{a}, ni.Addresses())

	ni.AddAddress(b)
	ni.AddAddress(b)
	ni.AddAddress(protocol.MAC{})
	assert.Equal(t, []protocol.MAC{a, b}, ni.Addresses())
	assert.True(t, ni.HasAddress(b))

	ni.RemoveAddress(a)
	assert.Equal(t, b, ni.Address())
	ni.RemoveAddress(b)
	assert.Equal(t, protocol.MAC{}, ni.Address())
	assert.True(t, ni.Accepts(prototest.MAC(9)))
}

func TestNamesAreRandom(t *testing.T) {
	assert.NotEqual(t, newStub().Name(), newStub().Name())
}

package link_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/fabric/internal/link"
	"firestige.xyz/fabric/internal/netif"
	"firestige.xyz/fabric/internal/protocol"
	"firestige.xyz/fabric/internal/protocol/prototest"
)

type ethIface = netif.Interface[protocol.MAC, *protocol.EthPacket]

var _ ethIface = (*link.Interface[protocol.MAC, *protocol.EthPacket])(nil)

type recorder struct {
	got []*protocol.EthPacket
}

func (r *recorder) OnIncomingPacket(_ ethIface, pkt *protocol.EthPacket) {
	r.got = append(r.got, pkt)
}

func TestTransmitSkipsSender(t *testing.T) {
	l := link.New[protocol.MAC, *protocol.EthPacket]()
	a, b, c := l.NewInterface(), l.NewInterface(), l.NewInterface()
	ra, rb, rc := &recorder{}, &recorder{}, &recorder{}
	a.AddListener(ra)
	b.AddListener(rb)
	c.AddListener(rc)

	pkt := prototest.Frame(prototest.MAC(1), prototest.MAC(2), 20)
	a.Send(pkt, protocol.MAC{})

	assert.Empty(t, ra.got)
	assert.Equal(t, []*protocol.EthPacket{pkt}, rb.got)
	assert.Equal(t, []*protocol.EthPacket{pkt}, rc.got)
}

func TestTransmitNextHop(t *testing.T) {
	l := link.New[protocol.MAC, *protocol.EthPacket]()
	a := l.NewInterface(prototest.MAC(1))
	b := l.NewInterface(prototest.MAC(2))
	c := l.NewInterface(prototest.MAC(3))
	rb, rc := &recorder{}, &recorder{}
	b.AddPromiscuousListener(rb)
	c.AddPromiscuousListener(rc)

	a.Send(prototest.Frame(prototest.MAC(1), protocol.Broadcast, 20), prototest.MAC(3))
	assert.Empty(t, rb.got)
	assert.Len(t, rc.got, 1)
}

func TestAddressedDelivery(t *testing.T) {
	l := link.New[protocol.MAC, *protocol.EthPacket]()
	a := l.NewInterface(prototest.MAC(1))
	b := l.NewInterface(prototest.MAC(2))
	rb := &recorder{}
	b.AddListener(rb)

	a.Send(prototest.Frame(prototest.MAC(1), prototest.MAC(9), 20), protocol.MAC{})
	assert.Empty(t, rb.got)
	a.Send(prototest.Frame(prototest.MAC(1), prototest.MAC(2), 20), protocol.MAC{})
	assert.Len(t, rb.got, 1)
}

func TestPromiscuousInterface(t *testing.T) {
	l := link.New[protocol.MAC, *protocol.EthPacket]()
	a := l.NewInterface(prototest.MAC(1))
	b := l.NewInterface(prototest.MAC(2))
	p := l.NewPromiscuousInterface()
	require.Equal(t, 3, l.NumInterfaces())
	assert.Same(t, p, l.Interfaces()[0])
	assert.True(t, p.HasAddress(prototest.MAC(42)))

	rp := &recorder{}
	p.AddListener(rp)
	a.Send(prototest.Frame(prototest.MAC(1), prototest.MAC(2), 20), prototest.MAC(2))
	b.Send(prototest.Frame(prototest.MAC(2), prototest.MAC(7), 20), protocol.MAC{})
	assert.Len(t, rp.got, 2)

	found, ok := l.FindAddress(prototest.MAC(2))
	require.True(t, ok)
	assert.Same(t, b, found)
	_, ok = l.FindAddress(prototest.MAC(42))
	assert.False(t, ok)
}

func TestSendObservedLocally(t *testing.T) {
	l := link.New[protocol.MAC, *protocol.EthPacket]()
	a := l.NewInterface()
	ra := &recorder{}
	a.AddPromiscuousListener(ra)
	a.Send(prototest.Frame(prototest.MAC(1), prototest.MAC(2), 20), protocol.MAC{})
	assert.Len(t, ra.got, 1)
}

func TestCloseDetaches(t *testing.T) {
	l := link.New[protocol.MAC, *protocol.EthPacket]()
	a, b := l.NewInterface(), l.NewInterface()
	rb := &recorder{}
	b.AddListener(rb)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, 1, l.NumInterfaces())

	a.Send(prototest.Frame(prototest.MAC(1), prototest.MAC(2), 20), protocol.MAC{})
	assert.Empty(t, rb.got)
}

func TestNextHopDeliveryIsAddressed(t *testing.T) {
	l := link.New[protocol.MAC, *protocol.EthPacket]()
	a := l.NewInterface(prototest.MAC(1))
	b := l.NewInterface(prototest.MAC(2))
	rb := &recorder{}
	b.AddListener(rb)

	a.Send(prototest.Frame(prototest.MAC(1), prototest.MAC(9), 20), prototest.MAC(2))
	assert.Len(t, rb.got, 1)
}

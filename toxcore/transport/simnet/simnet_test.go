package simnet

import (
	"net/netip"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/TheusHen/toxcore/toxcore/transport"
)

var (
	addrA = netip.MustParseAddrPort("10.0.0.1:33445")
	addrB = netip.MustParseAddrPort("10.0.0.2:33445")
)

func TestDeliveryHonoursLatency(t *testing.T) {
	clk := clock.NewMock()
	n := New(clk, 20*time.Millisecond)
	a, err := n.Listen(addrA)
	require.NoError(t, err)
	b, err := n.Listen(addrB)
	require.NoError(t, err)

	_, err = a.WriteTo([]byte("one"), addrB)
	require.NoError(t, err)
	clk.Add(5 * time.Millisecond)
	_, err = a.WriteTo([]byte("two"), addrB)
	require.NoError(t, err)

	buf := make([]byte, 16)
	_, _, err = b.ReadFrom(buf)
	require.ErrorIs(t, err, transport.ErrWouldBlock)

	clk.Add(15 * time.Millisecond)
	k, from, err := b.ReadFrom(buf)
	require.NoError(t, err)
	require.Equal(t, "one", string(buf[:k]))
	require.Equal(t, addrA, from)

	_, _, err = b.ReadFrom(buf)
	require.ErrorIs(t, err, transport.ErrWouldBlock, "second datagram is not due yet")

	clk.Add(5 * time.Millisecond)
	k, _, err = b.ReadFrom(buf)
	require.NoError(t, err)
	require.Equal(t, "two", string(buf[:k]))
}

func TestUnboundAndFilteredAreLost(t *testing.T) {
	clk := clock.NewMock()
	n := New(clk, 0)
	a, _ := n.Listen(addrA)
	b, _ := n.Listen(addrB)

	_, err := a.WriteTo([]byte("void"), netip.MustParseAddrPort("10.9.9.9:1"))
	require.NoError(t, err)

	n.SetFilter(func(from, to netip.AddrPort, _ []byte) bool { return to != addrB })
	_, err = a.WriteTo([]byte("blocked"), addrB)
	require.NoError(t, err)
	require.Equal(t, 0, b.Pending())

	sent, delivered, lost := n.Stats()
	require.Equal(t, uint64(2), sent)
	require.Equal(t, uint64(0), delivered)
	require.Equal(t, uint64(2), lost)
}

func TestListenAndClose(t *testing.T) {
	n := New(clock.NewMock(), 0)
	a, err := n.Listen(addrA)
	require.NoError(t, err)
	_, err = n.Listen(addrA)
	require.ErrorIs(t, err, ErrAddrInUse)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	_, _, err = a.ReadFrom(make([]byte, 1))
	require.ErrorIs(t, err, transport.ErrClosed)
	_, err = a.WriteTo([]byte("x"), addrB)
	require.ErrorIs(t, err, transport.ErrClosed)

	again, err := n.Listen(addrA)
	require.NoError(t, err)
	require.Equal(t, addrA, again.LocalAddr())
}

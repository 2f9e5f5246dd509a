// Package lan computes LAN discovery destinations and prepares sockets to
// reach them.
package lan

import (
	"fmt"
	"net"
	"net/netip"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

var (
	LimitedBroadcast = netip.AddrFrom4([4]byte{255, 255, 255, 255})
	AllNodes         = netip.MustParseAddr("ff02::1")

	sharedSpace = netip.MustParsePrefix("100.64.0.0/10")
)

// Targets returns every destination a LAN discovery packet is sent to for
// the given ports: the limited broadcast, the directed broadcast of each
// local IPv4 network and, with ipv6, the link-local all-nodes group.
func Targets(ipv6Enabled bool, ports []uint16) []netip.AddrPort {
	addrs := []netip.Addr{LimitedBroadcast}
	addrs = append(addrs, DirectedBroadcasts(interfacePrefixes())...)
	if ipv6Enabled {
		addrs = append(addrs, AllNodes)
	}
	out := make([]netip.AddrPort, 0, len(addrs)*len(ports))
	for _, a := range addrs {
		for _, p := range ports {
			out = append(out, netip.AddrPortFrom(a, p))
		}
	}
	return out
}

// DirectedBroadcasts returns the broadcast address of every IPv4 prefix
// shorter than /31, without duplicates.
func DirectedBroadcasts(prefixes []netip.Prefix) []netip.Addr {
	seen := make(map[netip.Addr]bool)
	var out []netip.Addr
	for _, p := range prefixes {
		b, ok := Broadcast(p)
		if !ok || seen[b] {
			continue
		}
		seen[b] = true
		out = append(out, b)
	}
	return out
}

// Broadcast returns the all-ones host address of an IPv4 prefix.
func Broadcast(p netip.Prefix) (netip.Addr, bool) {
	if !p.Addr().Unmap().Is4() || p.Bits() < 0 || p.Bits() >= 31 {
		return netip.Addr{}, false
	}
	a := p.Addr().Unmap().As4()
	host := uint32(1)<<(32-p.Bits()) - 1
	v := uint32(a[0])<<24 | uint32(a[1])<<16 | uint32(a[2])<<8 | uint32(a[3])
	v |= host
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}), true
}

func interfacePrefixes() []netip.Prefix {
	ifs, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var out []netip.Prefix
	for _, ifi := range ifs {
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagBroadcast == 0 {
			continue
		}
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipn, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			p, err := netip.ParsePrefix(ipn.String())
			if err != nil {
				continue
			}
			out = append(out, p)
		}
	}
	return out
}

// Enable prepares c for LAN discovery. IPv6 sockets join the all-nodes
// group; both families keep discovery traffic on the local link.
func Enable(c *net.UDPConn, ipv6Enabled bool) error {
	if ipv6Enabled {
		pc := ipv6.NewPacketConn(c)
		if err := pc.JoinGroup(nil, &net.UDPAddr{IP: net.IP(AllNodes.AsSlice())}); err != nil {
			return fmt.Errorf("lan: join %s: %w", AllNodes, err)
		}
		if err := pc.SetMulticastHopLimit(1); err != nil {
			return fmt.Errorf("lan: hop limit: %w", err)
		}
		return nil
	}
	if err := ipv4.NewPacketConn(c).SetMulticastTTL(1); err != nil {
		return fmt.Errorf("lan: multicast ttl: %w", err)
	}
	return nil
}

// IsLAN reports whether a is a loopback, private, link-local or
// carrier-grade NAT address.
func IsLAN(a netip.Addr) bool {
	a = a.Unmap()
	switch {
	case !a.IsValid():
		return false
	case a.IsLoopback(), a.IsPrivate(), a.IsLinkLocalUnicast(), a.IsLinkLocalMulticast():
		return true
	case a.Is4():
		return sharedSpace.Contains(a)
	}
	return false
}

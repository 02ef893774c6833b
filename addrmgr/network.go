// Copyright (c) 2013-2014 The btcsuite developers
// Copyright (c) 2015-2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrmgr

import (
	"net"

	"github.com/hozan23/bitcoin-abc/asmap"
)

var (
	// rfc1918Nets specifies the IPv4 private address blocks as defined by
	// RFC1918 (10.0.0.0/8, 172.16.0.0/12, and 192.168.0.0/16).
	rfc1918Nets = []net.IPNet{
		ipNet("10.0.0.0", 8, 32),
		ipNet("172.16.0.0", 12, 32),
		ipNet("192.168.0.0", 16, 32),
	}

	// rfc2544Net specifies the IPv4 block as defined by RFC2544
	// (198.18.0.0/15).
	rfc2544Net = ipNet("198.18.0.0", 15, 32)

	// rfc3849Net specifies the IPv6 documentation address block as defined
	// by RFC3849 (2001:DB8::/32).
	rfc3849Net = ipNet("2001:DB8::", 32, 128)

	// rfc3927Net specifies the IPv4 auto configuration address block as
	// defined by RFC3927 (169.254.0.0/16).
	rfc3927Net = ipNet("169.254.0.0", 16, 32)

	// rfc3964Net specifies the IPv6 to IPv4 encapsulation address block as
	// defined by RFC3964 (2002::/16).
	rfc3964Net = ipNet("2002::", 16, 128)

	// rfc4193Net specifies the IPv6 unique local address block as defined
	// by RFC4193 (FC00::/7).
	rfc4193Net = ipNet("FC00::", 7, 128)

	// rfc4380Net specifies the IPv6 teredo tunneling over UDP address block
	// as defined by RFC4380 (2001::/32).
	rfc4380Net = ipNet("2001::", 32, 128)

	// rfc4843Net specifies the IPv6 ORCHID address block as defined by
	// RFC4843 (2001:10::/28).
	rfc4843Net = ipNet("2001:10::", 28, 128)

	// rfc4862Net specifies the IPv6 stateless address autoconfiguration
	// address block as defined by RFC4862 (FE80::/64).
	rfc4862Net = ipNet("FE80::", 64, 128)

	// rfc5737Net specifies the IPv4 documentation address blocks as defined
	// by RFC5737 (192.0.2.0/24, 198.51.100.0/24, 203.0.113.0/24).
	rfc5737Net = []net.IPNet{
		ipNet("192.0.2.0", 24, 32),
		ipNet("198.51.100.0", 24, 32),
		ipNet("203.0.113.0", 24, 32),
	}

	// rfc6052Net specifies the IPv6 well-known prefix address block as
	// defined by RFC6052 (64:FF9B::/96).
	rfc6052Net = ipNet("64:FF9B::", 96, 128)

	// rfc6145Net specifies the IPv6 to IPv4 translated address range as
	// defined by RFC6145 (::FFFF:0:0:0/96).
	rfc6145Net = ipNet("::FFFF:0:0:0", 96, 128)

	// rfc6598Net specifies the IPv4 block as defined by RFC6598 (100.64.0.0/10).
	rfc6598Net = ipNet("100.64.0.0", 10, 32)

	// onionCatNet defines the IPv6 address block used to support Tor.
	// bitcoind encodes a .onion address as a 16 byte number by decoding the
	// address prior to the .onion (i.e. the key hash) base32 into a ten
	// byte number. It then stores the first 6 bytes of the address as
	// 0xfd, 0x87, 0xd8, 0x7e, 0xeb, 0x43.
	//
	// This is the same range used by OnionCat, which is part of the
	// RFC4193 unique local IPv6 range.
	//
	// In summary the format is:
	// { magic 6 bytes, 10 bytes base32 decode of key hash }
	onionCatNet = ipNet("fd87:d87e:eb43::", 48, 128)

	// zero4Net defines the IPv4 address block for address staring with 0
	// (0.0.0.0/8).
	zero4Net = ipNet("0.0.0.0", 8, 32)

	// heNet defines the Hurricane Electric IPv6 address block.
	heNet = ipNet("2001:470::", 32, 128)
)

// ipNet returns a net.IPNet struct given the passed IP address string, number
// of one bits to include at the start of the mask, and the total number of bits
// for the mask.
func ipNet(ip string, ones, bits int) net.IPNet {
	return net.IPNet{IP: net.ParseIP(ip), Mask: net.CIDRMask(ones, bits)}
}

// isIPv4 returns whether or not the given address is an IPv4 address.
func isIPv4(netIP net.IP) bool {
	return netIP.To4() != nil
}

// isLocal returns whether or not the given address is a local address.
func isLocal(netIP net.IP) bool {
	return netIP.IsLoopback() || zero4Net.Contains(netIP)
}

// isOnionCatTor returns whether or not the passed address is in the IPv6 range
// used by bitcoin to support Tor (fd87:d87e:eb43::/48).  Note that this range
// is the same range used by OnionCat, which is part of the RFC4193 unique local
// IPv6 range.
func isOnionCatTor(netIP net.IP) bool {
	return onionCatNet.Contains(netIP)
}

// isRFC1918 returns whether or not the passed address is part of the IPv4
// private network address space as defined by RFC1918 (10.0.0.0/8,
// 172.16.0.0/12, or 192.168.0.0/16).
func isRFC1918(netIP net.IP) bool {
	for _, rfc := range rfc1918Nets {
		if rfc.Contains(netIP) {
			return true
		}
	}
	return false
}

// isRFC2544 returns whether or not the passed address is part of the IPv4
// address space as defined by RFC2544 (198.18.0.0/15).
func isRFC2544(netIP net.IP) bool {
	return rfc2544Net.Contains(netIP)
}

// isRFC3849 returns whether or not the passed address is part of the IPv6
// documentation range as defined by RFC3849 (2001:DB8::/32).
func isRFC3849(netIP net.IP) bool {
	return rfc3849Net.Contains(netIP)
}

// isRFC3927 returns whether or not the passed address is part of the IPv4
// autoconfiguration range as defined by RFC3927 (169.254.0.0/16).
func isRFC3927(netIP net.IP) bool {
	return rfc3927Net.Contains(netIP)
}

// isRFC3964 returns whether or not the passed address is part of the IPv6 to
// IPv4 encapsulation range as defined by RFC3964 (2002::/16).
func isRFC3964(netIP net.IP) bool {
	return rfc3964Net.Contains(netIP)
}

// isRFC4193 returns whether or not the passed address is part of the IPv6
// unique local range as defined by RFC4193 (FC00::/7).
func isRFC4193(netIP net.IP) bool {
	return rfc4193Net.Contains(netIP)
}

// isRFC4380 returns whether or not the passed address is part of the IPv6
// teredo tunneling over UDP range as defined by RFC4380 (2001::/32).
func isRFC4380(netIP net.IP) bool {
	return rfc4380Net.Contains(netIP)
}

// isRFC4843 returns whether or not the passed address is part of the IPv6
// ORCHID range as defined by RFC4843 (2001:10::/28).
func isRFC4843(netIP net.IP) bool {
	return rfc4843Net.Contains(netIP)
}

// isRFC4862 returns whether or not the passed address is part of the IPv6
// stateless address autoconfiguration range as defined by RFC4862 (FE80::/64).
func isRFC4862(netIP net.IP) bool {
	return rfc4862Net.Contains(netIP)
}

// isRFC5737 returns whether or not the passed address is part of the IPv4
// documentation address space as defined by RFC5737 (192.0.2.0/24,
// 198.51.100.0/24, 203.0.113.0/24).
func isRFC5737(netIP net.IP) bool {
	for _, rfc := range rfc5737Net {
		if rfc.Contains(netIP) {
			return true
		}
	}

	return false
}

// isRFC6052 returns whether or not the passed address is part of the IPv6
// well-known prefix range as defined by RFC6052 (64:FF9B::/96).
func isRFC6052(netIP net.IP) bool {
	return rfc6052Net.Contains(netIP)
}

// isRFC6145 returns whether or not the passed address is part of the IPv6 to
// IPv4 translated address range as defined by RFC6145 (::FFFF:0:0:0/96).
func isRFC6145(netIP net.IP) bool {
	return rfc6145Net.Contains(netIP)
}

// isRFC6598 returns whether or not the passed address is part of the IPv4
// shared address space specified by RFC6598 (100.64.0.0/10).
func isRFC6598(netIP net.IP) bool {
	return rfc6598Net.Contains(netIP)
}

// isValid returns whether or not the passed address is valid.  The address is
// considered invalid under the following circumstances:
// IPv4: It is either a zero or all bits set address.
// IPv6: It is either a zero or RFC3849 documentation address.
func isValid(netIP net.IP) bool {
	// IsUnspecified returns if address is 0, so only all bits set, and
	// RFC3849 need to be explicitly checked.
	return netIP != nil && !(netIP.IsUnspecified() ||
		netIP.Equal(net.IPv4bcast))
}

// IsRoutable returns whether or not the passed address is routable over
// the public internet.  This is true as long as the address is valid and is not
// in any reserved ranges.
func IsRoutable(netIP net.IP) bool {
	return isValid(netIP) && !(isRFC1918(netIP) || isRFC2544(netIP) ||
		isRFC3927(netIP) || isRFC4862(netIP) || isRFC3849(netIP) ||
		isRFC4843(netIP) || isRFC5737(netIP) || isRFC6598(netIP) ||
		isLocal(netIP) || (isRFC4193(netIP) && !isOnionCatTor(netIP)))
}

// Network identifies the class of network an address is reachable over.  It
// is used to restrict GetAddr responses and as the leading byte of network
// groups.
type Network uint8

// These constants define the known network classes.
const (
	NetUnroutable Network = iota
	NetIPv4
	NetIPv6
	NetOnion
	NetI2P
	NetCJDNS
	NetInternal

	// AnyNetwork matches every network class when used as a GetAddr filter.
	AnyNetwork Network = 0xff
)

// String returns the network class as a human-readable string.
func (n Network) String() string {
	switch n {
	case NetUnroutable:
		return "unroutable"
	case NetIPv4:
		return "ipv4"
	case NetIPv6:
		return "ipv6"
	case NetOnion:
		return "onion"
	case NetI2P:
		return "i2p"
	case NetCJDNS:
		return "cjdns"
	case NetInternal:
		return "internal"
	case AnyNetwork:
		return "any"
	}
	return "unknown"
}

// isIP returns whether the network address is an IPv4 or IPv6 address.
func (netAddr *NetAddress) isIP() bool {
	return netAddr.Type == IPv4Address || netAddr.Type == IPv6Address
}

// IsValid returns whether the network address is well formed and not one of
// the reserved placeholder addresses.
func (netAddr *NetAddress) IsValid() bool {
	size, ok := addrTypeSizes[netAddr.Type]
	if !ok || len(netAddr.IP) != size {
		return false
	}
	netIP := net.IP(netAddr.IP)
	switch netAddr.Type {
	case IPv4Address:
		return isValid(netIP)
	case IPv6Address:
		return isValid(netIP) && !isRFC3849(netIP) && !isOnionCatTor(netIP)
	case CJDNSAddress:
		return netAddr.IP[0] == 0xfc
	}
	return true
}

// IsRoutable returns a boolean indicating whether the network address is
// routable.
func (netAddr *NetAddress) IsRoutable() bool {
	if !netAddr.IsValid() {
		return false
	}
	if netAddr.isIP() {
		return IsRoutable(netAddr.IP)
	}
	return true
}

// IsLocal returns whether the network address refers to the local host.
func (netAddr *NetAddress) IsLocal() bool {
	return netAddr.isIP() && isLocal(netAddr.IP)
}

// linkedIPv4 returns the IPv4 address the network address is, or embeds by
// means of a translation or tunneling scheme, when it is routable.
func (netAddr *NetAddress) linkedIPv4() (net.IP, bool) {
	if !netAddr.IsRoutable() {
		return nil, false
	}
	netIP := net.IP(netAddr.IP)
	switch {
	case netAddr.Type == IPv4Address:
		return netIP, true
	case netAddr.Type != IPv6Address:
		return nil, false
	case isRFC6145(netIP) || isRFC6052(netIP):
		// last four bytes are the ip address
		return netIP[12:16], true
	case isRFC3964(netIP):
		return netIP[2:6], true
	case isRFC4380(netIP):
		// teredo tunnels have the last 4 bytes as the v4 address XOR
		// 0xff.
		newIP := net.IP(make([]byte, 4))
		for i, b := range netIP[12:16] {
			newIP[i] = b ^ 0xff
		}
		return newIP, true
	}
	return nil, false
}

// NetClass returns the network class of the address.  Addresses with an
// embedded IPv4 address are classified as IPv4.
func (netAddr *NetAddress) NetClass() Network {
	if !netAddr.IsRoutable() {
		return NetUnroutable
	}
	if _, ok := netAddr.linkedIPv4(); ok {
		return NetIPv4
	}
	switch netAddr.Type {
	case IPv6Address:
		return NetIPv6
	case TorV2Address, TorV3Address:
		return NetOnion
	case I2PAddress:
		return NetI2P
	case CJDNSAddress:
		return NetCJDNS
	}
	return NetUnroutable
}

// ipv4InIPv6Prefix is the prefix of IPv4-mapped IPv6 addresses.
var ipv4InIPv6Prefix = [12]byte{10: 0xff, 11: 0xff}

// mappedAS returns the autonomous system number the address belongs to
// according to the provided asmap, or zero when unknown.
func (netAddr *NetAddress) mappedAS(asmapBits []bool) uint32 {
	if len(asmapBits) == 0 {
		return 0
	}
	netClass := netAddr.NetClass()
	if netClass != NetIPv4 && netClass != NetIPv6 {
		return 0
	}
	ipBits := make([]bool, 128)
	if v4, ok := netAddr.linkedIPv4(); ok {
		for i := 0; i < 96; i++ {
			ipBits[i] = (ipv4InIPv6Prefix[i/8]>>(7-i%8))&1 == 1
		}
		for i := 0; i < 32; i++ {
			ipBits[96+i] = (v4[i/8]>>(7-i%8))&1 == 1
		}
	} else {
		for i := 0; i < 128; i++ {
			ipBits[i] = (netAddr.IP[i/8]>>(7-i%8))&1 == 1
		}
	}
	return asmap.Interpret(asmapBits, ipBits)
}

// group returns the network group the address belongs to.  Addresses in the
// same group are assumed to be controlled by the same operator.  With an
// asmap the group is the autonomous system.  Otherwise it is the /16 for IPv4
// and embedded IPv4, the /32 (/36 for he.net) for IPv6, the first 4 bits for
// Tor, I2P and CJDNS, and a single group each for local and unroutable
// addresses.
func (netAddr *NetAddress) group(asmapBits []bool) []byte {
	if asn := netAddr.mappedAS(asmapBits); asn != 0 {
		return []byte{byte(NetIPv6), byte(asn), byte(asn >> 8),
			byte(asn >> 16), byte(asn >> 24)}
	}

	grp := []byte{byte(netAddr.NetClass())}
	if netAddr.IsLocal() || !netAddr.IsRoutable() {
		return grp
	}
	if v4, ok := netAddr.linkedIPv4(); ok {
		return append(grp, v4[0], v4[1])
	}

	var bits int
	switch {
	case netAddr.Type != IPv6Address:
		bits = 4
	case heNet.Contains(netAddr.IP):
		bits = 36
	default:
		bits = 32
	}
	grp = append(grp, netAddr.IP[:bits/8]...)
	if rem := bits % 8; rem > 0 {
		grp = append(grp, netAddr.IP[bits/8]|byte(1<<(8-rem)-1))
	}
	return grp
}

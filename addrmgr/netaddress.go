// Copyright (c) 2021-2025 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrmgr

import (
	"bytes"
	"encoding/base32"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/decred/dcrd/wire"
	"golang.org/x/crypto/sha3"
)

// NetAddressType is used to indicate which network a network address belongs
// to.  The values match the network identifiers of the BIP155 address
// encoding.
type NetAddressType uint8

const (
	UnknownAddressType NetAddressType = iota
	IPv4Address
	IPv6Address
	TorV2Address
	TorV3Address
	I2PAddress
	CJDNSAddress
)

// addrTypeSizes maps each known address type to the length of its raw
// address bytes.
var addrTypeSizes = map[NetAddressType]int{
	IPv4Address:  4,
	IPv6Address:  16,
	TorV2Address: 10,
	TorV3Address: 32,
	I2PAddress:   32,
	CJDNSAddress: 16,
}

// String returns the address type as a human-readable string.
func (t NetAddressType) String() string {
	switch t {
	case IPv4Address:
		return "ipv4"
	case IPv6Address:
		return "ipv6"
	case TorV2Address:
		return "torv2"
	case TorV3Address:
		return "torv3"
	case I2PAddress:
		return "i2p"
	case CJDNSAddress:
		return "cjdns"
	}
	return "unknown"
}

const (
	// torV3VersionByte is the version byte embedded in Tor v3 onion
	// addresses.
	torV3VersionByte = 0x03

	// onionSuffix and i2pSuffix are the host name suffixes of the overlay
	// networks.
	onionSuffix = ".onion"
	i2pSuffix   = ".b32.i2p"
)

var (
	// onionEncoding encodes Tor onion service keys.
	onionEncoding = base32.StdEncoding

	// i2pEncoding encodes I2P destination hashes, which are written without
	// padding.
	i2pEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)
)

// NetAddress defines information about a peer on the network.
type NetAddress struct {
	// Type represents the type of an address (IPv4, IPv6, Tor, etc.).
	Type NetAddressType

	// IP address of the peer.  It is defined as a byte array to support various
	// address types that are not standard to the net module and therefore not
	// entirely appropriate to store as a net.IP.
	IP []byte

	// Port is the port of the remote peer.
	Port uint16

	// Timestamp is the last time the address was seen.
	Timestamp time.Time

	// Services represents the service flags supported by this network address.
	Services wire.ServiceFlag
}

// calcTorV3Checksum returns the two byte checksum of a Tor v3 onion service
// public key.
func calcTorV3Checksum(publicKey []byte) [2]byte {
	h := sha3.New256()
	h.Write([]byte(".onion checksum"))
	h.Write(publicKey)
	h.Write([]byte{torV3VersionByte})
	var sum [2]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// ipString returns a string representation of the network address' IP field.
// It does not include the port.
func (netAddr *NetAddress) ipString() string {
	netIP := netAddr.IP
	switch netAddr.Type {
	case IPv4Address, IPv6Address, CJDNSAddress:
		return net.IP(netIP).String()
	case TorV2Address:
		return strings.ToLower(onionEncoding.EncodeToString(netIP)) + onionSuffix
	case TorV3Address:
		checksum := calcTorV3Checksum(netIP)
		var torAddressBytes [35]byte
		copy(torAddressBytes[:32], netIP)
		copy(torAddressBytes[32:34], checksum[:])
		torAddressBytes[34] = torV3VersionByte
		return strings.ToLower(onionEncoding.EncodeToString(torAddressBytes[:])) + onionSuffix
	case I2PAddress:
		return strings.ToLower(i2pEncoding.EncodeToString(netIP)) + i2pSuffix
	}

	// If the netAddr.Type is not recognized in the switch:
	return fmt.Sprintf("unsupported IP type %d, %s, %[2]x", netAddr.Type, netIP)
}

// Host returns the address without its port.
func (netAddr *NetAddress) Host() string {
	return netAddr.ipString()
}

// Key returns a string that can be used to uniquely represent the network
// address and includes the port.
func (netAddr *NetAddress) Key() string {
	portString := strconv.FormatUint(uint64(netAddr.Port), 10)
	return net.JoinHostPort(netAddr.ipString(), portString)
}

// String returns a human-readable string for the network address.  This is
// equivalent to calling Key, but is provided so the type can be used as a
// fmt.Stringer.
func (netAddr *NetAddress) String() string {
	return netAddr.Key()
}

// hostKey returns the identity of the network address without its port.  The
// address manager indexes records by this value.
func (netAddr *NetAddress) hostKey() string {
	var b strings.Builder
	b.Grow(1 + len(netAddr.IP))
	b.WriteByte(byte(netAddr.Type))
	b.Write(netAddr.IP)
	return b.String()
}

// sameHost returns whether both addresses refer to the same host, ignoring
// ports.
func (netAddr *NetAddress) sameHost(other *NetAddress) bool {
	return netAddr.Type == other.Type && bytes.Equal(netAddr.IP, other.IP)
}

// Clone creates a shallow copy of the NetAddress instance.  The IP reference
// is shared since it is not mutated.
func (netAddr *NetAddress) Clone() *NetAddress {
	netAddrCopy := *netAddr
	return &netAddrCopy
}

// AddService adds the provided service to the set of services that the
// network address supports.
func (netAddr *NetAddress) AddService(service wire.ServiceFlag) {
	netAddr.Services |= service
}

// deriveNetAddressType attempts to determine the network address type from the
// address' raw bytes.  If the type cannot be determined, an error is returned.
// The claimedType parameter provides a hint for ambiguous byte lengths.
func deriveNetAddressType(claimedType NetAddressType, addrBytes []byte) (NetAddressType, error) {
	addrLen := len(addrBytes)
	switch {
	case claimedType == CJDNSAddress && addrLen == 16:
		return CJDNSAddress, nil
	case isIPv4(addrBytes):
		return IPv4Address, nil
	case addrLen == 16 && isOnionCatTor(addrBytes):
		return TorV2Address, nil
	case addrLen == 16:
		return IPv6Address, nil
	case addrLen == 10 && claimedType == TorV2Address:
		return TorV2Address, nil
	case addrLen == 32 && claimedType == TorV3Address:
		return TorV3Address, nil
	case addrLen == 32 && claimedType == I2PAddress:
		return I2PAddress, nil
	}
	str := fmt.Sprintf("unable to determine address type from raw network "+
		"address bytes: %v", addrBytes)
	return UnknownAddressType, makeError(ErrUnknownAddressType, str)
}

// canonicalizeIP converts the provided address' bytes into a standard structure
// based on the type of the network address, if applicable.
func canonicalizeIP(addrType NetAddressType, addrBytes []byte) []byte {
	if addrBytes == nil {
		return nil
	}
	switch {
	case len(addrBytes) == 16 && addrType == IPv4Address:
		return net.IP(addrBytes).To4()
	case len(addrBytes) == 16 && addrType == TorV2Address &&
		isOnionCatTor(addrBytes):
		return append([]byte(nil), addrBytes[6:]...)
	case addrType == IPv6Address:
		return net.IP(addrBytes).To16()
	}
	// Given a Tor address (or other), the bytes are returned unchanged.
	return addrBytes
}

// checkNetAddressType returns an error if the suggested address type does not
// appear to match the provided address.
func checkNetAddressType(addrType NetAddressType, addrBytes []byte) error {
	derivedAddressType, err := deriveNetAddressType(addrType, addrBytes)
	if err != nil {
		return err
	}
	if addrType != derivedAddressType {
		str := fmt.Sprintf("derived address type does not match expected value"+
			" (got %v, expected %v, address bytes %v).", derivedAddressType,
			addrType, addrBytes)
		return makeError(ErrMismatchedAddressType, str)
	}
	return nil
}

// NewNetAddressFromParams creates a new network address from the given
// parameters. If the provided address type does not appear to match the
// address, an error is returned.
func NewNetAddressFromParams(addrType NetAddressType, addrBytes []byte, port uint16, timestamp time.Time, services wire.ServiceFlag) (*NetAddress, error) {
	canonicalizedIP := canonicalizeIP(addrType, addrBytes)
	err := checkNetAddressType(addrType, canonicalizedIP)
	if err != nil {
		return nil, err
	}
	return &NetAddress{
		Type:      addrType,
		IP:        canonicalizedIP,
		Port:      port,
		Services:  services,
		Timestamp: timestamp,
	}, nil
}

// decodeHost returns the address type and raw bytes of a host name which is
// either an IP literal or an overlay network name.  UnknownAddressType is
// returned when the host cannot be decoded.
func decodeHost(host string) (NetAddressType, []byte) {
	lower := strings.ToLower(host)
	switch {
	case strings.HasSuffix(lower, i2pSuffix):
		name := strings.ToUpper(strings.TrimSuffix(lower, i2pSuffix))
		if len(name) != 52 {
			return UnknownAddressType, nil
		}
		data, err := i2pEncoding.DecodeString(name)
		if err != nil || len(data) != 32 {
			return UnknownAddressType, nil
		}
		return I2PAddress, data

	case strings.HasSuffix(lower, onionSuffix):
		name := strings.ToUpper(strings.TrimSuffix(lower, onionSuffix))
		data, err := onionEncoding.DecodeString(name)
		if err != nil {
			return UnknownAddressType, nil
		}
		switch len(data) {
		case 10:
			return TorV2Address, data
		case 35:
			pubKey := data[:32]
			checksum := calcTorV3Checksum(pubKey)
			if data[34] != torV3VersionByte ||
				!bytes.Equal(data[32:34], checksum[:]) {
				return UnknownAddressType, nil
			}
			return TorV3Address, pubKey
		}
		return UnknownAddressType, nil
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return UnknownAddressType, nil
	}
	if v4 := ip.To4(); v4 != nil {
		return IPv4Address, v4
	}
	if isOnionCatTor(ip) {
		return TorV2Address, ip
	}
	return IPv6Address, ip.To16()
}

// NewNetAddressFromString creates a new network address from the given string.
// The address string is expected to be provided in the format "host:port"
// where host is an IP literal, a Tor onion name or an I2P b32 name.
func NewNetAddressFromString(addr string, services wire.ServiceFlag) (*NetAddress, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, err
	}
	addrType, addrBytes := decodeHost(host)
	if addrType == UnknownAddressType {
		str := fmt.Sprintf("failed to deserialize address %s", addr)
		return nil, makeError(ErrUnknownAddressType, str)
	}
	timestamp := time.Unix(time.Now().Unix(), 0)
	return NewNetAddressFromParams(addrType, addrBytes, uint16(port), timestamp,
		services)
}

// NewNetAddressFromIPPort creates a new network address given an ip, port, and
// the supported service flags for the address.  The provided ip MUST be a valid
// IPv4 or IPv6 address, since this method does not perform error checking on
// the derived network address type.  Furthermore, other types of network
// addresses (like Tor) will not be recognized.
func NewNetAddressFromIPPort(ip net.IP, port uint16, services wire.ServiceFlag) *NetAddress {
	netAddressType, _ := deriveNetAddressType(UnknownAddressType, ip)
	timestamp := time.Unix(time.Now().Unix(), 0)
	canonicalizedIP := canonicalizeIP(netAddressType, ip)
	return &NetAddress{
		Type:      netAddressType,
		IP:        canonicalizedIP,
		Port:      port,
		Services:  services,
		Timestamp: timestamp,
	}
}

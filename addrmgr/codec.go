// Copyright (c) 2025 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrmgr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/wire"
	"github.com/hozan23/bitcoin-abc/asmap"
)

// Format identifies a version of the serialized address manager state.
type Format uint8

// These constants define the known serialization formats.  Every format can
// be read, FormatBIP155 is written.
const (
	// FormatHistorical is the format used before bucketing became
	// deterministic.
	FormatHistorical Format = 0

	// FormatDeterministic marks the new bucket count so that bucket
	// positions are only restored when they were computed the same way.
	FormatDeterministic Format = 1

	// FormatAsmap adds the checksum of the asmap used for bucketing.
	FormatAsmap Format = 2

	// FormatBIP155 encodes addresses in the variable length BIP155 format
	// which supports Tor v3, I2P and CJDNS addresses.
	FormatBIP155 Format = 3

	// currentFormat is the format written by Serialize.
	currentFormat = FormatBIP155

	// lowestCompatibleFormat is the oldest format a reader must understand
	// to read what Serialize writes.
	lowestCompatibleFormat = FormatBIP155

	// incompatibilityBase is added to the lowest compatible format in the
	// second header byte.  Readers predating the field treat any value of
	// at least this base as an incompatible file.
	incompatibilityBase = 32
)

// String returns the format as a human-readable string.
func (f Format) String() string {
	switch f {
	case FormatHistorical:
		return "historical"
	case FormatDeterministic:
		return "deterministic"
	case FormatAsmap:
		return "asmap"
	case FormatBIP155:
		return "bip155"
	}
	return fmt.Sprintf("unknown(%d)", uint8(f))
}

const (
	// recordVersionInit is the version written for every record.  The low
	// bits are informational and ignored by readers.
	recordVersionInit = 220000

	// recordVersionIgnoreMask covers the informational record version bits.
	recordVersionIgnoreMask = 0x7ffff

	// recordVersionAddrV2 flags records with BIP155 encoded addresses.
	recordVersionAddrV2 = 1 << 29

	// newBucketCountFlag is xored into the serialized new bucket count
	// starting with FormatDeterministic.
	newBucketCountFlag = 1 << 30

	// maxAddrV2Size is the maximum length of a BIP155 encoded address.
	maxAddrV2Size = 512

	// legacyAddrSize is the length of an address in the legacy encoding.
	legacyAddrSize = 16
)

// onionCatPrefix is the IPv6 prefix used to embed Tor v2 addresses in the
// legacy address encoding.
var onionCatPrefix = [6]byte{0xfd, 0x87, 0xd8, 0x7e, 0xeb, 0x43}

// corruptf returns an ErrCorruptState error.
func corruptf(format string, args ...any) error {
	return makeError(ErrCorruptState, fmt.Sprintf(format, args...))
}

// stateWriter writes little endian encoded fields and keeps the first error.
type stateWriter struct {
	w   io.Writer
	err error
	buf [8]byte
}

func (sw *stateWriter) write(b []byte) {
	if sw.err == nil {
		_, sw.err = sw.w.Write(b)
	}
}

func (sw *stateWriter) uint8(v uint8) {
	sw.buf[0] = v
	sw.write(sw.buf[:1])
}

func (sw *stateWriter) uint16BE(v uint16) {
	binary.BigEndian.PutUint16(sw.buf[:2], v)
	sw.write(sw.buf[:2])
}

func (sw *stateWriter) uint32(v uint32) {
	binary.LittleEndian.PutUint32(sw.buf[:4], v)
	sw.write(sw.buf[:4])
}

func (sw *stateWriter) int32(v int32) {
	sw.uint32(uint32(v))
}

func (sw *stateWriter) uint64(v uint64) {
	binary.LittleEndian.PutUint64(sw.buf[:8], v)
	sw.write(sw.buf[:8])
}

func (sw *stateWriter) varInt(v uint64) {
	if sw.err == nil {
		sw.err = wire.WriteVarInt(sw.w, 0, v)
	}
}

func (sw *stateWriter) varBytes(b []byte) {
	if sw.err == nil {
		sw.err = wire.WriteVarBytes(sw.w, 0, b)
	}
}

// stateReader reads little endian encoded fields and keeps the first error.
// Running out of data is reported as corrupt state.
type stateReader struct {
	r   io.Reader
	err error
	buf [8]byte
}

func (sr *stateReader) fail(err error) {
	if sr.err != nil {
		return
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		err = corruptf("truncated address manager state: %v", err)
	}
	sr.err = err
}

func (sr *stateReader) read(b []byte) {
	if sr.err != nil {
		return
	}
	if _, err := io.ReadFull(sr.r, b); err != nil {
		sr.fail(err)
		clear(b)
	}
}

func (sr *stateReader) uint8() uint8 {
	sr.read(sr.buf[:1])
	return sr.buf[0]
}

func (sr *stateReader) uint16BE() uint16 {
	sr.read(sr.buf[:2])
	return binary.BigEndian.Uint16(sr.buf[:2])
}

func (sr *stateReader) uint32() uint32 {
	sr.read(sr.buf[:4])
	return binary.LittleEndian.Uint32(sr.buf[:4])
}

func (sr *stateReader) int32() int32 {
	return int32(sr.uint32())
}

func (sr *stateReader) uint64() uint64 {
	sr.read(sr.buf[:8])
	return binary.LittleEndian.Uint64(sr.buf[:8])
}

func (sr *stateReader) varInt() uint64 {
	if sr.err != nil {
		return 0
	}
	v, err := wire.ReadVarInt(sr.r, 0)
	if err != nil {
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			err = corruptf("malformed compact size: %v", err)
		}
		sr.fail(err)
		return 0
	}
	return v
}

// unixSeconds returns the seconds since the epoch of t, treating the zero
// time as zero.
func unixSeconds(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// fromUnixSeconds is the inverse of unixSeconds.
func fromUnixSeconds(secs int64) time.Time {
	if secs == 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}

// writeAddrV2 writes an address in the BIP155 encoding.
func writeAddrV2(sw *stateWriter, na *NetAddress) {
	sw.uint8(uint8(na.Type))
	sw.varBytes(na.IP)
}

// writeAddrLegacy writes an address in the 16 byte legacy encoding.  Address
// types without a legacy form are written as the unspecified IPv6 address,
// which is dropped when read back.
func writeAddrLegacy(sw *stateWriter, na *NetAddress) {
	var b [legacyAddrSize]byte
	switch na.Type {
	case IPv4Address:
		copy(b[:], ipv4InIPv6Prefix[:])
		copy(b[12:], na.IP)
	case IPv6Address:
		copy(b[:], na.IP)
	case TorV2Address:
		copy(b[:], onionCatPrefix[:])
		copy(b[6:], na.IP)
	}
	sw.write(b[:])
}

// invalidAddr returns the placeholder for addresses that cannot be
// represented.  It is never valid.
func invalidAddr() *NetAddress {
	return &NetAddress{Type: IPv6Address, IP: make([]byte, 16)}
}

// readAddrV2 reads an address in the BIP155 encoding.  Addresses of unknown
// networks are skipped and returned as an invalid address.
func readAddrV2(sr *stateReader) *NetAddress {
	netID := NetAddressType(sr.uint8())
	size := sr.varInt()
	if sr.err != nil {
		return invalidAddr()
	}
	if size > maxAddrV2Size {
		sr.fail(corruptf("address too long: %d bytes", size))
		return invalidAddr()
	}

	addrBytes := make([]byte, size)
	sr.read(addrBytes)
	wantSize, known := addrTypeSizes[netID]
	if !known {
		return invalidAddr()
	}
	if int(size) != wantSize {
		sr.fail(corruptf("BIP155 %v address with length %d (should be %d)",
			netID, size, wantSize))
		return invalidAddr()
	}

	// IPv4 and Tor v2 addresses must not be embedded in IPv6.
	if netID == IPv6Address && (isIPv4(addrBytes) || isOnionCatTor(addrBytes)) {
		return invalidAddr()
	}
	return &NetAddress{Type: netID, IP: addrBytes}
}

// readAddrLegacy reads an address in the 16 byte legacy encoding.
func readAddrLegacy(sr *stateReader) *NetAddress {
	b := make([]byte, legacyAddrSize)
	sr.read(b)
	switch {
	case isIPv4(b):
		return &NetAddress{Type: IPv4Address, IP: b[12:]}
	case isOnionCatTor(b):
		return &NetAddress{Type: TorV2Address, IP: b[6:]}
	}
	return &NetAddress{Type: IPv6Address, IP: b}
}

// writeRecord writes a single record using the address encoding of the given
// format.
func writeRecord(sw *stateWriter, ai *AddrInfo, format Format) {
	addrV2 := format >= FormatBIP155
	version := int32(recordVersionInit)
	if addrV2 {
		version |= recordVersionAddrV2
	}
	sw.int32(version)

	na := ai.NetAddress
	sw.uint32(uint32(unixSeconds(na.Timestamp)))
	if addrV2 {
		sw.varInt(uint64(na.Services))
		writeAddrV2(sw, na)
	} else {
		sw.uint64(uint64(na.Services))
		writeAddrLegacy(sw, na)
	}
	sw.uint16BE(na.Port)

	if addrV2 {
		writeAddrV2(sw, ai.Source)
	} else {
		writeAddrLegacy(sw, ai.Source)
	}
	sw.uint64(uint64(unixSeconds(ai.LastSuccess)))
	sw.int32(int32(ai.Attempts))
}

// readRecord reads a single record.  The address encoding of the record
// itself is selected by its version while the source address uses the
// encoding of the given format.
func readRecord(sr *stateReader, format Format) *AddrInfo {
	version := uint32(sr.int32()) &^ recordVersionIgnoreMask
	var addrV2 bool
	switch {
	case sr.err != nil:
		return nil
	case version == 0:
	case version == recordVersionAddrV2 && format >= FormatBIP155:
		addrV2 = true
	default:
		sr.fail(corruptf("unsupported record version %#x", version))
		return nil
	}

	timestamp := fromUnixSeconds(int64(sr.uint32()))
	var services uint64
	var na *NetAddress
	if addrV2 {
		services = sr.varInt()
		na = readAddrV2(sr)
	} else {
		services = sr.uint64()
		na = readAddrLegacy(sr)
	}
	na.Port = sr.uint16BE()
	na.Timestamp = timestamp
	na.Services = wire.ServiceFlag(services)

	var src *NetAddress
	if format >= FormatBIP155 {
		src = readAddrV2(sr)
	} else {
		src = readAddrLegacy(sr)
	}

	lastSuccess := int64(sr.uint64())
	attempts := sr.int32()
	if sr.err != nil {
		return nil
	}

	ai := newAddrInfo(na, src)
	ai.LastSuccess = fromUnixSeconds(lastSuccess)
	ai.Attempts = int(attempts)
	return ai
}

// asmapChecksum returns the checksum of the asmap in use, or the zero hash
// without one.
func (a *AddrManager) asmapChecksum() chainhash.Hash {
	if len(a.asmap) == 0 {
		return chainhash.Hash{}
	}
	return asmap.Checksum(a.asmap)
}

// Serialize writes the complete state of the address manager to w using the
// current format.  Errors of the writer are returned unchanged.
//
// This function is safe for concurrent access.
func (a *AddrManager) Serialize(w io.Writer) error {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	return a.serialize(w, currentFormat)
}

// serialize writes the state in the given format.
//
// This function MUST be called with the address manager lock held (for
// reads).
func (a *AddrManager) serialize(w io.Writer, format Format) error {
	lowestCompatible := lowestCompatibleFormat
	if format < lowestCompatible {
		lowestCompatible = FormatHistorical
	}

	sw := &stateWriter{w: w}
	sw.uint8(uint8(format))
	sw.uint8(incompatibilityBase + uint8(lowestCompatible))
	sw.write(a.key[:])
	sw.int32(int32(a.nNew))
	sw.int32(int32(a.nTried))
	newBuckets := int32(NewBucketCount)
	if format >= FormatDeterministic {
		newBuckets ^= newBucketCountFlag
	}
	sw.int32(newBuckets)

	// New records are written first and referenced by their index from the
	// bucket lists that follow the tried records.
	newIndex := make(map[int]int32, a.nNew)
	for _, id := range a.randomOrder {
		if ai := a.records[id]; !ai.inTried {
			newIndex[id] = int32(len(newIndex))
			writeRecord(sw, ai, format)
		}
	}
	for _, id := range a.randomOrder {
		if ai := a.records[id]; ai.inTried {
			writeRecord(sw, ai, format)
		}
	}
	for bucket := range a.newTable {
		var count int32
		for _, id := range a.newTable[bucket] {
			if id != emptySlot {
				count++
			}
		}
		sw.int32(count)
		for _, id := range a.newTable[bucket] {
			if id != emptySlot {
				sw.int32(newIndex[id])
			}
		}
	}
	if format >= FormatAsmap {
		checksum := a.asmapChecksum()
		sw.write(checksum[:])
	}
	return sw.err
}

// Unserialize replaces the state of the address manager with the state read
// from r.  Records that cannot be placed are dropped.  An error of kind
// ErrUnsupportedFormat is returned when the state requires a newer reader and
// ErrCorruptState when it cannot be decoded.  The address manager is empty
// after an error.
//
// This function is safe for concurrent access.
func (a *AddrManager) Unserialize(r io.Reader) error {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	if err := a.unserialize(r); err != nil {
		a.reset()
		return err
	}
	return nil
}

// bucketEntry is a serialized reference from a new bucket to a new record.
type bucketEntry struct {
	bucket int
	index  int
}

// unserialize implements Unserialize.
//
// This function MUST be called with the address manager lock held (for
// writes).
func (a *AddrManager) unserialize(r io.Reader) error {
	a.reset()

	sr := &stateReader{r: r}
	format := Format(sr.uint8())
	compat := sr.uint8()
	if sr.err != nil {
		return sr.err
	}
	lowestCompatible := Format(compat - incompatibilityBase)
	if lowestCompatible > currentFormat {
		str := fmt.Sprintf("unsupported address manager state format %d: "+
			"it requires a reader for format %d or later, but only "+
			"formats up to %d are supported", format, lowestCompatible,
			currentFormat)
		return makeError(ErrUnsupportedFormat, str)
	}

	var key [32]byte
	sr.read(key[:])
	nNew := sr.int32()
	nTried := sr.int32()
	newBuckets := sr.int32()
	if sr.err != nil {
		return sr.err
	}
	a.setKey(key)
	if format >= FormatDeterministic {
		newBuckets ^= newBucketCountFlag
	}
	if nNew < 0 || nNew > NewBucketCount*BucketSize {
		return corruptf("new record count %d is not in [0, %d]", nNew,
			NewBucketCount*BucketSize)
	}
	if nTried < 0 || nTried > TriedBucketCount*BucketSize {
		return corruptf("tried record count %d is not in [0, %d]", nTried,
			TriedBucketCount*BucketSize)
	}
	if newBuckets < 0 {
		return corruptf("negative new bucket count %d", newBuckets)
	}

	// Deserialize the new records.  Their ids are their indices.
	var lostNew, lostTried int
	for n := 0; n < int(nNew); n++ {
		ai := readRecord(sr, format)
		if sr.err != nil {
			return sr.err
		}
		if !ai.NetAddress.IsValid() {
			lostNew++
			continue
		}
		if _, dup := a.idByAddr[ai.NetAddress.hostKey()]; dup {
			log.Warnf("Skipping duplicate address %s", ai.NetAddress)
			lostNew++
			continue
		}
		ai.randomPos = len(a.randomOrder)
		a.records[n] = ai
		a.idByAddr[ai.NetAddress.hostKey()] = n
		a.randomOrder = append(a.randomOrder, n)
		a.nNew++
	}
	a.idCount = int(nNew)

	// Deserialize the tried records and place them in the tried table.
	for n := 0; n < int(nTried); n++ {
		ai := readRecord(sr, format)
		if sr.err != nil {
			return sr.err
		}
		if !ai.NetAddress.IsValid() {
			lostTried++
			continue
		}
		if _, dup := a.idByAddr[ai.NetAddress.hostKey()]; dup {
			log.Warnf("Skipping duplicate address %s", ai.NetAddress)
			lostTried++
			continue
		}
		bucket := a.triedBucket(ai.NetAddress)
		pos := a.bucketPosition(ai.NetAddress, false, bucket)
		if a.triedTable[bucket][pos] != emptySlot {
			lostTried++
			continue
		}

		id := a.idCount
		a.idCount++
		ai.inTried = true
		ai.randomPos = len(a.randomOrder)
		a.records[id] = ai
		a.idByAddr[ai.NetAddress.hostKey()] = id
		a.randomOrder = append(a.randomOrder, id)
		a.triedTable[bucket][pos] = id
		a.nTried++
	}

	// Collect the bucket references of the new records to apply once the
	// asmap checksum is known.
	var entries []bucketEntry
	var outOfRange int
	for bucket := 0; bucket < int(newBuckets); bucket++ {
		count := sr.int32()
		if sr.err != nil {
			return sr.err
		}
		if count < 0 || count > BucketSize {
			return corruptf("new bucket %d holds %d entries", bucket, count)
		}
		for i := int32(0); i < count; i++ {
			index := sr.int32()
			if index < 0 || index >= nNew {
				outOfRange++
				continue
			}
			entries = append(entries, bucketEntry{bucket, int(index)})
		}
	}
	if outOfRange > 0 {
		log.Warnf("Skipping %d new bucket entries with out of range "+
			"indices", outOfRange)
	}
	var checksum chainhash.Hash
	if format >= FormatAsmap {
		sr.read(checksum[:])
	}
	if sr.err != nil {
		return sr.err
	}

	// Restore the serialized bucket positions when they were computed the
	// same way.  Otherwise give every record a reference based on its
	// primary source.
	restore := newBuckets == NewBucketCount && checksum == a.asmapChecksum()
	if !restore {
		log.Infof("Bucketing method was updated, re-bucketing address " +
			"manager entries")
	}
	for _, entry := range entries {
		ai, ok := a.records[entry.index]
		if !ok || ai.refCount >= NewBucketsPerAddress {
			continue
		}
		bucket := entry.bucket
		if !restore {
			bucket = a.newBucket(ai.NetAddress, ai.Source)
		}
		pos := a.bucketPosition(ai.NetAddress, true, bucket)
		if a.newTable[bucket][pos] == emptySlot {
			a.newTable[bucket][pos] = entry.index
			ai.refCount++
		}
	}

	// Prune new records that ended up without a bucket.
	for id := 0; id < int(nNew); id++ {
		if ai, ok := a.records[id]; ok && ai.refCount == 0 {
			a.delete(id)
			lostNew++
		}
	}
	if lostNew+lostTried > 0 {
		log.Warnf("Lost %d new and %d tried addresses due to collisions or "+
			"invalid addresses", lostNew, lostTried)
	}

	if err := a.forceCheck(); err != nil {
		return corruptf("corrupt address manager state: %v", err)
	}
	log.Debugf("Loaded %d addresses: %d new, %d tried (format %v)",
		len(a.randomOrder), a.nNew, a.nTried, format)
	return nil
}

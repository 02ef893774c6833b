// Copyright (c) 2025 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrmgr

import (
	"encoding/binary"

	"lukechampine.com/blake3"
)

const (
	// TriedBucketCount is the number of buckets in the tried table.
	TriedBucketCount = 256

	// NewBucketCount is the number of buckets in the new table.
	NewBucketCount = 1024

	// BucketSize is the number of slots in every bucket of both tables.
	BucketSize = 64

	// TriedBucketsPerGroup is the number of tried buckets over which a single
	// network group is spread.
	TriedBucketsPerGroup = 8

	// NewBucketsPerSourceGroup is the number of new buckets over which the
	// addresses announced by a single source group are spread.
	NewBucketsPerSourceGroup = 64

	// NewBucketsPerAddress is the maximum number of new buckets a single
	// address may be referenced from.
	NewBucketsPerAddress = 8
)

// Domain separation tags for the keyed bucket hashes.
const (
	tagTriedAddr  = 't'
	tagTriedGroup = 'T'
	tagNewGroups  = 'g'
	tagNewSource  = 'G'
	tagNewPos     = 'N'
	tagTriedPos   = 'K'
)

// keyedHasher computes the keyed hashes that decide bucket placement.  The
// key is secret so the placement of an address cannot be predicted by an
// attacker.
type keyedHasher struct {
	key [32]byte
	buf []byte
}

// reset starts a new hash input with the given domain tag.
func (h *keyedHasher) reset(tag byte) {
	h.buf = append(h.buf[:0], tag)
}

// writeBytes appends a length prefixed byte slice to the hash input.
func (h *keyedHasher) writeBytes(b []byte) {
	h.buf = append(h.buf, byte(len(b)))
	h.buf = append(h.buf, b...)
}

// writeUint64 appends a little endian integer to the hash input.
func (h *keyedHasher) writeUint64(v uint64) {
	h.buf = binary.LittleEndian.AppendUint64(h.buf, v)
}

// sum returns the first 8 bytes of the keyed BLAKE3 digest of the hash input
// interpreted as a little endian integer.
func (h *keyedHasher) sum() uint64 {
	hasher := blake3.New(8, h.key[:])
	hasher.Write(h.buf)
	var digest [8]byte
	hasher.Sum(digest[:0])
	return binary.LittleEndian.Uint64(digest[:])
}

// addrKey returns the bytes identifying an address including its port for
// the purpose of bucket placement.
func addrKey(na *NetAddress) []byte {
	key := make([]byte, 0, 1+len(na.IP)+2)
	key = append(key, byte(na.Type))
	key = append(key, na.IP...)
	return binary.BigEndian.AppendUint16(key, na.Port)
}

// triedBucket returns the tried bucket for the given address.  Every group
// maps to at most TriedBucketsPerGroup buckets.
func (a *AddrManager) triedBucket(na *NetAddress) int {
	h := &a.hasher
	h.reset(tagTriedAddr)
	h.writeBytes(addrKey(na))
	hash1 := h.sum()

	h.reset(tagTriedGroup)
	h.writeBytes(na.group(a.asmap))
	h.writeUint64(hash1 % TriedBucketsPerGroup)
	return int(h.sum() % TriedBucketCount)
}

// newBucket returns the new bucket for the given address when announced by
// src.  Every source group maps to at most NewBucketsPerSourceGroup buckets.
func (a *AddrManager) newBucket(na, src *NetAddress) int {
	srcGroup := src.group(a.asmap)

	h := &a.hasher
	h.reset(tagNewGroups)
	h.writeBytes(na.group(a.asmap))
	h.writeBytes(srcGroup)
	hash1 := h.sum()

	h.reset(tagNewSource)
	h.writeBytes(srcGroup)
	h.writeUint64(hash1 % NewBucketsPerSourceGroup)
	return int(h.sum() % NewBucketCount)
}

// bucketPosition returns the slot of the given address within a bucket of
// either table.
func (a *AddrManager) bucketPosition(na *NetAddress, isNew bool, bucket int) int {
	tag := byte(tagTriedPos)
	if isNew {
		tag = tagNewPos
	}

	h := &a.hasher
	h.reset(tag)
	h.writeUint64(uint64(bucket))
	h.writeBytes(addrKey(na))
	return int(h.sum() % BucketSize)
}

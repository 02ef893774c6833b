// Copyright (c) 2025 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package asmap

import (
	"bytes"
	"fmt"
	"os"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/wire"
	"github.com/jrick/bitset"
)

// IPBits is the number of input bits every asmap is checked against.  IPv4
// addresses are looked up as IPv4-mapped IPv6 addresses.
const IPBits = 128

// Decode expands the bytes of an asmap file into its program bits, least
// significant bit of every byte first, and verifies the program with
// SanityCheck.
func Decode(b []byte) ([]bool, error) {
	set := bitset.Bytes(b)
	bits := make([]bool, len(b)*8)
	for i := range bits {
		bits[i] = set.Get(i)
	}
	if !SanityCheck(bits, IPBits) {
		str := fmt.Sprintf("asmap of %d bytes failed the sanity check", len(b))
		return nil, makeError(ErrInvalidAsmap, str)
	}
	return bits, nil
}

// Encode packs program bits into bytes as they are stored in asmap files.  The
// last byte is padded with zero bits.
func Encode(bits []bool) []byte {
	set := bitset.NewBytes(len(bits))
	for i, bit := range bits {
		if bit {
			set.Set(i)
		}
	}
	return []byte(set)
}

// Load reads and decodes the asmap file at path.
func Load(path string) ([]bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	log.Infof("Opened asmap file %s (%d bytes) from disk", path, len(b))

	bits, err := Decode(b)
	if err != nil {
		log.Errorf("Sanity check of asmap file %s failed", path)
		return nil, err
	}
	log.Debugf("Using asmap with checksum %v", Checksum(bits))
	return bits, nil
}

// Checksum returns a hash identifying the asmap program.  It is persisted with
// the address manager state to detect when bucketing has to be redone.
func Checksum(bits []bool) chainhash.Hash {
	var buf bytes.Buffer
	buf.Grow(wire.VarIntSerializeSize(uint64(len(bits))) + len(bits))
	_ = wire.WriteVarInt(&buf, 0, uint64(len(bits)))
	for _, bit := range bits {
		if bit {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}
	return chainhash.HashH(buf.Bytes())
}

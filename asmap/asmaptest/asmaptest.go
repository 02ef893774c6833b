// Copyright (c) 2025 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package asmaptest provides builders for hand assembled asmap programs used
// by tests.
package asmaptest

import "net"

// Argument classes mirrored from the asmap decoder.
var (
	typeBitSizes  = []uint8{0, 0, 1}
	asnBitSizes   = []uint8{15, 16, 17, 18, 19, 20, 21, 22, 23, 24}
	matchBitSizes = []uint8{1, 2, 3, 4, 5, 6, 7, 8}
	jumpBitSizes  = []uint8{5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18,
		19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30}
)

const (
	opReturn  = 0
	opJump    = 1
	opMatch   = 2
	opDefault = 3
)

// encodeBits is the inverse of the asmap variable length integer decoder.
func encodeBits(val, minVal uint32, sizes []uint8) []bool {
	if val < minVal {
		panic("value below minimum")
	}
	val -= minVal
	var out []bool
	for i, size := range sizes {
		last := i+1 == len(sizes)
		if !last && val >= 1<<size {
			out = append(out, true)
			val -= 1 << size
			continue
		}
		if !last {
			out = append(out, false)
		}
		for b := int(size) - 1; b >= 0; b-- {
			out = append(out, (val>>b)&1 == 1)
		}
		return out
	}
	panic("value out of range")
}

func opBits(op uint32) []bool {
	return encodeBits(op, 0, typeBitSizes)
}

// Return encodes an instruction that ends the program with asn.
func Return(asn uint32) []bool {
	return append(opBits(opReturn), encodeBits(asn, 1, asnBitSizes)...)
}

// Default encodes an instruction that sets the AS number returned when a
// later match fails.
func Default(asn uint32) []bool {
	return append(opBits(opDefault), encodeBits(asn, 1, asnBitSizes)...)
}

// Match encodes an instruction that compares the next input bits against
// want.  It accepts between one and eight bits.
func Match(want []bool) []bool {
	if len(want) == 0 || len(want) > 8 {
		panic("match must compare between 1 and 8 bits")
	}
	val := uint32(1)
	for _, bit := range want {
		val <<= 1
		if bit {
			val |= 1
		}
	}
	return append(opBits(opMatch), encodeBits(val, 2, matchBitSizes)...)
}

// MatchPrefix encodes a sequence of matches comparing all of want.  Every
// match but the last compares a full byte.
func MatchPrefix(want []bool) []bool {
	var out []bool
	for len(want) > 0 {
		n := min(len(want), 8)
		out = append(out, Match(want[:n])...)
		want = want[n:]
	}
	return out
}

// Jump encodes an instruction that consumes one input bit and continues
// with zero when it is unset or with one when it is set.  The zero branch
// must be at least 17 bits long, which any branch ending in Return is.
func Jump(zero, one []bool) []bool {
	out := append(opBits(opJump), encodeBits(uint32(len(zero)), 17, jumpBitSizes)...)
	out = append(out, zero...)
	return append(out, one...)
}

// Program concatenates instructions.
func Program(parts ...[]bool) []bool {
	var out []bool
	for _, part := range parts {
		out = append(out, part...)
	}
	return out
}

// Pad appends zero bits up to the next byte boundary the way asmap files
// store a program.
func Pad(program []bool) []bool {
	for len(program)%8 != 0 {
		program = append(program, false)
	}
	return program
}

// IPBits returns the 128 input bits of ip.  IPv4 addresses are expanded to
// their IPv4-mapped IPv6 form.
func IPBits(ip net.IP) []bool {
	ip16 := ip.To16()
	bits := make([]bool, 128)
	for i := range bits {
		bits[i] = (ip16[i/8]>>(7-i%8))&1 == 1
	}
	return bits
}

// PrefixProgram returns a program mapping every address inside the network to
// asn and everything else to defaultASN.
func PrefixProgram(network *net.IPNet, asn, defaultASN uint32) []bool {
	ones, _ := network.Mask.Size()
	if network.IP.To4() != nil {
		ones += 96
	}
	prefix := IPBits(network.IP)[:ones]
	return Program(Default(defaultASN), MatchPrefix(prefix), Return(asn))
}

// Copyright (c) 2025 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package asmap

import (
	"math/bits"
)

// invalid is returned by the decoders when the program ends in the middle of
// a value.
const invalid = 0xffffffff

// opcode is an instruction of the asmap program.
type opcode uint32

const (
	// opReturn ends the program with an AS number.
	opReturn opcode = iota

	// opJump skips ahead by an offset when the next input bit is set.
	opJump

	// opMatch compares the next input bits against a value and ends the
	// program with the default AS number on a mismatch.
	opMatch

	// opDefault sets the AS number returned on a failed match.
	opDefault
)

// Variable length integer classes of the instruction arguments.  A value is
// encoded as a unary class prefix followed by a mantissa of the class size.
var (
	typeBitSizes  = []uint8{0, 0, 1}
	asnBitSizes   = []uint8{15, 16, 17, 18, 19, 20, 21, 22, 23, 24}
	matchBitSizes = []uint8{1, 2, 3, 4, 5, 6, 7, 8}
	jumpBitSizes  = []uint8{5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18,
		19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30}
)

// Minimum values of the instruction arguments.
const (
	minASN   = 1
	minMatch = 2
	minJump  = 17
)

// bitReader walks over the bits of an asmap program.
type bitReader struct {
	bits []bool
	pos  int
}

// done returns whether the whole program was consumed.
func (r *bitReader) done() bool {
	return r.pos >= len(r.bits)
}

// remaining returns the number of unread bits.
func (r *bitReader) remaining() int {
	return len(r.bits) - r.pos
}

// decodeBits decodes a variable length integer of the given classes.  It
// returns invalid when the program ends before the value does.
func (r *bitReader) decodeBits(minVal uint32, sizes []uint8) uint32 {
	val := minVal
	for i, size := range sizes {
		// The class prefix of the last class is implicit.
		var bit bool
		if i+1 != len(sizes) {
			if r.done() {
				break
			}
			bit = r.bits[r.pos]
			r.pos++
		}
		if bit {
			val += 1 << size
			continue
		}
		for b := uint8(0); b < size; b++ {
			if r.done() {
				return invalid
			}
			if r.bits[r.pos] {
				val += 1 << (size - 1 - b)
			}
			r.pos++
		}
		return val
	}
	return invalid
}

func (r *bitReader) decodeType() opcode {
	return opcode(r.decodeBits(0, typeBitSizes))
}

func (r *bitReader) decodeASN() uint32 {
	return r.decodeBits(minASN, asnBitSizes)
}

func (r *bitReader) decodeMatch() uint32 {
	return r.decodeBits(minMatch, matchBitSizes)
}

func (r *bitReader) decodeJump() uint32 {
	return r.decodeBits(minJump, jumpBitSizes)
}

// matchLen returns the number of input bits compared by a match argument.
// The most significant set bit only marks the length.
func matchLen(match uint32) int {
	return bits.Len32(match) - 1
}

// Interpret runs the asmap program against the bits of an IP address, most
// significant bit first, and returns the AS number the address belongs to.
// Zero is returned for unmapped addresses and for programs that fail the
// sanity check.
func Interpret(asmap, ip []bool) uint32 {
	r := &bitReader{bits: asmap}
	remaining := len(ip)
	var defaultASN uint32
	for !r.done() {
		switch r.decodeType() {
		case opReturn:
			asn := r.decodeASN()
			if asn == invalid {
				return 0
			}
			return asn

		case opJump:
			jump := r.decodeJump()
			if jump == invalid || remaining == 0 ||
				int64(jump) >= int64(r.remaining()) {
				return 0
			}
			if ip[len(ip)-remaining] {
				r.pos += int(jump)
			}
			remaining--

		case opMatch:
			match := r.decodeMatch()
			if match == invalid {
				return 0
			}
			n := matchLen(match)
			if remaining < n {
				return 0
			}
			for bit := 0; bit < n; bit++ {
				want := (match>>(n-1-bit))&1 == 1
				if ip[len(ip)-remaining] != want {
					return defaultASN
				}
				remaining--
			}

		case opDefault:
			defaultASN = r.decodeASN()
			if defaultASN == invalid {
				return 0
			}

		default:
			return 0
		}
	}
	return 0
}

// jumpTarget is a pending jump destination recorded by SanityCheck along
// with the number of input bits left when it is taken.
type jumpTarget struct {
	offset int
	bits   int
}

// SanityCheck returns whether the asmap program is well formed for inputs of
// the given number of bits.  A well formed program never reads past its end
// or the end of the input, has no unreachable or overlapping code, and ends
// with at most seven zero padding bits.
func SanityCheck(asmap []bool, inputBits int) bool {
	r := &bitReader{bits: asmap}
	var jumps []jumpTarget
	prevOp := opJump
	hadIncompleteMatch := false
	for !r.done() {
		if len(jumps) > 0 && r.pos >= jumps[len(jumps)-1].offset {
			// Jump into the middle of the previous instruction.
			return false
		}

		switch op := r.decodeType(); op {
		case opReturn:
			// A return directly after a default could have been a
			// single return.
			if prevOp == opDefault {
				return false
			}
			if r.decodeASN() == invalid {
				return false
			}
			if len(jumps) == 0 {
				// Nothing left to execute, only padding may follow.
				if r.remaining() > 7 {
					return false
				}
				for ; !r.done(); r.pos++ {
					if r.bits[r.pos] {
						return false
					}
				}
				return true
			}

			// Continue as if the most recent jump was taken.
			last := jumps[len(jumps)-1]
			if r.pos != last.offset {
				// Unreachable code.
				return false
			}
			inputBits = last.bits
			jumps = jumps[:len(jumps)-1]
			prevOp = opJump

		case opJump:
			jump := r.decodeJump()
			if jump == invalid || int64(jump) > int64(r.remaining()) ||
				inputBits == 0 {
				return false
			}
			inputBits--
			target := r.pos + int(jump)
			if len(jumps) > 0 && target >= jumps[len(jumps)-1].offset {
				// Intersecting jumps.
				return false
			}
			jumps = append(jumps, jumpTarget{offset: target, bits: inputBits})
			prevOp = opJump

		case opMatch:
			match := r.decodeMatch()
			if match == invalid {
				return false
			}
			n := matchLen(match)
			if prevOp != opMatch {
				hadIncompleteMatch = false
			}
			// Within a sequence of matches only one may be shorter
			// than a full byte.
			if n < 8 && hadIncompleteMatch {
				return false
			}
			hadIncompleteMatch = n < 8
			if inputBits < n {
				return false
			}
			inputBits -= n
			prevOp = opMatch

		case opDefault:
			if prevOp == opDefault {
				return false
			}
			if r.decodeASN() == invalid {
				return false
			}
			prevOp = opDefault

		default:
			// Instruction straddles the end of the program.
			return false
		}
	}

	// Reached the end without a final return.
	return false
}

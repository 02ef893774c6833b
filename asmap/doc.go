// Copyright (c) 2025 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package asmap decodes and interprets IP to autonomous system mappings.

An asmap is a compact bit level program that maps the bits of an IP address,
most significant first, to the number of the autonomous system (AS) that
announces it.  The program consists of four instructions:

  - RETURN ends the program with an AS number
  - JUMP consumes one input bit and skips ahead by an offset when it is set
  - MATCH compares a run of input bits and returns the DEFAULT AS number on a
    mismatch
  - DEFAULT sets the AS number returned by a failed MATCH

Asmap files store the program packed into bytes, least significant bit
first.  Decode and Load reject programs that do not pass SanityCheck, which
guarantees that Interpret always terminates with a result.
*/
package asmap

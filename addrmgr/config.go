// Copyright (c) 2025 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrmgr

import (
	"math/rand/v2"
	"time"

	cryptorand "github.com/decred/dcrd/crypto/rand"
	"github.com/lightningnetwork/lnd/clock"
)

const (
	// DefaultReplacementWindow is how recently a tried address must have
	// succeeded or been attempted to be protected from eviction.
	DefaultReplacementWindow = 4 * time.Hour

	// DefaultTestWindow is how long a pending tried collision may wait for
	// the occupant to be tested before it is promoted anyway.
	DefaultTestWindow = 40 * time.Minute

	// DefaultConnectGrace is the time a connection attempt to a tried
	// occupant is given to succeed before its collision is resolved.
	DefaultConnectGrace = 60 * time.Second

	// DefaultMaxTriedCollisions is the maximum number of pending tried
	// collisions.
	DefaultMaxTriedCollisions = 10

	// DefaultMaxGetAddr is the absolute maximum number of addresses returned
	// by GetAddr.
	DefaultMaxGetAddr = 2500

	// DefaultConsistencyCheckRatio disables the periodic consistency check.
	DefaultConsistencyCheckRatio = 0
)

// Rand is the source of randomness used by the address manager.  Both
// methods must return a uniformly distributed value in [0, n) and may panic
// when n is zero.
type Rand interface {
	IntN(n int) int
	Uint32N(n uint32) uint32
}

// cryptoRand is the default randomness source backed by the operating system
// entropy.
type cryptoRand struct{}

func (cryptoRand) IntN(n int) int          { return cryptorand.IntN(n) }
func (cryptoRand) Uint32N(n uint32) uint32 { return cryptorand.Uint32N(n) }

// deterministicRand returns a reproducible randomness source for tests.
func deterministicRand() Rand {
	return rand.New(rand.NewChaCha8([32]byte{}))
}

// Config houses the parameters of an address manager.  The zero value of
// every field selects its default.
type Config struct {
	// Asmap is the decoded IP to autonomous system mapping used to group
	// addresses.  Nil groups by address prefix.
	Asmap []bool

	// ConsistencyCheckRatio runs the full consistency check after roughly
	// one in this many mutating operations.  Zero disables the check.
	ConsistencyCheckRatio int

	// Clock provides the current time.  Defaults to the wall clock.
	Clock clock.Clock

	// Rand provides randomness for selection and the bucket key.  Defaults
	// to a cryptographically secure source.
	Rand Rand

	// ReplacementWindow defaults to DefaultReplacementWindow.
	ReplacementWindow time.Duration

	// TestWindow defaults to DefaultTestWindow.
	TestWindow time.Duration

	// ConnectGrace defaults to DefaultConnectGrace.
	ConnectGrace time.Duration

	// MaxTriedCollisions defaults to DefaultMaxTriedCollisions.
	MaxTriedCollisions int

	// MaxGetAddr defaults to DefaultMaxGetAddr.
	MaxGetAddr int
}

// withDefaults returns a copy of the config with defaults applied.
func (cfg *Config) withDefaults() Config {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.Clock == nil {
		c.Clock = clock.NewDefaultClock()
	}
	if c.Rand == nil {
		c.Rand = cryptoRand{}
	}
	if c.ReplacementWindow <= 0 {
		c.ReplacementWindow = DefaultReplacementWindow
	}
	if c.TestWindow <= 0 {
		c.TestWindow = DefaultTestWindow
	}
	if c.ConnectGrace <= 0 {
		c.ConnectGrace = DefaultConnectGrace
	}
	if c.MaxTriedCollisions <= 0 {
		c.MaxTriedCollisions = DefaultMaxTriedCollisions
	}
	if c.MaxGetAddr <= 0 {
		c.MaxGetAddr = DefaultMaxGetAddr
	}
	if c.ConsistencyCheckRatio < 0 {
		c.ConsistencyCheckRatio = DefaultConsistencyCheckRatio
	}
	return c
}

// Copyright (c) 2013-2014 The btcsuite developers
// Copyright (c) 2015-2025 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrmgr

import (
	"math"
	"time"
)

const (
	// horizon is how old an address can be before it is considered bad.
	horizon = 30 * 24 * time.Hour

	// numRetries is the number of tries without a single success before we
	// assume an address is bad.
	numRetries = 3

	// maxFailures is the maximum number of failures we will accept without
	// a success before considering an address bad.
	maxFailures = 10

	// minBadDays is the number of days since the last success before we
	// will consider evicting an address.
	minBadDays = 7

	// futureSlack is how far in the future an announced timestamp may be
	// before the address is considered bad.
	futureSlack = 10 * time.Minute

	// recentTry is the period after an attempt during which an address is
	// never considered terrible.
	recentTry = time.Minute

	// recentTryPenalty is the period after an attempt during which the
	// selection chance of an address is heavily reduced.
	recentTryPenalty = 10 * time.Minute
)

// AddrInfo tracks a network address along with the statistics the address
// manager keeps about it.
type AddrInfo struct {
	// NetAddress is the tracked address including its announced timestamp
	// and services.
	NetAddress *NetAddress

	// Source is the address of the peer that told us about this address.
	Source *NetAddress

	// LastSuccess is the last time a connection to the address succeeded.
	LastSuccess time.Time

	// LastTry is the last time a connection to the address was attempted.
	// It is not persisted.
	LastTry time.Time

	// LastCountAttempt is the last time a failed attempt was counted.
	LastCountAttempt time.Time

	// Attempts is the number of failed connection attempts since the last
	// success.
	Attempts int

	// refCount is the number of new buckets referencing the record.  It is
	// always zero for tried records.
	refCount int

	// inTried marks records that live in the tried table.
	inTried bool

	// randomPos is the index of the record in the random order slice.
	randomPos int
}

// newAddrInfo returns a record for the given address and source.
func newAddrInfo(na, src *NetAddress) *AddrInfo {
	return &AddrInfo{
		NetAddress: na.Clone(),
		Source:     src.Clone(),
		randomPos:  -1,
	}
}

// RefCount returns the number of new buckets that reference the record.
func (ai *AddrInfo) RefCount() int {
	return ai.refCount
}

// InTried returns whether the record lives in the tried table.
func (ai *AddrInfo) InTried() bool {
	return ai.inTried
}

// clone returns a copy of the record that is safe to hand out to callers.
func (ai *AddrInfo) clone() *AddrInfo {
	c := *ai
	c.NetAddress = ai.NetAddress.Clone()
	c.Source = ai.Source.Clone()
	return &c
}

// IsTerrible returns true if the address is considered bad enough to be
// removed from the table and not handed out to peers:
//  1. It claims to be from the future
//  2. It hasn't been seen in over a month
//  3. It has failed at least three times and never succeeded
//  4. It has failed ten times in the last week
//
// An address that was tried within the last minute is never terrible.
func (ai *AddrInfo) IsTerrible(now time.Time) bool {
	lastTry := ai.LastTry
	if !lastTry.IsZero() && !lastTry.Before(now.Add(-recentTry)) {
		return false
	}

	// From the future?
	if ai.NetAddress.Timestamp.After(now.Add(futureSlack)) {
		return true
	}

	// Over a month old?
	timestamp := ai.NetAddress.Timestamp
	if timestamp.IsZero() || timestamp.Unix() == 0 ||
		timestamp.Before(now.Add(-horizon)) {
		return true
	}

	// Never succeeded?
	if ai.LastSuccess.IsZero() && ai.Attempts >= numRetries {
		return true
	}

	// Hasn't succeeded in too long?
	if ai.LastSuccess.Before(now.Add(-minBadDays*24*time.Hour)) &&
		ai.Attempts >= maxFailures {
		return true
	}

	return false
}

// chance returns the selection probability for a known address.  The
// priority depends upon how recently the address has been seen, how recently
// it was last attempted and how often attempts to connect to it have failed.
func (ai *AddrInfo) chance(now time.Time) float64 {
	c := 1.0

	// Deprioritize very recent attempts.
	if !ai.LastTry.IsZero() && now.Sub(ai.LastTry) < recentTryPenalty {
		c *= 0.01
	}

	// Deprioritize 66% after each failed attempt, but at most 1/28th to
	// avoid the search taking forever or overly penalizing outages.
	return c * math.Pow(0.66, float64(min(ai.Attempts, 8)))
}

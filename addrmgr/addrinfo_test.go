// Copyright (c) 2013-2015 The btcsuite developers
// Copyright (c) 2015-2025 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrmgr

import (
	"math"
	"testing"
	"time"
)

func newTestAddrInfo(ts time.Time, attempts int, lastTry, lastSuccess time.Time) *AddrInfo {
	na := &NetAddress{Type: IPv4Address, IP: []byte{1, 2, 3, 4}, Timestamp: ts}
	return &AddrInfo{
		NetAddress:  na,
		Source:      na,
		Attempts:    attempts,
		LastTry:     lastTry,
		LastSuccess: lastSuccess,
	}
}

func TestChance(t *testing.T) {
	now := time.Unix(time.Now().Unix(), 0)
	var tests = []struct {
		addr     *AddrInfo
		expected float64
	}{{
		// Test normal case
		newTestAddrInfo(now.Add(-35*time.Second),
			0, now.Add(-30*time.Minute), now),
		1.0,
	}, {
		// Test case in which the timestamp is in the future
		newTestAddrInfo(now.Add(20*time.Second),
			0, now.Add(-30*time.Minute), now),
		1.0,
	}, {
		// Test case in which the last try is in the future
		newTestAddrInfo(now.Add(-35*time.Second),
			0, now.Add(30*time.Minute), now),
		1.0 * .01,
	}, {
		// Test case in which the last try is under ten minutes ago
		newTestAddrInfo(now.Add(-35*time.Second),
			0, now.Add(-5*time.Minute), now),
		1.0 * .01,
	}, {
		// Test case that was never tried
		newTestAddrInfo(now.Add(-35*time.Second),
			0, time.Time{}, time.Time{}),
		1.0,
	}, {
		// Test case with several failed attempts.
		newTestAddrInfo(now.Add(-35*time.Second),
			2, now.Add(-30*time.Minute), now),
		0.66 * 0.66,
	}, {
		// Failed attempts stop counting after eight.
		newTestAddrInfo(now.Add(-35*time.Second),
			20, now.Add(-30*time.Minute), now),
		math.Pow(0.66, 8),
	}, {
		// Recent try and failed attempts combine.
		newTestAddrInfo(now.Add(-35*time.Second),
			1, now.Add(-time.Minute), now),
		0.01 * 0.66,
	}}

	err := .0001
	for i, test := range tests {
		chance := test.addr.chance(now)
		if math.Abs(test.expected-chance) >= err {
			t.Errorf("case %d: got %f, want %f", i, chance, test.expected)
		}
	}
}

func TestIsTerrible(t *testing.T) {
	now := time.Unix(time.Now().Unix(), 0)
	future := now.Add(35 * time.Minute)
	monthOld := now.Add(-43 * time.Hour * 24)
	secondsOld := now.Add(-2 * time.Second)
	minutesOld := now.Add(-27 * time.Minute)
	hoursOld := now.Add(-5 * time.Hour)
	zeroTime := time.Time{}

	tests := []struct {
		name     string
		addr     *AddrInfo
		terrible bool
	}{{
		name:     "tried in the last minute from the future",
		addr:     newTestAddrInfo(future, 3, secondsOld, zeroTime),
		terrible: false,
	}, {
		name:     "tried in the last minute and a month old",
		addr:     newTestAddrInfo(monthOld, 3, secondsOld, zeroTime),
		terrible: false,
	}, {
		name:     "tried exactly a minute ago",
		addr:     newTestAddrInfo(monthOld, 3, now.Add(-time.Minute), zeroTime),
		terrible: false,
	}, {
		name:     "tried in the last minute without success",
		addr:     newTestAddrInfo(secondsOld, 3, secondsOld, zeroTime),
		terrible: false,
	}, {
		name:     "tried in the last minute with old success",
		addr:     newTestAddrInfo(secondsOld, 10, secondsOld, monthOld),
		terrible: false,
	}, {
		name:     "from the future",
		addr:     newTestAddrInfo(future, 0, minutesOld, hoursOld),
		terrible: true,
	}, {
		name:     "slightly in the future",
		addr:     newTestAddrInfo(now.Add(5*time.Minute), 0, minutesOld, hoursOld),
		terrible: false,
	}, {
		name:     "not seen in over a month",
		addr:     newTestAddrInfo(monthOld, 0, minutesOld, hoursOld),
		terrible: true,
	}, {
		name:     "never seen",
		addr:     newTestAddrInfo(zeroTime, 0, zeroTime, zeroTime),
		terrible: true,
	}, {
		name:     "seen at the epoch",
		addr:     newTestAddrInfo(time.Unix(0, 0), 0, zeroTime, zeroTime),
		terrible: true,
	}, {
		name:     "failed three times and never succeeded",
		addr:     newTestAddrInfo(minutesOld, 3, minutesOld, zeroTime),
		terrible: true,
	}, {
		name:     "failed twice and never succeeded",
		addr:     newTestAddrInfo(minutesOld, 2, minutesOld, zeroTime),
		terrible: false,
	}, {
		name:     "failed ten times since success a month ago",
		addr:     newTestAddrInfo(minutesOld, 10, minutesOld, monthOld),
		terrible: true,
	}, {
		name:     "failed ten times since recent success",
		addr:     newTestAddrInfo(minutesOld, 10, minutesOld, hoursOld),
		terrible: false,
	}, {
		name:     "good address",
		addr:     newTestAddrInfo(minutesOld, 2, minutesOld, hoursOld),
		terrible: false,
	}}

	for _, test := range tests {
		if got := test.addr.IsTerrible(now); got != test.terrible {
			t.Errorf("%q: got %v, want %v", test.name, got, test.terrible)
		}
	}
}

// TestAddrInfoClone ensures cloned records do not share network addresses
// with the original.
func TestAddrInfoClone(t *testing.T) {
	now := time.Unix(time.Now().Unix(), 0)
	ai := newTestAddrInfo(now, 1, now, now)
	ai.refCount = 2
	c := ai.clone()
	if c.NetAddress == ai.NetAddress || c.Source == ai.Source {
		t.Fatal("clone shares network addresses")
	}
	if c.RefCount() != 2 || c.InTried() {
		t.Fatalf("unexpected clone state: refs %d, tried %v", c.RefCount(),
			c.InTried())
	}
	c.NetAddress.Port = 1
	if ai.NetAddress.Port != 0 {
		t.Fatal("modifying the clone changed the original")
	}
}

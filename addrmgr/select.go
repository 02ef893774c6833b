// Copyright (c) 2013-2014 The btcsuite developers
// Copyright (c) 2015-2025 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrmgr

// Select randomly picks an address to connect to, preferring addresses that
// were not attempted recently and did not fail often.  The tried and new
// tables are picked from with equal probability unless newOnly restricts the
// choice to the new table.  It returns a copy of the chosen record, or nil
// when there is no candidate.
//
// Select mutates no record but consumes randomness, so it requires exclusive
// access like every other operation.
//
// This function is safe for concurrent access.
func (a *AddrManager) Select(newOnly bool) *AddrInfo {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	if len(a.randomOrder) == 0 {
		return nil
	}
	if newOnly && a.nNew == 0 {
		return nil
	}

	useTried := !newOnly && a.nTried > 0 && (a.nNew == 0 || a.rand.IntN(2) == 0)
	if useTried {
		return a.selectFrom(a.triedTable[:])
	}
	return a.selectFrom(a.newTable[:])
}

// selectFrom repeatedly picks a random occupied slot of the given table until
// its record passes a random draw weighted by its chance.  Empty slots are
// skipped by moving a random number of buckets and positions forward.  Every
// rejection raises the acceptance odds so the loop ends even when all
// candidates have a low chance.
//
// This function MUST be called with the address manager lock held (for
// writes) and with at least one occupied slot in the table.
func (a *AddrManager) selectFrom(table [][BucketSize]int) *AddrInfo {
	now := a.now()
	factor := 1.0
	for {
		bucket := a.rand.IntN(len(table))
		pos := a.rand.IntN(BucketSize)
		for table[bucket][pos] == emptySlot {
			bucket = (bucket + a.rand.IntN(len(table))) % len(table)
			pos = (pos + a.rand.IntN(BucketSize)) % BucketSize
		}
		id := table[bucket][pos]

		ai := a.records[id]
		if float64(a.rand.Uint32N(1<<30)) < factor*ai.chance(now)*(1<<30) {
			log.Tracef("Selected %s from %s table", ai.NetAddress,
				tableName(ai.inTried))
			return ai.clone()
		}
		factor *= 1.2
	}
}

// tableName returns the name of the table a record lives in.
func tableName(inTried bool) string {
	if inTried {
		return "tried"
	}
	return "new"
}

// GetAddr returns a random sample of known addresses suitable for sharing
// with peers.  The number of addresses is capped at maxPct percent of the
// known addresses (when maxPct is non-zero), maxAddresses (when non-zero) and
// the configured absolute limit.  Only addresses of the given network class
// are returned unless network is AnyNetwork, and terrible addresses are
// skipped.
//
// The sample is taken by partially shuffling the internal random order.
//
// This function is safe for concurrent access.
func (a *AddrManager) GetAddr(maxAddresses, maxPct int, network Network) []*NetAddress {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	total := len(a.randomOrder)
	limit := total
	if maxPct != 0 {
		limit = maxPct * total / 100
	}
	if maxAddresses != 0 {
		limit = min(limit, maxAddresses)
	}
	limit = min(limit, a.cfg.MaxGetAddr)

	now := a.now()
	addrs := make([]*NetAddress, 0, limit)
	for n := 0; n < total && len(addrs) < limit; n++ {
		a.swapRandom(n, n+a.rand.IntN(total-n))

		ai := a.records[a.randomOrder[n]]
		if network != AnyNetwork && ai.NetAddress.NetClass() != network {
			continue
		}
		if ai.IsTerrible(now) {
			continue
		}
		addrs = append(addrs, ai.NetAddress.Clone())
	}
	log.Debugf("GetAddr returned %d random addresses", len(addrs))
	return addrs
}

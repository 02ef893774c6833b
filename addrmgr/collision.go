// Copyright (c) 2025 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrmgr

import (
	"slices"
)

// collisionIDs returns the pending tried collisions in ascending order.
func (a *AddrManager) collisionIDs() []int {
	ids := make([]int, 0, len(a.triedCollisions))
	for id := range a.triedCollisions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ResolveCollisions processes the addresses waiting to be moved to the tried
// table.  A candidate replaces the tried address it collides with when that
// address has become terrible, or when it has not succeeded within the
// replacement window and either failed a connection attempt made more than the
// connect grace ago or could not be tested within the test window.  Candidates that are unknown, invalid or
// terrible are dropped as are those colliding with a recently successful
// address.  Everything else stays pending.
//
// This function is safe for concurrent access.
func (a *AddrManager) ResolveCollisions() {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	a.resolveCollisions()
	a.check()
}

// resolveCollisions is the lock-free implementation of ResolveCollisions.
//
// This function MUST be called with the address manager lock held (for
// writes).
func (a *AddrManager) resolveCollisions() {
	now := a.now()
	for _, id := range a.collisionIDs() {
		ai, ok := a.records[id]
		if !ok || !ai.NetAddress.IsValid() || ai.IsTerrible(now) {
			delete(a.triedCollisions, id)
			continue
		}

		bucket := a.triedBucket(ai.NetAddress)
		pos := a.bucketPosition(ai.NetAddress, false, bucket)
		occupantID := a.triedTable[bucket][pos]
		if occupantID == emptySlot {
			// No longer a collision.
			a.good(ai.NetAddress, false, now)
			delete(a.triedCollisions, id)
			continue
		}

		occupant := a.records[occupantID]
		switch {
		case occupant.IsTerrible(now):
			log.Debugf("Replacing terrible %s with %s in tried table",
				occupant.NetAddress, ai.NetAddress)
			a.good(ai.NetAddress, false, now)
			delete(a.triedCollisions, id)

		case now.Sub(occupant.LastSuccess) < a.cfg.ReplacementWindow:
			// The occupant is known to be reachable.
			delete(a.triedCollisions, id)

		case now.Sub(occupant.LastTry) < a.cfg.ReplacementWindow:
			// Give the occupant the grace period to finish connecting.
			if now.Sub(occupant.LastTry) > a.cfg.ConnectGrace {
				log.Debugf("Replacing %s with %s in tried table",
					occupant.NetAddress, ai.NetAddress)
				a.good(ai.NetAddress, false, now)
				delete(a.triedCollisions, id)
			}

		case now.Sub(ai.LastSuccess) > a.cfg.TestWindow:
			// The occupant could not be tested in time for some
			// reason, so evict it anyway.
			log.Debugf("Unable to test; replacing %s with %s in tried "+
				"table anyway", occupant.NetAddress, ai.NetAddress)
			a.good(ai.NetAddress, false, now)
			delete(a.triedCollisions, id)
		}
	}
}

// SelectTriedCollision returns a copy of the tried address that a randomly
// chosen pending candidate collides with, so the caller can test whether it
// is still reachable.  It returns nil when nothing awaits testing.  The set
// of pending collisions is left unchanged.
//
// This function is safe for concurrent access.
func (a *AddrManager) SelectTriedCollision() *AddrInfo {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	if len(a.triedCollisions) == 0 {
		return nil
	}

	ids := a.collisionIDs()
	ai, ok := a.records[ids[a.rand.IntN(len(ids))]]
	if !ok {
		return nil
	}

	bucket := a.triedBucket(ai.NetAddress)
	pos := a.bucketPosition(ai.NetAddress, false, bucket)
	occupantID := a.triedTable[bucket][pos]
	if occupantID == emptySlot {
		return nil
	}
	return a.records[occupantID].clone()
}

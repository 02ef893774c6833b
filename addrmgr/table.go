// Copyright (c) 2025 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrmgr

import (
	"slices"
)

// find returns the id and record of the given address, ignoring its port.
// The record is nil when the address is unknown.
func (a *AddrManager) find(na *NetAddress) (int, *AddrInfo) {
	id, ok := a.idByAddr[na.hostKey()]
	if !ok {
		return emptySlot, nil
	}
	return id, a.records[id]
}

// create adds a record for the given address and source that is neither in
// the new nor the tried table yet.  The caller is responsible for placing it.
func (a *AddrManager) create(na, src *NetAddress) (int, *AddrInfo) {
	id := a.idCount
	a.idCount++

	ai := newAddrInfo(na, src)
	ai.randomPos = len(a.randomOrder)
	a.records[id] = ai
	a.idByAddr[na.hostKey()] = id
	a.randomOrder = append(a.randomOrder, id)
	return id, ai
}

// swapRandom exchanges two positions of the random order.
func (a *AddrManager) swapRandom(pos1, pos2 int) {
	if pos1 == pos2 {
		return
	}
	id1, id2 := a.randomOrder[pos1], a.randomOrder[pos2]
	a.records[id1].randomPos = pos2
	a.records[id2].randomPos = pos1
	a.randomOrder[pos1] = id2
	a.randomOrder[pos2] = id1
}

// delete removes a record that is referenced by neither table.
func (a *AddrManager) delete(id int) {
	ai := a.records[id]
	if ai.inTried || ai.refCount != 0 {
		log.Criticalf("Refusing to delete referenced address %s", ai.NetAddress)
		return
	}

	last := len(a.randomOrder) - 1
	a.swapRandom(ai.randomPos, last)
	a.randomOrder = a.randomOrder[:last]
	delete(a.idByAddr, ai.NetAddress.hostKey())
	delete(a.records, id)
	a.nNew--
}

// clearNew empties a slot of the new table.  The record held by the slot is
// deleted when this was its last reference.
func (a *AddrManager) clearNew(bucket, pos int) {
	id := a.newTable[bucket][pos]
	if id == emptySlot {
		return
	}

	ai := a.records[id]
	ai.refCount--
	a.newTable[bucket][pos] = emptySlot
	log.Tracef("Removed %s from new[%d][%d]", ai.NetAddress, bucket, pos)
	if ai.refCount == 0 {
		a.delete(id)
	}
}

// makeTried moves a record from the new table to its slot in the tried
// table.  A record that occupies that slot is moved back to the new table.
func (a *AddrManager) makeTried(id int) {
	ai := a.records[id]

	// Remove the entry from all new buckets.  The positions only depend on
	// the bucket, so scanning every bucket once finds all references.
	start := a.newBucket(ai.NetAddress, ai.Source)
	for n := 0; n < NewBucketCount && ai.refCount > 0; n++ {
		bucket := (start + n) % NewBucketCount
		pos := a.bucketPosition(ai.NetAddress, true, bucket)
		if a.newTable[bucket][pos] == id {
			a.newTable[bucket][pos] = emptySlot
			ai.refCount--
		}
	}
	a.nNew--

	bucket := a.triedBucket(ai.NetAddress)
	pos := a.bucketPosition(ai.NetAddress, false, bucket)

	// Make room by sending the current occupant back to the new table,
	// clearing whatever occupies its primary new slot.
	if evictID := a.triedTable[bucket][pos]; evictID != emptySlot {
		evicted := a.records[evictID]
		evicted.inTried = false
		a.triedTable[bucket][pos] = emptySlot
		a.nTried--

		newBucket := a.newBucket(evicted.NetAddress, evicted.Source)
		newPos := a.bucketPosition(evicted.NetAddress, true, newBucket)
		a.clearNew(newBucket, newPos)
		evicted.refCount = 1
		a.newTable[newBucket][newPos] = evictID
		a.nNew++
		log.Tracef("Moved %s from tried[%d][%d] to new[%d][%d]",
			evicted.NetAddress, bucket, pos, newBucket, newPos)
	}

	a.triedTable[bucket][pos] = id
	a.nTried++
	ai.inTried = true
}

// sortedIDs returns the ids of all records in ascending order.
func (a *AddrManager) sortedIDs() []int {
	ids := make([]int, 0, len(a.records))
	for id := range a.records {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

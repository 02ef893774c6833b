// Copyright (c) 2025 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrmgr

import (
	"fmt"
)

// Consistency check failure codes.  They identify the violated invariant in
// diagnostics.
const (
	checkTriedNoSuccess   = -1
	checkTriedRefCount    = -2
	checkNewRefCountRange = -3
	checkNewNoRefs        = -4
	checkAddrIndex        = -5
	checkLastTry          = -6
	checkRandomOrderSize  = -7
	checkLastSuccess      = -8
	checkTriedCount       = -9
	checkNewCount         = -10
	checkTriedSlotUnknown = -11
	checkNewSlotUnknown   = -12
	checkTriedUnplaced    = -13
	checkRandomPos        = -14
	checkNewRefsUnplaced  = -15
	checkNullKey          = -16
	checkTriedBucket      = -17
	checkTriedPosition    = -18
	checkNewPosition      = -19
	checkAddrIndexSize    = -20
)

// inconsistent returns an ErrInconsistent error for the given check code.
func inconsistent(code int, format string, args ...any) error {
	str := fmt.Sprintf("consistency check failed with code %d: %s", code,
		fmt.Sprintf(format, args...))
	return Error{Err: ErrInconsistent, Description: str}
}

// check runs the full consistency check on roughly one in every
// ConsistencyCheckRatio calls.  A failure means the tables are corrupted by a
// bug, so it is logged and the process is halted.
//
// This function MUST be called with the address manager lock held (for
// reads).
func (a *AddrManager) check() {
	ratio := a.cfg.ConsistencyCheckRatio
	if ratio == 0 {
		return
	}
	if ratio > 1 && a.rand.IntN(ratio) != 0 {
		return
	}

	if err := a.forceCheck(); err != nil {
		log.Criticalf("Address manager is corrupt: %v", err)
		panic(err)
	}
}

// CheckConsistency runs the full consistency check of the tables and returns
// an error of kind ErrInconsistent describing the first violation found.
//
// This function is safe for concurrent access.
func (a *AddrManager) CheckConsistency() error {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	return a.forceCheck()
}

// forceCheck verifies every table invariant.
//
// This function MUST be called with the address manager lock held (for
// reads).
func (a *AddrManager) forceCheck() error {
	if len(a.randomOrder) != a.nTried+a.nNew {
		return inconsistent(checkRandomOrderSize, "random order holds %d ids "+
			"for %d tried and %d new records", len(a.randomOrder), a.nTried,
			a.nNew)
	}
	if len(a.idByAddr) != len(a.records) {
		return inconsistent(checkAddrIndexSize, "address index holds %d "+
			"entries for %d records", len(a.idByAddr), len(a.records))
	}

	tried := make(map[int]struct{})
	newRefs := make(map[int]int)
	for _, id := range a.sortedIDs() {
		ai := a.records[id]
		if ai.inTried {
			if ai.LastSuccess.IsZero() {
				return inconsistent(checkTriedNoSuccess, "tried record %d "+
					"never succeeded", id)
			}
			if ai.refCount != 0 {
				return inconsistent(checkTriedRefCount, "tried record %d "+
					"has %d new references", id, ai.refCount)
			}
			tried[id] = struct{}{}
		} else {
			if ai.refCount < 0 || ai.refCount > NewBucketsPerAddress {
				return inconsistent(checkNewRefCountRange, "new record %d "+
					"has %d references", id, ai.refCount)
			}
			if ai.refCount == 0 {
				return inconsistent(checkNewNoRefs, "new record %d has "+
					"no references", id)
			}
			newRefs[id] = ai.refCount
		}

		if indexed, ok := a.idByAddr[ai.NetAddress.hostKey()]; !ok || indexed != id {
			return inconsistent(checkAddrIndex, "record %d is not indexed "+
				"by its address %s", id, ai.NetAddress)
		}
		if ai.randomPos < 0 || ai.randomPos >= len(a.randomOrder) ||
			a.randomOrder[ai.randomPos] != id {

			return inconsistent(checkRandomPos, "record %d has random "+
				"position %d", id, ai.randomPos)
		}
		if ai.LastTry.Unix() < 0 && !ai.LastTry.IsZero() {
			return inconsistent(checkLastTry, "record %d was tried before "+
				"the epoch", id)
		}
		if ai.LastSuccess.Unix() < 0 && !ai.LastSuccess.IsZero() {
			return inconsistent(checkLastSuccess, "record %d succeeded "+
				"before the epoch", id)
		}
	}
	if len(tried) != a.nTried {
		return inconsistent(checkTriedCount, "%d tried records, expected %d",
			len(tried), a.nTried)
	}
	if len(newRefs) != a.nNew {
		return inconsistent(checkNewCount, "%d new records, expected %d",
			len(newRefs), a.nNew)
	}

	for bucket := range a.triedTable {
		for pos, id := range a.triedTable[bucket] {
			if id == emptySlot {
				continue
			}
			if _, ok := tried[id]; !ok {
				return inconsistent(checkTriedSlotUnknown, "tried[%d][%d] "+
					"holds unexpected record %d", bucket, pos, id)
			}
			na := a.records[id].NetAddress
			if a.triedBucket(na) != bucket {
				return inconsistent(checkTriedBucket, "record %d is in "+
					"the wrong tried bucket %d", id, bucket)
			}
			if a.bucketPosition(na, false, bucket) != pos {
				return inconsistent(checkTriedPosition, "record %d is "+
					"at the wrong position tried[%d][%d]", id, bucket, pos)
			}
			delete(tried, id)
		}
	}
	for bucket := range a.newTable {
		for pos, id := range a.newTable[bucket] {
			if id == emptySlot {
				continue
			}
			if _, ok := newRefs[id]; !ok {
				return inconsistent(checkNewSlotUnknown, "new[%d][%d] "+
					"holds unexpected record %d", bucket, pos, id)
			}
			na := a.records[id].NetAddress
			if a.bucketPosition(na, true, bucket) != pos {
				return inconsistent(checkNewPosition, "record %d is at "+
					"the wrong position new[%d][%d]", id, bucket, pos)
			}
			newRefs[id]--
			if newRefs[id] == 0 {
				delete(newRefs, id)
			}
		}
	}
	if len(tried) != 0 {
		return inconsistent(checkTriedUnplaced, "%d tried records are "+
			"missing from the tried table", len(tried))
	}
	if len(newRefs) != 0 {
		return inconsistent(checkNewRefsUnplaced, "%d new records have "+
			"more references than slots", len(newRefs))
	}
	if a.key == ([32]byte{}) {
		return inconsistent(checkNullKey, "bucket key is not set")
	}
	return nil
}

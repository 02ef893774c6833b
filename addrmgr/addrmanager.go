// Copyright (c) 2013-2014 The btcsuite developers
// Copyright (c) 2015-2025 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrmgr

import (
	"sync"
	"time"

	cryptorand "github.com/decred/dcrd/crypto/rand"
	"github.com/decred/dcrd/wire"
	"github.com/lightningnetwork/lnd/clock"
)

// emptySlot marks an unoccupied bucket slot.
const emptySlot = -1

// AddrManager provides a concurrency safe address manager for caching potential
// peers on the network.
type AddrManager struct {
	// mtx is used to ensure safe concurrent access to fields on an instance
	// of the address manager.
	mtx sync.Mutex

	cfg   Config
	clock clock.Clock

	// rand is the address manager's internal PRNG.  It is used to pick
	// buckets and slots during selection, to shuffle GetAddr responses and
	// to decide whether an already known address gains another new bucket
	// reference.
	rand Rand

	// asmap is the immutable IP to AS mapping used to group addresses.
	asmap []bool

	// key is a random seed used to map addresses to new and tried buckets.
	key    [32]byte
	hasher keyedHasher

	// idCount is the next record id to hand out.
	idCount int

	// records holds every known address keyed by id while idByAddr indexes
	// the same records by host.
	records  map[int]*AddrInfo
	idByAddr map[string]int

	// randomOrder holds every id exactly once.  Each record stores its
	// position so it can be swapped out in constant time.
	randomOrder []int

	// triedTable and newTable are the bucket grids.  Slots hold record ids
	// or emptySlot.
	triedTable [TriedBucketCount][BucketSize]int
	newTable   [NewBucketCount][BucketSize]int

	// nTried is the number of records in the tried table and nNew the number
	// of distinct records in the new table.
	nTried int
	nNew   int

	// lastGood is the last time any address was marked good.  It is not
	// persisted.
	lastGood time.Time

	// triedCollisions holds the ids of new records whose promotion to the
	// tried table awaits a test of the current occupant.
	triedCollisions map[int]struct{}

	// deterministic is set by MakeDeterministic.
	deterministic bool
}

// initialLastGood is the value lastGood starts out with so that the very first
// failed attempt is counted.
var initialLastGood = time.Unix(1, 0)

// setKey replaces the bucket key.
func (a *AddrManager) setKey(key [32]byte) {
	a.key = key
	a.hasher.key = key
}

// reset resets the address manager by reinitialising the random source
// and allocating fresh empty bucket storage.
func (a *AddrManager) reset() {
	a.idCount = 0
	a.records = make(map[int]*AddrInfo)
	a.idByAddr = make(map[string]int)
	a.randomOrder = a.randomOrder[:0]
	for i := range a.triedTable {
		for j := range a.triedTable[i] {
			a.triedTable[i][j] = emptySlot
		}
	}
	for i := range a.newTable {
		for j := range a.newTable[i] {
			a.newTable[i][j] = emptySlot
		}
	}
	a.nTried = 0
	a.nNew = 0
	a.lastGood = initialLastGood
	a.triedCollisions = make(map[int]struct{})

	var key [32]byte
	if a.deterministic {
		key[0] = 1
	} else {
		cryptorand.Read(key[:])
	}
	a.setKey(key)
}

// New returns a new address manager configured by cfg.  A nil config selects
// all defaults.
func New(cfg *Config) *AddrManager {
	c := cfg.withDefaults()
	am := AddrManager{
		cfg:   c,
		clock: c.Clock,
		rand:  c.Rand,
		asmap: c.Asmap,
	}
	am.reset()
	return &am
}

// now returns the current time truncated to whole seconds, which is the
// resolution times are persisted with.
func (a *AddrManager) now() time.Time {
	return time.Unix(a.clock.Now().Unix(), 0)
}

// Size returns the number of addresses known to the address manager.
//
// This function is safe for concurrent access.
func (a *AddrManager) Size() int {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	return len(a.randomOrder)
}

// Counts returns the number of addresses in the new and tried tables.
//
// This function is safe for concurrent access.
func (a *AddrManager) Counts() (newCount, triedCount int) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	return a.nNew, a.nTried
}

// Asmap returns the IP to AS mapping the address manager groups addresses
// with.  It is nil when addresses are grouped by prefix.  The returned slice
// must not be modified.
func (a *AddrManager) Asmap() []bool {
	return a.asmap
}

// Clear removes every address and picks a new bucket key.
//
// This function is safe for concurrent access.
func (a *AddrManager) Clear() {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	a.reset()
}

// MakeDeterministic clears the address manager and switches it to a fixed
// bucket key and a seeded random source so results are reproducible.  It is
// only meant for tests.
//
// This function is safe for concurrent access.
func (a *AddrManager) MakeDeterministic() {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	a.deterministic = true
	a.rand = deterministicRand()
	a.reset()
}

// Add adds the given addresses, all announced by src, to the new table.  The
// timestamps of the addresses are pushed back by penalty unless an address
// announces itself.  It returns whether at least one previously unknown
// address was added.
//
// This function is safe for concurrent access.
func (a *AddrManager) Add(addrs []*NetAddress, src *NetAddress, penalty time.Duration) bool {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	var added int
	for _, na := range addrs {
		if a.addSingle(na, src, penalty) {
			added++
		}
	}
	if added > 0 {
		log.Debugf("Added %d addresses from %s: %d tried, %d new", added,
			src, a.nTried, a.nNew)
	}
	a.check()
	return added > 0
}

// addSingle adds or refreshes a single address and reports whether a new
// record was created for it.
//
// This function MUST be called with the address manager lock held (for
// writes).
func (a *AddrManager) addSingle(na, src *NetAddress, penalty time.Duration) bool {
	// Filter out non-routable addresses. Note that non-routable
	// also includes invalid and local addresses.
	if !na.IsRoutable() {
		return false
	}

	// Do not penalize a peer for announcing itself.
	if na.sameHost(src) {
		penalty = 0
	}

	now := a.now()
	timestamp := na.Timestamp
	if timestamp.After(now) {
		timestamp = now
	}
	penalized := timestamp.Add(-penalty)
	if penalized.Unix() <= 0 {
		penalized = time.Time{}
	}

	id, ai := a.find(na)
	isNew := ai == nil
	if !isNew {
		// Only refresh periodically to avoid leaking when addresses are
		// relayed.
		updateInterval := 24 * time.Hour
		if now.Sub(timestamp) < 24*time.Hour {
			updateInterval = time.Hour
		}
		if ai.NetAddress.Timestamp.Before(timestamp.Add(-updateInterval - penalty)) {
			refreshed := ai.NetAddress.Clone()
			refreshed.Timestamp = penalized
			ai.NetAddress = refreshed
		}
		if ai.NetAddress.Services&na.Services != na.Services {
			refreshed := ai.NetAddress.Clone()
			refreshed.AddService(na.Services)
			ai.NetAddress = refreshed
		}

		// Nothing to do unless the announcement is newer.
		if timestamp.IsZero() || (!ai.NetAddress.Timestamp.IsZero() &&
			!timestamp.After(ai.NetAddress.Timestamp)) {
			return false
		}

		// If already in tried, we have nothing to do here.
		if ai.inTried {
			return false
		}

		// Already at our max?
		if ai.refCount == NewBucketsPerAddress {
			return false
		}

		// The more entries we have, the less likely we are to add more.
		// The likelihood is 1 in 2^refs.
		factor := 1 << ai.refCount
		if factor > 1 && a.rand.IntN(factor) != 0 {
			return false
		}
	} else {
		stored := na.Clone()
		stored.Timestamp = penalized
		id, ai = a.create(stored, src)
		a.nNew++
	}

	bucket := a.newBucket(ai.NetAddress, src)
	pos := a.bucketPosition(ai.NetAddress, true, bucket)
	occupant := a.newTable[bucket][pos]
	if occupant == id {
		return false
	}

	insert := occupant == emptySlot
	if !insert {
		// Overwrite only terrible entries, or entries that are
		// referenced elsewhere when this address has no reference yet.
		existing := a.records[occupant]
		if existing.IsTerrible(now) ||
			(existing.refCount > 1 && ai.refCount == 0) {
			insert = true
		}
	}
	if insert {
		a.clearNew(bucket, pos)
		ai.refCount++
		a.newTable[bucket][pos] = id
		log.Tracef("Added %s mapped to AS%d to new[%d][%d]", ai.NetAddress,
			ai.NetAddress.mappedAS(a.asmap), bucket, pos)
	} else if ai.refCount == 0 {
		a.delete(id)
	}
	return isNew && insert
}

// Good marks the provided address as good.  This should be called after a
// successful outbound connection and version exchange with a peer.  An
// unknown address, or one whose port differs from the known record, is
// ignored.
//
// When the address is in the new table it is moved to the tried table.  If
// that would evict another tried address and testBeforeEvict is set, the move
// is queued until ResolveCollisions decides whether the current occupant is
// still reachable.
//
// This function is safe for concurrent access.
func (a *AddrManager) Good(na *NetAddress, testBeforeEvict bool, now time.Time) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	a.good(na, testBeforeEvict, now)
	a.check()
}

// good is the lock-free implementation of Good.  It reports whether the
// address was moved into the tried table.
//
// This function MUST be called with the address manager lock held (for
// writes).
func (a *AddrManager) good(na *NetAddress, testBeforeEvict bool, now time.Time) bool {
	a.lastGood = now

	id, ai := a.find(na)
	if ai == nil || ai.NetAddress.Port != na.Port {
		return false
	}

	// The timestamp is not updated here to avoid leaking information
	// about currently connected peers.
	ai.LastSuccess = now
	ai.LastTry = now
	ai.Attempts = 0

	// If the address is already tried then return since it's already good.
	if ai.inTried {
		return false
	}
	if ai.refCount == 0 {
		log.Errorf("Address %s is neither tried nor new", ai.NetAddress)
		return false
	}

	bucket := a.triedBucket(ai.NetAddress)
	pos := a.bucketPosition(ai.NetAddress, false, bucket)
	if occupant := a.triedTable[bucket][pos]; testBeforeEvict &&
		occupant != emptySlot {

		if len(a.triedCollisions) < a.cfg.MaxTriedCollisions {
			a.triedCollisions[id] = struct{}{}
		}
		log.Debugf("Collision with %s while attempting to move %s to tried "+
			"table, %d collisions pending", a.records[occupant].NetAddress,
			ai.NetAddress, len(a.triedCollisions))
		return false
	}

	a.makeTried(id)
	log.Debugf("Moved %s mapped to AS%d to tried[%d][%d]", ai.NetAddress,
		ai.NetAddress.mappedAS(a.asmap), bucket, pos)
	return true
}

// Attempt records a connection attempt to the provided address at the given
// time.  When countFailure is set the failure counter is increased, at most
// once per successful connection to any peer, so an outage of the local
// network does not penalize every address.
//
// This function is safe for concurrent access.
func (a *AddrManager) Attempt(na *NetAddress, countFailure bool, now time.Time) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	_, ai := a.find(na)
	if ai != nil && ai.NetAddress.Port == na.Port {
		ai.LastTry = now
		if countFailure && ai.LastCountAttempt.Before(a.lastGood) {
			ai.LastCountAttempt = now
			ai.Attempts++
		}
	}
	a.check()
}

// Connected refreshes the timestamp of the provided address.  It is meant to
// be called when a connection to the peer is closed so the stored timestamps
// do not reveal which peers are currently connected.
//
// This function is safe for concurrent access.
func (a *AddrManager) Connected(na *NetAddress, now time.Time) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	_, ai := a.find(na)
	if ai != nil && ai.NetAddress.Port == na.Port {
		// Update the time as long as it has been 20 minutes since last
		// we did so.
		if now.Sub(ai.NetAddress.Timestamp) > 20*time.Minute {
			refreshed := ai.NetAddress.Clone()
			refreshed.Timestamp = now
			ai.NetAddress = refreshed
		}
	}
	a.check()
}

// SetServices sets the services for the provided known address to the
// provided value.  Unknown addresses are ignored.
//
// This function is safe for concurrent access.
func (a *AddrManager) SetServices(na *NetAddress, services wire.ServiceFlag) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	_, ai := a.find(na)
	if ai != nil && ai.NetAddress.Port == na.Port {
		refreshed := ai.NetAddress.Clone()
		refreshed.Services = services
		ai.NetAddress = refreshed
	}
	a.check()
}

// Entries returns a copy of every record ordered by id.  It is meant for
// diagnostics.
//
// This function is safe for concurrent access.
func (a *AddrManager) Entries() []*AddrInfo {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	entries := make([]*AddrInfo, 0, len(a.records))
	for _, id := range a.sortedIDs() {
		entries = append(entries, a.records[id].clone())
	}
	return entries
}

// Copyright (c) 2014 The btcsuite developers
// Copyright (c) 2015-2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package addrmgr implements a concurrency-safe peer address manager.

# Address Manager Overview

A node must manage a source of network addresses to connect to and share with
other nodes.  Remote peers cannot be trusted: a peer might send invalid
addresses, or worse, only send addresses it controls in an attempt to isolate
the node from the honest network (an eclipse attack).

The address manager keeps every known address in one of two fixed size bucket
tables:

  - the new table holds addresses that were announced to us but never
    confirmed reachable.  An address may live in up to eight new buckets, one
    per announcing network group.
  - the tried table holds addresses we successfully connected to.  Every tried
    address occupies exactly one slot.

Bucket and slot placement is derived from a keyed hash over the network group
of the address (and of the peer that announced it for the new table).  The key
is a 256-bit secret chosen when the manager is created and persisted with its
state, so an outside observer cannot predict where an address will land.
Network groups are /16 prefixes for IPv4 and /32 prefixes for IPv6 unless an
IP to autonomous system mapping (asmap) is supplied, in which case all
addresses announced by or belonging to the same AS share a group.  Since a
group can only ever reach a handful of buckets, a single network operator can
not flood the tables.

When an address that was marked good would evict another tried entry, the
caller may ask for test-before-evict: the collision is queued and the current
occupant is only replaced once ResolveCollisions determines it no longer
answers.

# Serialization

The complete state can be written with Serialize and restored with
Unserialize.  The byte layout is versioned; every format from
FormatHistorical up to FormatBIP155 can be read, and FormatBIP155 is always
written.

# Errors

Errors returned by this package are of type addrmgr.Error and carry an
ErrorKind that can be tested with errors.Is.
*/
package addrmgr

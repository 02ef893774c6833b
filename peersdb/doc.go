// Copyright (c) 2025 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package peersdb persists the state of an address manager across restarts.

A Store holds a single serialized state blob.  FileStore keeps it in a flat
file that is replaced atomically on every save, while LevelDBStore keeps it
under a fixed key of a leveldb database.

LoadInto restores an address manager from a store and a Dumper periodically
writes the state back until it is stopped, at which point it saves one final
time.
*/
package peersdb

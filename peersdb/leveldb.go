// Copyright (c) 2025 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package peersdb

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// peersStateKey is the key the serialized state is stored under.
var peersStateKey = []byte("peers")

// LevelDBStore is a Store that keeps the state under a fixed key of a
// leveldb database.
type LevelDBStore struct {
	mtx sync.Mutex
	db  *leveldb.DB
}

// Ensure LevelDBStore implements the Store interface.
var _ Store = (*LevelDBStore)(nil)

// OpenLevelDBStore opens the leveldb database at dbPath, creating it when it
// does not exist.
func OpenLevelDBStore(dbPath string) (*LevelDBStore, error) {
	// The error can be ignored here since the call to leveldb.OpenFile will
	// fail if the directory couldn't be created.
	_ = os.MkdirAll(dbPath, 0700)

	log.Infof("Loading peers database from '%s'", dbPath)
	opts := opt.Options{
		Strict:      opt.DefaultStrict,
		Compression: opt.NoCompression,
	}
	db, err := leveldb.OpenFile(dbPath, &opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open peers database: %w", err)
	}
	return &LevelDBStore{db: db}, nil
}

// Load reads the state from the database.
func (s *LevelDBStore) Load() ([]byte, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.db == nil {
		return nil, makeError(ErrStoreClosed, "peers database is closed")
	}
	state, err := s.db.Get(peersStateKey, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, makeError(ErrNotFound, "peers database holds no "+
				"address manager state")
		}
		return nil, fmt.Errorf("failed to read peers state: %w", err)
	}
	return state, nil
}

// Save replaces the state in the database with a synced write.
func (s *LevelDBStore) Save(state []byte) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.db == nil {
		return makeError(ErrStoreClosed, "peers database is closed")
	}
	if err := s.db.Put(peersStateKey, state, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("failed to write peers state: %w", err)
	}
	return nil
}

// Close closes the database.  Closing a closed store is a no-op.
func (s *LevelDBStore) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

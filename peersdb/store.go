// Copyright (c) 2025 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package peersdb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultFileName is the name of the peers file in the data directory.
const DefaultFileName = "peers.dat"

// Store persists a serialized address manager state.
type Store interface {
	// Load returns the stored state.  An error of kind ErrNotFound is
	// returned when nothing was saved yet.
	Load() ([]byte, error)

	// Save replaces the stored state.
	Save(state []byte) error

	// Close releases the resources held by the store.
	Close() error
}

// FileStore is a Store backed by a single file.
type FileStore struct {
	path string
}

// Ensure FileStore implements the Store interface.
var _ Store = (*FileStore)(nil)

// NewFileStore returns a store that keeps the state in the file at path.  The
// file is not accessed until the first Load or Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the path of the underlying file.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the state from the file.
func (s *FileStore) Load() ([]byte, error) {
	state, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			str := fmt.Sprintf("peers file %s does not exist", s.path)
			return nil, makeError(ErrNotFound, str)
		}
		return nil, err
	}
	log.Debugf("Read %d bytes from peers file %s", len(state), s.path)
	return state, nil
}

// Save writes the state to a temporary file and then moves it into place so
// a crash never leaves a partially written peers file behind.
func (s *FileStore) Save(state []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	tmpFile := s.path + ".new"
	if err := os.WriteFile(tmpFile, state, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmpFile, s.path); err != nil {
		os.Remove(tmpFile)
		return err
	}
	log.Tracef("Wrote %d bytes to peers file %s", len(state), s.path)
	return nil
}

// Close is a no-op since the file is only open while it is read or written.
func (s *FileStore) Close() error {
	return nil
}

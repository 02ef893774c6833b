// Copyright (c) 2025 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package peersdb

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hozan23/bitcoin-abc/addrmgr"
)

// DefaultDumpInterval is the interval between periodic saves of the address
// manager state.
const DefaultDumpInterval = 15 * time.Minute

// AddrManager is the subset of the address manager the package persists.
type AddrManager interface {
	Serialize(w io.Writer) error
	Unserialize(r io.Reader) error
	Size() int
}

// LoadInto restores the address manager from the store.  A store without
// state leaves the manager untouched.  Corrupt state is logged and discarded
// so the manager starts empty, while state written by a newer version is
// reported as an error of kind addrmgr.ErrUnsupportedFormat so it is not
// overwritten.
func LoadInto(am AddrManager, store Store) error {
	state, err := store.Load()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Infof("No saved peers found, starting with an empty " +
				"address manager")
			return nil
		}
		return err
	}

	err = am.Unserialize(bytes.NewReader(state))
	switch {
	case errors.Is(err, addrmgr.ErrCorruptState):
		log.Errorf("Discarding corrupt peers state: %v", err)
		return nil
	case err != nil:
		return err
	}
	log.Infof("Loaded %d addresses from the peers database", am.Size())
	return nil
}

// Dumper periodically saves the state of an address manager to a store.
type Dumper struct {
	started  int32
	shutdown int32

	am       AddrManager
	store    Store
	interval time.Duration

	// lastSaved is only accessed from Save which is serialized by saveMtx.
	saveMtx   sync.Mutex
	lastSaved []byte

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewDumper returns a dumper saving the address manager to the store every
// interval.  A non-positive interval selects DefaultDumpInterval.
func NewDumper(am AddrManager, store Store, interval time.Duration) *Dumper {
	if interval <= 0 {
		interval = DefaultDumpInterval
	}
	return &Dumper{
		am:       am,
		store:    store,
		interval: interval,
		quit:     make(chan struct{}),
	}
}

// Save serializes the address manager and writes it to the store unless it
// is unchanged since the previous save.
//
// This function is safe for concurrent access.
func (d *Dumper) Save() error {
	d.saveMtx.Lock()
	defer d.saveMtx.Unlock()

	var buf bytes.Buffer
	if err := d.am.Serialize(&buf); err != nil {
		return err
	}
	state := buf.Bytes()
	if d.lastSaved != nil && bytes.Equal(state, d.lastSaved) {
		log.Trace("Peers state unchanged since the last save")
		return nil
	}
	if err := d.store.Save(state); err != nil {
		return err
	}
	d.lastSaved = state
	log.Debugf("Saved %d addresses (%d bytes)", d.am.Size(), len(state))
	return nil
}

// dumpHandler saves the state every interval until the dumper is stopped and
// once more before returning.
//
// This MUST be run as a goroutine.
func (d *Dumper) dumpHandler() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
out:
	for {
		select {
		case <-ticker.C:
			if err := d.Save(); err != nil {
				log.Errorf("Failed to save peers: %v", err)
			}

		case <-d.quit:
			break out
		}
	}
	if err := d.Save(); err != nil {
		log.Errorf("Failed to save peers: %v", err)
	}
	log.Trace("Peers dumper done")
}

// Start begins saving the address manager periodically.
func (d *Dumper) Start() {
	// Return early if the dumper has already been started.
	if atomic.AddInt32(&d.started, 1) != 1 {
		return
	}

	log.Trace("Starting peers dumper")
	d.wg.Add(1)
	go d.dumpHandler()
}

// Stop stops the periodic saves and blocks until the final save completed.
func (d *Dumper) Stop() {
	// Return early if the dumper has already been stopped.
	if atomic.AddInt32(&d.shutdown, 1) != 1 {
		log.Warnf("Peers dumper is already in the process of shutting down")
		return
	}

	log.Infof("Peers dumper shutting down")
	close(d.quit)
	d.wg.Wait()
}

// Copyright (c) 2025 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrmgr

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/decred/slog"
	"github.com/hozan23/bitcoin-abc/asmap/asmaptest"
)

// populateTestAddrManager fills the address manager with addresses of several
// networks, promotes some to the tried table and records failed attempts for
// others.  Tor v3, I2P and CJDNS addresses are only added with overlay set.
func populateTestAddrManager(t *testing.T, am *AddrManager, overlay bool) {
	t.Helper()

	var addrs []*NetAddress
	for i := 0; i < 60; i++ {
		addrs = append(addrs, newTestNetAddr(t, fmt.Sprintf("250.%d.1.1:8333", i)))
	}
	for i := 1; i <= 20; i++ {
		addrs = append(addrs, newTestNetAddr(t, fmt.Sprintf("[2a00:%x::1]:8333", i)))
	}
	for i := byte(1); i <= 10; i++ {
		na, err := NewNetAddressFromParams(TorV2Address,
			[]byte{i << 4, 1, 2, 3, 4, 5, 6, 7, 8, i}, 8333, testTime, 0)
		if err != nil {
			t.Fatal(err)
		}
		addrs = append(addrs, na)
	}
	if overlay {
		for i := byte(1); i <= 10; i++ {
			key := bytes.Repeat([]byte{i}, 32)
			key[0] = i << 4
			torV3, err := NewNetAddressFromParams(TorV3Address, key, 9050,
				testTime, 0)
			if err != nil {
				t.Fatal(err)
			}
			i2p, err := NewNetAddressFromParams(I2PAddress, key, 0, testTime, 0)
			if err != nil {
				t.Fatal(err)
			}
			cjdnsIP := bytes.Repeat([]byte{i}, 16)
			cjdnsIP[0] = 0xfc
			cjdns, err := NewNetAddressFromParams(CJDNSAddress, cjdnsIP, 8333,
				testTime, 0)
			if err != nil {
				t.Fatal(err)
			}
			addrs = append(addrs, torV3, i2p, cjdns)
		}
	}

	for i, na := range addrs {
		src := newTestNetAddr(t, fmt.Sprintf("252.%d.1.1:8333", i%5))
		am.Add([]*NetAddress{na}, src, 0)
		switch i % 3 {
		case 0:
			am.Good(na, false, testTime.Add(-time.Hour))
		case 1:
			am.Attempt(na, true, testTime.Add(-2*time.Hour))
		}
	}
	if newCount, triedCount := am.Counts(); newCount == 0 || triedCount == 0 {
		t.Fatalf("unexpected counts: %d new, %d tried", newCount, triedCount)
	}
}

// compareEntries fails the test when the persisted state of the records of
// both address managers differs.
func compareEntries(t *testing.T, want, got *AddrManager) {
	t.Helper()

	persisted := func(am *AddrManager) map[string]AddrInfo {
		m := make(map[string]AddrInfo)
		for _, ai := range am.Entries() {
			ai.LastTry = time.Time{}
			ai.LastCountAttempt = time.Time{}
			ai.randomPos = 0
			ai.NetAddress.IP = append([]byte(nil), ai.NetAddress.IP...)
			ai.Source = &NetAddress{Type: ai.Source.Type, IP: ai.Source.IP}
			m[ai.NetAddress.Key()] = *ai
		}
		return m
	}
	wantEntries, gotEntries := persisted(want), persisted(got)
	if len(wantEntries) != len(gotEntries) {
		t.Fatalf("got %d records, want %d", len(gotEntries), len(wantEntries))
	}
	for key, wantAI := range wantEntries {
		gotAI, ok := gotEntries[key]
		if !ok {
			t.Fatalf("record %s is missing", key)
		}
		if gotAI.NetAddress.Type != wantAI.NetAddress.Type ||
			!bytes.Equal(gotAI.NetAddress.IP, wantAI.NetAddress.IP) ||
			gotAI.NetAddress.Services != wantAI.NetAddress.Services ||
			!gotAI.NetAddress.Timestamp.Equal(wantAI.NetAddress.Timestamp) ||
			!gotAI.Source.sameHost(wantAI.Source) ||
			!gotAI.LastSuccess.Equal(wantAI.LastSuccess) ||
			gotAI.Attempts != wantAI.Attempts ||
			gotAI.inTried != wantAI.inTried ||
			gotAI.refCount != wantAI.refCount {

			t.Fatalf("mismatched record %s\ngot: %s\nwant: %s", key,
				spew.Sdump(gotAI), spew.Sdump(wantAI))
		}
	}
}

// TestSerializeRoundTrip ensures the state survives serialization in every
// format and that reading it back yields exactly the same serialized state.
func TestSerializeRoundTrip(t *testing.T) {
	formats := []Format{FormatHistorical, FormatDeterministic, FormatAsmap,
		FormatBIP155}
	for _, format := range formats {
		am, _ := newTestAddrManager(t, nil)
		am.cfg.ConsistencyCheckRatio = 0
		populateTestAddrManager(t, am, format >= FormatBIP155)

		var buf bytes.Buffer
		if err := am.serialize(&buf, format); err != nil {
			t.Fatalf("%v: failed to serialize: %v", format, err)
		}
		if buf.Bytes()[0] != byte(format) {
			t.Fatalf("%v: unexpected format byte %d", format, buf.Bytes()[0])
		}

		loaded, _ := newTestAddrManager(t, nil)
		if err := loaded.Unserialize(&buf); err != nil {
			t.Fatalf("%v: failed to unserialize: %v", format, err)
		}
		if buf.Len() != 0 {
			t.Fatalf("%v: %d bytes left unread", format, buf.Len())
		}
		compareEntries(t, am, loaded)
		if err := loaded.CheckConsistency(); err != nil {
			t.Fatalf("%v: %v", format, err)
		}

		var want, got bytes.Buffer
		if err := am.Serialize(&want); err != nil {
			t.Fatal(err)
		}
		if err := loaded.Serialize(&got); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(want.Bytes(), got.Bytes()) {
			t.Fatalf("%v: reserialized state differs", format)
		}
	}
}

// TestSerializeHeader ensures the header of the current format is written as
// expected.
func TestSerializeHeader(t *testing.T) {
	am, _ := newTestAddrManager(t, nil)
	var buf bytes.Buffer
	if err := am.Serialize(&buf); err != nil {
		t.Fatal(err)
	}
	b := buf.Bytes()

	// format, compatibility, key, counts, new bucket count, empty bucket
	// lists and the asmap checksum.
	wantLen := 2 + 32 + 4 + 4 + 4 + NewBucketCount*4 + 32
	if len(b) != wantLen {
		t.Fatalf("got %d bytes, want %d", len(b), wantLen)
	}
	if b[0] != byte(FormatBIP155) || b[1] != incompatibilityBase+byte(FormatBIP155) {
		t.Fatalf("unexpected header %x", b[:2])
	}
	if b[2] != 1 || !bytes.Equal(b[3:34], make([]byte, 31)) {
		t.Fatalf("unexpected key %x", b[2:34])
	}
	newBuckets := binary.LittleEndian.Uint32(b[42:46])
	if newBuckets != NewBucketCount^newBucketCountFlag {
		t.Fatalf("unexpected new bucket count %#x", newBuckets)
	}
}

// TestSerializeLegacyDropsOverlay ensures addresses without a legacy encoding
// are lost when the state is written in an old format.
func TestSerializeLegacyDropsOverlay(t *testing.T) {
	am, _ := newTestAddrManager(t, nil)
	am.cfg.ConsistencyCheckRatio = 0
	populateTestAddrManager(t, am, true)

	var overlay int
	for _, ai := range am.Entries() {
		switch ai.NetAddress.Type {
		case TorV3Address, I2PAddress, CJDNSAddress:
			overlay++
		}
	}
	if overlay == 0 {
		t.Fatal("no overlay addresses were added")
	}

	var buf bytes.Buffer
	if err := am.serialize(&buf, FormatAsmap); err != nil {
		t.Fatal(err)
	}
	loaded, _ := newTestAddrManager(t, nil)
	if err := loaded.Unserialize(&buf); err != nil {
		t.Fatal(err)
	}
	if loaded.Size() != am.Size()-overlay {
		t.Fatalf("got %d addresses, want %d", loaded.Size(),
			am.Size()-overlay)
	}
	for _, ai := range loaded.Entries() {
		switch ai.NetAddress.Type {
		case IPv4Address, IPv6Address, TorV2Address:
		default:
			t.Fatalf("unexpected address %s", ai.NetAddress)
		}
	}
}

// TestUnserializeAsmapChange ensures records are re-bucketed when the asmap
// changes between writing and reading the state.
func TestUnserializeAsmapChange(t *testing.T) {
	am, _ := newTestAddrManager(t, nil)
	am.cfg.ConsistencyCheckRatio = 0
	populateTestAddrManager(t, am, false)

	var buf bytes.Buffer
	if err := am.Serialize(&buf); err != nil {
		t.Fatal(err)
	}

	// With every IP address in a single AS announced by sources of that
	// same AS, all mapped new records share a single bucket.
	program := asmaptest.Pad(asmaptest.Return(64512))
	loaded, _ := newTestAddrManager(t, program)
	if err := loaded.Unserialize(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatal(err)
	}
	newCount, triedCount := loaded.Counts()
	if newCount == 0 || triedCount == 0 {
		t.Fatalf("unexpected counts: %d new, %d tried", newCount, triedCount)
	}
	ipBuckets := make(map[int]struct{})
	for bucket := range loaded.newTable {
		for _, id := range loaded.newTable[bucket] {
			if id == emptySlot {
				continue
			}
			switch loaded.records[id].NetAddress.NetClass() {
			case NetIPv4, NetIPv6:
				ipBuckets[bucket] = struct{}{}
			}
		}
	}
	if len(ipBuckets) != 1 {
		t.Fatalf("mapped new records spread over %d buckets", len(ipBuckets))
	}
	if err := loaded.CheckConsistency(); err != nil {
		t.Fatal(err)
	}

	// The asmap checksum is persisted so reading the state back with the
	// same asmap restores the bucket positions.
	buf.Reset()
	if err := loaded.Serialize(&buf); err != nil {
		t.Fatal(err)
	}
	state := append([]byte(nil), buf.Bytes()...)
	again, _ := newTestAddrManager(t, program)
	if err := again.Unserialize(&buf); err != nil {
		t.Fatal(err)
	}
	buf.Reset()
	if err := again.Serialize(&buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(state, buf.Bytes()) {
		t.Fatal("state with matching asmap was not restored")
	}
}

// testStateHeader returns the serialized header of a state in the current
// format with the given counts.
func testStateHeader(key byte, nNew, nTried int32) []byte {
	b := []byte{byte(FormatBIP155), incompatibilityBase + byte(FormatBIP155)}
	b = append(b, bytes.Repeat([]byte{key}, 32)...)
	b = binary.LittleEndian.AppendUint32(b, uint32(nNew))
	b = binary.LittleEndian.AppendUint32(b, uint32(nTried))
	return binary.LittleEndian.AppendUint32(b, NewBucketCount^newBucketCountFlag)
}

// emptyBuckets returns the serialized bucket lists and asmap checksum of a
// state without new records.
func emptyBuckets() []byte {
	return make([]byte, NewBucketCount*4+32)
}

// TestUnserializeErrors ensures unsupported and corrupt states are rejected
// and leave the address manager empty.
func TestUnserializeErrors(t *testing.T) {
	am, _ := newTestAddrManager(t, nil)
	am.cfg.ConsistencyCheckRatio = 0
	populateTestAddrManager(t, am, true)
	var buf bytes.Buffer
	if err := am.Serialize(&buf); err != nil {
		t.Fatal(err)
	}
	valid := buf.Bytes()

	bucketTooLarge := append(testStateHeader(1, 0, 0), 65, 0, 0, 0)
	tests := []struct {
		name    string
		state   []byte
		wantErr error
	}{
		{"empty", nil, ErrCorruptState},
		{"format only", []byte{3}, ErrCorruptState},
		{"incompatible", []byte{4, 36}, ErrUnsupportedFormat},
		{"incompatible without data", []byte{200, 255}, ErrUnsupportedFormat},
		{"missing compatibility base", []byte{0, 0}, ErrUnsupportedFormat},
		{"truncated key", valid[:20], ErrCorruptState},
		{"truncated records", valid[:200], ErrCorruptState},
		{"truncated checksum", valid[:len(valid)-1], ErrCorruptState},
		{"negative new count", append(testStateHeader(1, -1, 0),
			emptyBuckets()...), ErrCorruptState},
		{"excessive new count", append(testStateHeader(1,
			NewBucketCount*BucketSize+1, 0), emptyBuckets()...),
			ErrCorruptState},
		{"negative tried count", append(testStateHeader(1, 0, -1),
			emptyBuckets()...), ErrCorruptState},
		{"excessive tried count", append(testStateHeader(1, 0,
			TriedBucketCount*BucketSize+1), emptyBuckets()...),
			ErrCorruptState},
		{"oversized bucket", bucketTooLarge, ErrCorruptState},
		{"zero key", append(testStateHeader(0, 0, 0), emptyBuckets()...),
			ErrCorruptState},
	}

	for _, test := range tests {
		loaded, _ := newTestAddrManager(t, nil)
		loaded.Add([]*NetAddress{newTestNetAddr(t, "250.1.1.1:8333")},
			newTestNetAddr(t, "252.1.1.1:8333"), 0)
		err := loaded.Unserialize(bytes.NewReader(test.state))
		if !errors.Is(err, test.wantErr) {
			t.Errorf("%q: unexpected error -- got %v, want %v", test.name,
				err, test.wantErr)
			continue
		}
		if loaded.Size() != 0 {
			t.Errorf("%q: address manager not reset after error", test.name)
		}
		if err := loaded.CheckConsistency(); err != nil {
			t.Errorf("%q: %v", test.name, err)
		}
	}

	// An empty state with a valid key loads.
	loaded, _ := newTestAddrManager(t, nil)
	state := append(testStateHeader(1, 0, 0), emptyBuckets()...)
	if err := loaded.Unserialize(bytes.NewReader(state)); err != nil {
		t.Fatalf("failed to load empty state: %v", err)
	}
}

// TestUnserializeFutureFormat ensures states written by newer versions are
// read as long as they declare compatibility.
func TestUnserializeFutureFormat(t *testing.T) {
	am, _ := newTestAddrManager(t, nil)
	am.cfg.ConsistencyCheckRatio = 0
	populateTestAddrManager(t, am, true)
	var buf bytes.Buffer
	if err := am.Serialize(&buf); err != nil {
		t.Fatal(err)
	}
	state := buf.Bytes()
	state[0] = 4

	loaded, _ := newTestAddrManager(t, nil)
	if err := loaded.Unserialize(bytes.NewReader(state)); err != nil {
		t.Fatalf("failed to load future format: %v", err)
	}
	compareEntries(t, am, loaded)
}

// TestUnserializeBadAddresses ensures records of unknown networks are skipped
// while malformed addresses of known networks are rejected.
func TestUnserializeBadAddresses(t *testing.T) {
	tests := []struct {
		name     string
		addr     *NetAddress
		wantErr  error
		wantSize int
	}{{
		name:     "unknown network",
		addr:     &NetAddress{Type: NetAddressType(7), IP: []byte{1, 2, 3, 4}},
		wantSize: 1,
	}, {
		name:    "oversized unknown network",
		addr:    &NetAddress{Type: NetAddressType(7), IP: make([]byte, 513)},
		wantErr: ErrCorruptState,
	}, {
		name:    "ipv4 with wrong length",
		addr:    &NetAddress{Type: IPv4Address, IP: []byte{1, 2, 3, 4, 5}},
		wantErr: ErrCorruptState,
	}, {
		name: "ipv4 embedded in ipv6",
		addr: &NetAddress{Type: IPv6Address,
			IP: append(ipv4InIPv6Prefix[:], 1, 2, 3, 4)},
		wantSize: 1,
	}, {
		name: "onioncat embedded in ipv6",
		addr: &NetAddress{Type: IPv6Address,
			IP: append(onionCatPrefix[:], 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)},
		wantSize: 1,
	}}

	for _, test := range tests {
		am, _ := newTestAddrManager(t, nil)
		am.cfg.ConsistencyCheckRatio = 0
		src := newTestNetAddr(t, "252.1.1.1:8333")
		victim := newTestNetAddr(t, "250.1.1.1:8333")
		am.Add([]*NetAddress{victim, newTestNetAddr(t, "250.2.1.1:8333")},
			src, 0)
		_, ai := am.find(victim)
		bad := test.addr.Clone()
		bad.Port = 8333
		bad.Timestamp = testTime
		ai.NetAddress = bad

		var buf bytes.Buffer
		if err := am.Serialize(&buf); err != nil {
			t.Fatal(err)
		}
		loaded, _ := newTestAddrManager(t, nil)
		err := loaded.Unserialize(&buf)
		if !errors.Is(err, test.wantErr) {
			t.Errorf("%q: unexpected error -- got %v, want %v", test.name,
				err, test.wantErr)
			continue
		}
		if loaded.Size() != test.wantSize {
			t.Errorf("%q: got %d addresses, want %d", test.name,
				loaded.Size(), test.wantSize)
		}
	}
}

// failingWriter is an io.Writer that always fails.
type failingWriter struct{}

var errWriteFailed = errors.New("write failed")

func (failingWriter) Write([]byte) (int, error) {
	return 0, errWriteFailed
}

// TestSerializeWriteError ensures writer errors are returned unchanged.
func TestSerializeWriteError(t *testing.T) {
	am, _ := newTestAddrManager(t, nil)
	if err := am.Serialize(failingWriter{}); !errors.Is(err, errWriteFailed) {
		t.Fatalf("unexpected error %v", err)
	}
}

// TestFormatString ensures the formats have the expected names.
func TestFormatString(t *testing.T) {
	tests := []struct {
		in   Format
		want string
	}{
		{FormatHistorical, "historical"},
		{FormatDeterministic, "deterministic"},
		{FormatAsmap, "asmap"},
		{FormatBIP155, "bip155"},
		{Format(9), "unknown(9)"},
	}
	for _, test := range tests {
		if got := test.in.String(); got != test.want {
			t.Errorf("got %q, want %q", got, test.want)
		}
	}
}

// TestSerializeGoodAddress ensures an address marked good survives a round
// trip into a fresh address manager and is the one selected afterwards.
func TestSerializeGoodAddress(t *testing.T) {
	am, _ := newTestAddrManager(t, nil)
	src := newTestNetAddr(t, "252.2.2.2:8333")
	na := newTestNetAddr(t, "250.1.1.1:8333")

	am.Add([]*NetAddress{na}, src, 0)
	var once bytes.Buffer
	if err := am.Serialize(&once); err != nil {
		t.Fatal(err)
	}

	// Adding the identical address again leaves the state unchanged.
	am.Add([]*NetAddress{na}, src, 0)
	var twice bytes.Buffer
	if err := am.Serialize(&twice); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(once.Bytes(), twice.Bytes()) {
		t.Fatal("adding a known address changed the state")
	}

	am.Good(na, false, testTime)
	var buf bytes.Buffer
	if err := am.Serialize(&buf); err != nil {
		t.Fatal(err)
	}

	loaded, _ := newTestAddrManager(t, nil)
	if err := loaded.Unserialize(&buf); err != nil {
		t.Fatalf("failed to unserialize: %v", err)
	}
	if loaded.Size() != 1 {
		t.Fatalf("unexpected size %d", loaded.Size())
	}
	ai := loaded.Select(false)
	if ai == nil || ai.NetAddress.Key() != na.Key() || !ai.InTried() {
		t.Fatalf("selected %v, want tried %s", ai, na)
	}
}

// TestUnserializeOutOfRangeIndex ensures new bucket entries referencing
// records that do not exist are skipped and reported.
func TestUnserializeOutOfRangeIndex(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.NewBackend(&logBuf).Logger("AMGR")
	logger.SetLevel(slog.LevelWarn)
	UseLogger(logger)
	defer UseLogger(slog.Disabled)

	state := testStateHeader(1, 0, 0)
	state = binary.LittleEndian.AppendUint32(state, 2)
	state = binary.LittleEndian.AppendUint32(state, 7)
	state = binary.LittleEndian.AppendUint32(state, 0xffffffff)
	state = append(state, make([]byte, (NewBucketCount-1)*4+32)...)

	am, _ := newTestAddrManager(t, nil)
	if err := am.Unserialize(bytes.NewReader(state)); err != nil {
		t.Fatalf("failed to unserialize: %v", err)
	}
	if am.Size() != 0 {
		t.Fatalf("unexpected size %d", am.Size())
	}
	want := "Skipping 2 new bucket entries with out of range indices"
	if !strings.Contains(logBuf.String(), want) {
		t.Fatalf("log output %q does not contain %q", logBuf.String(), want)
	}
}

// Copyright (c) 2025 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/decred/dcrd/wire"
	"github.com/hozan23/bitcoin-abc/addrmgr"
	"github.com/hozan23/bitcoin-abc/asmap"
	"github.com/hozan23/bitcoin-abc/asmap/asmaptest"
	"github.com/stretchr/testify/require"
)

// useTestConfig points the global configuration at a temporary data
// directory with the given backend and captures the command output.
func useTestConfig(t *testing.T, backend string) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	prevCfg, prevOut := cfg, out
	t.Cleanup(func() { cfg, out = prevCfg, prevOut })
	cfg = defaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Backend = backend
	cfg.NoFileLog = true
	cfg.CheckRatio = 1
	out = &buf
	return &buf
}

// TestCommands runs every command against both storage backends.
func TestCommands(t *testing.T) {
	for _, backend := range []string{backendFile, backendLevelDB} {
		t.Run(backend, func(t *testing.T) {
			buf := useTestConfig(t, backend)

			// An empty database.
			require.NoError(t, (&infoCmd{}).Execute(nil))
			require.Contains(t, buf.String(), "addresses: 0\n")
			require.Contains(t, buf.String(), "format:    none\n")
			require.Error(t, (&selectCmd{Count: 1}).Execute(nil))

			buf.Reset()
			add := &addCmd{Source: "252.1.1.1:8333",
				Services: uint64(wire.SFNodeNetwork)}
			err := add.Execute([]string{"250.1.1.1:8333", "250.2.1.1:8333"})
			require.NoError(t, err)
			require.Equal(t, "added 2 of 2 addresses\n", buf.String())

			buf.Reset()
			require.NoError(t, (&goodCmd{}).Execute([]string{"250.1.1.1:8333"}))
			require.Equal(t, "1 tried addresses\n", buf.String())

			buf.Reset()
			require.NoError(t, (&infoCmd{}).Execute(nil))
			require.Contains(t, buf.String(), "addresses: 2\n")
			require.Contains(t, buf.String(), "new:       1\n")
			require.Contains(t, buf.String(), "tried:     1\n")
			require.Contains(t, buf.String(), "format:    bip155\n")
			require.Contains(t, buf.String(), "asmap:     none\n")

			buf.Reset()
			require.NoError(t, (&checkCmd{}).Execute(nil))
			require.Equal(t, "2 addresses are consistent\n", buf.String())

			buf.Reset()
			require.NoError(t, (&dumpCmd{}).Execute(nil))
			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			require.Len(t, lines, 3)
			require.Contains(t, buf.String(), "250.1.1.1:8333")
			require.Contains(t, buf.String(), "  252.1.1.1  ")
			require.NotContains(t, buf.String(), "252.1.1.1:")

			buf.Reset()
			require.NoError(t, (&dumpCmd{TriedOnly: true}).Execute(nil))
			require.NotContains(t, buf.String(), "250.2.1.1:8333")

			buf.Reset()
			require.NoError(t, (&selectCmd{Count: 5}).Execute(nil))
			require.Len(t, strings.Split(strings.TrimSpace(buf.String()),
				"\n"), 5)

			buf.Reset()
			require.NoError(t, (&selectCmd{Count: 3, NewOnly: true}).Execute(nil))
			require.Equal(t, strings.Repeat("250.2.1.1:8333 new\n", 3),
				buf.String())

			buf.Reset()
			getAddr := &getAddrCmd{Pct: 100, Network: "ipv4"}
			require.NoError(t, getAddr.Execute(nil))
			require.Len(t, strings.Fields(buf.String()), 2)

			buf.Reset()
			getAddr = &getAddrCmd{Network: "onion"}
			require.NoError(t, getAddr.Execute(nil))
			require.Empty(t, buf.String())

			require.Error(t, (&getAddrCmd{Network: "bogus"}).Execute(nil))
		})
	}
}

// TestCommandErrors ensures invalid arguments are rejected before the
// database is modified.
func TestCommandErrors(t *testing.T) {
	useTestConfig(t, backendFile)

	add := &addCmd{Source: "bogus"}
	require.Error(t, add.Execute([]string{"250.1.1.1:8333"}))
	add.Source = "252.1.1.1:8333"
	require.Error(t, add.Execute(nil))
	require.Error(t, add.Execute([]string{"250.1.1.1"}))
	require.Error(t, (&goodCmd{}).Execute(nil))

	_, err := os.Stat(filepath.Join(cfg.DataDir, "peers.dat"))
	require.ErrorIs(t, err, os.ErrNotExist)

	cfg.Backend = "bogus"
	require.Error(t, (&infoCmd{}).Execute(nil))
}

// TestAsmapInfo ensures the asmap in use is reported by its checksum.
func TestAsmapInfo(t *testing.T) {
	buf := useTestConfig(t, backendFile)

	program := asmaptest.Pad(asmaptest.Program(asmaptest.Return(64512)))
	path := filepath.Join(t.TempDir(), "ip_asn.map")
	require.NoError(t, os.WriteFile(path, asmap.Encode(program), 0600))
	cfg.AsmapFile = path

	require.NoError(t, (&infoCmd{}).Execute(nil))
	want := "asmap:     " + asmap.Checksum(program).String() + "\n"
	require.Contains(t, buf.String(), want)

	cfg.AsmapFile = filepath.Join(t.TempDir(), "missing.map")
	require.Error(t, (&infoCmd{}).Execute(nil))
}

// TestParseAndSetDebugLevels ensures debug level strings are
// validated.
func TestParseAndSetDebugLevels(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		wantErr bool
	}{
		{"all subsystems", "debug", false},
		{"per subsystem", "AMGR=trace,PRDB=warn", false},
		{"invalid level", "verbose", true},
		{"invalid pair", "AMGR=debug,info", true},
		{"unknown subsystem", "XXXX=debug", true},
		{"invalid subsystem level", "AMGR=verbose", true},
	}
	defer setLogLevels(defaultLogLevel)
	for _, test := range tests {
		err := parseAndSetDebugLevels(test.level)
		if (err != nil) != test.wantErr {
			t.Errorf("%s: unexpected error: %v", test.name, err)
		}
	}
}

// TestCleanAndExpandPath ensures environment variables are expanded.
func TestCleanAndExpandPath(t *testing.T) {
	t.Setenv("ADDRMANCTL_TEST_DIR", "/tmp/addrmanctl")
	got := cleanAndExpandPath("$ADDRMANCTL_TEST_DIR/sub/../data")
	require.Equal(t, filepath.Clean("/tmp/addrmanctl/data"), got)
	require.Empty(t, cleanAndExpandPath(""))
}

// TestNetworks ensures every network filter name maps to the class it is
// named after.
func TestNetworks(t *testing.T) {
	for name, network := range networks {
		require.Equal(t, name, network.String())
	}
	require.Equal(t, addrmgr.AnyNetwork, networks["any"])
}

// Copyright (c) 2025 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package asmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hozan23/bitcoin-abc/asmap/asmaptest"
	"github.com/stretchr/testify/require"
)

// TestLoad ensures asmap files are read from disk and validated.
func TestLoad(t *testing.T) {
	dir := t.TempDir()

	program := asmaptest.PrefixProgram(mustCIDR("10.0.0.0/8"), 10, 20)
	good := filepath.Join(dir, "ip_asn.map")
	require.NoError(t, os.WriteFile(good, Encode(program), 0o644))

	bits, err := Load(good)
	require.NoError(t, err)
	require.Equal(t, asmaptest.Pad(program), bits)

	bad := filepath.Join(dir, "bad.map")
	require.NoError(t, os.WriteFile(bad, []byte{0xff}, 0o644))
	_, err = Load(bad)
	require.ErrorIs(t, err, ErrInvalidAsmap)

	_, err = Load(filepath.Join(dir, "missing.map"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

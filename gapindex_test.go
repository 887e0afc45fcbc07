// Copyright 2024 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package digitalrf

import (
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/require"
)

func TestIndexPairsValidate(t *testing.T) {
	for _, c := range []struct {
		name    string
		pairs   indexPairs
		wantErr bool
	}{
		{"ok single", indexPairs{[]uint64{10}, []uint64{0}}, false},
		{"ok multi", indexPairs{[]uint64{10, 30, 50}, []uint64{0, 10, 20}}, false},
		{"bad first inbuf", indexPairs{[]uint64{10}, []uint64{1}}, true},
		{"non increasing global", indexPairs{[]uint64{10, 10}, []uint64{0, 5}}, true},
		{"non increasing inbuf", indexPairs{[]uint64{10, 20}, []uint64{0, 0}}, true},
		{"inbuf outpaces global", indexPairs{[]uint64{10, 15}, []uint64{0, 10}}, true},
		{"empty", indexPairs{nil, nil}, true},
	} {
		err := c.pairs.validate()
		if c.wantErr {
			require.Error(t, err, c.name)
		} else {
			require.NoError(t, err, c.name)
		}
	}
}

func TestBuildIndexRowsBoundarySynthesis(t *testing.T) {
	// A freshly opened file with no pair landing at its first row must get
	// a synthesized boundary row at (next_expected_global, 0).
	pairs := indexPairs{global: []uint64{100}, inBuf: []uint64{0}}
	sc := sliceContext{
		first: 40, end: 80,
		inFileCursor:       0,
		nextExpectedGlobal: 140,
		epochSample:        1000,
		fileJustOpened:     true,
	}
	rows := buildIndexRows(pairs, sc)
	require.Len(t, rows, 1)
	require.Equal(t, GapIndexRow{GlobalSample: 140 + 1000, InFileRow: 0}, rows[0])
}

func TestBuildIndexRowsSuppressesRedundantBoundary(t *testing.T) {
	// A pair exactly at the file boundary that matches next_expected_global
	// on a file that's already mid-flight must be suppressed.
	pairs := indexPairs{global: []uint64{200}, inBuf: []uint64{0}}
	sc := sliceContext{
		first: 0, end: 40,
		inFileCursor:       10, // mid-flight: not a fresh file
		nextExpectedGlobal: 200,
		epochSample:        0,
		fileJustOpened:     false,
	}
	rows := buildIndexRows(pairs, sc)
	require.Len(t, rows, 0)
}

func TestBuildIndexRowsEmitsGaps(t *testing.T) {
	pairs := indexPairs{
		global: []uint64{0, 20, 40},
		inBuf:  []uint64{0, 10, 20},
	}
	sc := sliceContext{
		first: 0, end: 30,
		inFileCursor:       0,
		nextExpectedGlobal: 0,
		epochSample:        5,
		fileJustOpened:     true,
	}
	rows := buildIndexRows(pairs, sc)
	require.Equal(t, []GapIndexRow{
		{GlobalSample: 5, InFileRow: 0},
		{GlobalSample: 25, InFileRow: 10},
		{GlobalSample: 45, InFileRow: 20},
	}, rows)
}

// TestNextExpectedGlobalMatchesFilteredRows checks that whenever the
// preceding slice was provably continuous (no gap rows beyond the
// boundary row), the filtered-row derivation of next_expected_global
// agrees with the unconditional next_expected_global += to_write
// shortcut.
func TestNextExpectedGlobalMatchesFilteredRows(t *testing.T) {
	fz := fuzz.New().NilChance(0)
	for i := 0; i < 500; i++ {
		var toWrite uint64
		fz.Fuzz(&toWrite)
		toWrite = toWrite%1000 + 1
		var base uint64
		fz.Fuzz(&base)
		base = base % 1_000_000

		// Continuous slice: a single pair at the file's start whose global
		// equals next_expected_global exactly — the shortcut's precondition.
		pairs := indexPairs{global: []uint64{base}, inBuf: []uint64{0}}
		sc := sliceContext{
			first: 0, end: toWrite,
			inFileCursor:       0,
			nextExpectedGlobal: base,
			epochSample:        0,
			fileJustOpened:     true,
		}
		rows := buildIndexRows(pairs, sc)
		got := nextExpectedGlobalAfter(sc, rows, toWrite)
		want := base + toWrite
		require.Equal(t, want, got, "iteration %d: base=%d toWrite=%d", i, base, toWrite)
	}
}

func TestGlobalForBufPos(t *testing.T) {
	pairs := indexPairs{
		global: []uint64{100, 120, 150},
		inBuf:  []uint64{0, 10, 25},
	}
	require.Equal(t, uint64(100), globalForBufPos(pairs, 0))
	require.Equal(t, uint64(105), globalForBufPos(pairs, 5))
	require.Equal(t, uint64(120), globalForBufPos(pairs, 10))
	require.Equal(t, uint64(153), globalForBufPos(pairs, 28))
}

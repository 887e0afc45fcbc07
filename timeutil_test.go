// Copyright 2024 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package digitalrf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSplitTimeIntegralRate(t *testing.T) {
	// sample_rate = 100 Hz, global = 1394368230*100 + 1 -> one sample past
	// the whole second, i.e. 10ms in.
	const rate = 100.0
	global := uint64(1394368230*100 + 1)
	tm, ps := SplitTime(global, rate)
	require.Equal(t, int64(1394368230), tm.Unix())
	// 1/100 s = 10ms = 10e9 picoseconds.
	require.InDelta(t, 1e10, float64(ps), 1)
}

func TestSplitTimeNonIntegralRate(t *testing.T) {
	tm, ps := SplitTime(1000, 3.0)
	require.True(t, ps >= 0)
	require.False(t, tm.IsZero())
}

func TestIsIntegral(t *testing.T) {
	require.True(t, isIntegral(100.0))
	require.True(t, isIntegral(1.0))
	require.False(t, isIntegral(100.5))
	require.False(t, isIntegral(0.1))
}

func TestSubdirNameSortsChronologically(t *testing.T) {
	t1 := time.Date(2014, 3, 9, 12, 30, 30, 0, time.UTC)
	t2 := time.Date(2014, 3, 9, 12, 30, 31, 0, time.UTC)
	n1, n2 := subdirName(t1), subdirName(t2)
	require.Less(t, n1, n2)
	require.Equal(t, "2014-03-09T12:30:30", n1)
}

func TestFileBasenameFixedWidth(t *testing.T) {
	tm := time.Unix(1394368230, 0).UTC()
	name := fileBasename(tm, 123_000_000_000) // 123ms in picoseconds
	require.Equal(t, "rf@01394368230.123.h5", name)
}

func TestFileBasenameSortsChronologically(t *testing.T) {
	tm1 := time.Unix(1394368230, 0).UTC()
	tm2 := time.Unix(1394368231, 0).UTC()
	n1 := fileBasename(tm1, 0)
	n2 := fileBasename(tm2, 0)
	require.Less(t, n1, n2)
}

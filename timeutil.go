// Copyright 2024 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package digitalrf

import "time"

// SplitTime converts a global sample index on a channel clocked at
// sampleRate Hz, with the given epochSample origin offset already added,
// into its UTC calendar components plus a sub-second remainder expressed
// in picoseconds. It is exported for reuse by readers, which must perform
// the identical conversion to reconstruct subdirectory and file names.
//
// When sampleRate is an exact integer, the fractional remainder is
// computed using integer arithmetic on the global sample index rather
// than floating point division, avoiding rounding error that would
// otherwise make file timestamps drift relative to the true sample
// clock over a long-running channel.
func SplitTime(globalWithEpoch uint64, sampleRate float64) (t time.Time, picoseconds int64) {
	if isIntegral(sampleRate) {
		rate := uint64(sampleRate)
		unixSeconds := globalWithEpoch / rate
		remainder := globalWithEpoch - unixSeconds*rate
		t = time.Unix(int64(unixSeconds), 0).UTC()
		picoseconds = int64(float64(remainder) / sampleRate * 1e12)
		return t, picoseconds
	}
	seconds := float64(globalWithEpoch) / sampleRate
	unixSeconds := int64(seconds)
	frac := seconds - float64(unixSeconds)
	t = time.Unix(unixSeconds, 0).UTC()
	picoseconds = int64(frac * 1e12)
	return t, picoseconds
}

// isIntegral reports whether f represents an exact integer.
func isIntegral(f float64) bool {
	return f == float64(int64(f))
}

// subdirName formats t as the channel's subdirectory name, using only
// the integer calendar fields so that lexicographic order equals
// chronological order.
func subdirName(t time.Time) string {
	return t.Format("2006-01-02T15:04:05")
}

// fileBasename formats t (with its millisecond component) as the
// per-file name, fixed-width so that lexicographic order equals
// chronological order within a subdirectory.
func fileBasename(t time.Time, picoseconds int64) string {
	millis := picoseconds / 1e9
	return "rf@" + fixedWidthDecimal(t.Unix(), millis) + ".h5"
}

// fixedWidthDecimal formats unixSeconds.millis as an 11.3 fixed-width
// decimal string, e.g. "01394368230.123", so that two filenames compare
// equal under either string or chronological ordering.
func fixedWidthDecimal(unixSeconds, millis int64) string {
	buf := make([]byte, 0, 16)
	buf = appendZeroPadded(buf, unixSeconds, 11)
	buf = append(buf, '.')
	buf = appendZeroPadded(buf, millis, 3)
	return string(buf)
}

func appendZeroPadded(buf []byte, v int64, width int) []byte {
	digits := make([]byte, 0, width)
	if v == 0 {
		digits = append(digits, '0')
	}
	for v > 0 {
		digits = append(digits, byte('0'+v%10))
		v /= 10
	}
	for len(digits) < width {
		digits = append(digits, '0')
	}
	// digits is currently reversed and zero-padded on the wrong end; reverse it.
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return append(buf, digits...)
}

// Copyright 2024 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package sidecar

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/digitalrf/digitalrf"
	"github.com/digitalrf/digitalrf/recordio"
)

func decodeRecord(b []byte) Record {
	var rec Record
	rec.Filename, b = takeString(b)
	rec.SequenceNum, b = takeInt64(b)
	rec.NumSubchannels, b = takeInt64(b)
	rec.IsComplex, b = takeInt64(b)
	rec.SamplesPerFile, b = takeUint64(b)
	var bits uint64
	bits, b = takeUint64(b)
	rec.SampleRate = math.Float64frombits(bits)
	rec.InitUTCTimestamp, b = takeUint64(b)
	rec.ComputerTime, b = takeUint64(b)
	rec.UUIDStr, b = takeString(b)
	rec.SampleOrder = digitalrf.ByteOrder(b[0])
	rec.SampleKind = digitalrf.Kind(b[1])
	b = b[2:]
	w, _ := takeInt64(b)
	rec.SampleWidth = int(w)
	return rec
}

func takeUint64(b []byte) (uint64, []byte) {
	return binary.LittleEndian.Uint64(b[:8]), b[8:]
}

func takeInt64(b []byte) (int64, []byte) {
	v, rest := takeUint64(b)
	return int64(v), rest
}

func takeString(b []byte) (string, []byte) {
	n, rest := takeUint64(b)
	return string(rest[:n]), rest[n:]
}

func readRecords(t *testing.T, path string) []Record {
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := recordio.NewScanner(f, recordio.ScannerOpts{})
	var recs []Record
	for scanner.Scan() {
		recs = append(recs, decodeRecord(scanner.Get().([]byte)))
	}
	require.NoError(t, scanner.Finish())
	return recs
}

func sampleMetadata(seq int64) digitalrf.FileMetadata {
	return digitalrf.FileMetadata{
		SequenceNum:      seq,
		NumSubchannels:   2,
		IsComplex:        1,
		SamplesPerFile:   1000,
		SampleRate:       1e6,
		InitUTCTimestamp: 1394368230,
		ComputerTime:     1394368300,
		UUIDStr:          "11111111-2222-3333-4444-555555555555",
	}
}

func TestWriteFileMetadataAppendsWithinSubdir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "2014-03-09T12:30:30"), 0o755))

	w := New(root)
	st := digitalrf.SampleType{Order: digitalrf.LittleEndian, Kind: digitalrf.KindSignedInt, Width: 2, IsComplex: true}
	require.NoError(t, w.WriteFileMetadata("2014-03-09T12:30:30", "rf@1394368230.000.h5", 0, sampleMetadata(0), st))
	require.NoError(t, w.WriteFileMetadata("2014-03-09T12:30:30", "rf@1394368231.000.h5", 1, sampleMetadata(1), st))
	require.NoError(t, w.Close())

	recs := readRecords(t, filepath.Join(root, "2014-03-09T12:30:30", FileName))
	require.Len(t, recs, 2)
	require.Equal(t, "rf@1394368230.000.h5", recs[0].Filename)
	require.Equal(t, "rf@1394368231.000.h5", recs[1].Filename)
	require.Equal(t, int64(1), recs[1].SequenceNum)
	require.Equal(t, uint64(1000), recs[0].SamplesPerFile)
	require.EqualValues(t, digitalrf.KindSignedInt, recs[0].SampleKind)
}

func TestWriteFileMetadataRotatesOnSubdirChange(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "a"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(root, "b"), 0o755))

	w := New(root)
	st := digitalrf.SampleType{Order: digitalrf.LittleEndian, Kind: digitalrf.KindFloat32, Width: 4}
	require.NoError(t, w.WriteFileMetadata("a", "rf@1.000.h5", 0, sampleMetadata(0), st))
	require.NoError(t, w.WriteFileMetadata("b", "rf@2.000.h5", 1, sampleMetadata(1), st))
	require.NoError(t, w.Close())

	recsA := readRecords(t, filepath.Join(root, "a", FileName))
	recsB := readRecords(t, filepath.Join(root, "b", FileName))
	require.Len(t, recsA, 1)
	require.Len(t, recsB, 1)
	require.Equal(t, "rf@1.000.h5", recsA[0].Filename)
	require.Equal(t, "rf@2.000.h5", recsB[0].Filename)
}

func TestNilWriterIsNoOp(t *testing.T) {
	var w *Writer
	require.NoError(t, w.WriteFileMetadata("a", "f.h5", 0, digitalrf.FileMetadata{}, digitalrf.SampleType{}))
	require.NoError(t, w.Close())
}

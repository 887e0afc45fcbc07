// Copyright 2024 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package sidecar writes a per-subdirectory companion file recording the
// scalar metadata attached to every rf_data dataset, so that an indexer can
// discover a channel's file layout and type without opening any .h5 file.
// One sidecar file, metadata.rio, lives alongside the .h5 files in each
// subdirectory; it accumulates one record per file created in that
// subdirectory and is sealed when the channel rotates into the next one.
package sidecar

import (
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/digitalrf/digitalrf"
	"github.com/digitalrf/digitalrf/errors"
	"github.com/digitalrf/digitalrf/recordio"
	"github.com/digitalrf/digitalrf/recordio/recordioflate"
	"github.com/digitalrf/digitalrf/recordio/recordiozstd"
)

func init() {
	recordioflate.Init()
}

// FileName is the basename of the sidecar file within each subdirectory.
const FileName = "metadata.rio"

// Record is the payload appended to the sidecar once per file created.
type Record struct {
	Filename         string
	SequenceNum      int64
	NumSubchannels   int64
	IsComplex        int64
	SamplesPerFile   uint64
	SampleRate       float64
	InitUTCTimestamp uint64
	ComputerTime     uint64
	UUIDStr          string
	SampleOrder      digitalrf.ByteOrder
	SampleKind       digitalrf.Kind
	SampleWidth      int
}

// Writer implements digitalrf.SidecarWriter by appending one Record per
// file to a metadata.rio file in the file's subdirectory, rotating to a
// fresh sidecar file whenever the subdirectory changes. A nil *Writer is
// always legal and every method a no-op, consistent with sidecar output
// being a best-effort observer that never gates a channel's writes.
type Writer struct {
	channelRoot string
	transformer string

	group       *errgroup.Group
	current     recordio.Writer
	currentFile *os.File
	currentDir  string
}

// Option configures a Writer.
type Option func(*Writer)

// WithZstd selects zstd instead of the default flate transformer for
// sidecar records. Prefer this for channels with very wide per-file
// metadata (many subchannels, long UUID strings) where zstd's higher ratio
// is worth its extra CPU cost; the default flate is cheaper and sufficient
// for the common case of a handful of scalar attributes per record.
func WithZstd() Option {
	return func(w *Writer) {
		recordiozstd.Init()
		w.transformer = "zstd"
	}
}

// New creates a Writer rooted at channelRoot. Sidecar files are created
// lazily, one per subdirectory, as WriteFileMetadata observes new
// subdirectories.
func New(channelRoot string, opts ...Option) *Writer {
	w := &Writer{channelRoot: channelRoot, transformer: "flate", group: &errgroup.Group{}}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WriteFileMetadata implements digitalrf.SidecarWriter. It appends a
// Record describing the file just opened to the sidecar file of subdir,
// sealing and flushing any prior subdirectory's sidecar in the background.
func (w *Writer) WriteFileMetadata(subdir, filename string, seq int64, m digitalrf.FileMetadata, st digitalrf.SampleType) error {
	if w == nil {
		return nil
	}
	if subdir != w.currentDir {
		if err := w.rotate(subdir); err != nil {
			return err
		}
	}
	rec := Record{
		Filename:         filename,
		SequenceNum:      m.SequenceNum,
		NumSubchannels:   m.NumSubchannels,
		IsComplex:        m.IsComplex,
		SamplesPerFile:   m.SamplesPerFile,
		SampleRate:       m.SampleRate,
		InitUTCTimestamp: m.InitUTCTimestamp,
		ComputerTime:     m.ComputerTime,
		UUIDStr:          m.UUIDStr,
		SampleOrder:      st.Order,
		SampleKind:       st.Kind,
		SampleWidth:      st.Width,
	}
	w.current.Append(&rec)
	return w.current.Err()
}

// rotate seals the sidecar for the previously-current subdirectory (if
// any), asynchronously, and opens a new one for subdir.
func (w *Writer) rotate(subdir string) error {
	w.sealCurrent()
	path := filepath.Join(w.channelRoot, subdir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.E(errors.IoFailure, "opening sidecar file", err)
	}
	rw := recordio.NewWriter(f, recordio.WriterOpts{
		Marshal:      marshalRecord,
		Transformers: []string{w.transformer},
	})
	w.current = rw
	w.currentFile = f
	w.currentDir = subdir
	return nil
}

// sealCurrent schedules the current subdirectory's writer to finish and
// its file to close in the background, bounded by w.group, and clears
// both fields so a subsequent rotate or Close never touches them again.
func (w *Writer) sealCurrent() {
	if w.current == nil {
		return
	}
	finishing, f := w.current, w.currentFile
	w.group.Go(func() error {
		err := finishing.Finish()
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		return err
	})
	w.current = nil
	w.currentFile = nil
}

// Close seals the current subdirectory's sidecar and waits for every
// background seal started by rotate and Close to complete.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.sealCurrent()
	if err := w.group.Wait(); err != nil {
		return errors.E(errors.IoFailure, "closing sidecar writer", err)
	}
	return nil
}

func marshalRecord(scratch []byte, v interface{}) ([]byte, error) {
	rec, ok := v.(*Record)
	if !ok {
		return nil, errors.E(errors.Other, "sidecar: unexpected item type")
	}
	buf := scratch[:0]
	buf = appendString(buf, rec.Filename)
	buf = appendInt64(buf, rec.SequenceNum)
	buf = appendInt64(buf, rec.NumSubchannels)
	buf = appendInt64(buf, rec.IsComplex)
	buf = appendUint64(buf, rec.SamplesPerFile)
	buf = appendFloat64(buf, rec.SampleRate)
	buf = appendUint64(buf, rec.InitUTCTimestamp)
	buf = appendUint64(buf, rec.ComputerTime)
	buf = appendString(buf, rec.UUIDStr)
	buf = append(buf, byte(rec.SampleOrder), byte(rec.SampleKind))
	buf = appendInt64(buf, int64(rec.SampleWidth))
	return buf, nil
}

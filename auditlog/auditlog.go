// Copyright 2024 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package auditlog provides a crash-forensics journal for a Digital RF
// channel. The writer core never reads it back; it exists so that an
// operator inspecting a channel after an unattended crash can correlate
// the last writer-visible event with the bytes left on disk, without
// having to open any HDF5 file.
//
// Each entry is framed with logio, giving the log the same
// corruption-resync properties as the rest of this module's log-structured
// storage: a torn write at the tail damages at most the last entry.
package auditlog

import (
	"crypto"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/digitalrf/digitalrf/digest"
	"github.com/digitalrf/digitalrf/errors"
	"github.com/digitalrf/digitalrf/logio"
)

// Kind identifies the event an entry records.
type Kind uint8

const (
	// FileOpened records that the writer created a new output file.
	FileOpened Kind = iota
	// FileSealed records that the writer closed a full (or final) file.
	FileSealed
	// SubdirCreated records that the writer created a new subdirectory.
	SubdirCreated
	// WriteFailed records that an append failed, with a digest of the
	// partially-written file at the time of failure.
	WriteFailed
)

// FileName is the default basename of the audit log within a channel's
// channel_root.
const FileName = ".digitalrf-audit.log"

var sha256 = digest.Digester(crypto.SHA256)

// Writer appends audit entries to a channel's audit log. A nil *Writer is
// always legal: every method is a no-op, so attaching an audit log is
// strictly additive and never gates writer progress (the ambient-stack
// invariant that best-effort observers never fail a write).
type Writer struct {
	f   *os.File
	log *logio.Writer
}

// Open opens (creating if necessary) the audit log for the channel rooted
// at channelRoot, positioned for append.
func Open(channelRoot string) (*Writer, error) {
	path := filepath.Join(channelRoot, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.E(errors.IoFailure, "opening audit log", err)
	}
	off, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, errors.E(errors.IoFailure, "seeking audit log", err)
	}
	return &Writer{f: f, log: logio.NewWriter(f, off)}, nil
}

// Close closes the underlying audit log file.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	return w.f.Close()
}

// FileOpened records that a new output file was created.
func (w *Writer) FileOpened(subdir, filename string, sequence int64) {
	w.append(FileOpened, subdir, filename, sequence, digest.Digest{})
}

// FileSealed records that an output file was closed.
func (w *Writer) FileSealed(subdir, filename string, sequence int64) {
	w.append(FileSealed, subdir, filename, sequence, digest.Digest{})
}

// SubdirCreated records that a new subdirectory was created.
func (w *Writer) SubdirCreated(subdir string) {
	w.append(SubdirCreated, subdir, "", -1, digest.Digest{})
}

// WriteError records a write failure, along with a content digest of the
// partially-written file (if it could be computed) for later forensic
// comparison against any backup or replay source.
func (w *Writer) WriteError(err error, subdir, filename string) {
	if w == nil {
		return
	}
	var d digest.Digest
	if filename != "" {
		if path := w.filePath(subdir, filename); path != "" {
			d, _ = digestFile(path)
		}
	}
	w.append(WriteFailed, subdir, filename, -1, d)
}

func (w *Writer) filePath(subdir, filename string) string {
	if w.f == nil {
		return ""
	}
	return filepath.Join(filepath.Dir(w.f.Name()), subdir, filename)
}

func digestFile(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return digest.Digest{}, err
	}
	defer f.Close()
	dw := sha256.NewWriter()
	buf := make([]byte, 64*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if _, werr := dw.Write(buf[:n]); werr != nil {
				return digest.Digest{}, werr
			}
		}
		if err != nil {
			break
		}
	}
	return dw.Digest(), nil
}

func (w *Writer) append(kind Kind, subdir, filename string, sequence int64, d digest.Digest) {
	if w == nil || w.log == nil {
		return
	}
	entry := encodeEntry(kind, time.Now().Unix(), sequence, subdir, filename, d)
	w.log.Append(entry) // best-effort: audit log errors never propagate to the Channel
}

func encodeEntry(kind Kind, wallTime, sequence int64, subdir, filename string, d digest.Digest) []byte {
	var buf []byte
	buf = append(buf, byte(kind))
	buf = appendUint64(buf, uint64(wallTime))
	buf = appendUint64(buf, uint64(sequence))
	buf = appendString(buf, subdir)
	buf = appendString(buf, filename)
	var db []byte
	if !d.IsZero() {
		db = d.Bytes()
	}
	buf = appendString(buf, string(db))
	return buf
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendString(buf []byte, s string) []byte {
	buf = appendUint64(buf, uint64(len(s)))
	return append(buf, s...)
}

// Copyright 2024 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package digitalrf implements a Digital RF streaming writer: a stateful,
// single-threaded component that ingests unbounded, possibly gappy blocks
// of RF samples labelled by a global sample clock and lays them down as a
// filesystem tree of fixed-capacity HDF5 files, preserving exact
// sample-to-wall-clock alignment, per-file gap indices, and round-trippable
// metadata.
package digitalrf

import (
	"os"
	"time"

	"github.com/digitalrf/digitalrf/errors"
	"github.com/digitalrf/digitalrf/log"
)

// AuditLog receives best-effort notifications of Channel lifecycle events
// for crash forensics. A nil AuditLog is always legal; every Channel
// method call against it is skipped. Implemented by
// github.com/digitalrf/digitalrf/auditlog.Writer.
type AuditLog interface {
	FileOpened(subdir, filename string, sequence int64)
	FileSealed(subdir, filename string, sequence int64)
	SubdirCreated(subdir string)
	WriteError(err error, subdir, filename string)
}

// Checkpointer receives best-effort cursor snapshots after every
// successful append. Implemented by
// github.com/digitalrf/digitalrf/checkpoint.Writer.
type Checkpointer interface {
	Checkpoint(nextExpectedGlobal uint64, sequence int64, currentSubdir string) error
}

// SidecarWriter receives one call per file opened, carrying the same
// scalar attributes the Metadata Emitter writes into the file's HDF5
// attributes. Implemented by github.com/digitalrf/digitalrf/sidecar.Writer.
type SidecarWriter interface {
	WriteFileMetadata(subdir, filename string, seq int64, m FileMetadata, st SampleType) error
}

// Channel is the public writer handle: created once per channel, fed by
// successive Append* calls, and Closed once. It is not safe for concurrent
// use: a Channel is owned by exactly one writing agent.
type Channel struct {
	channelRoot      string
	rt               *resolvedType
	subchannels      int
	samplesPerFile   uint64
	filesPerSubdir   int
	epochSample      uint64
	sampleRate       float64
	uuidText         string
	compressionLevel int
	checksum         bool
	marchingDots     bool

	initUTCTimestamp uint64

	nextExpectedGlobal uint64
	sequence           int64
	currentSubdir      string
	current            *fileSession

	chunkRowsFrozen bool
	chunkRows       int

	// unusable is set once any append fails; the only legal subsequent
	// operation is Close.
	unusable bool

	AuditLog   AuditLog
	Checkpoint Checkpointer
	Sidecar    SidecarWriter
}

// Create validates the given configuration, resolves sample_type to an
// on-disk HDF5 datatype, and returns a freshly initialized Channel with no
// open file and next_expected_global = 0. If Create returns an error, no
// resources have been allocated.
func Create(
	channelRoot string,
	st SampleType,
	samplesPerFile uint64,
	filesPerSubdir int,
	epochSample uint64,
	sampleRate float64,
	uuidText string,
	compressionLevel int,
	checksum bool,
	subchannels int,
	marchingDots bool,
) (*Channel, error) {
	fi, err := os.Stat(channelRoot)
	if err != nil {
		return nil, errors.E(errors.DirectoryUnusable, "channel_root does not exist", err)
	}
	if !fi.IsDir() {
		return nil, errors.E(errors.DirectoryUnusable, "channel_root is not a directory")
	}
	if compressionLevel < 0 || compressionLevel > 9 {
		return nil, errors.E(errors.ConfigInvalid, "compression_level must be in [0,9]")
	}
	if subchannels < 1 {
		return nil, errors.E(errors.ConfigInvalid, "subchannels must be >= 1")
	}
	if samplesPerFile == 0 {
		return nil, errors.E(errors.ConfigInvalid, "samples_per_file must be > 0")
	}
	if filesPerSubdir <= 0 {
		return nil, errors.E(errors.ConfigInvalid, "files_per_subdir must be > 0")
	}
	if epochSample == 0 {
		return nil, errors.E(errors.ConfigInvalid, "epoch_sample must be > 0")
	}
	if sampleRate <= 0 {
		return nil, errors.E(errors.ConfigInvalid, "sample_rate must be > 0")
	}

	rt, err := resolveType(st)
	if err != nil {
		return nil, err
	}

	return &Channel{
		channelRoot:        channelRoot,
		rt:                 rt,
		subchannels:        subchannels,
		samplesPerFile:     samplesPerFile,
		filesPerSubdir:     filesPerSubdir,
		epochSample:        epochSample,
		sampleRate:         sampleRate,
		uuidText:           uuidText,
		compressionLevel:   compressionLevel,
		checksum:           checksum,
		marchingDots:       marchingDots,
		initUTCTimestamp:   uint64(time.Now().Unix()),
		nextExpectedGlobal: 0,
		sequence:           -1,
	}, nil
}

// AppendContinuous writes n_samples of buffer starting at leading_global,
// asserting the entire buffer is one contiguous region. It is equivalent
// to AppendBlocks with a single index pair (leading_global, 0).
func (c *Channel) AppendContinuous(leadingGlobal uint64, buffer []byte, nSamples uint64) error {
	return c.AppendBlocks([]uint64{leadingGlobal}, []uint64{0}, buffer, nSamples)
}

// AppendBlocks writes n_samples of buffer into one or more output files.
// globalIndices[i] is the global sample number of the sample found at
// buffer position inBufIndices[i].
func (c *Channel) AppendBlocks(globalIndices, inBufIndices []uint64, buffer []byte, nSamples uint64) (err error) {
	if c.unusable {
		return errors.E(errors.IoFailure, "channel is unusable after a prior failed append")
	}
	defer func() {
		if err != nil {
			c.unusable = true
			if c.AuditLog != nil {
				c.AuditLog.WriteError(err, c.currentSubdir, c.currentFilename())
			}
		}
	}()

	pairs := indexPairs{global: globalIndices, inBuf: inBufIndices}
	if err := pairs.validate(); err != nil {
		return err
	}
	if pairs.global[0] < c.nextExpectedGlobal {
		return errors.E(errors.WriteBeforeCursor, "leading global sample precedes next_expected_global")
	}

	elemBytes := c.rt.elemSize * c.subchannels
	var samplesWritten uint64
	for samplesWritten < nSamples {
		// A fresh file always starts with the channel's full capacity, so
		// the first slice's length (needed to open the file) is computable
		// before the file exists.
		remainingBeforeOpen := c.samplesPerFile
		if c.current != nil {
			remainingBeforeOpen = c.current.remaining
		}
		toWrite := nSamples - samplesWritten
		if toWrite > remainingBeforeOpen {
			toWrite = remainingBeforeOpen
		}

		if c.current == nil {
			if err := c.openNextFile(pairs, samplesWritten, toWrite); err != nil {
				return err
			}
		}

		sc := sliceContext{
			first:              samplesWritten,
			end:                samplesWritten + toWrite,
			inFileCursor:       c.current.inFileCursor,
			nextExpectedGlobal: c.nextExpectedGlobal,
			epochSample:        c.epochSample,
			fileJustOpened:     c.current.inFileCursor == 0,
		}
		rows := buildIndexRows(pairs, sc)

		start := samplesWritten * uint64(elemBytes)
		end := (samplesWritten + toWrite) * uint64(elemBytes)
		if end > uint64(len(buffer)) {
			return errors.E(errors.IndexMalformed, "buffer shorter than n_samples implies")
		}
		if err := c.current.writeSamples(buffer[start:end], toWrite); err != nil {
			c.current.discard()
			c.current = nil
			return err
		}
		if err := c.current.appendIndexRows(rows); err != nil {
			c.current.discard()
			c.current = nil
			return err
		}

		c.nextExpectedGlobal = nextExpectedGlobalAfter(sc, rows, toWrite)
		c.current.inFileCursor += toWrite
		c.current.remaining -= toWrite
		samplesWritten += toWrite

		c.maybeMarchingDot()

		if c.current.remaining == 0 {
			if err := c.sealCurrentFile(); err != nil {
				return err
			}
		}

		if c.Checkpoint != nil {
			if cerr := c.Checkpoint.Checkpoint(c.nextExpectedGlobal, c.sequence, c.currentSubdir); cerr != nil {
				log.Error.Printf("digitalrf: checkpoint write failed: %v", cerr)
			}
		}
	}
	return nil
}

// Close flushes and closes the current file, if any, and releases all
// handles. Close is idempotent and never fails visibly.
func (c *Channel) Close() error {
	if c.current == nil {
		return nil
	}
	if err := c.current.close(); err != nil {
		log.Error.Printf("digitalrf: error closing final file: %v", err)
	}
	if c.AuditLog != nil {
		c.AuditLog.FileSealed(c.current.subdir, c.current.filename, c.current.sequence)
	}
	c.current = nil
	return nil
}

// openNextFile plans and opens the next output file, running the
// Rotation Planner, Metadata Emitter, and (if attached) the audit log and
// sidecar. firstSliceLen is the number of samples about to be written to
// this file in the current loop iteration; it seeds the channel's frozen
// chunk-rows value on the very first file.
func (c *Channel) openNextFile(pairs indexPairs, samplesWritten, firstSliceLen uint64) error {
	nextGlobal := globalForBufPos(pairs, samplesWritten)
	nextSeq := c.sequence + 1
	plan := planRotation(nextGlobal+c.epochSample, c.sampleRate, nextSeq, c.filesPerSubdir)

	if plan.newSubdir {
		c.currentSubdir = plan.subdir
		if c.AuditLog != nil {
			c.AuditLog.SubdirCreated(plan.subdir)
		}
	}

	firstAppendLen := uint64(c.chunkRows)
	if !c.chunkRowsFrozen {
		firstAppendLen = firstSliceLen
	}

	fs, err := createFileSession(
		c.channelRoot, plan.subdir, plan.filename,
		nextSeq, c.rt, c.samplesPerFile, c.subchannels,
		c.compressionLevel, c.checksum, firstAppendLen,
	)
	if err != nil {
		return err
	}

	if !c.chunkRowsFrozen {
		c.chunkRows = fs.chunkRows
		c.chunkRowsFrozen = true
	}

	m := FileMetadata{
		SequenceNum:      nextSeq,
		NumSubchannels:   int64(c.subchannels),
		IsComplex:        boolToInt(c.rt.sample.IsComplex),
		SamplesPerFile:   c.samplesPerFile,
		SampleRate:       c.sampleRate,
		InitUTCTimestamp: c.initUTCTimestamp,
		ComputerTime:     uint64(time.Now().Unix()),
		UUIDStr:          c.uuidText,
	}
	if err := writeMetadata(fs, m); err != nil {
		fs.discard()
		return err
	}

	if c.Sidecar != nil {
		if serr := c.Sidecar.WriteFileMetadata(plan.subdir, plan.filename, nextSeq, m, c.rt.sample); serr != nil {
			log.Error.Printf("digitalrf: sidecar write failed: %v", serr)
		}
	}

	c.sequence = nextSeq
	c.current = fs
	if c.AuditLog != nil {
		c.AuditLog.FileOpened(plan.subdir, plan.filename, nextSeq)
	}
	return nil
}

// sealCurrentFile closes the current file because its cursor has reached
// samples_per_file.
func (c *Channel) sealCurrentFile() error {
	subdir, filename, seq := c.current.subdir, c.current.filename, c.current.sequence
	if err := c.current.close(); err != nil {
		c.current = nil
		return err
	}
	c.current = nil
	if c.AuditLog != nil {
		c.AuditLog.FileSealed(subdir, filename, seq)
	}
	return nil
}

func (c *Channel) currentFilename() string {
	if c.current == nil {
		return ""
	}
	return c.current.filename
}

// globalForBufPos returns the global sample value for a position in the
// user's buffer, computed from whichever index pair's in_buf entry is at
// or just before bufPos.
func globalForBufPos(pairs indexPairs, bufPos uint64) uint64 {
	i := 0
	for j := range pairs.inBuf {
		if pairs.inBuf[j] <= bufPos {
			i = j
		} else {
			break
		}
	}
	return pairs.global[i] + (bufPos - pairs.inBuf[i])
}

func (c *Channel) maybeMarchingDot() {
	if !c.marchingDots {
		return
	}
	if log.At(log.Info) {
		log.Output(2, log.Info, ".")
	}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

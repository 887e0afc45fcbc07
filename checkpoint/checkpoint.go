// Copyright 2024 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package checkpoint persists a Digital RF channel's write cursor so that
// an operator (or an orchestration layer restarting a producer after a
// crash) can read back the last durably-recorded
// (next_expected_global, sequence, current_subdir) triple without
// re-parsing every .h5 file in the channel tree. It does not let a
// Channel resume writing into a prior file: HDF5's exclusive-create
// semantics enforce "no reopen" regardless of what the checkpoint says.
package checkpoint

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/digitalrf/digitalrf/errors"
	"github.com/digitalrf/digitalrf/stateio"
)

// FileName is the default basename of the checkpoint file within a
// channel's channel_root.
const FileName = ".digitalrf-checkpoint"

// Snapshot is the cursor state checkpointed after every successful
// append.
type Snapshot struct {
	NextExpectedGlobal uint64
	Sequence           int64
	CurrentSubdir      string
}

// Writer checkpoints a channel's cursor to a stateio-backed log file. A
// nil *Writer is always legal: Checkpoint is then a no-op, consistent
// with checkpointing being a best-effort, non-gating observer.
type Writer struct {
	f  *os.File
	sw *stateio.Writer
}

// Open opens (creating if necessary) the checkpoint file for the channel
// rooted at channelRoot and restores any prior epoch so new snapshots
// append rather than clobber history.
func Open(channelRoot string) (*Writer, error) {
	path := filepath.Join(channelRoot, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.E(errors.IoFailure, "opening checkpoint file", err)
	}
	sw, err := stateio.NewFileWriter(f)
	if err != nil {
		f.Close()
		return nil, errors.E(errors.IoFailure, "initializing checkpoint log", err)
	}
	return &Writer{f: f, sw: sw}, nil
}

// Close closes the underlying checkpoint file.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	return w.f.Close()
}

// Checkpoint writes a new snapshot of the channel's cursor. Per the
// ambient-stack invariant, a checkpoint failure is returned to the
// caller (who logs it) but must never be treated as a write failure by
// the Channel itself.
func (w *Writer) Checkpoint(nextExpectedGlobal uint64, sequence int64, currentSubdir string) error {
	if w == nil || w.sw == nil {
		return nil
	}
	snap := Snapshot{NextExpectedGlobal: nextExpectedGlobal, Sequence: sequence, CurrentSubdir: currentSubdir}
	return w.sw.Snapshot(encodeSnapshot(snap))
}

// Restore reads back the last checkpointed Snapshot for the channel
// rooted at channelRoot, or the zero Snapshot if none was ever written.
func Restore(channelRoot string) (Snapshot, error) {
	path := filepath.Join(channelRoot, FileName)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, errors.E(errors.IoFailure, "opening checkpoint file", err)
	}
	defer f.Close()
	state, _, _, err := stateio.RestoreFile(f)
	if err != nil {
		return Snapshot{}, errors.E(errors.IoFailure, "restoring checkpoint", err)
	}
	if state == nil {
		return Snapshot{}, nil
	}
	return decodeSnapshot(state), nil
}

func encodeSnapshot(s Snapshot) []byte {
	buf := make([]byte, 0, 24+len(s.CurrentSubdir))
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], s.NextExpectedGlobal)
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint64(tmp[:], uint64(s.Sequence))
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint64(tmp[:], uint64(len(s.CurrentSubdir)))
	buf = append(buf, tmp[:]...)
	buf = append(buf, s.CurrentSubdir...)
	return buf
}

func decodeSnapshot(b []byte) Snapshot {
	if len(b) < 24 {
		return Snapshot{}
	}
	next := binary.LittleEndian.Uint64(b[0:8])
	seq := int64(binary.LittleEndian.Uint64(b[8:16]))
	n := binary.LittleEndian.Uint64(b[16:24])
	var subdir string
	if 24+n <= uint64(len(b)) {
		subdir = string(b[24 : 24+n])
	}
	return Snapshot{NextExpectedGlobal: next, Sequence: seq, CurrentSubdir: subdir}
}

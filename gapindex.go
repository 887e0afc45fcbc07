// Copyright 2024 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package digitalrf

import "github.com/digitalrf/digitalrf/errors"

// GapIndexRow is one row of a file's rf_data_index dataset: the absolute
// global sample (epoch already added) at which a contiguous run begins,
// and the in-file row at which it begins.
type GapIndexRow struct {
	GlobalSample uint64
	InFileRow    uint64
}

// indexPairs validates and holds one append call's (global, in_buf) index
// pairing.
type indexPairs struct {
	global []uint64
	inBuf  []uint64
}

// validate checks the append_blocks contract: k ≥ 1, in_buf_indices[0] == 0,
// both arrays strictly increasing, and in_buf never advances faster than
// global between successive pairs.
func (p indexPairs) validate() error {
	if len(p.global) == 0 || len(p.inBuf) == 0 {
		return errors.E(errors.IndexMalformed, "index pairing must contain at least one pair")
	}
	if len(p.global) != len(p.inBuf) {
		return errors.E(errors.IndexMalformed, "global and in_buf index arrays must be the same length")
	}
	if p.inBuf[0] != 0 {
		return errors.E(errors.IndexMalformed, "in_buf_indices[0] must be 0")
	}
	for i := 1; i < len(p.global); i++ {
		if p.global[i] <= p.global[i-1] {
			return errors.E(errors.IndexMalformed, "global_indices must be strictly increasing")
		}
		if p.inBuf[i] <= p.inBuf[i-1] {
			return errors.E(errors.IndexMalformed, "in_buf_indices must be strictly increasing")
		}
		globalAdvance := p.global[i] - p.global[i-1]
		bufAdvance := p.inBuf[i] - p.inBuf[i-1]
		if bufAdvance > globalAdvance {
			return errors.E(errors.IndexMalformed, "in_buf_indices advanced faster than global_indices")
		}
	}
	return nil
}

// sliceContext carries the per-file-slice state the Gap Index Builder
// needs: the range of buffer positions landing in the current file, the
// current in-file cursor, and the writer's next_expected_global so the
// boundary-suppression rule in step 2 can be evaluated.
type sliceContext struct {
	first              uint64 // samplesWritten at the start of this slice
	end                uint64 // first + buffer samples written to the current file in this slice
	inFileCursor       uint64
	nextExpectedGlobal uint64 // without epoch offset
	epochSample        uint64
	fileJustOpened     bool // inFileCursor == 0 for this file
}

// buildIndexRows takes the full index pairing for this append call and
// the current file slice, and returns the rows to append to
// rf_data_index for this file, already epoch-adjusted and re-based to
// the file's own row numbering.
func buildIndexRows(p indexPairs, sc sliceContext) []GapIndexRow {
	var rows []GapIndexRow
	for i := range p.global {
		b := p.inBuf[i]
		if b < sc.first || b >= sc.end {
			continue
		}
		g := p.global[i]
		if b == sc.first && !sc.fileJustOpened && g == sc.nextExpectedGlobal {
			// Redundant continuation at the file boundary: nothing changed,
			// so emitting a row here would duplicate the prior file's tail.
			continue
		}
		rows = append(rows, GapIndexRow{
			GlobalSample: g + sc.epochSample,
			InFileRow:    b + sc.inFileCursor - sc.first,
		})
	}
	if len(rows) == 0 && sc.fileJustOpened {
		// Synthesize the boundary row: every open file's index must have
		// at least one row, and row 0 must start at in-file position 0.
		rows = append(rows, GapIndexRow{
			GlobalSample: sc.nextExpectedGlobal + sc.epochSample,
			InFileRow:    0,
		})
	}
	return rows
}

// nextExpectedGlobalAfter advances next_expected_global (without epoch
// offset) following the slice described by rows and toWrite buffer
// samples written in this iteration of the Controller loop.
//
// When rows were emitted, the new cursor is derived from the filtered row
// list: the last emitted row's global sample plus however many buffer
// samples followed it within this slice. When no row was emitted, the
// slice is taken to continue the file's last run without a gap and the
// cursor advances by toWrite. In the Channel loop, an empty row list
// occurs only on an already-open file whose leading pair was suppressed
// because its global equals next_expected_global, so the slice is
// continuous. For a continuous slice the row-derived value equals
// next_expected_global + toWrite (see
// TestNextExpectedGlobalMatchesFilteredRows).
func nextExpectedGlobalAfter(sc sliceContext, rows []GapIndexRow, toWrite uint64) uint64 {
	if len(rows) == 0 {
		return sc.nextExpectedGlobal + toWrite
	}
	last := rows[len(rows)-1]
	lastRowBufPos := last.InFileRow - sc.inFileCursor + sc.first
	samplesAfterLast := (sc.first + toWrite) - lastRowBufPos
	return (last.GlobalSample - sc.epochSample) + samplesAfterLast
}

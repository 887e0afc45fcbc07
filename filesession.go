// Copyright 2024 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package digitalrf

import (
	"os"
	"path/filepath"

	"github.com/sbinet/go-hdf5"

	"github.com/digitalrf/digitalrf/bitset"
	"github.com/digitalrf/digitalrf/errors"
)

const (
	datasetData  = "rf_data"
	datasetIndex = "rf_data_index"

	indexChunkRows = 100
)

// fileSession owns exactly the HDF5 identifiers backing one open output
// file: a Channel holds at most one *fileSession at a time, and closing
// (or discarding) it is the only way those ids are released. This makes
// guaranteed release of HDF5 resources a property of the type rather
// than of caller discipline.
type fileSession struct {
	file      *hdf5.File
	data      *hdf5.Dataset
	index     *hdf5.Dataset
	rt        *resolvedType
	rank      int
	chunkRows int // frozen on first write

	subdir   string
	filename string

	sequence     int64
	inFileCursor uint64
	remaining    uint64
	nextIndexRow uint64

	// rowMask records which rows of rf_data have been written to in this
	// file. writeSamples sets it; nothing in this package reads it back,
	// and it plays no role in the on-disk format.
	rowMask []uintptr
}

// createFileSession creates a new HDF5 file with exclusive-create
// semantics (fails if the file already exists) and lays down rf_data and
// rf_data_index with their frozen shape, datatype, fill value, and
// (optionally) chunking/compression/checksum filters.
func createFileSession(
	channelRoot, subdir, filename string,
	sequence int64,
	rt *resolvedType,
	samplesPerFile uint64,
	subchannels int,
	compressionLevel int,
	checksum bool,
	firstAppendLen uint64,
) (*fileSession, error) {
	dir := filepath.Join(channelRoot, subdir)
	if err := os.Mkdir(dir, 0o755); err != nil && !os.IsExist(err) {
		return nil, errors.E(errors.DirectoryUnusable, "creating subdirectory "+dir, err)
	} else if err != nil {
		return nil, errors.E(errors.DirectoryUnusable, "subdirectory already exists: "+dir, err)
	}

	path := filepath.Join(dir, filename)
	f, err := hdf5.CreateFile(path, hdf5.F_ACC_EXCL)
	if err != nil {
		return nil, errors.E(errors.IoFailure, "creating file "+path, err)
	}

	rank := 1
	if rt.sample.IsComplex || subchannels > 1 {
		rank = 2
	}

	dims := []uint{uint(samplesPerFile)}
	if rank == 2 {
		dims = append(dims, uint(subchannels))
	}

	chunkRows := int(firstAppendLen)
	if uint64(chunkRows) > samplesPerFile || chunkRows <= 0 {
		chunkRows = int(samplesPerFile)
	}

	space, err := hdf5.CreateSimpleDataspace(dims, dims)
	if err != nil {
		f.Close()
		return nil, errors.E(errors.IoFailure, "creating rf_data dataspace", err)
	}

	plist, err := hdf5.NewPropList(hdf5.P_DATASET_CREATE)
	if err != nil {
		f.Close()
		return nil, errors.E(errors.IoFailure, "creating dataset create plist", err)
	}
	if err := plist.SetFillValue(rt.diskType, rt.fillValue); err != nil {
		f.Close()
		return nil, errors.E(errors.IoFailure, "setting fill value", err)
	}
	if compressionLevel > 0 || checksum {
		chunkDims := []uint{uint(chunkRows)}
		if rank == 2 {
			chunkDims = append(chunkDims, uint(subchannels))
		}
		if err := plist.SetChunk(chunkDims); err != nil {
			f.Close()
			return nil, errors.E(errors.IoFailure, "setting chunk shape", err)
		}
		if checksum {
			if err := plist.SetFletcher32(); err != nil {
				f.Close()
				return nil, errors.E(errors.IoFailure, "enabling fletcher32 checksum", err)
			}
		}
		if compressionLevel > 0 {
			if err := plist.SetDeflate(uint(compressionLevel)); err != nil {
				f.Close()
				return nil, errors.E(errors.IoFailure, "enabling gzip filter", err)
			}
		}
	}

	data, err := f.CreateDatasetWith(datasetData, rt.diskType, space, plist)
	if err != nil {
		f.Close()
		return nil, errors.E(errors.IoFailure, "creating rf_data dataset", err)
	}

	idxDims := []uint{0, 2}
	idxMax := []uint{hdf5.Unlimited, 2}
	idxSpace, err := hdf5.CreateSimpleDataspace(idxDims, idxMax)
	if err != nil {
		f.Close()
		return nil, errors.E(errors.IoFailure, "creating rf_data_index dataspace", err)
	}
	idxPlist, err := hdf5.NewPropList(hdf5.P_DATASET_CREATE)
	if err != nil {
		f.Close()
		return nil, errors.E(errors.IoFailure, "creating index dataset create plist", err)
	}
	if err := idxPlist.SetChunk([]uint{indexChunkRows, 2}); err != nil {
		f.Close()
		return nil, errors.E(errors.IoFailure, "setting index chunk shape", err)
	}
	index, err := f.CreateDatasetWith(datasetIndex, hdf5.T_NATIVE_UINT64, idxSpace, idxPlist)
	if err != nil {
		f.Close()
		return nil, errors.E(errors.IoFailure, "creating rf_data_index dataset", err)
	}

	maskWords := (int(samplesPerFile) + bitset.BitsPerWord - 1) / bitset.BitsPerWord
	return &fileSession{
		file:      f,
		data:      data,
		index:     index,
		rt:        rt,
		rank:      rank,
		chunkRows: chunkRows,
		subdir:    subdir,
		filename:  filename,
		sequence:  sequence,
		remaining: samplesPerFile,
		rowMask:   make([]uintptr, maskWords),
	}, nil
}

// writeSamples hyperslab-selects [inFileCursor, inFileCursor+count) of
// rf_data and writes buf into it. buf must already be sliced to exactly
// count samples' worth of bytes (accounting for subchannels and the
// complex interleave).
func (fs *fileSession) writeSamples(buf []byte, count uint64) error {
	offset := []uint{uint(fs.inFileCursor)}
	shape := []uint{uint(count)}
	if fs.rank == 2 {
		offset = append(offset, 0)
		shape = append(shape, uint(len(buf))/uint(count)/uint(fs.rt.elemSize))
	}

	space, err := fs.data.Space()
	if err != nil {
		return errors.E(errors.IoFailure, "getting rf_data dataspace", err)
	}
	if err := space.SelectHyperslab(offset, nil, shape, nil); err != nil {
		return errors.E(errors.IoFailure, "selecting hyperslab", err)
	}
	memSpace, err := hdf5.CreateSimpleDataspace(shape, shape)
	if err != nil {
		return errors.E(errors.IoFailure, "creating memory dataspace", err)
	}
	if err := fs.data.WriteSubset(buf, fs.rt.diskType, memSpace, space); err != nil {
		return errors.E(errors.IoFailure, "writing rf_data hyperslab", err)
	}

	bitset.SetInterval(fs.rowMask, int(fs.inFileCursor), int(fs.inFileCursor+count))
	return nil
}

// appendIndexRows extends rf_data_index by len(rows) rows, starting at
// nextIndexRow.
func (fs *fileSession) appendIndexRows(rows []GapIndexRow) error {
	if len(rows) == 0 {
		return nil
	}
	newLen := fs.nextIndexRow + uint64(len(rows))
	if err := fs.index.Resize([]uint{uint(newLen), 2}); err != nil {
		return errors.E(errors.IoFailure, "extending rf_data_index", err)
	}
	buf := make([]uint64, len(rows)*2)
	for i, r := range rows {
		buf[2*i] = r.GlobalSample
		buf[2*i+1] = r.InFileRow
	}
	space, err := fs.index.Space()
	if err != nil {
		return errors.E(errors.IoFailure, "getting rf_data_index dataspace", err)
	}
	offset := []uint{uint(fs.nextIndexRow), 0}
	shape := []uint{uint(len(rows)), 2}
	if err := space.SelectHyperslab(offset, nil, shape, nil); err != nil {
		return errors.E(errors.IoFailure, "selecting index hyperslab", err)
	}
	memSpace, err := hdf5.CreateSimpleDataspace(shape, shape)
	if err != nil {
		return errors.E(errors.IoFailure, "creating index memory dataspace", err)
	}
	if err := fs.index.WriteSubset(buf, hdf5.T_NATIVE_UINT64, memSpace, space); err != nil {
		return errors.E(errors.IoFailure, "writing rf_data_index rows", err)
	}
	fs.nextIndexRow = newLen
	return nil
}

// close flushes and releases every HDF5 id owned by this session. It is
// safe to call close at most once; the Channel nils out its current
// session immediately after.
func (fs *fileSession) close() error {
	var first error
	record := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if fs.data != nil {
		record(fs.data.Close())
	}
	if fs.index != nil {
		record(fs.index.Close())
	}
	if fs.file != nil {
		record(fs.file.Close())
	}
	if first != nil {
		return errors.E(errors.IoFailure, "closing file session", first)
	}
	return nil
}

// discard releases HDF5 ids without regard to error; used on early-return
// paths where a write has already failed and a second error would only
// obscure the first.
func (fs *fileSession) discard() {
	if fs.data != nil {
		fs.data.Close()
	}
	if fs.index != nil {
		fs.index.Close()
	}
	if fs.file != nil {
		fs.file.Close()
	}
}

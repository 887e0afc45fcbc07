// Copyright 2024 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package digitalrf

import (
	"github.com/sbinet/go-hdf5"

	"github.com/digitalrf/digitalrf/errors"
)

// DigitalRFEpoch is the constant epoch-description attribute written to
// every file.
const DigitalRFEpoch = "1970-01-01T00:00:00Z"

// DigitalRFVersion is the constant format-version attribute written to
// every file.
const DigitalRFVersion = "1.0"

// digitalRFTimeDescription is the fixed explanatory string accompanying
// every file's time-related attributes.
const digitalRFTimeDescription = "All times in this file reference the number of samples since the Unix epoch, at the channel's sample rate."

// FileMetadata holds the per-file scalar attribute values, ready to be
// attached to rf_data on file creation.
type FileMetadata struct {
	SequenceNum      int64
	NumSubchannels   int64
	IsComplex        int64
	SamplesPerFile   uint64
	SampleRate       float64
	InitUTCTimestamp uint64
	ComputerTime     uint64
	UUIDStr          string
}

// writeMetadata attaches m's scalar attributes to fs's rf_data dataset.
// It is called exactly once, immediately after rf_data is created.
func writeMetadata(fs *fileSession, m FileMetadata) error {
	attrs := []struct {
		name string
		typ  *hdf5.Datatype
		val  interface{}
	}{
		{"sequence_num", hdf5.T_NATIVE_INT64, m.SequenceNum},
		{"num_subchannels", hdf5.T_NATIVE_INT64, m.NumSubchannels},
		{"is_complex", hdf5.T_NATIVE_INT64, m.IsComplex},
		{"samples_per_file", hdf5.T_NATIVE_UINT64, m.SamplesPerFile},
		{"sample_rate", hdf5.T_NATIVE_DOUBLE, m.SampleRate},
		{"init_utc_timestamp", hdf5.T_NATIVE_UINT64, m.InitUTCTimestamp},
		{"computer_time", hdf5.T_NATIVE_UINT64, m.ComputerTime},
		{"uuid_str", hdf5.T_GO_STRING, m.UUIDStr},
		{"epoch", hdf5.T_GO_STRING, DigitalRFEpoch},
		{"digital_rf_time_description", hdf5.T_GO_STRING, digitalRFTimeDescription},
		{"digital_rf_version", hdf5.T_GO_STRING, DigitalRFVersion},
	}
	for _, a := range attrs {
		space, err := hdf5.CreateScalarDataspace()
		if err != nil {
			return errors.E(errors.IoFailure, "creating attribute dataspace for "+a.name, err)
		}
		attr, err := fs.data.CreateAttribute(a.name, a.typ, space)
		if err != nil {
			return errors.E(errors.IoFailure, "creating attribute "+a.name, err)
		}
		if err := attr.Write(a.val, a.typ); err != nil {
			attr.Close()
			return errors.E(errors.IoFailure, "writing attribute "+a.name, err)
		}
		attr.Close()
	}
	return nil
}

// Copyright 2024 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package digitalrf

import (
	"path/filepath"
	"time"
)

// rotationPlan names the subdirectory and file that will hold the next
// global sample to be written, plus whether opening that file requires
// creating a new subdirectory first.
type rotationPlan struct {
	subdir    string // e.g. "2014-03-09T12:30:30"
	filename  string // e.g. "rf@01394368230.123.h5"
	path      string // subdir/filename, relative to channel_root
	newSubdir bool
	fileTime  time.Time
}

// planRotation computes where the file starting at global sample
// globalWithEpoch (epoch_sample already added) should live, and whether
// sequence (the 0-based index of the file about to be opened) begins a
// new subdirectory: a new subdirectory is created iff
// sequence mod filesPerSubdir == 0.
func planRotation(globalWithEpoch uint64, sampleRate float64, sequence int64, filesPerSubdir int) rotationPlan {
	t, ps := SplitTime(globalWithEpoch, sampleRate)
	subdir := subdirName(t)
	filename := fileBasename(t, ps)
	return rotationPlan{
		subdir:    subdir,
		filename:  filename,
		path:      filepath.Join(subdir, filename),
		newSubdir: sequence%int64(filesPerSubdir) == 0,
		fileTime:  t,
	}
}

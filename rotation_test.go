// Copyright 2024 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package digitalrf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlanRotationNewSubdirCadence(t *testing.T) {
	const filesPerSubdir = 10
	for seq := int64(0); seq < 25; seq++ {
		plan := planRotation(uint64(1394368230*100)+uint64(seq), 100, seq, filesPerSubdir)
		require.Equal(t, seq%filesPerSubdir == 0, plan.newSubdir, "sequence %d", seq)
	}
}

func TestPlanRotationPathJoinsSubdirAndFile(t *testing.T) {
	plan := planRotation(uint64(1394368230*100+1), 100, 0, 10)
	require.Equal(t, plan.subdir+"/"+plan.filename, plan.path)
}

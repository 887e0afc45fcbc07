// Copyright 2024 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package digitalrf

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/digitalrf/digitalrf/errors"
)

func TestResolveTypeRejectsBadWidth(t *testing.T) {
	_, err := resolveType(SampleType{Kind: KindSignedInt, Width: 3})
	require.Error(t, err)
	require.True(t, errors.Is(errors.TypeUnsupported, err))
}

func TestResolveTypeRejectsMismatchedFloatWidth(t *testing.T) {
	_, err := resolveType(SampleType{Kind: KindFloat32, Width: 8})
	require.Error(t, err)
	_, err = resolveType(SampleType{Kind: KindFloat64, Width: 4})
	require.Error(t, err)
}

func TestResolveTypeRejectsNativeOrderMultiByte(t *testing.T) {
	_, err := resolveType(SampleType{Kind: KindUnsignedInt, Width: 2, Order: NativeOrder})
	require.Error(t, err)
}

func TestScalarFillBytesSignedInt16(t *testing.T) {
	buf := scalarFillBytes(SampleType{Kind: KindSignedInt, Width: 2, Order: LittleEndian})
	require.Equal(t, []byte{0x00, 0x80}, buf) // INT16_MIN little-endian
}

func TestScalarFillBytesUnsignedIsZero(t *testing.T) {
	buf := scalarFillBytes(SampleType{Kind: KindUnsignedInt, Width: 4, Order: LittleEndian})
	require.Equal(t, []byte{0, 0, 0, 0}, buf)
}

func TestScalarFillBytesFloat64IsNaN(t *testing.T) {
	buf := scalarFillBytes(SampleType{Kind: KindFloat64, Width: 8, Order: LittleEndian})
	bits := diskByteOrder(SampleType{Order: LittleEndian}).Uint64(buf)
	require.True(t, math.IsNaN(math.Float64frombits(bits)))
}

func TestScalarFillBytesEndianSwap(t *testing.T) {
	le := scalarFillBytes(SampleType{Kind: KindSignedInt, Width: 2, Order: LittleEndian})
	be := scalarFillBytes(SampleType{Kind: KindSignedInt, Width: 2, Order: BigEndian})
	require.Equal(t, le[0], be[1])
	require.Equal(t, le[1], be[0])
}

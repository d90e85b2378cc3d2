// Copyright 2018 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package leb128

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteVarUint32(t *testing.T) {
	for _, c := range casesUint {
		t.Run(fmt.Sprint(c.v), func(t *testing.T) {
			var buf bytes.Buffer
			_, err := WriteVarUint32(&buf, c.v)
			require.NoError(t, err)
			assert.Equal(t, c.b, buf.Bytes())
		})
	}
}

func TestWriteVarint64(t *testing.T) {
	for _, c := range casesInt {
		t.Run(fmt.Sprint(c.v), func(t *testing.T) {
			var buf bytes.Buffer
			_, err := WriteVarint64(&buf, c.v)
			require.NoError(t, err)
			assert.Equal(t, c.b, buf.Bytes())
		})
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	var buf bytes.Buffer
	for i := 0; i < 100000; i++ {
		i64, i32, u32 := r.Int63()-r.Int63(), int32(r.Uint32()), r.Uint32()

		buf.Reset()
		_, err := WriteVarint64(&buf, i64)
		require.NoError(t, err)
		_, err = WriteVarint64(&buf, int64(i32))
		require.NoError(t, err)
		_, err = WriteVarUint32(&buf, u32)
		require.NoError(t, err)

		v64, err := ReadVarint64(&buf)
		require.NoError(t, err)
		require.Equal(t, i64, v64)

		v32, err := ReadVarint32(&buf)
		require.NoError(t, err)
		require.Equal(t, i32, v32)

		vu32, err := ReadVarUint32(&buf)
		require.NoError(t, err)
		require.Equal(t, u32, vu32)
	}
}

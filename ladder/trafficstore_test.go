/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ladder

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReserveIsIdempotent(t *testing.T) {
	ts := NewTrafficStore(64)
	off1, err := ts.Reserve(1, 8)
	require.NoError(t, err)
	off2, err := ts.Reserve(1, 8)
	require.NoError(t, err)
	require.Equal(t, off1, off2)
}

func TestReserveFailsWhenOutOfSpace(t *testing.T) {
	ts := NewTrafficStore(8)
	_, err := ts.Reserve(1, 4)
	require.NoError(t, err)
	_, err = ts.Reserve(2, 8)
	require.Error(t, err)
}

func TestWriteReadRoundTrip(t *testing.T) {
	ts := NewTrafficStore(32)
	_, err := ts.Reserve(5, 4)
	require.NoError(t, err)

	require.NoError(t, ts.Write(5, []byte{1, 2, 3, 4}))
	got, err := ts.Read(5)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, got)
}

func TestWriteZeroPadsShrinkingPayload(t *testing.T) {
	ts := NewTrafficStore(32)
	_, err := ts.Reserve(9, 4)
	require.NoError(t, err)

	require.NoError(t, ts.Write(9, []byte{0xff, 0xff, 0xff, 0xff}))
	require.NoError(t, ts.Write(9, []byte{0xaa}))

	got, err := ts.Read(9)
	require.NoError(t, err)
	require.Equal(t, []byte{0xaa, 0, 0, 0}, got)
}

func TestWriteUnreservedSubscriptionFails(t *testing.T) {
	ts := NewTrafficStore(32)
	require.Error(t, ts.Write(99, []byte{1}))
	_, err := ts.Read(99)
	require.Error(t, err)
}

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

package stats

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/T12z/TCNopen-sub000/protocol"
)

func TestSnapshotMarshalUnmarshalRoundTrip(t *testing.T) {
	sn := Snapshot{
		Version:       SnapshotVersion,
		TimeStamp:     123456789,
		UpTime:        42,
		StatisticTime: 7,
		OwnIPAddr:     0xc0a80001,
		LeaderIPAddr:  0xc0a80002,
		PDNumSubs:     3,
		PDNumPub:      2,
		PDNumRcv:      100,
		PDNumCrcErr:   1,
		PDNumNoSubs:   4,
		PDNumSend:     99,
		MDNumSessions: 5,
		MDNumTimeout:  6,
		MDNumFailed:   7,
	}

	b, err := sn.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, snapshotSize)

	var got Snapshot
	require.NoError(t, got.UnmarshalBinary(b))
	require.Equal(t, sn, got)
}

func TestSnapshotUnmarshalRejectsShortBuffer(t *testing.T) {
	var sn Snapshot
	require.Error(t, sn.UnmarshalBinary(make([]byte, 4)))
}

func TestBinarySnapshotReflectsReportedCounters(t *testing.T) {
	s := NewJSONStats()
	s.IncRX(protocol.MessagePD)
	s.IncTX(protocol.MessagePD)
	s.IncSubscription()
	s.IncPublication()
	s.IncCRCError()
	s.IncMDSessionTimeout()
	s.SetMDSessionsActive(2)
	s.Snapshot()

	sn := s.BinarySnapshot(net.ParseIP("192.168.0.1"), net.ParseIP("192.168.0.2"))
	require.Equal(t, SnapshotVersion, sn.Version)
	require.Equal(t, uint32(0xc0a80001), sn.OwnIPAddr)
	require.Equal(t, uint32(0xc0a80002), sn.LeaderIPAddr)
	require.Equal(t, uint32(1), sn.PDNumSubs)
	require.Equal(t, uint32(1), sn.PDNumPub)
	require.Equal(t, uint32(1), sn.PDNumRcv)
	require.Equal(t, uint32(1), sn.PDNumSend)
	require.Equal(t, uint32(1), sn.PDNumCrcErr)
	require.Equal(t, uint32(1), sn.MDNumTimeout)
	require.Equal(t, uint32(2), sn.MDNumSessions)
}

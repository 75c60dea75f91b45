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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/T12z/TCNopen-sub000/protocol"
)

func TestJSONStatsSnapshotIsIndependentOfLiveCounters(t *testing.T) {
	s := NewJSONStats()
	s.IncRX(protocol.MessagePD)
	s.IncRX(protocol.MessagePD)
	s.IncTX(protocol.MessageMr)
	s.IncCRCError()
	s.IncSubscription()
	s.IncSubscription()
	s.DecSubscription()

	s.Snapshot()
	before := s.report.toMap()
	require.Equal(t, int64(2), before["rx.pd"])
	require.Equal(t, int64(1), before["tx.mr"])
	require.Equal(t, int64(1), before["crc_errors"])
	require.Equal(t, int64(1), before["subscriptions.live"])

	// live counters changing after Snapshot must not affect the report
	s.IncRX(protocol.MessagePD)
	after := s.report.toMap()
	require.Equal(t, int64(2), after["rx.pd"], "report must be frozen until the next Snapshot")
}

func TestJSONStatsReset(t *testing.T) {
	s := NewJSONStats()
	s.IncRX(protocol.MessagePD)
	s.IncCRCError()
	s.Reset()
	s.Snapshot()

	m := s.report.toMap()
	require.Equal(t, int64(0), m["crc_errors"])
	require.Empty(t, m["rx.pd"])
}

func TestSetWorkerQueueKeepsMaximum(t *testing.T) {
	s := NewJSONStats()
	s.SetWorkerQueue(0, 3)
	s.SetWorkerQueue(0, 7)
	s.SetWorkerQueue(0, 2)

	s.Snapshot()
	m := s.report.toMap()
	require.Equal(t, int64(7), m["worker.0.queue"])
}

func TestMDSessionCounters(t *testing.T) {
	s := NewJSONStats()
	s.IncMDSessionTimeout()
	s.IncMDSessionFailed()
	s.SetMDSessionsActive(4)

	s.Snapshot()
	m := s.report.toMap()
	require.Equal(t, int64(1), m["md.timeouts"])
	require.Equal(t, int64(1), m["md.failed"])
	require.Equal(t, int64(4), m["md.sessions_active"])
}

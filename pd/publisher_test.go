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

package pd

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProcessSendAdvancesByIntervalNotNow(t *testing.T) {
	sched := NewScheduler()
	var mu sync.Mutex
	var sent []uint32

	h := sched.Publish(PublishParams{
		Identity: Identity{ComId: 1},
		DestIP:   net.ParseIP("10.0.0.1"),
		Interval: 10 * time.Millisecond,
		Emit: func(_ net.IP, _ []byte, seq uint32) error {
			mu.Lock()
			sent = append(sent, seq)
			mu.Unlock()
			return nil
		},
	})
	pub, _ := sched.Get(h)

	base := time.Now()
	pub.mu.Lock()
	pub.nextEmit = base
	pub.mu.Unlock()

	// simulate a cycle that runs three intervals late in one shot
	sched.ProcessSend(base.Add(35 * time.Millisecond))

	pub.mu.Lock()
	next := pub.nextEmit
	pub.mu.Unlock()
	require.Equal(t, base.Add(10*time.Millisecond), next)
}

func TestPullModeNeverSelfSchedules(t *testing.T) {
	sched := NewScheduler()
	var sent int
	h := sched.Publish(PublishParams{
		Identity: Identity{ComId: 1},
		Interval: PullMode,
		Emit: func(net.IP, []byte, uint32) error {
			sent++
			return nil
		},
	})

	sched.ProcessSend(time.Now().Add(time.Hour))
	require.Equal(t, 0, sent)

	require.NoError(t, sched.Pull(h))
	require.Equal(t, 1, sent)
}

func TestRedundancyGroupOnlyLeaderEmits(t *testing.T) {
	sched := NewScheduler()
	var sentA, sentB int

	hA := sched.Publish(PublishParams{
		Identity:     Identity{ComId: 1},
		Interval:     time.Millisecond,
		RedundancyID: 7,
		Emit:         func(net.IP, []byte, uint32) error { sentA++; return nil },
	})
	hB := sched.Publish(PublishParams{
		Identity:     Identity{ComId: 2},
		Interval:     time.Millisecond,
		RedundancyID: 7,
		Emit:         func(net.IP, []byte, uint32) error { sentB++; return nil },
	})

	pubA, _ := sched.Get(hA)
	pubB, _ := sched.Get(hB)
	pubA.mu.Lock()
	pubA.nextEmit = time.Now().Add(-time.Second)
	pubA.mu.Unlock()
	pubB.mu.Lock()
	pubB.nextEmit = time.Now().Add(-time.Second)
	pubB.mu.Unlock()

	sched.ProcessSend(time.Now())
	require.Equal(t, 1, sentA)
	require.Equal(t, 0, sentB)

	sched.SetLeader(hA, false)
	sched.SetLeader(hB, true)
	pubA.mu.Lock()
	pubA.nextEmit = time.Now().Add(-time.Second)
	pubA.mu.Unlock()
	pubB.mu.Lock()
	pubB.nextEmit = time.Now().Add(-time.Second)
	pubB.mu.Unlock()

	sched.ProcessSend(time.Now())
	require.Equal(t, 1, sentA)
	require.Equal(t, 1, sentB)
}

func TestPutImmediateForcesNextTick(t *testing.T) {
	sched := NewScheduler()
	var sent int
	h := sched.Publish(PublishParams{
		Identity: Identity{ComId: 1},
		Interval: time.Hour,
		Emit:     func(net.IP, []byte, uint32) error { sent++; return nil },
	})
	pub, _ := sched.Get(h)
	pub.PutImmediate([]byte("urgent"))

	require.Equal(t, time.Duration(0), sched.GetInterval(time.Now()))
	sched.ProcessSend(time.Now())
	require.Equal(t, 1, sent)
}

func TestWorkerPoolPicksLeastBusy(t *testing.T) {
	wp := NewWorkerPool(2)
	_, w0 := wp.Publish(PublishParams{Identity: Identity{ComId: 1}})
	_, w1 := wp.Publish(PublishParams{Identity: Identity{ComId: 2}})
	require.NotEqual(t, w0, w1)

	h, w2 := wp.Publish(PublishParams{Identity: Identity{ComId: 3}})
	require.True(t, w2 == w0 || w2 == w1)

	require.True(t, wp.Unpublish(w2, h))
}

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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubscribeMatchDeliver(t *testing.T) {
	tbl := NewTable()
	var got []byte
	h := tbl.Subscribe(Params{
		Identity:  Identity{ComId: 100, ServiceId: 1},
		SourceIP1: net.ParseIP("10.0.0.1"),
		DestIP:    net.ParseIP("10.0.0.2"),
		Timeout:   time.Second,
		Callback: func(_ Handle, result Result, payload []byte) {
			if result == ResultOK {
				got = payload
			}
		},
	})
	require.NotZero(t, h)

	ok := tbl.Deliver(Identity{ComId: 100, ServiceId: 1}, net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.2"), 1, []byte("hello"))
	require.True(t, ok)
	require.Equal(t, []byte("hello"), got)
}

func TestMatchRejectsWrongComID(t *testing.T) {
	tbl := NewTable()
	tbl.Subscribe(Params{Identity: Identity{ComId: 1, ServiceId: 1}, Timeout: time.Second})
	_, ok := tbl.Match(Identity{ComId: 2, ServiceId: 1}, net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.2"))
	require.False(t, ok)
}

func TestMatchRejectsTopoMismatch(t *testing.T) {
	tbl := NewTable()
	tbl.Subscribe(Params{Identity: Identity{ComId: 1, ServiceId: 1, EtbTopoCnt: 5}, Timeout: time.Second})
	_, ok := tbl.Match(Identity{ComId: 1, ServiceId: 1, EtbTopoCnt: 6}, net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.2"))
	require.False(t, ok)
}

func TestMatchExactSourceOutranksWildcard(t *testing.T) {
	tbl := NewTable()
	var wonWildcard, wonExact bool
	tbl.Subscribe(Params{
		Identity: Identity{ComId: 1, ServiceId: 1},
		Timeout:  time.Second,
		Callback: func(Handle, Result, []byte) { wonWildcard = true },
	})
	tbl.Subscribe(Params{
		Identity:  Identity{ComId: 1, ServiceId: 1},
		SourceIP1: net.ParseIP("10.0.0.1"),
		Timeout:   time.Second,
		Callback:  func(Handle, Result, []byte) { wonExact = true },
	})

	ok := tbl.Deliver(Identity{ComId: 1, ServiceId: 1}, net.ParseIP("10.0.0.1"), nil, 1, []byte("x"))
	require.True(t, ok)
	require.True(t, wonExact)
	require.False(t, wonWildcard)
}

func TestSequencePolicyDropsOutOfOrder(t *testing.T) {
	tbl := NewTable()
	var deliveries int
	tbl.Subscribe(Params{
		Identity: Identity{ComId: 1, ServiceId: 1},
		Timeout:  time.Second,
		Callback: func(_ Handle, result Result, _ []byte) {
			if result == ResultOK {
				deliveries++
			}
		},
	})

	require.True(t, tbl.Deliver(Identity{ComId: 1, ServiceId: 1}, nil, nil, 5, []byte("a")))
	require.False(t, tbl.Deliver(Identity{ComId: 1, ServiceId: 1}, nil, nil, 4, []byte("b")))
	require.False(t, tbl.Deliver(Identity{ComId: 1, ServiceId: 1}, nil, nil, 5, []byte("c")))
	require.True(t, tbl.Deliver(Identity{ComId: 1, ServiceId: 1}, nil, nil, 6, []byte("d")))
	require.Equal(t, 2, deliveries)
}

func TestSequencePolicyForceCBAcceptsDuplicate(t *testing.T) {
	tbl := NewTable()
	var deliveries int
	tbl.Subscribe(Params{
		Identity: Identity{ComId: 1, ServiceId: 1},
		Timeout:  time.Second,
		ForceCB:  true,
		Callback: func(_ Handle, result Result, _ []byte) {
			if result == ResultOK {
				deliveries++
			}
		},
	})

	require.True(t, tbl.Deliver(Identity{ComId: 1, ServiceId: 1}, nil, nil, 5, []byte("a")))
	require.True(t, tbl.Deliver(Identity{ComId: 1, ServiceId: 1}, nil, nil, 5, []byte("a")))
	require.Equal(t, 2, deliveries)
}

func TestCheckTimeoutsKeepVsZero(t *testing.T) {
	tbl := NewTable()
	hKeep := tbl.Subscribe(Params{Identity: Identity{ComId: 1, ServiceId: 1}, Timeout: time.Millisecond, Behavior: Keep})
	hZero := tbl.Subscribe(Params{Identity: Identity{ComId: 2, ServiceId: 1}, Timeout: time.Millisecond, Behavior: ZeroOnTimeout})

	require.True(t, tbl.Deliver(Identity{ComId: 1, ServiceId: 1}, nil, nil, 1, []byte("keep-me")))
	require.True(t, tbl.Deliver(Identity{ComId: 2, ServiceId: 1}, nil, nil, 1, []byte("zero-me")))

	tbl.CheckTimeouts(time.Now().Add(time.Second))

	keepSub, _ := tbl.Get(hKeep)
	payload, stale := keepSub.Payload()
	require.Equal(t, []byte("keep-me"), payload)
	require.True(t, stale)

	zeroSub, _ := tbl.Get(hZero)
	payload, _ = zeroSub.Payload()
	require.Nil(t, payload)
}

func TestUnsubscribeRemovesFromMatching(t *testing.T) {
	tbl := NewTable()
	h := tbl.Subscribe(Params{Identity: Identity{ComId: 1, ServiceId: 1}, Timeout: time.Second})
	require.True(t, tbl.Unsubscribe(h))
	_, ok := tbl.Match(Identity{ComId: 1, ServiceId: 1}, nil, nil)
	require.False(t, ok)
}

func TestResubscribeSwapsSourceFilter(t *testing.T) {
	tbl := NewTable()
	h := tbl.Subscribe(Params{
		Identity:  Identity{ComId: 1, ServiceId: 1},
		SourceIP1: net.ParseIP("10.0.0.1"),
		Timeout:   time.Second,
	})
	_, ok := tbl.Match(Identity{ComId: 1, ServiceId: 1}, net.ParseIP("10.0.0.9"), nil)
	require.False(t, ok)

	require.True(t, tbl.Resubscribe(h, net.ParseIP("10.0.0.9"), nil))
	_, ok = tbl.Match(Identity{ComId: 1, ServiceId: 1}, net.ParseIP("10.0.0.9"), nil)
	require.True(t, ok)
}

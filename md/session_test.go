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

package md

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/T12z/TCNopen-sub000/protocol"
)

func noopTransport(net.IP, []byte) error { return nil }

func TestRequestReplyCompletesOnSingleReply(t *testing.T) {
	reg := NewRegistry(noopTransport)
	var gotEvent Event
	s, err := reg.Request(42, net.ParseIP("10.0.0.1"), []byte("ping"), 1, time.Second, func(_ *Session, ev Event) {
		gotEvent = ev
	})
	require.NoError(t, err)
	require.Equal(t, StateAwaitingReply, s.State())

	reg.Receive(protocol.MDPacket{
		Header: protocol.Header{MsgType: protocol.MessageMp, ComId: 42},
		MD:     protocol.MDHeader{SessionID: s.ID},
	})
	require.Equal(t, StateDone, s.State())
	require.Equal(t, EventDone, gotEvent)
}

func TestRequestFanInWaitsForAllReplies(t *testing.T) {
	reg := NewRegistry(noopTransport)
	s, err := reg.Request(1, net.ParseIP("10.0.0.1"), nil, 3, time.Second, nil)
	require.NoError(t, err)

	reg.Receive(protocol.MDPacket{Header: protocol.Header{MsgType: protocol.MessageMp}, MD: protocol.MDHeader{SessionID: s.ID}})
	require.Equal(t, StateAwaitingReply, s.State())
	reg.Receive(protocol.MDPacket{Header: protocol.Header{MsgType: protocol.MessageMp}, MD: protocol.MDHeader{SessionID: s.ID}})
	require.Equal(t, StateAwaitingReply, s.State())
	reg.Receive(protocol.MDPacket{Header: protocol.Header{MsgType: protocol.MessageMp}, MD: protocol.MDHeader{SessionID: s.ID}})
	require.Equal(t, StateDone, s.State())
}

func TestReplyQueryThenConfirm(t *testing.T) {
	reg := NewRegistry(noopTransport)
	sid := protocol.SessionID{1, 2, 3}
	s, err := reg.ReplyQuery(sid, 1, net.ParseIP("10.0.0.1"), []byte("reply"), time.Second, nil)
	require.NoError(t, err)
	require.Equal(t, StateAwaitingConfirm, s.State())

	require.NoError(t, reg.Confirm(sid, 1, net.ParseIP("10.0.0.1")))
	require.Equal(t, StateDone, s.State())
}

func TestReceiveErrorFailsSession(t *testing.T) {
	reg := NewRegistry(noopTransport)
	s, err := reg.Request(1, net.ParseIP("10.0.0.1"), nil, 1, time.Second, nil)
	require.NoError(t, err)

	reg.Receive(protocol.MDPacket{Header: protocol.Header{MsgType: protocol.MessageMe}, MD: protocol.MDHeader{SessionID: s.ID}})
	require.Equal(t, StateFailed, s.State())
	require.Equal(t, FailPeerError, s.FailReason())
}

func TestCheckTimeoutsFailsExpiredSession(t *testing.T) {
	reg := NewRegistry(noopTransport)
	s, err := reg.Request(1, net.ParseIP("10.0.0.1"), nil, 1, time.Millisecond, nil)
	require.NoError(t, err)

	reg.CheckTimeouts(time.Now().Add(time.Second))
	require.Equal(t, StateFailed, s.State())
	require.Equal(t, FailReplyTimeout, s.FailReason())
}

func TestCheckTimeoutsRetransmitsAtSpacing(t *testing.T) {
	var sent int
	reg := NewRegistry(func(net.IP, []byte) error { sent++; return nil })
	_, err := reg.Request(1, net.ParseIP("10.0.0.1"), nil, 1, 60*time.Millisecond, nil)
	require.NoError(t, err)
	require.Equal(t, 1, sent) // initial Mr

	reg.CheckTimeouts(time.Now().Add(15 * time.Millisecond))
	require.Equal(t, 2, sent) // retryInterval is 60/6=10ms, so due by +15ms
}

func TestNotifyKeepsNoSession(t *testing.T) {
	reg := NewRegistry(noopTransport)
	require.NoError(t, reg.Notify(1, net.ParseIP("10.0.0.1"), []byte("fyi")))
	require.Empty(t, reg.sessions)
}

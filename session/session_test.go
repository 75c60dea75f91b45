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

package session

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/T12z/TCNopen-sub000/pd"
	"github.com/T12z/TCNopen-sub000/protocol"
)

// TestOpenCloseSession exercises open_session/close_session on loopback,
// binding the well-known PD/MD ports; it does not depend on any other
// network configuration being present.
func TestOpenCloseSession(t *testing.T) {
	s, err := OpenSession(Config{OwnIP: net.ParseIP("127.0.0.1"), Workers: 2})
	if err != nil {
		t.Skipf("raw sockets unavailable in this environment: %v", err)
	}
	defer s.CloseSession()

	require.NotNil(t, s.PD)
	require.NotNil(t, s.MD)
	require.Equal(t, 2, s.PDPub.Len())
}

func TestUpdateSessionBuildsSlotIndex(t *testing.T) {
	s, err := OpenSession(Config{OwnIP: net.ParseIP("127.0.0.1"), Workers: 1})
	if err != nil {
		t.Skipf("raw sockets unavailable in this environment: %v", err)
	}
	defer s.CloseSession()

	s.PDPub.Publish(pd.PublishParams{Identity: pd.Identity{ComId: 1}})
	s.UpdateSession()

	require.True(t, s.indexed)
	require.Len(t, s.slots, 1)
}

// TestPublishEmitsOnTheWire exercises Session.Publish end to end: the
// Emitter it installs must actually put a decodable PD frame on the PD
// socket, not just queue it in the scheduler.
func TestPublishEmitsOnTheWire(t *testing.T) {
	s, err := OpenSession(Config{OwnIP: net.ParseIP("127.0.0.1"), Workers: 1})
	if err != nil {
		t.Skipf("raw sockets unavailable in this environment: %v", err)
	}
	defer s.CloseSession()

	identity := pd.Identity{ComId: 42}
	h := s.Publish(pd.PublishParams{
		Identity: identity,
		DestIP:   net.ParseIP("127.0.0.1"),
		Interval: 0,
	})
	require.NotZero(t, h)

	require.NoError(t, s.PDPub.PullByIdentity(identity))

	// the emitter always sends to the well-known PD port, which on
	// loopback is this session's own PD socket
	buf := make([]byte, 1500)
	var n int
	deadline := time.Now().Add(time.Second)
	for {
		n, _, err = unix.Recvfrom(s.pdFD, buf, unix.MSG_DONTWAIT)
		if err != unix.EAGAIN || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	require.NoError(t, err)
	require.Greater(t, n, 0)
	_, err = protocol.DecodePD(buf[:n])
	require.NoError(t, err)
}

// TestSubscribeUnsubscribeTracksGauge exercises Session.Subscribe/
// Unsubscribe's live-subscription gauge wiring.
func TestSubscribeUnsubscribeTracksGauge(t *testing.T) {
	s, err := OpenSession(Config{OwnIP: net.ParseIP("127.0.0.1"), Workers: 1})
	if err != nil {
		t.Skipf("raw sockets unavailable in this environment: %v", err)
	}
	defer s.CloseSession()

	h, err := s.Subscribe(pd.Params{Identity: pd.Identity{ComId: 7}})
	require.NoError(t, err)
	require.True(t, s.Unsubscribe(h))
	require.False(t, s.Unsubscribe(h))
}

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

	"github.com/stretchr/testify/require"

	"github.com/T12z/TCNopen-sub000/protocol"
)

func TestListenerDispatchHonoursFilter(t *testing.T) {
	tbl := NewListenerTable()
	var got protocol.MDPacket
	tbl.AddListener(7, func(_ uint32, peer net.IP) bool {
		return peer.Equal(net.ParseIP("10.0.0.5"))
	}, func(pkt protocol.MDPacket) { got = pkt })

	pkt := protocol.MDPacket{Header: protocol.Header{ComId: 7}}
	require.False(t, tbl.Dispatch(pkt, net.ParseIP("10.0.0.1")))
	require.True(t, tbl.Dispatch(pkt, net.ParseIP("10.0.0.5")))
	require.Equal(t, uint32(7), got.Header.ComId)
}

func TestDelListenerStopsDispatch(t *testing.T) {
	tbl := NewListenerTable()
	h := tbl.AddListener(1, nil, func(protocol.MDPacket) {})
	require.True(t, tbl.DelListener(h))
	require.False(t, tbl.Dispatch(protocol.MDPacket{Header: protocol.Header{ComId: 1}}, nil))
}

func TestTCPAccumulatorDeliversOneFramePerLength(t *testing.T) {
	var acc TCPAccumulator

	buf := make([]byte, protocol.MDFrameSize+3+4)
	n, err := protocol.EncodeMD(buf, protocol.Header{ProtocolVersion: protocol.ProtocolVersion, MsgType: protocol.MessageMn}, protocol.MDHeader{}, []byte("abc"))
	require.NoError(t, err)
	full := buf[:n]

	// feed it in two partial writes, split mid-header
	frames, err := acc.Feed(full[:10])
	require.NoError(t, err)
	require.Empty(t, frames)

	frames, err = acc.Feed(full[10:])
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Equal(t, full, frames[0])
}

func TestTCPAccumulatorHandlesTwoFramesInOneRead(t *testing.T) {
	var acc TCPAccumulator
	buf1 := make([]byte, protocol.MDFrameSize+4)
	n1, err := protocol.EncodeMD(buf1, protocol.Header{ProtocolVersion: protocol.ProtocolVersion, MsgType: protocol.MessageMn}, protocol.MDHeader{}, nil)
	require.NoError(t, err)
	buf2 := make([]byte, protocol.MDFrameSize+4)
	n2, err := protocol.EncodeMD(buf2, protocol.Header{ProtocolVersion: protocol.ProtocolVersion, MsgType: protocol.MessageMn}, protocol.MDHeader{}, nil)
	require.NoError(t, err)

	combined := append(append([]byte(nil), buf1[:n1]...), buf2[:n2]...)
	frames, err := acc.Feed(combined)
	require.NoError(t, err)
	require.Len(t, frames, 2)
}

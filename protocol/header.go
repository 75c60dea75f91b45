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

// Package protocol implements the TRDP wire format: the packet header,
// CRC-32 framing, message type dispatch and the dataset marshalling
// system (IEC 61375-2-3).
package protocol

import (
	"encoding/binary"
	"fmt"
)

// ProtocolVersion is the TRDP protocol version this package implements.
const ProtocolVersion uint16 = 0x0100

// Well-known UDP/TCP ports (spec.md §6).
const (
	PortPD = 17224
	PortMD = 17225
)

// HeaderSize is the fixed size in bytes of the common PD header (the
// "fixed 40-byte prefix" of spec.md §3). MD extends this common prefix
// with a reply/session trailer; see MDHeaderSize in md_header.go.
const HeaderSize = 40

// Header is the common prefix shared by PD and MD packets: everything up
// to and including the header's own CRC-32. For a PD packet this is the
// entire header; for an MD packet it is followed by the MD trailer
// (SessionID/ReplyTimeout/NumExpReplies/NumReplies, see MDHeader).
//
// Wire layout (big-endian, offsets from the start of the packet):
//
//	 0  uint32 SequenceCounter
//	 4  uint16 ProtocolVersion
//	 6  uint16 MsgType
//	 8  uint32 ComId
//	12  uint32 EtbTopoCnt
//	16  uint32 OpTrnTopoCnt
//	20  uint32 DatasetLength   (payload length in bytes)
//	24  uint32 ServiceId
//	28  uint32 ReplyComId
//	32  uint32 ReplyIP
//	36  uint32 FrameCheckSum   (CRC-32 over bytes 0..35)
type Header struct {
	SequenceCounter uint32
	ProtocolVersion uint16
	MsgType         MessageType
	ComId           uint32
	EtbTopoCnt      uint32
	OpTrnTopoCnt    uint32
	DatasetLength   uint32
	ServiceId       uint32
	ReplyComId      uint32
	ReplyIP         uint32
	FrameCheckSum   uint32
}

// marshalCommonTo writes the first 36 bytes of the header (everything
// except FrameCheckSum, which the caller computes once the rest of the
// frame is known) into b, which must be at least HeaderSize bytes.
func marshalCommonTo(b []byte, h *Header) {
	binary.BigEndian.PutUint32(b[0:], h.SequenceCounter)
	binary.BigEndian.PutUint16(b[4:], h.ProtocolVersion)
	binary.BigEndian.PutUint16(b[6:], uint16(h.MsgType))
	binary.BigEndian.PutUint32(b[8:], h.ComId)
	binary.BigEndian.PutUint32(b[12:], h.EtbTopoCnt)
	binary.BigEndian.PutUint32(b[16:], h.OpTrnTopoCnt)
	binary.BigEndian.PutUint32(b[20:], h.DatasetLength)
	binary.BigEndian.PutUint32(b[24:], h.ServiceId)
	binary.BigEndian.PutUint32(b[28:], h.ReplyComId)
	binary.BigEndian.PutUint32(b[32:], h.ReplyIP)
}

func unmarshalCommonFrom(b []byte, h *Header) {
	h.SequenceCounter = binary.BigEndian.Uint32(b[0:])
	h.ProtocolVersion = binary.BigEndian.Uint16(b[4:])
	h.MsgType = MessageType(binary.BigEndian.Uint16(b[6:]))
	h.ComId = binary.BigEndian.Uint32(b[8:])
	h.EtbTopoCnt = binary.BigEndian.Uint32(b[12:])
	h.OpTrnTopoCnt = binary.BigEndian.Uint32(b[16:])
	h.DatasetLength = binary.BigEndian.Uint32(b[20:])
	h.ServiceId = binary.BigEndian.Uint32(b[24:])
	h.ReplyComId = binary.BigEndian.Uint32(b[28:])
	h.ReplyIP = binary.BigEndian.Uint32(b[32:])
}

// checkLen returns an error if b is shorter than n bytes.
func checkLen(b []byte, n int, what string) error {
	if len(b) < n {
		return fmt.Errorf("%w: need %d bytes for %s, got %d", ErrWire, n, what, len(b))
	}
	return nil
}

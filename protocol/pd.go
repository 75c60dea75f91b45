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

package protocol

import (
	"encoding/binary"
	"fmt"
)

// Packet is a fully decoded PD frame (DecodeMD returns an MDPacket
// instead): the common header plus a view onto the payload bytes it
// wraps. Payload aliases the buffer passed to DecodePD; callers that
// retain it past the next receive must copy it.
type Packet struct {
	Header  Header
	Payload []byte
}

// EncodePD fills b with a complete PD frame: header, then payload, then
// payload CRC, computing both CRCs itself. b must be at least
// HeaderSize+len(payload)+4 bytes; EncodePD returns the number of bytes
// written (always HeaderSize+len(payload)+4).
func EncodePD(b []byte, h Header, payload []byte) (int, error) {
	total := HeaderSize + len(payload) + 4
	if len(b) < total {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, total, len(b))
	}
	h.DatasetLength = uint32(len(payload))
	marshalCommonTo(b, &h)
	h.FrameCheckSum = CRC32(b[:HeaderSize-4])
	binary.BigEndian.PutUint32(b[HeaderSize-4:], h.FrameCheckSum)
	n := copy(b[HeaderSize:], payload)
	pldFCS := CRC32(payload)
	binary.BigEndian.PutUint32(b[HeaderSize+n:], pldFCS)
	return total, nil
}

// DecodePD parses a PD frame from b, verifying the protocol version and
// both CRCs before returning. The returned Packet.Payload aliases b.
func DecodePD(b []byte) (Packet, error) {
	var pkt Packet
	if err := checkLen(b, HeaderSize+4, "PD frame"); err != nil {
		return pkt, err
	}
	unmarshalCommonFrom(b, &pkt.Header)
	if pkt.Header.ProtocolVersion>>8 != ProtocolVersion>>8 {
		return pkt, fmt.Errorf("%w: got 0x%04x", ErrVersion, pkt.Header.ProtocolVersion)
	}
	gotHdrFCS := binary.BigEndian.Uint32(b[HeaderSize-4:])
	if !VerifyCRC32(b[:HeaderSize-4], gotHdrFCS) {
		return pkt, ErrCrcHeader
	}
	pkt.Header.FrameCheckSum = gotHdrFCS
	n := int(pkt.Header.DatasetLength)
	if err := checkLen(b, HeaderSize+n+4, "PD payload"); err != nil {
		return pkt, fmt.Errorf("%w: %v", ErrLengthMismatch, err)
	}
	payload := b[HeaderSize : HeaderSize+n]
	gotPldFCS := binary.BigEndian.Uint32(b[HeaderSize+n:])
	if !VerifyCRC32(payload, gotPldFCS) {
		return pkt, ErrCrcPayload
	}
	pkt.Payload = payload
	return pkt, nil
}

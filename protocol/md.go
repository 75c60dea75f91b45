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

// MDFrameSize is the number of prefix bytes before an MD payload: the
// common Header plus the MD trailer.
const MDFrameSize = HeaderSize + MDHeaderSize

// MDPacket is a fully decoded MD frame.
type MDPacket struct {
	Header  Header
	MD      MDHeader
	Payload []byte
}

// EncodeMD fills b with a complete MD frame: common header, MD trailer,
// payload, payload CRC. The header CRC covers Header+MDHeader bytes
// preceding it (bytes 0..MDFrameSize-5, i.e. 0..67).
func EncodeMD(b []byte, h Header, md MDHeader, payload []byte) (int, error) {
	total := MDFrameSize + len(payload) + 4
	if len(b) < total {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, total, len(b))
	}
	h.DatasetLength = uint32(len(payload))
	marshalCommonTo(b, &h)
	marshalMDTo(b[HeaderSize:], &md)
	fcsOffset := HeaderSize + MDHeaderSize - 4
	fcs := CRC32(b[:fcsOffset])
	binary.BigEndian.PutUint32(b[fcsOffset:], fcs)
	n := copy(b[MDFrameSize:], payload)
	pldFCS := CRC32(payload)
	binary.BigEndian.PutUint32(b[MDFrameSize+n:], pldFCS)
	return total, nil
}

// DecodeMD parses an MD frame from b, verifying the protocol version and
// both CRCs before returning. The returned MDPacket.Payload aliases b.
func DecodeMD(b []byte) (MDPacket, error) {
	var pkt MDPacket
	if err := checkLen(b, MDFrameSize+4, "MD frame"); err != nil {
		return pkt, err
	}
	unmarshalCommonFrom(b, &pkt.Header)
	if !pkt.Header.MsgType.IsMD() {
		return pkt, fmt.Errorf("%w: %s is not an MD message type", ErrWire, pkt.Header.MsgType)
	}
	if pkt.Header.ProtocolVersion>>8 != ProtocolVersion>>8 {
		return pkt, fmt.Errorf("%w: got 0x%04x", ErrVersion, pkt.Header.ProtocolVersion)
	}
	unmarshalMDFrom(b[HeaderSize:], &pkt.MD)
	fcsOffset := HeaderSize + MDHeaderSize - 4
	gotHdrFCS := binary.BigEndian.Uint32(b[fcsOffset:])
	if !VerifyCRC32(b[:fcsOffset], gotHdrFCS) {
		return pkt, ErrCrcHeader
	}
	pkt.Header.FrameCheckSum = gotHdrFCS
	n := int(pkt.Header.DatasetLength)
	if err := checkLen(b, MDFrameSize+n+4, "MD payload"); err != nil {
		return pkt, fmt.Errorf("%w: %v", ErrLengthMismatch, err)
	}
	payload := b[MDFrameSize : MDFrameSize+n]
	gotPldFCS := binary.BigEndian.Uint32(b[MDFrameSize+n:])
	if !VerifyCRC32(payload, gotPldFCS) {
		return pkt, ErrCrcPayload
	}
	pkt.Payload = payload
	return pkt, nil
}

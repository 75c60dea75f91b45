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

import "encoding/binary"

// MDHeaderSize is the size in bytes of the MD trailer that follows the
// common Header (HeaderSize bytes) on an MD frame.
const MDHeaderSize = 32

// SessionIDSize is the width of an MD session identifier.
const SessionIDSize = 16

// SessionID uniquely identifies one MD transaction (notify has none;
// request/reply/confirm share one across the exchange).
type SessionID [SessionIDSize]byte

// MDHeader is the MD-specific trailer appended after the common Header.
// Together Header+MDHeader form the full MD packet prefix (spec.md §4.2).
//
// Wire layout (big-endian, offsets relative to the start of the trailer):
//
//	 0  [16]byte SessionID
//	16  uint32   ReplyTimeout   (ms, sender's patience for a reply)
//	20  uint32   NumExpReplies  (0 = don't care, for n:m request/reply)
//	24  uint32   NumReplies     (replies received so far, reply-query only)
//	28  uint32   FrameCheckSum  (CRC-32 over Header+MDHeader bytes 0..67)
type MDHeader struct {
	SessionID     SessionID
	ReplyTimeout  uint32
	NumExpReplies uint32
	NumReplies    uint32
}

func marshalMDTo(b []byte, h *MDHeader) {
	copy(b[0:SessionIDSize], h.SessionID[:])
	binary.BigEndian.PutUint32(b[16:], h.ReplyTimeout)
	binary.BigEndian.PutUint32(b[20:], h.NumExpReplies)
	binary.BigEndian.PutUint32(b[24:], h.NumReplies)
}

func unmarshalMDFrom(b []byte, h *MDHeader) {
	copy(h.SessionID[:], b[0:SessionIDSize])
	h.ReplyTimeout = binary.BigEndian.Uint32(b[16:])
	h.NumExpReplies = binary.BigEndian.Uint32(b[20:])
	h.NumReplies = binary.BigEndian.Uint32(b[24:])
}

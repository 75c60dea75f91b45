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

import "fmt"

// MessageType identifies the PD or MD frame kind (spec.md §3 "Header (wire)").
type MessageType uint16

// PD and MD message type codes.
const (
	// MessagePD is a cyclic push telegram.
	MessagePD MessageType = 0x5064 // "Pd"
	// MessagePP is a pull-request telegram (requester -> publisher).
	MessagePP MessageType = 0x5070 // "Pp"
	// MessagePR is a pull-reply telegram (publisher -> requester).
	MessagePR MessageType = 0x5072 // "Pr"

	// MessageMn is an MD notify (fire-and-forget).
	MessageMn MessageType = 0x4d6e // "Mn"
	// MessageMr is an MD request.
	MessageMr MessageType = 0x4d72 // "Mr"
	// MessageMp is an MD reply (terminal).
	MessageMp MessageType = 0x4d70 // "Mp"
	// MessageMq is an MD reply-query (expects a confirm).
	MessageMq MessageType = 0x4d71 // "Mq"
	// MessageMc is an MD confirm.
	MessageMc MessageType = 0x4d63 // "Mc"
	// MessageMe is an MD error/abort notification.
	MessageMe MessageType = 0x4d65 // "Me"
)

// messageTypeNames maps each MessageType to its protocol mnemonic.
var messageTypeNames = map[MessageType]string{
	MessagePD: "Pd",
	MessagePP: "Pp",
	MessagePR: "Pr",
	MessageMn: "Mn",
	MessageMr: "Mr",
	MessageMp: "Mp",
	MessageMq: "Mq",
	MessageMc: "Mc",
	MessageMe: "Me",
}

// String implements fmt.Stringer.
func (t MessageType) String() string {
	if s, ok := messageTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("MessageType(0x%04x)", uint16(t))
}

// IsPD reports whether t is one of the three PD message kinds.
func (t MessageType) IsPD() bool {
	switch t {
	case MessagePD, MessagePP, MessagePR:
		return true
	default:
		return false
	}
}

// IsMD reports whether t is one of the six MD message kinds.
func (t MessageType) IsMD() bool {
	switch t {
	case MessageMn, MessageMr, MessageMp, MessageMq, MessageMc, MessageMe:
		return true
	default:
		return false
	}
}

// ProbeMsgType peeks at the MsgType field of a raw frame without fully
// decoding or CRC-checking it, mirroring protocol.ProbeMsgType in the
// teacher's PTP codec (used by the socket multiplexer to decide which
// decoder/handler to dispatch to before paying the cost of a full decode).
func ProbeMsgType(b []byte) (MessageType, error) {
	if err := checkLen(b, 8, "message type probe"); err != nil {
		return 0, err
	}
	return MessageType(uint16(b[6])<<8 | uint16(b[7])), nil
}

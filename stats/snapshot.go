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

package stats

import (
	"encoding/binary"
	"errors"
	"net"
	"time"

	"github.com/T12z/TCNopen-sub000/protocol"
)

// errSnapshotTooShort is returned by UnmarshalBinary when given fewer than
// snapshotSize bytes.
var errSnapshotTooShort = errors.New("stats: snapshot buffer too short")

// SnapshotVersion identifies the wire layout of Snapshot's binary form, so
// a future field addition can be distinguished from this one.
const SnapshotVersion uint32 = 1

// snapshotSize is the fixed encoded length of Snapshot, in bytes.
const snapshotSize = 4 + 8 + 4 + 4 + 4 + 4 + 4*7 + 4*3

// Snapshot is the TRDP_STATISTICS_T-equivalent binary statistics telegram
// (spec.md §6), grounded on `trdp_types.h`'s TRDP_STATISTICS_T as exercised
// by test/diverse/getStats.c: a fixed-layout struct an ED can request over
// PD pull and decode without out-of-band schema. The C stack's VOS memory
// allocator counters have no Go equivalent and are omitted. Of the
// counters this package tracks, the per-message-type RX/TX counts other
// than Pd and the worker queue depths are not carried.
type Snapshot struct {
	Version       uint32
	TimeStamp     uint64 // unix nanoseconds when the snapshot was taken
	UpTime        uint32 // seconds since the counters were created
	StatisticTime uint32 // seconds since the last Reset
	OwnIPAddr     uint32 // big-endian IPv4, 0 if unknown/non-IPv4
	LeaderIPAddr  uint32 // big-endian IPv4, 0 if unknown/non-IPv4

	PDNumSubs    uint32
	PDNumPub     uint32
	PDNumRcv     uint32
	PDNumCrcErr  uint32
	PDNumNoSubs  uint32
	PDNumTimeout uint32
	PDNumSend    uint32

	MDNumSessions uint32
	MDNumTimeout  uint32
	MDNumFailed   uint32
}

// MarshalBinary encodes the snapshot as a fixed-size big-endian struct,
// stable across releases that only append fields behind a bumped
// SnapshotVersion.
func (sn Snapshot) MarshalBinary() ([]byte, error) {
	b := make([]byte, snapshotSize)
	binary.BigEndian.PutUint32(b[0:], sn.Version)
	binary.BigEndian.PutUint64(b[4:], sn.TimeStamp)
	binary.BigEndian.PutUint32(b[12:], sn.UpTime)
	binary.BigEndian.PutUint32(b[16:], sn.StatisticTime)
	binary.BigEndian.PutUint32(b[20:], sn.OwnIPAddr)
	binary.BigEndian.PutUint32(b[24:], sn.LeaderIPAddr)
	binary.BigEndian.PutUint32(b[28:], sn.PDNumSubs)
	binary.BigEndian.PutUint32(b[32:], sn.PDNumPub)
	binary.BigEndian.PutUint32(b[36:], sn.PDNumRcv)
	binary.BigEndian.PutUint32(b[40:], sn.PDNumCrcErr)
	binary.BigEndian.PutUint32(b[44:], sn.PDNumNoSubs)
	binary.BigEndian.PutUint32(b[48:], sn.PDNumTimeout)
	binary.BigEndian.PutUint32(b[52:], sn.PDNumSend)
	binary.BigEndian.PutUint32(b[56:], sn.MDNumSessions)
	binary.BigEndian.PutUint32(b[60:], sn.MDNumTimeout)
	binary.BigEndian.PutUint32(b[64:], sn.MDNumFailed)
	return b, nil
}

// UnmarshalBinary decodes a Snapshot previously produced by MarshalBinary.
func (sn *Snapshot) UnmarshalBinary(b []byte) error {
	if len(b) < snapshotSize {
		return errSnapshotTooShort
	}
	sn.Version = binary.BigEndian.Uint32(b[0:])
	sn.TimeStamp = binary.BigEndian.Uint64(b[4:])
	sn.UpTime = binary.BigEndian.Uint32(b[12:])
	sn.StatisticTime = binary.BigEndian.Uint32(b[16:])
	sn.OwnIPAddr = binary.BigEndian.Uint32(b[20:])
	sn.LeaderIPAddr = binary.BigEndian.Uint32(b[24:])
	sn.PDNumSubs = binary.BigEndian.Uint32(b[28:])
	sn.PDNumPub = binary.BigEndian.Uint32(b[32:])
	sn.PDNumRcv = binary.BigEndian.Uint32(b[36:])
	sn.PDNumCrcErr = binary.BigEndian.Uint32(b[40:])
	sn.PDNumNoSubs = binary.BigEndian.Uint32(b[44:])
	sn.PDNumTimeout = binary.BigEndian.Uint32(b[48:])
	sn.PDNumSend = binary.BigEndian.Uint32(b[52:])
	sn.MDNumSessions = binary.BigEndian.Uint32(b[56:])
	sn.MDNumTimeout = binary.BigEndian.Uint32(b[60:])
	sn.MDNumFailed = binary.BigEndian.Uint32(b[64:])
	return nil
}

func ip4ToUint32(ip net.IP) uint32 {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return binary.BigEndian.Uint32(v4)
}

// BinarySnapshot renders the current report (the values as of the last
// Snapshot call) as a TRDP_STATISTICS_T-equivalent Snapshot, for a caller
// publishing the statistics pull telegram (spec.md §6, PD_COMID
// TRDP_STATISTICS_PULL_COMID in the original stack).
func (s *JSONStats) BinarySnapshot(ownIP, leaderIP net.IP) Snapshot {
	r := &s.report
	return Snapshot{
		Version:       SnapshotVersion,
		TimeStamp:     uint64(time.Now().UnixNano()),
		UpTime:        uint32(time.Since(s.startedAt).Seconds()),
		StatisticTime: uint32(time.Since(s.resetAt).Seconds()),
		OwnIPAddr:     ip4ToUint32(ownIP),
		LeaderIPAddr:  ip4ToUint32(leaderIP),

		PDNumSubs: uint32(r.subscriptionsLive),
		PDNumPub:  uint32(r.publicationsLive),
		PDNumRcv:  uint32(r.rx.load(int(protocol.MessagePD))),

		PDNumCrcErr:  uint32(r.crcErrors),
		PDNumNoSubs:  uint32(r.dropped),
		PDNumTimeout: 0, // PD subscription timeouts are reported via the subscriber callback, not counted here
		PDNumSend:    uint32(r.tx.load(int(protocol.MessagePD))),

		MDNumSessions: uint32(r.mdSessionsActive),
		MDNumTimeout:  uint32(r.mdTimeouts),
		MDNumFailed:   uint32(r.mdFailed),
	}
}

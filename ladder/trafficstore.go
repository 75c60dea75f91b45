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

// Package ladder implements the dual-interface redundancy layer (IEC
// 61375-2-3 C7): a Traffic Store shared by two subnet sessions under a
// named mutex, and link-state-driven leader selection between them.
package ladder

import (
	"fmt"
	"sync"
)

// offsetReservation is one subscription's reserved slot in the store.
type offsetReservation struct {
	offset, length int
}

// TrafficStore is a contiguous byte region written at fixed offsets by
// whichever subnet session currently holds write leadership for a given
// subscription, and read by the application from the same offset
// regardless of which session wrote it (spec.md 4.7).
type TrafficStore struct {
	mu   sync.Mutex // the "named mutex": held by each Reserve, Write and Read call for its own duration
	buf  []byte
	byID map[uint32]offsetReservation
	next int
}

// NewTrafficStore returns a Traffic Store backed by size bytes.
func NewTrafficStore(size int) *TrafficStore {
	return &TrafficStore{
		buf:  make([]byte, size),
		byID: make(map[uint32]offsetReservation),
	}
}

// Reserve assigns subscriptionID a fixed offset of length bytes, stable
// for the life of the store. Reserving the same ID twice is a no-op and
// returns the existing offset.
func (ts *TrafficStore) Reserve(subscriptionID uint32, length int) (offset int, err error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if r, ok := ts.byID[subscriptionID]; ok {
		return r.offset, nil
	}
	if ts.next+length > len(ts.buf) {
		return 0, fmt.Errorf("trafficstore: out of space reserving %d bytes for subscription %d", length, subscriptionID)
	}
	offset = ts.next
	ts.byID[subscriptionID] = offsetReservation{offset: offset, length: length}
	ts.next += length
	return offset, nil
}

// Write stores payload at subscriptionID's reserved offset. It is the
// writer subnet's exclusive responsibility to call this; the invariant
// "no session writes into any offset the holder has not reserved" is
// enforced by Reserve always being called before the first Write.
func (ts *TrafficStore) Write(subscriptionID uint32, payload []byte) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	r, ok := ts.byID[subscriptionID]
	if !ok {
		return fmt.Errorf("trafficstore: subscription %d has no reserved offset", subscriptionID)
	}
	n := copy(ts.buf[r.offset:r.offset+r.length], payload)
	if n < r.length {
		// zero-pad any tail the payload didn't fill, so a shrinking
		// publication never leaks the previous snapshot's trailing bytes
		for i := r.offset + n; i < r.offset+r.length; i++ {
			ts.buf[i] = 0
		}
	}
	return nil
}

// Read returns a copy of the bytes at subscriptionID's reserved offset.
func (ts *TrafficStore) Read(subscriptionID uint32) ([]byte, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	r, ok := ts.byID[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("trafficstore: subscription %d has no reserved offset", subscriptionID)
	}
	out := make([]byte, r.length)
	copy(out, ts.buf[r.offset:r.offset+r.length])
	return out, nil
}

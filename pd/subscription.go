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

// Package pd implements the process-data side of a TRDP session: the
// subscriber table with timeout tracking (IEC 61375-2-3 C2) and the
// cyclic publisher scheduler (C3).
package pd

import (
	"net"
	"sync"
	"time"
)

// TimeoutBehaviour controls what happens to a subscription's cached
// payload when its arrival deadline passes with nothing received.
type TimeoutBehaviour int

const (
	// Keep retains the last received payload, flagged stale.
	Keep TimeoutBehaviour = iota
	// ZeroOnTimeout discards the cached payload; Payload then returns nil.
	ZeroOnTimeout
)

// Identity is the (ComId, serviceId, topo epoch) tuple that, together
// with the source/destination filters on a Subscription, decides which
// arriving PD telegrams match it.
type Identity struct {
	ComId        uint32
	ServiceId    uint32
	EtbTopoCnt   uint32
	OpTrnTopoCnt uint32
}

// Handle is an opaque reference to a live Subscription or Publication,
// stable across republish/resubscribe.
type Handle uint64

// Result codes passed to a subscription's callback.
type Result int

const (
	// ResultOK means a fresh, in-order payload was delivered.
	ResultOK Result = iota
	// ResultTimeout means the arrival deadline passed with nothing received.
	ResultTimeout
)

// Callback is invoked on delivery or timeout. payload is nil on timeout.
type Callback func(h Handle, result Result, payload []byte)

// Subscription is one entry in the subscriber table (spec.md "Subscription
// element"). Its fields are unexported; callers go through Table
// methods, which access them under the table's lock.
type Subscription struct {
	handle   Handle
	identity Identity

	srcIP1, srcIP2 net.IP
	destIP         net.IP // unicast destination or joined multicast group
	forceCB        bool

	timeout  time.Duration
	behavior TimeoutBehaviour
	callback Callback
	userRef  any

	mu         sync.Mutex
	payload    []byte
	lastSeq    uint32
	haveSeq    bool
	deadline   time.Time
	stale      bool
	generation uint64 // bumped by resubscribe, breaks matching ties
}

// Params are the caller-supplied attributes of a new subscription.
type Params struct {
	Identity       Identity
	SourceIP1      net.IP
	SourceIP2      net.IP
	DestIP         net.IP
	Timeout        time.Duration
	Behavior       TimeoutBehaviour
	ForceCB        bool
	Callback       Callback
	UserRef        any
}

func newSubscription(h Handle, p Params) *Subscription {
	return &Subscription{
		handle:   h,
		identity: p.Identity,
		srcIP1:   p.SourceIP1,
		srcIP2:   p.SourceIP2,
		destIP:   p.DestIP,
		timeout:  p.Timeout,
		behavior: p.Behavior,
		forceCB:  p.ForceCB,
		callback: p.Callback,
		userRef:  p.UserRef,
		deadline: time.Now().Add(p.Timeout),
	}
}

// Handle returns the subscription's stable handle.
func (s *Subscription) Handle() Handle { return s.handle }

// Payload returns the last delivered payload (nil if never delivered or
// zeroed by a ZeroOnTimeout timeout) and whether it is stale.
func (s *Subscription) Payload() (payload []byte, stale bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payload, s.stale
}

// matchesSource reports whether srcIP exactly equals one of the
// subscription's configured source filters, or whether the subscription
// is wildcard (both filters unset or 0.0.0.0).
func (s *Subscription) matchesSource(srcIP net.IP) (exact, wildcard bool) {
	wild1 := s.srcIP1 == nil || s.srcIP1.IsUnspecified()
	wild2 := s.srcIP2 == nil || s.srcIP2.IsUnspecified()
	if !wild1 && s.srcIP1.Equal(srcIP) {
		return true, false
	}
	if !wild2 && s.srcIP2.Equal(srcIP) {
		return true, false
	}
	if wild1 && wild2 {
		return false, true
	}
	return false, false
}

// acceptSequence applies the duplicate/out-of-order rule (spec.md 4.2
// "Sequence policy"): a sequence below the last accepted one is
// rejected; equal is accepted only for FORCE_CB subscriptions.
func (s *Subscription) acceptSequence(seq uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveSeq {
		return true
	}
	if seq > s.lastSeq {
		return true
	}
	if seq == s.lastSeq && s.forceCB {
		return true
	}
	return false
}

// deliver stores payload as the subscription's cached value, refreshes
// the arrival deadline, and invokes the callback with ResultOK.
func (s *Subscription) deliver(seq uint32, payload []byte) {
	s.mu.Lock()
	buf := make([]byte, len(payload))
	copy(buf, payload)
	s.payload = buf
	s.lastSeq = seq
	s.haveSeq = true
	s.stale = false
	s.deadline = time.Now().Add(s.timeout)
	cb := s.callback
	h := s.handle
	s.mu.Unlock()

	if cb != nil {
		cb(h, ResultOK, buf)
	}
}

// checkTimeout fires the timeout path if now is past the subscription's
// deadline, refreshing the deadline so the callback fires at most once
// per missed interval. It never destroys the subscription (spec.md 4.2).
func (s *Subscription) checkTimeout(now time.Time) {
	s.mu.Lock()
	if s.timeout <= 0 || now.Before(s.deadline) {
		s.mu.Unlock()
		return
	}
	s.deadline = now.Add(s.timeout)
	if s.behavior == ZeroOnTimeout {
		s.payload = nil
	} else {
		s.stale = true
	}
	cb := s.callback
	h := s.handle
	s.mu.Unlock()

	if cb != nil {
		cb(h, ResultTimeout, nil)
	}
}

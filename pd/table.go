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

package pd

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// comKey groups subscriptions by the cheap part of their identity, so
// Match doesn't have to scan every subscription in the table on every
// incoming packet.
type comKey struct {
	comID, serviceID uint32
}

// Table is the subscriber table (spec.md C2): a registry of
// Subscriptions keyed by handle, indexed by (ComId, serviceId) for
// matching. Safe for concurrent use; Match/Deliver are called from the
// receive path, CheckTimeouts from the work cycle — both non-blocking
// and allocation-bounded in the steady state.
type Table struct {
	mu       sync.RWMutex
	nextGen  uint64
	byHandle map[Handle]*Subscription
	byComKey map[comKey][]*Subscription
	nextID   uint64
}

// NewTable returns an empty subscriber table.
func NewTable() *Table {
	return &Table{
		byHandle: make(map[Handle]*Subscription),
		byComKey: make(map[comKey][]*Subscription),
	}
}

// Subscribe creates a new Subscription and returns its handle.
func (t *Table) Subscribe(p Params) Handle {
	h := Handle(atomic.AddUint64(&t.nextID, 1))
	s := newSubscription(h, p)

	t.mu.Lock()
	s.generation = t.bumpGen()
	t.byHandle[h] = s
	key := comKey{p.Identity.ComId, p.Identity.ServiceId}
	t.byComKey[key] = append(t.byComKey[key], s)
	t.mu.Unlock()

	return h
}

func (t *Table) bumpGen() uint64 {
	t.nextGen++
	return t.nextGen
}

// Resubscribe swaps the source filter of an existing subscription
// in place (spec.md C2 "resubscribe... swap source filter" /
// the inauguration hook decided for republish/resubscribe semantics).
// It bumps the subscription's generation so it wins future matching
// ties against subscriptions that have not been touched since.
func (t *Table) Resubscribe(h Handle, srcIP1, srcIP2 net.IP) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byHandle[h]
	if !ok {
		return false
	}
	s.mu.Lock()
	s.srcIP1, s.srcIP2 = srcIP1, srcIP2
	s.mu.Unlock()
	s.generation = t.bumpGen()
	return true
}

// Unsubscribe removes a subscription from the table.
func (t *Table) Unsubscribe(h Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byHandle[h]
	if !ok {
		return false
	}
	delete(t.byHandle, h)
	key := comKey{s.identity.ComId, s.identity.ServiceId}
	list := t.byComKey[key]
	for i, c := range list {
		if c == s {
			t.byComKey[key] = append(list[:i], list[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the subscription for h, if any.
func (t *Table) Get(h Handle) (*Subscription, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.byHandle[h]
	return s, ok
}

// Match applies the 5-step ordered matching rule of spec.md 4.2 and
// returns the winning subscription, if any.
func (t *Table) Match(identity Identity, srcIP, destIP net.IP) (*Subscription, bool) {
	t.mu.RLock()
	candidates := t.byComKey[comKey{identity.ComId, identity.ServiceId}]
	t.mu.RUnlock()

	var best *Subscription
	bestExact := false
	var bestGen uint64

	for _, s := range candidates {
		s.mu.Lock()
		topoMismatch := s.identity.EtbTopoCnt != identity.EtbTopoCnt ||
			s.identity.OpTrnTopoCnt != identity.OpTrnTopoCnt
		gen := s.generation
		destOK := s.destIP == nil || s.destIP.IsUnspecified() || !destIP.IsMulticast() || s.destIP.Equal(destIP)
		s.mu.Unlock()

		if topoMismatch || !destOK {
			continue
		}
		exact, wildcard := s.matchesSource(srcIP)
		if !exact && !wildcard {
			continue
		}
		if best == nil {
			best, bestExact, bestGen = s, exact, gen
			continue
		}
		// rule 3: exact source match outranks wildcard
		if exact && !bestExact {
			best, bestExact, bestGen = s, exact, gen
			continue
		}
		if exact == bestExact && gen > bestGen {
			// rule 5: most recently (re)subscribed wins among ties
			best, bestGen = s, gen
		}
	}
	return best, best != nil
}

// Deliver runs Match against the incoming header and, on a hit, applies
// the sequence policy and delivers the payload to the winning
// subscription's callback. It reports whether any subscription accepted
// the packet.
func (t *Table) Deliver(identity Identity, srcIP, destIP net.IP, seq uint32, payload []byte) bool {
	s, ok := t.Match(identity, srcIP, destIP)
	if !ok {
		return false
	}
	if !s.acceptSequence(seq) {
		return false
	}
	s.deliver(seq, payload)
	return true
}

// CheckTimeouts walks every subscription and fires the timeout path for
// any whose deadline has passed. Called once per work cycle; never
// blocks and never destroys a subscription.
func (t *Table) CheckTimeouts(now time.Time) {
	t.mu.RLock()
	subs := make([]*Subscription, 0, len(t.byHandle))
	for _, s := range t.byHandle {
		subs = append(subs, s)
	}
	t.mu.RUnlock()

	for _, s := range subs {
		s.checkTimeout(now)
	}
}

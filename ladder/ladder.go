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

package ladder

import (
	"net"
	"sync"

	"github.com/T12z/TCNopen-sub000/md"
	"github.com/T12z/TCNopen-sub000/pd"
)

// LinkState is the up/down signal the OS reports for one subnet
// interface; the ladder reacts to transitions, it never polls.
type LinkState int8

const (
	LinkDown LinkState = iota
	LinkUp
)

// Comparison is the ranked outcome of comparing two subnets' fitness to
// hold write leadership, mirroring the "which side is better" ranking a
// redundant clock selection makes between two candidate masters: a small
// signed scale rather than a bare boolean, so a caller can tell a clear
// win from a marginal one.
type Comparison int8

const (
	ABetter Comparison = 1
	Tie     Comparison = 0
	BBetter Comparison = -1
)

// compareLinks ranks subnet A against subnet B using, in order: link
// state (up beats down), then declared priority (lower wins), then
// interface name as a final deterministic tiebreak. This generalizes the
// cascading-criteria comparison pattern (link/priority/identity instead
// of grandmaster identity/priority/clock quality) used to rank two
// redundant masters down to a single winner.
func compareLinks(a, b *Subnet) Comparison {
	if a.link != b.link {
		if a.link == LinkUp {
			return ABetter
		}
		return BBetter
	}
	if a.priority != b.priority {
		if a.priority < b.priority {
			return ABetter
		}
		return BBetter
	}
	if a.name != b.name {
		if a.name < b.name {
			return ABetter
		}
		return BBetter
	}
	return Tie
}

// Subnet is one of the two redundant sessions a Ladder arbitrates
// between.
type Subnet struct {
	name     string
	priority int
	ownIP    net.IP

	PD *pd.Table
	MD *md.Registry

	link LinkState
}

// NewSubnet wraps an already-open session's PD/MD state as one side of a
// redundant pair. priority is a tiebreak only; lower wins when both
// sides report the same link state.
func NewSubnet(name string, priority int, ownIP net.IP, pdTable *pd.Table, mdRegistry *md.Registry) *Subnet {
	return &Subnet{name: name, priority: priority, ownIP: ownIP, PD: pdTable, MD: mdRegistry, link: LinkUp}
}

// Ladder binds two Subnets to a shared TrafficStore and arbitrates
// which one currently holds write leadership; there is one leader for
// the whole ladder, not one per subscription (spec.md 4.7). Deliver
// writes into the store only for payloads received on the leader.
// Publications and transmission stay with each subnet's own session.
type Ladder struct {
	mu      sync.Mutex
	a, b    *Subnet
	leader  *Subnet // nil until the first SetLinkState call decides one
	store   *TrafficStore
	onFlip  func(newLeader *Subnet)
	epochMu sync.Mutex // held across each onFlip call, spec.md 4.7 "same lock epoch"
}

// NewLadder returns a Ladder over two subnets and a freshly sized
// Traffic Store. onFlip, if non-nil, is called synchronously whenever
// leadership changes, inside the same lock epoch as the flip itself.
func NewLadder(a, b *Subnet, storeSize int, onFlip func(newLeader *Subnet)) *Ladder {
	return &Ladder{a: a, b: b, store: NewTrafficStore(storeSize), onFlip: onFlip}
}

// Store returns the Traffic Store shared by both subnets.
func (l *Ladder) Store() *TrafficStore { return l.store }

// Leader returns the subnet currently holding write leadership, or nil
// if neither subnet has reported a link state yet.
func (l *Ladder) Leader() *Subnet {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.leader
}

// SetLinkState updates one subnet's link state and re-arbitrates
// leadership. A flip calls onFlip, if set, while holding epochMu; the
// ladder itself republishes and resubscribes nothing, so any such
// re-pointing is up to onFlip (spec.md 4.7).
func (l *Ladder) SetLinkState(sub *Subnet, up bool) {
	l.mu.Lock()
	if up {
		sub.link = LinkUp
	} else {
		sub.link = LinkDown
	}
	newLeader := l.arbitrate()
	flipped := newLeader != l.leader
	l.leader = newLeader
	l.mu.Unlock()

	if flipped && newLeader != nil {
		l.inaugurate(newLeader)
	}
}

func (l *Ladder) arbitrate() *Subnet {
	switch compareLinks(l.a, l.b) {
	case ABetter:
		return l.a
	case BBetter:
		return l.b
	default:
		if l.leader != nil {
			return l.leader // tie: keep the incumbent rather than flap
		}
		return l.a
	}
}

// inaugurate calls onFlip with the new leader while holding epochMu, so
// the hooks of two successive flips never run concurrently (spec.md 4.7).
func (l *Ladder) inaugurate(newLeader *Subnet) {
	l.epochMu.Lock()
	defer l.epochMu.Unlock()

	if l.onFlip != nil {
		l.onFlip(newLeader)
	}
}

// IsLeader reports whether sub currently holds write leadership.
func (l *Ladder) IsLeader(sub *Subnet) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.leader == sub
}

// Deliver hands an inbound PD payload to sub's subscriber table
// regardless of leadership (both subnets always receive), then writes
// the accepted payload into the shared store only if sub is currently
// the leader, so a stale standby packet never overwrites a fresher
// leader snapshot.
func (l *Ladder) Deliver(sub *Subnet, identity pd.Identity, srcIP, destIP net.IP, seq uint32, subscriptionID uint32, payload []byte) bool {
	accepted := sub.PD.Deliver(identity, srcIP, destIP, seq, payload)
	if !accepted {
		return false
	}
	if l.IsLeader(sub) {
		if _, err := l.store.Reserve(subscriptionID, len(payload)); err == nil {
			_ = l.store.Write(subscriptionID, payload)
		}
	}
	return true
}

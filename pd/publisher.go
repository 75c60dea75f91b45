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

// PullMode is the sentinel interval marking a pull-mode publication: it
// never emits on its own and instead answers exactly one Pr on each
// incoming pull request (spec.md 4.3).
const PullMode time.Duration = 0

// Emitter sends one encoded PD frame to destIP. Supplied by the caller
// wiring a Publication to an actual socket; kept out of this package so
// the scheduler has no I/O dependency of its own.
type Emitter func(destIP net.IP, payload []byte, seq uint32) error

// Publication is one entry in the publisher scheduler (spec.md
// "Publication element"). Exactly one publication exists per identity;
// put/putImmediate are non-blocking and atomic with respect to the send
// loop that calls ProcessSend.
type Publication struct {
	handle   Handle
	identity Identity

	mu            sync.Mutex
	destIP        net.IP
	interval      time.Duration
	redundancyID  uint32
	leader        bool
	sequence      uint32
	payload       []byte
	nextEmit      time.Time
	dirty         bool
	sendImmediate bool
	emit          Emitter
}

// PublishParams are the caller-supplied attributes of a new publication.
type PublishParams struct {
	Identity     Identity
	DestIP       net.IP
	Interval     time.Duration
	RedundancyID uint32
	InitialData  []byte
	Emit         Emitter
}

func newPublication(h Handle, p PublishParams) *Publication {
	return &Publication{
		handle:       h,
		identity:     p.Identity,
		destIP:       p.DestIP,
		interval:     p.Interval,
		redundancyID: p.RedundancyID,
		payload:      append([]byte(nil), p.InitialData...),
		nextEmit:     time.Now().Add(p.Interval),
		leader:       true, // single publication defaults to leader until grouped
		emit:         p.Emit,
	}
}

// Handle returns the publication's stable handle.
func (p *Publication) Handle() Handle { return p.handle }

// Put atomically swaps the staged payload and bumps the sequence
// counter; the new snapshot is sent on the next due tick.
func (p *Publication) Put(payload []byte) {
	p.mu.Lock()
	p.payload = append([]byte(nil), payload...)
	p.sequence++
	p.dirty = true
	p.mu.Unlock()
}

// PutImmediate behaves like Put but also marks the publication for
// emission on the current tick regardless of its scheduling phase.
func (p *Publication) PutImmediate(payload []byte) {
	p.mu.Lock()
	p.payload = append([]byte(nil), payload...)
	p.sequence++
	p.dirty = true
	p.sendImmediate = true
	p.mu.Unlock()
}

// setLeader marks whether this publication is the active leader of its
// redundancy group (spec.md 4.3: "only the leader publication emits").
func (p *Publication) setLeader(leader bool) {
	p.mu.Lock()
	p.leader = leader
	p.mu.Unlock()
}

// Republish re-points the publication's destination (the decided
// inauguration semantics: republish swaps destination, resubscribe swaps
// source filter).
func (p *Publication) Republish(destIP net.IP) {
	p.mu.Lock()
	p.destIP = destIP
	p.mu.Unlock()
}

// Scheduler is the cyclic publisher scheduler (spec.md C3): it tracks
// every Publication's next-emit deadline and drives emission from a
// single-threaded work cycle, never from its own goroutine or ticker.
type Scheduler struct {
	mu       sync.RWMutex
	byHandle map[Handle]*Publication
	groups   map[uint32][]*Publication
	nextID   uint64
}

// NewScheduler returns an empty publisher scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		byHandle: make(map[Handle]*Publication),
		groups:   make(map[uint32][]*Publication),
	}
}

// Publish creates a new Publication and returns its handle.
func (s *Scheduler) Publish(p PublishParams) Handle {
	h := Handle(atomic.AddUint64(&s.nextID, 1))
	pub := newPublication(h, p)

	s.mu.Lock()
	s.byHandle[h] = pub
	if p.RedundancyID != 0 {
		group := s.groups[p.RedundancyID]
		// first publication to join a redundancy group leads it; later
		// joiners stay silent until SetLeader promotes them.
		pub.setLeader(len(group) == 0)
		s.groups[p.RedundancyID] = append(group, pub)
	}
	s.mu.Unlock()

	return h
}

// Unpublish destroys a publication.
func (s *Scheduler) Unpublish(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pub, ok := s.byHandle[h]
	if !ok {
		return false
	}
	delete(s.byHandle, h)
	if pub.redundancyID != 0 {
		group := s.groups[pub.redundancyID]
		for i, c := range group {
			if c == pub {
				s.groups[pub.redundancyID] = append(group[:i], group[i+1:]...)
				break
			}
		}
	}
	return true
}

// Get returns the publication for h, if any.
func (s *Scheduler) Get(h Handle) (*Publication, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pub, ok := s.byHandle[h]
	return pub, ok
}

// Range calls fn for every publication currently in the scheduler, in
// no particular order. fn must not call back into the Scheduler.
func (s *Scheduler) Range(fn func(p *Publication)) {
	s.mu.RLock()
	pubs := make([]*Publication, 0, len(s.byHandle))
	for _, pub := range s.byHandle {
		pubs = append(pubs, pub)
	}
	s.mu.RUnlock()

	for _, pub := range pubs {
		fn(pub)
	}
}

// SetLeader promotes or demotes a publication within its redundancy
// group (the session's leader IP decides this; spec.md 4.3).
func (s *Scheduler) SetLeader(h Handle, leader bool) bool {
	pub, ok := s.Get(h)
	if !ok {
		return false
	}
	pub.setLeader(leader)
	return true
}

// GetInterval returns the duration until the next publication is due,
// for the caller to size its select/poll wait. It never blocks.
func (s *Scheduler) GetInterval(now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var min time.Duration = -1
	for _, pub := range s.byHandle {
		pub.mu.Lock()
		interval, due := pub.interval, pub.nextEmit
		immediate := pub.sendImmediate
		pub.mu.Unlock()

		if interval == PullMode {
			continue // pull-mode publications never self-schedule
		}
		if immediate {
			return 0
		}
		d := due.Sub(now)
		if d < 0 {
			d = 0
		}
		if min < 0 || d < min {
			min = d
		}
	}
	if min < 0 {
		return time.Hour // nothing scheduled; caller should still poll for writes
	}
	return min
}

// ProcessSend emits every publication whose next-emit deadline has
// passed (or that was marked for immediate send by PutImmediate),
// skipping non-leader members of a redundancy group. next_emit always
// advances by exactly one interval rather than resetting to now+interval,
// so long-run cadence holds even after a slipped cycle (spec.md 4.3).
func (s *Scheduler) ProcessSend(now time.Time) {
	s.mu.RLock()
	pubs := make([]*Publication, 0, len(s.byHandle))
	for _, pub := range s.byHandle {
		pubs = append(pubs, pub)
	}
	s.mu.RUnlock()

	for _, pub := range pubs {
		pub.mu.Lock()
		due := pub.interval != PullMode && !now.Before(pub.nextEmit)
		fire := due || pub.sendImmediate
		if !fire {
			pub.mu.Unlock()
			continue
		}
		leader := pub.leader
		payload := pub.payload
		seq := pub.sequence
		dest := pub.destIP
		emit := pub.emit
		if due {
			pub.nextEmit = pub.nextEmit.Add(pub.interval)
		}
		pub.sendImmediate = false
		pub.dirty = false
		pub.mu.Unlock()

		if leader && emit != nil {
			_ = emit(dest, payload, seq)
		}
	}
}

// Pull answers a single pull request on a pull-mode publication,
// emitting the currently staged payload once without touching its
// (non-existent) schedule.
func (s *Scheduler) Pull(h Handle) error {
	pub, ok := s.Get(h)
	if !ok {
		return nil
	}
	pub.mu.Lock()
	payload := pub.payload
	seq := pub.sequence
	dest := pub.destIP
	emit := pub.emit
	pub.mu.Unlock()

	if emit == nil {
		return nil
	}
	return emit(dest, payload, seq)
}

// PullByIdentity answers a pull request addressed by identity rather than
// handle, the shape an incoming Pp telegram actually carries (spec.md
// 4.3 scenario S3). It is a no-op if no pull-mode publication matches.
func (s *Scheduler) PullByIdentity(identity Identity) error {
	s.mu.RLock()
	var target Handle
	found := false
	for h, pub := range s.byHandle {
		pub.mu.Lock()
		match := pub.identity == identity && pub.interval == PullMode
		pub.mu.Unlock()
		if match {
			target, found = h, true
			break
		}
	}
	s.mu.RUnlock()

	if !found {
		return nil
	}
	return s.Pull(target)
}

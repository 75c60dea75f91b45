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

// Package stats implements statistics collection and reporting for a
// session: the per-message-type counters and gauges that make up the
// TRDP_STATISTICS_T equivalent (spec.md §6), and the JSON/Prometheus
// exporters used to report them.
package stats

import (
	"fmt"
	"strings"
	"sync"

	"github.com/T12z/TCNopen-sub000/protocol"
)

// Stats is a metric collection interface, so a session can be wired to
// either exporter (or neither, in tests) without depending on its
// transport.
type Stats interface {
	// Start runs the exporter's reporting endpoint. Use for passive
	// reporters that serve on their own goroutine.
	Start(monitoringPort int)

	// Snapshot copies the live values so they can be reported atomically.
	Snapshot()

	// Reset atomically sets all the counters to 0.
	Reset()

	// IncRX atomically adds 1 to the receive counter for t.
	IncRX(t protocol.MessageType)
	// IncTX atomically adds 1 to the transmit counter for t.
	IncTX(t protocol.MessageType)
	// IncCRCError atomically adds 1 to the CRC-mismatch counter.
	IncCRCError()
	// IncDropped atomically adds 1 to the no-match-found counter.
	IncDropped()

	// IncSubscription atomically adds 1 to the live subscription gauge.
	IncSubscription()
	// DecSubscription atomically removes 1 from the live subscription gauge.
	DecSubscription()
	// IncPublication atomically adds 1 to the live publication gauge.
	IncPublication()
	// DecPublication atomically removes 1 from the live publication gauge.
	DecPublication()

	// IncMDSessionTimeout atomically adds 1 to the MD session timeout counter.
	IncMDSessionTimeout()
	// IncMDSessionFailed atomically adds 1 to the MD session failure counter.
	IncMDSessionFailed()
	// SetMDSessionsActive atomically sets the live MD session gauge.
	SetMDSessionsActive(n int64)

	// SetWorkerQueue atomically records workerid's queue depth if it
	// exceeds the previously recorded maximum.
	SetWorkerQueue(workerid int, queue int64)
}

// syncMapInt64 is a mutex-guarded map of int64 counters keyed by a small
// integer (a message type code or worker id).
type syncMapInt64 struct {
	sync.Mutex
	m map[int]int64
}

func (s *syncMapInt64) init() { s.m = make(map[int]int64) }

func (s *syncMapInt64) keys() []int {
	s.Lock()
	defer s.Unlock()
	keys := make([]int, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	return keys
}

func (s *syncMapInt64) load(key int) int64 {
	s.Lock()
	defer s.Unlock()
	return s.m[key]
}

func (s *syncMapInt64) inc(key int) {
	s.Lock()
	s.m[key]++
	s.Unlock()
}

func (s *syncMapInt64) store(key int, value int64) {
	s.Lock()
	s.m[key] = value
	s.Unlock()
}

func (s *syncMapInt64) copy(dst *syncMapInt64) {
	for _, k := range s.keys() {
		dst.store(k, s.load(k))
	}
}

func (s *syncMapInt64) reset() {
	s.Lock()
	for k := range s.m {
		s.m[k] = 0
	}
	s.Unlock()
}

// counters holds every raw value a session exposes as statistics.
type counters struct {
	rx          syncMapInt64
	tx          syncMapInt64
	workerQueue syncMapInt64

	crcErrors         int64
	dropped           int64
	subscriptionsLive int64
	publicationsLive  int64
	mdTimeouts        int64
	mdFailed          int64
	mdSessionsActive  int64
}

func (c *counters) init() {
	c.rx.init()
	c.tx.init()
	c.workerQueue.init()
}

func (c *counters) reset() {
	c.rx.reset()
	c.tx.reset()
	c.workerQueue.reset()
	c.crcErrors = 0
	c.dropped = 0
	c.subscriptionsLive = 0
	c.publicationsLive = 0
	c.mdTimeouts = 0
	c.mdFailed = 0
	c.mdSessionsActive = 0
}

// toMap flattens counters into the key/value shape both exporters serve.
func (c *counters) toMap() map[string]int64 {
	res := make(map[string]int64)

	for _, t := range c.rx.keys() {
		mt := strings.ToLower(protocol.MessageType(t).String())
		res[fmt.Sprintf("rx.%s", mt)] = c.rx.load(t)
	}
	for _, t := range c.tx.keys() {
		mt := strings.ToLower(protocol.MessageType(t).String())
		res[fmt.Sprintf("tx.%s", mt)] = c.tx.load(t)
	}
	for _, w := range c.workerQueue.keys() {
		res[fmt.Sprintf("worker.%d.queue", w)] = c.workerQueue.load(w)
	}

	res["crc_errors"] = c.crcErrors
	res["dropped"] = c.dropped
	res["subscriptions.live"] = c.subscriptionsLive
	res["publications.live"] = c.publicationsLive
	res["md.timeouts"] = c.mdTimeouts
	res["md.failed"] = c.mdFailed
	res["md.sessions_active"] = c.mdSessionsActive

	return res
}

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
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/T12z/TCNopen-sub000/protocol"
)

// JSONStats is what we report as stats via HTTP.
type JSONStats struct {
	report counters
	counters

	startedAt time.Time
	resetAt   time.Time
}

// NewJSONStats returns a new JSONStats.
func NewJSONStats() *JSONStats {
	now := time.Now()
	s := &JSONStats{startedAt: now, resetAt: now}
	s.init()
	s.report.init()
	return s
}

// Start runs an HTTP server serving the latest snapshot as JSON.
func (s *JSONStats) Start(monitoringPort int) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)
	addr := fmt.Sprintf(":%d", monitoringPort)
	log.Infof("stats: starting json server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("stats: failed to start listener: %v", err)
	}
}

// Snapshot copies the live values so they can be reported atomically.
func (s *JSONStats) Snapshot() {
	s.rx.copy(&s.report.rx)
	s.tx.copy(&s.report.tx)
	s.workerQueue.copy(&s.report.workerQueue)
	s.report.crcErrors = atomic.LoadInt64(&s.crcErrors)
	s.report.dropped = atomic.LoadInt64(&s.dropped)
	s.report.subscriptionsLive = atomic.LoadInt64(&s.subscriptionsLive)
	s.report.publicationsLive = atomic.LoadInt64(&s.publicationsLive)
	s.report.mdTimeouts = atomic.LoadInt64(&s.mdTimeouts)
	s.report.mdFailed = atomic.LoadInt64(&s.mdFailed)
	s.report.mdSessionsActive = atomic.LoadInt64(&s.mdSessionsActive)
}

func (s *JSONStats) handleRequest(w http.ResponseWriter, _ *http.Request) {
	js, err := json.Marshal(s.report.toMap())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(js); err != nil {
		log.Errorf("stats: failed to reply: %v", err)
	}
}

// Reset atomically sets all the counters to 0.
func (s *JSONStats) Reset() {
	s.reset()
	s.resetAt = time.Now()
}

// IncRX atomically adds 1 to the receive counter for t.
func (s *JSONStats) IncRX(t protocol.MessageType) { s.rx.inc(int(t)) }

// IncTX atomically adds 1 to the transmit counter for t.
func (s *JSONStats) IncTX(t protocol.MessageType) { s.tx.inc(int(t)) }

// IncCRCError atomically adds 1 to the CRC-mismatch counter.
func (s *JSONStats) IncCRCError() { atomic.AddInt64(&s.crcErrors, 1) }

// IncDropped atomically adds 1 to the no-match-found counter.
func (s *JSONStats) IncDropped() { atomic.AddInt64(&s.dropped, 1) }

// IncSubscription atomically adds 1 to the live subscription gauge.
func (s *JSONStats) IncSubscription() { atomic.AddInt64(&s.subscriptionsLive, 1) }

// DecSubscription atomically removes 1 from the live subscription gauge.
func (s *JSONStats) DecSubscription() { atomic.AddInt64(&s.subscriptionsLive, -1) }

// IncPublication atomically adds 1 to the live publication gauge.
func (s *JSONStats) IncPublication() { atomic.AddInt64(&s.publicationsLive, 1) }

// DecPublication atomically removes 1 from the live publication gauge.
func (s *JSONStats) DecPublication() { atomic.AddInt64(&s.publicationsLive, -1) }

// IncMDSessionTimeout atomically adds 1 to the MD session timeout counter.
func (s *JSONStats) IncMDSessionTimeout() { atomic.AddInt64(&s.mdTimeouts, 1) }

// IncMDSessionFailed atomically adds 1 to the MD session failure counter.
func (s *JSONStats) IncMDSessionFailed() { atomic.AddInt64(&s.mdFailed, 1) }

// SetMDSessionsActive atomically sets the live MD session gauge.
func (s *JSONStats) SetMDSessionsActive(n int64) { atomic.StoreInt64(&s.mdSessionsActive, n) }

// SetWorkerQueue atomically records workerid's queue depth if it exceeds
// the previously recorded maximum.
func (s *JSONStats) SetWorkerQueue(workerid int, queue int64) {
	if queue > s.workerQueue.load(workerid) {
		s.workerQueue.store(workerid, queue)
	}
}

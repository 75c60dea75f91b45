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

// WorkerPool spreads publications across a fixed number of logical
// workers, each with its own Scheduler, so a single process_send call
// can be parallelised by a caller that owns one goroutine per worker.
// Placement picks the least-loaded worker by publication count, not
// round robin, so a burst of short-lived publish/unpublish pairs on one
// worker doesn't starve the others.
type WorkerPool struct {
	workers []*Scheduler
	load    []int64
}

// NewWorkerPool returns a pool of n Schedulers. n must be >= 1.
func NewWorkerPool(n int) *WorkerPool {
	if n < 1 {
		n = 1
	}
	wp := &WorkerPool{
		workers: make([]*Scheduler, n),
		load:    make([]int64, n),
	}
	for i := range wp.workers {
		wp.workers[i] = NewScheduler()
	}
	return wp
}

// leastBusyWorkerID returns the index of the worker currently holding the
// fewest publications.
func (wp *WorkerPool) leastBusyWorkerID() int {
	best := 0
	for i, load := range wp.load {
		if i == 0 || load < wp.load[best] {
			best = i
		}
	}
	return best
}

// Publish creates a publication on the least busy worker and returns
// both its handle and which worker owns it.
func (wp *WorkerPool) Publish(p PublishParams) (h Handle, workerID int) {
	workerID = wp.leastBusyWorkerID()
	h = wp.workers[workerID].Publish(p)
	wp.load[workerID]++
	return h, workerID
}

// Unpublish removes a publication from the worker that owns it.
func (wp *WorkerPool) Unpublish(workerID int, h Handle) bool {
	if workerID < 0 || workerID >= len(wp.workers) {
		return false
	}
	ok := wp.workers[workerID].Unpublish(h)
	if ok {
		wp.load[workerID]--
	}
	return ok
}

// PullByIdentity routes an incoming pull request to whichever worker
// owns the matching pull-mode publication, if any.
func (wp *WorkerPool) PullByIdentity(identity Identity) error {
	for _, w := range wp.workers {
		if err := w.PullByIdentity(identity); err != nil {
			return err
		}
	}
	return nil
}

// Worker returns the Scheduler for workerID, for the caller's own
// GetInterval/ProcessSend work-cycle loop.
func (wp *WorkerPool) Worker(workerID int) *Scheduler {
	if workerID < 0 || workerID >= len(wp.workers) {
		return nil
	}
	return wp.workers[workerID]
}

// Len returns the number of workers in the pool.
func (wp *WorkerPool) Len() int { return len(wp.workers) }

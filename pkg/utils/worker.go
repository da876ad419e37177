// Copyright 2024 Gridtiff Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"sync/atomic"
)

// Job is one unit of work for the queue pool. Do runs the work and
// records any failure so that Err can report it to the consumer.
type Job interface {
	Do() error
	Err() error
}

type jobEntry struct {
	idx int
	job Job
}

// QueueWorkerPool runs jobs on a fixed set of workers while preserving
// submission order on the consumer side: Waiter returns one channel
// per submitted job, index-aligned with the Put order.
type QueueWorkerPool struct {
	queue   chan jobEntry
	results []chan Job
	next    uint64
}

func NewQueueWorkerPool(worker uint, total uint) *QueueWorkerPool {
	pool := &QueueWorkerPool{
		queue:   make(chan jobEntry, total),
		results: make([]chan Job, total),
	}
	for idx := range pool.results {
		pool.results[idx] = make(chan Job, 1)
	}

	for count := uint(0); count < worker; count++ {
		go func() {
			for entry := range pool.queue {
				entry.job.Do()
				pool.results[entry.idx] <- entry.job
			}
		}()
	}

	return pool
}

// Put submits one job. Submitting more jobs than the pool's total is a
// programming error and panics.
func (pool *QueueWorkerPool) Put(job Job) {
	idx := atomic.AddUint64(&pool.next, 1) - 1
	if idx >= uint64(len(pool.results)) {
		panic("worker pool capacity exceeded")
	}
	pool.queue <- jobEntry{idx: int(idx), job: job}
	if idx == uint64(len(pool.results))-1 {
		close(pool.queue)
	}
}

// Waiter returns the per-job result channels in submission order.
func (pool *QueueWorkerPool) Waiter() []chan Job {
	return pool.results
}

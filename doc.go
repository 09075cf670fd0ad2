// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package msq provides an unbounded lock-free FIFO queue.
//
// [MSQueue] is a multi-producer multi-consumer linked queue (Michael-Scott)
// whose unlinked nodes are recycled through hazard pointers instead of
// being left to leak or to the garbage collector.
//
// # Quick Start
//
// Direct constructor (recommended for most cases):
//
//	q := msq.NewMSQueue[Event]()
//
// Builder API for tuning storage and reclamation:
//
//	q := msq.Build[Event](msq.New().ChunkSize(1024).RetireThreshold(128))
//
// # Basic Usage
//
//	q := msq.NewMSQueue[int]()
//
//	// Enqueue (non-blocking, never fails)
//	value := 42
//	q.Enqueue(&value)
//
//	// Dequeue (non-blocking)
//	elem, err := q.Dequeue()
//	if msq.IsWouldBlock(err) {
//	    // Queue is empty - try again later
//	}
//
// # Common Patterns
//
// Worker Pool:
//
//	jobs := msq.NewMSQueue[Job]()
//
//	for range numWorkers {
//	    go func() {
//	        backoff := iox.Backoff{}
//	        for {
//	            job, err := jobs.Dequeue()
//	            if err != nil {
//	                backoff.Wait()
//	                continue
//	            }
//	            backoff.Reset()
//	            job.Run()
//	        }
//	    }()
//	}
//
//	// Submit from anywhere
//	func Submit(j Job) {
//	    jobs.Enqueue(&j)
//	}
//
// # Algorithm
//
// The list always begins with a sentinel node whose value is already
// consumed. head references the sentinel; tail references the last node or,
// transiently, its predecessor.
//
//	Enqueue: link the new node after the last node by CAS on its next
//	         handle (linearization point), then swing tail by CAS.
//	Dequeue: advance head to the sentinel's successor by CAS
//	         (linearization point); the successor becomes the new sentinel
//	         and the winner takes its value.
//
// An operation that finds tail lagging helps advance it before retrying, so
// a stalled goroutine never prevents others from completing.
//
// # Memory Reclamation
//
// Nodes live in a slab of geometrically growing buckets and are addressed
// by 64-bit handles: a 32-bit slot index plus a 32-bit incarnation. Each
// operation publishes the handles it dereferences in a hazard record. A
// dequeued sentinel is retired to the record and returned to a lock-free
// free list once a scan finds no hazard on it. Memory is reused, never
// returned to the runtime.
//
// Two mechanisms exclude ABA:
//   - Hazard pointers keep a node from being recycled while any goroutine
//     may still compare against or read it.
//   - Incarnation tags make a recycled slot's handle differ from its
//     previous handle.
//
// Retired nodes not yet reclaimed are bounded by the number of concurrent
// goroutines times the retire threshold. [MSQueue.Reclaim] flushes idle
// records; [MSQueue.Stats] reports the accounting.
//
// # Error Handling
//
// Dequeue returns [ErrWouldBlock] on an empty queue. This error is sourced
// from [code.hybscloud.com/iox] for ecosystem consistency and is a control
// flow signal, not a failure:
//
//	msq.IsWouldBlock(err)  // true if queue empty
//	msq.IsSemantic(err)    // true if control flow signal
//	msq.IsNonFailure(err)  // true if nil or ErrWouldBlock
//
// Lost CAS races are retried internally and never surfaced. Exhausting the
// 2^32-1 node handles panics; the queue is left unchanged.
//
// # Length
//
// Length is intentionally not provided because accurate counts in lock-free
// algorithms require expensive cross-core synchronization. [MSQueue.Empty]
// is an advisory snapshot.
//
// # Race Detection
//
// Node values are plain fields whose visibility is ordered by atomix
// acquire-release operations on node handles. Go's race detector cannot
// observe that ordering and may report false positives. Tests incompatible
// with race detection are excluded via //go:build !race or [RaceEnabled].
//
// # Dependencies
//
// This package uses [code.hybscloud.com/iox] for semantic errors,
// [code.hybscloud.com/atomix] for atomic primitives with explicit
// memory ordering, and [code.hybscloud.com/spin] for CPU pause instructions.
package msq

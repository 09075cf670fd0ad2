// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package msq

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"

	"code.hybscloud.com/msq/internal/hazard"
)

// Hazard slots used by queue operations.
const (
	hpHead = 0 // head (Dequeue) or tail (Enqueue) snapshot
	hpNext = 1 // successor of the head snapshot
)

// MSQueue is an unbounded lock-free multi-producer multi-consumer FIFO queue.
//
// Based on the Michael-Scott queue (PODC 1996) with hazard-pointer memory
// reclamation (Michael, IEEE TPDS 2004). The list always starts with a
// sentinel node whose value has already been consumed; head references the
// sentinel and tail references the last node or its predecessor.
//
// Nodes are stored in a slab and referenced by 64-bit handles carrying a
// per-slot incarnation. Unlinked sentinels are retired to the hazard domain
// and recycled once no goroutine holds a hazard on them.
//
// Memory: one node per queued element plus a bounded number of retired
// nodes awaiting reclamation (proportional to goroutines × threshold).
type MSQueue[T any] struct {
	_    pad
	head atomix.Uint64 // sentinel handle
	_    pad
	tail atomix.Uint64 // last node or its predecessor
	_    pad
	pool nodePool[T]
	dom  *hazard.Domain
}

// NewMSQueue creates an empty queue with default options.
func NewMSQueue[T any]() *MSQueue[T] {
	return newMSQueue[T](defaultOptions())
}

func newMSQueue[T any](opts Options) *MSQueue[T] {
	q := &MSQueue[T]{}
	q.pool.init(opts.chunkSize)
	q.dom = hazard.NewDomain(opts.retireThreshold, q.pool.put)

	sentinel, _ := q.pool.get()
	q.head.StoreRelaxed(sentinel)
	q.tail.StoreRelaxed(sentinel)
	return q
}

// Enqueue appends a copy of *elem to the queue.
// Always returns nil; the queue is unbounded.
//
// Linearizes at the CAS that links the new node after the last node.
func (q *MSQueue[T]) Enqueue(elem *T) error {
	// Copy before taking a slot: a nil elem must not strand one.
	v := *elem
	h, n := q.pool.get()
	n.value = v

	rec := q.dom.Acquire()
	sw := spin.Wait{}
	for {
		t := q.tail.LoadAcquire()
		rec.Protect(hpHead, t)
		if q.tail.Load() != t {
			continue
		}

		last := q.pool.at(t)
		next := last.next.LoadAcquire()
		if next != nilHandle {
			// Tail lags behind a linked node: help it along.
			q.tail.CompareAndSwapAcqRel(t, next)
			continue
		}
		if last.next.CompareAndSwapAcqRel(nilHandle, h) {
			// Failure means another goroutine already advanced tail.
			q.tail.CompareAndSwapAcqRel(t, h)
			break
		}
		sw.Once()
	}
	rec.Release()
	return nil
}

// Dequeue removes and returns the oldest element.
// Returns (zero-value, ErrWouldBlock) if the queue is empty.
//
// Linearizes at the CAS that advances head, or at the read of a nil
// successor when empty.
func (q *MSQueue[T]) Dequeue() (T, error) {
	rec := q.dom.Acquire()
	sw := spin.Wait{}
	for {
		h := q.head.LoadAcquire()
		rec.Protect(hpHead, h)
		if q.head.Load() != h {
			continue
		}

		t := q.tail.LoadAcquire()
		next := q.pool.at(h).next.LoadAcquire()
		rec.Protect(hpNext, next)
		if q.head.Load() != h {
			continue
		}

		if next == nilHandle {
			rec.Release()
			var zero T
			return zero, ErrWouldBlock
		}
		if h == t {
			q.tail.CompareAndSwapAcqRel(t, next)
			continue
		}
		if q.head.CompareAndSwapAcqRel(h, next) {
			// Only the winner reads the value; next is the new sentinel
			// and stays protected until Clear.
			n := q.pool.at(next)
			elem := n.value
			var zero T
			n.value = zero

			rec.Clear(hpNext)
			rec.Clear(hpHead)
			rec.Retire(h)
			rec.Release()
			return elem, nil
		}
		sw.Once()
	}
}

// Empty reports whether the queue had no elements at the moment of the call.
// The result is advisory under concurrent use.
func (q *MSQueue[T]) Empty() bool {
	rec := q.dom.Acquire()
	defer rec.Release()
	for {
		h := q.head.LoadAcquire()
		rec.Protect(hpHead, h)
		if q.head.Load() != h {
			continue
		}
		return q.pool.at(h).next.LoadAcquire() == nilHandle
	}
}

// Reclaim recycles retired nodes held by idle hazard records.
// It never blocks; records in use by concurrent operations are skipped.
func (q *MSQueue[T]) Reclaim() {
	q.dom.Flush()
}

// Stats returns reclamation counters.
func (q *MSQueue[T]) Stats() Stats {
	return Stats{
		Slots:     q.pool.slots(),
		Retired:   q.dom.Retired(),
		Reclaimed: q.dom.Reclaimed(),
		Records:   q.dom.Records(),
	}
}

// Stats is a snapshot of a queue's node accounting.
//
// Counters are updated in batches by the goroutines that retire and scan,
// so a snapshot taken under concurrency may lag.
type Stats struct {
	Slots     uint64 // node slots ever allocated from the slab
	Retired   uint64 // sentinels unlinked by Dequeue
	Reclaimed uint64 // retired nodes returned to the free list
	Records   int    // hazard records created
}

// Pending returns the number of retired nodes not yet reclaimed.
func (s Stats) Pending() uint64 {
	return s.Retired - s.Reclaimed
}

// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package msq

// Queue is the combined producer-consumer interface for a FIFO queue.
//
// Queue provides non-blocking Enqueue and Dequeue operations. Enqueue never
// fails on an unbounded queue; Dequeue returns ErrWouldBlock when empty.
//
// The interface intentionally excludes length because accurate counts in
// lock-free algorithms require expensive cross-core synchronization.
// Track counts in application logic when needed.
//
// Example:
//
//	var q msq.Queue[int] = msq.NewMSQueue[int]()
//
//	val := 42
//	q.Enqueue(&val)
//
//	elem, err := q.Dequeue()
//	if err == nil {
//	    fmt.Println(elem)
//	}
type Queue[T any] interface {
	Producer[T]
	Consumer[T]
}

// Producer is the interface for enqueueing elements.
//
// The element is passed by pointer to avoid copying large structs at the
// call site. The queue stores a copy of the pointed-to value, so the
// original can be modified after Enqueue returns.
type Producer[T any] interface {
	// Enqueue adds an element to the queue (non-blocking).
	// Safe for any number of concurrent producers.
	Enqueue(elem *T) error
}

// Consumer is the interface for dequeueing elements.
//
// The element is returned by value. The queue drops its reference to the
// element so referenced objects can be garbage collected.
type Consumer[T any] interface {
	// Dequeue removes and returns the oldest element (non-blocking).
	// Returns (zero-value, ErrWouldBlock) if the queue is empty.
	// Safe for any number of concurrent consumers.
	Dequeue() (T, error)
}

// Reclaimer exposes node reclamation of queues that recycle memory.
type Reclaimer interface {
	// Reclaim recycles retired nodes that no goroutine can still observe.
	Reclaim()
	// Stats returns a snapshot of node accounting.
	Stats() Stats
}

var (
	_ Queue[int] = (*MSQueue[int])(nil)
	_ Reclaimer  = (*MSQueue[int])(nil)
)

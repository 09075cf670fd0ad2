// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package msq

import "unsafe"

const (
	defaultChunkSize       = 64
	defaultRetireThreshold = 64
)

// Options configures queue creation.
type Options struct {
	// Node storage: size of the first slab bucket (power of 2).
	// Later buckets double, so growth needs O(log n) allocations.
	chunkSize int

	// Reclamation: minimum retired nodes per hazard record before a scan.
	retireThreshold int
}

func defaultOptions() Options {
	return Options{
		chunkSize:       defaultChunkSize,
		retireThreshold: defaultRetireThreshold,
	}
}

// Builder creates queues with fluent configuration.
//
// Example:
//
//	// Defaults
//	q := msq.Build[Event](msq.New())
//
//	// Large initial bucket, lazier reclamation
//	q := msq.Build[*Request](msq.New().ChunkSize(4096).RetireThreshold(256))
type Builder struct {
	opts Options
}

// New creates a queue builder with default options.
func New() *Builder {
	return &Builder{opts: defaultOptions()}
}

// ChunkSize sets the number of nodes in the first storage bucket.
// Rounds up to the next power of 2. Each later bucket doubles in size.
//
// Panics if n < 2.
func (b *Builder) ChunkSize(n int) *Builder {
	if n < 2 {
		panic("msq: chunk size must be >= 2")
	}
	b.opts.chunkSize = roundToPow2(n)
	return b
}

// RetireThreshold sets how many unlinked nodes a hazard record collects
// before scanning for reclaimable ones.
//
// Lower values recycle memory sooner at the cost of more frequent scans.
// The effective threshold never drops below 2 × hazard slots × records, so
// every scan reclaims at least half of what it inspects.
//
// Panics if n < 1.
func (b *Builder) RetireThreshold(n int) *Builder {
	if n < 1 {
		panic("msq: retire threshold must be >= 1")
	}
	b.opts.retireThreshold = n
	return b
}

// Build creates an MSQueue[T] from the builder's options.
func Build[T any](b *Builder) *MSQueue[T] {
	return newMSQueue[T](b.opts)
}

// roundToPow2 rounds n up to the next power of 2.
func roundToPow2(n int) int {
	if n < 2 {
		return 2
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

// ptrSize is the size of a pointer in bytes.
const ptrSize = int(unsafe.Sizeof(uintptr(0)))

// pad is cache line padding to prevent false sharing.
type pad [64]byte

// padPtr is padding to fill cache line after pointer-sized field.
type padPtr [64 - ptrSize]byte

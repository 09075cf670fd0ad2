// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package slab provides lock-free, index-addressed storage that grows in
// geometric buckets and never moves or frees an element once allocated.
//
// Bucket k holds base<<k elements. Index i lives in bucket
// k = log2(i+base) - log2(base) at offset (i+base) - (base<<k). Buckets are
// created on first use by CAS on the bucket directory; the loser of a race
// drops its allocation.
//
// Because elements are never released, a stale index always refers to valid
// memory. Callers layer their own reuse protocol on top (free lists,
// generation tags, hazard pointers).
package slab

import (
	"math/bits"
	"sync/atomic"
)

// MaxIndex is the largest index a Slab can address.
const MaxIndex = 1<<32 - 2

// buckets covers MaxIndex for any base >= 2.
const buckets = 33

// Slab is a growable array of E addressed by uint32 index.
type Slab[E any] struct {
	dir   [buckets]atomic.Pointer[[]E]
	order uint // log2(base)
}

// New creates a Slab whose first bucket holds base elements.
// base must be a power of 2 and >= 2.
func New[E any](base int) *Slab[E] {
	if base < 2 || base&(base-1) != 0 {
		panic("slab: base must be a power of 2 >= 2")
	}
	return &Slab[E]{order: uint(bits.TrailingZeros(uint(base)))}
}

func (s *Slab[E]) locate(i uint32) (k int, off uint64) {
	pos := uint64(i) + 1<<s.order
	k = bits.Len64(pos) - 1 - int(s.order)
	off = pos - (uint64(1)<<s.order)<<k
	return k, off
}

// At returns the element at index i.
// The bucket holding i must have been created by Ensure.
func (s *Slab[E]) At(i uint32) *E {
	k, off := s.locate(i)
	return &(*s.dir[k].Load())[off]
}

// Get returns the element at index i, or nil if its bucket does not exist.
func (s *Slab[E]) Get(i uint32) *E {
	k, off := s.locate(i)
	b := s.dir[k].Load()
	if b == nil {
		return nil
	}
	return &(*b)[off]
}

// Ensure returns the element at index i, creating its bucket if needed.
func (s *Slab[E]) Ensure(i uint32) *E {
	if i > MaxIndex {
		panic("slab: index out of range")
	}
	k, off := s.locate(i)
	b := s.dir[k].Load()
	if b == nil {
		fresh := make([]E, uint64(1)<<s.order<<k)
		if s.dir[k].CompareAndSwap(nil, &fresh) {
			b = &fresh
		} else {
			b = s.dir[k].Load()
		}
	}
	return &(*b)[off]
}

// Cap returns the number of elements in buckets created so far.
func (s *Slab[E]) Cap() int {
	n := 0
	for k := range s.dir {
		if b := s.dir[k].Load(); b != nil {
			n += len(*b)
		}
	}
	return n
}

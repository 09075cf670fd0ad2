// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package msq

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"

	"code.hybscloud.com/msq/internal/slab"
)

// nilHandle marks the absence of a node.
const nilHandle = 0

// indexMask extracts the slot part of a handle or free-list word.
const indexMask = 1<<32 - 1

// node is a queue cell. Nodes live in the pool's slab and are addressed by
// handle; they are recycled, never freed.
type node[T any] struct {
	next  atomix.Uint64 // successor handle, nilHandle if last
	free  atomix.Uint64 // free-list link (index+1), valid while pooled
	gen   uint32        // incarnation, owned by the allocator
	value T
}

// makeHandle packs an incarnation and a slot index.
// Layout: gen<<32 | (index+1). A handle is never nilHandle.
func makeHandle(gen, idx uint32) uint64 {
	return uint64(gen)<<32 | uint64(idx+1)
}

func handleIndex(h uint64) uint32 {
	return uint32(h&indexMask) - 1
}

// nodePool hands out nodes from a lock-free free list (Treiber stack),
// falling back to fresh slab slots when the list is empty.
//
// The free-list top carries a 32-bit version counter in its high half so a
// pop that read a stale successor fails its CAS.
type nodePool[T any] struct {
	_     pad
	top   atomix.Uint64 // version<<32 | (index+1)
	_     pad
	fresh atomix.Uint64 // next never-used slot
	_     pad
	slab  *slab.Slab[node[T]]
	_     padPtr
}

func (p *nodePool[T]) init(chunkSize int) {
	p.slab = slab.New[node[T]](chunkSize)
}

// at resolves a handle. The slot must have been allocated by get.
func (p *nodePool[T]) at(h uint64) *node[T] {
	return p.slab.At(handleIndex(h))
}

// get returns a node with nil next and a zero value, and its new handle.
// Panics when the handle space is exhausted.
func (p *nodePool[T]) get() (uint64, *node[T]) {
	sw := spin.Wait{}
	for {
		top := p.top.LoadAcquire()
		if top&indexMask == 0 {
			break
		}
		idx := uint32(top&indexMask) - 1
		n := p.slab.At(idx)
		succ := n.free.LoadAcquire()
		if p.top.CompareAndSwapAcqRel(top, (top>>32+1)<<32|succ) {
			n.gen++
			n.next.StoreRelaxed(nilHandle)
			return makeHandle(n.gen, idx), n
		}
		sw.Once()
	}

	i := p.fresh.AddAcqRel(1) - 1
	if i > slab.MaxIndex {
		panic("msq: node handles exhausted")
	}
	n := p.slab.Ensure(uint32(i))
	n.gen++
	return makeHandle(n.gen, uint32(i)), n
}

// put returns a node to the free list. The caller must guarantee that no
// goroutine can still dereference h.
func (p *nodePool[T]) put(h uint64) {
	idx := handleIndex(h)
	n := p.slab.At(idx)
	var zero T
	n.value = zero

	sw := spin.Wait{}
	for {
		top := p.top.LoadAcquire()
		n.free.StoreRelease(top & indexMask)
		if p.top.CompareAndSwapAcqRel(top, (top>>32+1)<<32|uint64(idx+1)) {
			return
		}
		sw.Once()
	}
}

// slots returns the number of slab slots ever handed out.
func (p *nodePool[T]) slots() uint64 {
	return min(p.fresh.LoadAcquire(), slab.MaxIndex+1)
}

// pooled counts nodes on the free list. Only meaningful while quiescent.
func (p *nodePool[T]) pooled() int {
	n := 0
	for link := p.top.LoadAcquire() & indexMask; link != 0; n++ {
		link = p.slab.At(uint32(link)-1).free.LoadAcquire() & indexMask
	}
	return n
}

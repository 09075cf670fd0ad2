// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package hazard implements hazard-pointer memory reclamation over
// integer handles.
//
// Based on Michael, "Hazard Pointers: Safe Memory Reclamation for Lock-Free
// Objects" (IEEE TPDS 2004). A goroutine acquires a [Record] for the span of
// one operation, publishes the handles it is about to dereference, and
// retires handles it has unlinked. A retired handle is passed to the
// domain's reclaim function only after a scan finds it in no record's
// hazard slots.
//
// Protocol for a reader:
//
//	rec := dom.Acquire()
//	for {
//	    h := src.LoadAcquire()
//	    rec.Protect(0, h)
//	    if src.Load() == h {
//	        break // h stays valid until rec.Clear(0) or rec.Release()
//	    }
//	}
//	...
//	rec.Release()
//
// Handle 0 is the nil handle and is never protected or reclaimed.
//
// Records are never freed. Released records keep their retired lists and
// are handed to the next Acquire, so retired handles are never orphaned.
package hazard

import (
	"slices"

	"code.hybscloud.com/atomix"
	"golang.org/x/sys/cpu"

	"code.hybscloud.com/msq/internal/slab"
)

// Slots is the number of hazard slots per record.
const Slots = 2

// recordBase is the size of the first record bucket.
const recordBase = 8

// Record is a per-operation hazard record.
//
// A Record is owned by exactly one goroutine between Acquire and Release.
// Only the owner may call Protect, Clear, Retire, Scan or Release.
type Record struct {
	_       cpu.CacheLinePad
	active  atomix.Uint64
	hazards [Slots]atomix.Uint64
	retired []uint64
	fresh   uint64 // retired since last report
	dom     *Domain
	_       cpu.CacheLinePad
}

// Domain is a set of hazard records sharing one reclaim function.
type Domain struct {
	records   *slab.Slab[Record]
	count     atomix.Uint64 // records published
	hint      atomix.Uint64 // where Acquire starts looking
	threshold int
	reclaim   func(h uint64)

	retiredTotal   atomix.Uint64
	reclaimedTotal atomix.Uint64
}

// NewDomain creates a hazard domain.
//
// threshold is the minimum retired-list length that triggers a scan; the
// effective threshold also grows with the number of records so that each
// scan reclaims a constant fraction of what it inspects.
// reclaim is called exactly once per retired handle, by the goroutine that
// owns the record the handle was retired to.
func NewDomain(threshold int, reclaim func(h uint64)) *Domain {
	if threshold < 1 {
		panic("hazard: threshold must be >= 1")
	}
	if reclaim == nil {
		panic("hazard: nil reclaim function")
	}
	return &Domain{
		records:   slab.New[Record](recordBase),
		threshold: threshold,
		reclaim:   reclaim,
	}
}

// Acquire returns a record owned by the caller.
// Lock-free: it claims an idle record by CAS or appends a new one.
func (d *Domain) Acquire() *Record {
	for {
		n := d.count.LoadAcquire()
		start := d.hint.LoadRelaxed()
		for j := range n {
			i := (start + j) % n
			r := d.records.Get(uint32(i))
			if r == nil {
				continue
			}
			if r.active.LoadRelaxed() == 0 && r.active.CompareAndSwapAcqRel(0, 1) {
				d.hint.StoreRelaxed(i + 1)
				r.dom = d
				return r
			}
		}

		i := d.count.AddAcqRel(1) - 1
		if i > slab.MaxIndex {
			panic("hazard: record space exhausted")
		}
		r := d.records.Ensure(uint32(i))
		// A concurrent Acquire may see the new record before we do.
		if r.active.CompareAndSwapAcqRel(0, 1) {
			r.dom = d
			return r
		}
	}
}

// Protect publishes h in slot i.
// The caller must re-validate that h is still reachable after Protect
// returns before dereferencing it.
func (r *Record) Protect(i int, h uint64) {
	r.hazards[i].Store(h)
}

// Clear empties slot i.
func (r *Record) Clear(i int) {
	r.hazards[i].StoreRelease(0)
}

// Retire hands an unlinked handle to the domain.
// h must no longer be reachable from any shared location.
func (r *Record) Retire(h uint64) {
	r.retired = append(r.retired, h)
	r.fresh++
	if len(r.retired) >= r.dom.scanThreshold() {
		r.Scan()
	}
}

// Pending returns the number of handles retired to r and not yet reclaimed.
func (r *Record) Pending() int {
	return len(r.retired)
}

// Release clears all hazard slots and returns r to the domain.
func (r *Record) Release() {
	for i := range r.hazards {
		r.hazards[i].StoreRelease(0)
	}
	r.report()
	r.dom = nil
	r.active.StoreRelease(0)
}

// Scan reclaims every handle on r's retired list that no record protects.
func (r *Record) Scan() {
	r.report()
	if len(r.retired) == 0 {
		return
	}
	d := r.dom
	protected := d.snapshot()

	kept := r.retired[:0]
	var reclaimed uint64
	for _, h := range r.retired {
		if _, found := slices.BinarySearch(protected, h); found {
			kept = append(kept, h)
			continue
		}
		d.reclaim(h)
		reclaimed++
	}
	clear(r.retired[len(kept):])
	r.retired = kept
	if reclaimed > 0 {
		d.reclaimedTotal.AddAcqRel(reclaimed)
	}
}

func (r *Record) report() {
	if r.fresh > 0 {
		r.dom.retiredTotal.AddAcqRel(r.fresh)
		r.fresh = 0
	}
}

// snapshot returns the sorted set of currently published hazards.
func (d *Domain) snapshot() []uint64 {
	n := d.count.Load()
	protected := make([]uint64, 0, n*Slots)
	for i := range n {
		r := d.records.Get(uint32(i))
		if r == nil {
			continue
		}
		for s := range r.hazards {
			if h := r.hazards[s].Load(); h != 0 {
				protected = append(protected, h)
			}
		}
	}
	slices.Sort(protected)
	return protected
}

func (d *Domain) scanThreshold() int {
	dynamic := 2 * Slots * int(d.count.LoadRelaxed())
	return max(d.threshold, dynamic)
}

// Flush scans the retired lists of all idle records.
// Records owned by other goroutines are skipped.
func (d *Domain) Flush() {
	n := d.count.LoadAcquire()
	for i := range n {
		r := d.records.Get(uint32(i))
		if r == nil {
			continue
		}
		if r.active.LoadRelaxed() != 0 || !r.active.CompareAndSwapAcqRel(0, 1) {
			continue
		}
		r.dom = d
		r.Scan()
		r.Release()
	}
}

// Records returns the number of records ever created.
func (d *Domain) Records() int {
	return int(d.count.LoadAcquire())
}

// Retired returns the total number of handles ever retired.
func (d *Domain) Retired() uint64 {
	return d.retiredTotal.LoadAcquire()
}

// Reclaimed returns the total number of handles ever reclaimed.
func (d *Domain) Reclaimed() uint64 {
	return d.reclaimedTotal.LoadAcquire()
}

// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package msq_test

import (
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"code.hybscloud.com/msq"
)

// =============================================================================
// Test Helpers
// =============================================================================

// encode packs a producer ID and sequence number into one element.
func encode(producer, seq int) int {
	return producer*1_000_000 + seq
}

func decode(v int) (producer, seq int) {
	return v / 1_000_000, v % 1_000_000
}

// mpmcTest runs numP producers and numC consumers over one queue and checks
// that every element is delivered exactly once and that each consumer
// observes every producer's elements in increasing sequence.
type mpmcTest struct {
	t            *testing.T
	numP, numC   int
	itemsPerProd int
	timeout      time.Duration
	opts         *msq.Builder
}

func (mt *mpmcTest) run() {
	t := mt.t
	if msq.RaceEnabled {
		t.Skip("skip: concurrent test incompatible with race detector")
	}

	b := mt.opts
	if b == nil {
		b = msq.New()
	}
	q := msq.Build[int](b)

	total := mt.numP * mt.itemsPerProd
	seen := make([]atomix.Int32, total)
	var consumed atomix.Int64
	var timedOut atomix.Bool
	var wg sync.WaitGroup

	for p := range mt.numP {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := range mt.itemsPerProd {
				v := encode(id, i)
				if !assert.NoError(t, q.Enqueue(&v), "producer %d: Enqueue", id) {
					return
				}
			}
		}(p)
	}

	for c := range mt.numC {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			deadline := time.Now().Add(mt.timeout)
			backoff := iox.Backoff{}
			last := make([]int, mt.numP)
			for i := range last {
				last[i] = -1
			}
			for consumed.Load() < int64(total) {
				if time.Now().After(deadline) {
					timedOut.Store(true)
					return
				}
				v, err := q.Dequeue()
				if err != nil {
					if !assert.True(t, msq.IsWouldBlock(err), "consumer %d: Dequeue: %v", id, err) {
						return
					}
					backoff.Wait()
					continue
				}
				backoff.Reset()

				producer, seq := decode(v)
				if producer < 0 || producer >= mt.numP || seq < 0 || seq >= mt.itemsPerProd {
					assert.Failf(t, "value out of range", "consumer %d: %d", id, v)
					consumed.Add(1)
					continue
				}
				assert.Greater(t, seq, last[producer],
					"consumer %d: producer %d order violated", id, producer)
				last[producer] = seq
				seen[producer*mt.itemsPerProd+seq].Add(1)
				consumed.Add(1)
			}
		}(c)
	}

	wg.Wait()

	require.False(t, timedOut.Load(), "timeout after %v: consumed %d/%d", mt.timeout, consumed.Load(), total)

	var missing, duplicates int
	for i := range seen {
		switch n := seen[i].Load(); {
		case n == 0:
			missing++
		case n > 1:
			duplicates++
		}
	}
	assert.Zero(t, duplicates, "elements delivered more than once")
	assert.Zero(t, missing, "elements lost")
	_, err := q.Dequeue()
	assert.ErrorIs(t, err, msq.ErrWouldBlock, "Dequeue after drain")
}

// =============================================================================
// No Loss, No Duplication, Per-Producer Order
// =============================================================================

func TestMPMCExactlyOnce(t *testing.T) {
	tests := []struct {
		name       string
		numP, numC int
		items      int
		opts       *msq.Builder
	}{
		{"1P1C", 1, 1, 50_000, nil},
		{"4P1C", 4, 1, 20_000, nil},
		{"1P4C", 1, 4, 50_000, nil},
		{"4P4C", 4, 4, 20_000, nil},
		{"8P8C", 8, 8, 10_000, nil},
		{"4P4C/EagerReclaim", 4, 4, 20_000, msq.New().RetireThreshold(1)},
		{"4P4C/SmallChunks", 4, 4, 20_000, msq.New().ChunkSize(2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mt := &mpmcTest{
				t:            t,
				numP:         tt.numP,
				numC:         tt.numC,
				itemsPerProd: tt.items,
				timeout:      30 * time.Second,
				opts:         tt.opts,
			}
			mt.run()
		})
	}
}

// TestDrainUntilEmpty tests the producers-then-consumers pattern: consumers
// stop at the first empty result and the union of dequeued and leftover
// elements equals everything enqueued.
func TestDrainUntilEmpty(t *testing.T) {
	if msq.RaceEnabled {
		t.Skip("skip: concurrent test incompatible with race detector")
	}

	q := msq.Build[int](msq.New().RetireThreshold(8))
	const numP = 4
	const numC = 4
	const per = 10_000

	var wg sync.WaitGroup
	for p := range numP {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := range per {
				v := encode(id, i)
				q.Enqueue(&v)
			}
		}(p)
	}
	wg.Wait()

	results := make([][]int, numC)
	for c := range numC {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for {
				v, err := q.Dequeue()
				if err != nil {
					return
				}
				results[id] = append(results[id], v)
			}
		}(c)
	}
	wg.Wait()

	var leftover []int
	for {
		v, err := q.Dequeue()
		if err != nil {
			break
		}
		leftover = append(leftover, v)
	}

	counts := make(map[int]int, numP*per)
	for _, r := range results {
		for _, v := range r {
			counts[v]++
		}
	}
	for _, v := range leftover {
		counts[v]++
	}
	require.Len(t, counts, numP*per, "distinct elements")
	for v, n := range counts {
		require.Equal(t, 1, n, "element %d delivery count", v)
	}
}

// =============================================================================
// Ordering Across Goroutines
// =============================================================================

// TestNonOverlappingEnqueueOrder tests that an enqueue that completes before
// another begins, even in a different goroutine, is dequeued first.
func TestNonOverlappingEnqueueOrder(t *testing.T) {
	if msq.RaceEnabled {
		t.Skip("skip: concurrent test incompatible with race detector")
	}

	q := msq.NewMSQueue[int]()
	const rounds = 2000

	// Background churn on other goroutines perturbs scheduling.
	noise := msq.NewMSQueue[int]()
	stop := make(chan struct{})
	var noiseWg sync.WaitGroup
	for range 2 {
		noiseWg.Add(1)
		go func() {
			defer noiseWg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				noise.Enqueue(&i)
				noise.Dequeue()
			}
		}()
	}
	defer func() {
		close(stop)
		noiseWg.Wait()
	}()

	for r := range rounds {
		first := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			v := 2 * r
			q.Enqueue(&v)
			close(first)
		}()
		go func() {
			defer wg.Done()
			<-first
			v := 2*r + 1
			q.Enqueue(&v)
		}()
		wg.Wait()

		a, errA := q.Dequeue()
		b, errB := q.Dequeue()
		require.NoError(t, errA, "round %d", r)
		require.NoError(t, errB, "round %d", r)
		require.Equal(t, []int{2 * r, 2*r + 1}, []int{a, b}, "round %d", r)
	}
}

// TestMonotonicVisibility tests that once an element has been returned, no
// later Dequeue on any goroutine returns it again.
func TestMonotonicVisibility(t *testing.T) {
	if msq.RaceEnabled {
		t.Skip("skip: concurrent test incompatible with race detector")
	}

	q := msq.Build[int](msq.New().RetireThreshold(2))
	const total = 100_000
	const consumers = 6

	claimed := make([]atomix.Int32, total)
	var produced atomix.Int64
	var consumed atomix.Int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range total {
			v := i
			q.Enqueue(&v)
			produced.Add(1)
		}
	}()

	for range consumers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			deadline := time.Now().Add(30 * time.Second)
			backoff := iox.Backoff{}
			for consumed.Load() < total {
				if time.Now().After(deadline) {
					assert.Failf(t, "timeout", "consumed %d/%d", consumed.Load(), total)
					return
				}
				v, err := q.Dequeue()
				if err != nil {
					backoff.Wait()
					continue
				}
				backoff.Reset()
				assert.EqualValues(t, 1, claimed[v].Add(1), "element %d returned twice", v)
				consumed.Add(1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, total, produced.Load(), "produced")
}

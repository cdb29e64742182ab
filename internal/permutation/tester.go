// Package permutation implements a label-shuffling test for the difference
// in group means. Shuffles are split into fixed-size batches, each drawing
// from its own seeded stream, so the result for a seed does not depend on
// how many workers run the batches.
package permutation

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"goabtest/domain/core"
	"goabtest/ports"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultShuffles = 1000
	DefaultWorkers  = 4
	MaxShuffles     = 100000

	batchSize = 250
	stageName = "permutation"
)

// Result summarises a permutation test
type Result struct {
	Observed    float64 `json:"observed"` // mean(treatment) - mean(control)
	PValue      float64 `json:"p_value"`  // two-sided, (extreme+1)/(shuffles+1)
	Shuffles    int     `json:"shuffles"`
	Extreme     int     `json:"extreme"`
	NullMean    float64 `json:"null_mean"`
	NullStdDev  float64 `json:"null_std_dev"`
	Percentile  float64 `json:"percentile"` // share of |null| strictly below |observed|
	Seed        uint64  `json:"seed"`
	WorkersUsed int     `json:"workers_used"`
}

// Tester runs permutation tests on a bounded pool of goroutines
type Tester struct {
	Shuffles int
	Workers  int
	Seed     uint64

	rngPort ports.RNGPort
}

// NewTester creates a tester with default shuffle and worker counts
func NewTester(rngPort ports.RNGPort, seed uint64) *Tester {
	return &Tester{
		Shuffles: DefaultShuffles,
		Workers:  DefaultWorkers,
		Seed:     seed,
		rngPort:  rngPort,
	}
}

// SetShuffles clamps the number of shuffles to [1, MaxShuffles]
func (t *Tester) SetShuffles(n int) {
	if n < 1 {
		n = 1
	}
	if n > MaxShuffles {
		n = MaxShuffles
	}
	t.Shuffles = n
}

// Test shuffles the treatment labels and compares the observed difference in
// means against the resulting null distribution.
func (t *Tester) Test(ctx context.Context, values []float64, treatments []int) (*Result, error) {
	if len(treatments) != len(values) {
		return nil, core.NewLengthMismatchError("treatments", len(treatments), len(values))
	}

	total := 0.0
	nTreated := 0
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, core.NewDegenerateInputError(fmt.Sprintf("value %d is not finite", i))
		}
		switch treatments[i] {
		case 0:
		case 1:
			nTreated++
		default:
			return nil, fmt.Errorf("%w: observation %d has treatment %d", core.ErrInvalidTreatment, i, treatments[i])
		}
		total += v
	}
	nControl := len(values) - nTreated
	if nTreated == 0 || nControl == 0 {
		return nil, core.NewInsufficientDataError("smaller group", min(nTreated, nControl), 1)
	}

	shuffles := t.Shuffles
	if shuffles <= 0 {
		shuffles = DefaultShuffles
	}
	workers := t.Workers
	if workers <= 0 {
		workers = 1
	}

	diff := func(labels []int) float64 {
		sumT := 0.0
		for i, l := range labels {
			if l == 1 {
				sumT += values[i]
			}
		}
		return sumT/float64(nTreated) - (total-sumT)/float64(nControl)
	}
	observed := diff(treatments)

	null := make([]float64, shuffles)
	batches := (shuffles + batchSize - 1) / batchSize

	sem := semaphore.NewWeighted(int64(workers))
	g, gctx := errgroup.WithContext(ctx)

	for b := 0; b < batches; b++ {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)

			r, err := t.rngPort.Stream(gctx, "", stageName, "batch-"+strconv.Itoa(b), t.Seed)
			if err != nil {
				return err
			}

			labels := make([]int, len(treatments))
			copy(labels, treatments)

			lo := b * batchSize
			hi := min(lo+batchSize, shuffles)
			for k := lo; k < hi; k++ {
				if k%64 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				r.Shuffle(len(labels), func(i, j int) {
					labels[i], labels[j] = labels[j], labels[i]
				})
				null[k] = diff(labels)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("permutation test cancelled: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("permutation test cancelled: %w", err)
	}

	// Relative tolerance keeps ties with the observed statistic counted
	// despite floating-point summation order.
	absObs := math.Abs(observed)
	tol := 1e-12 * math.Max(1, absObs)
	extreme, below := 0, 0
	for _, v := range null {
		a := math.Abs(v)
		if a >= absObs-tol {
			extreme++
		} else {
			below++
		}
	}

	nullMean, _ := stats.Mean(null)
	nullSD, _ := stats.StandardDeviationSample(null)

	return &Result{
		Observed:    observed,
		PValue:      float64(extreme+1) / float64(shuffles+1),
		Shuffles:    shuffles,
		Extreme:     extreme,
		NullMean:    nullMean,
		NullStdDev:  nullSD,
		Percentile:  float64(below) / float64(shuffles),
		Seed:        t.Seed,
		WorkersUsed: min(workers, batches),
	}, nil
}

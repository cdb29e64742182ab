package rng

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
)

// Adapter implements ports.RNGPort on PCG streams from math/rand/v2
type Adapter struct{}

// NewAdapter creates an RNG adapter
func NewAdapter() *Adapter {
	return &Adapter{}
}

// SeededStream creates a deterministic random number generator for a named operation
func (a *Adapter) SeededStream(ctx context.Context, name string, seed uint64) (*rand.Rand, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return rand.New(rand.NewPCG(seed, uint64(hashString(name)))), nil
}

// Stream creates a deterministic RNG stream keyed by run, stage and key.
// Identical inputs always yield identical streams.
func (a *Adapter) Stream(ctx context.Context, runID, stageName, key string, baseSeed uint64) (*rand.Rand, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seed := baseSeed
	if runID != "" {
		seed += uint64(hashString(runID))
	}
	if stageName != "" {
		seed += uint64(hashString(stageName))
	}
	if key != "" {
		seed += uint64(hashString(key)) << 32
	}
	return rand.New(rand.NewPCG(seed, baseSeed)), nil
}

// ValidateSeed draws len(expected) uniforms from the named stream and checks them
func (a *Adapter) ValidateSeed(ctx context.Context, name string, seed uint64, expected []float64) error {
	r, err := a.SeededStream(ctx, name, seed)
	if err != nil {
		return err
	}
	for i, want := range expected {
		got := r.Float64()
		if math.Abs(got-want) > 1e-15 {
			return fmt.Errorf("seed %d for %q diverged at draw %d: got %v, want %v", seed, name, i, got, want)
		}
	}
	return nil
}

// hashString creates a simple hash for deterministic seeding
func hashString(s string) uint32 {
	var hash uint32 = 5381
	for _, c := range s {
		hash = ((hash << 5) + hash) + uint32(c) // djb2 algorithm
	}
	return hash
}

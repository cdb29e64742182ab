package core

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

// TestNewIDUniqueness tests that NewID generates unique identifiers
func TestNewIDUniqueness(t *testing.T) {
	const numIDs = 10000

	ids := make(map[ID]bool, numIDs)
	for i := 0; i < numIDs; i++ {
		id := NewID()
		if id.IsEmpty() {
			t.Errorf("Generated empty ID at iteration %d", i)
		}
		if ids[id] {
			t.Errorf("Generated duplicate ID: %s", id)
		}
		ids[id] = true
	}

	if len(ids) != numIDs {
		t.Errorf("Expected %d unique IDs, got %d", numIDs, len(ids))
	}
}

// TestIDIsEmpty tests ID emptiness check
func TestIDIsEmpty(t *testing.T) {
	if !ID("").IsEmpty() {
		t.Error("Expected empty ID to be empty")
	}
	if ID("not-empty").IsEmpty() {
		t.Error("Expected non-empty ID to not be empty")
	}
}

func TestComputeColumnsHash_Deterministic(t *testing.T) {
	a := []float64{1, 2, 3}
	b := []float64{4, 5, 6}

	if ComputeColumnsHash(a, b) != ComputeColumnsHash(a, b) {
		t.Error("Expected identical columns to hash identically")
	}
	if ComputeColumnsHash(a, b) == ComputeColumnsHash(b, a) {
		t.Error("Expected column order to change the hash")
	}
	// Column boundaries are part of the hash.
	if ComputeColumnsHash([]float64{1, 2}, []float64{3}) == ComputeColumnsHash([]float64{1}, []float64{2, 3}) {
		t.Error("Expected different column splits to hash differently")
	}
	if len(ComputeColumnsHash(a).Short()) != 12 {
		t.Error("Expected short hash of 12 characters")
	}
}

func TestErrorHelpers(t *testing.T) {
	err := NewDegenerateInputError("variance of pre-period covariate is zero")
	if !IsDegenerateInput(err) {
		t.Errorf("Expected %v to be a degenerate input error", err)
	}
	if !IsInputError(NewLengthMismatchError("post", 3, 4)) {
		t.Error("Expected length mismatch to be an input error")
	}
	if IsInputError(ErrNotConverged) {
		t.Error("Did not expect convergence failure to be an input error")
	}
	if !IsFitError(ErrSingularDesign) {
		t.Error("Expected singular design to be a fit error")
	}
	if !errors.Is(NewInsufficientDataError("control", 1, 2), ErrInsufficientData) {
		t.Error("Expected insufficient data error to wrap sentinel")
	}
}

// TestTimestampJSON tests timestamp JSON round trips
func TestTimestampJSON(t *testing.T) {
	ts := Timestamp(time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC))

	data, err := json.Marshal(ts)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `"2024-03-01T12:30:00Z"` {
		t.Errorf("Marshal = %s", data)
	}

	var back Timestamp
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !back.Time().Equal(ts.Time()) {
		t.Errorf("round trip = %s, want %s", back, ts)
	}
}

package ports

import (
	"context"

	"goabtest/domain/dataset"
)

// DatasetSource produces the observations for a CUPED analysis. File readers
// and the simulator both implement it.
type DatasetSource interface {
	LoadDataset(ctx context.Context) (*dataset.Dataset, error)
}

// RegressionSource produces the columns for a regression analysis
type RegressionSource interface {
	LoadRegressionSample(ctx context.Context) (*dataset.RegressionSample, error)
}

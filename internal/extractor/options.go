package extractor

import (
	"errors"
	"fmt"
	"time"
)

// Defaults applied by Options.withDefaults.
const (
	DefaultBatchSize      = 50
	DefaultRequestDelay   = 1500 * time.Millisecond
	DefaultWorkers        = 1
	DefaultMaxCommitteeID = 400
	DefaultTopN           = 20
)

// Options tunes an Orchestrator.
type Options struct {
	// BatchSize is the checkpoint granularity.
	BatchSize int
	// RequestDelay is the minimum spacing between fetch starts across all
	// workers. Zero disables pacing.
	RequestDelay time.Duration
	// MaxItems truncates the ec_details work list when > 0.
	MaxItems int
	// Workers bounds concurrent fetches inside a batch.
	Workers int
	// SkipIfExists forces set-difference diffs even when versions are known.
	SkipIfExists bool
	// Resume continues from the saved per-stage checkpoints.
	Resume bool
	// SkipCommittees runs only the ec_details stage.
	SkipCommittees bool
	// MaxCommitteeID is the upper bound of the committee id scan.
	MaxCommitteeID int
	// TopN is the ranking length in the computed statistics.
	TopN int
}

func (o Options) withDefaults() Options {
	if o.BatchSize == 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Workers == 0 {
		o.Workers = DefaultWorkers
	}
	if o.MaxCommitteeID == 0 {
		o.MaxCommitteeID = DefaultMaxCommitteeID
	}
	if o.TopN == 0 {
		o.TopN = DefaultTopN
	}
	return o
}

// Validate reports option combinations that cannot run.
func (o Options) Validate() error {
	var errs []error
	if o.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch size must be > 0, got %d", o.BatchSize))
	}
	if o.RequestDelay < 0 {
		errs = append(errs, fmt.Errorf("request delay must be >= 0, got %s", o.RequestDelay))
	}
	if o.MaxItems < 0 {
		errs = append(errs, fmt.Errorf("max items must be >= 0, got %d", o.MaxItems))
	}
	if o.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be > 0, got %d", o.Workers))
	}
	if o.MaxCommitteeID <= 0 && !o.SkipCommittees {
		errs = append(errs, fmt.Errorf("max committee id must be > 0, got %d", o.MaxCommitteeID))
	}
	if o.TopN <= 0 {
		errs = append(errs, fmt.Errorf("top n must be > 0, got %d", o.TopN))
	}
	return errors.Join(errs...)
}

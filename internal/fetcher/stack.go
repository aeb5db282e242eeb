// Package fetcher combines the JSON API client and the detail page renderer
// into the fetchers the extractor consumes.
package fetcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/renec-harvester/internal/fetcher/headless"
	"github.com/JakeFAU/renec-harvester/internal/headless/detector"
	"github.com/JakeFAU/renec-harvester/internal/renec"
)

// APIClient is the JSON backend of the registry.
type APIClient interface {
	Committee(ctx context.Context, id string) (renec.Harvest, error)
	Standard(ctx context.Context, code string) (renec.ECStandard, error)
	ListStandards(ctx context.Context) ([]renec.IndexEntry, error)
}

// DetailSource renders the public detail view of a standard.
type DetailSource interface {
	Detail(ctx context.Context, code string) (headless.Detail, error)
}

// Stack implements renec.PageFetcher and renec.IndexFetcher. Standard
// descriptions come from the API; the detail view is rendered only when the
// detector finds the description incomplete.
type Stack struct {
	api      APIClient
	detail   DetailSource
	detector *detector.Heuristic
	retry    *RetryPolicy
	logger   *zap.Logger
}

// NewStack wires the sources. detail and retry may be nil.
func NewStack(api APIClient, detail DetailSource, retry *RetryPolicy, logger *zap.Logger) *Stack {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stack{api: api, detail: detail, detector: detector.NewHeuristic(), retry: retry, logger: logger}
}

// Fetch retrieves the records behind one identifier of stage.
func (s *Stack) Fetch(ctx context.Context, stage renec.Stage, id string) (renec.Harvest, error) {
	switch stage {
	case renec.StageCommittees:
		return withRetry(ctx, s.retry, s.logger, "committee "+id, func(ctx context.Context) (renec.Harvest, error) {
			return s.api.Committee(ctx, id)
		})
	case renec.StageECDetails:
		return s.standard(ctx, id)
	default:
		return renec.Harvest{}, fmt.Errorf("unknown stage %q", stage)
	}
}

// ListStandards returns the upstream standards index.
func (s *Stack) ListStandards(ctx context.Context) ([]renec.IndexEntry, error) {
	return withRetry(ctx, s.retry, s.logger, "standards index", s.api.ListStandards)
}

func (s *Stack) standard(ctx context.Context, code string) (renec.Harvest, error) {
	std, err := withRetry(ctx, s.retry, s.logger, "standard "+code, func(ctx context.Context) (renec.ECStandard, error) {
		return s.api.Standard(ctx, code)
	})
	found := err == nil
	if err != nil && !errors.Is(err, renec.ErrNotFound) {
		return renec.Harvest{}, fmt.Errorf("describe %s: %w", code, err)
	}
	if s.detail == nil || !s.detector.ShouldPromote(std) {
		if !found {
			return renec.Harvest{}, nil
		}
		return renec.Harvest{Standards: []renec.ECStandard{std}}, nil
	}

	detail, err := withRetry(ctx, s.retry, s.logger, "detail "+code, func(ctx context.Context) (headless.Detail, error) {
		return s.detail.Detail(ctx, code)
	})
	if err != nil {
		if !found && errors.Is(err, renec.ErrNotFound) {
			return renec.Harvest{}, nil
		}
		return renec.Harvest{}, fmt.Errorf("render %s detail: %w", code, err)
	}
	if !found && detail.Empty() {
		return renec.Harvest{}, nil
	}
	return renec.Harvest{Standards: []renec.ECStandard{mergeDetail(code, std, detail)}}, nil
}

// mergeDetail completes the API description with the rendered grids. API
// fields win when both carry a value.
func mergeDetail(code string, std renec.ECStandard, d headless.Detail) renec.ECStandard {
	std.Code = code
	if std.Title == "" {
		std.Title = d.Title
	}
	if len(std.Certifiers) == 0 {
		std.Certifiers = d.Certifiers
	}
	if len(std.TrainingCenters) == 0 {
		std.TrainingCenters = d.TrainingCenters
	}
	return std
}

package merge

import (
	"context"
	"errors"
	"fmt"

	"github.com/sourcegraph/conc/iter"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/coverage"
	"github.com/Sumatoshi-tech/coverage-runner/pkg/loaders"
)

type loadOutcome struct {
	path   string
	cm     *coverage.CoverageMap
	format loaders.Format
	err    error
}

type loadCounts struct {
	loaded  int
	failed  int
	skipped int
}

// loadStage loads files on up to workers goroutines and returns the non-empty
// maps in discovery order.
func (o *Orchestrator) loadStage(
	ctx context.Context, files []string, workers int,
) ([]*coverage.CoverageMap, loadCounts, error) {
	ctx, span := o.tracer.Start(ctx, spanPrefix+"load")
	defer span.End()

	mapper := iter.Mapper[string, loadOutcome]{MaxGoroutines: max(workers, 1)}

	outcomes := mapper.Map(files, func(p *string) loadOutcome {
		if ctx.Err() != nil {
			return loadOutcome{path: *p, err: ctx.Err()}
		}

		cm, format, err := o.loader.Load(*p)

		return loadOutcome{path: *p, cm: cm, format: format, err: err}
	})

	var (
		counts loadCounts
		maps   []*coverage.CoverageMap
	)

	for _, out := range outcomes {
		switch {
		case errors.Is(out.err, loaders.ErrUnknownFormat):
			counts.skipped++

			o.logger.DebugContext(ctx, "skipping file with unknown coverage format", "path", out.path)
		case out.err != nil:
			counts.failed++

			o.logger.WarnContext(ctx, "failed to load coverage file", "path", out.path, "error", out.err)
		case out.cm == nil || out.cm.Len() == 0:
			counts.skipped++

			o.logger.DebugContext(ctx, "coverage file has no records", "path", out.path, "format", string(out.format))
		default:
			counts.loaded++

			o.logger.DebugContext(ctx, "loaded coverage file",
				"path", out.path, "format", string(out.format), "files", out.cm.Len())

			maps = append(maps, out.cm)
		}
	}

	span.SetAttributes(
		attribute.Int("merge.files_loaded", counts.loaded),
		attribute.Int("merge.files_failed", counts.failed),
		attribute.Int("merge.files_skipped", counts.skipped),
	)

	ctxErr := ctx.Err()
	if ctxErr != nil {
		return nil, counts, fmt.Errorf("load coverage files: %w", ctxErr)
	}

	if len(maps) == 0 {
		return nil, counts, fmt.Errorf("%w: %d file(s) tried", ErrNoValidCoverageData, len(files))
	}

	return maps, counts, nil
}

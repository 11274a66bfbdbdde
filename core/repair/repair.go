// Package repair sweeps for current manifests that have no current bundle
// (a manifest whose follow-up bundle creation crashed or timed out) and
// builds the missing bundle. Each manifest's repair is one atomic
// check-and-create, so the sweep is idempotent and safely interruptible.
package repair

import (
	"context"
	"log/slog"
	"time"

	coreerrors "github.com/davidahmann/callproof/core/errors"
	"github.com/davidahmann/callproof/core/schema/v1/evidence"
)

// Store is the slice of persistence the repair job needs.
type Store interface {
	CurrentManifestsWithoutBundle(ctx context.Context, limit int) ([]evidence.Manifest, error)
}

// BundleBuilder is satisfied by bundle.Builder.
type BundleBuilder interface {
	BuildIfAbsent(ctx context.Context, manifestID string) (evidence.Bundle, error)
}

// Report summarizes one sweep.
type Report struct {
	Checked int `json:"checked"`
	Fixed   int `json:"fixed"`
}

const DefaultBatchSize = 100

type Job struct {
	store   Store
	builder BundleBuilder
	logger  *slog.Logger
}

func NewJob(store Store, builder BundleBuilder, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{store: store, builder: builder, logger: logger}
}

// RepairOrphans scans the newest current manifests lacking a current
// bundle, bounded by batchSize, and builds one for each. A manifest whose
// repair fails is logged and skipped; a bundle that appeared concurrently
// counts as already repaired. Honors ctx cancellation between manifests.
func (j *Job) RepairOrphans(ctx context.Context, batchSize int) (Report, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	orphans, err := j.store.CurrentManifestsWithoutBundle(ctx, batchSize)
	if err != nil {
		return Report{}, err
	}

	report := Report{Checked: len(orphans)}
	for _, m := range orphans {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		built, err := j.builder.BuildIfAbsent(ctx, m.ID)
		if err != nil {
			if coreerrors.CodeOf(err) == "bundle_exists" {
				// Organic creation won the race; nothing left to fix.
				continue
			}
			j.logger.Error("repair failed for manifest",
				slog.String("manifest_id", m.ID),
				slog.String("call_id", m.CallID),
				slog.String("error", err.Error()))
			continue
		}
		report.Fixed++
		j.logger.Info("repaired orphan manifest",
			slog.String("manifest_id", m.ID),
			slog.String("bundle_id", built.ID))
	}
	return report, nil
}

// Run executes RepairOrphans on a fixed interval until ctx is cancelled.
func (j *Job) Run(ctx context.Context, interval time.Duration, batchSize int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			report, err := j.RepairOrphans(ctx, batchSize)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				j.logger.Error("repair sweep failed", slog.String("error", err.Error()))
				continue
			}
			if report.Fixed > 0 {
				j.logger.Info("repair sweep completed",
					slog.Int("checked", report.Checked),
					slog.Int("fixed", report.Fixed))
			}
		}
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"framestack/internal/config"
	"framestack/internal/metrics"
	"framestack/internal/models"
)

// PictureFailure describes what is left of a picture the reaper could not
// fully remove. Blobs lists locators whose removal failed; RowErr is set
// when the picture and image rows could not be deleted.
type PictureFailure struct {
	PictureID string           `json:"pictureId"`
	Blobs     []models.Locator `json:"blobs,omitempty"`
	RowErr    error            `json:"-"`
}

func (f PictureFailure) Error() string {
	switch {
	case f.RowErr != nil && len(f.Blobs) > 0:
		return fmt.Sprintf("picture %s: %d blobs left, rows: %v", f.PictureID, len(f.Blobs), f.RowErr)
	case f.RowErr != nil:
		return fmt.Sprintf("picture %s: rows: %v", f.PictureID, f.RowErr)
	default:
		return fmt.Sprintf("picture %s: %d blobs left", f.PictureID, len(f.Blobs))
	}
}

type ReclaimReport struct {
	Owners             []models.OwnerRef `json:"owners,omitempty"`
	FullyReclaimed     []string          `json:"fullyReclaimed"`
	PartiallyReclaimed []string          `json:"partiallyReclaimed"`
	Failures           []PictureFailure  `json:"-"`
}

// Complete reports whether every enumerated picture left nothing behind.
func (r ReclaimReport) Complete() bool {
	return len(r.PartiallyReclaimed) == 0
}

// Err joins the per-picture failures, or returns nil.
func (r ReclaimReport) Err() error {
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

func (r *ReclaimReport) merge(o ReclaimReport) {
	r.FullyReclaimed = append(r.FullyReclaimed, o.FullyReclaimed...)
	r.PartiallyReclaimed = append(r.PartiallyReclaimed, o.PartiallyReclaimed...)
	r.Failures = append(r.Failures, o.Failures...)
}

// Reaper deletes pictures together with their image rows and blobs. Blobs
// that are already absent and rows that are already gone count as removed,
// so every operation can be re-run.
type Reaper struct {
	meta        MetadataStore
	blobs       BlobStore
	cache       HandleCache
	concurrency int
	metrics     *metrics.Metrics
	log         zerolog.Logger
}

func NewReaper(meta MetadataStore, blobs BlobStore, cfg config.PipelineConfig, m *metrics.Metrics, log zerolog.Logger) *Reaper {
	concurrency := cfg.ReclaimConcurrency
	if concurrency < 1 {
		concurrency = 8
	}
	return &Reaper{
		meta:        meta,
		blobs:       blobs,
		concurrency: concurrency,
		metrics:     m,
		log:         log,
	}
}

// WithHandleCache makes the reaper drop cached handles of removed blobs.
func (r *Reaper) WithHandleCache(cache HandleCache) *Reaper {
	r.cache = cache
	return r
}

// Reclaim removes every picture the owners hold directly or transitively.
// Only a failure to enumerate the pictures is returned as an error; per
// picture failures are reported.
func (r *Reaper) Reclaim(ctx context.Context, owners ...models.OwnerRef) (ReclaimReport, error) {
	start := time.Now()
	defer r.metrics.ObserveReclaim(start)

	ctx, span := tracer.Start(ctx, "reaper.reclaim")
	defer span.End()
	span.SetAttributes(attribute.Int("framestack.owners", len(owners)))

	pictures, err := r.meta.ListOwnedPictures(ctx, owners...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enumerate pictures")
		return ReclaimReport{Owners: owners}, fmt.Errorf("enumerate owned pictures: %w", err)
	}

	report := r.ReclaimPictures(ctx, pictures)
	report.Owners = owners
	span.SetAttributes(
		attribute.Int("framestack.pictures.full", len(report.FullyReclaimed)),
		attribute.Int("framestack.pictures.partial", len(report.PartiallyReclaimed)),
	)

	evt := r.log.Info()
	if !report.Complete() {
		evt = r.log.Warn().Err(report.Err())
	}
	evt.
		Interface("owners", owners).
		Int("pictures", len(pictures)).
		Int("fully_reclaimed", len(report.FullyReclaimed)).
		Int("partially_reclaimed", len(report.PartiallyReclaimed)).
		Dur("took", time.Since(start)).
		Msg("reclaim finished")
	return report, nil
}

// ReclaimPictures removes the given pictures independently with bounded
// concurrency.
func (r *Reaper) ReclaimPictures(ctx context.Context, pictures []models.Picture) ReclaimReport {
	var (
		mu     sync.Mutex
		report = ReclaimReport{FullyReclaimed: []string{}, PartiallyReclaimed: []string{}}
	)

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for _, p := range pictures {
		g.Go(func() error {
			failure, ok := r.ReclaimPicture(ctx, p)
			mu.Lock()
			defer mu.Unlock()
			if ok {
				report.FullyReclaimed = append(report.FullyReclaimed, p.ID)
				return nil
			}
			report.PartiallyReclaimed = append(report.PartiallyReclaimed, p.ID)
			report.Failures = append(report.Failures, failure)
			return nil
		})
	}
	_ = g.Wait()
	return report
}

// ReclaimPicture removes the picture's blobs, then its picture and image
// rows. A failure in one step does not skip the other.
func (r *Reaper) ReclaimPicture(ctx context.Context, p models.Picture) (PictureFailure, bool) {
	failure := PictureFailure{PictureID: p.ID}
	locators := p.Locators()

	var mu sync.Mutex
	var g errgroup.Group
	for _, loc := range locators {
		g.Go(func() error {
			if err := r.blobs.Remove(ctx, loc); err != nil {
				r.log.Warn().
					Err(err).
					Str("picture_id", p.ID).
					Str("bucket", loc.Bucket).
					Str("key", loc.Key).
					Msg("remove blob failed")
				mu.Lock()
				failure.Blobs = append(failure.Blobs, loc)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := r.meta.DeletePicture(ctx, p.ID); err != nil {
		r.log.Warn().Err(err).Str("picture_id", p.ID).Msg("delete picture rows failed")
		failure.RowErr = err
	}

	if r.cache != nil {
		r.cache.Forget(context.WithoutCancel(ctx), locators...)
	}

	ok := failure.RowErr == nil && len(failure.Blobs) == 0
	r.metrics.PictureReclaimed(ok)
	return failure, ok
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"framestack/internal/config"
	"framestack/internal/metrics"
	"framestack/internal/repository"
	"framestack/internal/storage"
)

// SweepReport summarises one sweep pass.
type SweepReport struct {
	OrphanPictures    ReclaimReport `json:"orphanPictures"`
	OrphanImages      int           `json:"orphanImages"`
	OrphanImageErrors int           `json:"orphanImageErrors"`
	StrayBlobs        int           `json:"strayBlobs"`
	StrayBlobErrors   int           `json:"strayBlobErrors"`
	StartedAt         time.Time     `json:"startedAt"`
	Took              time.Duration `json:"took"`
}

// Complete reports whether the pass removed everything it found.
func (r SweepReport) Complete() bool {
	return r.OrphanPictures.Complete() && r.OrphanImageErrors == 0 && r.StrayBlobErrors == 0
}

// Sweeper removes what interrupted sagas and owner deletions leave behind:
// pictures whose owner is gone, image rows no picture references, and blobs
// no image row points at. Rows and blobs younger than the grace period are
// left alone because an ingestion may still be using them.
type Sweeper struct {
	meta      MetadataStore
	blobs     BlobStore
	reaper    *Reaper
	buckets   config.BucketConfig
	grace     time.Duration
	batchSize int
	metrics   *metrics.Metrics
	log       zerolog.Logger
	now       func() time.Time
}

func NewSweeper(meta MetadataStore, blobs BlobStore, reaper *Reaper, buckets config.BucketConfig, cfg config.SweepConfig, m *metrics.Metrics, log zerolog.Logger) *Sweeper {
	batch := cfg.BatchSize
	if batch < 1 {
		batch = 500
	}
	return &Sweeper{
		meta:      meta,
		blobs:     blobs,
		reaper:    reaper,
		buckets:   buckets,
		grace:     cfg.Grace,
		batchSize: batch,
		metrics:   m,
		log:       log,
		now:       time.Now,
	}
}

func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	ctx, span := tracer.Start(ctx, "sweep")
	defer span.End()

	report := SweepReport{StartedAt: s.now().UTC()}
	report.OrphanPictures = ReclaimReport{FullyReclaimed: []string{}, PartiallyReclaimed: []string{}}
	cutoff := s.now().Add(-s.grace)

	if err := s.sweepPictures(ctx, &report); err != nil {
		span.RecordError(err)
		return report, err
	}
	if err := s.sweepImages(ctx, cutoff, &report); err != nil {
		span.RecordError(err)
		return report, err
	}
	if err := s.sweepBlobs(ctx, cutoff, &report); err != nil {
		span.RecordError(err)
		return report, err
	}

	report.Took = time.Since(report.StartedAt)
	span.SetAttributes(
		attribute.Int("framestack.sweep.pictures", len(report.OrphanPictures.FullyReclaimed)),
		attribute.Int("framestack.sweep.images", report.OrphanImages),
		attribute.Int("framestack.sweep.blobs", report.StrayBlobs),
	)
	s.metrics.SweepReclaimed("picture", len(report.OrphanPictures.FullyReclaimed))
	s.metrics.SweepReclaimed("image", report.OrphanImages)
	s.metrics.SweepReclaimed("blob", report.StrayBlobs)

	evt := s.log.Info()
	if !report.Complete() {
		evt = s.log.Warn()
	}
	evt.
		Int("orphan_pictures", len(report.OrphanPictures.FullyReclaimed)).
		Int("orphan_pictures_partial", len(report.OrphanPictures.PartiallyReclaimed)).
		Int("orphan_images", report.OrphanImages).
		Int("orphan_image_errors", report.OrphanImageErrors).
		Int("stray_blobs", report.StrayBlobs).
		Int("stray_blob_errors", report.StrayBlobErrors).
		Dur("took", report.Took).
		Msg("sweep finished")
	return report, nil
}

// sweepPictures reclaims pictures whose owner row was deleted. Batches are
// fetched until one comes back short or a batch leaves failures behind,
// which would otherwise be fetched again forever.
func (s *Sweeper) sweepPictures(ctx context.Context, report *SweepReport) error {
	for {
		orphans, err := s.meta.ListOrphanPictures(ctx, s.batchSize)
		if err != nil {
			return fmt.Errorf("list orphan pictures: %w", err)
		}
		if len(orphans) == 0 {
			return nil
		}
		batch := s.reaper.ReclaimPictures(ctx, orphans)
		report.OrphanPictures.merge(batch)
		if len(orphans) < s.batchSize || !batch.Complete() {
			return nil
		}
	}
}

// sweepImages deletes unreferenced image rows first and their blobs second.
// A row that a picture references by now is refused by the foreign key and
// its blob is kept.
func (s *Sweeper) sweepImages(ctx context.Context, cutoff time.Time, report *SweepReport) error {
	images, err := s.meta.ListOrphanImages(ctx, cutoff, s.batchSize)
	if err != nil {
		return fmt.Errorf("list orphan images: %w", err)
	}
	for _, img := range images {
		if err := s.meta.DeleteImages(ctx, img.ID); err != nil {
			if !errors.Is(err, repository.ErrForeignKeyViolation) {
				report.OrphanImageErrors++
				s.log.Warn().Err(err).Str("image_id", img.ID).Msg("sweep: delete image row failed")
			}
			continue
		}
		if err := s.blobs.Remove(ctx, img.Locator()); err != nil {
			report.OrphanImageErrors++
			s.log.Warn().Err(err).Str("bucket", img.Bucket).Str("key", img.ObjectKey).Msg("sweep: remove blob failed")
			continue
		}
		report.OrphanImages++
	}
	return nil
}

// sweepBlobs removes blobs older than the cutoff that no image row points at.
func (s *Sweeper) sweepBlobs(ctx context.Context, cutoff time.Time, report *SweepReport) error {
	for _, bucket := range s.buckets.All() {
		err := s.blobs.Walk(ctx, bucket, func(obj storage.Object) error {
			if !obj.LastModified.Before(cutoff) {
				return nil
			}
			known, err := s.meta.LocatorExists(ctx, obj.Bucket, obj.Key)
			if err != nil {
				report.StrayBlobErrors++
				s.log.Warn().Err(err).Str("bucket", obj.Bucket).Str("key", obj.Key).Msg("sweep: locator lookup failed")
				return nil
			}
			if known {
				return nil
			}
			if err := s.blobs.Remove(ctx, obj.Locator()); err != nil {
				report.StrayBlobErrors++
				s.log.Warn().Err(err).Str("bucket", obj.Bucket).Str("key", obj.Key).Msg("sweep: remove stray blob failed")
				return nil
			}
			report.StrayBlobs++
			return nil
		})
		if err != nil {
			return fmt.Errorf("sweep bucket %s: %w", bucket, err)
		}
	}
	return nil
}

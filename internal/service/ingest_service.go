package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"framestack/internal/config"
	"framestack/internal/metrics"
	"framestack/internal/models"
)

var (
	ErrNoFiles         = errors.New("no files in request")
	ErrTooManyFiles    = errors.New("too many files in request")
	ErrNotPictureOwner = errors.New("owner kind cannot hold pictures")
)

type IngestRequest struct {
	Owner models.OwnerRef
	// UploaderID is recorded on every image. Empty means the owner's user.
	UploaderID string
	Files      [][]byte
	// MakeCurrent marks the first ingested picture as the owner's current one.
	MakeCurrent bool
}

type IngestResult struct {
	// Pictures are ordered by OrderingIndex, which is the file's position in
	// the request.
	Pictures []models.PictureView
	Failures []FileError
	// Healed lists files whose picture was stored but removed again because
	// an access handle was unusable.
	Healed []int
}

type IngestService struct {
	meta        MetadataStore
	deriver     VariantDeriver
	writer      BlobWriter
	blobs       BlobStore
	pictures    *PictureService
	buckets     config.BucketConfig
	maxFiles    int
	deriveSlots *semaphore.Weighted
	metrics     *metrics.Metrics
	log         zerolog.Logger
}

func NewIngestService(
	meta MetadataStore,
	deriver VariantDeriver,
	writer BlobWriter,
	blobs BlobStore,
	pictures *PictureService,
	buckets config.BucketConfig,
	cfg config.PipelineConfig,
	m *metrics.Metrics,
	log zerolog.Logger,
) *IngestService {
	workers := cfg.DeriveWorkers
	if workers < 1 {
		workers = 1
	}
	maxFiles := cfg.MaxFiles
	if maxFiles < 1 {
		maxFiles = 10
	}
	return &IngestService{
		meta:        meta,
		deriver:     deriver,
		writer:      writer,
		blobs:       blobs,
		pictures:    pictures,
		buckets:     buckets,
		maxFiles:    maxFiles,
		deriveSlots: semaphore.NewWeighted(int64(workers)),
		metrics:     m,
		log:         log,
	}
}

// Ingest runs one saga per file concurrently. A failing file is rolled back
// on its own and reported in Failures; the other files are unaffected. An
// error is returned only for request-level problems, or when every file
// failed.
func (s *IngestService) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	start := time.Now()
	defer s.metrics.ObserveIngest(start)

	ctx, span := tracer.Start(ctx, "ingest")
	defer span.End()
	span.SetAttributes(
		attribute.String("framestack.owner", req.Owner.String()),
		attribute.Int("framestack.files", len(req.Files)),
	)

	switch {
	case len(req.Files) == 0:
		return IngestResult{}, ErrNoFiles
	case len(req.Files) > s.maxFiles:
		return IngestResult{}, fmt.Errorf("%w: %d > %d", ErrTooManyFiles, len(req.Files), s.maxFiles)
	case !req.Owner.Kind.HoldsPictures():
		return IngestResult{}, fmt.Errorf("%w: %s", ErrNotPictureOwner, req.Owner.Kind)
	}

	owner, err := s.meta.ResolveOwner(ctx, req.Owner)
	if err != nil {
		span.RecordError(err)
		return IngestResult{}, err
	}
	uploader := req.UploaderID
	if uploader == "" {
		uploader = owner.UserID
	}

	outcomes := make([]fileOutcome, len(req.Files))
	var g errgroup.Group
	for i, raw := range req.Files {
		g.Go(func() error {
			outcomes[i] = s.ingestFile(ctx, owner.Ref, uploader, i, raw)
			return nil
		})
	}
	_ = g.Wait()

	result := IngestResult{Pictures: []models.PictureView{}}
	var errs []error
	for i, o := range outcomes {
		switch {
		case o.err != nil:
			fe := FileError{Index: i, Err: o.err}
			result.Failures = append(result.Failures, fe)
			errs = append(errs, &fe)
			s.metrics.FileIngested("failed")
		case o.healed:
			result.Healed = append(result.Healed, i)
			s.metrics.FileIngested("healed")
		default:
			result.Pictures = append(result.Pictures, o.view)
			s.metrics.FileIngested("ingested")
		}
	}

	if req.MakeCurrent && len(result.Pictures) > 0 {
		first := &result.Pictures[0]
		if err := s.meta.SetCurrentPicture(ctx, owner.Ref, first.Picture.ID); err != nil {
			s.log.Warn().Err(err).Str("picture_id", first.Picture.ID).Msg("set current picture failed")
		} else {
			first.Picture.IsCurrent = true
		}
	}

	s.log.Info().
		Str("owner", owner.Ref.String()).
		Int("files", len(req.Files)).
		Int("ingested", len(result.Pictures)).
		Int("failed", len(result.Failures)).
		Int("healed", len(result.Healed)).
		Dur("took", time.Since(start)).
		Msg("ingest finished")

	if len(result.Pictures) == 0 && len(result.Failures) > 0 {
		err := errors.Join(errs...)
		span.RecordError(err)
		span.SetStatus(codes.Error, "all files failed")
		return result, err
	}
	return result, nil
}

type fileOutcome struct {
	view   models.PictureView
	healed bool
	err    error
}

// saga records what one file has written so far so it can be undone.
type saga struct {
	mu       sync.Mutex
	blobs    []models.Locator
	imageIDs []string
	images   map[models.Variant]models.Image
}

func (sg *saga) wroteBlob(loc models.Locator) {
	sg.mu.Lock()
	sg.blobs = append(sg.blobs, loc)
	sg.mu.Unlock()
}

func (sg *saga) registered(v models.Variant, img models.Image) {
	sg.mu.Lock()
	sg.imageIDs = append(sg.imageIDs, img.ID)
	sg.images[v] = img
	sg.mu.Unlock()
}

func (s *IngestService) ingestFile(ctx context.Context, owner models.OwnerRef, uploader string, index int, raw []byte) fileOutcome {
	ctx, span := tracer.Start(ctx, "ingest.file")
	defer span.End()
	span.SetAttributes(attribute.Int("framestack.file_index", index))

	log := s.log.With().Str("owner", owner.String()).Int("file", index).Logger()

	if err := s.deriveSlots.Acquire(ctx, 1); err != nil {
		return fileOutcome{err: err}
	}
	renditions, err := s.deriver.DeriveAll(ctx, raw)
	s.deriveSlots.Release(1)
	if err != nil {
		log.Warn().Err(err).Str("size", humanize.Bytes(uint64(len(raw)))).Msg("derive failed")
		span.RecordError(err)
		return fileOutcome{err: fmt.Errorf("derive: %w", err)}
	}

	for _, v := range models.Variants {
		if _, ok := renditions[v]; !ok {
			return fileOutcome{err: fmt.Errorf("derive: missing %s rendition", v)}
		}
	}

	sg := &saga{images: make(map[models.Variant]models.Image, len(models.Variants))}
	g, gctx := errgroup.WithContext(ctx)
	for _, v := range models.Variants {
		r := renditions[v]
		g.Go(func() error {
			loc, err := s.writer.Write(gctx, s.buckets.For(v), r)
			if err != nil {
				return err
			}
			sg.wroteBlob(loc)
			img, err := s.meta.RegisterImage(gctx, models.Image{
				Bucket:     loc.Bucket,
				ObjectKey:  loc.Key,
				Format:     r.Format,
				Width:      r.Width,
				Height:     r.Height,
				SizeBytes:  r.Size(),
				Checksum:   r.Checksum,
				UploaderID: uploader,
			})
			if err != nil {
				return fmt.Errorf("register %s image: %w", v, err)
			}
			sg.registered(v, img)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		s.compensate(ctx, log, sg)
		return fileOutcome{err: err}
	}

	picture, err := s.meta.RegisterPicture(ctx, models.Picture{
		Owner:           owner,
		OrderingIndex:   index,
		OriginalImageID: sg.images[models.VariantOriginal].ID,
		CroppedImageID:  sg.images[models.VariantCropped].ID,
		PendingImageID:  sg.images[models.VariantPending].ID,
	})
	if err != nil {
		span.RecordError(err)
		s.compensate(ctx, log, sg)
		return fileOutcome{err: fmt.Errorf("register picture: %w", err)}
	}
	picture.Images = sg.images

	view, ok := s.pictures.present(ctx, picture, "ingest")
	if !ok {
		return fileOutcome{healed: true}
	}
	log.Debug().Str("picture_id", picture.ID).Msg("picture ingested")
	return fileOutcome{view: view}
}

// compensate removes the image rows and blobs a failed saga left behind.
// It runs even when the request was cancelled.
func (s *IngestService) compensate(ctx context.Context, log zerolog.Logger, sg *saga) {
	ctx = context.WithoutCancel(ctx)
	s.metrics.Compensated()

	sg.mu.Lock()
	imageIDs := append([]string(nil), sg.imageIDs...)
	blobs := append([]models.Locator(nil), sg.blobs...)
	sg.mu.Unlock()

	if err := s.meta.DeleteImages(ctx, imageIDs...); err != nil {
		log.Warn().Err(err).Strs("image_ids", imageIDs).Msg("compensate: delete image rows failed")
	}
	for _, loc := range blobs {
		if err := s.blobs.Remove(ctx, loc); err != nil {
			log.Warn().Err(err).Str("bucket", loc.Bucket).Str("key", loc.Key).Msg("compensate: remove blob failed")
		}
	}
	log.Info().Int("images", len(imageIDs)).Int("blobs", len(blobs)).Msg("saga compensated")
}

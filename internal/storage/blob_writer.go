package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"framestack/internal/config"
	"framestack/internal/ids"
	"framestack/internal/media/derive"
	"framestack/internal/metrics"
	"framestack/internal/models"
)

var ErrWriteFailed = errors.New("blob write failed")

// ObjectWriter is the part of ObjectStore the writer needs.
type ObjectWriter interface {
	Put(ctx context.Context, loc models.Locator, data []byte, contentType string) (int64, error)
	Remove(ctx context.Context, loc models.Locator) error
}

type BlobWriter struct {
	store    ObjectWriter
	attempts int
	timeout  time.Duration
	metrics  *metrics.Metrics
	log      zerolog.Logger

	now     func() time.Time
	backoff func() backoff.BackOff
}

func NewBlobWriter(store ObjectWriter, cfg config.PipelineConfig, m *metrics.Metrics, log zerolog.Logger) *BlobWriter {
	attempts := cfg.WriteAttempts
	if attempts < 1 {
		attempts = 1
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BlobWriter{
		store:    store,
		attempts: attempts,
		timeout:  timeout,
		metrics:  m,
		log:      log,
		now:      time.Now,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// ObjectKey builds a key with a date prefix, a time-ordered random name and
// the rendition's extension.
func ObjectKey(now time.Time, ext string) string {
	now = now.UTC()
	return path.Join(now.Format("2006/01/02"), ids.NewAt(now)+"."+ext)
}

// Write stores the rendition under a new key in bucket. Every attempt uses a
// fresh key and the key of a failed attempt is removed best-effort.
func (w *BlobWriter) Write(ctx context.Context, bucket string, r derive.Rendition) (models.Locator, error) {
	var (
		written models.Locator
		attempt int
	)
	op := func() error {
		attempt++
		loc := models.Locator{Bucket: bucket, Key: ObjectKey(w.now(), r.Extension)}

		actx, cancel := context.WithTimeout(ctx, w.timeout)
		size, err := w.store.Put(actx, loc, r.Data, r.ContentType)
		cancel()
		if err != nil {
			w.metrics.BlobWrite(bucket, false, 0)
			w.discard(ctx, loc)
			w.log.Warn().
				Err(err).
				Str("bucket", bucket).
				Str("key", loc.Key).
				Int("attempt", attempt).
				Msg("blob write attempt failed")
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		w.metrics.BlobWrite(bucket, true, size)
		written = loc
		w.log.Debug().
			Str("bucket", bucket).
			Str("key", loc.Key).
			Str("size", humanize.Bytes(uint64(size))).
			Msg("blob written")
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(w.backoff(), uint64(w.attempts-1)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return models.Locator{}, fmt.Errorf("%w: %s %s after %d attempts: %w", ErrWriteFailed, bucket, r.Variant, attempt, err)
	}
	return written, nil
}

func (w *BlobWriter) discard(ctx context.Context, loc models.Locator) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()
	if err := w.store.Remove(ctx, loc); err != nil {
		w.log.Warn().Err(err).Str("bucket", loc.Bucket).Str("key", loc.Key).Msg("remove failed attempt")
	}
}

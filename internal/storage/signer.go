package storage

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"framestack/internal/config"
	"framestack/internal/metrics"
	"framestack/internal/models"
)

// Signer issues access handles. It never fails: a handle that could not be
// issued comes back with Usable false.
type Signer interface {
	Sign(ctx context.Context, loc models.Locator) models.Handle
}

// Presigner is the part of ObjectStore PresignSigner needs.
type Presigner interface {
	PresignGet(ctx context.Context, loc models.Locator, ttl time.Duration) (*url.URL, error)
	Exists(ctx context.Context, loc models.Locator) (bool, error)
}

type PresignSigner struct {
	store   Presigner
	ttl     time.Duration
	timeout time.Duration
	verify  bool
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

func NewPresignSigner(store Presigner, cfg config.SigningConfig, m *metrics.Metrics, log zerolog.Logger) *PresignSigner {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PresignSigner{
		store:   store,
		ttl:     ttl,
		timeout: timeout,
		verify:  cfg.Verify,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

func (s *PresignSigner) Sign(ctx context.Context, loc models.Locator) models.Handle {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if s.verify {
		ok, err := s.store.Exists(ctx, loc)
		if err != nil || !ok {
			s.log.Warn().Err(err).Str("bucket", loc.Bucket).Str("key", loc.Key).Msg("blob missing, handle unusable")
			s.metrics.HandleSigned(false)
			return models.Handle{}
		}
	}

	issued := s.now()
	u, err := s.store.PresignGet(ctx, loc, s.ttl)
	if err != nil {
		s.log.Warn().Err(err).Str("bucket", loc.Bucket).Str("key", loc.Key).Msg("sign handle failed")
		s.metrics.HandleSigned(false)
		return models.Handle{}
	}
	s.metrics.HandleSigned(true)
	return models.Handle{
		Usable:    true,
		URL:       u.String(),
		ExpiresAt: issued.Add(s.ttl).UTC(),
	}
}

// CachedSigner keeps usable handles in Redis for at most half their
// remaining lifetime. Redis errors fall through to the wrapped signer.
// With signing.verify on, every Sign goes to the wrapped signer so a blob
// lost outside the reaper is noticed on the next read.
type CachedSigner struct {
	next   Signer
	client *redis.Client
	maxTTL time.Duration
	verify bool
	log    zerolog.Logger
	now    func() time.Time
}

func NewCachedSigner(next Signer, client *redis.Client, cfg config.SigningConfig, log zerolog.Logger) *CachedSigner {
	return &CachedSigner{
		next:   next,
		client: client,
		maxTTL: cfg.CacheTTL,
		verify: cfg.Verify,
		log:    log,
		now:    time.Now,
	}
}

func handleCacheKey(loc models.Locator) string {
	return "handle:" + loc.String()
}

func (s *CachedSigner) Sign(ctx context.Context, loc models.Locator) models.Handle {
	if s.client == nil || s.verify {
		return s.next.Sign(ctx, loc)
	}

	key := handleCacheKey(loc)
	if raw, err := s.client.Get(ctx, key).Bytes(); err == nil {
		var h models.Handle
		if err := json.Unmarshal(raw, &h); err == nil && h.Usable && h.ExpiresAt.After(s.now()) {
			return h
		}
	} else if err != redis.Nil {
		s.log.Debug().Err(err).Str("key", key).Msg("handle cache read failed")
	}

	h := s.next.Sign(ctx, loc)
	if !h.Usable {
		return h
	}

	ttl := h.ExpiresAt.Sub(s.now()) / 2
	if s.maxTTL > 0 && ttl > s.maxTTL {
		ttl = s.maxTTL
	}
	if ttl < time.Second {
		return h
	}
	raw, err := json.Marshal(h)
	if err != nil {
		return h
	}
	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		s.log.Debug().Err(err).Str("key", key).Msg("handle cache write failed")
	}
	return h
}

// Forget drops cached handles for blobs that are being removed.
func (s *CachedSigner) Forget(ctx context.Context, locs ...models.Locator) {
	if s.client == nil || len(locs) == 0 {
		return
	}
	keys := make([]string, len(locs))
	for i, loc := range locs {
		keys[i] = handleCacheKey(loc)
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		s.log.Debug().Err(err).Msg("handle cache delete failed")
	}
}

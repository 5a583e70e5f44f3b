// Package bootstrap wires the metadata store, object store, Redis and the
// services on top of them. The API server, the worker and framectl all
// start from App.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"framestack/internal/cache"
	"framestack/internal/config"
	"framestack/internal/database"
	"framestack/internal/media/derive"
	"framestack/internal/metrics"
	"framestack/internal/queue"
	"framestack/internal/repository"
	"framestack/internal/service"
	"framestack/internal/storage"
	"framestack/internal/tasks"
	"framestack/internal/telemetry"
)

var (
	_ service.MetadataStore  = (*repository.Repository)(nil)
	_ service.BlobStore      = (*storage.ObjectStore)(nil)
	_ service.BlobWriter     = (*storage.BlobWriter)(nil)
	_ service.VariantDeriver = (*derive.Deriver)(nil)
	_ service.HandleCache    = (*storage.CachedSigner)(nil)
	_ tasks.Enqueuer         = (*queue.Producer)(nil)
)

type App struct {
	Config  *config.AppConfig
	Log     zerolog.Logger
	DB      *database.DB
	Redis   *redis.Client
	Store   *storage.ObjectStore
	Repo    *repository.Repository
	Metrics *metrics.Metrics
	Tracing *telemetry.Provider

	Signer   *storage.CachedSigner
	Reaper   *service.Reaper
	Pictures *service.PictureService
	Ingest   *service.IngestService
	Sweeper  *service.Sweeper
	// Tasks is nil when Redis is not configured.
	Tasks tasks.Enqueuer
}

func New(ctx context.Context, cfg *config.AppConfig, log zerolog.Logger) (*App, error) {
	tracing, err := telemetry.Setup(ctx, cfg.Telemetry, log.With().Str("component", "telemetry").Logger())
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}

	db, err := database.Open(ctx, cfg.Metadata, cfg.Postgres)
	if err != nil {
		shutdownTracing(tracing, log)
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis, log)
	if err != nil {
		db.Close()
		shutdownTracing(tracing, log)
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	store, err := storage.NewObjectStore(cfg.Storage)
	if err != nil {
		db.Close()
		closeRedis(redisClient)
		shutdownTracing(tracing, log)
		return nil, fmt.Errorf("init object store: %w", err)
	}
	if err := store.EnsureBuckets(ctx); err != nil {
		log.Warn().Err(err).Msg("ensure buckets failed")
	}

	app := &App{
		Config:  cfg,
		Log:     log,
		DB:      db,
		Redis:   redisClient,
		Store:   store,
		Repo:    repository.NewRepository(db),
		Metrics: metrics.New(),
		Tracing: tracing,
	}
	app.wire()
	return app, nil
}

func (a *App) wire() {
	cfg := a.Config

	presigner := storage.NewPresignSigner(a.Store, cfg.Signing, a.Metrics, a.Log.With().Str("component", "signer").Logger())
	a.Signer = storage.NewCachedSigner(presigner, a.Redis, cfg.Signing, a.Log)

	a.Reaper = service.NewReaper(a.Repo, a.Store, cfg.Pipeline, a.Metrics, a.Log.With().Str("component", "reaper").Logger()).
		WithHandleCache(a.Signer)
	a.Pictures = service.NewPictureService(a.Repo, a.Signer, a.Reaper, a.Metrics, a.Log)

	deriver := derive.New(derive.Options{
		CropSize:    cfg.Derive.CropSize,
		JPEGQuality: cfg.Derive.JPEGQuality,
		MaxPixels:   cfg.Derive.MaxPixels,
	})
	writer := storage.NewBlobWriter(a.Store, cfg.Pipeline, a.Metrics, a.Log.With().Str("component", "blob_writer").Logger())
	a.Ingest = service.NewIngestService(a.Repo, deriver, writer, a.Store, a.Pictures,
		cfg.Storage.Buckets, cfg.Pipeline, a.Metrics, a.Log.With().Str("component", "ingest").Logger())

	a.Sweeper = service.NewSweeper(a.Repo, a.Store, a.Reaper, cfg.Storage.Buckets, cfg.Sweep,
		a.Metrics, a.Log.With().Str("component", "sweeper").Logger())

	if a.Redis != nil {
		a.Tasks = queue.NewProducer(a.Redis, cfg.Queue.Stream)
	}
}

// Shutdown releases the stores and flushes buffered spans before ctx ends.
func (a *App) Shutdown(ctx context.Context) {
	if err := a.DB.Close(); err != nil {
		a.Log.Error().Err(err).Msg("metadata close error")
	}
	closeRedis(a.Redis)
	if err := a.Tracing.Shutdown(ctx); err != nil {
		a.Log.Error().Err(err).Msg("tracing shutdown error")
	}
}

func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.Shutdown(ctx)
}

func shutdownTracing(p *telemetry.Provider, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown error")
	}
}

func closeRedis(c *redis.Client) {
	if c != nil {
		_ = c.Close()
	}
}

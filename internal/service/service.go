// Package service drives uploads through derivation, storage and
// registration, and reclaims pictures when their owners go away.
package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"framestack/internal/media/derive"
	"framestack/internal/models"
	"framestack/internal/storage"
)

var tracer = otel.Tracer("framestack/internal/service")

// MetadataStore is the relational side of the pipeline.
type MetadataStore interface {
	ResolveOwner(ctx context.Context, ref models.OwnerRef) (models.Owner, error)
	DeleteOwner(ctx context.Context, ref models.OwnerRef) error

	RegisterImage(ctx context.Context, image models.Image) (models.Image, error)
	DeleteImages(ctx context.Context, imageIDs ...string) error
	LocatorExists(ctx context.Context, bucket, key string) (bool, error)
	ListOrphanImages(ctx context.Context, olderThan time.Time, limit int) ([]models.Image, error)

	RegisterPicture(ctx context.Context, picture models.Picture) (models.Picture, error)
	DeletePicture(ctx context.Context, pictureID string) error
	GetPicture(ctx context.Context, pictureID string) (models.Picture, error)
	ListPictures(ctx context.Context, owner models.OwnerRef) ([]models.Picture, error)
	ListOwnedPictures(ctx context.Context, owners ...models.OwnerRef) ([]models.Picture, error)
	ListOrphanPictures(ctx context.Context, limit int) ([]models.Picture, error)
	SetCurrentPicture(ctx context.Context, owner models.OwnerRef, pictureID string) error
}

// BlobStore is the object store side of the pipeline.
type BlobStore interface {
	Remove(ctx context.Context, loc models.Locator) error
	Walk(ctx context.Context, bucket string, fn func(storage.Object) error) error
}

type BlobWriter interface {
	Write(ctx context.Context, bucket string, r derive.Rendition) (models.Locator, error)
}

type VariantDeriver interface {
	DeriveAll(ctx context.Context, raw []byte) (map[models.Variant]derive.Rendition, error)
}

// HandleCache is implemented by signers that keep issued handles around.
type HandleCache interface {
	Forget(ctx context.Context, locs ...models.Locator)
}

// FileError ties an ingestion failure to the position of the file in the
// request.
type FileError struct {
	Index int
	Err   error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("file %d: %v", e.Index, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"framestack/internal/ids"
	"framestack/internal/models"
)

const imageColumns = `id, bucket, object_key, format, width, height, size_bytes, checksum, uploader_id, created_at`

// RegisterImage inserts one image row. The (bucket, key) pair must not have
// been registered before.
func (r *Repository) RegisterImage(ctx context.Context, image models.Image) (models.Image, error) {
	if image.ID == "" {
		image.ID = ids.New()
	}
	if image.CreatedAt.IsZero() {
		image.CreatedAt = r.now()
	}

	const query = `
		INSERT INTO images (` + imageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.q(query),
		image.ID,
		image.Bucket,
		image.ObjectKey,
		image.Format,
		image.Width,
		image.Height,
		image.SizeBytes,
		image.Checksum,
		image.UploaderID,
		image.CreatedAt,
	)
	if err != nil {
		if r.dialect.IsUniqueViolation(err) {
			return models.Image{}, fmt.Errorf("register image %s: %w: %w", image.Locator(), ErrDuplicateLocator, err)
		}
		return models.Image{}, r.wrap("register image", err)
	}
	return image, nil
}

func (r *Repository) GetImage(ctx context.Context, id string) (models.Image, error) {
	const query = `SELECT ` + imageColumns + ` FROM images WHERE id = ?`
	image, err := scanImage(r.db.QueryRowContext(ctx, r.q(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Image{}, ErrImageNotFound
		}
		return models.Image{}, r.wrap("get image", err)
	}
	return image, nil
}

// DeleteImages removes image rows. Ids that no longer exist are ignored.
func (r *Repository) DeleteImages(ctx context.Context, imageIDs ...string) error {
	if len(imageIDs) == 0 {
		return nil
	}
	query := `DELETE FROM images WHERE id IN (` + placeholders(len(imageIDs)) + `)`
	if _, err := r.db.ExecContext(ctx, r.q(query), anySlice(imageIDs)...); err != nil {
		return r.wrap("delete images", err)
	}
	return nil
}

// LocatorExists reports whether an image row points at bucket/key.
func (r *Repository) LocatorExists(ctx context.Context, bucket, key string) (bool, error) {
	const query = `SELECT 1 FROM images WHERE bucket = ? AND object_key = ?`
	var one int
	err := r.db.QueryRowContext(ctx, r.q(query), bucket, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, r.wrap("lookup locator", err)
	}
	return true, nil
}

// ListOrphanImages returns image rows older than olderThan that no picture
// references: leftovers of ingestions that died before their picture row was
// written.
func (r *Repository) ListOrphanImages(ctx context.Context, olderThan time.Time, limit int) ([]models.Image, error) {
	const query = `
		SELECT ` + imageColumns + `
		FROM images i
		WHERE i.created_at < ?
		  AND NOT EXISTS (
			SELECT 1 FROM pictures p
			WHERE p.original_image_id = i.id
			   OR p.cropped_image_id = i.id
			   OR p.pending_image_id = i.id
		  )
		ORDER BY i.created_at
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, r.q(query), olderThan.UTC(), limit)
	if err != nil {
		return nil, r.wrap("list orphan images", err)
	}
	defer rows.Close()

	var images []models.Image
	for rows.Next() {
		image, err := scanImage(rows)
		if err != nil {
			return nil, r.wrap("scan image", err)
		}
		images = append(images, image)
	}
	if err := rows.Err(); err != nil {
		return nil, r.wrap("list orphan images", err)
	}
	return images, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImage(row rowScanner) (models.Image, error) {
	var image models.Image
	if err := row.Scan(
		&image.ID,
		&image.Bucket,
		&image.ObjectKey,
		&image.Format,
		&image.Width,
		&image.Height,
		&image.SizeBytes,
		&image.Checksum,
		&image.UploaderID,
		&image.CreatedAt,
	); err != nil {
		return models.Image{}, err
	}
	image.CreatedAt = image.CreatedAt.UTC()
	return image, nil
}

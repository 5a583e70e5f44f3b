package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"framestack/internal/ids"
	"framestack/internal/models"
)

const pictureColumns = `p.id, p.frame_id, p.profile_picture_id, p.ordering_index, p.is_current,
	p.original_image_id, p.cropped_image_id, p.pending_image_id, p.created_at`

// ownerColumn maps an owner that holds pictures directly to its column.
func ownerColumn(kind models.OwnerKind) (string, error) {
	switch kind {
	case models.OwnerFrame:
		return "frame_id", nil
	case models.OwnerProfilePicture:
		return "profile_picture_id", nil
	}
	return "", fmt.Errorf("owner kind %q does not hold pictures", kind)
}

// RegisterPicture inserts the picture row that groups three already
// registered images. When picture.IsCurrent is set, the owner's previous
// current picture is demoted in the same transaction.
func (r *Repository) RegisterPicture(ctx context.Context, picture models.Picture) (models.Picture, error) {
	column, err := ownerColumn(picture.Owner.Kind)
	if err != nil {
		return models.Picture{}, fmt.Errorf("register picture: %w", err)
	}
	if picture.ID == "" {
		picture.ID = ids.New()
	}
	if picture.CreatedAt.IsZero() {
		picture.CreatedAt = r.now()
	}

	var frameID, profilePictureID string
	if picture.Owner.Kind == models.OwnerFrame {
		frameID = picture.Owner.ID
	} else {
		profilePictureID = picture.Owner.ID
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Picture{}, r.wrap("register picture", err)
	}
	defer tx.Rollback()

	if picture.IsCurrent {
		demote := `UPDATE pictures SET is_current = ? WHERE ` + column + ` = ? AND is_current = ?`
		if _, err := tx.ExecContext(ctx, r.q(demote), false, picture.Owner.ID, true); err != nil {
			return models.Picture{}, r.wrap("register picture", err)
		}
	}

	const insert = `
		INSERT INTO pictures (
			id, frame_id, profile_picture_id, ordering_index, is_current,
			original_image_id, cropped_image_id, pending_image_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, r.q(insert),
		picture.ID,
		nullable(frameID),
		nullable(profilePictureID),
		picture.OrderingIndex,
		picture.IsCurrent,
		picture.OriginalImageID,
		picture.CroppedImageID,
		picture.PendingImageID,
		picture.CreatedAt,
	); err != nil {
		return models.Picture{}, r.wrap("register picture", err)
	}

	if err := tx.Commit(); err != nil {
		return models.Picture{}, r.wrap("register picture", err)
	}
	return picture, nil
}

// DeletePicture removes the picture row and its three image rows in one
// transaction. A picture that is already gone is not an error.
func (r *Repository) DeletePicture(ctx context.Context, pictureID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return r.wrap("delete picture", err)
	}
	defer tx.Rollback()

	const lookup = `SELECT original_image_id, cropped_image_id, pending_image_id FROM pictures WHERE id = ?`
	imageIDs := make([]string, 3)
	err = tx.QueryRowContext(ctx, r.q(lookup), pictureID).Scan(&imageIDs[0], &imageIDs[1], &imageIDs[2])
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return r.wrap("delete picture", err)
	}

	if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM pictures WHERE id = ?`), pictureID); err != nil {
		return r.wrap("delete picture", err)
	}
	deleteImages := `DELETE FROM images WHERE id IN (` + placeholders(len(imageIDs)) + `)`
	if _, err := tx.ExecContext(ctx, r.q(deleteImages), anySlice(imageIDs)...); err != nil {
		return r.wrap("delete picture images", err)
	}

	if err := tx.Commit(); err != nil {
		return r.wrap("delete picture", err)
	}
	return nil
}

// GetPicture returns one picture with its images joined.
func (r *Repository) GetPicture(ctx context.Context, pictureID string) (models.Picture, error) {
	query := `SELECT ` + pictureColumns + ` FROM pictures p WHERE p.id = ?`
	pictures, err := r.queryPictures(ctx, query, pictureID)
	if err != nil {
		return models.Picture{}, err
	}
	if len(pictures) == 0 {
		return models.Picture{}, ErrPictureNotFound
	}
	return pictures[0], nil
}

// ListPictures returns the pictures held directly by owner in ordering
// index order.
func (r *Repository) ListPictures(ctx context.Context, owner models.OwnerRef) ([]models.Picture, error) {
	column, err := ownerColumn(owner.Kind)
	if err != nil {
		return nil, fmt.Errorf("list pictures: %w", err)
	}
	query := `SELECT ` + pictureColumns + ` FROM pictures p WHERE p.` + column + ` = ?
		ORDER BY p.ordering_index, p.created_at, p.id`
	return r.queryPictures(ctx, query, owner.ID)
}

// ListOwnedPictures returns every picture the owners hold directly or
// through galleries, frames and profile picture containers. Each picture
// appears once even when owners overlap.
func (r *Repository) ListOwnedPictures(ctx context.Context, owners ...models.OwnerRef) ([]models.Picture, error) {
	seen := make(map[string]struct{})
	var out []models.Picture
	for _, owner := range owners {
		var (
			query string
			args  []any
		)
		switch owner.Kind {
		case models.OwnerFrame:
			query = `SELECT ` + pictureColumns + ` FROM pictures p WHERE p.frame_id = ?`
			args = []any{owner.ID}
		case models.OwnerProfilePicture:
			query = `SELECT ` + pictureColumns + ` FROM pictures p WHERE p.profile_picture_id = ?`
			args = []any{owner.ID}
		case models.OwnerGallery:
			query = `SELECT ` + pictureColumns + ` FROM pictures p
				WHERE p.frame_id IN (SELECT f.id FROM frames f WHERE f.gallery_id = ?)`
			args = []any{owner.ID}
		case models.OwnerUser:
			query = `SELECT ` + pictureColumns + ` FROM pictures p
				WHERE p.frame_id IN (
					SELECT f.id FROM frames f JOIN galleries g ON g.id = f.gallery_id WHERE g.user_id = ?
				)
				OR p.profile_picture_id IN (SELECT pp.id FROM profile_pictures pp WHERE pp.user_id = ?)`
			args = []any{owner.ID, owner.ID}
		default:
			return nil, fmt.Errorf("list owned pictures: unknown owner kind %q", owner.Kind)
		}

		pictures, err := r.queryPictures(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		for _, p := range pictures {
			if _, dup := seen[p.ID]; dup {
				continue
			}
			seen[p.ID] = struct{}{}
			out = append(out, p)
		}
	}
	return out, nil
}

// ListOrphanPictures returns pictures whose owner row has been deleted.
func (r *Repository) ListOrphanPictures(ctx context.Context, limit int) ([]models.Picture, error) {
	query := `SELECT ` + pictureColumns + ` FROM pictures p
		WHERE p.frame_id IS NULL AND p.profile_picture_id IS NULL
		ORDER BY p.created_at
		LIMIT ?`
	return r.queryPictures(ctx, query, limit)
}

// SetCurrentPicture makes pictureID the owner's only current picture.
func (r *Repository) SetCurrentPicture(ctx context.Context, owner models.OwnerRef, pictureID string) error {
	column, err := ownerColumn(owner.Kind)
	if err != nil {
		return fmt.Errorf("set current picture: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return r.wrap("set current picture", err)
	}
	defer tx.Rollback()

	demote := `UPDATE pictures SET is_current = ? WHERE ` + column + ` = ? AND is_current = ? AND id <> ?`
	if _, err := tx.ExecContext(ctx, r.q(demote), false, owner.ID, true, pictureID); err != nil {
		return r.wrap("set current picture", err)
	}
	promote := `UPDATE pictures SET is_current = ? WHERE id = ? AND ` + column + ` = ?`
	res, err := tx.ExecContext(ctx, r.q(promote), true, pictureID, owner.ID)
	if err != nil {
		return r.wrap("set current picture", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrPictureNotFound
	}

	if err := tx.Commit(); err != nil {
		return r.wrap("set current picture", err)
	}
	return nil
}

func (r *Repository) queryPictures(ctx context.Context, query string, args ...any) ([]models.Picture, error) {
	rows, err := r.db.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, r.wrap("query pictures", err)
	}

	var pictures []models.Picture
	for rows.Next() {
		var (
			p                         models.Picture
			frameID, profilePictureID sql.NullString
		)
		if err := rows.Scan(
			&p.ID,
			&frameID,
			&profilePictureID,
			&p.OrderingIndex,
			&p.IsCurrent,
			&p.OriginalImageID,
			&p.CroppedImageID,
			&p.PendingImageID,
			&p.CreatedAt,
		); err != nil {
			rows.Close()
			return nil, r.wrap("scan picture", err)
		}
		switch {
		case frameID.Valid:
			p.Owner = models.OwnerRef{Kind: models.OwnerFrame, ID: frameID.String}
		case profilePictureID.Valid:
			p.Owner = models.OwnerRef{Kind: models.OwnerProfilePicture, ID: profilePictureID.String}
		}
		p.CreatedAt = p.CreatedAt.UTC()
		pictures = append(pictures, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, r.wrap("query pictures", err)
	}
	// Released before loading images: an in-memory SQLite pool has a single
	// connection.
	rows.Close()

	if err := r.attachImages(ctx, pictures); err != nil {
		return nil, err
	}
	return pictures, nil
}

const imageBatchSize = 300

func (r *Repository) attachImages(ctx context.Context, pictures []models.Picture) error {
	if len(pictures) == 0 {
		return nil
	}
	imageIDs := make([]string, 0, len(pictures)*3)
	for _, p := range pictures {
		imageIDs = append(imageIDs, p.ImageIDs()...)
	}

	byID := make(map[string]models.Image, len(imageIDs))
	for start := 0; start < len(imageIDs); start += imageBatchSize {
		end := min(start+imageBatchSize, len(imageIDs))
		batch := imageIDs[start:end]
		query := `SELECT ` + imageColumns + ` FROM images WHERE id IN (` + placeholders(len(batch)) + `)`
		rows, err := r.db.QueryContext(ctx, r.q(query), anySlice(batch)...)
		if err != nil {
			return r.wrap("load picture images", err)
		}
		for rows.Next() {
			image, err := scanImage(rows)
			if err != nil {
				rows.Close()
				return r.wrap("scan image", err)
			}
			byID[image.ID] = image
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return r.wrap("load picture images", err)
		}
	}

	for i := range pictures {
		pictures[i].Images = make(map[models.Variant]models.Image, 3)
		for _, v := range models.Variants {
			if image, ok := byID[pictures[i].ImageID(v)]; ok {
				pictures[i].Images[v] = image
			}
		}
	}
	return nil
}

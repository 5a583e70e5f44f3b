package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"framestack/internal/models"
)

// ResolveOwner confirms the owner exists and returns the user that uploads
// into it are attributed to.
func (r *Repository) ResolveOwner(ctx context.Context, ref models.OwnerRef) (models.Owner, error) {
	var query string
	switch ref.Kind {
	case models.OwnerFrame:
		query = `SELECT g.user_id FROM frames f JOIN galleries g ON g.id = f.gallery_id WHERE f.id = ?`
	case models.OwnerProfilePicture:
		query = `SELECT user_id FROM profile_pictures WHERE id = ?`
	case models.OwnerGallery:
		query = `SELECT user_id FROM galleries WHERE id = ?`
	case models.OwnerUser:
		query = `SELECT id FROM users WHERE id = ?`
	default:
		return models.Owner{}, fmt.Errorf("resolve owner: unknown kind %q", ref.Kind)
	}

	owner := models.Owner{Ref: ref}
	err := r.db.QueryRowContext(ctx, r.q(query), ref.ID).Scan(&owner.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Owner{}, fmt.Errorf("%w: %s", ErrOwnerNotFound, ref)
	}
	if err != nil {
		return models.Owner{}, r.wrap("resolve owner", err)
	}
	return owner, nil
}

// DeleteOwner removes the owner row. Child owners cascade; pictures lose
// their owner reference and are picked up by the orphan sweep if the caller
// did not reclaim them first.
func (r *Repository) DeleteOwner(ctx context.Context, ref models.OwnerRef) error {
	var table string
	switch ref.Kind {
	case models.OwnerFrame:
		table = "frames"
	case models.OwnerProfilePicture:
		table = "profile_pictures"
	case models.OwnerGallery:
		table = "galleries"
	case models.OwnerUser:
		table = "users"
	default:
		return fmt.Errorf("delete owner: unknown kind %q", ref.Kind)
	}

	res, err := r.db.ExecContext(ctx, r.q(`DELETE FROM `+table+` WHERE id = ?`), ref.ID)
	if err != nil {
		return r.wrap("delete owner", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrOwnerNotFound, ref)
	}
	return nil
}

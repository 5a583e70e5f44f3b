package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"framestack/internal/repository"
	"framestack/internal/service"
	"framestack/internal/tasks"
)

type deleteOwnerResponse struct {
	Report        service.ReclaimReport `json:"report"`
	OwnerDeleted  bool                  `json:"ownerDeleted"`
	SweepEnqueued bool                  `json:"sweepEnqueued"`
}

// DeleteOwner reclaims every picture the owner holds, directly or through
// its frames and profile pictures, then deletes the owner row. Pictures the
// reaper could not finish are orphaned by the delete and left to a sweep;
// the response is then 202.
func (h HandlerSet) DeleteOwner(c *gin.Context) {
	owner, err := ownerFromPath(c)
	if err != nil {
		respondError(c, http.StatusNotFound, "unknown_owner_kind", err)
		return
	}
	ctx := c.Request.Context()

	report, err := h.reaper.Reclaim(ctx, owner)
	if err != nil {
		respondError(c, http.StatusBadGateway, "reclaim_failed", err)
		return
	}

	resp := deleteOwnerResponse{Report: report}
	if err := h.owners.DeleteOwner(ctx, owner); err != nil {
		if !errors.Is(err, repository.ErrOwnerNotFound) {
			respondError(c, http.StatusBadGateway, "delete_owner_failed", err)
			return
		}
		if len(report.FullyReclaimed)+len(report.PartiallyReclaimed) == 0 {
			respondError(c, http.StatusNotFound, "owner_not_found", err)
			return
		}
	} else {
		resp.OwnerDeleted = true
	}

	if report.Complete() {
		c.JSON(http.StatusOK, resp)
		return
	}

	resp.SweepEnqueued = h.enqueueSweep(ctx, "partial reclaim of "+owner.String())
	c.JSON(http.StatusAccepted, resp)
}

func (h HandlerSet) enqueueSweep(ctx context.Context, reason string) bool {
	log := zerolog.Ctx(ctx)
	if h.tasks == nil {
		log.Warn().Str("reason", reason).Msg("task stream disabled, sweep not enqueued")
		return false
	}
	id, err := tasks.EnqueueSweep(ctx, h.tasks, reason)
	if err != nil {
		log.Error().Err(err).Str("reason", reason).Msg("enqueue sweep failed")
		return false
	}
	log.Info().Str("message_id", id).Str("reason", reason).Msg("sweep enqueued")
	return true
}

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Sweep runs an orphan sweep in the request, or enqueues one for the worker
// when async=true.
func (h HandlerSet) Sweep(c *gin.Context) {
	if async, _ := strconv.ParseBool(c.Query("async")); async {
		if !h.enqueueSweep(c.Request.Context(), "admin") {
			c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "task_stream_unavailable"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"enqueued": true})
		return
	}

	report, err := h.sweeper.Sweep(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusBadGateway, "sweep_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"complete": report.Complete(),
		"report":   report,
	})
}

// Package handlers adapts HTTP requests onto the ingestion, read and
// reclaim services.
package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"framestack/internal/bootstrap"
	"framestack/internal/config"
	"framestack/internal/models"
	"framestack/internal/repository"
	"framestack/internal/service"
	"framestack/internal/tasks"
)

type HandlerSet struct {
	log      zerolog.Logger
	cfg      *config.AppConfig
	app      *bootstrap.App
	ingest   *service.IngestService
	pictures *service.PictureService
	reaper   *service.Reaper
	sweeper  *service.Sweeper
	owners   *repository.Repository
	tasks    tasks.Enqueuer
}

func NewHandlerSet(app *bootstrap.App) HandlerSet {
	return HandlerSet{
		log:      app.Log,
		cfg:      app.Config,
		app:      app,
		ingest:   app.Ingest,
		pictures: app.Pictures,
		reaper:   app.Reaper,
		sweeper:  app.Sweeper,
		owners:   app.Repo,
		tasks:    app.Tasks,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")
	{
		owners := v1.Group("/owners/:kind/:id")
		owners.POST("/pictures", h.UploadPictures)
		owners.GET("/pictures", h.ListPictures)
		owners.DELETE("", h.DeleteOwner)

		v1.GET("/pictures/:id", h.GetPicture)
	}

	admin := v1.Group("/admin")
	admin.POST("/sweep", h.Sweep)
}

// ownerKinds maps URL segments onto owner kinds.
var ownerKinds = map[string]models.OwnerKind{
	"frames":           models.OwnerFrame,
	"profile-pictures": models.OwnerProfilePicture,
	"galleries":        models.OwnerGallery,
	"users":            models.OwnerUser,
}

func ownerFromPath(c *gin.Context) (models.OwnerRef, error) {
	kind, ok := ownerKinds[c.Param("kind")]
	if !ok {
		return models.OwnerRef{}, fmt.Errorf("unknown owner kind %q", c.Param("kind"))
	}
	id := c.Param("id")
	if id == "" {
		return models.OwnerRef{}, fmt.Errorf("owner id required")
	}
	return models.OwnerRef{Kind: kind, ID: id}, nil
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func respondError(c *gin.Context, status int, code string, err error) {
	log := zerolog.Ctx(c.Request.Context())
	event := log.Warn()
	if status >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.Err(err).Str("code", code).Msg("request failed")

	resp := errorResponse{Error: code}
	if err != nil && status < http.StatusInternalServerError {
		resp.Message = err.Error()
	}
	c.AbortWithStatusJSON(status, resp)
}

package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"framestack/internal/media/derive"
	"framestack/internal/models"
	"framestack/internal/repository"
	"framestack/internal/service"
	"framestack/internal/storage"
)

type imageResponse struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
	Format    string    `json:"format"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	SizeBytes int64     `json:"sizeBytes"`
}

type pictureResponse struct {
	ID            string                            `json:"id"`
	Owner         models.OwnerRef                   `json:"owner"`
	OrderingIndex int                               `json:"orderingIndex"`
	IsCurrent     bool                              `json:"isCurrent"`
	CreatedAt     time.Time                         `json:"createdAt"`
	Images        map[models.Variant]imageResponse `json:"images"`
}

type fileFailure struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

type uploadResponse struct {
	Pictures []pictureResponse `json:"pictures"`
	Failures []fileFailure     `json:"failures,omitempty"`
	Healed   []int             `json:"healed,omitempty"`
}

func toPictureResponse(v models.PictureView) pictureResponse {
	resp := pictureResponse{
		ID:            v.Picture.ID,
		Owner:         v.Picture.Owner,
		OrderingIndex: v.Picture.OrderingIndex,
		IsCurrent:     v.Picture.IsCurrent,
		CreatedAt:     v.Picture.CreatedAt,
		Images:        make(map[models.Variant]imageResponse, len(v.Images)),
	}
	for variant, si := range v.Images {
		resp.Images[variant] = imageResponse{
			ID:        si.Image.ID,
			URL:       si.Handle.URL,
			ExpiresAt: si.Handle.ExpiresAt,
			Format:    si.Image.Format,
			Width:     si.Image.Width,
			Height:    si.Image.Height,
			SizeBytes: si.Image.SizeBytes,
		}
	}
	return resp
}

func toPictureResponses(views []models.PictureView) []pictureResponse {
	out := make([]pictureResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toPictureResponse(v))
	}
	return out
}

// UploadPictures ingests the multipart "files" field into the owner's
// pictures. 201 when every file became a picture, 207 when some did.
func (h HandlerSet) UploadPictures(c *gin.Context) {
	owner, err := ownerFromPath(c)
	if err != nil {
		respondError(c, http.StatusNotFound, "unknown_owner_kind", err)
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, http.StatusRequestEntityTooLarge, "request_too_large", err)
			return
		}
		respondError(c, http.StatusBadRequest, "multipart_required", err)
		return
	}

	headers := form.File["files"]
	if len(headers) == 0 {
		respondError(c, http.StatusBadRequest, "files_required", service.ErrNoFiles)
		return
	}
	if len(headers) > h.cfg.Pipeline.MaxFiles {
		respondError(c, http.StatusBadRequest, "too_many_files",
			fmt.Errorf("%w: %d > %d", service.ErrTooManyFiles, len(headers), h.cfg.Pipeline.MaxFiles))
		return
	}

	files := make([][]byte, len(headers))
	for i, fh := range headers {
		data, err := readFormFile(fh)
		if err != nil {
			respondError(c, http.StatusBadRequest, "file_unreadable", fmt.Errorf("file %d: %w", i, err))
			return
		}
		files[i] = data
	}

	makeCurrent, _ := strconv.ParseBool(c.PostForm("current"))
	result, err := h.ingest.Ingest(c.Request.Context(), service.IngestRequest{
		Owner:       owner,
		Files:       files,
		MakeCurrent: makeCurrent,
	})
	if err != nil {
		status, code := ingestErrorStatus(err, result)
		respondError(c, status, code, err)
		return
	}

	resp := uploadResponse{
		Pictures: toPictureResponses(result.Pictures),
		Healed:   result.Healed,
	}
	for _, f := range result.Failures {
		resp.Failures = append(resp.Failures, fileFailure{Index: f.Index, Error: f.Err.Error()})
	}

	status := http.StatusCreated
	if len(result.Failures) > 0 || len(result.Healed) > 0 {
		status = http.StatusMultiStatus
	}
	c.JSON(status, resp)
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// ingestErrorStatus maps a request-level ingest error onto a status code.
// When every file failed, unsupported formats are the client's fault and
// storage failures are upstream failures.
func ingestErrorStatus(err error, result service.IngestResult) (int, string) {
	switch {
	case errors.Is(err, repository.ErrOwnerNotFound):
		return http.StatusNotFound, "owner_not_found"
	case errors.Is(err, service.ErrNoFiles), errors.Is(err, service.ErrTooManyFiles):
		return http.StatusBadRequest, "invalid_file_count"
	case errors.Is(err, service.ErrNotPictureOwner):
		return http.StatusBadRequest, "owner_cannot_hold_pictures"
	}

	if len(result.Failures) > 0 {
		unsupported := 0
		for _, f := range result.Failures {
			if errors.Is(f.Err, derive.ErrUnsupportedFormat) {
				unsupported++
			}
		}
		if unsupported == len(result.Failures) {
			return http.StatusUnsupportedMediaType, "unsupported_format"
		}
		for _, f := range result.Failures {
			if errors.Is(f.Err, storage.ErrWriteFailed) || errors.Is(f.Err, repository.ErrPersistence) {
				return http.StatusBadGateway, "storage_failed"
			}
		}
		return http.StatusBadRequest, "ingest_failed"
	}
	return http.StatusBadGateway, "ingest_failed"
}

// ListPictures returns the owner's pictures. Pictures whose handles cannot
// be signed are removed and omitted.
func (h HandlerSet) ListPictures(c *gin.Context) {
	owner, err := ownerFromPath(c)
	if err != nil {
		respondError(c, http.StatusNotFound, "unknown_owner_kind", err)
		return
	}

	views, err := h.pictures.List(c.Request.Context(), owner)
	if err != nil {
		if errors.Is(err, repository.ErrOwnerNotFound) {
			respondError(c, http.StatusNotFound, "owner_not_found", err)
			return
		}
		respondError(c, http.StatusBadGateway, "list_failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pictures": toPictureResponses(views),
	})
}

func (h HandlerSet) GetPicture(c *gin.Context) {
	view, err := h.pictures.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrPictureNotFound) {
			respondError(c, http.StatusNotFound, "picture_not_found", err)
			return
		}
		respondError(c, http.StatusBadGateway, "get_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"picture": toPictureResponse(view),
	})
}

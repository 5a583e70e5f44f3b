package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"framestack/internal/bootstrap"
	"framestack/internal/config"
	"framestack/internal/handlers"
	"framestack/internal/testutil"
)

type testAPI struct {
	app    *bootstrap.App
	s3     *testutil.FakeS3
	redis  *miniredis.Miniredis
	owners testutil.Owners
	h      http.Handler
}

func newTestAPI(t *testing.T, maxBody int64) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s3 := testutil.NewFakeS3(t)
	mr := miniredis.RunT(t)
	cfg := &config.AppConfig{
		Environment: "test",
		HTTP:        config.HTTPConfig{MaxBodyBytes: maxBody},
		Metadata:    config.MetadataConfig{Driver: "sqlite", SQLitePath: ":memory:"},
		Redis:       config.RedisConfig{Addr: mr.Addr()},
		Queue:       config.QueueConfig{Stream: "test:maintenance"},
		Storage:     s3.Config,
		Signing:     config.SigningConfig{TTL: time.Hour, Timeout: 5 * time.Second, CacheTTL: time.Minute},
		Pipeline: config.PipelineConfig{
			MaxFiles:           4,
			WriteTimeout:       10 * time.Second,
			WriteAttempts:      2,
			DeriveWorkers:      2,
			ReclaimConcurrency: 4,
		},
		Derive: config.DeriveConfig{CropSize: 200, JPEGQuality: 85},
		Sweep:  config.SweepConfig{Grace: time.Hour, BatchSize: 100},
	}

	app, err := bootstrap.New(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	t.Cleanup(app.Close)

	srv := NewHTTPServer(cfg, zerolog.Nop(), handlers.NewHandlerSet(app), app.Metrics)
	return &testAPI{
		app:    app,
		s3:     s3,
		redis:  mr,
		owners: testutil.SeedOwners(t, app.DB),
		h:      srv.Handler(),
	}
}

func (a *testAPI) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	a.h.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, path string, current bool, files ...[]byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for i, data := range files {
		part, err := w.CreateFormFile("files", fmt.Sprintf("file-%d", i))
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if current {
		_ = w.WriteField("current", "true")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

type imageBody struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type pictureBody struct {
	ID            string               `json:"id"`
	OrderingIndex int                  `json:"orderingIndex"`
	IsCurrent     bool                 `json:"isCurrent"`
	Images        map[string]imageBody `json:"images"`
}

type uploadBody struct {
	Pictures []pictureBody `json:"pictures"`
	Failures []struct {
		Index int    `json:"index"`
		Error string `json:"error"`
	} `json:"failures"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

func TestUploadListGetDelete(t *testing.T) {
	api := newTestAPI(t, 16<<20)
	frame := "/api/v1/owners/frames/" + api.owners.FrameID

	rec := api.do(t, uploadRequest(t, frame+"/pictures", true,
		testutil.PNG(t, 64, 48, 1), testutil.PNG(t, 30, 90, 2)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	up := decode[uploadBody](t, rec)
	if len(up.Pictures) != 2 {
		t.Fatalf("expected 2 pictures, got %d", len(up.Pictures))
	}
	first := up.Pictures[0]
	if first.OrderingIndex != 0 || !first.IsCurrent || up.Pictures[1].OrderingIndex != 1 {
		t.Fatalf("unexpected ordering %+v", up.Pictures)
	}
	if img := first.Images["original"]; img.Width != 64 || img.Height != 48 || img.URL == "" {
		t.Fatalf("unexpected original %+v", img)
	}
	if img := first.Images["cropped"]; img.Width != 200 || img.Height != 200 {
		t.Fatalf("unexpected cropped %+v", img)
	}
	if img := first.Images["pending"]; img.Width != 1 || img.Height != 1 {
		t.Fatalf("unexpected pending %+v", img)
	}

	rec = api.do(t, httptest.NewRequest(http.MethodGet, frame+"/pictures", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	list := decode[struct {
		Pictures []pictureBody `json:"pictures"`
	}](t, rec)
	if len(list.Pictures) != 2 || list.Pictures[0].ID != first.ID {
		t.Fatalf("unexpected list %+v", list.Pictures)
	}

	resp, err := http.Get(list.Pictures[0].Images["cropped"].URL)
	if err != nil {
		t.Fatalf("fetch handle: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected signed url to be readable, got %d", resp.StatusCode)
	}

	rec = api.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/pictures/"+first.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = api.do(t, httptest.NewRequest(http.MethodDelete, frame, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	del := decode[struct {
		Report struct {
			FullyReclaimed []string `json:"fullyReclaimed"`
		} `json:"report"`
		OwnerDeleted bool `json:"ownerDeleted"`
	}](t, rec)
	if len(del.Report.FullyReclaimed) != 2 || !del.OwnerDeleted {
		t.Fatalf("unexpected delete response %s", rec.Body.String())
	}
	if n := testutil.Count(t, api.app.DB, "pictures"); n != 0 {
		t.Fatalf("expected no pictures, got %d", n)
	}
	if n := testutil.Count(t, api.app.DB, "images"); n != 0 {
		t.Fatalf("expected no images, got %d", n)
	}

	rec = api.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/pictures/"+first.ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
	rec = api.do(t, httptest.NewRequest(http.MethodDelete, frame, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rec.Code)
	}
}

func TestUploadStatusCodes(t *testing.T) {
	api := newTestAPI(t, 16<<20)
	frame := "/api/v1/owners/frames/" + api.owners.FrameID + "/pictures"
	png := testutil.PNG(t, 20, 20, 7)
	junk := []byte("definitely not an image")

	cases := []struct {
		name  string
		path  string
		files [][]byte
		want  int
	}{
		{name: "partial success", path: frame, files: [][]byte{png, junk}, want: http.StatusMultiStatus},
		{name: "all unsupported", path: frame, files: [][]byte{junk, junk}, want: http.StatusUnsupportedMediaType},
		{name: "no files", path: frame, want: http.StatusBadRequest},
		{name: "too many files", path: frame, files: [][]byte{png, png, png, png, png}, want: http.StatusBadRequest},
		{name: "unknown owner", path: "/api/v1/owners/frames/missing/pictures", files: [][]byte{png}, want: http.StatusNotFound},
		{name: "unknown kind", path: "/api/v1/owners/albums/x/pictures", files: [][]byte{png}, want: http.StatusNotFound},
		{name: "gallery cannot hold pictures", path: "/api/v1/owners/galleries/" + api.owners.GalleryID + "/pictures", files: [][]byte{png}, want: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := api.do(t, uploadRequest(t, tc.path, false, tc.files...))
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}

	// Only the partial success stored anything.
	if n := testutil.Count(t, api.app.DB, "pictures"); n != 1 {
		t.Fatalf("expected 1 picture, got %d", n)
	}
	if n := testutil.Count(t, api.app.DB, "images"); n != 3 {
		t.Fatalf("expected 3 images, got %d", n)
	}
}

func TestUploadBodyLimit(t *testing.T) {
	api := newTestAPI(t, 1024)
	rec := api.do(t, uploadRequest(t, "/api/v1/owners/frames/"+api.owners.FrameID+"/pictures", false,
		bytes.Repeat([]byte{0x89}, 4096)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestDeleteUserReclaimsProfilePictures(t *testing.T) {
	api := newTestAPI(t, 16<<20)
	pp := "/api/v1/owners/profile-pictures/" + api.owners.ProfilePictureID + "/pictures"
	if rec := api.do(t, uploadRequest(t, pp, true, testutil.PNG(t, 32, 32, 9))); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec := api.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/owners/users/"+api.owners.UserID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	for _, table := range []string{"users", "galleries", "frames", "profile_pictures", "pictures", "images"} {
		if n := testutil.Count(t, api.app.DB, table); n != 0 {
			t.Fatalf("expected %s to be empty, got %d", table, n)
		}
	}
}

func TestAdminSweep(t *testing.T) {
	api := newTestAPI(t, 16<<20)

	rec := api.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/admin/sweep", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decode[struct {
		Complete bool `json:"complete"`
	}](t, rec)
	if !body.Complete {
		t.Fatalf("expected complete sweep: %s", rec.Body.String())
	}

	rec = api.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/admin/sweep?async=true", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	entries, err := api.redis.Stream("test:maintenance")
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one queued sweep, got %d", len(entries))
	}
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t, 16<<20)

	rec := api.do(t, httptest.NewRequest(http.MethodGet, "/api/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	health := decode[map[string]string](t, rec)
	if health["database"] != "ok" || health["cache"] != "ok" {
		t.Fatalf("unexpected health %v", health)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected a request id header")
	}

	api.do(t, uploadRequest(t, "/api/v1/owners/frames/"+api.owners.FrameID+"/pictures", false, testutil.PNG(t, 16, 16, 4)))
	rec = api.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `framestack_ingest_files_total{outcome="ingested"} 1`) {
		t.Fatalf("expected ingest counter in metrics output")
	}
	if !strings.Contains(rec.Body.String(), `framestack_http_requests_total{class="2xx",route="/api/v1/owners/:kind/:id/pictures"} 1`) {
		t.Fatalf("expected request counter for the upload route")
	}
}

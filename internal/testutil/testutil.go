// Package testutil holds fixtures shared by package tests: an in-memory
// metadata database with seeded owners, an in-process S3 server, and
// generated images.
package testutil

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"

	"framestack/internal/config"
	"framestack/internal/database"
	"framestack/internal/ids"
)

// Buckets are the bucket names used by NewFakeS3 and NewStorageConfig.
var Buckets = config.BucketConfig{
	Original: "test-original",
	Cropped:  "test-cropped",
	Pending:  "test-pending",
}

func NewMemoryDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(context.Background(),
		config.MetadataConfig{Driver: "sqlite", SQLitePath: ":memory:"},
		config.PostgresConfig{},
	)
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Owners is one user with a gallery, a frame in it and a profile picture
// container.
type Owners struct {
	UserID           string
	GalleryID        string
	FrameID          string
	ProfilePictureID string
}

func SeedOwners(t *testing.T, db *database.DB) Owners {
	t.Helper()
	o := Owners{
		UserID:           "user-" + ids.New(),
		GalleryID:        "gallery-" + ids.New(),
		FrameID:          "frame-" + ids.New(),
		ProfilePictureID: "pp-" + ids.New(),
	}
	exec(t, db, `INSERT INTO users (id) VALUES (?)`, o.UserID)
	exec(t, db, `INSERT INTO galleries (id, user_id) VALUES (?, ?)`, o.GalleryID, o.UserID)
	exec(t, db, `INSERT INTO frames (id, gallery_id) VALUES (?, ?)`, o.FrameID, o.GalleryID)
	exec(t, db, `INSERT INTO profile_pictures (id, user_id) VALUES (?, ?)`, o.ProfilePictureID, o.UserID)
	return o
}

// AddFrame creates another frame in galleryID.
func AddFrame(t *testing.T, db *database.DB, galleryID string) string {
	t.Helper()
	id := "frame-" + ids.New()
	exec(t, db, `INSERT INTO frames (id, gallery_id) VALUES (?, ?)`, id, galleryID)
	return id
}

// Count returns SELECT COUNT(*) FROM table.
func Count(t *testing.T, db *database.DB, table string) int {
	t.Helper()
	var n int
	if err := db.SQL.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func exec(t *testing.T, db *database.DB, query string, args ...any) {
	t.Helper()
	if _, err := db.SQL.ExecContext(context.Background(), db.Dialect.Rebind(query), args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

// FakeS3 is an in-process S3 endpoint backed by memory.
type FakeS3 struct {
	Server  *httptest.Server
	Backend *s3mem.Backend
	Config  config.StorageConfig
}

func NewFakeS3(t *testing.T) *FakeS3 {
	t.Helper()
	backend := s3mem.New()
	faker := gofakes3.New(backend)
	server := httptest.NewServer(faker.Server())
	t.Cleanup(server.Close)

	for _, bucket := range []string{Buckets.Original, Buckets.Cropped, Buckets.Pending} {
		if err := backend.CreateBucket(bucket); err != nil {
			t.Fatalf("create bucket %s: %v", bucket, err)
		}
	}

	return &FakeS3{
		Server:  server,
		Backend: backend,
		Config: config.StorageConfig{
			Endpoint:  strings.TrimPrefix(server.URL, "http://"),
			AccessKey: "test",
			SecretKey: "test",
			UseSSL:    false,
			Region:    "us-east-1",
			PathStyle: true,
			Buckets:   Buckets,
		},
	}
}

// PNG encodes a w x h gradient. Distinct seeds give distinct bytes.
func PNG(t testing.TB, w, h int, seed uint8) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x) + seed, G: uint8(y), B: seed, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

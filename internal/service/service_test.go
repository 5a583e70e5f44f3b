package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"framestack/internal/config"
	"framestack/internal/database"
	"framestack/internal/media/derive"
	"framestack/internal/models"
	"framestack/internal/repository"
	"framestack/internal/storage"
	"framestack/internal/testutil"
)

// testSigner issues fake handles and refuses the locators fail matches.
type testSigner struct {
	mu   sync.Mutex
	fail func(models.Locator) bool
}

func (s *testSigner) Sign(ctx context.Context, loc models.Locator) models.Handle {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail != nil && fail(loc) {
		return models.Handle{}
	}
	return models.Handle{Usable: true, URL: "https://cdn.test/" + loc.String(), ExpiresAt: time.Now().Add(time.Hour)}
}

func (s *testSigner) failWhen(fn func(models.Locator) bool) {
	s.mu.Lock()
	s.fail = fn
	s.mu.Unlock()
}

// failingWriter fails every write into one bucket.
type failingWriter struct {
	inner  BlobWriter
	bucket string
}

func (w failingWriter) Write(ctx context.Context, bucket string, r derive.Rendition) (models.Locator, error) {
	if bucket == w.bucket {
		return models.Locator{}, storage.ErrWriteFailed
	}
	return w.inner.Write(ctx, bucket, r)
}

// failingRemover fails removals from one bucket.
type failingRemover struct {
	BlobStore
	bucket string
}

func (f failingRemover) Remove(ctx context.Context, loc models.Locator) error {
	if loc.Bucket == f.bucket {
		return errors.New("injected remove failure")
	}
	return f.BlobStore.Remove(ctx, loc)
}

// delayDeriver slows down derivation for inputs of selected sizes.
type delayDeriver struct {
	inner VariantDeriver
	delay map[int]time.Duration
}

func (d delayDeriver) DeriveAll(ctx context.Context, raw []byte) (map[models.Variant]derive.Rendition, error) {
	time.Sleep(d.delay[len(raw)])
	return d.inner.DeriveAll(ctx, raw)
}

type env struct {
	db       *database.DB
	repo     *repository.Repository
	store    *storage.ObjectStore
	owners   testutil.Owners
	frame    models.OwnerRef
	signer   *testSigner
	reaper   *Reaper
	pictures *PictureService
	ingest   *IngestService
	sweeper  *Sweeper
}

type envOptions struct {
	maxFiles int
	meta     func(*repository.Repository) MetadataStore
	writer   func(BlobWriter) BlobWriter
	blobs    func(BlobStore) BlobStore
	deriver  func(VariantDeriver) VariantDeriver
}

func newEnv(t *testing.T, opts envOptions) *env {
	t.Helper()
	db := testutil.NewMemoryDB(t)
	repo := repository.NewRepository(db)
	fake := testutil.NewFakeS3(t)
	store, err := storage.NewObjectStore(fake.Config)
	if err != nil {
		t.Fatalf("object store: %v", err)
	}
	owners := testutil.SeedOwners(t, db)
	log := zerolog.Nop()

	pipeline := config.PipelineConfig{
		MaxFiles:           10,
		WriteTimeout:       5 * time.Second,
		WriteAttempts:      2,
		DeriveWorkers:      4,
		ReclaimConcurrency: 4,
	}
	if opts.maxFiles > 0 {
		pipeline.MaxFiles = opts.maxFiles
	}

	var meta MetadataStore = repo
	if opts.meta != nil {
		meta = opts.meta(repo)
	}
	var writer BlobWriter = storage.NewBlobWriter(store, pipeline, nil, log)
	if opts.writer != nil {
		writer = opts.writer(writer)
	}
	var blobs BlobStore = store
	if opts.blobs != nil {
		blobs = opts.blobs(blobs)
	}
	var deriver VariantDeriver = derive.New(derive.DefaultOptions())
	if opts.deriver != nil {
		deriver = opts.deriver(deriver)
	}

	signer := &testSigner{}
	reaper := NewReaper(meta, blobs, pipeline, nil, log)
	pictures := NewPictureService(meta, signer, reaper, nil, log)
	ingest := NewIngestService(meta, deriver, writer, blobs, pictures, testutil.Buckets, pipeline, nil, log)
	sweeper := NewSweeper(meta, blobs, reaper, testutil.Buckets, config.SweepConfig{Grace: time.Hour, BatchSize: 2}, nil, log)

	return &env{
		db:       db,
		repo:     repo,
		store:    store,
		owners:   owners,
		frame:    models.OwnerRef{Kind: models.OwnerFrame, ID: owners.FrameID},
		signer:   signer,
		reaper:   reaper,
		pictures: pictures,
		ingest:   ingest,
		sweeper:  sweeper,
	}
}

func (e *env) blobCount(t *testing.T) int {
	t.Helper()
	n := 0
	for _, bucket := range testutil.Buckets.All() {
		if err := e.store.Walk(context.Background(), bucket, func(storage.Object) error {
			n++
			return nil
		}); err != nil {
			t.Fatalf("walk %s: %v", bucket, err)
		}
	}
	return n
}

func (e *env) assertCounts(t *testing.T, pictures, images, blobs int) {
	t.Helper()
	if n := testutil.Count(t, e.db, "pictures"); n != pictures {
		t.Fatalf("expected %d picture rows, got %d", pictures, n)
	}
	if n := testutil.Count(t, e.db, "images"); n != images {
		t.Fatalf("expected %d image rows, got %d", images, n)
	}
	if n := e.blobCount(t); n != blobs {
		t.Fatalf("expected %d blobs, got %d", blobs, n)
	}
}

func pngs(t *testing.T, n int) [][]byte {
	t.Helper()
	files := make([][]byte, n)
	for i := range files {
		files[i] = testutil.PNG(t, 40+i*7, 30+i*3, uint8(i))
	}
	return files
}

func TestIngestSingleFile(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	res, err := e.ingest.Ingest(ctx, IngestRequest{Owner: e.frame, Files: [][]byte{testutil.PNG(t, 320, 240, 1)}})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(res.Pictures) != 1 || len(res.Failures) != 0 || len(res.Healed) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	view := res.Pictures[0]
	if view.Picture.OrderingIndex != 0 || view.Picture.Owner != e.frame {
		t.Fatalf("unexpected picture %+v", view.Picture)
	}

	dims := map[models.Variant][2]int{
		models.VariantOriginal: {320, 240},
		models.VariantCropped:  {200, 200},
		models.VariantPending:  {1, 1},
	}
	for v, want := range dims {
		signed, ok := view.Images[v]
		if !ok {
			t.Fatalf("missing %s image", v)
		}
		if !signed.Handle.Usable || signed.Handle.URL == "" {
			t.Fatalf("%s handle unusable", v)
		}
		stored, err := e.repo.GetImage(ctx, signed.Image.ID)
		if err != nil {
			t.Fatalf("get %s image: %v", v, err)
		}
		if stored.Width != want[0] || stored.Height != want[1] {
			t.Fatalf("%s: expected %dx%d, got %dx%d", v, want[0], want[1], stored.Width, stored.Height)
		}
		if stored.Bucket != testutil.Buckets.For(v) {
			t.Fatalf("%s stored in bucket %s", v, stored.Bucket)
		}
		if stored.UploaderID != e.owners.UserID {
			t.Fatalf("%s uploader %s, want %s", v, stored.UploaderID, e.owners.UserID)
		}
		data, err := e.store.Get(ctx, stored.Locator())
		if err != nil {
			t.Fatalf("get %s blob: %v", v, err)
		}
		if int64(len(data)) != stored.SizeBytes {
			t.Fatalf("%s: blob has %d bytes, row says %d", v, len(data), stored.SizeBytes)
		}
	}
	e.assertCounts(t, 1, 3, 3)

	report, err := e.reaper.Reclaim(ctx, e.frame)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if len(report.FullyReclaimed) != 1 || !report.Complete() {
		t.Fatalf("unexpected report %+v", report)
	}
	e.assertCounts(t, 0, 0, 0)
}

func TestIngestPreservesFileOrder(t *testing.T) {
	files := pngs(t, 6)
	delay := map[int]time.Duration{}
	for i, f := range files {
		delay[len(f)] = time.Duration(len(files)-i) * 15 * time.Millisecond
	}
	e := newEnv(t, envOptions{deriver: func(d VariantDeriver) VariantDeriver {
		return delayDeriver{inner: d, delay: delay}
	}})

	res, err := e.ingest.Ingest(context.Background(), IngestRequest{Owner: e.frame, Files: files})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(res.Pictures) != 6 {
		t.Fatalf("expected 6 pictures, got %d", len(res.Pictures))
	}
	for i, view := range res.Pictures {
		if view.Picture.OrderingIndex != i {
			t.Fatalf("position %d has ordering index %d", i, view.Picture.OrderingIndex)
		}
		if w := view.Images[models.VariantOriginal].Image.Width; w != 40+i*7 {
			t.Fatalf("position %d holds a picture of width %d", i, w)
		}
	}
	e.assertCounts(t, 6, 18, 18)

	listed, err := e.pictures.List(context.Background(), e.frame)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for i, view := range listed {
		if view.Picture.ID != res.Pictures[i].Picture.ID {
			t.Fatalf("list order differs at %d", i)
		}
	}
}

func TestIngestConcurrentFilesGetDistinctKeys(t *testing.T) {
	e := newEnv(t, envOptions{maxFiles: 100})
	files := make([][]byte, 100)
	for i := range files {
		files[i] = testutil.PNG(t, 8, 8, uint8(i))
	}

	res, err := e.ingest.Ingest(context.Background(), IngestRequest{Owner: e.frame, Files: files})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(res.Pictures) != 100 {
		t.Fatalf("expected 100 pictures, got %d (failures %v)", len(res.Pictures), res.Failures)
	}
	for _, v := range models.Variants {
		seen := make(map[models.Locator]struct{}, 100)
		for _, view := range res.Pictures {
			loc := view.Images[v].Image.Locator()
			if _, dup := seen[loc]; dup {
				t.Fatalf("%s locator %s used twice", v, loc)
			}
			seen[loc] = struct{}{}
		}
		if len(seen) != 100 {
			t.Fatalf("expected 100 %s locators, got %d", v, len(seen))
		}
	}
}

func TestIngestSelfHealsUnusableHandle(t *testing.T) {
	e := newEnv(t, envOptions{})
	e.signer.failWhen(func(loc models.Locator) bool { return loc.Bucket == testutil.Buckets.Pending })

	res, err := e.ingest.Ingest(context.Background(), IngestRequest{Owner: e.frame, Files: pngs(t, 1)})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(res.Pictures) != 0 {
		t.Fatalf("healed picture must not be returned, got %d", len(res.Pictures))
	}
	if len(res.Healed) != 1 || res.Healed[0] != 0 {
		t.Fatalf("expected file 0 to be healed, got %v", res.Healed)
	}
	e.assertCounts(t, 0, 0, 0)
}

func TestIngestIsolatesFailingFile(t *testing.T) {
	e := newEnv(t, envOptions{})
	files := pngs(t, 3)
	files[1] = []byte("this is not an image")

	res, err := e.ingest.Ingest(context.Background(), IngestRequest{Owner: e.frame, Files: files})
	if err != nil {
		t.Fatalf("partial success must not be a request error: %v", err)
	}
	if len(res.Pictures) != 2 {
		t.Fatalf("expected 2 pictures, got %d", len(res.Pictures))
	}
	if res.Pictures[0].Picture.OrderingIndex != 0 || res.Pictures[1].Picture.OrderingIndex != 2 {
		t.Fatalf("unexpected ordering %d, %d", res.Pictures[0].Picture.OrderingIndex, res.Pictures[1].Picture.OrderingIndex)
	}
	if len(res.Failures) != 1 || res.Failures[0].Index != 1 {
		t.Fatalf("expected file 1 to fail, got %+v", res.Failures)
	}
	if !errors.Is(res.Failures[0].Err, derive.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", res.Failures[0].Err)
	}
	e.assertCounts(t, 2, 6, 6)
}

func TestIngestCompensatesWriteFailure(t *testing.T) {
	e := newEnv(t, envOptions{writer: func(w BlobWriter) BlobWriter {
		return failingWriter{inner: w, bucket: testutil.Buckets.Pending}
	}})

	res, err := e.ingest.Ingest(context.Background(), IngestRequest{Owner: e.frame, Files: pngs(t, 2)})
	if err == nil {
		t.Fatalf("expected request error when every file fails")
	}
	if !errors.Is(err, storage.ErrWriteFailed) {
		t.Fatalf("expected ErrWriteFailed, got %v", err)
	}
	var fe *FileError
	if !errors.As(err, &fe) {
		t.Fatalf("expected a FileError in %v", err)
	}
	if len(res.Failures) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(res.Failures))
	}
	e.assertCounts(t, 0, 0, 0)
}

func TestIngestRejectsBadRequests(t *testing.T) {
	e := newEnv(t, envOptions{maxFiles: 2})
	ctx := context.Background()

	tests := []struct {
		name string
		req  IngestRequest
		want error
	}{
		{"no files", IngestRequest{Owner: e.frame}, ErrNoFiles},
		{"too many", IngestRequest{Owner: e.frame, Files: pngs(t, 3)}, ErrTooManyFiles},
		{"gallery owner", IngestRequest{Owner: models.OwnerRef{Kind: models.OwnerGallery, ID: e.owners.GalleryID}, Files: pngs(t, 1)}, ErrNotPictureOwner},
		{"unknown owner", IngestRequest{Owner: models.OwnerRef{Kind: models.OwnerFrame, ID: "missing"}, Files: pngs(t, 1)}, repository.ErrOwnerNotFound},
	}
	for _, tc := range tests {
		if _, err := e.ingest.Ingest(ctx, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	e.assertCounts(t, 0, 0, 0)
}

func TestIngestMakeCurrent(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()
	owner := models.OwnerRef{Kind: models.OwnerProfilePicture, ID: e.owners.ProfilePictureID}

	first, err := e.ingest.Ingest(ctx, IngestRequest{Owner: owner, Files: pngs(t, 2), MakeCurrent: true})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !first.Pictures[0].Picture.IsCurrent || first.Pictures[1].Picture.IsCurrent {
		t.Fatalf("expected only the first picture to be current")
	}

	second, err := e.ingest.Ingest(ctx, IngestRequest{Owner: owner, Files: pngs(t, 1), MakeCurrent: true})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	listed, err := e.repo.ListPictures(ctx, owner)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, p := range listed {
		if p.IsCurrent != (p.ID == second.Pictures[0].Picture.ID) {
			t.Fatalf("picture %s current=%v", p.ID, p.IsCurrent)
		}
	}
}

func TestReclaimFrameIsIdempotent(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()
	if _, err := e.ingest.Ingest(ctx, IngestRequest{Owner: e.frame, Files: pngs(t, 3)}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	e.assertCounts(t, 3, 9, 9)

	report, err := e.reaper.Reclaim(ctx, e.frame)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if len(report.FullyReclaimed) != 3 || len(report.PartiallyReclaimed) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	e.assertCounts(t, 0, 0, 0)

	again, err := e.reaper.Reclaim(ctx, e.frame)
	if err != nil {
		t.Fatalf("second reclaim: %v", err)
	}
	if len(again.FullyReclaimed) != 0 || !again.Complete() {
		t.Fatalf("second reclaim should find nothing, got %+v", again)
	}

	// Reclaiming an already reclaimed picture value is still a success.
	pic := models.Picture{ID: "gone", Images: map[models.Variant]models.Image{
		models.VariantOriginal: {Bucket: testutil.Buckets.Original, ObjectKey: "gone.jpg"},
	}}
	if failure, ok := e.reaper.ReclaimPicture(ctx, pic); !ok {
		t.Fatalf("reclaiming absent rows and blobs failed: %v", failure)
	}
}

func TestReclaimUserWalksOwnerGraph(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()
	second := models.OwnerRef{Kind: models.OwnerFrame, ID: testutil.AddFrame(t, e.db, e.owners.GalleryID)}
	avatar := models.OwnerRef{Kind: models.OwnerProfilePicture, ID: e.owners.ProfilePictureID}
	for _, owner := range []models.OwnerRef{e.frame, second, avatar} {
		if _, err := e.ingest.Ingest(ctx, IngestRequest{Owner: owner, Files: pngs(t, 2)}); err != nil {
			t.Fatalf("ingest %s: %v", owner, err)
		}
	}
	e.assertCounts(t, 6, 18, 18)

	report, err := e.reaper.Reclaim(ctx, models.OwnerRef{Kind: models.OwnerUser, ID: e.owners.UserID})
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if len(report.FullyReclaimed) != 6 {
		t.Fatalf("expected 6 reclaimed pictures, got %+v", report)
	}
	e.assertCounts(t, 0, 0, 0)
}

func TestReclaimReportsPartialFailure(t *testing.T) {
	e := newEnv(t, envOptions{blobs: func(b BlobStore) BlobStore {
		return failingRemover{BlobStore: b, bucket: testutil.Buckets.Cropped}
	}})
	ctx := context.Background()
	if _, err := e.ingest.Ingest(ctx, IngestRequest{Owner: e.frame, Files: pngs(t, 2)}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	report, err := e.reaper.Reclaim(ctx, e.frame)
	if err != nil {
		t.Fatalf("per-picture failures must not be a call error: %v", err)
	}
	if len(report.PartiallyReclaimed) != 2 || len(report.FullyReclaimed) != 0 || report.Complete() {
		t.Fatalf("expected 2 partial reclaims, got %+v", report)
	}
	for _, f := range report.Failures {
		if len(f.Blobs) != 1 || f.Blobs[0].Bucket != testutil.Buckets.Cropped || f.RowErr != nil {
			t.Fatalf("unexpected failure %+v", f)
		}
	}
	if report.Err() == nil {
		t.Fatalf("expected joined error")
	}
	// Rows are gone, the cropped blobs are left for the sweep.
	e.assertCounts(t, 0, 0, 2)
}

func TestReadPathSelfHeals(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()
	res, err := e.ingest.Ingest(ctx, IngestRequest{Owner: e.frame, Files: pngs(t, 2)})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	broken := res.Pictures[1].Images[models.VariantCropped].Image.Locator()
	e.signer.failWhen(func(loc models.Locator) bool { return loc == broken })

	listed, err := e.pictures.List(ctx, e.frame)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 || listed[0].Picture.ID != res.Pictures[0].Picture.ID {
		t.Fatalf("expected only the healthy picture, got %d", len(listed))
	}
	e.assertCounts(t, 1, 3, 3)

	if _, err := e.pictures.Get(ctx, res.Pictures[1].Picture.ID); !errors.Is(err, repository.ErrPictureNotFound) {
		t.Fatalf("expected ErrPictureNotFound for the healed picture, got %v", err)
	}
	view, err := e.pictures.Get(ctx, res.Pictures[0].Picture.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(view.Images) != 3 {
		t.Fatalf("expected 3 signed images, got %d", len(view.Images))
	}
}

func TestGetHealsPicture(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()
	res, err := e.ingest.Ingest(ctx, IngestRequest{Owner: e.frame, Files: pngs(t, 1)})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	e.signer.failWhen(func(models.Locator) bool { return true })

	if _, err := e.pictures.Get(ctx, res.Pictures[0].Picture.ID); !errors.Is(err, repository.ErrPictureNotFound) {
		t.Fatalf("expected ErrPictureNotFound, got %v", err)
	}
	e.assertCounts(t, 0, 0, 0)
}

// vanishingOwner deletes the owner right before the picture row is written.
type vanishingOwner struct {
	*repository.Repository
}

func (v vanishingOwner) RegisterPicture(ctx context.Context, p models.Picture) (models.Picture, error) {
	if err := v.Repository.DeleteOwner(ctx, p.Owner); err != nil && !errors.Is(err, repository.ErrOwnerNotFound) {
		return models.Picture{}, err
	}
	return v.Repository.RegisterPicture(ctx, p)
}

func TestOwnerDeletedBeforePictureRowIsCompensated(t *testing.T) {
	e := newEnv(t, envOptions{meta: func(r *repository.Repository) MetadataStore {
		return vanishingOwner{Repository: r}
	}})

	res, err := e.ingest.Ingest(context.Background(), IngestRequest{Owner: e.frame, Files: pngs(t, 1)})
	if !errors.Is(err, repository.ErrForeignKeyViolation) {
		t.Fatalf("expected ErrForeignKeyViolation, got %v", err)
	}
	if len(res.Failures) != 1 {
		t.Fatalf("expected one failure, got %+v", res.Failures)
	}
	e.assertCounts(t, 0, 0, 0)
}

func TestOwnerDeletedAfterIngestIsSwept(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()
	if _, err := e.ingest.Ingest(ctx, IngestRequest{Owner: e.frame, Files: pngs(t, 3)}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if err := e.repo.DeleteOwner(ctx, e.frame); err != nil {
		t.Fatalf("delete owner: %v", err)
	}
	e.assertCounts(t, 3, 9, 9)

	report, err := e.sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(report.OrphanPictures.FullyReclaimed) != 3 || !report.Complete() {
		t.Fatalf("expected 3 orphan pictures reclaimed, got %+v", report)
	}
	e.assertCounts(t, 0, 0, 0)
}

func TestSweepRemovesLeftovers(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	// A live picture that must survive.
	if _, err := e.ingest.Ingest(ctx, IngestRequest{Owner: e.frame, Files: pngs(t, 1)}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	// An image row with its blob but no picture, as a crashed saga leaves it.
	orphanLoc := models.Locator{Bucket: testutil.Buckets.Original, Key: storage.ObjectKey(time.Now(), "jpg")}
	if _, err := e.store.Put(ctx, orphanLoc, []byte("orphan"), "image/jpeg"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := e.repo.RegisterImage(ctx, models.Image{
		Bucket: orphanLoc.Bucket, ObjectKey: orphanLoc.Key, Format: "jpeg", UploaderID: e.owners.UserID,
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	// A blob no row points at.
	stray := models.Locator{Bucket: testutil.Buckets.Pending, Key: storage.ObjectKey(time.Now(), "jpg")}
	if _, err := e.store.Put(ctx, stray, []byte("stray"), "image/jpeg"); err != nil {
		t.Fatalf("put: %v", err)
	}
	e.assertCounts(t, 1, 4, 5)

	// Inside the grace period nothing is touched.
	report, err := e.sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.OrphanImages != 0 || report.StrayBlobs != 0 {
		t.Fatalf("young leftovers must be kept, got %+v", report)
	}
	e.assertCounts(t, 1, 4, 5)

	e.sweeper.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	report, err = e.sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.OrphanImages != 1 || report.StrayBlobs != 1 || !report.Complete() {
		t.Fatalf("unexpected report %+v", report)
	}
	e.assertCounts(t, 1, 3, 3)
}

func TestSweepCollectsBlobsLeftByPartialReclaim(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()
	res, err := e.ingest.Ingest(ctx, IngestRequest{Owner: e.frame, Files: pngs(t, 1)})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	flaky := NewReaper(e.repo, failingRemover{BlobStore: e.store, bucket: testutil.Buckets.Original}, config.PipelineConfig{}, nil, zerolog.Nop())
	if _, ok := flaky.ReclaimPicture(ctx, res.Pictures[0].Picture); ok {
		t.Fatalf("expected a partial reclaim")
	}
	e.assertCounts(t, 0, 0, 1)

	e.sweeper.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	report, err := e.sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.StrayBlobs != 1 {
		t.Fatalf("expected the leftover blob to be swept, got %+v", report)
	}
	e.assertCounts(t, 0, 0, 0)
}

func TestFileErrorUnwraps(t *testing.T) {
	err := error(&FileError{Index: 3, Err: derive.ErrUnsupportedFormat})
	if !errors.Is(err, derive.ErrUnsupportedFormat) {
		t.Fatalf("FileError must unwrap to its cause")
	}
	if err.Error() != "file 3: "+derive.ErrUnsupportedFormat.Error() {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

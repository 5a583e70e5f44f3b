package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"framestack/internal/metrics"
	"framestack/internal/models"
	"framestack/internal/repository"
	"framestack/internal/storage"
)

// PictureService serves pictures with fresh access handles. A picture that
// cannot get a usable handle for every variant is deleted instead of being
// returned.
type PictureService struct {
	meta    MetadataStore
	signer  storage.Signer
	reaper  *Reaper
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewPictureService(meta MetadataStore, signer storage.Signer, reaper *Reaper, m *metrics.Metrics, log zerolog.Logger) *PictureService {
	return &PictureService{
		meta:    meta,
		signer:  signer,
		reaper:  reaper,
		metrics: m,
		log:     log,
	}
}

// List returns the owner's pictures in ordering index order.
func (s *PictureService) List(ctx context.Context, owner models.OwnerRef) ([]models.PictureView, error) {
	if _, err := s.meta.ResolveOwner(ctx, owner); err != nil {
		return nil, err
	}
	pictures, err := s.meta.ListPictures(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list pictures: %w", err)
	}

	views := make([]*models.PictureView, len(pictures))
	var g errgroup.Group
	g.SetLimit(16)
	for i, p := range pictures {
		g.Go(func() error {
			if view, ok := s.present(ctx, p, "read"); ok {
				views[i] = &view
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]models.PictureView, 0, len(views))
	for _, v := range views {
		if v != nil {
			out = append(out, *v)
		}
	}
	return out, nil
}

// Get returns one picture. A picture removed by self-heal is reported as
// repository.ErrPictureNotFound.
func (s *PictureService) Get(ctx context.Context, pictureID string) (models.PictureView, error) {
	p, err := s.meta.GetPicture(ctx, pictureID)
	if err != nil {
		return models.PictureView{}, err
	}
	view, ok := s.present(ctx, p, "read")
	if !ok {
		return models.PictureView{}, fmt.Errorf("%w: %s", repository.ErrPictureNotFound, pictureID)
	}
	return view, nil
}

// present signs the picture's three images, or self-heals it away.
func (s *PictureService) present(ctx context.Context, p models.Picture, path string) (models.PictureView, bool) {
	view, ok := signPicture(ctx, s.signer, p)
	if ok {
		return view, true
	}
	s.heal(ctx, p, path)
	return models.PictureView{}, false
}

func (s *PictureService) heal(ctx context.Context, p models.Picture, path string) {
	s.metrics.PictureHealed(path)
	failure, ok := s.reaper.ReclaimPicture(context.WithoutCancel(ctx), p)
	evt := s.log.Warn().Str("picture_id", p.ID).Str("owner", p.Owner.String()).Str("path", path)
	if !ok {
		evt = evt.AnErr("reclaim", failure)
	}
	evt.Msg("access handle unusable, picture removed")
}

// signPicture requests a handle for each of the picture's images. It
// reports false if an image row is missing or any handle is unusable.
func signPicture(ctx context.Context, signer storage.Signer, p models.Picture) (models.PictureView, bool) {
	if len(p.Images) != len(models.Variants) {
		return models.PictureView{}, false
	}

	view := models.PictureView{
		Picture: p,
		Images:  make(map[models.Variant]models.SignedImage, len(models.Variants)),
	}
	var (
		mu     sync.Mutex
		usable = true
		wg     sync.WaitGroup
	)
	for _, v := range models.Variants {
		img := p.Images[v]
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := signer.Sign(ctx, img.Locator())
			mu.Lock()
			defer mu.Unlock()
			if !h.Usable {
				usable = false
			}
			view.Images[v] = models.SignedImage{Image: img, Handle: h}
		}()
	}
	wg.Wait()

	if !usable {
		return models.PictureView{}, false
	}
	return view, true
}

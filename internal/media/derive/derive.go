// Package derive turns one uploaded image into the renditions the product
// serves: the re-encoded original, a square thumbnail and a 1x1 colour
// placeholder that clients paint while the real image loads.
package derive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"golang.org/x/crypto/blake2b"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"framestack/internal/media/sniffer"
	"framestack/internal/models"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrTransform         = errors.New("image transform failed")
)

const (
	canonicalFormat      = "jpeg"
	canonicalContentType = "image/jpeg"
	canonicalExtension   = "jpg"

	pendingWorkingSize = 64
	pendingBlurSigma   = 12
	pendingSaturation  = 2.2
	pendingBrightness  = 1.4
)

type Options struct {
	CropSize    int
	JPEGQuality int
	// MaxPixels rejects sources whose decoded area exceeds the limit. Zero
	// disables the check.
	MaxPixels int
}

func DefaultOptions() Options {
	return Options{
		CropSize:    200,
		JPEGQuality: 85,
		MaxPixels:   100_000_000,
	}
}

type Rendition struct {
	Variant     models.Variant
	Format      string
	ContentType string
	Extension   string
	Width       int
	Height      int
	Data        []byte
	Checksum    []byte
}

func (r Rendition) Size() int64 {
	return int64(len(r.Data))
}

type Deriver struct {
	opts Options
}

func New(opts Options) *Deriver {
	defaults := DefaultOptions()
	if opts.CropSize <= 0 {
		opts.CropSize = defaults.CropSize
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = defaults.JPEGQuality
	}
	return &Deriver{opts: opts}
}

// Derive renders a single variant. Callers that need all three should use
// DeriveAll, which decodes the source once.
func (d *Deriver) Derive(ctx context.Context, raw []byte, variant models.Variant) (Rendition, error) {
	src, err := d.decode(raw)
	if err != nil {
		return Rendition{}, err
	}
	if err := ctx.Err(); err != nil {
		return Rendition{}, err
	}
	return d.render(src, variant)
}

// DeriveAll decodes raw once and renders every variant concurrently.
func (d *Deriver) DeriveAll(ctx context.Context, raw []byte) (map[models.Variant]Rendition, error) {
	src, err := d.decode(raw)
	if err != nil {
		return nil, err
	}

	out := make([]Rendition, len(models.Variants))
	g, ctx := errgroup.WithContext(ctx)
	for i, variant := range models.Variants {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := d.render(src, variant)
			if err != nil {
				return err
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	renditions := make(map[models.Variant]Rendition, len(out))
	for _, r := range out {
		renditions[r.Variant] = r
	}
	return renditions, nil
}

func (d *Deriver) decode(raw []byte) (image.Image, error) {
	kind, err := sniffer.DetectHead(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if !kind.Decodable() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, kind.Type)
	}

	if d.opts.MaxPixels > 0 {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		if cfg.Width*cfg.Height > d.opts.MaxPixels {
			return nil, fmt.Errorf("%w: %dx%d exceeds pixel limit", ErrUnsupportedFormat, cfg.Width, cfg.Height)
		}
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrUnsupportedFormat)
	}
	return flatten(img), nil
}

// flatten composites sources with an alpha channel onto white. JPEG has no
// alpha and the encoder would otherwise drop transparent pixels to black.
func flatten(src image.Image) image.Image {
	if o, ok := src.(interface{ Opaque() bool }); ok && o.Opaque() {
		return src
	}
	b := src.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.OverlayCenter(bg, src, 1.0)
}

func (d *Deriver) render(src image.Image, variant models.Variant) (Rendition, error) {
	var img image.Image
	switch variant {
	case models.VariantOriginal:
		img = src
	case models.VariantCropped:
		img = imaging.Fill(src, d.opts.CropSize, d.opts.CropSize, imaging.Center, imaging.Lanczos)
	case models.VariantPending:
		img = placeholder(src)
	default:
		return Rendition{}, fmt.Errorf("%w: unknown variant %q", ErrTransform, variant)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(d.opts.JPEGQuality)); err != nil {
		return Rendition{}, fmt.Errorf("%w: encode %s: %v", ErrTransform, variant, err)
	}

	data := buf.Bytes()
	sum := blake2b.Sum256(data)
	bounds := img.Bounds()
	return Rendition{
		Variant:     variant,
		Format:      canonicalFormat,
		ContentType: canonicalContentType,
		Extension:   canonicalExtension,
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		Data:        data,
		Checksum:    sum[:],
	}, nil
}

// placeholder blurs, saturates and brightens the source, then collapses it to
// a single pixel. The source is shrunk first so the blur cost does not scale
// with the upload's resolution.
func placeholder(src image.Image) image.Image {
	img := imaging.Fit(src, pendingWorkingSize, pendingWorkingSize, imaging.Box)
	img = imaging.Blur(img, pendingBlurSigma)
	img = saturate(img, pendingSaturation)
	img = imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{
			R: brighten(c.R),
			G: brighten(c.G),
			B: brighten(c.B),
			A: c.A,
		}
	})
	return imaging.Resize(img, 1, 1, imaging.Box)
}

// saturate multiplies HSL saturation by factor. AdjustSaturation clamps a
// single pass to +100%, so factors above 2 are applied in steps.
func saturate(img *image.NRGBA, factor float64) *image.NRGBA {
	for factor > 2 {
		img = imaging.AdjustSaturation(img, 100)
		factor /= 2
	}
	return imaging.AdjustSaturation(img, (factor-1)*100)
}

func brighten(v uint8) uint8 {
	f := float64(v) * pendingBrightness
	if f > 255 {
		return 255
	}
	return uint8(f + 0.5)
}

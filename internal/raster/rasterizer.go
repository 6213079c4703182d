// Package raster converts report documents into per-page PNG images.
package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/garyjia/report-dispatch/internal/models"
	"go.uber.org/zap"
)

var (
	// ErrRendererUnavailable is returned when no page renderer is configured
	ErrRendererUnavailable = errors.New("page renderer unavailable")
	// ErrNoPages is returned for documents with zero pages
	ErrNoPages = errors.New("document has no pages")
)

// RasterizationError reports a per-record rasterization failure
type RasterizationError struct {
	USN string
	Err error
}

func (e *RasterizationError) Error() string {
	return fmt.Sprintf("rasterize report for %q: %v", e.USN, e.Err)
}

func (e *RasterizationError) Unwrap() error {
	return e.Err
}

// PageSource is an opened document that can render its pages
type PageSource interface {
	NumPage() int
	// Page renders the 0-based page n
	Page(n int) (image.Image, error)
	Close() error
}

// PageRenderer opens documents for rendering
type PageRenderer interface {
	Open(path string) (PageSource, error)
}

// ImageStore persists page images keyed by (USN, page)
type ImageStore interface {
	CreateImageFolder(usn string) (string, error)
	SaveImage(usn string, page int, content []byte) (string, error)
	PruneImages(usn string, keep int) (int, error)
}

// Rasterizer renders every page of a document and stores the PNGs
type Rasterizer struct {
	renderer PageRenderer
	store    ImageStore
	maxWidth int
	logger   *zap.Logger
}

// Option configures a Rasterizer
type Option func(*Rasterizer)

// WithMaxWidth downsizes pages wider than width pixels, keeping the aspect ratio
func WithMaxWidth(width int) Option {
	return func(r *Rasterizer) {
		r.maxWidth = width
	}
}

// NewRasterizer creates a rasterizer
func NewRasterizer(renderer PageRenderer, store ImageStore, logger *zap.Logger, opts ...Option) *Rasterizer {
	r := &Rasterizer{
		renderer: renderer,
		store:    store,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rasterize converts doc into images ordered by page, starting at 1. Each
// image is written to {USN}_report/{USN}_report_page_{n}.png; pages beyond
// the document's page count left by an earlier run are removed.
func (r *Rasterizer) Rasterize(ctx context.Context, doc *models.ReportDocument) ([]models.RasterImage, error) {
	if doc == nil {
		return nil, &RasterizationError{Err: errors.New("nil document")}
	}
	fail := func(err error) error {
		return &RasterizationError{USN: doc.USN, Err: err}
	}

	if r.renderer == nil {
		return nil, fail(ErrRendererUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, fail(err)
	}

	src, err := r.renderer.Open(doc.Path)
	if err != nil {
		return nil, fail(fmt.Errorf("failed to open document: %w", err))
	}
	defer src.Close()

	pageCount := src.NumPage()
	if pageCount <= 0 {
		return nil, fail(ErrNoPages)
	}

	if _, err := r.store.CreateImageFolder(doc.USN); err != nil {
		return nil, fail(err)
	}

	images := make([]models.RasterImage, 0, pageCount)
	for n := 0; n < pageCount; n++ {
		select {
		case <-ctx.Done():
			return nil, fail(ctx.Err())
		default:
		}

		page, err := r.renderPage(src, n)
		if err != nil {
			return nil, fail(fmt.Errorf("page %d: %w", n+1, err))
		}

		var buf bytes.Buffer
		if err := imaging.Encode(&buf, page, imaging.PNG); err != nil {
			return nil, fail(fmt.Errorf("failed to encode page %d: %w", n+1, err))
		}

		path, err := r.store.SaveImage(doc.USN, n+1, buf.Bytes())
		if err != nil {
			return nil, fail(err)
		}

		bounds := page.Bounds()
		images = append(images, models.RasterImage{
			USN:    doc.USN,
			Page:   n + 1,
			Path:   path,
			Width:  bounds.Dx(),
			Height: bounds.Dy(),
		})
	}

	if _, err := r.store.PruneImages(doc.USN, pageCount); err != nil {
		return nil, fail(err)
	}

	r.logger.Debug("Report rasterized",
		zap.String("usn", doc.USN),
		zap.Int("pages", len(images)))

	return images, nil
}

func (r *Rasterizer) renderPage(src PageSource, n int) (image.Image, error) {
	img, err := src.Page(n)
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, errors.New("renderer returned no image")
	}
	if r.maxWidth > 0 && img.Bounds().Dx() > r.maxWidth {
		img = imaging.Resize(img, r.maxWidth, 0, imaging.Lanczos)
	}
	return img, nil
}

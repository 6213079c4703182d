package raster

import (
	"image"

	"github.com/gen2brain/go-fitz"
)

// DefaultDPI is the resolution pages are rendered at unless configured.
// A Letter page becomes 1700x2200 pixels.
const DefaultDPI = 200

// FitzRenderer renders PDF pages with MuPDF
type FitzRenderer struct {
	// DPI of the rendered pages; 0 selects DefaultDPI
	DPI float64
}

// Open loads the document at path
func (f FitzRenderer) Open(path string) (PageSource, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	return &fitzDocument{doc: doc, dpi: f.DPI}, nil
}

type fitzDocument struct {
	doc *fitz.Document
	dpi float64
}

func (d *fitzDocument) NumPage() int {
	return d.doc.NumPage()
}

func (d *fitzDocument) Page(n int) (image.Image, error) {
	dpi := d.dpi
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	img, err := d.doc.ImageDPI(n, dpi)
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (d *fitzDocument) Close() error {
	return d.doc.Close()
}

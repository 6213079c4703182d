package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/garyjia/report-dispatch/internal/models"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"
)

// ErrEmptyDocument is returned when the renderer produced a document without pages
var ErrEmptyDocument = errors.New("rendered document has no pages")

// ComposeError reports a per-record composition failure
type ComposeError struct {
	USN string
	Err error
}

func (e *ComposeError) Error() string {
	return fmt.Sprintf("compose report for %q: %v", e.USN, e.Err)
}

func (e *ComposeError) Unwrap() error {
	return e.Err
}

// DocumentStore persists rendered reports keyed by USN
type DocumentStore interface {
	SaveDocument(usn string, content []byte) (string, error)
}

var pdfcpuOnce sync.Once

// Composer renders a record with the fixed template and stores the result
type Composer struct {
	template Template
	renderer Renderer
	store    DocumentStore
	logger   *zap.Logger
}

// NewComposer creates a composer. A nil renderer selects the fpdf renderer.
func NewComposer(tpl Template, renderer Renderer, store DocumentStore, logger *zap.Logger) *Composer {
	if renderer == nil {
		renderer = NewFPDFRenderer(tpl, logger)
	}
	pdfcpuOnce.Do(api.DisableConfigDir)
	return &Composer{
		template: tpl,
		renderer: renderer,
		store:    store,
		logger:   logger,
	}
}

// Compose renders rec and writes it to {USN}_report.pdf, replacing any earlier
// document for the same USN. Missing fields are rendered as empty cells.
func (c *Composer) Compose(ctx context.Context, rec models.StudentRecord) (*models.ReportDocument, error) {
	usn := rec.USN()
	if err := ctx.Err(); err != nil {
		return nil, &ComposeError{USN: usn, Err: err}
	}

	content, err := c.Render(rec)
	if err != nil {
		return nil, &ComposeError{USN: usn, Err: err}
	}

	pages, err := api.PageCount(bytes.NewReader(content), model.NewDefaultConfiguration())
	if err != nil {
		return nil, &ComposeError{USN: usn, Err: fmt.Errorf("failed to validate rendered document: %w", err)}
	}
	if pages == 0 {
		return nil, &ComposeError{USN: usn, Err: ErrEmptyDocument}
	}

	path, err := c.store.SaveDocument(usn, content)
	if err != nil {
		return nil, &ComposeError{USN: usn, Err: err}
	}

	c.logger.Debug("Report composed",
		zap.String("usn", usn),
		zap.String("path", path),
		zap.Int("pages", pages),
		zap.Int("bytes", len(content)))

	return &models.ReportDocument{
		USN:       usn,
		Path:      path,
		PageCount: pages,
		Size:      int64(len(content)),
	}, nil
}

// Render produces the PDF bytes for rec without storing them
func (c *Composer) Render(rec models.StudentRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.renderer.Render(BuildLayout(c.template, rec), &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/go-pdf/fpdf"
	"go.uber.org/zap"
)

// utf8Family is the family name under which a configured TTF is registered
const utf8Family = "report"

// Renderer turns a Layout into a paginated PDF written to w
type Renderer interface {
	Render(layout *Layout, w io.Writer) error
}

// FPDFRenderer renders layouts with go-pdf/fpdf using the template geometry
type FPDFRenderer struct {
	tpl    Template
	logger *zap.Logger

	fontOnce sync.Once
	font     []byte
	fontErr  error
}

// NewFPDFRenderer creates a renderer for the given template
func NewFPDFRenderer(tpl Template, logger *zap.Logger) *FPDFRenderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FPDFRenderer{tpl: tpl, logger: logger}
}

// Render draws logo, header, identity table and course table in that order
func (r *FPDFRenderer) Render(layout *Layout, w io.Writer) error {
	tpl := r.tpl
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           fpdf.SizeType{Wd: tpl.PageSize.Width, Ht: tpl.PageSize.Height},
	})
	pdf.SetCreationDate(documentEpoch)
	pdf.SetModificationDate(documentEpoch)
	pdf.SetCatalogSort(true)
	pdf.SetCompression(true)
	pdf.SetTitle(layout.Title, true)
	pdf.SetCreator("report-dispatch", false)
	pdf.SetMargins(tpl.Margin, tpl.Margin, tpl.Margin)
	pdf.SetAutoPageBreak(true, tpl.Margin)
	pdf.SetCellMargin(tpl.CellPadding)
	pdf.SetLineWidth(1)
	pdf.AddPage()

	tr, err := r.selectFont(pdf)
	if err != nil {
		return err
	}
	if lost := lostGlyphs(tr, layout.text()...); lost > 0 {
		r.logger.Warn("Report font cannot represent some characters, configure report.font_path",
			zap.String("title", layout.Title),
			zap.Int("characters", lost))
	}

	lineHeight := tpl.FontSize * 1.2

	if layout.LogoPath != "" {
		if info, err := os.Stat(layout.LogoPath); err == nil && info.Mode().IsRegular() {
			x := (tpl.PageSize.Width - tpl.LogoSize) / 2
			y := pdf.GetY()
			pdf.ImageOptions(layout.LogoPath, x, y, tpl.LogoSize, tpl.LogoSize, false,
				fpdf.ImageOptions{ReadDpi: false}, 0, "")
			pdf.SetY(y + tpl.LogoSize)
		}
	}

	pdf.MultiCell(0, lineHeight, tr(layout.Header), "", "C", false)
	pdf.Ln(tpl.SectionGap)

	r.drawTable(pdf, tr, layout.IdentityTable)
	pdf.Ln(tpl.SectionGap)
	r.drawTable(pdf, tr, layout.CourseTable)

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// selectFont sets the report font and returns the text encoder matching it.
// Core fonts only cover cp1252; a configured TTF takes UTF-8 as is.
func (r *FPDFRenderer) selectFont(pdf *fpdf.Fpdf) (func(string) string, error) {
	if r.tpl.FontPath == "" {
		pdf.SetFont(r.tpl.FontFamily, "", r.tpl.FontSize)
		return pdf.UnicodeTranslatorFromDescriptor(""), nil
	}

	r.fontOnce.Do(func() {
		r.font, r.fontErr = os.ReadFile(r.tpl.FontPath)
	})
	if r.fontErr != nil {
		return nil, fmt.Errorf("failed to load report font: %w", r.fontErr)
	}
	pdf.AddUTF8FontFromBytes(utf8Family, "", r.font)
	pdf.SetFont(utf8Family, "", r.tpl.FontSize)
	return func(s string) string { return s }, nil
}

// drawTable draws a centered grid. Columns are fitted to the printable width
// and cells that do not fit on one line are wrapped, growing their row.
func (r *FPDFRenderer) drawTable(pdf *fpdf.Fpdf, tr func(string) string, rows [][]string) {
	if len(rows) == 0 {
		return
	}
	tpl := r.tpl

	measure := func(s string) float64 { return pdf.GetStringWidth(tr(s)) }
	grid := fitTable(rows, measure, tpl.PageSize.Width-2*tpl.Margin, tpl.CellPadding)

	lineHeight := tpl.FontSize * 1.2
	inset := (tpl.RowHeight - lineHeight) / 2
	left := (tpl.PageSize.Width - grid.Width()) / 2

	for row := range grid.Lines {
		height := max(tpl.RowHeight, 2*inset+float64(grid.LineCount(row))*lineHeight)
		if pdf.GetY()+height > tpl.PageSize.Height-tpl.Margin {
			pdf.AddPage()
		}

		y := pdf.GetY()
		x := left
		for i, width := range grid.Widths {
			pdf.Rect(x, y, width, height, "D")
			for j, line := range grid.Lines[row][i] {
				pdf.SetXY(x, y+inset+float64(j)*lineHeight)
				pdf.CellFormat(width, lineHeight, tr(line), "", 0, "L", false, 0, "")
			}
			x += width
		}
		pdf.SetY(y + height)
	}
}

// lostGlyphs counts characters the encoder replaced with a placeholder dot
func lostGlyphs(tr func(string) string, texts ...string) int {
	lost := 0
	for _, s := range texts {
		lost += strings.Count(tr(s), ".") - strings.Count(s, ".")
	}
	return lost
}

// Package roster turns an uploaded student table into ordered records.
package roster

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/garyjia/report-dispatch/internal/models"
	"github.com/garyjia/report-dispatch/pkg/utils"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// Format is the tabular encoding of an uploaded roster
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

var (
	// ErrUnsupportedFormat is returned for files that are neither a workbook nor CSV
	ErrUnsupportedFormat = errors.New("unsupported roster format")
	// ErrNoSheets is returned for workbooks without any worksheet
	ErrNoSheets = errors.New("workbook has no sheets")
)

var zipMagic = []byte("PK\x03\x04")

// MalformedInputError means the input could not be read as a table at all.
// It is the only extraction failure; a row missing fields is not an error.
type MalformedInputError struct {
	Source string
	Err    error
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed roster %q: %v", e.Source, e.Err)
}

func (e *MalformedInputError) Unwrap() error {
	return e.Err
}

// Extractor parses rosters. It is safe for concurrent use.
type Extractor struct {
	sheet  string
	logger *zap.Logger
}

// Option configures an Extractor
type Option func(*Extractor)

// WithSheet selects a worksheet by name instead of the first one
func WithSheet(name string) Option {
	return func(e *Extractor) {
		e.sheet = name
	}
}

// NewExtractor creates a roster extractor
func NewExtractor(logger *zap.Logger, opts ...Option) *Extractor {
	e := &Extractor{logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DetectFormat picks the parser from the file name, falling back to the content
func DetectFormat(name string, head []byte) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		return FormatXLSX, nil
	case ".csv":
		return FormatCSV, nil
	}
	if bytes.HasPrefix(head, zipMagic) {
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(name))
}

// Extract reads every data row in table order. Column headers become the
// record keys verbatim.
func (e *Extractor) Extract(ctx context.Context, name string, r io.Reader) ([]models.StudentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &MalformedInputError{Source: name, Err: fmt.Errorf("failed to read input: %w", err)}
	}

	format, err := DetectFormat(name, data)
	if err != nil {
		return nil, &MalformedInputError{Source: name, Err: err}
	}

	var rows [][]string
	switch format {
	case FormatXLSX:
		rows, err = e.readWorkbook(data)
	case FormatCSV:
		rows, err = readCSV(data)
	}
	if err != nil {
		return nil, &MalformedInputError{Source: name, Err: err}
	}

	records := e.toRecords(rows)

	e.logger.Info("Roster extracted",
		zap.String("source", name),
		zap.String("format", string(format)),
		zap.Int("records", len(records)))

	return records, nil
}

// readWorkbook returns the formatted cell text of the selected sheet
func (e *Extractor) readWorkbook(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheetName := e.sheet
	if sheetName == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, ErrNoSheets
		}
		sheetName = sheets[0]
	}

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheetName, err)
	}
	return rows, nil
}

func readCSV(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	return rows, nil
}

// toRecords maps rows onto the header row. Blank rows are dropped, short
// rows yield empty values, and cells beyond the header are ignored.
func (e *Extractor) toRecords(rows [][]string) []models.StudentRecord {
	if len(rows) == 0 {
		return nil
	}

	header := rows[0]
	columns := make(map[int]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		if h == "" {
			continue
		}
		if seen[h] {
			e.logger.Warn("Duplicate roster column ignored", zap.String("column", h), zap.Int("index", i))
			continue
		}
		seen[h] = true
		columns[i] = h
	}

	records := make([]models.StudentRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		fields := make(map[string]string, len(columns))
		for i, h := range columns {
			value := ""
			if i < len(row) {
				value = utils.SanitizeString(strings.TrimSpace(row[i]))
			}
			fields[h] = value
		}
		records = append(records, models.NewStudentRecord(len(records)+1, fields))
	}
	return records
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

package report

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/garyjia/report-dispatch/internal/models"
	"github.com/garyjia/report-dispatch/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/image/font/gofont/goregular"
)

// renderFunc adapts a function to the Renderer interface
type renderFunc func(layout *Layout, w io.Writer) error

func (f renderFunc) Render(layout *Layout, w io.Writer) error {
	return f(layout, w)
}

func completeRecord() models.StudentRecord {
	return models.NewStudentRecord(1, map[string]string{
		"Name":           "Asha Rao",
		"USN":            "A1",
		"Father's Name":  "Ravi Rao",
		"Mother's Name":  "Meena Rao",
		"Contact":        "+919876543210",
		"Course 1":       "Engineering Mathematics",
		"Course code 1":  "MA101",
		"Max Marks 1":    "100",
		"Marks Scored 1": "87",
		"Attendance 1":   "92%",
		"Course 2":       "Physics",
		"Course code 2":  "PH101",
		"Max Marks 2":    "100",
		"Marks Scored 2": "74",
		"Attendance 2":   "88%",
	})
}

func newTestComposer(t *testing.T, tpl Template) (*Composer, *storage.ArtifactStore, string) {
	t.Helper()
	root := t.TempDir()
	docs := filepath.Join(root, "output_pdfs")
	store := storage.NewArtifactStore(docs, filepath.Join(root, "output_images"), zap.NewNop())
	return NewComposer(tpl, nil, store, zap.NewNop()), store, docs
}

func noLogoTemplate() Template {
	tpl := DefaultTemplate()
	tpl.LogoPath = ""
	return tpl
}

func TestBuildLayout_AlwaysFiveCourseRows(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
	}{
		{"no course fields", map[string]string{"USN": "A2"}},
		{"two courses", completeRecord().Fields},
		{"sparse third course", map[string]string{"USN": "A3", "Course 3": "Chemistry", "Attendance 5": "70%"}},
		{"empty record", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			layout := BuildLayout(DefaultTemplate(), models.NewStudentRecord(1, tt.fields))

			require.Len(t, layout.CourseTable, models.MaxCourses+1)
			assert.Equal(t, CourseHeader, layout.CourseTable[0])
			for i, row := range layout.CourseTable[1:] {
				require.Len(t, row, len(CourseHeader))
				assert.Equal(t, string(rune('1'+i)), row[0])
			}
			require.Len(t, layout.IdentityTable, 5)
		})
	}
}

func TestBuildLayout_MapsFields(t *testing.T) {
	layout := BuildLayout(DefaultTemplate(), completeRecord())

	assert.Equal(t, DefaultInstitutionName, layout.Header)
	assert.Equal(t, []string{"Father's Name", "Ravi Rao"}, layout.IdentityTable[2])
	assert.Equal(t, []string{"1", "Engineering Mathematics", "MA101", "100", "87", "92%"}, layout.CourseTable[1])
	assert.Equal(t, []string{"3", "", "", "", "", ""}, layout.CourseTable[3])

	sparse := BuildLayout(DefaultTemplate(), models.NewStudentRecord(1, map[string]string{"Course 3": "Chemistry"}))
	assert.Equal(t, []string{"3", "Chemistry", "", "", "", ""}, sparse.CourseTable[3])
	assert.Equal(t, []string{"USN", ""}, sparse.IdentityTable[1])
}

func TestComposer_Deterministic(t *testing.T) {
	composer, _, _ := newTestComposer(t, noLogoTemplate())

	first, err := composer.Compose(context.Background(), completeRecord())
	require.NoError(t, err)
	firstBytes, err := os.ReadFile(first.Path)
	require.NoError(t, err)

	second, err := composer.Compose(context.Background(), completeRecord())
	require.NoError(t, err)
	secondBytes, err := os.ReadFile(second.Path)
	require.NoError(t, err)

	assert.Equal(t, first.Path, second.Path)
	assert.True(t, bytes.Equal(firstBytes, secondBytes), "identical records must render identical bytes")
	assert.True(t, bytes.HasPrefix(firstBytes, []byte("%PDF-")))
}

func TestComposer_StoresAtUSNKey(t *testing.T) {
	composer, _, docs := newTestComposer(t, noLogoTemplate())

	doc, err := composer.Compose(context.Background(), completeRecord())
	require.NoError(t, err)

	assert.Equal(t, "A1", doc.USN)
	assert.Equal(t, filepath.Join(docs, "A1_report.pdf"), doc.Path)
	assert.Equal(t, 1, doc.PageCount)
	assert.FileExists(t, doc.Path)

	info, err := os.Stat(doc.Path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), doc.Size)
}

func TestComposer_MissingFieldsStillRender(t *testing.T) {
	composer, _, _ := newTestComposer(t, noLogoTemplate())

	rec := models.NewStudentRecord(2, map[string]string{"Name": "Bharat K", "USN": "A2"})
	doc, err := composer.Compose(context.Background(), rec)

	require.NoError(t, err)
	assert.Equal(t, 1, doc.PageCount)
}

func TestComposer_DrawsLogoWhenPresent(t *testing.T) {
	dir := t.TempDir()
	logo := filepath.Join(dir, "logo.png")

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		img.Set(x, x, color.RGBA{R: 200, A: 255})
	}
	f, err := os.Create(logo)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	withLogo := noLogoTemplate()
	withLogo.LogoPath = logo

	plain, err := NewComposer(noLogoTemplate(), nil, nil, zap.NewNop()).Render(completeRecord())
	require.NoError(t, err)
	decorated, err := NewComposer(withLogo, nil, nil, zap.NewNop()).Render(completeRecord())
	require.NoError(t, err)

	assert.Greater(t, len(decorated), len(plain))
}

func TestComposer_MissingLogoIsIgnored(t *testing.T) {
	tpl := noLogoTemplate()
	tpl.LogoPath = filepath.Join(t.TempDir(), "absent.png")
	composer, _, _ := newTestComposer(t, tpl)

	_, err := composer.Compose(context.Background(), completeRecord())
	assert.NoError(t, err)
}

func TestComposer_Errors(t *testing.T) {
	root := t.TempDir()
	store := storage.NewArtifactStore(filepath.Join(root, "d"), filepath.Join(root, "i"), zap.NewNop())

	tests := []struct {
		name     string
		renderer Renderer
		rec      models.StudentRecord
		target   error
	}{
		{
			name: "renderer failure",
			renderer: renderFunc(func(*Layout, io.Writer) error {
				return errors.New("font missing")
			}),
			rec: completeRecord(),
		},
		{
			name: "unreadable output",
			renderer: renderFunc(func(_ *Layout, w io.Writer) error {
				_, err := w.Write([]byte("not a pdf"))
				return err
			}),
			rec: completeRecord(),
		},
		{
			name:   "unusable key",
			rec:    models.NewStudentRecord(1, map[string]string{"USN": "../escape"}),
			target: storage.ErrInvalidKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			composer := NewComposer(noLogoTemplate(), tt.renderer, store, zap.NewNop())

			_, err := composer.Compose(context.Background(), tt.rec)

			require.Error(t, err)
			var composeErr *ComposeError
			require.True(t, errors.As(err, &composeErr))
			assert.Equal(t, tt.rec.USN(), composeErr.USN)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestComposer_CancelledContext(t *testing.T) {
	composer, _, _ := newTestComposer(t, noLogoTemplate())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := composer.Compose(ctx, completeRecord())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPageSizeByName(t *testing.T) {
	assert.Equal(t, A4Size, PageSizeByName("A4"))
	assert.Equal(t, LetterSize, PageSizeByName("letter"))
	assert.Equal(t, LetterSize, PageSizeByName(""))
}

func TestComposer_LongValuesStayOnOnePage(t *testing.T) {
	composer, _, _ := newTestComposer(t, noLogoTemplate())

	rec := completeRecord()
	rec.Fields["Course 1"] = strings.Repeat("Advanced Engineering Mathematics ", 4)
	rec.Fields["Course code 3"] = strings.Repeat("X", 120)

	doc, err := composer.Compose(context.Background(), models.NewStudentRecord(1, rec.Fields))
	require.NoError(t, err)
	assert.Equal(t, 1, doc.PageCount)
}

func TestFPDFRenderer_WarnsOnLostCharacters(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	renderer := NewFPDFRenderer(noLogoTemplate(), zap.New(core))

	rec := models.NewStudentRecord(1, map[string]string{"Name": "Ananya ಕನ್ನಡ Śrī", "USN": "A1"})
	var buf bytes.Buffer
	require.NoError(t, renderer.Render(BuildLayout(noLogoTemplate(), rec), &buf))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(7), entries[0].ContextMap()["characters"])

	logs.TakeAll()
	require.NoError(t, renderer.Render(BuildLayout(noLogoTemplate(), completeRecord()), &buf))
	assert.Zero(t, logs.Len(), "cp1252 text loses nothing")
}

func TestFPDFRenderer_UTF8Font(t *testing.T) {
	fontPath := filepath.Join(t.TempDir(), "Go-Regular.ttf")
	require.NoError(t, os.WriteFile(fontPath, goregular.TTF, 0o644))

	tpl := noLogoTemplate()
	tpl.FontPath = fontPath
	core, logs := observer.New(zapcore.WarnLevel)

	rec := models.NewStudentRecord(1, map[string]string{"Name": "Śrī Łukasz Ærøskøbing", "USN": "A1"})
	content, err := NewComposer(tpl, NewFPDFRenderer(tpl, zap.New(core)), nil, zap.NewNop()).Render(rec)

	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(content, []byte("%PDF-")))
	assert.Zero(t, logs.Len())
}

func TestFPDFRenderer_MissingFont(t *testing.T) {
	tpl := noLogoTemplate()
	tpl.FontPath = filepath.Join(t.TempDir(), "absent.ttf")

	var buf bytes.Buffer
	err := NewFPDFRenderer(tpl, nil).Render(BuildLayout(tpl, completeRecord()), &buf)

	assert.ErrorContains(t, err, "failed to load report font")
}

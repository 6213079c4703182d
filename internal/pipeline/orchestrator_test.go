package pipeline

import (
	"context"
	"errors"
	"image"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/report-dispatch/internal/dispatch"
	"github.com/garyjia/report-dispatch/internal/events"
	"github.com/garyjia/report-dispatch/internal/models"
	"github.com/garyjia/report-dispatch/internal/raster"
	"github.com/garyjia/report-dispatch/internal/report"
	"github.com/garyjia/report-dispatch/internal/roster"
	"github.com/garyjia/report-dispatch/internal/storage"
	"github.com/garyjia/report-dispatch/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- fakes -----------------------------------------------------------------

type fakeExtractor struct {
	records []models.StudentRecord
	err     error
}

func (f *fakeExtractor) Extract(context.Context, string, io.Reader) ([]models.StudentRecord, error) {
	return f.records, f.err
}

type fakeComposer struct {
	mu      sync.Mutex
	failFor map[string]error
	calls   []string
}

func (f *fakeComposer) Compose(_ context.Context, rec models.StudentRecord) (*models.ReportDocument, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rec.USN())
	f.mu.Unlock()
	if err := f.failFor[rec.USN()]; err != nil {
		return nil, err
	}
	return &models.ReportDocument{USN: rec.USN(), Path: "/docs/" + rec.USN() + "_report.pdf", PageCount: 1}, nil
}

// fakeRasterizer marks images as present in the locator it shares
type fakeRasterizer struct {
	images  *fakeImages
	failFor map[string]error
}

func (f *fakeRasterizer) Rasterize(_ context.Context, doc *models.ReportDocument) ([]models.RasterImage, error) {
	if err := f.failFor[doc.USN]; err != nil {
		return nil, err
	}
	f.images.add(doc.USN)
	path, _ := f.images.PagePath(doc.USN, 1)
	return []models.RasterImage{{USN: doc.USN, Page: 1, Path: path}}, nil
}

type fakeImages struct {
	mu      sync.Mutex
	present map[string]bool
}

func newFakeImages(preexisting ...string) *fakeImages {
	f := &fakeImages{present: make(map[string]bool)}
	for _, usn := range preexisting {
		f.present[usn] = true
	}
	return f
}

func (f *fakeImages) add(usn string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.present[usn] = true
}

func (f *fakeImages) PagePath(usn string, page int) (string, error) {
	return "/images/" + usn + "_report/" + usn + "_report_page_1.png", nil
}

func (f *fakeImages) ImageExists(usn string, page int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return page == 1 && f.present[usn]
}

type dispatchCall struct {
	address, image, caption string
}

type fakeDispatcher struct {
	mu      sync.Mutex
	calls   []dispatchCall
	outcome func(address string) models.DeliveryOutcome
}

func (f *fakeDispatcher) Dispatch(_ context.Context, address, imagePath, caption string) models.DeliveryOutcome {
	f.mu.Lock()
	f.calls = append(f.calls, dispatchCall{address, imagePath, caption})
	f.mu.Unlock()
	if f.outcome != nil {
		return f.outcome(address)
	}
	return models.Sent("om", 1)
}

func record(row int, usn, contact string) models.StudentRecord {
	return models.NewStudentRecord(row, map[string]string{"Name": "Student " + usn, "USN": usn, "Contact": contact})
}

type harness struct {
	extractor  *fakeExtractor
	composer   *fakeComposer
	rasterizer *fakeRasterizer
	images     *fakeImages
	dispatcher *fakeDispatcher
	bus        *events.Bus
}

func newHarness(records ...models.StudentRecord) *harness {
	images := newFakeImages()
	return &harness{
		extractor:  &fakeExtractor{records: records},
		composer:   &fakeComposer{failFor: map[string]error{}},
		rasterizer: &fakeRasterizer{images: images, failFor: map[string]error{}},
		images:     images,
		dispatcher: &fakeDispatcher{},
		bus:        events.NewBus(zap.NewNop()),
	}
}

func (h *harness) orchestrator(cfg Config) *Orchestrator {
	return NewOrchestrator(Components{
		Extractor:  h.extractor,
		Composer:   h.composer,
		Rasterizer: h.rasterizer,
		Dispatcher: h.dispatcher,
		Images:     h.images,
		Events:     h.bus,
	}, cfg, zap.NewNop())
}

// --- tests -----------------------------------------------------------------

func TestOrchestrator_HappyPath(t *testing.T) {
	h := newHarness(record(1, "A1", "a1@example.com"), record(2, "A2", "a2@example.com"))

	result, err := h.orchestrator(Config{Caption: "hello"}).Run(context.Background(), "roster.xlsx", strings.NewReader(""))

	require.NoError(t, err)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, workflow.StateCompleted.String(), result.State)
	require.Len(t, result.Records, 2)
	assert.Equal(t, models.DeliverySent, result.Records[0].Outcome.Status)
	assert.Equal(t, models.DeliverySent, result.Records[1].Outcome.Status)

	require.Len(t, h.dispatcher.calls, 2)
	assert.Equal(t, dispatchCall{"a1@example.com", "/images/A1_report/A1_report_page_1.png", "hello"}, h.dispatcher.calls[0])
	assert.Equal(t, "a2@example.com", h.dispatcher.calls[1].address)

	assert.Equal(t, models.RunSummary{Total: 2, Sent: 2}, result.Summary())
	assert.False(t, result.FinishedAt.Before(result.StartedAt))
}

func TestOrchestrator_DefaultCaption(t *testing.T) {
	h := newHarness(record(1, "A1", "a@example.com"))

	_, err := h.orchestrator(Config{}).Run(context.Background(), "r.csv", strings.NewReader(""))

	require.NoError(t, err)
	require.Len(t, h.dispatcher.calls, 1)
	assert.Equal(t, DefaultCaption, h.dispatcher.calls[0].caption)
}

func TestOrchestrator_MalformedInputFailsRun(t *testing.T) {
	h := newHarness()
	h.extractor.err = &roster.MalformedInputError{Source: "r.xlsx", Err: errors.New("zip: not a valid zip file")}

	var states []string
	h.bus.Subscribe(events.TypeRunStateChanged, func(_ context.Context, evt *events.Event) error {
		states = append(states, evt.GetPayloadString("state"))
		return nil
	})

	result, err := h.orchestrator(Config{}).Run(context.Background(), "r.xlsx", strings.NewReader("junk"))

	var malformed *roster.MalformedInputError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, workflow.StateFailed.String(), result.State)
	assert.Contains(t, result.Error, "not a valid zip")
	assert.Equal(t, []string{"FAILED"}, states)
	assert.Empty(t, h.composer.calls)
	assert.Empty(t, h.dispatcher.calls)
}

func TestOrchestrator_BuildFailuresAreIsolated(t *testing.T) {
	h := newHarness(
		record(1, "A1", "a1@example.com"),
		record(2, "A2", "a2@example.com"),
		record(3, "A3", "a3@example.com"),
	)
	h.composer.failFor["A1"] = &report.ComposeError{USN: "A1", Err: errors.New("disk full")}
	h.rasterizer.failFor["A2"] = &raster.RasterizationError{USN: "A2", Err: raster.ErrRendererUnavailable}

	result, err := h.orchestrator(Config{}).Run(context.Background(), "r.xlsx", strings.NewReader(""))

	require.NoError(t, err)
	assert.Equal(t, workflow.StateCompleted.String(), result.State)

	outcomes := result.Outcomes()
	assert.Equal(t, models.DeliverySkippedMissingImage, outcomes["A1"].Status)
	assert.Equal(t, models.DeliverySkippedMissingImage, outcomes["A2"].Status)
	assert.Equal(t, models.DeliverySent, outcomes["A3"].Status)
	assert.Contains(t, result.Records[0].BuildError, "disk full")
	assert.Contains(t, result.Records[1].BuildError, "renderer unavailable")

	require.Len(t, h.dispatcher.calls, 1, "skipped records never reach the dispatcher")
	assert.Equal(t, "a3@example.com", h.dispatcher.calls[0].address)
	assert.Equal(t, models.RunSummary{Total: 3, Sent: 1, Skipped: 2, BuildFailures: 2}, result.Summary())
}

func TestOrchestrator_MissingImageIsSkipped(t *testing.T) {
	h := newHarness(record(1, "A1", "a1@example.com"))
	// rasterizer reports success but nothing lands in the store
	h.rasterizer.images = newFakeImages()

	result, err := h.orchestrator(Config{}).Run(context.Background(), "r.xlsx", strings.NewReader(""))

	require.NoError(t, err)
	assert.Equal(t, models.DeliverySkippedMissingImage, result.Records[0].Outcome.Status)
	assert.Empty(t, h.dispatcher.calls)
}

func TestOrchestrator_StaleImageNotSentAfterBuildFailure(t *testing.T) {
	h := newHarness(record(1, "A1", "a1@example.com"))
	h.images.add("A1") // left over from an earlier run
	h.composer.failFor["A1"] = errors.New("template broken")

	result, err := h.orchestrator(Config{}).Run(context.Background(), "r.xlsx", strings.NewReader(""))

	require.NoError(t, err)
	assert.Equal(t, models.DeliverySkippedMissingImage, result.Records[0].Outcome.Status)
	assert.Empty(t, h.dispatcher.calls)
}

func TestOrchestrator_InvalidAndDuplicateUSN(t *testing.T) {
	h := newHarness(
		record(1, "A1", "first@example.com"),
		record(2, "", "nobody@example.com"),
		record(3, "A1", "second@example.com"),
		record(4, "../x", "evil@example.com"),
	)

	result, err := h.orchestrator(Config{}).Run(context.Background(), "r.xlsx", strings.NewReader(""))

	require.NoError(t, err)
	assert.Equal(t, []string{"A1"}, h.composer.calls)
	assert.Equal(t, models.DeliverySent, result.Records[0].Outcome.Status)
	assert.Contains(t, result.Records[1].BuildError, "USN is empty")
	assert.Contains(t, result.Records[2].BuildError, "duplicate USN")
	assert.Contains(t, result.Records[3].BuildError, "path characters")
	for _, r := range result.Records[1:] {
		assert.Equal(t, models.DeliverySkippedMissingImage, r.Outcome.Status)
	}
	require.Len(t, h.dispatcher.calls, 1)
	assert.Equal(t, "first@example.com", h.dispatcher.calls[0].address)
}

func TestOrchestrator_DispatchFailureDoesNotStopRun(t *testing.T) {
	h := newHarness(record(1, "A1", "bad"), record(2, "A2", "good@example.com"))
	h.dispatcher.outcome = func(address string) models.DeliveryOutcome {
		if address == "bad" {
			return models.Failed("invalid recipient address", 0)
		}
		return models.Sent("om_2", 1)
	}

	result, err := h.orchestrator(Config{}).Run(context.Background(), "r.xlsx", strings.NewReader(""))

	require.NoError(t, err)
	assert.Equal(t, models.DeliveryFailed, result.Records[0].Outcome.Status)
	assert.Equal(t, models.DeliverySent, result.Records[1].Outcome.Status)
	assert.Len(t, h.dispatcher.calls, 2)
}

func TestOrchestrator_AllBuildsFinishBeforeFirstDispatch(t *testing.T) {
	recs := make([]models.StudentRecord, 0, 6)
	for i, usn := range []string{"U1", "U2", "U3", "U4", "U5", "U6"} {
		recs = append(recs, record(i+1, usn, usn+"@example.com"))
	}
	h := newHarness(recs...)

	var mu sync.Mutex
	var timeline []string
	h.bus.Subscribe(events.TypeRecordBuilt, func(_ context.Context, evt *events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		timeline = append(timeline, "built")
		return nil
	})
	h.bus.Subscribe(events.TypeRecordDispatched, func(_ context.Context, evt *events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		timeline = append(timeline, "dispatched:"+evt.USN)
		return nil
	})

	_, err := h.orchestrator(Config{BuildWorkers: 3}).Run(context.Background(), "r.xlsx", strings.NewReader(""))
	require.NoError(t, err)

	require.Len(t, timeline, 12)
	for _, entry := range timeline[:6] {
		assert.Equal(t, "built", entry)
	}
	assert.Equal(t, []string{
		"dispatched:U1", "dispatched:U2", "dispatched:U3",
		"dispatched:U4", "dispatched:U5", "dispatched:U6",
	}, timeline[6:], "dispatch follows table order")
}

func TestOrchestrator_PublishesLifecycle(t *testing.T) {
	h := newHarness(record(1, "A1", "a@example.com"))

	var states []string
	var finished *events.Event
	h.bus.Subscribe(events.TypeRunStateChanged, func(_ context.Context, evt *events.Event) error {
		states = append(states, evt.GetPayloadString("state"))
		return nil
	})
	h.bus.Subscribe(events.TypeRunFinished, func(_ context.Context, evt *events.Event) error {
		finished = evt
		return errors.New("subscriber errors are logged, not fatal")
	})

	result, err := h.orchestrator(Config{}).RunWithID(context.Background(), "run-42", "r.xlsx", strings.NewReader(""))

	require.NoError(t, err)
	assert.Equal(t, "run-42", result.RunID)
	assert.Equal(t, []string{"EXTRACTED", "BUILDING", "DISPATCHING", "COMPLETED"}, states)
	require.NotNil(t, finished)
	assert.Equal(t, "run-42", finished.RunID)
	assert.Equal(t, 1, finished.GetPayloadInt("sent"))
}

func TestOrchestrator_CancelledDuringBuild(t *testing.T) {
	h := newHarness(record(1, "A1", "a@example.com"))
	ctx, cancel := context.WithCancel(context.Background())
	h.bus.Subscribe(events.TypeRecordBuilt, func(context.Context, *events.Event) error {
		cancel()
		return nil
	})

	result, err := h.orchestrator(Config{}).Run(ctx, "r.xlsx", strings.NewReader(""))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, workflow.StateFailed.String(), result.State)
	assert.Empty(t, h.dispatcher.calls)
}

func TestOrchestrator_RecoversBuildPanics(t *testing.T) {
	h := newHarness(record(1, "A1", "a@example.com"), record(2, "A2", "b@example.com"))
	o := NewOrchestrator(Components{
		Extractor:  h.extractor,
		Composer:   panicComposer{usn: "A1", next: h.composer},
		Rasterizer: h.rasterizer,
		Dispatcher: h.dispatcher,
		Images:     h.images,
	}, Config{}, zap.NewNop())

	result, err := o.Run(context.Background(), "r.xlsx", strings.NewReader(""))

	require.NoError(t, err)
	assert.Contains(t, result.Records[0].BuildError, "build panic")
	assert.Equal(t, models.DeliverySent, result.Records[1].Outcome.Status)
}

type panicComposer struct {
	usn  string
	next Composer
}

func (p panicComposer) Compose(ctx context.Context, rec models.StudentRecord) (*models.ReportDocument, error) {
	if rec.USN() == p.usn {
		panic("nil template")
	}
	return p.next.Compose(ctx, rec)
}

// --- end to end ------------------------------------------------------------

type blankPages struct{}

func (blankPages) Open(string) (raster.PageSource, error) { return blankDoc{}, nil }

type blankDoc struct{}

func (blankDoc) NumPage() int { return 1 }

func (blankDoc) Page(int) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 32, 40)), nil
}

func (blankDoc) Close() error { return nil }

type recordingMessenger struct {
	mu    sync.Mutex
	sent  []string
	times []time.Time
}

func (m *recordingMessenger) SendImage(_ context.Context, address, imagePath, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, address+"|"+filepath.Base(imagePath))
	m.times = append(m.times, time.Now())
	return "om_" + address, nil
}

func TestPipeline_EndToEnd(t *testing.T) {
	input := "Name,USN,Father's Name,Mother's Name,Contact," +
		"Course 1,Course code 1,Max Marks 1,Marks Scored 1,Attendance 1," +
		"Course 2,Course code 2,Max Marks 2,Marks Scored 2,Attendance 2\n" +
		"Asha Rao,A1,Ravi Rao,Meena Rao,parent.a1@example.com,Maths,MA101,100,87,92%,Physics,PH101,100,74,88%\n" +
		"Bharat K,A2,Kiran K,Lata K,,,,,,,,,,,\n"

	root := t.TempDir()
	store := storage.NewArtifactStore(filepath.Join(root, "output_pdfs"), filepath.Join(root, "output_images"), zap.NewNop())
	require.NoError(t, store.EnsureRoots())

	tpl := report.DefaultTemplate()
	tpl.LogoPath = ""
	messenger := &recordingMessenger{}

	o := NewOrchestrator(Components{
		Extractor:  roster.NewExtractor(zap.NewNop()),
		Composer:   report.NewComposer(tpl, nil, store, zap.NewNop()),
		Rasterizer: raster.NewRasterizer(blankPages{}, store, zap.NewNop()),
		Dispatcher: dispatch.NewDispatcher(messenger, zap.NewNop(), dispatch.WithPacingDelay(20*time.Millisecond)),
		Images:     store,
	}, Config{}, zap.NewNop())

	result, err := o.Run(context.Background(), "roster.csv", strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, result.Records, 2)

	for _, usn := range []string{"A1", "A2"} {
		docPath, err := store.DocumentPath(usn)
		require.NoError(t, err)
		assert.FileExists(t, docPath)
		assert.True(t, store.ImageExists(usn, 1), "page 1 image for %s", usn)
	}

	outcomes := result.Outcomes()
	assert.Equal(t, models.DeliverySent, outcomes["A1"].Status)
	assert.Equal(t, models.DeliveryFailed, outcomes["A2"].Status, "empty contact is an invalid address, not a skip")
	assert.Contains(t, outcomes["A2"].Reason, "invalid recipient address")

	assert.Equal(t, []string{"parent.a1@example.com|A1_report_page_1.png"}, messenger.sent)
	assert.Equal(t, models.RunSummary{Total: 2, Sent: 1, Failed: 1}, result.Summary())
}

// Package pipeline sequences extraction, report building and delivery for
// one uploaded roster.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/garyjia/report-dispatch/internal/events"
	"github.com/garyjia/report-dispatch/internal/models"
	"github.com/garyjia/report-dispatch/internal/workflow"
	"github.com/garyjia/report-dispatch/pkg/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultCaption accompanies every delivered report
const DefaultCaption = "Respected sir/madam, please find your ward's report attached"

// Extractor parses the uploaded roster
type Extractor interface {
	Extract(ctx context.Context, name string, r io.Reader) ([]models.StudentRecord, error)
}

// Composer renders and stores one record's report
type Composer interface {
	Compose(ctx context.Context, rec models.StudentRecord) (*models.ReportDocument, error)
}

// Rasterizer turns a stored report into page images
type Rasterizer interface {
	Rasterize(ctx context.Context, doc *models.ReportDocument) ([]models.RasterImage, error)
}

// Dispatcher delivers one image; failures come back as outcomes
type Dispatcher interface {
	Dispatch(ctx context.Context, address, imagePath, caption string) models.DeliveryOutcome
}

// ImageLocator finds page images by USN
type ImageLocator interface {
	PagePath(usn string, page int) (string, error)
	ImageExists(usn string, page int) bool
}

// Components are the collaborators of an Orchestrator
type Components struct {
	Extractor  Extractor
	Composer   Composer
	Rasterizer Rasterizer
	Dispatcher Dispatcher
	Images     ImageLocator
	Events     *events.Bus // optional
}

// Config controls a run
type Config struct {
	Caption string
	// BuildWorkers bounds how many records are composed and rasterized at once
	BuildWorkers int
}

// Orchestrator runs the two-pass pipeline: build every record, then
// dispatch every record in table order.
type Orchestrator struct {
	c      Components
	cfg    Config
	logger *zap.Logger
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(c Components, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.Caption == "" {
		cfg.Caption = DefaultCaption
	}
	if cfg.BuildWorkers < 1 {
		cfg.BuildWorkers = 1
	}
	return &Orchestrator{c: c, cfg: cfg, logger: logger}
}

// Run processes the roster read from r under a fresh run ID
func (o *Orchestrator) Run(ctx context.Context, name string, r io.Reader) (*models.RunResult, error) {
	return o.RunWithID(ctx, uuid.NewString(), name, r)
}

// RunWithID processes the roster read from r. The only error returned for
// a started run is a roster that cannot be read (or ctx ending); failures of
// single records are recorded in the result.
func (o *Orchestrator) RunWithID(ctx context.Context, runID, name string, r io.Reader) (*models.RunResult, error) {
	logger := o.logger.With(zap.String("run_id", runID))
	result := &models.RunResult{
		RunID:     runID,
		Source:    name,
		StartedAt: time.Now(),
	}
	machine := workflow.NewRunMachine()
	result.State = machine.State().String()

	logger.Info("Run started", zap.String("source", name))

	records, err := o.c.Extractor.Extract(ctx, name, r)
	if err != nil {
		o.fail(ctx, logger, result, machine, err)
		return result, err
	}
	o.transition(ctx, logger, result, machine, workflow.TriggerExtract)

	result.Records = make([]models.RecordResult, len(records))
	for i, rec := range records {
		result.Records[i] = models.RecordResult{
			Row:     rec.Row,
			USN:     rec.USN(),
			Contact: rec.Contact(),
		}
	}

	o.transition(ctx, logger, result, machine, workflow.TriggerStartBuild)
	o.buildAll(ctx, logger, result, records)
	if err := ctx.Err(); err != nil {
		o.fail(ctx, logger, result, machine, err)
		return result, err
	}

	o.transition(ctx, logger, result, machine, workflow.TriggerStartDispatch)
	o.dispatchAll(ctx, logger, result)
	if err := ctx.Err(); err != nil {
		o.fail(ctx, logger, result, machine, err)
		return result, err
	}

	o.transition(ctx, logger, result, machine, workflow.TriggerComplete)
	result.FinishedAt = time.Now()

	summary := result.Summary()
	logger.Info("Run completed",
		zap.Int("total", summary.Total),
		zap.Int("sent", summary.Sent),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("build_failures", summary.BuildFailures),
		zap.Duration("duration", result.FinishedAt.Sub(result.StartedAt)))

	o.publish(ctx, events.NewEvent(events.TypeRunFinished, runID, "", map[string]interface{}{
		"state":          result.State,
		"total":          summary.Total,
		"sent":           summary.Sent,
		"skipped":        summary.Skipped,
		"failed":         summary.Failed,
		"build_failures": summary.BuildFailures,
	}))

	return result, nil
}

// buildAll composes and rasterizes every record with a valid, unique USN.
// Each goroutine writes only its own slot of result.Records.
func (o *Orchestrator) buildAll(ctx context.Context, logger *zap.Logger, result *models.RunResult, records []models.StudentRecord) {
	firstRow := make(map[string]int, len(records))

	var g errgroup.Group
	g.SetLimit(o.cfg.BuildWorkers)

	for i := range records {
		rec := records[i]
		slot := &result.Records[i]
		usn := rec.USN()

		if err := utils.ValidateUSN(usn); err != nil {
			o.buildFailed(ctx, logger, result.RunID, slot, err)
			continue
		}
		if row, dup := firstRow[usn]; dup {
			o.buildFailed(ctx, logger, result.RunID, slot, fmt.Errorf("duplicate USN %q, first used on row %d", usn, row))
			continue
		}
		firstRow[usn] = rec.Row

		g.Go(func() error {
			o.buildRecord(ctx, logger, result.RunID, rec, slot)
			return nil
		})
	}

	_ = g.Wait()
}

func (o *Orchestrator) buildRecord(ctx context.Context, logger *zap.Logger, runID string, rec models.StudentRecord, slot *models.RecordResult) {
	defer func() {
		if r := recover(); r != nil {
			o.buildFailed(ctx, logger, runID, slot, fmt.Errorf("build panic: %v", r))
		}
	}()

	doc, err := o.c.Composer.Compose(ctx, rec)
	if err != nil {
		o.buildFailed(ctx, logger, runID, slot, err)
		return
	}
	slot.Document = doc.Path

	images, err := o.c.Rasterizer.Rasterize(ctx, doc)
	if err != nil {
		o.buildFailed(ctx, logger, runID, slot, err)
		return
	}

	slot.Images = make([]string, 0, len(images))
	for _, img := range images {
		slot.Images = append(slot.Images, img.Path)
	}

	logger.Info("Report built",
		zap.String("usn", slot.USN),
		zap.Int("pages", len(images)))

	o.publish(ctx, events.NewEvent(events.TypeRecordBuilt, runID, slot.USN, map[string]interface{}{
		"document": doc.Path,
		"pages":    len(images),
	}))
}

func (o *Orchestrator) buildFailed(ctx context.Context, logger *zap.Logger, runID string, slot *models.RecordResult, err error) {
	slot.BuildError = err.Error()
	logger.Warn("Report build failed",
		zap.Int("row", slot.Row),
		zap.String("usn", slot.USN),
		zap.Error(err))
	o.publish(ctx, events.NewEvent(events.TypeRecordBuildFail, runID, slot.USN, map[string]interface{}{
		"error": slot.BuildError,
	}))
}

// dispatchAll sends the page-1 image of each record in table order
func (o *Orchestrator) dispatchAll(ctx context.Context, logger *zap.Logger, result *models.RunResult) {
	for i := range result.Records {
		if ctx.Err() != nil {
			return
		}
		slot := &result.Records[i]
		slot.Outcome = o.dispatchRecord(ctx, slot)

		fields := []zap.Field{
			zap.String("usn", slot.USN),
			zap.String("status", string(slot.Outcome.Status)),
		}
		if slot.Outcome.Reason != "" {
			fields = append(fields, zap.String("reason", slot.Outcome.Reason))
		}
		logger.Info("Delivery outcome", fields...)

		o.publish(ctx, events.NewEvent(events.TypeRecordDispatched, result.RunID, slot.USN, map[string]interface{}{
			"status":     string(slot.Outcome.Status),
			"reason":     slot.Outcome.Reason,
			"message_id": slot.Outcome.MessageID,
			"attempts":   slot.Outcome.Attempts,
		}))
	}
}

func (o *Orchestrator) dispatchRecord(ctx context.Context, slot *models.RecordResult) models.DeliveryOutcome {
	// stale images from an earlier run must not be sent for a record that failed now
	if slot.BuildError != "" {
		return models.SkippedMissingImage("report not built: " + slot.BuildError)
	}

	path, err := o.c.Images.PagePath(slot.USN, 1)
	if err != nil || !o.c.Images.ImageExists(slot.USN, 1) {
		return models.SkippedMissingImage("page 1 image not found")
	}

	return o.c.Dispatcher.Dispatch(ctx, slot.Contact, path, o.cfg.Caption)
}

func (o *Orchestrator) transition(ctx context.Context, logger *zap.Logger, result *models.RunResult, machine workflow.StateMachine, trigger workflow.Trigger) {
	if err := machine.Fire(trigger); err != nil {
		logger.Error("Run state transition rejected", zap.Error(err))
		return
	}
	result.State = machine.State().String()
	logger.Debug("Run state changed", zap.String("state", result.State))

	o.publish(ctx, events.NewEvent(events.TypeRunStateChanged, result.RunID, "", map[string]interface{}{
		"state": result.State,
	}))
}

func (o *Orchestrator) fail(ctx context.Context, logger *zap.Logger, result *models.RunResult, machine workflow.StateMachine, err error) {
	result.Error = err.Error()
	result.FinishedAt = time.Now()
	logger.Error("Run failed", zap.Error(err))
	o.transition(context.WithoutCancel(ctx), logger, result, machine, workflow.TriggerFail)
}

func (o *Orchestrator) publish(ctx context.Context, evt *events.Event) {
	if err := o.c.Events.Publish(ctx, evt); err != nil {
		o.logger.Warn("Event handler failed",
			zap.String("event_type", evt.Type.String()),
			zap.Error(err))
	}
}

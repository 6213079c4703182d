package container

import (
	"fmt"
	"time"

	"github.com/garyjia/report-dispatch/internal/dispatch"
	"github.com/garyjia/report-dispatch/internal/events"
	"github.com/garyjia/report-dispatch/internal/lark"
	"github.com/garyjia/report-dispatch/internal/pipeline"
	"github.com/garyjia/report-dispatch/internal/raster"
	"github.com/garyjia/report-dispatch/internal/report"
	"github.com/garyjia/report-dispatch/internal/roster"
	"github.com/garyjia/report-dispatch/internal/storage"
	"github.com/garyjia/report-dispatch/internal/worker"
	"go.uber.org/zap"
)

// StorageBundle holds storage-related components.
type StorageBundle struct {
	Artifacts *storage.ArtifactStore
	Uploads   *storage.LocalFileStorage
}

// BuildBundle holds the components of the build pass.
type BuildBundle struct {
	Extractor  *roster.Extractor
	Composer   *report.Composer
	Rasterizer *raster.Rasterizer
}

// WorkerBundle holds the run queue and its bookkeeping.
type WorkerBundle struct {
	Manager   *worker.Manager
	RunWorker *worker.RunWorker
	Tracker   *worker.StatusTracker
}

// ProvideStorage creates the artifact store and upload storage and makes
// sure their directories exist.
func ProvideStorage(cfg *StorageConfig, logger *zap.Logger) (*StorageBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("storage config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	artifacts := storage.NewArtifactStore(cfg.DocumentRoot, cfg.ImageRoot, logger)
	if err := artifacts.EnsureRoots(); err != nil {
		return nil, fmt.Errorf("failed to create artifact roots: %w", err)
	}

	uploads := storage.NewLocalFileStorage(cfg.UploadDir, logger)
	if err := uploads.MkdirAll(cfg.UploadDir); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}

	return &StorageBundle{
		Artifacts: artifacts,
		Uploads:   uploads,
	}, nil
}

// ProvideBuild creates the roster extractor, report composer and page
// rasterizer over the artifact store.
func ProvideBuild(cfg *Config, artifacts *storage.ArtifactStore, logger *zap.Logger) (*BuildBundle, error) {
	if artifacts == nil {
		return nil, fmt.Errorf("artifact store is required")
	}

	tpl := cfg.template()
	composer := report.NewComposer(tpl, report.NewFPDFRenderer(tpl, logger), artifacts, logger)

	var opts []raster.Option
	if cfg.Raster.MaxWidth > 0 {
		opts = append(opts, raster.WithMaxWidth(cfg.Raster.MaxWidth))
	}
	rasterizer := raster.NewRasterizer(raster.FitzRenderer{DPI: cfg.Raster.DPI}, artifacts, logger, opts...)

	return &BuildBundle{
		Extractor:  roster.NewExtractor(logger),
		Composer:   composer,
		Rasterizer: rasterizer,
	}, nil
}

// ProvideMessenger creates the delivery channel: the Lark messenger, or a
// log-only messenger for dry runs.
func ProvideMessenger(cfg *Config, logger *zap.Logger) (dispatch.Messenger, error) {
	if cfg.Dispatch.DryRun {
		logger.Info("Dry run: deliveries are logged, not sent")
		return dispatch.NewLogMessenger(logger), nil
	}
	if cfg.Lark.AppID == "" || cfg.Lark.AppSecret == "" {
		return nil, fmt.Errorf("lark credentials are required")
	}

	client := lark.NewClient(lark.Config{
		AppID:         cfg.Lark.AppID,
		AppSecret:     cfg.Lark.AppSecret,
		ReceiveIDType: cfg.Lark.ReceiveIDType,
		APITimeout:    cfg.Lark.APITimeout,
		BaseURL:       cfg.Lark.BaseURL,
	}, logger)
	return lark.NewMessenger(client, logger), nil
}

// ProvideDispatcher creates the paced dispatcher over messenger.
func ProvideDispatcher(cfg *DispatchConfig, messenger dispatch.Messenger, sendTimeout time.Duration, logger *zap.Logger, extra ...dispatch.Option) *dispatch.Dispatcher {
	retry := dispatch.NewRetryStrategy()
	if cfg.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseBackoff > 0 {
		retry.BaseBackoff = cfg.BaseBackoff
	}
	if cfg.MaxBackoff > 0 {
		retry.MaxBackoff = cfg.MaxBackoff
	}

	opts := []dispatch.Option{
		dispatch.WithRetryStrategy(retry),
		dispatch.WithDefaultCountryCode(cfg.DefaultCountryCode),
	}
	if cfg.PacingDelay > 0 {
		opts = append(opts, dispatch.WithPacingDelay(cfg.PacingDelay))
	}
	if sendTimeout > 0 {
		opts = append(opts, dispatch.WithSendTimeout(sendTimeout))
	}
	return dispatch.NewDispatcher(messenger, logger, append(opts, extra...)...)
}

// PipelineDeps holds the dependencies of ProvideOrchestrator.
type PipelineDeps struct {
	Build      *BuildBundle
	Dispatcher *dispatch.Dispatcher
	Images     *storage.ArtifactStore
	Events     *events.Bus
	Config     *Config
	Logger     *zap.Logger
}

// ProvideOrchestrator creates the two-pass run orchestrator.
func ProvideOrchestrator(deps *PipelineDeps) (*pipeline.Orchestrator, error) {
	if deps == nil || deps.Build == nil || deps.Dispatcher == nil || deps.Images == nil {
		return nil, fmt.Errorf("pipeline dependencies are incomplete")
	}

	return pipeline.NewOrchestrator(pipeline.Components{
		Extractor:  deps.Build.Extractor,
		Composer:   deps.Build.Composer,
		Rasterizer: deps.Build.Rasterizer,
		Dispatcher: deps.Dispatcher,
		Images:     deps.Images,
		Events:     deps.Events,
	}, pipeline.Config{
		Caption:      deps.Config.Dispatch.Caption,
		BuildWorkers: deps.Config.Pipeline.BuildWorkers,
	}, deps.Logger), nil
}

// ProvideWorkers creates the run queue, its status tracker and the worker
// manager that owns them. Workers are registered but not started.
func ProvideWorkers(cfg *PipelineConfig, runner worker.Runner, bus *events.Bus, logger *zap.Logger) (*WorkerBundle, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}

	tracker := worker.NewStatusTracker(cfg.MaxTrackedRuns)
	if bus != nil {
		tracker.Subscribe(bus)
	}
	runWorker := worker.NewRunWorker(runner, tracker, cfg.QueueSize, logger)

	manager := worker.NewManager(logger)
	manager.Register(runWorker)

	return &WorkerBundle{
		Manager:   manager,
		RunWorker: runWorker,
		Tracker:   tracker,
	}, nil
}

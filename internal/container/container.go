package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/garyjia/report-dispatch/internal/dispatch"
	"github.com/garyjia/report-dispatch/internal/events"
	"github.com/garyjia/report-dispatch/internal/pipeline"
	"github.com/garyjia/report-dispatch/internal/storage"
	"github.com/garyjia/report-dispatch/internal/worker"
	"go.uber.org/zap"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Storage
	storage *StorageBundle

	// Build pass
	build *BuildBundle

	// Delivery
	messenger  dispatch.Messenger
	dispatcher *dispatch.Dispatcher

	// Application
	bus          *events.Bus
	orchestrator *pipeline.Orchestrator

	// Workers
	workers *WorkerBundle

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// Option customizes a Container before Start
type Option func(*Container)

// WithMessenger replaces the configured delivery channel
func WithMessenger(m dispatch.Messenger) Option {
	return func(c *Container) {
		c.messenger = m
	}
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger, opts ...Option) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	c := &Container{
		config: cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	// an injected messenger stands in for the credentials
	if c.messenger == nil {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	}

	return c, nil
}

// Start initializes all components and begins processing.
// Components are initialized in dependency order:
// 1. Storage
// 2. Build pass (extractor, composer, rasterizer)
// 3. Messenger and dispatcher
// 4. Event bus and orchestrator
// 5. Workers
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	// Step 1: Initialize storage
	storageBundle, err := ProvideStorage(&c.config.Storage, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.storage = storageBundle
	c.logger.Info("Storage initialized")

	// Step 2: Initialize the build pass
	build, err := ProvideBuild(c.config, c.storage.Artifacts, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize build components: %w", err)
	}
	c.build = build

	// Step 3: Initialize delivery
	if c.messenger == nil {
		messenger, err := ProvideMessenger(c.config, c.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize messenger: %w", err)
		}
		c.messenger = messenger
	}
	c.dispatcher = ProvideDispatcher(&c.config.Dispatch, c.messenger, c.config.Pipeline.DispatchTimeout, c.logger)
	c.logger.Info("Dispatcher initialized",
		zap.Duration("pacing_delay", c.dispatcher.PacingDelay()))

	// Step 4: Initialize event bus and orchestrator
	c.bus = events.NewBus(c.logger)
	orchestrator, err := ProvideOrchestrator(&PipelineDeps{
		Build:      c.build,
		Dispatcher: c.dispatcher,
		Images:     c.storage.Artifacts,
		Events:     c.bus,
		Config:     c.config,
		Logger:     c.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}
	c.orchestrator = orchestrator

	// Step 5: Initialize and start workers
	workers, err := ProvideWorkers(&c.config.Pipeline, c.orchestrator, c.bus, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize workers: %w", err)
	}
	if err := workers.Manager.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	c.workers = workers
	c.logger.Info("Workers initialized and started")

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	if c.cancel != nil {
		c.cancel()
	}

	// Stop workers; runs still queued are marked failed. Nothing else holds
	// resources: artifacts are plain files and the Lark client is stateless.
	if c.workers != nil {
		c.workers.Manager.StopAll()
		c.logger.Info("Workers stopped")
	}

	c.closed.Store(true)
	c.ready.Store(false)

	c.logger.Info("Container closed successfully")
	return nil
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health() *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	check := func(name string, ok bool, msg string) {
		if !ok {
			status.Components[name] = ComponentHealth{Healthy: false, Message: "not initialized"}
			status.Overall = false
			return
		}
		status.Components[name] = ComponentHealth{Healthy: true, Message: msg}
	}

	check("storage", c.storage != nil, "")
	check("dispatcher", c.dispatcher != nil, "")
	check("orchestrator", c.orchestrator != nil, "")
	if c.workers != nil {
		check("workers", true, fmt.Sprintf("pending runs: %d", c.workers.RunWorker.Pending()))
	} else {
		check("workers", false, "")
	}

	return status
}

// Getters for accessing container components

// Orchestrator returns the run orchestrator.
func (c *Container) Orchestrator() *pipeline.Orchestrator {
	return c.orchestrator
}

// RunWorker returns the run queue.
func (c *Container) RunWorker() *worker.RunWorker {
	if c.workers == nil {
		return nil
	}
	return c.workers.RunWorker
}

// StatusTracker returns the run status registry.
func (c *Container) StatusTracker() *worker.StatusTracker {
	if c.workers == nil {
		return nil
	}
	return c.workers.Tracker
}

// Uploads returns the storage for posted rosters.
func (c *Container) Uploads() *storage.LocalFileStorage {
	if c.storage == nil {
		return nil
	}
	return c.storage.Uploads
}

// Artifacts returns the report and image store.
func (c *Container) Artifacts() *storage.ArtifactStore {
	if c.storage == nil {
		return nil
	}
	return c.storage.Artifacts
}

// Dispatcher returns the paced dispatcher.
func (c *Container) Dispatcher() *dispatch.Dispatcher {
	return c.dispatcher
}

// Messenger returns the delivery channel.
func (c *Container) Messenger() dispatch.Messenger {
	return c.messenger
}

// Events returns the run event bus.
func (c *Container) Events() *events.Bus {
	return c.bus
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}

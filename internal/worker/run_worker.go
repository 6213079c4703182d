package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/garyjia/report-dispatch/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned when the run queue cannot take another run
	ErrQueueFull = errors.New("run queue is full")
	// ErrWorkerStopped is returned when enqueueing to a worker that is not running
	ErrWorkerStopped = errors.New("run worker is not running")
)

// Runner executes one pipeline run
type Runner interface {
	RunWithID(ctx context.Context, runID, name string, r io.Reader) (*models.RunResult, error)
}

// RunRequest is a queued roster waiting to be processed
type RunRequest struct {
	RunID  string
	Source string // original file name, selects the parser
	Path   string // saved upload
}

// RunWorker drains the run queue one run at a time, so deliveries from two
// uploads never interleave.
type RunWorker struct {
	runner  Runner
	tracker *StatusTracker
	queue   chan RunRequest
	logger  *zap.Logger

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewRunWorker creates a worker with room for queueSize pending runs
func NewRunWorker(runner Runner, tracker *StatusTracker, queueSize int, logger *zap.Logger) *RunWorker {
	if queueSize < 1 {
		queueSize = 1
	}
	return &RunWorker{
		runner:  runner,
		tracker: tracker,
		queue:   make(chan RunRequest, queueSize),
		logger:  logger,
	}
}

// Name returns the worker name for identification
func (w *RunWorker) Name() string {
	return "RunWorker"
}

// Start starts processing queued runs
func (w *RunWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("run worker is already running")
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.isRunning = true

	w.wg.Add(1)
	go w.loop(ctx)

	w.logger.Info("RunWorker started", zap.Int("queue_capacity", cap(w.queue)))
	return nil
}

// Stop cancels the current run and waits for the loop to exit. Runs still
// queued are marked failed.
func (w *RunWorker) Stop() {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = false
	w.cancel()
	w.mu.Unlock()

	w.wg.Wait()

	for {
		select {
		case req := <-w.queue:
			w.tracker.Fail(req.RunID, ErrWorkerStopped)
		default:
			w.logger.Info("RunWorker stopped")
			return
		}
	}
}

// Enqueue schedules the saved upload at path and returns its run ID
func (w *RunWorker) Enqueue(source, path string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isRunning {
		return "", ErrWorkerStopped
	}

	req := RunRequest{RunID: uuid.NewString(), Source: source, Path: path}
	// tracked before the loop can pick it up
	w.tracker.Queued(req.RunID, req.Source)
	select {
	case w.queue <- req:
	default:
		w.tracker.Forget(req.RunID)
		return "", ErrQueueFull
	}

	w.logger.Info("Run queued",
		zap.String("run_id", req.RunID),
		zap.String("source", source))
	return req.RunID, nil
}

// Pending returns the number of runs waiting in the queue
func (w *RunWorker) Pending() int {
	return len(w.queue)
}

func (w *RunWorker) loop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Run loop context cancelled")
			return
		case req := <-w.queue:
			w.process(ctx, req)
		}
	}
}

func (w *RunWorker) process(ctx context.Context, req RunRequest) {
	f, err := os.Open(req.Path)
	if err != nil {
		w.logger.Error("Failed to open queued roster",
			zap.String("run_id", req.RunID),
			zap.String("path", req.Path),
			zap.Error(err))
		w.tracker.Fail(req.RunID, fmt.Errorf("failed to open upload: %w", err))
		return
	}
	defer f.Close()

	result, err := w.runner.RunWithID(ctx, req.RunID, req.Source, f)
	if result == nil {
		if err == nil {
			err = errors.New("run returned no result")
		}
		w.tracker.Fail(req.RunID, err)
		return
	}
	w.tracker.Finish(result, err)
}

package http

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/garyjia/report-dispatch/internal/roster"
	"github.com/garyjia/report-dispatch/internal/worker"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	queue    RunQueue
	runs     RunStatusReader
	uploads  UploadStore
	maxBytes int64
	logger   Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(queue RunQueue, runs RunStatusReader, uploads UploadStore, maxBytes int64, logger Logger) *Handlers {
	return &Handlers{
		queue:    queue,
		runs:     runs,
		uploads:  uploads,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// UploadResponse is returned once a roster is queued
type UploadResponse struct {
	RunID     string `json:"run_id"`
	Source    string `json:"source"`
	StatusURL string `json:"status_url"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   "1.0.0",
		},
	})
}

// Upload handles POST /upload. The roster arrives as multipart field "file";
// it is stored and queued, and the run ID is returned right away.
func (h *Handlers) Upload(c *gin.Context) {
	if c.Request.ContentLength > h.maxBytes {
		h.fail(c, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes)

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(c, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		h.fail(c, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}

	source := filepath.Base(header.Filename)
	f, err := header.Open()
	if err != nil {
		h.logger.Error("Failed to open upload", "file", source, "error", err)
		h.fail(c, http.StatusBadRequest, "failed to read upload")
		return
	}
	content, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		h.logger.Error("Failed to read upload", "file", source, "error", err)
		h.fail(c, http.StatusBadRequest, "failed to read upload")
		return
	}

	if _, err := roster.DetectFormat(source, content); err != nil {
		h.fail(c, http.StatusUnsupportedMediaType, err.Error())
		return
	}

	path := filepath.Join(h.uploads.BaseDir(), uuid.NewString()+"_"+source)
	if err := h.uploads.SaveFile(path, content); err != nil {
		h.logger.Error("Failed to store upload", "file", source, "error", err)
		h.fail(c, http.StatusInternalServerError, "failed to store upload")
		return
	}

	runID, err := h.queue.Enqueue(source, path)
	if err != nil {
		h.logger.Error("Failed to queue run", "file", source, "error", err)
		if errors.Is(err, worker.ErrQueueFull) || errors.Is(err, worker.ErrWorkerStopped) {
			h.fail(c, http.StatusServiceUnavailable, err.Error())
			return
		}
		h.fail(c, http.StatusInternalServerError, "failed to queue run")
		return
	}

	h.logger.Info("Roster accepted", "run_id", runID, "file", source, "size", len(content))

	c.JSON(http.StatusAccepted, Response{
		Success: true,
		Data: UploadResponse{
			RunID:     runID,
			Source:    source,
			StatusURL: "/api/v1/runs/" + runID,
		},
	})
}

// GetRun handles GET /api/v1/runs/:id
func (h *Handlers) GetRun(c *gin.Context) {
	runID := c.Param("id")

	status, ok := h.runs.Get(runID)
	if !ok {
		h.fail(c, http.StatusNotFound, "run not found")
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    status,
	})
}

func (h *Handlers) fail(c *gin.Context, code int, msg string) {
	c.JSON(code, Response{
		Success: false,
		Error:   msg,
	})
}

// Package container wires the report pipeline together and manages its
// lifecycle.
package container

import (
	"fmt"
	"time"

	"github.com/garyjia/report-dispatch/internal/report"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	Storage  StorageConfig
	Report   ReportConfig
	Raster   RasterConfig
	Dispatch DispatchConfig
	Lark     LarkConfig
	Pipeline PipelineConfig
	Server   ServerConfig
}

// StorageConfig holds file storage settings.
type StorageConfig struct {
	// UploadDir receives rosters posted to the server
	UploadDir string

	// DocumentRoot receives one PDF per student
	DocumentRoot string

	// ImageRoot receives one folder of page images per student
	ImageRoot string
}

// ReportConfig holds report template settings.
type ReportConfig struct {
	InstitutionName string
	LogoPath        string
	FontPath        string // UTF-8 TTF for names outside cp1252
	PageSize        string
}

// RasterConfig holds page rasterization settings.
type RasterConfig struct {
	DPI      float64
	MaxWidth int
}

// DispatchConfig holds delivery settings.
type DispatchConfig struct {
	Caption            string
	PacingDelay        time.Duration
	MaxAttempts        int
	BaseBackoff        time.Duration
	MaxBackoff         time.Duration
	DefaultCountryCode string

	// DryRun logs deliveries instead of sending them
	DryRun bool
}

// LarkConfig holds Lark API settings.
type LarkConfig struct {
	AppID         string
	AppSecret     string
	ReceiveIDType string
	APITimeout    time.Duration
	BaseURL       string
}

// PipelineConfig holds run execution settings.
type PipelineConfig struct {
	BuildWorkers    int
	DispatchTimeout time.Duration
	QueueSize       int
	MaxTrackedRuns  int
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxUploadBytes int64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	tpl := report.DefaultTemplate()
	return &Config{
		Storage: StorageConfig{
			UploadDir:    "uploads",
			DocumentRoot: "reports",
			ImageRoot:    "images",
		},
		Raster: RasterConfig{
			DPI: 200,
		},
		Report: ReportConfig{
			InstitutionName: tpl.InstitutionName,
			LogoPath:        tpl.LogoPath,
			PageSize:        tpl.PageSize.Name,
		},
		Dispatch: DispatchConfig{
			PacingDelay:        10 * time.Second,
			MaxAttempts:        3,
			BaseBackoff:        2 * time.Second,
			MaxBackoff:         30 * time.Second,
			DefaultCountryCode: "+91",
		},
		Lark: LarkConfig{
			ReceiveIDType: "open_id",
			APITimeout:    30 * time.Second,
		},
		Pipeline: PipelineConfig{
			BuildWorkers:    1,
			DispatchTimeout: 60 * time.Second,
			QueueSize:       8,
			MaxTrackedRuns:  100,
		},
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			MaxUploadBytes: 10 << 20,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if !c.Dispatch.DryRun {
		if c.Lark.AppID == "" {
			return fmt.Errorf("lark.app_id is required")
		}
		if c.Lark.AppSecret == "" {
			return fmt.Errorf("lark.app_secret is required")
		}
	}

	if c.Storage.DocumentRoot == "" || c.Storage.ImageRoot == "" {
		return fmt.Errorf("storage.document_root and storage.image_root are required")
	}
	if c.Storage.UploadDir == "" {
		return fmt.Errorf("storage.upload_dir is required")
	}

	return nil
}

// template resolves the report template from settings
func (c *Config) template() report.Template {
	tpl := report.DefaultTemplate()
	if c.Report.InstitutionName != "" {
		tpl.InstitutionName = c.Report.InstitutionName
	}
	tpl.LogoPath = c.Report.LogoPath
	tpl.FontPath = c.Report.FontPath
	tpl.PageSize = report.PageSizeByName(c.Report.PageSize)
	return tpl
}

package config

import (
	"github.com/garyjia/report-dispatch/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Storage: container.StorageConfig{
			UploadDir:    c.Storage.UploadDir,
			DocumentRoot: c.Storage.DocumentRoot,
			ImageRoot:    c.Storage.ImageRoot,
		},
		Report: container.ReportConfig{
			InstitutionName: c.Report.InstitutionName,
			LogoPath:        c.Report.LogoPath,
			FontPath:        c.Report.FontPath,
			PageSize:        c.Report.PageSize,
		},
		Raster: container.RasterConfig{
			DPI:      c.Raster.DPI,
			MaxWidth: c.Raster.MaxWidth,
		},
		Dispatch: container.DispatchConfig{
			Caption:            c.Dispatch.Caption,
			PacingDelay:        c.Dispatch.PacingDelay,
			MaxAttempts:        c.Dispatch.MaxAttempts,
			BaseBackoff:        c.Dispatch.BaseBackoff,
			MaxBackoff:         c.Dispatch.MaxBackoff,
			DefaultCountryCode: c.Dispatch.DefaultCountryCode,
			DryRun:             c.Dispatch.DryRun,
		},
		Lark: container.LarkConfig{
			AppID:         c.Lark.AppID,
			AppSecret:     c.Lark.AppSecret,
			ReceiveIDType: c.Lark.ReceiveIDType,
			APITimeout:    c.Lark.APITimeout,
			BaseURL:       c.Lark.BaseURL,
		},
		Pipeline: container.PipelineConfig{
			BuildWorkers:    c.Pipeline.BuildWorkers,
			DispatchTimeout: c.Pipeline.DispatchTimeout,
			QueueSize:       c.Pipeline.QueueSize,
			MaxTrackedRuns:  c.Pipeline.MaxTrackedRuns,
		},
		Server: container.ServerConfig{
			Host:           c.Server.Host,
			Port:           c.Server.Port,
			ReadTimeout:    c.Server.ReadTimeout,
			WriteTimeout:   c.Server.WriteTimeout,
			MaxUploadBytes: c.Server.MaxUploadBytes,
		},
	}
}

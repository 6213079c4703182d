package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// MinPacingDelay is the shortest pause allowed between two sends
const MinPacingDelay = 10 * time.Second

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Report   ReportConfig   `mapstructure:"report"`
	Raster   RasterConfig   `mapstructure:"raster"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Lark     LarkConfig     `mapstructure:"lark"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
}

// StorageConfig holds the artifact and upload directories
type StorageConfig struct {
	UploadDir    string `mapstructure:"upload_dir"`
	DocumentRoot string `mapstructure:"document_root"`
	ImageRoot    string `mapstructure:"image_root"`
}

// ReportConfig holds the report template settings
type ReportConfig struct {
	InstitutionName string `mapstructure:"institution_name"`
	LogoPath        string `mapstructure:"logo_path"`
	FontPath        string `mapstructure:"font_path"`
	PageSize        string `mapstructure:"page_size"`
}

// RasterConfig holds page rasterization settings
type RasterConfig struct {
	DPI      float64 `mapstructure:"dpi"`       // 0 selects raster.DefaultDPI
	MaxWidth int     `mapstructure:"max_width"` // 0 keeps the rendered width
}

// DispatchConfig holds delivery settings
type DispatchConfig struct {
	Caption            string        `mapstructure:"caption"`
	PacingDelay        time.Duration `mapstructure:"pacing_delay"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	BaseBackoff        time.Duration `mapstructure:"base_backoff"`
	MaxBackoff         time.Duration `mapstructure:"max_backoff"`
	DefaultCountryCode string        `mapstructure:"default_country_code"`
	DryRun             bool          `mapstructure:"dry_run"`
}

// LarkConfig holds Lark API configuration
type LarkConfig struct {
	AppID         string        `mapstructure:"app_id"`
	AppSecret     string        `mapstructure:"app_secret"`
	ReceiveIDType string        `mapstructure:"receive_id_type"`
	APITimeout    time.Duration `mapstructure:"api_timeout"`
	BaseURL       string        `mapstructure:"base_url"`
}

// PipelineConfig holds run execution settings
type PipelineConfig struct {
	BuildWorkers    int           `mapstructure:"build_workers"`
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`
	QueueSize       int           `mapstructure:"queue_size"`
	MaxTrackedRuns  int           `mapstructure:"max_tracked_runs"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// LoadOption adjusts loading
type LoadOption func(v *viper.Viper)

// WithOverride sets key after file and environment are applied, e.g. from a
// command line flag.
func WithOverride(key string, value interface{}) LoadOption {
	return func(v *viper.Viper) {
		v.Set(key, value)
	}
}

// Load loads configuration from file and environment variables. An empty
// configPath uses defaults and the environment only.
func Load(configPath string, opts ...LoadOption) (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVars(v)
	for _, opt := range opts {
		opt(v)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadDotEnv exports the variables in path into the process environment.
// Variables already set are left alone. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.max_upload_bytes", 10<<20)

	// Storage defaults
	v.SetDefault("storage.upload_dir", "uploads")
	v.SetDefault("storage.document_root", "reports")
	v.SetDefault("storage.image_root", "images")

	// Report defaults
	v.SetDefault("report.institution_name", "JAIN COLLEGE OF ENGINEERING AND RESEARCH, UDYAMBAG BELAGAVI-590008")
	v.SetDefault("report.logo_path", "logo.png")
	v.SetDefault("report.font_path", "")
	v.SetDefault("report.page_size", "Letter")

	// Raster defaults
	v.SetDefault("raster.dpi", 200)
	v.SetDefault("raster.max_width", 0)

	// Dispatch defaults
	v.SetDefault("dispatch.caption", "Respected sir/madam, please find your ward's report attached")
	v.SetDefault("dispatch.pacing_delay", MinPacingDelay)
	v.SetDefault("dispatch.max_attempts", 3)
	v.SetDefault("dispatch.base_backoff", 2*time.Second)
	v.SetDefault("dispatch.max_backoff", 30*time.Second)
	v.SetDefault("dispatch.default_country_code", "+91")
	v.SetDefault("dispatch.dry_run", false)

	// Lark defaults
	v.SetDefault("lark.receive_id_type", "open_id")
	v.SetDefault("lark.api_timeout", 30*time.Second)

	// Pipeline defaults
	v.SetDefault("pipeline.build_workers", 1)
	v.SetDefault("pipeline.dispatch_timeout", 60*time.Second)
	v.SetDefault("pipeline.queue_size", 8)
	v.SetDefault("pipeline.max_tracked_runs", 100)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds the credential variables that do not follow the key layout
func bindEnvVars(v *viper.Viper) {
	v.BindEnv("lark.app_id", "LARK_APP_ID")
	v.BindEnv("lark.app_secret", "LARK_APP_SECRET")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if !c.Dispatch.DryRun {
		if c.Lark.AppID == "" {
			return fmt.Errorf("lark.app_id is required")
		}
		if c.Lark.AppSecret == "" {
			return fmt.Errorf("lark.app_secret is required")
		}
	}

	if c.Dispatch.PacingDelay < MinPacingDelay {
		return fmt.Errorf("dispatch.pacing_delay must be at least %s, got %s", MinPacingDelay, c.Dispatch.PacingDelay)
	}
	if c.Dispatch.MaxAttempts < 1 {
		return fmt.Errorf("dispatch.max_attempts must be at least 1")
	}
	if c.Dispatch.MaxBackoff < c.Dispatch.BaseBackoff {
		return fmt.Errorf("dispatch.max_backoff must not be shorter than dispatch.base_backoff")
	}

	if c.Storage.UploadDir == "" {
		return fmt.Errorf("storage.upload_dir is required")
	}
	if c.Storage.DocumentRoot == "" {
		return fmt.Errorf("storage.document_root is required")
	}
	if c.Storage.ImageRoot == "" {
		return fmt.Errorf("storage.image_root is required")
	}

	if c.Raster.DPI < 0 {
		return fmt.Errorf("raster.dpi must not be negative")
	}
	if c.Pipeline.BuildWorkers < 1 {
		return fmt.Errorf("pipeline.build_workers must be at least 1")
	}
	if c.Pipeline.QueueSize < 1 {
		return fmt.Errorf("pipeline.queue_size must be at least 1")
	}

	return nil
}

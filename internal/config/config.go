// Package config provides configuration management for the genfill agent.
// Configuration is built from defaults, an optional YAML file and environment
// variables, applied in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Default values
	DefaultPort     = 8797
	DefaultLogLevel = "info"
	DefaultDataDir  = ".genfill"

	// Environment variable names
	EnvConfigFile = "GENFILL_CONFIG"
	EnvPort       = "GENFILL_PORT"
	EnvLogLevel   = "GENFILL_LOG_LEVEL"
	EnvDataDir    = "GENFILL_DATA_DIR"
	EnvHeadless   = "GENFILL_HEADLESS"

	// Inference API environment variable names
	EnvFalKey        = "FAL_KEY"
	EnvFalQueueURL   = "GENFILL_FAL_QUEUE_URL"
	EnvFalStorageURL = "GENFILL_FAL_STORAGE_URL"
	EnvInpaintModel  = "GENFILL_INPAINT_MODEL"
	EnvV2VModel      = "GENFILL_V2V_MODEL"
	EnvPollInterval  = "GENFILL_POLL_INTERVAL"
	EnvRateLimit     = "GENFILL_API_RATE_LIMIT"
	EnvParallelUp    = "GENFILL_PARALLEL_UPLOADS"

	// Host bridge environment variable names
	EnvHostCommand        = "GENFILL_HOST_COMMAND"
	EnvHostScript         = "GENFILL_HOST_SCRIPT"
	EnvHostExtractor      = "GENFILL_HOST_EXTRACTOR"
	EnvHostTimeout        = "GENFILL_HOST_TIMEOUT"
	EnvRenderTimeout      = "GENFILL_RENDER_TIMEOUT"
	EnvRenderPollInterval = "GENFILL_RENDER_POLL_INTERVAL"
	EnvSelectionWatch     = "GENFILL_SELECTION_WATCH_INTERVAL"

	// Database filename
	DBFilename = "genfill.db"

	// Inference API defaults
	DefaultFalQueueURL   = "https://queue.fal.run"
	DefaultFalStorageURL = "https://rest.alpha.fal.ai"
	DefaultInpaintModel  = "fal-ai/wan-vace"
	DefaultV2VModel      = "fal-ai/wan/v2.2-a14b/video-to-video"
	DefaultPollInterval  = 5 * time.Second
	DefaultRateLimit     = 5.0 // requests per second

	// Host bridge defaults
	DefaultHostExtractor      = ExtractorScript
	DefaultHostTimeout        = 30 * time.Second
	DefaultRenderTimeout      = 2 * time.Hour
	DefaultRenderPollInterval = 200 * time.Millisecond
	DefaultSelectionWatch     = 3 * time.Second

	// minRenderPollInterval keeps the render-queue poll from hammering the
	// shared automation context.
	minRenderPollInterval = 100 * time.Millisecond
)

// Host extractor modes
const (
	// ExtractorScript delegates whole renders to the host script entry points.
	ExtractorScript = "script"
	// ExtractorNative drives the host editing primitives from the agent.
	ExtractorNative = "native"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	RendersDir() string
	Headless() bool

	FalKey() string
	FalQueueURL() string
	FalStorageURL() string
	InpaintModel() string
	V2VModel() string
	PollInterval() time.Duration
	APIRateLimit() float64
	ParallelUploads() bool

	HostCommand() string
	HostScript() string
	HostExtractor() string
	HostTimeout() time.Duration
	RenderTimeout() time.Duration
	RenderPollInterval() time.Duration
	SelectionWatchInterval() time.Duration
}

// fileConfig mirrors the optional YAML configuration file.
type fileConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	DataDir  string `yaml:"data_dir"`
	Headless *bool  `yaml:"headless"`

	Fal struct {
		Key             string        `yaml:"key"`
		QueueURL        string        `yaml:"queue_url"`
		StorageURL      string        `yaml:"storage_url"`
		InpaintModel    string        `yaml:"inpaint_model"`
		V2VModel        string        `yaml:"v2v_model"`
		PollInterval    time.Duration `yaml:"poll_interval"`
		RateLimit       float64       `yaml:"rate_limit"`
		ParallelUploads *bool         `yaml:"parallel_uploads"`
	} `yaml:"fal"`

	Host struct {
		Command            string        `yaml:"command"`
		Script             string        `yaml:"script"`
		Extractor          string        `yaml:"extractor"`
		Timeout            time.Duration `yaml:"timeout"`
		RenderTimeout      time.Duration `yaml:"render_timeout"`
		RenderPollInterval time.Duration `yaml:"render_poll_interval"`
		SelectionWatch     time.Duration `yaml:"selection_watch_interval"`
	} `yaml:"host"`
}

// EnvConfig reads configuration from an optional YAML file and environment variables
type EnvConfig struct {
	port     int
	logLevel string
	dataDir  string
	headless bool

	falKey          string
	falQueueURL     string
	falStorageURL   string
	inpaintModel    string
	v2vModel        string
	pollInterval    time.Duration
	rateLimit       float64
	parallelUploads bool

	hostCommand        string
	hostScript         string
	hostExtractor      string
	hostTimeout        time.Duration
	renderTimeout      time.Duration
	renderPollInterval time.Duration
	selectionWatch     time.Duration
}

// New creates a new EnvConfig with defaults, the YAML file named by
// GENFILL_CONFIG (if any) and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:               DefaultPort,
		logLevel:           DefaultLogLevel,
		dataDir:            defaultDataDir(),
		falQueueURL:        DefaultFalQueueURL,
		falStorageURL:      DefaultFalStorageURL,
		inpaintModel:       DefaultInpaintModel,
		v2vModel:           DefaultV2VModel,
		pollInterval:       DefaultPollInterval,
		rateLimit:          DefaultRateLimit,
		hostExtractor:      DefaultHostExtractor,
		hostTimeout:        DefaultHostTimeout,
		renderTimeout:      DefaultRenderTimeout,
		renderPollInterval: DefaultRenderPollInterval,
		selectionWatch:     DefaultSelectionWatch,
	}

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *EnvConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setInt(&c.port, fc.Port)
	setString(&c.logLevel, fc.LogLevel)
	setString(&c.dataDir, fc.DataDir)
	if fc.Headless != nil {
		c.headless = *fc.Headless
	}

	setString(&c.falKey, fc.Fal.Key)
	setString(&c.falQueueURL, fc.Fal.QueueURL)
	setString(&c.falStorageURL, fc.Fal.StorageURL)
	setString(&c.inpaintModel, fc.Fal.InpaintModel)
	setString(&c.v2vModel, fc.Fal.V2VModel)
	setDuration(&c.pollInterval, fc.Fal.PollInterval)
	if fc.Fal.RateLimit > 0 {
		c.rateLimit = fc.Fal.RateLimit
	}
	if fc.Fal.ParallelUploads != nil {
		c.parallelUploads = *fc.Fal.ParallelUploads
	}

	setString(&c.hostCommand, fc.Host.Command)
	setString(&c.hostScript, fc.Host.Script)
	setString(&c.hostExtractor, fc.Host.Extractor)
	setDuration(&c.hostTimeout, fc.Host.Timeout)
	setDuration(&c.renderTimeout, fc.Host.RenderTimeout)
	setDuration(&c.renderPollInterval, fc.Host.RenderPollInterval)
	setDuration(&c.selectionWatch, fc.Host.SelectionWatch)
	return nil
}

func (c *EnvConfig) loadEnv() error {
	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	setString(&c.logLevel, os.Getenv(EnvLogLevel))
	setString(&c.dataDir, os.Getenv(EnvDataDir))

	if h := os.Getenv(EnvHeadless); h != "" {
		v, err := strconv.ParseBool(h)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		c.headless = v
	}

	setString(&c.falKey, os.Getenv(EnvFalKey))
	setString(&c.falQueueURL, os.Getenv(EnvFalQueueURL))
	setString(&c.falStorageURL, os.Getenv(EnvFalStorageURL))
	setString(&c.inpaintModel, os.Getenv(EnvInpaintModel))
	setString(&c.v2vModel, os.Getenv(EnvV2VModel))

	if err := envDuration(EnvPollInterval, &c.pollInterval); err != nil {
		return err
	}

	if rl := os.Getenv(EnvRateLimit); rl != "" {
		v, err := strconv.ParseFloat(rl, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvRateLimit, err)
		}
		c.rateLimit = v
	}

	if pu := os.Getenv(EnvParallelUp); pu != "" {
		v, err := strconv.ParseBool(pu)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvParallelUp, err)
		}
		c.parallelUploads = v
	}

	setString(&c.hostCommand, os.Getenv(EnvHostCommand))
	setString(&c.hostScript, os.Getenv(EnvHostScript))
	setString(&c.hostExtractor, os.Getenv(EnvHostExtractor))

	for name, dst := range map[string]*time.Duration{
		EnvHostTimeout:        &c.hostTimeout,
		EnvRenderTimeout:      &c.renderTimeout,
		EnvRenderPollInterval: &c.renderPollInterval,
		EnvSelectionWatch:     &c.selectionWatch,
	} {
		if err := envDuration(name, dst); err != nil {
			return err
		}
	}

	return nil
}

func (c *EnvConfig) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
	}
	if c.hostExtractor != ExtractorScript && c.hostExtractor != ExtractorNative {
		return fmt.Errorf("invalid %s: %q (want %q or %q)", EnvHostExtractor, c.hostExtractor, ExtractorScript, ExtractorNative)
	}
	if c.pollInterval <= 0 {
		return fmt.Errorf("invalid %s: must be positive", EnvPollInterval)
	}
	if c.rateLimit <= 0 {
		return fmt.Errorf("invalid %s: must be positive", EnvRateLimit)
	}
	if c.renderPollInterval < minRenderPollInterval {
		c.renderPollInterval = minRenderPollInterval
	}
	return nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// RendersDir is where per-run render folders are created when the host does not
// report a project directory.
func (c *EnvConfig) RendersDir() string {
	return filepath.Join(c.dataDir, "renders")
}

// Headless disables the system tray.
func (c *EnvConfig) Headless() bool {
	return c.headless
}

// FalKey is the fallback API key used when a run does not carry its own.
func (c *EnvConfig) FalKey() string {
	return c.falKey
}

func (c *EnvConfig) FalQueueURL() string {
	return c.falQueueURL
}

func (c *EnvConfig) FalStorageURL() string {
	return c.falStorageURL
}

func (c *EnvConfig) InpaintModel() string {
	return c.inpaintModel
}

func (c *EnvConfig) V2VModel() string {
	return c.v2vModel
}

func (c *EnvConfig) PollInterval() time.Duration {
	return c.pollInterval
}

func (c *EnvConfig) APIRateLimit() float64 {
	return c.rateLimit
}

func (c *EnvConfig) ParallelUploads() bool {
	return c.parallelUploads
}

func (c *EnvConfig) HostCommand() string {
	return c.hostCommand
}

func (c *EnvConfig) HostScript() string {
	return c.hostScript
}

func (c *EnvConfig) HostExtractor() string {
	return c.hostExtractor
}

func (c *EnvConfig) HostTimeout() time.Duration {
	return c.hostTimeout
}

func (c *EnvConfig) RenderTimeout() time.Duration {
	return c.renderTimeout
}

func (c *EnvConfig) RenderPollInterval() time.Duration {
	return c.renderPollInterval
}

func (c *EnvConfig) SelectionWatchInterval() time.Duration {
	return c.selectionWatch
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

func envDuration(name string, dst *time.Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = d
	return nil
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Package config provides configuration management for the Groove Slider agent.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// Default values
	DefaultPort      = 8833
	DefaultLogLevel  = "info"
	DefaultDataDir   = ".groove-slider"
	DefaultOutputDir = "exports"

	// Environment variable names
	EnvPort      = "GROOVE_PORT"
	EnvLogLevel  = "GROOVE_LOG_LEVEL"
	EnvDataDir   = "GROOVE_DATA_DIR"
	EnvOutputDir = "GROOVE_OUTPUT_DIR"
	EnvHeadless  = "GROOVE_HEADLESS"

	// Encoder environment variable names
	EnvFFmpegPath  = "GROOVE_FFMPEG_PATH"
	EnvFFprobePath = "GROOVE_FFPROBE_PATH"

	// Track catalog environment variable names
	EnvTracksBaseURL = "GROOVE_TRACKS_BASE_URL"
	EnvTracksToken   = "GROOVE_TRACKS_TOKEN"

	// Database filename
	DBFilename = "groove.db"

	// Export defaults
	DefaultExportHardCapSeconds = 180
	DefaultFrameRate            = 30

	// Encoder timeouts
	DefaultEncoderTimeoutProbe = 15   // seconds
	DefaultEncoderTimeoutClip  = 120  // 2 minutes per slide clip
	DefaultEncoderTimeoutMux   = 600  // 10 minutes
	DefaultUploadMaxBytes      = 64 * 1024 * 1024
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	AssetsDir() string
	WorkDir() string
	OutputDir() string
	Headless() bool
	FFmpegPath() string
	FFprobePath() string
	TracksBaseURL() string
	TracksToken() string
	ExportHardCap() float64
	EncoderTimeoutProbe() time.Duration
	EncoderTimeoutClip() time.Duration
	EncoderTimeoutMux() time.Duration
	UploadMaxBytes() int64
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port     int
	logLevel string
	dataDir  string
	headless bool

	outputDir   string
	ffmpegPath  string
	ffprobePath string

	tracksBaseURL string
	tracksToken   string
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:     DefaultPort,
		logLevel: DefaultLogLevel,
		dataDir:  defaultDataDir(),
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	// Override log level from environment
	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	// Override data directory from environment
	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	if od := os.Getenv(EnvOutputDir); od != "" {
		cfg.outputDir = od
	}

	if h := os.Getenv(EnvHeadless); h != "" {
		headless, err := strconv.ParseBool(h)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		cfg.headless = headless
	}

	cfg.ffmpegPath = os.Getenv(EnvFFmpegPath)
	cfg.ffprobePath = os.Getenv(EnvFFprobePath)
	cfg.tracksBaseURL = os.Getenv(EnvTracksBaseURL)
	cfg.tracksToken = os.Getenv(EnvTracksToken)

	return cfg, nil
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

// AssetsDir returns the directory holding uploaded and normalized assets
func (c *EnvConfig) AssetsDir() string {
	return filepath.Join(c.dataDir, "assets")
}

// WorkDir returns the scratch directory for in-flight encoder sessions
func (c *EnvConfig) WorkDir() string {
	return filepath.Join(c.dataDir, "work")
}

// OutputDir returns the directory finished exports are saved to
func (c *EnvConfig) OutputDir() string {
	if c.outputDir != "" {
		return c.outputDir
	}
	return filepath.Join(c.dataDir, DefaultOutputDir)
}

// Headless reports whether the system tray should be skipped
func (c *EnvConfig) Headless() bool {
	return c.headless
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

func (c *EnvConfig) TracksBaseURL() string {
	return c.tracksBaseURL
}

func (c *EnvConfig) TracksToken() string {
	return c.tracksToken
}

// ExportHardCap returns the maximum allowed export duration in seconds
func (c *EnvConfig) ExportHardCap() float64 {
	return DefaultExportHardCapSeconds
}

func (c *EnvConfig) EncoderTimeoutProbe() time.Duration {
	return time.Duration(DefaultEncoderTimeoutProbe) * time.Second
}

func (c *EnvConfig) EncoderTimeoutClip() time.Duration {
	return time.Duration(DefaultEncoderTimeoutClip) * time.Second
}

func (c *EnvConfig) EncoderTimeoutMux() time.Duration {
	return time.Duration(DefaultEncoderTimeoutMux) * time.Second
}

func (c *EnvConfig) UploadMaxBytes() int64 {
	return DefaultUploadMaxBytes
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

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

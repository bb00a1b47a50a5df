// Package config provides configuration management for the Framewise agent.
// Values come from built-in defaults, then an optional YAML file, then
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// Default values
	DefaultPort            = 8788
	DefaultLogLevel        = "info"
	DefaultDataDir         = ".framewise"
	DefaultMarkupColor     = "#ff0000"
	DefaultMarkupWidth     = 2
	DefaultThumbnailWidth  = 160
	DefaultThumbnailHeight = 90

	// Environment variable names
	EnvConfigFile      = "FRAMEWISE_CONFIG"
	EnvPort            = "FRAMEWISE_PORT"
	EnvLogLevel        = "FRAMEWISE_LOG_LEVEL"
	EnvDataDir         = "FRAMEWISE_DATA_DIR"
	EnvHeadless        = "FRAMEWISE_HEADLESS"
	EnvFFmpegPath      = "FRAMEWISE_FFMPEG_PATH"
	EnvFFprobePath     = "FRAMEWISE_FFPROBE_PATH"
	EnvMarkupColor     = "FRAMEWISE_MARKUP_COLOR"
	EnvMarkupWidth     = "FRAMEWISE_MARKUP_WIDTH"
	EnvThumbnailWidth  = "FRAMEWISE_THUMBNAIL_WIDTH"
	EnvThumbnailHeight = "FRAMEWISE_THUMBNAIL_HEIGHT"

	// Database filename
	DBFilename = "framewise.db"

	// ConfigFilename is looked up inside the data directory.
	ConfigFilename = "config.yaml"

	maxMarkupWidth = 20
)

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	CacheDir() string
	ThumbnailDir() string
	ExportDir() string
	Headless() bool
	FFmpegPath() string
	FFprobePath() string
	MarkupColor() string
	MarkupWidth() int
	ThumbnailWidth() int
	ThumbnailHeight() int
	ConfigFile() string
}

// EnvConfig holds the merged configuration.
type EnvConfig struct {
	port            int
	logLevel        string
	dataDir         string
	headless        bool
	ffmpegPath      string
	ffprobePath     string
	markupColor     string
	markupWidth     int
	thumbnailWidth  int
	thumbnailHeight int
	configFile      string
}

// fileConfig is the YAML file layout. Zero values leave the default.
type fileConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	Headless *bool  `yaml:"headless"`
	FFmpeg   struct {
		FFmpegPath  string `yaml:"ffmpeg_path"`
		FFprobePath string `yaml:"ffprobe_path"`
	} `yaml:"ffmpeg"`
	Markup struct {
		Color string `yaml:"color"`
		Width int    `yaml:"width"`
	} `yaml:"markup"`
	Thumbnail struct {
		Width  int `yaml:"width"`
		Height int `yaml:"height"`
	} `yaml:"thumbnail"`
}

// New creates a new EnvConfig from defaults, the config file and
// environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:            DefaultPort,
		logLevel:        DefaultLogLevel,
		dataDir:         defaultDataDir(),
		markupColor:     DefaultMarkupColor,
		markupWidth:     DefaultMarkupWidth,
		thumbnailWidth:  DefaultThumbnailWidth,
		thumbnailHeight: DefaultThumbnailHeight,
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	if err := cfg.loadFile(); err != nil {
		return nil, err
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *EnvConfig) loadFile() error {
	path := os.Getenv(EnvConfigFile)
	explicit := path != ""
	if !explicit {
		path = filepath.Join(c.dataDir, ConfigFilename)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("cannot read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}
	c.configFile = path

	if fc.Port != 0 {
		c.port = fc.Port
	}
	if fc.LogLevel != "" {
		c.logLevel = fc.LogLevel
	}
	if fc.Headless != nil {
		c.headless = *fc.Headless
	}
	if fc.FFmpeg.FFmpegPath != "" {
		c.ffmpegPath = fc.FFmpeg.FFmpegPath
	}
	if fc.FFmpeg.FFprobePath != "" {
		c.ffprobePath = fc.FFmpeg.FFprobePath
	}
	if fc.Markup.Color != "" {
		c.markupColor = fc.Markup.Color
	}
	if fc.Markup.Width != 0 {
		c.markupWidth = fc.Markup.Width
	}
	if fc.Thumbnail.Width != 0 {
		c.thumbnailWidth = fc.Thumbnail.Width
	}
	if fc.Thumbnail.Height != 0 {
		c.thumbnailHeight = fc.Thumbnail.Height
	}
	return nil
}

func (c *EnvConfig) loadEnv() error {
	var err error
	if c.port, err = envInt(EnvPort, c.port); err != nil {
		return err
	}
	if ll := os.Getenv(EnvLogLevel); ll != "" {
		c.logLevel = ll
	}
	if h := os.Getenv(EnvHeadless); h != "" {
		b, err := strconv.ParseBool(h)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		c.headless = b
	}
	if p := os.Getenv(EnvFFmpegPath); p != "" {
		c.ffmpegPath = p
	}
	if p := os.Getenv(EnvFFprobePath); p != "" {
		c.ffprobePath = p
	}
	if mc := os.Getenv(EnvMarkupColor); mc != "" {
		c.markupColor = mc
	}
	if c.markupWidth, err = envInt(EnvMarkupWidth, c.markupWidth); err != nil {
		return err
	}
	if c.thumbnailWidth, err = envInt(EnvThumbnailWidth, c.thumbnailWidth); err != nil {
		return err
	}
	if c.thumbnailHeight, err = envInt(EnvThumbnailHeight, c.thumbnailHeight); err != nil {
		return err
	}
	return nil
}

func (c *EnvConfig) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port %d: port must be between 1 and 65535", c.port)
	}
	if !hexColor.MatchString(c.markupColor) {
		return fmt.Errorf("invalid markup color %q: want #rgb or #rrggbb", c.markupColor)
	}
	if c.markupWidth < 1 || c.markupWidth > maxMarkupWidth {
		return fmt.Errorf("invalid markup width %d: must be between 1 and %d", c.markupWidth, maxMarkupWidth)
	}
	if c.thumbnailWidth < 1 || c.thumbnailHeight < 1 {
		return fmt.Errorf("invalid thumbnail size %dx%d", c.thumbnailWidth, c.thumbnailHeight)
	}
	return nil
}

func envInt(name string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
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

// CacheDir returns the cache directory path
func (c *EnvConfig) CacheDir() string {
	return filepath.Join(c.dataDir, "cache")
}

func (c *EnvConfig) ThumbnailDir() string {
	return filepath.Join(c.CacheDir(), "thumbnails")
}

// ExportDir is the default destination for exports.
func (c *EnvConfig) ExportDir() string {
	return filepath.Join(c.dataDir, "exports")
}

// Headless disables the system tray.
func (c *EnvConfig) Headless() bool {
	return c.headless
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

func (c *EnvConfig) MarkupColor() string {
	return c.markupColor
}

func (c *EnvConfig) MarkupWidth() int {
	return c.markupWidth
}

func (c *EnvConfig) ThumbnailWidth() int {
	return c.thumbnailWidth
}

func (c *EnvConfig) ThumbnailHeight() int {
	return c.thumbnailHeight
}

// ConfigFile returns the YAML file that was applied, or "".
func (c *EnvConfig) ConfigFile() string {
	return c.configFile
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

// Copyright (c) 2025, the reelherd contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/reelherd/reelherd/internal/domain"
)

var envPrefix = "REELHERD__"

type AppConfig struct {
	Config  *domain.Config
	viper   *viper.Viper
	dataDir string
	version string
}

func New(configDirOrPath string, versions ...string) (*AppConfig, error) {
	version := "dev"
	if len(versions) > 0 && strings.TrimSpace(versions[0]) != "" {
		version = versions[0]
	}

	c := &AppConfig{
		viper:   viper.New(),
		Config:  &domain.Config{},
		version: version,
	}

	c.defaults()

	if err := c.load(configDirOrPath); err != nil {
		return nil, err
	}

	c.loadFromEnv()

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	c.Config.Version = c.version

	c.resolveDataDir()

	return c, nil
}

func (c *AppConfig) defaults() {
	c.viper.SetDefault("resolution", "2160p")
	c.viper.SetDefault("minRating", 6.0)
	c.viper.SetDefault("yearLookback", 2)
	c.viper.SetDefault("sortBy", "latest")
	c.viper.SetDefault("maxPages", 50)
	c.viper.SetDefault("catalogDelayMin", "1s")
	c.viper.SetDefault("catalogDelayMax", "3s")
	c.viper.SetDefault("catalogRetries", 3)

	c.viper.SetDefault("outputDir", "releases")
	c.viper.SetDefault("downloadPosters", true)
	c.viper.SetDefault("csvIndex", false)

	c.viper.SetDefault("realDebridApiKey", "")
	c.viper.SetDefault("maxUploadsPerRun", 20)
	c.viper.SetDefault("uploadDelay", "3s")
	c.viper.SetDefault("uploadRetries", 2)
	c.viper.SetDefault("maxUploadAttempts", 5)
	c.viper.SetDefault("cachedOnly", false)

	c.viper.SetDefault("dataDir", "") // Empty means auto-detect (next to config file)
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
}

func (c *AppConfig) load(configDirOrPath string) error {
	c.viper.SetConfigType("toml")

	if configDirOrPath != "" {
		configPath := c.resolveConfigPath(configDirOrPath)
		c.viper.SetConfigFile(configPath)

		if err := c.viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				if err := c.writeDefaultConfig(configPath); err != nil {
					return err
				}
				if err := c.viper.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read newly created config: %w", err)
				}
				return nil
			}
			// viper returns a *fs.PathError rather than ConfigFileNotFoundError
			// when an explicit config file is missing
			if os.IsNotExist(err) {
				if err := c.writeDefaultConfig(configPath); err != nil {
					return err
				}
				if err := c.viper.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read newly created config: %w", err)
				}
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
		return nil
	}

	// Search for config in standard locations
	c.viper.SetConfigName("config")
	c.viper.AddConfigPath(".")
	c.viper.AddConfigPath(GetDefaultConfigDir())

	if err := c.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			defaultConfigPath := filepath.Join(GetDefaultConfigDir(), "config.toml")
			if err := c.writeDefaultConfig(defaultConfigPath); err != nil {
				return err
			}
			c.viper.SetConfigFile(defaultConfigPath)
			if err := c.viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read newly created config: %w", err)
			}
			c.dataDir = filepath.Dir(defaultConfigPath)
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}

	return nil
}

func (c *AppConfig) loadFromEnv() {
	// DO NOT use AutomaticEnv() - it reads ALL env vars and causes conflicts
	// with scheduler environments. Explicitly bind only the variables we want.
	c.viper.BindEnv("resolution", envPrefix+"RESOLUTION")
	c.viper.BindEnv("minRating", envPrefix+"MIN_RATING")
	c.viper.BindEnv("yearLookback", envPrefix+"YEAR_LOOKBACK")
	c.viper.BindEnv("sortBy", envPrefix+"SORT_BY")
	c.viper.BindEnv("maxPages", envPrefix+"MAX_PAGES")
	c.viper.BindEnv("catalogDelayMin", envPrefix+"CATALOG_DELAY_MIN")
	c.viper.BindEnv("catalogDelayMax", envPrefix+"CATALOG_DELAY_MAX")
	c.viper.BindEnv("catalogRetries", envPrefix+"CATALOG_RETRIES")
	c.viper.BindEnv("outputDir", envPrefix+"OUTPUT_DIR")
	c.viper.BindEnv("downloadPosters", envPrefix+"DOWNLOAD_POSTERS")
	c.viper.BindEnv("csvIndex", envPrefix+"CSV_INDEX")
	c.viper.BindEnv("maxUploadsPerRun", envPrefix+"MAX_UPLOADS_PER_RUN")
	c.viper.BindEnv("uploadDelay", envPrefix+"UPLOAD_DELAY")
	c.viper.BindEnv("uploadRetries", envPrefix+"UPLOAD_RETRIES")
	c.viper.BindEnv("maxUploadAttempts", envPrefix+"MAX_UPLOAD_ATTEMPTS")
	c.viper.BindEnv("cachedOnly", envPrefix+"CACHED_ONLY")
	c.viper.BindEnv("dataDir", envPrefix+"DATA_DIR")
	c.viper.BindEnv("logLevel", envPrefix+"LOG_LEVEL")
	c.viper.BindEnv("logPath", envPrefix+"LOG_PATH")
	c.viper.BindEnv("logMaxSize", envPrefix+"LOG_MAX_SIZE")
	c.viper.BindEnv("logMaxBackups", envPrefix+"LOG_MAX_BACKUPS")

	// The credential accepts the prefixed form, a *_FILE indirection for
	// secret mounts, and the bare REAL_DEBRID_API_KEY that existing cron and
	// CI setups already export.
	c.bindOrReadFromFile("realDebridApiKey", envPrefix+"REAL_DEBRID_API_KEY")
	if c.viper.GetString("realDebridApiKey") == "" {
		if key := os.Getenv("REAL_DEBRID_API_KEY"); key != "" {
			c.viper.Set("realDebridApiKey", strings.TrimSpace(key))
		}
	}
}

// Sets viper variable if environment variable with _FILE suffix is present
func (c *AppConfig) bindOrReadFromFile(viperVar string, envVar string) {
	envVarFile := envVar + "_FILE"
	if filePath := os.Getenv(envVarFile); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", filePath).Msg("Could not read " + envVarFile)
		}
		c.viper.Set(viperVar, strings.TrimSpace(string(content)))
	} else {
		c.viper.BindEnv(viperVar, envVar)
	}
}

func (c *AppConfig) writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		log.Debug().Msgf("Config file already exists at: %s", path)
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}

	configTemplate := `# config.toml - Auto-generated on first run

# Resolution tag to collect
# Default: "2160p"
resolution = "{{ .resolution }}"

# Minimum aggregate rating (0-10)
# Default: {{ .minRating }}
minRating = {{ .minRating }}

# Only collect releases from the last N years (0 disables the year filter)
# Default: {{ .yearLookback }}
yearLookback = {{ .yearLookback }}

# Catalog sort order: "latest" (newest first) or "rating"
# Default: "latest"
#sortBy = "latest"

# Hard upper bound on catalog pages per run
# Default: {{ .maxPages }}
#maxPages = {{ .maxPages }}

# Randomized delay between catalog requests
# Defaults: 1s / 3s
#catalogDelayMin = "1s"
#catalogDelayMax = "3s"

# Output directory for recorded releases
# Default: "releases"
outputDir = "{{ .outputDir }}"

# Download poster images next to each release record
# Default: true
#downloadPosters = true

# Append recorded releases to a releases.csv index in the output directory
# Default: false
#csvIndex = false

# Real-Debrid API token (https://real-debrid.com/apitoken)
# Leave empty to run discovery without uploading
# Can also be set via REELHERD__REAL_DEBRID_API_KEY or REAL_DEBRID_API_KEY
#realDebridApiKey = ""

# Maximum uploads submitted to Real-Debrid per run
# Default: {{ .maxUploadsPerRun }}
#maxUploadsPerRun = {{ .maxUploadsPerRun }}

# Delay between upload requests
# Default: "3s"
#uploadDelay = "3s"

# Only upload releases already cached on Real-Debrid
# Default: false
#cachedOnly = false

# Give up on a release after this many failed upload attempts across runs
# Default: {{ .maxUploadAttempts }}
#maxUploadAttempts = {{ .maxUploadAttempts }}

# Data directory (default: next to config file)
# The ledger database (reelherd.db) is created inside this directory
#dataDir = "/var/db/reelherd"

# Log file path
# If not defined, logs to stderr
# Optional
#logPath = "log/reelherd.log"

# Log rotation
# Maximum log file size in megabytes before rotation
# Default: {{ .logMaxSize }}
#logMaxSize = {{ .logMaxSize }}

# Number of rotated log files to retain (0 keeps all)
# Default: {{ .logMaxBackups }}
#logMaxBackups = {{ .logMaxBackups }}

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "{{ .logLevel }}"
`

	data := map[string]any{
		"resolution":        c.viper.GetString("resolution"),
		"minRating":         c.viper.GetFloat64("minRating"),
		"yearLookback":      c.viper.GetInt("yearLookback"),
		"maxPages":          c.viper.GetInt("maxPages"),
		"outputDir":         c.viper.GetString("outputDir"),
		"maxUploadsPerRun":  c.viper.GetInt("maxUploadsPerRun"),
		"maxUploadAttempts": c.viper.GetInt("maxUploadAttempts"),
		"logLevel":          c.viper.GetString("logLevel"),
		"logMaxSize":        c.viper.GetInt("logMaxSize"),
		"logMaxBackups":     c.viper.GetInt("logMaxBackups"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse config template: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Info().Msgf("Created default config file: %s", path)
	return nil
}

func WriteDefaultConfig(path string) error {
	c := &AppConfig{
		viper: viper.New(),
	}

	c.defaults()

	return c.writeDefaultConfig(path)
}

// GetDefaultConfigDir returns the OS-specific config directory
func GetDefaultConfigDir() string {
	// XDG_CONFIG_HOME is set to /config in containers
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		if xdgConfig == "/config" {
			return xdgConfig
		}
		return filepath.Join(xdgConfig, "reelherd")
	}

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "reelherd")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", "reelherd")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "reelherd")
	}
}

// resolveConfigPath determines the actual config file path from the provided directory or file path
func (c *AppConfig) resolveConfigPath(configDirOrPath string) string {
	if strings.HasSuffix(strings.ToLower(configDirOrPath), ".toml") {
		return configDirOrPath
	}

	if info, err := os.Stat(configDirOrPath); err == nil && !info.IsDir() {
		return configDirOrPath
	}

	return filepath.Join(configDirOrPath, "config.toml")
}

// resolveDataDir sets the data directory based on configuration
func (c *AppConfig) resolveDataDir() {
	switch {
	case c.Config.DataDir != "":
		c.dataDir = c.Config.DataDir
	case c.viper.ConfigFileUsed() != "":
		c.dataDir = filepath.Dir(c.viper.ConfigFileUsed())
	default:
		c.dataDir = "."
	}
}

// GetLedgerPath returns the path to the ledger database file
func (c *AppConfig) GetLedgerPath() string {
	return filepath.Join(c.dataDir, "reelherd.db")
}

// GetDataDir returns the resolved data directory path.
func (c *AppConfig) GetDataDir() string {
	return c.dataDir
}

// SetDataDir sets the data directory (used by CLI flags)
func (c *AppConfig) SetDataDir(dir string) {
	c.dataDir = dir
}

func (c *AppConfig) ApplyLogConfig() {
	zerolog.TimeFieldFormat = time.RFC3339

	setLogLevel(c.Config.LogLevel)

	writer := c.baseLogWriter()

	if c.Config.LogPath != "" {
		multiWriter, err := setupLogFile(c.Config.LogPath, writer, c.Config.LogMaxSize, c.Config.LogMaxBackups)
		if err != nil {
			log.Error().Err(err).Msg("Failed to setup log file")
		} else {
			writer = multiWriter
		}
	}

	log.Logger = log.Logger.Output(writer)
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Logger.Level(lvl)
}

func setupLogFile(path string, base io.Writer, maxSize, maxBackups int) (io.Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if maxSize <= 0 {
		maxSize = 50
	}

	if maxBackups < 0 {
		maxBackups = 0
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}

	return io.MultiWriter(base, rotator), nil
}

func baseLogWriter(version string) io.Writer {
	if isDevBuild(version) {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		writer.PartsOrder = []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName}
		return writer
	}
	return os.Stderr
}

func (c *AppConfig) baseLogWriter() io.Writer {
	return baseLogWriter(c.version)
}

// DefaultLogWriter returns the base log writer for the provided version.
func DefaultLogWriter(version string) io.Writer {
	return baseLogWriter(version)
}

// InitDefaultLogger configures zerolog with the default writer for this version.
// This is used by CLI entry points before a configuration file is loaded.
func InitDefaultLogger(version string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Logger.Output(DefaultLogWriter(version))
}

func isDevBuild(version string) bool {
	v := strings.ToLower(strings.TrimSpace(version))
	return v == "" || v == "dev" || strings.HasSuffix(v, "-dev")
}

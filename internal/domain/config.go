// Copyright (c) 2025, the reelherd contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "time"

// Config holds the full runtime configuration. Values come from the TOML
// config file with REELHERD__ environment overrides; see internal/config.
type Config struct {
	Version string

	// Catalog discovery
	Resolution      string        `mapstructure:"resolution"`
	MinRating       float64       `mapstructure:"minRating"`
	YearLookback    int           `mapstructure:"yearLookback"`
	SortBy          string        `mapstructure:"sortBy"`
	MaxPages        int           `mapstructure:"maxPages"`
	CatalogDelayMin time.Duration `mapstructure:"catalogDelayMin"`
	CatalogDelayMax time.Duration `mapstructure:"catalogDelayMax"`
	CatalogRetries  int           `mapstructure:"catalogRetries"`

	// Recording
	OutputDir       string `mapstructure:"outputDir"`
	DownloadPosters bool   `mapstructure:"downloadPosters"`
	CSVIndex        bool   `mapstructure:"csvIndex"`

	// Upload dispatch
	RealDebridAPIKey  string        `mapstructure:"realDebridApiKey"`
	MaxUploadsPerRun  int           `mapstructure:"maxUploadsPerRun"`
	UploadDelay       time.Duration `mapstructure:"uploadDelay"`
	UploadRetries     int           `mapstructure:"uploadRetries"`
	MaxUploadAttempts int           `mapstructure:"maxUploadAttempts"`
	CachedOnly        bool          `mapstructure:"cachedOnly"`

	// Storage and logging
	DataDir       string `mapstructure:"dataDir"`
	LogLevel      string `mapstructure:"logLevel"`
	LogPath       string `mapstructure:"logPath"`
	LogMaxSize    int    `mapstructure:"logMaxSize"`
	LogMaxBackups int    `mapstructure:"logMaxBackups"`
}

// MinYear returns the oldest release year that still qualifies. A lookback
// of zero disables the year filter entirely.
func (c *Config) MinYear(now time.Time) int {
	if c.YearLookback <= 0 {
		return 0
	}
	return now.Year() - c.YearLookback
}

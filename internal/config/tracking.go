package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tracking defaults file.
const DefaultConfigPath = "config/tracking.defaults.json"

// TrackingConfig holds the settings used by the track tooling: quality
// selection cuts, extrapolation planes, plotting and storage.
// Fields are pointers so that a partial JSON file only overrides what it
// names; the Get* methods supply defaults for the rest.
type TrackingConfig struct {
	// Selection
	MaxChi2OverNDF  *float64 `json:"max_chi2_over_ndf,omitempty"`
	MinPointsForFit *int     `json:"min_points_for_fit,omitempty"`
	RequireValid    *bool    `json:"require_valid,omitempty"`

	// Extrapolation reference planes (mm, global z)
	StationZMM []float64 `json:"station_z_mm,omitempty"`

	// Plotting
	PullHistogramBins  *int     `json:"pull_histogram_bins,omitempty"`
	PullHistogramRange *float64 `json:"pull_histogram_range,omitempty"`
	PlotWidthInches    *float64 `json:"plot_width_inches,omitempty"`
	PlotHeightInches   *float64 `json:"plot_height_inches,omitempty"`

	// Storage
	DBPath *string `json:"db_path,omitempty"`

	// Logging
	LogDebug *bool `json:"log_debug,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTrackingConfig returns a TrackingConfig with all fields unset.
func EmptyTrackingConfig() *TrackingConfig {
	return &TrackingConfig{}
}

// DefaultTrackingConfig returns a config with every field set to its
// built-in default.
func DefaultTrackingConfig() *TrackingConfig {
	empty := EmptyTrackingConfig()
	return &TrackingConfig{
		MaxChi2OverNDF:     ptrFloat64(empty.GetMaxChi2OverNDF()),
		MinPointsForFit:    ptrInt(empty.GetMinPointsForFit()),
		RequireValid:       ptrBool(empty.GetRequireValid()),
		StationZMM:         empty.GetStationZMM(),
		PullHistogramBins:  ptrInt(empty.GetPullHistogramBins()),
		PullHistogramRange: ptrFloat64(empty.GetPullHistogramRange()),
		PlotWidthInches:    ptrFloat64(empty.GetPlotWidthInches()),
		PlotHeightInches:   ptrFloat64(empty.GetPlotHeightInches()),
		DBPath:             ptrString(empty.GetDBPath()),
		LogDebug:           ptrBool(empty.GetLogDebug()),
	}
}

// LoadTrackingConfig loads a TrackingConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file fall back to defaults through the Get* methods.
func LoadTrackingConfig(path string) (*TrackingConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTrackingConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *TrackingConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/storage/sqlite/
	}
	for _, path := range candidates {
		if cfg, err := LoadTrackingConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are usable.
func (c *TrackingConfig) Validate() error {
	if c.MaxChi2OverNDF != nil && *c.MaxChi2OverNDF <= 0 {
		return fmt.Errorf("max_chi2_over_ndf must be positive, got %f", *c.MaxChi2OverNDF)
	}
	if c.MinPointsForFit != nil && *c.MinPointsForFit < 0 {
		return fmt.Errorf("min_points_for_fit must be non-negative, got %d", *c.MinPointsForFit)
	}
	if c.PullHistogramBins != nil && *c.PullHistogramBins <= 0 {
		return fmt.Errorf("pull_histogram_bins must be positive, got %d", *c.PullHistogramBins)
	}
	if c.PullHistogramRange != nil && *c.PullHistogramRange <= 0 {
		return fmt.Errorf("pull_histogram_range must be positive, got %f", *c.PullHistogramRange)
	}
	if c.PlotWidthInches != nil && *c.PlotWidthInches <= 0 {
		return fmt.Errorf("plot_width_inches must be positive, got %f", *c.PlotWidthInches)
	}
	if c.PlotHeightInches != nil && *c.PlotHeightInches <= 0 {
		return fmt.Errorf("plot_height_inches must be positive, got %f", *c.PlotHeightInches)
	}
	if c.DBPath != nil && *c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	return nil
}

// GetMaxChi2OverNDF returns the max_chi2_over_ndf value or the default.
func (c *TrackingConfig) GetMaxChi2OverNDF() float64 {
	if c.MaxChi2OverNDF == nil {
		return 10.0
	}
	return *c.MaxChi2OverNDF
}

// GetMinPointsForFit returns the min_points_for_fit value or the default.
func (c *TrackingConfig) GetMinPointsForFit() int {
	if c.MinPointsForFit == nil {
		return 3 // smallest count with NDF > 0
	}
	return *c.MinPointsForFit
}

// GetRequireValid returns the require_valid value or the default.
func (c *TrackingConfig) GetRequireValid() bool {
	if c.RequireValid == nil {
		return true
	}
	return *c.RequireValid
}

// GetStationZMM returns a copy of station_z_mm or the default planes.
func (c *TrackingConfig) GetStationZMM() []float64 {
	if len(c.StationZMM) == 0 {
		return []float64{212550, 219550}
	}
	out := make([]float64, len(c.StationZMM))
	copy(out, c.StationZMM)
	return out
}

// GetPullHistogramBins returns the pull_histogram_bins value or the default.
func (c *TrackingConfig) GetPullHistogramBins() int {
	if c.PullHistogramBins == nil {
		return 40
	}
	return *c.PullHistogramBins
}

// GetPullHistogramRange returns the pull_histogram_range value or the default.
// Histograms cover [-range, +range].
func (c *TrackingConfig) GetPullHistogramRange() float64 {
	if c.PullHistogramRange == nil {
		return 5.0
	}
	return *c.PullHistogramRange
}

// GetPlotWidthInches returns the plot_width_inches value or the default.
func (c *TrackingConfig) GetPlotWidthInches() float64 {
	if c.PlotWidthInches == nil {
		return 8.0
	}
	return *c.PlotWidthInches
}

// GetPlotHeightInches returns the plot_height_inches value or the default.
func (c *TrackingConfig) GetPlotHeightInches() float64 {
	if c.PlotHeightInches == nil {
		return 5.0
	}
	return *c.PlotHeightInches
}

// GetDBPath returns the db_path value or the default.
func (c *TrackingConfig) GetDBPath() string {
	if c.DBPath == nil {
		return "pixeltrack.db"
	}
	return *c.DBPath
}

// GetLogDebug returns the log_debug value or the default.
func (c *TrackingConfig) GetLogDebug() bool {
	if c.LogDebug == nil {
		return false
	}
	return *c.LogDebug
}

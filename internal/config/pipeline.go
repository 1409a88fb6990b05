package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/banshee-data/myo.mouse/internal/emg"
)

// DefaultConfigPath is the path to the canonical pipeline defaults file.
const DefaultConfigPath = "config/pipeline.defaults.json"

// Feature groups recognised by the feature extractor. Kept here (rather than
// imported) so the config package stays a leaf.
var knownFeatureSets = map[string]bool{"HTD": true, "LS4": true, "AMP": true, "ALL": true}

// PipelineConfig is the root configuration of the online control loop and of
// offline training. Every field is optional; Get* methods supply defaults.
type PipelineConfig struct {
	// Acquisition
	ChannelCount   *int     `json:"channel_count,omitempty"`
	SampleRateHz   *float64 `json:"sample_rate_hz,omitempty"`
	BufferCapacity *int     `json:"buffer_capacity,omitempty"`
	StallGrace     *string  `json:"stall_grace_period,omitempty"` // duration string like "500ms"

	// Segmentation
	WindowSize      *int `json:"window_size,omitempty"`
	WindowIncrement *int `json:"window_increment,omitempty"`

	// Features
	FeatureSet    *string  `json:"feature_set,omitempty"`
	WAMPThreshold *float64 `json:"wamp_threshold,omitempty"`

	// Classifier
	MinExamplesPerClass *int     `json:"min_examples_per_class,omitempty"`
	Regularization      *float64 `json:"regularization,omitempty"`

	// Gate
	RejectionThreshold *float64 `json:"rejection_threshold,omitempty"`
	NeutralClass       *string  `json:"neutral_class,omitempty"`
	MajorityVote       *int     `json:"majority_vote,omitempty"`

	// Motion
	ProportionalEnabled *bool                 `json:"proportional_enabled,omitempty"`
	BaseSpeed           *float64              `json:"base_speed,omitempty"`
	MaxSpeed            *float64              `json:"max_speed,omitempty"`
	ActuationRateHz     *float64              `json:"actuation_rate_hz,omitempty"`
	Smoothing           *float64              `json:"smoothing,omitempty"`
	Directions          map[string][2]float64 `json:"directions,omitempty"`
}

// EmptyPipelineConfig returns a PipelineConfig with every field unset.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// DefaultDirections maps the five trained gestures to pointer directions:
// hand close moves down, hand open up, no motion rests, wrist extension
// right and wrist flexion left. Screen Y grows downwards.
func DefaultDirections() map[string][2]float64 {
	return map[string][2]float64{
		"0": {0, 1},
		"1": {0, -1},
		"2": {0, 0},
		"3": {1, 0},
		"4": {-1, 0},
	}
}

// LoadPipelineConfig loads a PipelineConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file keep their defaults, so partial configs are safe.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
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

	cfg := EmptyPipelineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching the current directory and its parents. Intended for test setup.
func MustLoadDefaultConfig() *PipelineConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/emg/pipeline/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadPipelineConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the effective (defaulted) values. Every failure wraps
// emg.ErrConfiguration.
func (c *PipelineConfig) Validate() error {
	size, inc := c.GetWindowSize(), c.GetWindowIncrement()
	if size <= 0 {
		return fmt.Errorf("window_size must be positive, got %d: %w", size, emg.ErrConfiguration)
	}
	if inc <= 0 || inc > size {
		return fmt.Errorf("window_increment must be in (0, window_size=%d], got %d: %w", size, inc, emg.ErrConfiguration)
	}

	if t := c.GetRejectionThreshold(); math.IsNaN(t) || t < 0 || t >= 1 {
		return fmt.Errorf("rejection_threshold must be in [0,1), got %v: %w", t, emg.ErrConfiguration)
	}

	if fs := c.GetFeatureSet(); !knownFeatureSets[fs] {
		return fmt.Errorf("unknown feature_set %q: %w", fs, emg.ErrConfiguration)
	}

	if n := c.GetChannelCount(); n <= 0 {
		return fmt.Errorf("channel_count must be positive, got %d: %w", n, emg.ErrConfiguration)
	}
	if r := c.GetSampleRateHz(); r <= 0 {
		return fmt.Errorf("sample_rate_hz must be positive, got %v: %w", r, emg.ErrConfiguration)
	}
	if r := c.GetActuationRateHz(); r <= 0 {
		return fmt.Errorf("actuation_rate_hz must be positive, got %v: %w", r, emg.ErrConfiguration)
	}
	if n := c.GetBufferCapacity(); n < size {
		return fmt.Errorf("buffer_capacity %d smaller than window_size %d: %w", n, size, emg.ErrConfiguration)
	}

	maxSpeed, base := c.GetMaxSpeed(), c.GetBaseSpeed()
	if maxSpeed <= 0 {
		return fmt.Errorf("max_speed must be positive, got %v: %w", maxSpeed, emg.ErrConfiguration)
	}
	if base < 0 || base > maxSpeed {
		return fmt.Errorf("base_speed must be in [0, max_speed=%v], got %v: %w", maxSpeed, base, emg.ErrConfiguration)
	}
	if s := c.GetSmoothing(); s < 0 || s >= 1 {
		return fmt.Errorf("smoothing must be in [0,1), got %v: %w", s, emg.ErrConfiguration)
	}
	if n := c.GetMajorityVote(); n < 0 {
		return fmt.Errorf("majority_vote must be non-negative, got %d: %w", n, emg.ErrConfiguration)
	}
	if n := c.GetMinExamplesPerClass(); n < 2 {
		return fmt.Errorf("min_examples_per_class must be at least 2, got %d: %w", n, emg.ErrConfiguration)
	}
	if r := c.GetRegularization(); r < 0 {
		return fmt.Errorf("regularization must be non-negative, got %v: %w", r, emg.ErrConfiguration)
	}

	if c.StallGrace != nil && *c.StallGrace != "" {
		if _, err := time.ParseDuration(*c.StallGrace); err != nil {
			return fmt.Errorf("invalid stall_grace_period '%s': %v: %w", *c.StallGrace, err, emg.ErrConfiguration)
		}
	}

	dirs := c.GetDirections()
	if len(dirs) == 0 {
		return fmt.Errorf("directions must not be empty: %w", emg.ErrConfiguration)
	}
	if _, ok := dirs[c.GetNeutralClass()]; !ok {
		return fmt.Errorf("neutral_class %q has no direction entry: %w", c.GetNeutralClass(), emg.ErrConfiguration)
	}
	for class, d := range dirs {
		if math.IsNaN(d[0]) || math.IsNaN(d[1]) || math.IsInf(d[0], 0) || math.IsInf(d[1], 0) {
			return fmt.Errorf("direction for class %q is not finite: %w", class, emg.ErrConfiguration)
		}
	}

	return nil
}

// GetChannelCount returns channel_count or the default (8, one Myo armband).
func (c *PipelineConfig) GetChannelCount() int {
	if c.ChannelCount == nil {
		return 8
	}
	return *c.ChannelCount
}

// GetSampleRateHz returns sample_rate_hz or the default.
func (c *PipelineConfig) GetSampleRateHz() float64 {
	if c.SampleRateHz == nil {
		return 200
	}
	return *c.SampleRateHz
}

// GetBufferCapacity returns buffer_capacity or the default.
func (c *PipelineConfig) GetBufferCapacity() int {
	if c.BufferCapacity == nil {
		return 4096
	}
	return *c.BufferCapacity
}

// GetStallGrace parses and returns stall_grace_period.
func (c *PipelineConfig) GetStallGrace() time.Duration {
	if c.StallGrace == nil || *c.StallGrace == "" {
		return 500 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.StallGrace)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// GetWindowSize returns window_size or the default.
func (c *PipelineConfig) GetWindowSize() int {
	if c.WindowSize == nil {
		return 40
	}
	return *c.WindowSize
}

// GetWindowIncrement returns window_increment or the default.
func (c *PipelineConfig) GetWindowIncrement() int {
	if c.WindowIncrement == nil {
		return 20
	}
	return *c.WindowIncrement
}

// GetFeatureSet returns feature_set or the default.
func (c *PipelineConfig) GetFeatureSet() string {
	if c.FeatureSet == nil {
		return "LS4"
	}
	return *c.FeatureSet
}

// GetWAMPThreshold returns wamp_threshold or the default.
func (c *PipelineConfig) GetWAMPThreshold() float64 {
	if c.WAMPThreshold == nil {
		return 2e-3
	}
	return *c.WAMPThreshold
}

// GetMinExamplesPerClass returns min_examples_per_class or the default.
func (c *PipelineConfig) GetMinExamplesPerClass() int {
	if c.MinExamplesPerClass == nil {
		return 2
	}
	return *c.MinExamplesPerClass
}

// GetRegularization returns regularization or the default.
func (c *PipelineConfig) GetRegularization() float64 {
	if c.Regularization == nil {
		return 1e-6
	}
	return *c.Regularization
}

// GetRejectionThreshold returns rejection_threshold or the default.
func (c *PipelineConfig) GetRejectionThreshold() float64 {
	if c.RejectionThreshold == nil {
		return 0.9
	}
	return *c.RejectionThreshold
}

// GetNeutralClass returns neutral_class or the default.
func (c *PipelineConfig) GetNeutralClass() string {
	if c.NeutralClass == nil {
		return "2"
	}
	return *c.NeutralClass
}

// GetMajorityVote returns majority_vote or the default (disabled).
func (c *PipelineConfig) GetMajorityVote() int {
	if c.MajorityVote == nil {
		return 0
	}
	return *c.MajorityVote
}

// GetProportionalEnabled returns proportional_enabled or the default.
func (c *PipelineConfig) GetProportionalEnabled() bool {
	if c.ProportionalEnabled == nil {
		return false
	}
	return *c.ProportionalEnabled
}

// GetBaseSpeed returns base_speed (pixels per second) or the default.
func (c *PipelineConfig) GetBaseSpeed() float64 {
	if c.BaseSpeed == nil {
		return 50
	}
	return *c.BaseSpeed
}

// GetMaxSpeed returns max_speed (pixels per second) or the default.
func (c *PipelineConfig) GetMaxSpeed() float64 {
	if c.MaxSpeed == nil {
		return 200
	}
	return *c.MaxSpeed
}

// GetActuationRateHz returns actuation_rate_hz or the default.
func (c *PipelineConfig) GetActuationRateHz() float64 {
	if c.ActuationRateHz == nil {
		return 60
	}
	return *c.ActuationRateHz
}

// GetActuationPeriod returns the actuation tick period.
func (c *PipelineConfig) GetActuationPeriod() time.Duration {
	return time.Duration(float64(time.Second) / c.GetActuationRateHz())
}

// GetSmoothing returns smoothing or the default (disabled).
func (c *PipelineConfig) GetSmoothing() float64 {
	if c.Smoothing == nil {
		return 0
	}
	return *c.Smoothing
}

// GetDirections returns directions or the default gesture map.
func (c *PipelineConfig) GetDirections() map[string][2]float64 {
	if len(c.Directions) == 0 {
		return DefaultDirections()
	}
	return c.Directions
}

// Classes returns the class labels named in the direction map, sorted.
func (c *PipelineConfig) Classes() []string {
	dirs := c.GetDirections()
	out := make([]string, 0, len(dirs))
	for k := range dirs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

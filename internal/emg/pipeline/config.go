package pipeline

import (
	"time"

	"github.com/banshee-data/myo.mouse/internal/config"
	"github.com/banshee-data/myo.mouse/internal/emg/l3features"
)

// Config holds the resolved settings of one online session.
type Config struct {
	WindowSize         int
	WindowIncrement    int
	FeatureSet         string
	FeatureParams      l3features.Params
	RejectionThreshold float64
	NeutralClass       string
	MajorityVote       int
	Directions         map[string][2]float64
	BaseSpeed          float64
	MaxSpeed           float64
	Proportional       bool
	ActuationPeriod    time.Duration
	Smoothing          float64
	StallGrace         time.Duration
}

// ConfigFrom resolves a loaded configuration file into a Config, filling
// unset fields with defaults.
func ConfigFrom(c *config.PipelineConfig) Config {
	params := l3features.DefaultParams()
	params.WAMPThreshold = c.GetWAMPThreshold()
	return Config{
		WindowSize:         c.GetWindowSize(),
		WindowIncrement:    c.GetWindowIncrement(),
		FeatureSet:         c.GetFeatureSet(),
		FeatureParams:      params,
		RejectionThreshold: c.GetRejectionThreshold(),
		NeutralClass:       c.GetNeutralClass(),
		MajorityVote:       c.GetMajorityVote(),
		Directions:         c.GetDirections(),
		BaseSpeed:          c.GetBaseSpeed(),
		MaxSpeed:           c.GetMaxSpeed(),
		Proportional:       c.GetProportionalEnabled(),
		ActuationPeriod:    c.GetActuationPeriod(),
		Smoothing:          c.GetSmoothing(),
		StallGrace:         c.GetStallGrace(),
	}
}

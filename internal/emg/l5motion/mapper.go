package l5motion

import (
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/myo.mouse/internal/emg"
)

// Mapper converts a class and intensity into a velocity. It is stateless.
type Mapper struct {
	directions   map[string][2]float64 // unit vectors, or zero for rest
	baseSpeed    float64
	maxSpeed     float64
	proportional bool
}

// NewMapper normalises directions to unit length. A zero vector marks a
// rest class. Speeds are pixels per second.
func NewMapper(directions map[string][2]float64, baseSpeed, maxSpeed float64, proportional bool) (*Mapper, error) {
	if baseSpeed < 0 || maxSpeed <= 0 || baseSpeed > maxSpeed {
		return nil, fmt.Errorf("speeds base=%v max=%v invalid: %w", baseSpeed, maxSpeed, emg.ErrConfiguration)
	}
	m := &Mapper{
		directions:   make(map[string][2]float64, len(directions)),
		baseSpeed:    baseSpeed,
		maxSpeed:     maxSpeed,
		proportional: proportional,
	}
	for class, d := range directions {
		n := math.Hypot(d[0], d[1])
		switch {
		case math.IsNaN(n) || math.IsInf(n, 0):
			return nil, fmt.Errorf("direction for class %q is not finite: %w", class, emg.ErrConfiguration)
		case n == 0:
			m.directions[class] = [2]float64{}
		default:
			m.directions[class] = [2]float64{d[0] / n, d[1] / n}
		}
	}
	return m, nil
}

// Classes returns the mapped classes in sorted order.
func (m *Mapper) Classes() []string {
	out := make([]string, 0, len(m.directions))
	for c := range m.directions {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Proportional reports whether intensity scales the speed.
func (m *Mapper) Proportional() bool { return m.proportional }

// Map returns the velocity for class. Unknown classes map to zero.
func (m *Mapper) Map(class string, intensity float64) emg.ControlCommand {
	d, ok := m.directions[class]
	if !ok {
		return emg.ZeroCommand
	}
	speed := m.baseSpeed
	if m.proportional {
		speed *= IntensityScale(intensity)
	}
	speed = math.Min(math.Max(speed, 0), m.maxSpeed)
	return emg.ControlCommand{VX: d[0] * speed, VY: d[1] * speed}
}

// IntensityScale maps a calibrated intensity to [0,1]. It is monotonic and
// saturates at 1; NaN maps to 0.
func IntensityScale(intensity float64) float64 {
	if math.IsNaN(intensity) || intensity <= 0 {
		return 0
	}
	if intensity >= 1 {
		return 1
	}
	return intensity
}

package l5motion

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/myo.mouse/internal/emg"
)

// Actuator applies the current command once per actuation tick.
type Actuator interface {
	Apply(cmd emg.ControlCommand) error
}

// Pointer moves the on-screen pointer by whole pixels.
type Pointer interface {
	Move(dx, dy int) error
}

// Commander sends a line to a device, e.g. a serialmux.SerialMux.
type Commander interface {
	SendCommand(command string) error
}

// SerialPointer drives a USB HID bridge that accepts "M <dx> <dy>" lines.
type SerialPointer struct {
	dev Commander
}

// NewSerialPointer returns a pointer writing to dev.
func NewSerialPointer(dev Commander) *SerialPointer {
	return &SerialPointer{dev: dev}
}

// Move implements Pointer.
func (p *SerialPointer) Move(dx, dy int) error {
	return p.dev.SendCommand(fmt.Sprintf("M %d %d", dx, dy))
}

// Integrator is an Actuator that integrates velocity over the actuation
// period into whole-pixel pointer moves. Fractional pixels carry over to
// the next tick so slow speeds still move the pointer.
type Integrator struct {
	pointer   Pointer
	dt        float64 // seconds per tick
	smoothing float64 // EMA weight of the previous velocity, in [0,1)

	mu     sync.Mutex
	vx, vy float64
	rx, ry float64
	moved  [2]int64
}

// NewIntegrator returns an integrator ticking every period.
func NewIntegrator(p Pointer, period time.Duration, smoothing float64) (*Integrator, error) {
	if period <= 0 {
		return nil, fmt.Errorf("actuation period %v must be positive: %w", period, emg.ErrConfiguration)
	}
	if math.IsNaN(smoothing) || smoothing < 0 || smoothing >= 1 {
		return nil, fmt.Errorf("smoothing %v outside [0,1): %w", smoothing, emg.ErrConfiguration)
	}
	return &Integrator{pointer: p, dt: period.Seconds(), smoothing: smoothing}, nil
}

// Apply implements Actuator. A zero command stops the pointer at once and
// discards any smoothed velocity and sub-pixel remainder.
func (in *Integrator) Apply(cmd emg.ControlCommand) error {
	in.mu.Lock()
	if cmd.IsZero() {
		in.vx, in.vy, in.rx, in.ry = 0, 0, 0, 0
		in.mu.Unlock()
		return nil
	}
	s := in.smoothing
	in.vx = s*in.vx + (1-s)*cmd.VX
	in.vy = s*in.vy + (1-s)*cmd.VY

	fx := in.vx*in.dt + in.rx
	fy := in.vy*in.dt + in.ry
	ix, iy := math.Trunc(fx), math.Trunc(fy)
	in.rx, in.ry = fx-ix, fy-iy
	dx, dy := int(ix), int(iy)
	in.moved[0] += int64(dx)
	in.moved[1] += int64(dy)
	in.mu.Unlock()

	if dx == 0 && dy == 0 {
		return nil
	}
	return in.pointer.Move(dx, dy)
}

// Velocity returns the smoothed velocity currently being applied.
func (in *Integrator) Velocity() emg.ControlCommand {
	in.mu.Lock()
	defer in.mu.Unlock()
	return emg.ControlCommand{VX: in.vx, VY: in.vy}
}

// Displacement returns the total pixels moved since creation.
func (in *Integrator) Displacement() (dx, dy int64) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.moved[0], in.moved[1]
}

// Recorder captures applied commands and pointer moves. It satisfies both
// Actuator and Pointer.
type Recorder struct {
	mu       sync.Mutex
	commands []emg.ControlCommand
	moves    [][2]int
}

// Apply implements Actuator.
func (r *Recorder) Apply(cmd emg.ControlCommand) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, cmd)
	return nil
}

// Move implements Pointer.
func (r *Recorder) Move(dx, dy int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moves = append(r.moves, [2]int{dx, dy})
	return nil
}

// Commands returns a copy of the applied commands.
func (r *Recorder) Commands() []emg.ControlCommand {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]emg.ControlCommand(nil), r.commands...)
}

// Moves returns a copy of the pointer moves.
func (r *Recorder) Moves() [][2]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]int(nil), r.moves...)
}

// Last returns the most recent command, or false if none was applied.
func (r *Recorder) Last() (emg.ControlCommand, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.commands) == 0 {
		return emg.ControlCommand{}, false
	}
	return r.commands[len(r.commands)-1], true
}

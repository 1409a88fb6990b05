// Package l5motion turns classifier predictions into pointer motion.
//
// The Gate rejects low-confidence predictions, the Mapper converts an
// accepted class and intensity into a bounded velocity, and an Actuator
// applies the current velocity on every actuation tick.
package l5motion

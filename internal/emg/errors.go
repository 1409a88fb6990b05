package emg

import "errors"

var (
	// ErrConfiguration marks invalid settings. Fatal; surfaced before RUNNING.
	ErrConfiguration = errors.New("configuration error")

	// ErrAcquisitionStall marks a degraded stream: no samples within the
	// grace period. Not fatal; the loop keeps running with neutral commands.
	ErrAcquisitionStall = errors.New("acquisition stall")

	// ErrTrainingData marks unusable training input. Fatal to training only.
	ErrTrainingData = errors.New("training data error")

	// ErrInference marks a window whose decision had to be discarded.
	ErrInference = errors.New("inference failure")

	// ErrInvalidTransition is returned for lifecycle calls made in the wrong state.
	ErrInvalidTransition = errors.New("invalid pipeline state transition")
)

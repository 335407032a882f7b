// Package state carries the training-run context the validator needs to make
// decisions. It is constructed by the entrypoint and passed explicitly, never
// read from globals.
package state

import "tuner-backend/internal/diffusion"

// RunState is a snapshot of where the fine-tuning run currently stands.
type RunState struct {
	// GlobalStep counts optimizer steps since the start of training,
	// including any steps replayed from a resumed checkpoint.
	GlobalStep int
	// ResumeStep is the global step the run resumed from, 0 for a fresh run.
	ResumeStep int
	// StepInEpoch counts batches within the current accumulation window.
	StepInEpoch int
	// GradAccumSteps is the gradient accumulation interval.
	GradAccumSteps int

	Family diffusion.ModelFamily

	// MainProcess is true on the process authorized to write artifacts. In
	// multi-process runs exactly one process has it set.
	MainProcess bool
	// Distributed is true when a sharded-optimizer launcher coordinates the
	// run; such launchers require every rank to enter validation together.
	Distributed bool

	Device    diffusion.Device
	Precision diffusion.DType
}

// AuthorizedToWrite reports whether this process should produce validation
// artifacts. Distributed launchers run validation on every rank, so they are
// always authorized; otherwise only the main process writes.
func (s *RunState) AuthorizedToWrite() bool {
	return s.Distributed || s.MainProcess
}

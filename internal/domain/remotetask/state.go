// Package remotetask models long running operations executed by an external
// workflow engine and observed locally through periodic status queries.
package remotetask

import "fmt"

// Link is the opaque URI or path identifying an in-flight remote task.
type Link string

// String returns the string representation of the Link.
func (l Link) String() string { return string(l) }

// IsZero reports whether the link is unset.
func (l Link) IsZero() bool { return l == "" }

// Stage is the coarse execution stage reported by the remote workflow engine.
type Stage string

const (
	// StageRunning indicates the remote task is still executing.
	StageRunning Stage = "RUNNING"

	// StageFinished indicates the remote task completed successfully.
	StageFinished Stage = "FINISHED"

	// StageFailed indicates the remote task reported an unrecoverable failure.
	StageFailed Stage = "FAILED"

	// StageCancelled indicates the remote task was cancelled before completion.
	StageCancelled Stage = "CANCELLED"
)

// String returns the string representation of the Stage.
func (s Stage) String() string { return string(s) }

// IsTerminal reports whether no further progress can be observed after s.
func (s Stage) IsTerminal() bool {
	switch s {
	case StageFinished, StageFailed, StageCancelled:
		return true
	default:
		return false
	}
}

// ParseStage converts a string to a Stage.
func ParseStage(s string) (Stage, error) {
	switch Stage(s) {
	case StageRunning, StageFinished, StageFailed, StageCancelled:
		return Stage(s), nil
	default:
		return "", fmt.Errorf("unknown remote task stage %q", s)
	}
}

// State is a single snapshot of a remote task returned by one status query.
// A State is never mutated; every poll produces a fresh value.
type State struct {
	stage          Stage
	substage       int
	hasSubstage    bool
	failureReason  string
	resultEntityID string
}

// StateOption customizes optional fields of a State.
type StateOption func(*State)

// WithSubstage records the substage ordinal the remote task has reached.
func WithSubstage(ordinal int) StateOption {
	return func(s *State) {
		s.substage = ordinal
		s.hasSubstage = true
	}
}

// WithFailureReason records the failure message reported by the remote task.
func WithFailureReason(reason string) StateOption {
	return func(s *State) { s.failureReason = reason }
}

// WithResultEntityID records the identifier of the entity the remote task produced.
func WithResultEntityID(id string) StateOption {
	return func(s *State) { s.resultEntityID = id }
}

// NewState creates a State for the given stage.
func NewState(stage Stage, opts ...StateOption) State {
	s := State{stage: stage}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Stage returns the remote stage.
func (s State) Stage() Stage { return s.stage }

// Substage returns the substage ordinal and whether one was reported.
func (s State) Substage() (int, bool) { return s.substage, s.hasSubstage }

// FailureReason returns the remote failure message, if any.
func (s State) FailureReason() string { return s.failureReason }

// ResultEntityID returns the identifier of the entity produced by the remote task, if any.
func (s State) ResultEntityID() string { return s.resultEntityID }

// IsTerminal reports whether the state ends monitoring.
func (s State) IsTerminal() bool { return s.stage.IsTerminal() }

func (s State) String() string {
	if s.hasSubstage {
		return fmt.Sprintf("%s(substage=%d)", s.stage, s.substage)
	}
	return s.stage.String()
}

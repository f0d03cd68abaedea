package remotetask

// Observation is the outcome of a single status query. It is a closed set:
// exactly one of Found or NotFound.
type Observation interface {
	isObservation()
}

// Found carries the state of a remote task record that exists.
type Found struct {
	State State
}

// NotFound reports that the remote task record is not visible yet. It is an
// expected transient condition while the remote store catches up.
type NotFound struct{}

func (Found) isObservation()    {}
func (NotFound) isObservation() {}

// Observed returns a Found observation for a state built from stage and opts.
func Observed(stage Stage, opts ...StateOption) Observation {
	return Found{State: NewState(stage, opts...)}
}

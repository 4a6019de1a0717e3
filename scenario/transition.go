package scenario

// transitions enumerates the legal lifecycle edges. Archiving is additionally
// allowed from any non-archived status as an administrative terminal override,
// handled in Validate rather than listed per-edge.
var transitions = map[Status][]Status{
	StatusDraft:      {StatusSubmitted},
	StatusSubmitted:  {StatusProcessing},
	StatusProcessing: {StatusEvaluated, StatusError},
	StatusEvaluated:  {StatusArchived},
	StatusError:      {StatusDraft, StatusArchived},
	StatusArchived:   {},
}

// Validate decides whether the requested transition is legal from the current
// status. It is pure: no side effects, safe to call from any goroutine.
func Validate(current, requested Status) error {
	if !current.IsValid() || !requested.IsValid() {
		return ErrInvalidStatus
	}
	if current == requested {
		return &IllegalTransitionError{Current: current, Requested: requested}
	}
	if current == StatusArchived {
		// Terminal sink: nothing leaves archived.
		return &IllegalTransitionError{Current: current, Requested: requested}
	}
	if requested == StatusArchived {
		return nil
	}
	for _, next := range transitions[current] {
		if next == requested {
			return nil
		}
	}
	return &IllegalTransitionError{Current: current, Requested: requested}
}

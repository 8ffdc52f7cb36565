package engine

// InternalError wraps errors whose source is the engine itself rather than
// the network or the caller.
type InternalError struct {
	err error
}

func (e InternalError) Error() string {
	return "engine: internal error: " + e.err.Error()
}

func (e InternalError) Unwrap() error { return e.err }

func wrapInternalError(err error) *InternalError {
	return &InternalError{err: err}
}

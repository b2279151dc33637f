package store

// RunError is an application-level failure reported by the server through a
// run.failed event, as opposed to a transport error or a user cancellation.
type RunError struct {
	Message string
	Code    string
}

func (e *RunError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

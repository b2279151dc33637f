package client

import "github.com/pkg/errors"

// ErrRunCancelled is set on the store when the user aborts a run. Consumers
// match it with errors.Is to avoid rendering a cancellation as a failure.
var ErrRunCancelled = errors.New("generation cancelled by user")

const (
	ErrStreamHTTPStatus = "E_STREAM_HTTP_STATUS"
	ErrStreamTransport  = "E_STREAM_TRANSPORT"
)

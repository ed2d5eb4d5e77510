package gateway

import "errors"

// ErrBackendUnavailable marks a failed or timed-out backend exchange, as
// opposed to a successful exchange that produced an empty answer.
var ErrBackendUnavailable = errors.New("llm backend unavailable")

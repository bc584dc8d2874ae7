package api

import (
	"errors"
	"net/http"

	"github.com/signalsfoundry/gridworld-simulator/internal/sim/state"
)

var (
	// ErrMalformedBody is returned when a request body cannot be decoded.
	ErrMalformedBody = errors.New("malformed request body")
	// ErrMissingField is returned when a required request field is absent.
	ErrMissingField = errors.New("missing required field")
	// ErrManualStepDisabled is returned by /api/step while the scheduling
	// loop owns stepping.
	ErrManualStepDisabled = errors.New("manual stepping is disabled")
)

// Error kinds reported in failure bodies.
const (
	KindUnknownNode     = "unknown_node"
	KindUnknownSegment  = "unknown_segment"
	KindInvalidArgument = "invalid_argument"
	KindDuplicateKey    = "duplicate_key"
	KindConflict        = "conflict"
	KindMethod          = "method_not_allowed"
	KindInternal        = "internal"
)

// StatusFor maps simulator errors onto an HTTP status and an error kind.
func StatusFor(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""

	case errors.Is(err, state.ErrUnknownNode):
		return http.StatusNotFound, KindUnknownNode

	case errors.Is(err, state.ErrUnknownSegment):
		return http.StatusNotFound, KindUnknownSegment

	case errors.Is(err, state.ErrInvalidArgument),
		errors.Is(err, ErrMalformedBody),
		errors.Is(err, ErrMissingField):
		return http.StatusBadRequest, KindInvalidArgument

	case errors.Is(err, state.ErrDuplicateKey):
		return http.StatusConflict, KindDuplicateKey

	case errors.Is(err, ErrManualStepDisabled):
		return http.StatusConflict, KindConflict

	default:
		return http.StatusInternalServerError, KindInternal
	}
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

// Request defaults.
const (
	DefaultSurgeFraction = 0.2
	DefaultFaultReason   = "ui"
)

// maxBodyBytes caps every request body.
const maxBodyBytes = 1 << 20

// DemandSurgeRequest is the body of POST /api/event/demand_surge.
type DemandSurgeRequest struct {
	NodeID string   `json:"node_id"`
	Frac   *float64 `json:"frac,omitempty"`
}

// Validate checks required fields.
func (r *DemandSurgeRequest) Validate() error {
	if strings.TrimSpace(r.NodeID) == "" {
		return fmt.Errorf("%w: node_id", ErrMissingField)
	}
	return nil
}

// Fraction returns frac or DefaultSurgeFraction when absent.
func (r *DemandSurgeRequest) Fraction() float64 {
	if r.Frac == nil {
		return DefaultSurgeFraction
	}
	return *r.Frac
}

// FaultRequest is the body of POST /api/event/fault.
type FaultRequest struct {
	SegID  string  `json:"seg_id"`
	Reason *string `json:"reason,omitempty"`
}

// Validate checks required fields.
func (r *FaultRequest) Validate() error {
	if strings.TrimSpace(r.SegID) == "" {
		return fmt.Errorf("%w: seg_id", ErrMissingField)
	}
	return nil
}

// ReasonOrDefault returns reason or DefaultFaultReason when absent or blank.
func (r *FaultRequest) ReasonOrDefault() string {
	if r.Reason == nil || strings.TrimSpace(*r.Reason) == "" {
		return DefaultFaultReason
	}
	return *r.Reason
}

// RecoverRequest is the body of POST /api/event/recover.
type RecoverRequest struct {
	SegID string `json:"seg_id"`
}

// Validate checks required fields.
func (r *RecoverRequest) Validate() error {
	if strings.TrimSpace(r.SegID) == "" {
		return fmt.Errorf("%w: seg_id", ErrMissingField)
	}
	return nil
}

// StepRequest is the optional body of POST /api/step. DT is in seconds.
type StepRequest struct {
	DT *float64 `json:"dt,omitempty"`
}

// Duration returns DT as a duration, or fallback when absent.
func (r *StepRequest) Duration(fallback time.Duration) (time.Duration, error) {
	if r.DT == nil {
		return fallback, nil
	}
	dt := *r.DT
	if math.IsNaN(dt) || math.IsInf(dt, 0) || dt <= 0 {
		return 0, fmt.Errorf("%w: dt must be a positive number of seconds", ErrMalformedBody)
	}
	return time.Duration(dt * float64(time.Second)), nil
}

// decodeJSON reads a single JSON object into dst. Unknown fields, trailing
// data and oversize bodies are rejected. An empty body is accepted only when
// allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			if allowEmpty {
				return nil
			}
			return fmt.Errorf("%w: empty body", ErrMalformedBody)
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: body exceeds %d bytes", ErrMalformedBody, tooLarge.Limit)
		}
		return fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: unexpected data after JSON object", ErrMalformedBody)
	}
	return nil
}

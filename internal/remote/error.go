package remote

import (
	"errors"
	"fmt"

	"github.com/roman-kulish/spindle-monitor/internal/spectrum"
)

// TransientFetchError is returned when a collector request fails at the transport level:
// network failure, timeout or a non-2xx response. The request may succeed when repeated.
type TransientFetchError struct {
	Action     Action
	Channel    spectrum.Channel
	StatusCode int // HTTP status, 0 when no response was received
	Err        error
}

func (e *TransientFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("collector %s (channel %s): unexpected status %d", e.Action, e.Channel, e.StatusCode)
	}
	return fmt.Sprintf("collector %s (channel %s): %v", e.Action, e.Channel, e.Err)
}

func (e *TransientFetchError) Unwrap() error {
	return e.Err
}

// MalformedResponseError is returned when the collector answered, but the body does not match the
// expected contract.
type MalformedResponseError struct {
	Action  Action
	Channel spectrum.Channel
	Reason  string
	Err     error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("collector %s (channel %s): malformed response: %s: %v", e.Action, e.Channel, e.Reason, e.Err)
	}
	return fmt.Sprintf("collector %s (channel %s): malformed response: %s", e.Action, e.Channel, e.Reason)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is, or wraps, a TransientFetchError.
func IsTransient(err error) bool {
	var te *TransientFetchError
	return errors.As(err, &te)
}

// IsMalformed reports whether err is, or wraps, a MalformedResponseError.
func IsMalformed(err error) bool {
	var me *MalformedResponseError
	return errors.As(err, &me)
}

// IsRecoverable reports whether the polling loop may carry on after err.
func IsRecoverable(err error) bool {
	return IsTransient(err) || IsMalformed(err)
}

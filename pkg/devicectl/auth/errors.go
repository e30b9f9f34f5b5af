package auth

import (
	"errors"
	"fmt"
)

var (
	ErrAuthorizationPending = errors.New("authorization pending")
	ErrSlowDown             = errors.New("slow down")
	// ErrTimedOut is returned when the deadline passes while authorization is
	// still pending.
	ErrTimedOut = errors.New("device code flow timed out")
)

// DeviceCodeRequestError reports a failed device authorization request.
// StatusCode is zero when no response was received.
type DeviceCodeRequestError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *DeviceCodeRequestError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("failed to get device code (status %d): %v", e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("failed to get device code: %v", e.Err)
	default:
		return fmt.Sprintf("failed to get device code (status %d): %s", e.StatusCode, e.Body)
	}
}

func (e *DeviceCodeRequestError) Unwrap() error { return e.Err }

// TokenRequestFailedError is the terminal error of the poll loop. Code and
// Description come from the token endpoint when it answered with an OAuth
// error; Err is set for transport and decoding failures.
type TokenRequestFailedError struct {
	StatusCode  int
	Code        string
	Description string
	Err         error
}

func (e *TokenRequestFailedError) Error() string {
	if e.Code != "" {
		if e.Description != "" {
			return fmt.Sprintf("token request failed: %s: %s", e.Code, e.Description)
		}
		return fmt.Sprintf("token request failed: %s", e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("token request failed: %v", e.Err)
	}
	return fmt.Sprintf("token request failed with status %d", e.StatusCode)
}

func (e *TokenRequestFailedError) Unwrap() error { return e.Err }

// Package generate wraps an external text-generation provider with a
// stop-contract, token clamping, and transient-error retry.
//
// Every generated unit of text is treated as untrusted: the gateway's job is
// to make provider failures loud and classifiable, not to repair content.
// Content repair belongs to the critic and postprocess packages.
package generate

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a generation failure.
type ErrorKind string

const (
	// KindTransient covers timeouts, rate limits, and connection
	// failures. Eligible for gateway-level retry with backoff.
	KindTransient ErrorKind = "transient"

	// KindPermanent covers malformed or empty responses and client
	// errors. Never retried at the gateway level.
	KindPermanent ErrorKind = "permanent"
)

// Error is a classified generation failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("generation error (%s): %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable generation error.
func Transient(err error) *Error { return &Error{Kind: KindTransient, Err: err} }

// Permanent wraps err as a non-retryable generation error.
func Permanent(err error) *Error { return &Error{Kind: KindPermanent, Err: err} }

// IsTransient reports whether err is a transient generation error.
func IsTransient(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Kind == KindTransient
}

// TokenUsage reports token spend for one call.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
}

// Total returns prompt plus completion tokens.
func (u TokenUsage) Total() int { return u.Prompt + u.Completion }

// Add accumulates another usage record.
func (u *TokenUsage) Add(other TokenUsage) {
	u.Prompt += other.Prompt
	u.Completion += other.Completion
}

// Request describes one generation call.
type Request struct {
	// Prompt is the user-turn content.
	Prompt string

	// System is stage-specific system text; the gateway appends the
	// format contract and stop sentinel to it before dispatch.
	System string

	// Model overrides the provider default when non-empty (per-stage
	// model routing).
	Model string

	// MaxTokens is the completion budget; clamped against the context
	// limit before dispatch. Zero means the gateway default.
	MaxTokens int

	// Temperature for this call. Negative means the gateway default.
	Temperature float64
}

// RawOutput is the untrusted result of one generation call.
type RawOutput struct {
	Text  string
	Model string
	Usage TokenUsage
}

// ProviderRequest is the fully resolved request handed to a Provider.
type ProviderRequest struct {
	Prompt        string
	System        string
	Model         string
	MaxTokens     int
	Temperature   float64
	StopSequences []string
}

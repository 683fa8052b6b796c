// Package ai defines the interface for remote chat-completion calls and
// provides an OpenRouter-backed implementation.
package ai

import (
	"context"
	"fmt"
)

// Completer is the interface the analysis pipeline uses to reach the remote
// model. The concrete implementation lives in openrouter.go.
// Tests inject a stub that returns canned responses.
type Completer interface {
	// Complete sends a two-message exchange (system persona, then the user
	// prompt) and returns the text content of the first choice.
	//
	// Implementations must be safe to call concurrently and must make exactly
	// one attempt. Every failure is reported as a *CallError.
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// ─── CALL ERRORS ──────────────────────────────────────────────────────────────

// Kind classifies a failed remote call.
type Kind string

const (
	KindTimeout   Kind = "timeout"   // request deadline exceeded
	KindTransport Kind = "transport" // network-level failure
	KindStatus    Kind = "status"    // endpoint answered with a non-success status
	KindProtocol  Kind = "protocol"  // success status but no usable choice
)

// CallError is the RemoteCallFailure returned by every Completer. Callers
// detect it with errors.As and substitute a fallback assessment.
type CallError struct {
	Kind       Kind
	StatusCode int // set for KindStatus
	Err        error
}

func (e *CallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ai: %s failure (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("ai: %s failure: %v", e.Kind, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

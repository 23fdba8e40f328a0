package llm

import (
	"context"
	"fmt"
)

// Completion is one system+user exchange with the model.
type Completion struct {
	System   string
	User     string
	JSONMode bool // ask the provider for a JSON object response
}

// Provider is the language-model dependency. Implementations return
// *ProviderError for transport, status and empty-response failures.
type Provider interface {
	Complete(ctx context.Context, c Completion) (string, error)
}

// ProviderError is a failed provider call.
type ProviderError struct {
	StatusCode int // 0 when the request never got a response
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("provider status %d: %s: %v", e.StatusCode, e.Message, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("provider status %d: %s", e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("provider: %s: %v", e.Message, e.Err)
	}
	return "provider: " + e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the same request may succeed.
func (e *ProviderError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode == 408 || e.StatusCode == 429 || e.StatusCode >= 500
}

// Package providers contains the LLM backends used for plan generation.
package providers

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Request is a single plan-generation request.
type Request struct {
	// System is the system prompt (tool catalog, plan schema, rules).
	System string

	// Prompt is the user-facing content to plan for.
	Prompt string

	// Model overrides the provider's default model when non-empty.
	Model string

	// MaxTokens caps the completion size. Zero uses the provider default.
	MaxTokens int
}

// Response is the provider's completion.
type Response struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Provider generates completions for the plan dispatcher.
type Provider interface {
	// Name identifies the provider ("anthropic", "openai").
	Name() string

	// Generate produces a completion. Implementations retry transient
	// failures internally and honor ctx cancellation.
	Generate(ctx context.Context, req Request) (*Response, error)
}

// ErrEmptyCompletion is returned when the model produced no text.
var ErrEmptyCompletion = errors.New("provider returned empty completion")

// base holds shared retry configuration for providers.
type base struct {
	name       string
	maxRetries int
	retryDelay time.Duration
}

func newBase(name string) base {
	return base{
		name:       name,
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// retry executes op with linear backoff while isRetryable approves.
func (b *base) retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if isRetryable == nil || !isRetryable(err) {
			return err
		}
		if attempt >= b.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.retryDelay * time.Duration(attempt)):
		}
	}
	return lastErr
}

// retryableAPIError reports whether an error looks transient: rate limits,
// server errors, or timeouts.
func retryableAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"rate limit", "429", "500", "502", "503", "504", "529", "overloaded", "timeout", "deadline exceeded", "connection reset"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

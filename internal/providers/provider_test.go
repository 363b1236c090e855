package providers

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	b := base{name: "test", maxRetries: 3, retryDelay: time.Millisecond}

	attempts := 0
	err := b.retry(context.Background(), func(error) bool { return true }, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("429 too many requests")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("retry() error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	b := base{name: "test", maxRetries: 3, retryDelay: time.Millisecond}

	attempts := 0
	wantErr := errors.New("401 unauthorized")
	err := b.retry(context.Background(), retryableAPIError, func() error {
		attempts++
		return wantErr
	})

	if !errors.Is(err, wantErr) {
		t.Fatalf("expected original error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	b := base{name: "test", maxRetries: 2, retryDelay: time.Millisecond}

	attempts := 0
	err := b.retry(context.Background(), func(error) bool { return true }, func() error {
		attempts++
		return errors.New("503 service unavailable")
	})

	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	b := base{name: "test", maxRetries: 5, retryDelay: 50 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.retry(ctx, func(error) bool { return true }, func() error {
		return errors.New("should not matter")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRetryableAPIError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"rate limit", errors.New("rate limit exceeded"), true},
		{"429", errors.New("status 429"), true},
		{"server error", errors.New("status 502 bad gateway"), true},
		{"overloaded", errors.New("Overloaded"), true},
		{"timeout", errors.New("request timeout"), true},
		{"deadline", errors.New("context deadline exceeded"), true},
		{"auth", errors.New("401 unauthorized"), false},
		{"bad request", errors.New("invalid request body"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryableAPIError(tt.err); got != tt.retryable {
				t.Errorf("retryableAPIError(%v) = %v, want %v", tt.err, got, tt.retryable)
			}
		})
	}
}

func TestNewAnthropicProviderValidation(t *testing.T) {
	if _, err := NewAnthropicProvider(AnthropicConfig{}); err == nil {
		t.Fatal("expected error for missing API key")
	}

	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "sk-ant-test"})
	if err != nil {
		t.Fatalf("NewAnthropicProvider() error: %v", err)
	}
	if p.Name() != "anthropic" {
		t.Errorf("unexpected name %q", p.Name())
	}
	if p.defaultModel != defaultAnthropicModel {
		t.Errorf("expected default model, got %q", p.defaultModel)
	}
}

func TestNewOpenAIProviderValidation(t *testing.T) {
	if _, err := NewOpenAIProvider(OpenAIConfig{}); err == nil {
		t.Fatal("expected error for missing API key")
	}

	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test", DefaultModel: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("NewOpenAIProvider() error: %v", err)
	}
	if p.Name() != "openai" {
		t.Errorf("unexpected name %q", p.Name())
	}
	if p.defaultModel != "gpt-4o-mini" {
		t.Errorf("unexpected model %q", p.defaultModel)
	}
}

// Package llm wraps the language model providers behind a single completion
// call and provides the retry-with-fallback helper every model consumer uses.
package llm

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

var (
	// ErrUnavailable is returned when no model is configured or reachable.
	ErrUnavailable = errors.New("llm: model unavailable")
	// ErrEmptyResponse is returned when the model answered with no text.
	ErrEmptyResponse = errors.New("llm: empty response")
)

// Client completes a single prompt. Implementations must honour timeout by
// returning an error that satisfies IsTimeout once it elapses.
type Client interface {
	Complete(ctx context.Context, prompt string, timeout time.Duration) (string, error)
}

// Disabled is a Client that never reaches a model.
type Disabled struct{}

func (Disabled) Complete(context.Context, string, time.Duration) (string, error) {
	return "", ErrUnavailable
}

// IsTimeout reports whether err came from an elapsed deadline rather than an
// outright failure.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// withTimeout derives the per-attempt context.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// ExtractJSON returns the outermost {...} object in text, tolerating prose or
// code fences around it.
func ExtractJSON(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

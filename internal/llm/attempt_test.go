package llm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"
)

type scripted struct {
	replies  []reply
	timeouts []time.Duration
}

type reply struct {
	text string
	err  error
}

func (s *scripted) Complete(_ context.Context, _ string, timeout time.Duration) (string, error) {
	s.timeouts = append(s.timeouts, timeout)
	if len(s.replies) == 0 {
		return "", errors.New("script exhausted")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r.text, r.err
}

var testPolicy = Policy{Timeouts: []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}}

func parseInt(s string) (int, error) { return strconv.Atoi(s) }
func fallbackInt() int               { return -1 }

func TestAttemptAdvancesOnTimeout(t *testing.T) {
	c := &scripted{replies: []reply{
		{err: fmt.Errorf("wrapped: %w", context.DeadlineExceeded)},
		{err: context.DeadlineExceeded},
		{text: "42"},
	}}
	v, out := Attempt(context.Background(), c, testPolicy, "p", parseInt, fallbackInt)
	if v != 42 || out.Fallback {
		t.Fatalf("got %d fallback=%v", v, out.Fallback)
	}
	if out.Attempts != 3 {
		t.Errorf("attempts: got %d", out.Attempts)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}
	for i, d := range want {
		if c.timeouts[i] != d {
			t.Errorf("attempt %d timeout: got %v want %v", i, c.timeouts[i], d)
		}
	}
}

func TestAttemptStopsOnNonTimeoutError(t *testing.T) {
	c := &scripted{replies: []reply{{err: errors.New("refused")}, {text: "1"}}}
	v, out := Attempt(context.Background(), c, testPolicy, "p", parseInt, fallbackInt)
	if v != -1 || !out.Fallback {
		t.Fatalf("expected fallback, got %d", v)
	}
	if out.Attempts != 1 || out.TimedOut {
		t.Errorf("attempts=%d timedOut=%v", out.Attempts, out.TimedOut)
	}
}

func TestAttemptFallsBackOnUnparseableReply(t *testing.T) {
	c := &scripted{replies: []reply{{text: "not a number"}}}
	v, out := Attempt(context.Background(), c, testPolicy, "p", parseInt, fallbackInt)
	if v != -1 || !out.Fallback || out.Err == nil {
		t.Fatalf("got %d %+v", v, out)
	}
}

func TestAttemptExhaustsScheduleOnTimeouts(t *testing.T) {
	c := &scripted{replies: []reply{
		{err: context.DeadlineExceeded},
		{err: context.DeadlineExceeded},
		{err: context.DeadlineExceeded},
	}}
	_, out := Attempt(context.Background(), c, testPolicy, "p", parseInt, fallbackInt)
	if !out.Fallback || !out.TimedOut || out.Attempts != 3 {
		t.Fatalf("got %+v", out)
	}
}

func TestAttemptWithoutClient(t *testing.T) {
	v, out := Attempt[int](context.Background(), nil, testPolicy, "p", parseInt, fallbackInt)
	if v != -1 || !errors.Is(out.Err, ErrUnavailable) || out.Attempts != 0 {
		t.Fatalf("got %d %+v", v, out)
	}
	_, out = Attempt(context.Background(), Disabled{}, testPolicy, "p", parseInt, fallbackInt)
	if !errors.Is(out.Err, ErrUnavailable) || out.Attempts != 1 {
		t.Fatalf("disabled client: %+v", out)
	}
}

func TestExtractJSON(t *testing.T) {
	got, ok := ExtractJSON("Sure!\n```json\n{\"a\": {\"b\": 1}}\n```")
	if !ok || got != `{"a": {"b": 1}}` {
		t.Fatalf("got %q %v", got, ok)
	}
	if _, ok := ExtractJSON("no json here"); ok {
		t.Error("expected no match")
	}
}

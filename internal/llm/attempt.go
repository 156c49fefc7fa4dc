package llm

import (
	"context"
	"time"
)

// Policy is the progressive timeout schedule for one logical model call.
// Each entry is one attempt; an attempt that times out moves on to the next
// entry, any other failure ends the schedule.
type Policy struct {
	Timeouts []time.Duration
	Pause    time.Duration
}

// DefaultPolicy waits 60s, then 300s, then 1500s.
var DefaultPolicy = Policy{
	Timeouts: []time.Duration{60 * time.Second, 300 * time.Second, 1500 * time.Second},
	Pause:    2 * time.Second,
}

// Outcome describes how a call resolved.
type Outcome struct {
	Attempts int
	Fallback bool
	TimedOut bool
	Err      error
	Elapsed  time.Duration
}

// Attempt sends prompt to client following policy and parses the reply. When
// the schedule is exhausted, the model fails, or parse rejects the reply, the
// value of fallback is returned instead. Attempt never returns an error: the
// Outcome records what happened.
func Attempt[T any](ctx context.Context, client Client, policy Policy, prompt string, parse func(string) (T, error), fallback func() T) (T, Outcome) {
	var out Outcome
	start := time.Now()

	if client == nil || len(policy.Timeouts) == 0 {
		out.Fallback = true
		out.Err = ErrUnavailable
		out.Elapsed = time.Since(start)
		return fallback(), out
	}

	for i, timeout := range policy.Timeouts {
		out.Attempts++
		text, err := client.Complete(ctx, prompt, timeout)
		if err == nil {
			v, perr := parse(text)
			if perr == nil {
				out.Err = nil
				out.TimedOut = false
				out.Elapsed = time.Since(start)
				return v, out
			}
			err = perr
		}
		out.Err = err
		out.TimedOut = IsTimeout(err)
		if !out.TimedOut || ctx.Err() != nil {
			break
		}
		if i < len(policy.Timeouts)-1 && policy.Pause > 0 {
			select {
			case <-ctx.Done():
				out.Err = ctx.Err()
				out.Fallback = true
				out.Elapsed = time.Since(start)
				return fallback(), out
			case <-time.After(policy.Pause):
			}
		}
	}

	out.Fallback = true
	out.Elapsed = time.Since(start)
	return fallback(), out
}

// Package source loads batches of already-fetched messages.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xaenox/mail-pilot/internal/models"
)

// Source yields the messages received within lookback. A zero lookback
// means every message.
type Source interface {
	Fetch(ctx context.Context, lookback time.Duration) ([]models.Message, error)
}

type envelope struct {
	Messages []models.Message `json:"messages" yaml:"messages"`
}

// FileSource reads a JSON or YAML batch file. The file holds either a list
// of messages or an object with a "messages" list.
type FileSource struct {
	path string
	now  func() time.Time
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path, now: time.Now}
}

func (s *FileSource) Fetch(ctx context.Context, lookback time.Duration) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	msgs, err := Decode(data, formatOf(s.path))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(s.path), err)
	}
	return Within(msgs, lookback, s.now()), nil
}

// Format is the encoding of a batch.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

func formatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// Decode parses a batch in either the list or the envelope shape.
func Decode(data []byte, format Format) ([]models.Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	switch format {
	case FormatYAML:
		var list []models.Message
		if err := yaml.Unmarshal(trimmed, &list); err == nil {
			return list, nil
		}
		var env envelope
		if err := yaml.Unmarshal(trimmed, &env); err != nil {
			return nil, err
		}
		return env.Messages, nil
	default:
		if trimmed[0] == '[' {
			var list []models.Message
			if err := json.Unmarshal(trimmed, &list); err != nil {
				return nil, err
			}
			return list, nil
		}
		var env envelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, err
		}
		return env.Messages, nil
	}
}

// Within keeps messages received after now-lookback. Messages without a
// receive time are kept.
func Within(msgs []models.Message, lookback time.Duration, now time.Time) []models.Message {
	if lookback <= 0 {
		return msgs
	}
	cutoff := now.Add(-lookback)
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ReceivedAt.IsZero() || !m.ReceivedAt.Before(cutoff) {
			out = append(out, m)
		}
	}
	return out
}

// Static serves a fixed batch.
type Static []models.Message

func (s Static) Fetch(_ context.Context, lookback time.Duration) ([]models.Message, error) {
	return Within(s, lookback, time.Now()), nil
}

package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const yamlBatch = `
messages:
  - id: "1"
    sender: alice@example.com
    subject: Lunch
    body: Are you free today?
    received_at: 2026-03-01T10:00:00Z
  - id: "2"
    sender: bob@example.com
    subject: Old news
    body: This is from last month.
    received_at: 2026-02-01T10:00:00Z
`

const jsonBatch = `[
  {"id": "1", "sender": "alice@example.com", "subject": "Lunch", "body": "Are you free?", "received_at": "2026-03-01T10:00:00Z", "labels": ["INBOX"]}
]`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileSourceYAMLEnvelopeWithLookback(t *testing.T) {
	s := NewFileSource(writeFile(t, "batch.yaml", yamlBatch))
	s.now = func() time.Time { return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) }

	all, err := s.Fetch(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[1].Subject != "Old news" {
		t.Fatalf("got %+v", all)
	}

	recent, err := s.Fetch(context.Background(), 48*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 || recent[0].ID != "1" {
		t.Fatalf("got %+v", recent)
	}
}

func TestFileSourceJSONList(t *testing.T) {
	msgs, err := NewFileSource(writeFile(t, "batch.json", jsonBatch)).Fetch(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Labels[0] != "INBOX" || msgs[0].ReceivedAt.Year() != 2026 {
		t.Fatalf("got %+v", msgs)
	}
}

func TestFileSourceErrors(t *testing.T) {
	if _, err := NewFileSource(filepath.Join(t.TempDir(), "missing.json")).Fetch(context.Background(), 0); err == nil {
		t.Error("expected missing file error")
	}
	if _, err := NewFileSource(writeFile(t, "bad.json", "{not json")).Fetch(context.Background(), 0); err == nil {
		t.Error("expected decode error")
	}
}

package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xaenox/mail-pilot/internal/models"
)

func TestMemoryStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		err := s.SaveRun(ctx, &models.RunRecord{ID: id, Method: "enhanced", Stage: "complete", StartedAt: base.Add(time.Duration(i) * time.Minute), Payload: []byte(`{"run_id":"` + id + `"}`)})
		if err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.GetRun(ctx, "b")
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Payload) != `{"run_id":"b"}` {
		t.Errorf("payload: %s", got.Payload)
	}
	got.Payload[0] = 'X'
	again, _ := s.GetRun(ctx, "b")
	if again.Payload[0] != '{' {
		t.Error("stored payload was modified through a returned copy")
	}

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" || runs[0].Payload != nil {
		t.Errorf("list: %+v", runs)
	}

	if _, err := s.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v", err)
	}
	if err := s.SaveRun(ctx, &models.RunRecord{}); err == nil {
		t.Error("expected error for empty id")
	}
}

func TestDatabaseConfigDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "mail", SSLMode: "disable"}
	if got := c.DSN(); got != "host=db port=5432 user=u password=p dbname=mail sslmode=disable" {
		t.Errorf("got %q", got)
	}
	c.URL = "postgres://u:p@db/mail"
	if c.DSN() != c.URL {
		t.Error("URL should take precedence")
	}
}

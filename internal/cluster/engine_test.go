package cluster

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/xaenox/mail-pilot/internal/llm"
	"github.com/xaenox/mail-pilot/internal/models"
)

var fastPolicy = llm.Policy{Timeouts: []time.Duration{time.Second}}

type fixedClient struct {
	mu      sync.Mutex
	answer  string
	err     error
	prompts []string
}

func (f *fixedClient) Complete(_ context.Context, prompt string, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return f.answer, f.err
}

func newTestEngine(t *testing.T, client llm.Client) *Engine {
	t.Helper()
	return NewEngine(client, fastPolicy, DefaultOptions(), zaptest.NewLogger(t))
}

func twoTopicBatch() []models.Message {
	var msgs []models.Message
	for _, id := range []string{"a1", "a2", "a3"} {
		msgs = append(msgs, models.Message{ID: id, Sender: "billing@acme.com", Subject: "Invoice payment due", Body: "Your invoice payment for billing is due this week."})
	}
	for _, id := range []string{"b1", "b2", "b3"} {
		msgs = append(msgs, models.Message{ID: id, Sender: "pat@partner.com", Subject: "Meeting schedule", Body: "Can we schedule a meeting? Please check the calendar agenda."})
	}
	return msgs
}

func labelsOf(as []models.CategoryAssignment) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = a.CategoryLabel
	}
	return out
}

func TestNoneMethodUsesFixedLabel(t *testing.T) {
	e := newTestEngine(t, nil)
	msgs := []models.Message{{ID: "1", Sender: "a@b.com", Subject: "hi", Body: "hello"}}
	as, ins, err := e.Categorize(context.Background(), msgs, MethodNone)
	if err != nil {
		t.Fatal(err)
	}
	if len(as) != 1 || as[0].CategoryLabel != DefaultLabel {
		t.Fatalf("got %+v", as)
	}
	for _, n := range ins.Notes {
		if strings.Contains(strings.ToLower(n), "cluster") {
			t.Errorf("unexpected clustering note %q", n)
		}
	}
}

func TestDuplicatesCollapseToOneCategory(t *testing.T) {
	e := newTestEngine(t, nil)
	var msgs []models.Message
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		msgs = append(msgs, models.Message{ID: id, Sender: "news@shop.com", Subject: "Weekend sale", Body: "Big discounts on shoes"})
	}
	as, ins, err := e.Categorize(context.Background(), msgs, MethodEnhanced)
	if err != nil {
		t.Fatal(err)
	}
	if len(ins.Distribution) != 1 || ins.Groups != 1 {
		t.Fatalf("expected one category, got %v", ins.Distribution)
	}
	if as[0].CategoryLabel != GeneralLabel {
		t.Errorf("label: got %q", as[0].CategoryLabel)
	}
}

func TestSingleMessageCollapses(t *testing.T) {
	e := newTestEngine(t, nil)
	as, _, err := e.Categorize(context.Background(), []models.Message{{ID: "1", Subject: "Hello there", Body: "status report"}}, MethodEnhanced)
	if err != nil {
		t.Fatal(err)
	}
	if len(as) != 1 || as[0].CategoryLabel != GeneralLabel {
		t.Fatalf("got %+v", as)
	}
}

func TestEnhancedSeparatesTopics(t *testing.T) {
	e := newTestEngine(t, nil)
	msgs := twoTopicBatch()
	as, ins, err := e.Categorize(context.Background(), msgs, MethodEnhanced)
	if err != nil {
		t.Fatal(err)
	}
	if ins.Groups != 2 {
		t.Fatalf("groups: got %d", ins.Groups)
	}
	got := labelsOf(as)
	if got[0] != "Finance/Banking" || got[3] != "Meetings/Calendar" {
		t.Errorf("labels: got %v", got)
	}
	if got[0] != got[2] || got[3] != got[5] || as[0].ClusterID == as[3].ClusterID {
		t.Errorf("topics not separated: %+v", as)
	}

	again, _, _ := e.Categorize(context.Background(), msgs, MethodEnhanced)
	if !reflect.DeepEqual(as, again) {
		t.Error("categorization is not deterministic")
	}
}

func TestHybridUsesModelNames(t *testing.T) {
	client := &fixedClient{answer: "Category: \"Money Matters\"\nThese emails are about money."}
	e := newTestEngine(t, client)
	as, ins, err := e.Categorize(context.Background(), twoTopicBatch(), MethodHybrid)
	if err != nil {
		t.Fatal(err)
	}
	if ins.NamingFallbacks != 0 {
		t.Errorf("fallbacks: got %d", ins.NamingFallbacks)
	}
	got := labelsOf(as)
	if got[0] != "Money Matters" || got[3] != "Money Matters 2" {
		t.Errorf("labels: got %v", got)
	}
	if len(client.prompts) != 2 || !strings.Contains(client.prompts[0], "Subject: Invoice payment due") {
		t.Errorf("prompts: %v", client.prompts)
	}
}

func TestHybridDegradesToKeywordLabels(t *testing.T) {
	msgs := twoTopicBatch()
	enhanced, _, _ := newTestEngine(t, nil).Categorize(context.Background(), msgs, MethodEnhanced)

	client := &fixedClient{err: errors.New("connection refused")}
	hybrid, ins, err := newTestEngine(t, client).Categorize(context.Background(), msgs, MethodHybrid)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(labelsOf(enhanced), labelsOf(hybrid)) {
		t.Errorf("got %v, want %v", labelsOf(hybrid), labelsOf(enhanced))
	}
	if ins.NamingFallbacks != 2 {
		t.Errorf("fallbacks: got %d", ins.NamingFallbacks)
	}
}

func TestUnknownMethod(t *testing.T) {
	_, _, err := newTestEngine(t, nil).Categorize(context.Background(), nil, Method("kmeans"))
	if !errors.Is(err, ErrUnknownMethod) {
		t.Fatalf("got %v", err)
	}
}

func TestParseMethod(t *testing.T) {
	cases := map[string]Method{"": MethodEnhanced, "NONE": MethodNone, "hybrid": MethodHybrid, "llm": MethodHybrid}
	for in, want := range cases {
		got, err := ParseMethod(in)
		if err != nil || got != want {
			t.Errorf("%q: got %q %v", in, got, err)
		}
	}
	if _, err := ParseMethod("dbscan"); err == nil {
		t.Error("expected error")
	}
}

func TestCleanName(t *testing.T) {
	cases := []struct {
		in, want string
		ok       bool
	}{
		{"Travel Plans", "Travel Plans", true},
		{"Name: **Work Updates**", "Work Updates", true},
		{"'Finance'\nbecause the emails mention invoices", "Finance", true},
		{"OK", "", false},
		{"<script>alert(1)</script>", "", false},
		{strings.Repeat("word ", 20), "", false},
	}
	for _, c := range cases {
		got, err := cleanName(c.in)
		if (err == nil) != c.ok || got != c.want {
			t.Errorf("%q: got %q err=%v", c.in, got, err)
		}
	}
}

func TestSilhouetteSeparatesClearGroups(t *testing.T) {
	rows := [][]float64{{1, 0}, {1, 0}, {0, 1}, {0, 1}}
	if s := silhouette(rows, []int{0, 0, 1, 1}, 2); s < 0.99 {
		t.Errorf("clean split: got %f", s)
	}
	if s := silhouette(rows, []int{0, 1, 0, 1}, 2); s >= 0 {
		t.Errorf("mixed split: got %f", s)
	}
}

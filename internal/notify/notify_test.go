package notify

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestEscapeMarkdown(t *testing.T) {
	if got := escapeMarkdown("a_b.c!"); got != `a\_b\.c\!` {
		t.Errorf("got %q", got)
	}
	if got := escapeMarkdown(`x\y`); got != `x\\y` {
		t.Errorf("got %q", got)
	}
}

func TestFormatSummary(t *testing.T) {
	s := Summary{
		RunID:             "run-1",
		Method:            "enhanced",
		Total:             3,
		ByCategory:        map[string]int{"Finance/Banking": 2, "Support/Help": 1},
		ByRiskLevel:       map[string]int{"safe": 2, "high": 1},
		RequiringResponse: 1,
		HighRisk:          []string{"Verify your account!"},
		Duration:          1500 * time.Millisecond,
	}
	out := Format(s)
	for _, want := range []string{
		"*Mail run complete*",
		"run\\-1",
		"• Finance/Banking: 2",
		"• high: 1",
		"Verify your account\\!",
		"1 replies drafted for review",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Index(out, "Finance") > strings.Index(out, "Support") {
		t.Error("categories should be sorted by count")
	}
}

func TestFormatFailure(t *testing.T) {
	out := Format(Summary{RunID: "r", Error: "no messages."})
	if !strings.Contains(out, "*Mail run failed*") || !strings.Contains(out, `no messages\.`) {
		t.Errorf("got %q", out)
	}
}

func TestNopNotifier(t *testing.T) {
	var n Notifier = NopNotifier{}
	if err := n.Notify(context.Background(), Summary{}); err != nil {
		t.Fatal(err)
	}
}

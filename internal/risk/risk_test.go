package risk

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/xaenox/mail-pilot/internal/llm"
	"github.com/xaenox/mail-pilot/internal/models"
)

type stubClient struct {
	answer string
	err    error
}

func (s stubClient) Complete(context.Context, string, time.Duration) (string, error) {
	return s.answer, s.err
}

var fastPolicy = llm.Policy{Timeouts: []time.Duration{time.Second}}

func hasIndicator(indicators []string, id string) bool {
	for _, i := range indicators {
		if strings.HasPrefix(i, id+":") {
			return true
		}
	}
	return false
}

func phishingMessage() models.Message {
	return models.Message{
		ID:      "p1",
		Sender:  "support@example.com",
		Subject: "Account notice",
		Body:    `Your account is locked. This is urgent, respond immediately: <a href="http://login-check.example.net/x">www.mybank.com</a>`,
	}
}

func TestLevelThresholds(t *testing.T) {
	cases := map[int]models.RiskLevel{0: models.RiskSafe, 19: models.RiskSafe, 20: models.RiskLow, 49: models.RiskLow, 50: models.RiskMedium, 79: models.RiskMedium, 80: models.RiskHigh, 100: models.RiskHigh}
	for score, want := range cases {
		if got := LevelFor(score); got != want {
			t.Errorf("%d: got %s want %s", score, got, want)
		}
	}
}

func TestLinkMismatchAndUrgencyWithoutModel(t *testing.T) {
	a := NewAnalyzer(llm.Disabled{}, fastPolicy, zaptest.NewLogger(t))
	got := a.Assess(context.Background(), phishingMessage())

	if !hasIndicator(got.Indicators, LinkMismatch) || !hasIndicator(got.Indicators, UrgencyLanguage) {
		t.Fatalf("indicators: %v", got.Indicators)
	}
	if got.RiskLevel != models.RiskMedium && got.RiskLevel != models.RiskHigh {
		t.Errorf("level: got %s (score %d)", got.RiskLevel, got.RiskScore)
	}
	if got.RiskScore != got.RuleScore || got.ModelUsed || got.ModelScore != nil {
		t.Errorf("expected rules-only score, got %+v", got)
	}
	if !strings.Contains(got.Explanation, LinkMismatch) {
		t.Errorf("explanation: %q", got.Explanation)
	}
}

func TestFailedModelKeepsRuleScore(t *testing.T) {
	m := phishingMessage()
	rule, _ := Evaluate(m)
	for _, c := range []llm.Client{
		stubClient{err: errors.New("boom")},
		stubClient{err: context.DeadlineExceeded},
		stubClient{answer: "I cannot help with that."},
	} {
		got := NewAnalyzer(c, fastPolicy, zaptest.NewLogger(t)).Assess(context.Background(), m)
		if got.RiskScore != rule {
			t.Errorf("%+v: got %d want %d", c, got.RiskScore, rule)
		}
	}
}

func TestModelOpinionIsBlended(t *testing.T) {
	m := models.Message{ID: "1", Sender: "friend@example.com", Subject: "Lunch?", Body: "Want to get lunch tomorrow?"}
	c := stubClient{answer: "```json\n{\"risk_score\": 90, \"explanation\": \"Looks odd\", \"indicators\": [\"unusual tone\"]}\n```"}
	got := NewAnalyzer(c, fastPolicy, zaptest.NewLogger(t)).Assess(context.Background(), m)

	if got.RuleScore != 0 || got.RiskScore != 54 || got.RiskLevel != models.RiskMedium {
		t.Fatalf("got %+v", got)
	}
	if !got.ModelUsed || got.ModelScore == nil || *got.ModelScore != 90 {
		t.Errorf("model score: %+v", got)
	}
	if got.Explanation != "Looks odd" || got.Indicators[len(got.Indicators)-1] != "model: unusual tone" {
		t.Errorf("got %+v", got)
	}
}

func TestParseOpinionFallsBackToRegex(t *testing.T) {
	op, err := parseOpinion("Risk score: 130 because reasons")
	if err != nil || op.Score != 100 {
		t.Fatalf("got %+v %v", op, err)
	}
}

func TestRuleScoreIsClamped(t *testing.T) {
	m := models.Message{
		ID:      "x",
		Sender:  `"PayPal Security" <alert@pay-pal1.tk>`,
		Subject: "URGENT ACTION REQUIRED: verify account now, security alert",
		Body: "Dear customer, you are a winner! Claim your prize. Urgent, immediate, asap, deadline. " +
			"Enter your password at http://192.168.1.10/login or https://bit.ly/abc or http://secure.example.tk",
	}
	score, findings := Evaluate(m)
	if score != 100 {
		t.Errorf("score: got %d", score)
	}
	ids := make(map[string]bool)
	for _, f := range findings {
		ids[f.ID] = true
	}
	for _, id := range []string{SpoofedSenderDomain, DisplayNameSpoof, PressureSubject, SuspiciousPhrase, UrgencyLanguage, ShortenedURL, IPAddressURL, SuspiciousTLD, CredentialRequest, AllCaps} {
		if !ids[id] {
			t.Errorf("missing %s in %v", id, findings)
		}
	}
}

func TestBenignMessageIsSafe(t *testing.T) {
	m := models.Message{ID: "b", Sender: "Sam <sam@example.com>", Subject: "Notes from today", Body: "Attached are the notes. See https://example.com/notes"}
	got := NewAnalyzer(nil, fastPolicy, zaptest.NewLogger(t)).Assess(context.Background(), m)
	if got.RiskScore != 0 || got.RiskLevel != models.RiskSafe || len(got.Indicators) != 0 {
		t.Errorf("got %+v", got)
	}
}

func TestMarkdownLinkMismatch(t *testing.T) {
	m := models.Message{ID: "md", Sender: "a@example.com", Subject: "x", Body: "Sign in at [paypal.com](https://evil.example.org/login)"}
	_, findings := Evaluate(m)
	found := false
	for _, f := range findings {
		if f.ID == LinkMismatch {
			found = true
		}
	}
	if !found {
		t.Errorf("findings: %v", findings)
	}
}

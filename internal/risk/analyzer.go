// Package risk scores the phishing likelihood of a message by combining
// fixed rules with an optional model opinion.
package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xaenox/mail-pilot/internal/llm"
	"github.com/xaenox/mail-pilot/internal/models"
)

const (
	modelWeight = 0.6
	ruleWeight  = 0.4
	promptBody  = 500
)

var scoreRe = regexp.MustCompile(`(?i)risk[_\s]*score["'\s]*:\s*(\d+)`)

// LevelFor maps a score onto the fixed 80/50/20 thresholds.
func LevelFor(score int) models.RiskLevel {
	switch {
	case score >= 80:
		return models.RiskHigh
	case score >= 50:
		return models.RiskMedium
	case score >= 20:
		return models.RiskLow
	default:
		return models.RiskSafe
	}
}

// Analyzer assesses messages one at a time. It keeps no state between calls
// and may be used from several goroutines.
type Analyzer struct {
	client llm.Client
	policy llm.Policy
	logger *zap.Logger
}

func NewAnalyzer(client llm.Client, policy llm.Policy, logger *zap.Logger) *Analyzer {
	return &Analyzer{client: client, policy: policy, logger: logger}
}

type opinion struct {
	Score       int
	Explanation string
	Indicators  []string
}

// Assess scores m. The rule phase always runs; the model phase is best
// effort and, when it fails, the rule score is used unchanged.
func (a *Analyzer) Assess(ctx context.Context, m models.Message) models.RiskAssessment {
	ruleScore, findings := Evaluate(m)
	indicators := make([]string, 0, len(findings))
	for _, f := range findings {
		indicators = append(indicators, f.String())
	}

	op, out := llm.Attempt(ctx, a.client, a.policy, buildPrompt(m, findings), parseOpinion, func() *opinion { return nil })

	result := models.RiskAssessment{
		MessageID:  m.ID,
		RuleScore:  ruleScore,
		Indicators: indicators,
	}
	if op == nil {
		a.logger.Debug("Model risk opinion unavailable, using rules only",
			zap.String("message_id", m.ID),
			zap.Int("attempts", out.Attempts),
			zap.Error(out.Err))
		result.RiskScore = ruleScore
		result.Explanation = explain(findings)
	} else {
		score := op.Score
		result.ModelScore = &score
		result.ModelUsed = true
		result.RiskScore = Blend(ruleScore, op.Score)
		result.Explanation = op.Explanation
		if result.Explanation == "" {
			result.Explanation = explain(findings)
		}
		result.Indicators = mergeIndicators(indicators, op.Indicators)
	}
	result.RiskLevel = LevelFor(result.RiskScore)
	return result
}

// Blend weighs the model opinion above the rule score.
func Blend(ruleScore, modelScore int) int {
	return clamp(int(math.Round(modelWeight*float64(modelScore) + ruleWeight*float64(ruleScore))))
}

func buildPrompt(m models.Message, findings []Finding) string {
	body := m.Body
	if utf8.RuneCountInString(body) > promptBody {
		body = string([]rune(body)[:promptBody]) + "..."
	}
	var b strings.Builder
	b.WriteString("Analyze this email for phishing indicators. Rate the phishing risk from 0-100.\n\n")
	fmt.Fprintf(&b, "From: %s\nSubject: %s\nBody: %s\n\n", m.Sender, m.Subject, body)
	if len(findings) > 0 {
		b.WriteString("Automated checks already flagged:\n")
		for _, f := range findings {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		b.WriteString("\n")
	}
	b.WriteString("Consider urgency tactics, requests for personal information, suspicious links, generic greetings, authority impersonation and fear tactics.\n")
	b.WriteString(`Respond with JSON only: {"risk_score": 0-100, "explanation": "short explanation", "indicators": ["finding"]}`)
	return b.String()
}

func parseOpinion(text string) (*opinion, error) {
	if raw, ok := llm.ExtractJSON(text); ok {
		var resp struct {
			RiskScore   json.Number `json:"risk_score"`
			Explanation string      `json:"explanation"`
			Indicators  []string    `json:"indicators"`
		}
		if err := json.Unmarshal([]byte(raw), &resp); err == nil && resp.RiskScore != "" {
			f, err := resp.RiskScore.Float64()
			if err != nil {
				return nil, fmt.Errorf("parse risk score: %w", err)
			}
			return &opinion{
				Score:       clamp(int(math.Round(f))),
				Explanation: strings.TrimSpace(resp.Explanation),
				Indicators:  resp.Indicators,
			}, nil
		}
	}
	if m := scoreRe.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("parse risk score: %w", err)
		}
		return &opinion{Score: clamp(n), Explanation: strings.TrimSpace(text)}, nil
	}
	return nil, fmt.Errorf("no risk score in model reply")
}

func explain(findings []Finding) string {
	if len(findings) == 0 {
		return "No phishing indicators were triggered by the rule checks."
	}
	parts := make([]string, len(findings))
	for i, f := range findings {
		parts[i] = f.String()
	}
	return fmt.Sprintf("Rule checks flagged %d indicator(s): %s.", len(findings), strings.Join(parts, "; "))
}

func mergeIndicators(rules, model []string) []string {
	out := append([]string(nil), rules...)
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		seen[r] = true
	}
	for _, m := range model {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		tagged := "model: " + m
		if !seen[tagged] {
			seen[tagged] = true
			out = append(out, tagged)
		}
	}
	return out
}

// Recommendations returns handling advice for a level.
func Recommendations(level models.RiskLevel) []string {
	switch level {
	case models.RiskHigh:
		return []string{
			"Do not click any links or download attachments",
			"Do not provide any personal information",
			"Report this message as phishing",
			"Delete the message",
		}
	case models.RiskMedium:
		return []string{
			"Be cautious with links and attachments",
			"Verify the sender through another channel",
			"Do not provide sensitive information",
		}
	case models.RiskLow:
		return []string{
			"Exercise normal caution",
			"Verify unexpected requests before acting",
		}
	default:
		return []string{"Message appears safe", "Standard caution with links and attachments advised"}
	}
}

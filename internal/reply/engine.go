// Package reply decides whether a message needs an answer and drafts one.
package reply

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xaenox/mail-pilot/internal/llm"
	"github.com/xaenox/mail-pilot/internal/models"
)

const (
	templateConfidence = 40
	modelConfidence    = 70
	promptBody         = 600
)

const (
	ReasonHighRisk  = "high phishing risk"
	ReasonAutomated = "automated sender"
	ReasonRequest   = "direct request"
	ReasonQuestion  = "contains a question"
	ReasonCategory  = "category usually needs a reply"
	ReasonNone      = "no request or question"
)

var (
	requestPhrases = []string{
		"could you", "can you", "would you", "please let me know", "let me know", "please confirm",
		"please reply", "please respond", "get back to me", "your thoughts", "are you available",
		"rsvp", "please advise", "looking forward to hearing", "waiting for your",
	}
	automatedSenders = []string{"noreply", "no-reply", "donotreply", "do-not-reply", "mailer-daemon", "notifications@"}
	replyCategories  = []string{"meeting", "calendar", "support", "job", "collaboration", "personal"}
	replyIntents     = map[Intent]bool{IntentMeeting: true, IntentCollaboration: true, IntentJob: true}
)

// Engine drafts replies. It keeps no per-message state.
type Engine struct {
	client  llm.Client
	policy  llm.Policy
	intents *IntentClassifier
	logger  *zap.Logger
}

func NewEngine(client llm.Client, policy llm.Policy, logger *zap.Logger) *Engine {
	return &Engine{
		client:  client,
		policy:  policy,
		intents: NewIntentClassifier(3),
		logger:  logger,
	}
}

// RequiresResponse reports whether m warrants a reply and why. A message
// assessed as high risk never does.
func (e *Engine) RequiresResponse(m models.Message, category string, risk *models.RiskAssessment) (bool, string) {
	if risk != nil && risk.RiskLevel == models.RiskHigh {
		return false, ReasonHighRisk
	}
	addr := m.SenderAddress()
	for _, a := range automatedSenders {
		if strings.Contains(addr, a) {
			return false, ReasonAutomated
		}
	}

	text := strings.ToLower(m.Subject + "\n" + m.Body)
	for _, p := range requestPhrases {
		if strings.Contains(text, p) {
			return true, ReasonRequest
		}
	}
	if strings.Contains(text, "?") {
		return true, ReasonQuestion
	}
	label := strings.ToLower(category)
	for _, c := range replyCategories {
		if strings.Contains(label, c) {
			return true, ReasonCategory
		}
	}
	if replyIntents[e.intents.Primary(text)] {
		return true, ReasonCategory
	}
	return false, ReasonNone
}

type modelReply struct {
	body       string
	keyPoints  []string
	confidence int
}

// Draft produces the reply for m. When no reply is needed the draft has an
// empty body. When the model cannot be used the draft comes from a tone
// template and is marked Templated.
func (e *Engine) Draft(ctx context.Context, m models.Message, category string, risk *models.RiskAssessment, tone models.Tone) models.ReplyDraft {
	if _, ok := styles[tone]; !ok {
		tone = models.ToneProfessional
	}
	draft := models.ReplyDraft{
		MessageID: m.ID,
		Tone:      tone,
		Status:    models.ReplyDrafted,
		KeyPoints: []string{},
	}

	required, reason := e.RequiresResponse(m, category, risk)
	draft.RequiresResponse = required
	draft.Reason = reason
	if !required {
		return draft
	}

	intent := e.intents.Primary(m.Subject + "\n" + m.Body)
	name := recipientName(m)
	parse := func(text string) (*modelReply, error) { return parseReply(text, name, tone) }
	reply, out := llm.Attempt(ctx, e.client, e.policy, buildPrompt(m, category, intent, tone), parse, func() *modelReply { return nil })

	if reply == nil {
		e.logger.Debug("Using template reply",
			zap.String("message_id", m.ID),
			zap.String("intent", string(intent)),
			zap.Int("attempts", out.Attempts),
			zap.Error(out.Err))
		draft.Body = templateReply(m, intent, tone)
		draft.Confidence = templateConfidence
		draft.KeyPoints = []string{"Template-based response", "Intent: " + string(intent)}
		draft.Templated = true
	} else {
		draft.Body = reply.body
		draft.Confidence = reply.confidence
		if len(reply.keyPoints) > 0 {
			draft.KeyPoints = reply.keyPoints
		}
	}

	quality := Validate(draft.Body)
	draft.Quality = &quality
	if quality.Score < draft.Confidence {
		draft.Confidence = quality.Score
	}
	return draft
}

func buildPrompt(m models.Message, category string, intent Intent, tone models.Tone) string {
	body := m.Body
	if utf8.RuneCountInString(body) > promptBody {
		body = string([]rune(body)[:promptBody]) + "..."
	}
	var b strings.Builder
	b.WriteString("Write a reply to the following email.\n\n")
	fmt.Fprintf(&b, "From: %s\nSubject: %s\nBody: %s\n\n", m.Sender, m.Subject, body)
	fmt.Fprintf(&b, "Category: %s\nDetected intent: %s\nTone: %s\n\n", category, intent, tone)
	b.WriteString("The reply must start with a greeting, address the sender's questions or requests, suggest next steps and end with a closing. Keep it under 200 words and do not use placeholders.\n")
	b.WriteString(`Respond with JSON only: {"reply_text": "...", "confidence": 0-100, "key_points": ["..."]}`)
	return b.String()
}

func parseReply(text, name string, tone models.Tone) (*modelReply, error) {
	raw, ok := llm.ExtractJSON(text)
	if !ok {
		return nil, fmt.Errorf("no JSON object in reply")
	}
	var resp struct {
		ReplyText  string      `json:"reply_text"`
		Body       string      `json:"body"`
		Confidence json.Number `json:"confidence"`
		KeyPoints  []string    `json:"key_points"`
	}
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	body := strings.TrimSpace(resp.ReplyText)
	if body == "" {
		body = strings.TrimSpace(resp.Body)
	}
	if body == "" {
		return nil, fmt.Errorf("reply text is empty")
	}
	body = strings.NewReplacer("[Name]", name, "[name]", name, "{name}", name).Replace(body)
	if !hasClosing(nonEmptyLines(body)) {
		body += "\n\n" + styleFor(tone).closing
	}

	confidence := modelConfidence
	if resp.Confidence != "" {
		if f, err := resp.Confidence.Float64(); err == nil {
			if f > 0 && f <= 1 {
				f *= 100
			}
			confidence = int(f)
		}
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}
	return &modelReply{body: body, keyPoints: resp.KeyPoints, confidence: confidence}, nil
}

package models

import (
	"io"
	"mime"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
)

// DefaultBodyLimit is the number of body characters kept for analysis.
const DefaultBodyLimit = 5000

// Message is an already-fetched email handed to the pipeline. It is owned by
// the caller and never modified.
type Message struct {
	ID         string    `json:"id" yaml:"id"`
	Sender     string    `json:"sender" yaml:"sender"`
	Subject    string    `json:"subject" yaml:"subject"`
	Body       string    `json:"body" yaml:"body"`
	ReceivedAt time.Time `json:"received_at" yaml:"received_at"`
	Labels     []string  `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// Truncated returns a copy of the message with its body capped to limit
// characters and invalid UTF-8 replaced.
func (m Message) Truncated(limit int) Message {
	out := m
	out.Subject = strings.ToValidUTF8(m.Subject, "�")
	out.Body = strings.ToValidUTF8(m.Body, "�")
	if limit > 0 && utf8.RuneCountInString(out.Body) > limit {
		runes := []rune(out.Body)
		out.Body = string(runes[:limit])
	}
	if m.Labels != nil {
		out.Labels = append([]string(nil), m.Labels...)
	}
	return out
}

// wordDecoder decodes RFC 2047 words in any charset x/text knows, not only
// the few net/mail handles itself.
var wordDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

var addressParser = mail.AddressParser{WordDecoder: wordDecoder}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, err
	}
	return enc.NewDecoder().Reader(input), nil
}

// SenderAddress returns the bare address of the sender, lowercased.
func (m Message) SenderAddress() string {
	if addr, err := addressParser.Parse(m.Sender); err == nil {
		return strings.ToLower(addr.Address)
	}
	s := strings.TrimSpace(m.Sender)
	if i := strings.LastIndex(s, "<"); i >= 0 {
		s = strings.TrimSuffix(s[i+1:], ">")
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// SenderDomain returns the domain part of the sender address, if any.
func (m Message) SenderDomain() string {
	addr := m.SenderAddress()
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return ""
}

// SenderName returns the display name of the sender, or "" when the sender
// has none.
func (m Message) SenderName() string {
	if addr, err := addressParser.Parse(m.Sender); err == nil {
		return strings.TrimSpace(addr.Name)
	}
	s := strings.TrimSpace(m.Sender)
	i := strings.Index(s, "<")
	if i <= 0 {
		return ""
	}
	name := strings.Trim(strings.TrimSpace(s[:i]), `"`)
	if decoded, err := wordDecoder.DecodeHeader(name); err == nil {
		name = strings.TrimSpace(decoded)
	}
	return name
}

// CategoryAssignment is the category label given to one message in a run.
// ClusterID is only stable within that run.
type CategoryAssignment struct {
	MessageID     string `json:"message_id"`
	CategoryLabel string `json:"category_label"`
	ClusterID     int    `json:"cluster_id"`
}

// RiskLevel is the four-point phishing classification derived from a score.
type RiskLevel string

const (
	RiskSafe   RiskLevel = "safe"
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskLevels lists the levels from lowest to highest.
var RiskLevels = []RiskLevel{RiskSafe, RiskLow, RiskMedium, RiskHigh}

// RiskAssessment is the phishing assessment of one message.
type RiskAssessment struct {
	MessageID   string    `json:"message_id"`
	RiskScore   int       `json:"risk_score"`
	RiskLevel   RiskLevel `json:"risk_level"`
	Indicators  []string  `json:"indicators"`
	Explanation string    `json:"explanation"`
	RuleScore   int       `json:"rule_score"`
	ModelScore  *int      `json:"model_score,omitempty"`
	ModelUsed   bool      `json:"model_used"`
}

// Tone is the requested register of a drafted reply.
type Tone string

const (
	ToneProfessional Tone = "professional"
	ToneFriendly     Tone = "friendly"
	ToneFormal       Tone = "formal"
	ToneHelpful      Tone = "helpful"
)

// ParseTone maps a user supplied tone onto a known Tone. Empty input means
// professional.
func ParseTone(s string) (Tone, bool) {
	switch Tone(strings.ToLower(strings.TrimSpace(s))) {
	case "", ToneProfessional:
		return ToneProfessional, true
	case ToneFriendly:
		return ToneFriendly, true
	case ToneFormal:
		return ToneFormal, true
	case ToneHelpful:
		return ToneHelpful, true
	}
	return "", false
}

// ReplyStatus tracks a draft through the external approval workflow. The
// pipeline only ever creates drafts in ReplyDrafted.
type ReplyStatus string

const (
	ReplyDrafted  ReplyStatus = "drafted"
	ReplyEdited   ReplyStatus = "edited"
	ReplyApproved ReplyStatus = "approved"
	ReplySent     ReplyStatus = "sent"
)

// ReplyQuality is the advisory quality annotation of a draft body.
type ReplyQuality struct {
	Score  int      `json:"score"`
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues"`
}

// ReplyDraft is a suggested response to one message.
type ReplyDraft struct {
	MessageID        string        `json:"message_id"`
	RequiresResponse bool          `json:"requires_response"`
	Tone             Tone          `json:"tone"`
	Body             string        `json:"body"`
	Confidence       int           `json:"confidence"`
	KeyPoints        []string      `json:"key_points"`
	Status           ReplyStatus   `json:"status"`
	Reason           string        `json:"reason,omitempty"`
	Templated        bool          `json:"templated"`
	Quality          *ReplyQuality `json:"quality,omitempty"`
}

// RunRecord is a persisted pipeline run. Payload holds the JSON encoded
// result.
type RunRecord struct {
	ID          string    `json:"id"`
	Method      string    `json:"method"`
	Stage       string    `json:"stage"`
	Total       int       `json:"total"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Payload     []byte    `json:"payload"`
}

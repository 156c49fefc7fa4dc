package reply

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/xaenox/mail-pilot/internal/models"
)

const (
	minReplyLen = 20
	maxReplyLen = 1000

	penaltyShort       = 20
	penaltyLong        = 10
	penaltyGreeting    = 15
	penaltyClosing     = 15
	penaltyPlaceholder = 25

	closingWindow = 3
)

const (
	IssueTooShort    = "Reply is too short"
	IssueTooLong     = "Reply is too long"
	IssueNoGreeting  = "Missing greeting"
	IssueNoClosing   = "Missing closing"
	IssuePlaceholder = "Contains placeholder text"
)

var (
	greetingRe    = regexp.MustCompile(`(?i)^(hi|hello|hey|dear|greetings|good (morning|afternoon|evening))\b`)
	closingRe     = regexp.MustCompile(`(?i)\b(regards|sincerely|thanks|thank you|best|cheers|yours)\b`)
	placeholderRe = regexp.MustCompile(`\[[^\]\n]*\]|\{[^}\n]*\}|<[A-Z_ ]+>`)
)

// Validate scores a reply body. It never rejects a draft, the result only
// annotates it.
func Validate(body string) models.ReplyQuality {
	issues := []string{}
	score := 100

	switch n := utf8.RuneCountInString(strings.TrimSpace(body)); {
	case n < minReplyLen:
		issues = append(issues, IssueTooShort)
		score -= penaltyShort
	case n > maxReplyLen:
		issues = append(issues, IssueTooLong)
		score -= penaltyLong
	}

	lines := nonEmptyLines(body)
	if len(lines) == 0 || !greetingRe.MatchString(lines[0]) {
		issues = append(issues, IssueNoGreeting)
		score -= penaltyGreeting
	}
	if !hasClosing(lines) {
		issues = append(issues, IssueNoClosing)
		score -= penaltyClosing
	}
	if placeholderRe.MatchString(body) {
		issues = append(issues, IssuePlaceholder)
		score -= penaltyPlaceholder
	}

	if score < 0 {
		score = 0
	}
	return models.ReplyQuality{Score: score, Valid: len(issues) == 0, Issues: issues}
}

func nonEmptyLines(body string) []string {
	var out []string
	for _, l := range strings.Split(body, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func hasClosing(lines []string) bool {
	start := len(lines) - closingWindow
	if start < 0 {
		start = 0
	}
	for _, l := range lines[start:] {
		if closingRe.MatchString(l) {
			return true
		}
	}
	return false
}

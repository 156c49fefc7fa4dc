package reply

import "strings"

// Intent is the coarse purpose of a message, used to pick reply content.
type Intent string

const (
	IntentMeeting       Intent = "meeting_request"
	IntentJob           Intent = "job_application"
	IntentSupport       Intent = "customer_support"
	IntentFollowUp      Intent = "follow_up"
	IntentCollaboration Intent = "collaboration"
	IntentInformation   Intent = "information_request"
	IntentGeneral       Intent = "general"
)

// IntentClassifier tags text with intents by keyword.
type IntentClassifier struct {
	maxIntents int
	keywords   []intentKeywords
}

type intentKeywords struct {
	intent Intent
	words  []string
}

func NewIntentClassifier(maxIntents int) *IntentClassifier {
	return &IntentClassifier{
		maxIntents: maxIntents,
		keywords: []intentKeywords{
			{IntentMeeting, []string{"meeting", "call", "schedule", "availability", "calendar", "agenda"}},
			{IntentJob, []string{"job", "position", "application", "interview", "resume", "candidate"}},
			{IntentSupport, []string{"help", "support", "issue", "problem", "broken", "error"}},
			{IntentFollowUp, []string{"follow up", "following up", "status", "any update", "checking in"}},
			{IntentCollaboration, []string{"collaborate", "collaboration", "partnership", "work together", "project"}},
			{IntentInformation, []string{"information", "details", "question", "could you send", "wondering"}},
		},
	}
}

// Classify returns matching intents in priority order.
func (c *IntentClassifier) Classify(content string) []Intent {
	content = strings.ToLower(content)
	var result []Intent
	for _, k := range c.keywords {
		for _, w := range k.words {
			if strings.Contains(content, w) {
				result = append(result, k.intent)
				break
			}
		}
	}
	if c.maxIntents > 0 && len(result) > c.maxIntents {
		result = result[:c.maxIntents]
	}
	return result
}

// Primary returns the strongest intent, or IntentGeneral.
func (c *IntentClassifier) Primary(content string) Intent {
	if intents := c.Classify(content); len(intents) > 0 {
		return intents[0]
	}
	return IntentGeneral
}

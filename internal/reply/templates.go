package reply

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/xaenox/mail-pilot/internal/models"
)

type toneStyle struct {
	greeting string
	closing  string
}

var styles = map[models.Tone]toneStyle{
	models.ToneProfessional: {greeting: "Hi %s,", closing: "Best regards,"},
	models.ToneFriendly:     {greeting: "Hi %s!", closing: "Cheers,"},
	models.ToneFormal:       {greeting: "Dear %s,", closing: "Sincerely,"},
	models.ToneHelpful:      {greeting: "Hello %s,", closing: "Kind regards,"},
}

var intentLines = map[Intent]string{
	IntentMeeting:       "Thank you for reaching out about scheduling a meeting. I'll review my calendar and get back to you with my availability within 24 hours.",
	IntentJob:           "Thank you for your interest in the position. I have received your application and will be in touch regarding next steps.",
	IntentSupport:       "Thank you for getting in touch. I understand your concern and will look into it, and you can expect an update within 24 hours.",
	IntentFollowUp:      "Thank you for following up. I appreciate your patience and will send you an update on the status shortly.",
	IntentCollaboration: "Thank you for reaching out about working together. I'm interested in learning more and would be happy to discuss it further.",
	IntentInformation:   "Thank you for your inquiry. I'm gathering the information you asked for and will respond with details within 2 business days.",
	IntentGeneral:       "I've received your message and will get back to you soon.",
}

var (
	markupRe  = regexp.MustCompile(`[\[\]{}<>]`)
	nameSplit = regexp.MustCompile(`[._\-+]+`)
)

func sanitize(s string) string {
	return strings.Join(strings.Fields(markupRe.ReplaceAllString(s, "")), " ")
}

// recipientName is the display name of the sender, or a readable form of
// the address local part, or "there".
func recipientName(m models.Message) string {
	// An encoded word left over from an unknown charset is not a name.
	if name := sanitize(m.SenderName()); name != "" && !strings.Contains(name, "=?") {
		return name
	}
	addr := m.SenderAddress()
	if i := strings.Index(addr, "@"); i > 0 {
		local := sanitize(nameSplit.ReplaceAllString(addr[:i], " "))
		if local != "" {
			return cases.Title(language.English).String(local)
		}
	}
	return "there"
}

func styleFor(tone models.Tone) toneStyle {
	if s, ok := styles[tone]; ok {
		return s
	}
	return styles[models.ToneProfessional]
}

// templateReply renders the model-free draft. It always has a greeting
// line and a closing line.
func templateReply(m models.Message, intent Intent, tone models.Tone) string {
	style := styleFor(tone)
	subject := sanitize(m.Subject)
	if subject == "" {
		subject = "your message"
	} else {
		subject = `"` + subject + `"`
	}
	line, ok := intentLines[intent]
	if !ok {
		line = intentLines[IntentGeneral]
	}

	var b strings.Builder
	fmt.Fprintf(&b, style.greeting, recipientName(m))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Thank you for your email regarding %s. %s", subject, line)
	b.WriteString("\n\n")
	b.WriteString(style.closing)
	return b.String()
}

// Suggestions lists writing tips for a tone.
func Suggestions(tone models.Tone) []string {
	switch tone {
	case models.ToneFriendly:
		return []string{"Add a personal touch if appropriate", "Use warmer language", "Include enthusiasm where suitable"}
	case models.ToneFormal:
		return []string{"Use formal language and structure", "Include proper salutations", "Be precise and concise"}
	case models.ToneHelpful:
		return []string{"Offer additional assistance", "Provide useful resources", "Be proactive in addressing needs"}
	default:
		return []string{"Consider adding specific timelines", "Include relevant contact information", "Mention next steps clearly"}
	}
}

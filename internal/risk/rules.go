package risk

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/xaenox/mail-pilot/internal/models"
)

// Indicator ids. Indicator strings are "<id>: <detail>".
const (
	SuspiciousSenderDomain = "suspicious-sender-domain"
	SpoofedSenderDomain    = "spoofed-sender-domain"
	DisplayNameSpoof       = "display-name-spoof"
	PressureSubject        = "pressure-subject"
	SuspiciousPhrase       = "suspicious-phrase"
	UrgencyLanguage        = "urgency-language"
	LinkMismatch           = "link-mismatch"
	ShortenedURL           = "shortened-url"
	IPAddressURL           = "ip-address-url"
	SuspiciousTLD          = "suspicious-tld"
	CredentialRequest      = "credential-request"
	AllCaps                = "all-caps"
)

// Finding is one triggered rule.
type Finding struct {
	ID     string
	Detail string
	Weight int
}

func (f Finding) String() string {
	return f.ID + ": " + f.Detail
}

var (
	shortenerHosts = []string{"bit.ly", "tinyurl.com", "shortener.com", "goo.gl", "t.co", "ow.ly", "is.gd", "buff.ly", "ift.tt"}

	pressureKeywords = []string{
		"urgent action required", "verify account", "suspended account", "click here immediately",
		"limited time offer", "act now", "confirm identity", "update payment", "security alert",
		"account will be closed", "verify now", "immediate action",
	}

	suspiciousPhrases = []string{
		"dear customer", "dear user", "dear valued customer", "congratulations you have won",
		"you are a winner", "claim your prize", "free gift", "no strings attached",
	}

	urgencyMarkers = []string{
		"urgent", "immediate", "asap", "expires", "deadline", "within 24 hours", "right away",
		"final notice", "last chance", "act now",
	}

	suspiciousTLDs = []string{".tk", ".ml", ".ga", ".cf", ".click", ".download", ".zip", ".xyz"}

	brands = []string{"paypal", "apple", "microsoft", "amazon", "google", "netflix", "facebook", "bank", "irs", "dhl", "fedex"}

	spoofPatterns = compilePatterns(`[0-9]`, `[.-]{2,}`, `[_-]`)

	credentialPatterns = compilePatterns(
		`password`, `login`, `username`, `pin\s*code`, `social\s*security`, `credit\s*card`, `bank\s*account`,
	)

	urlRe      = regexp.MustCompile(`(?i)https?://[^\s"'<>)\]]+`)
	anchorRe   = regexp.MustCompile(`(?is)<a\s[^>]*href\s*=\s*["']([^"']+)["'][^>]*>(.*?)</a>`)
	markdownRe = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^)\s]+)\)`)
	tagRe      = regexp.MustCompile(`<[^>]*>`)
	hostLikeRe = regexp.MustCompile(`(?i)^(?:https?://)?((?:[a-z0-9-]+\.)+[a-z]{2,})(?:[/:?#].*)?$`)
)

func compilePatterns(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

const (
	weightSuspiciousDomain = 30
	weightSpoofedDomain    = 10
	weightDisplayName      = 10
	weightPressureSubject  = 15
	weightPhrase           = 10
	weightUrgency          = 20
	weightUrgencyStrong    = 30
	weightLinkMismatch     = 35
	weightShortURL         = 25
	weightIPURL            = 30
	weightTLD              = 20
	weightCredential       = 15
	weightAllCaps          = 10

	strongUrgency = 3
	capsRun       = 3
)

type input struct {
	msg     models.Message
	domain  string
	subject string
	body    string
	raw     string
}

var rules = []func(in *input) []Finding{
	senderRules,
	displayNameRule,
	subjectRule,
	phraseRule,
	urgencyRule,
	linkMismatchRule,
	urlRules,
	credentialRule,
	capsRule,
}

// Evaluate runs every rule against m and returns the clamped rule score with
// the findings in rule order. It never fails.
func Evaluate(m models.Message) (int, []Finding) {
	in := &input{
		msg:     m,
		domain:  m.SenderDomain(),
		subject: strings.ToLower(m.Subject),
		body:    strings.ToLower(m.Body),
		raw:     m.Subject + " " + m.Body,
	}
	score := 0
	var findings []Finding
	for _, r := range rules {
		for _, f := range r(in) {
			score += f.Weight
			findings = append(findings, f)
		}
	}
	return clamp(score), findings
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func senderRules(in *input) []Finding {
	if in.domain == "" {
		return nil
	}
	var out []Finding
	for _, s := range shortenerHosts {
		if strings.Contains(in.domain, s) {
			out = append(out, Finding{SuspiciousSenderDomain, in.domain, weightSuspiciousDomain})
			break
		}
	}
	stem := strings.NewReplacer(".com", "", ".org", "").Replace(in.domain)
	for _, p := range spoofPatterns {
		if p.MatchString(stem) {
			out = append(out, Finding{SpoofedSenderDomain, in.domain, weightSpoofedDomain})
			break
		}
	}
	return out
}

func displayNameRule(in *input) []Finding {
	name := strings.ToLower(in.msg.SenderName())
	if name == "" || in.domain == "" {
		return nil
	}
	for _, b := range brands {
		if containsWord(name, b) && !strings.Contains(in.domain, b) {
			return []Finding{{DisplayNameSpoof, fmt.Sprintf("%q sent from %s", in.msg.SenderName(), in.domain), weightDisplayName}}
		}
	}
	return nil
}

func subjectRule(in *input) []Finding {
	var out []Finding
	for _, k := range pressureKeywords {
		if strings.Contains(in.subject, k) {
			out = append(out, Finding{PressureSubject, k, weightPressureSubject})
		}
	}
	return out
}

func phraseRule(in *input) []Finding {
	var out []Finding
	for _, p := range suspiciousPhrases {
		if strings.Contains(in.body, p) {
			out = append(out, Finding{SuspiciousPhrase, p, weightPhrase})
		}
	}
	return out
}

func urgencyRule(in *input) []Finding {
	text := in.subject + " " + in.body
	var hits []string
	for _, w := range urgencyMarkers {
		if strings.Contains(text, w) {
			hits = append(hits, w)
		}
	}
	switch {
	case len(hits) >= strongUrgency:
		return []Finding{{UrgencyLanguage, strings.Join(hits, ", "), weightUrgencyStrong}}
	case len(hits) > 0:
		return []Finding{{UrgencyLanguage, strings.Join(hits, ", "), weightUrgency}}
	}
	return nil
}

// linkMismatchRule flags links whose visible text names a different host
// than the one they point to.
func linkMismatchRule(in *input) []Finding {
	type link struct{ text, href string }
	var links []link
	for _, m := range anchorRe.FindAllStringSubmatch(in.msg.Body, -1) {
		links = append(links, link{text: tagRe.ReplaceAllString(m[2], ""), href: m[1]})
	}
	for _, m := range markdownRe.FindAllStringSubmatch(in.msg.Body, -1) {
		links = append(links, link{text: m[1], href: m[2]})
	}
	for _, l := range links {
		shown := textHost(l.text)
		if shown == "" {
			continue
		}
		target := hostOf(l.href)
		if target == "" || sameSite(shown, target) {
			continue
		}
		return []Finding{{LinkMismatch, fmt.Sprintf("shows %s but links to %s", shown, target), weightLinkMismatch}}
	}
	return nil
}

func textHost(text string) string {
	m := hostLikeRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(m[1]), "www.")
}

func hostOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func sameSite(a, b string) bool {
	return a == b || strings.HasSuffix(a, "."+b) || strings.HasSuffix(b, "."+a)
}

func urlRules(in *input) []Finding {
	var out []Finding
	seen := make(map[string]bool)
	for _, raw := range urlRe.FindAllString(in.msg.Body, -1) {
		host := hostOf(raw)
		if host == "" || seen[host] {
			continue
		}
		seen[host] = true
		for _, s := range shortenerHosts {
			if host == s || strings.HasSuffix(host, "."+s) {
				out = append(out, Finding{ShortenedURL, host, weightShortURL})
				break
			}
		}
		if net.ParseIP(host) != nil {
			out = append(out, Finding{IPAddressURL, host, weightIPURL})
		}
		for _, tld := range suspiciousTLDs {
			if strings.HasSuffix(host, tld) {
				out = append(out, Finding{SuspiciousTLD, host, weightTLD})
				break
			}
		}
	}
	return out
}

func credentialRule(in *input) []Finding {
	for _, p := range credentialPatterns {
		if loc := p.FindString(in.body); loc != "" {
			return []Finding{{CredentialRequest, "mentions " + loc, weightCredential}}
		}
	}
	return nil
}

func capsRule(in *input) []Finding {
	run := 0
	for _, w := range strings.Fields(in.raw) {
		if len(w) > 2 && isUpper(w) {
			run++
			if run >= capsRun {
				return []Finding{{AllCaps, "shouting text", weightAllCaps}}
			}
			continue
		}
		run = 0
	}
	return nil
}

func isUpper(w string) bool {
	letters := false
	for _, r := range w {
		if r >= 'a' && r <= 'z' {
			return false
		}
		if r >= 'A' && r <= 'Z' {
			letters = true
		}
	}
	return letters
}

func containsWord(text, word string) bool {
	for _, f := range strings.FieldsFunc(text, func(r rune) bool { return !(r >= 'a' && r <= 'z') }) {
		if f == word {
			return true
		}
	}
	return false
}

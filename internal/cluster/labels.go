package cluster

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/xaenox/mail-pilot/internal/features"
	"github.com/xaenox/mail-pilot/internal/llm"
	"github.com/xaenox/mail-pilot/internal/models"
)

const (
	topTerms     = 10
	excerptChars = 200
	minNameLen   = 3
	maxNameLen   = 50
)

// themes map well known mail categories to the terms that identify them.
var themes = []struct {
	label    string
	keywords []string
}{
	{"Job Notifications", []string{"job", "jobs", "apply", "position", "career", "hiring", "candidate", "developer", "engineer", "employment"}},
	{"GitHub/Development", []string{"github", "dependabot", "repository", "commit", "pull", "merge", "build", "failed", "deploy", "pipeline"}},
	{"Shopping/E-commerce", []string{"order", "buy", "purchase", "cart", "shipping", "delivery", "product", "sale", "discount", "deal"}},
	{"Streaming/Entertainment", []string{"streaming", "video", "watch", "movie", "show", "prime", "netflix", "youtube", "entertainment"}},
	{"Authentication/Security", []string{"login", "secure", "access", "password", "verification", "verify", "authenticate", "security", "account"}},
	{"Marketing/Promotions", []string{"offer", "promo", "marketing", "campaign", "newsletter", "special"}},
	{"Social Media", []string{"follow", "share", "friend", "social", "linkedin", "facebook", "twitter", "instagram"}},
	{"Finance/Banking", []string{"bank", "payment", "invoice", "billing", "credit", "finance", "money", "transaction"}},
	{"Support/Help", []string{"support", "help", "ticket", "issue", "problem", "assistance", "contact"}},
	{"News/Updates", []string{"news", "update", "announcement", "release", "latest", "information"}},
	{"Education/Learning", []string{"course", "learn", "training", "education", "tutorial", "lesson", "study"}},
	{"Travel/Booking", []string{"travel", "booking", "hotel", "flight", "trip", "reservation", "vacation"}},
	{"Meetings/Calendar", []string{"meeting", "calendar", "schedule", "call", "agenda", "invite", "availability"}},
}

var (
	namePrefixRe = regexp.MustCompile(`(?i)^(category|category name|name|label)\s*[:\-]\s*`)
	nameCharsRe  = regexp.MustCompile(`^[\p{L}\p{N} &/,'\-]+$`)
)

// topTermsOf returns the highest weighted centroid terms, ties broken
// alphabetically.
func topTermsOf(centroid []float64, terms []string, n int) []string {
	idx := make([]int, 0, len(centroid))
	for j, v := range centroid {
		if v > 0 {
			idx = append(idx, j)
		}
	}
	sort.Slice(idx, func(a, b int) bool {
		if centroid[idx[a]] != centroid[idx[b]] {
			return centroid[idx[a]] > centroid[idx[b]]
		}
		return terms[idx[a]] < terms[idx[b]]
	})
	if len(idx) > n {
		idx = idx[:n]
	}
	out := make([]string, len(idx))
	for i, j := range idx {
		out[i] = terms[j]
	}
	return out
}

// keywordLabel names a cluster from its top terms: a matching theme when one
// exists, otherwise the leading terms title-cased.
func keywordLabel(top []string) string {
	if len(top) == 0 {
		return GeneralLabel
	}
	set := make(map[string]struct{}, len(top))
	for _, t := range top {
		set[t] = struct{}{}
	}
	bestLabel, bestScore := "", 0
	for _, th := range themes {
		score := 0
		for _, k := range th.keywords {
			if _, ok := set[k]; ok {
				score++
			}
		}
		if score > bestScore {
			bestLabel, bestScore = th.label, score
		}
	}
	if bestLabel != "" {
		return bestLabel
	}

	words := top
	if len(words) > 3 {
		words = words[:3]
	}
	caser := cases.Title(language.English)
	titled := make([]string, len(words))
	for i, w := range words {
		titled[i] = caser.String(w)
	}
	if len(titled) == 1 {
		return titled[0] + " Related"
	}
	return strings.Join(titled, " & ")
}

func autoLabels(p partition, matrix features.Matrix) []string {
	if p.k <= 1 {
		return []string{GeneralLabel}
	}
	labels := make([]string, p.k)
	for c := 0; c < p.k; c++ {
		labels[c] = keywordLabel(topTermsOf(p.centroids[c], matrix.Terms, topTerms))
	}
	return dedupe(labels)
}

// dedupe suffixes repeated labels so each cluster keeps its own name.
func dedupe(labels []string) []string {
	seen := make(map[string]int, len(labels))
	out := make([]string, len(labels))
	for i, l := range labels {
		seen[l]++
		if seen[l] > 1 {
			out[i] = fmt.Sprintf("%s %d", l, seen[l])
			continue
		}
		out[i] = l
	}
	return out
}

// modelLabels asks the model to name each cluster from a few excerpts. A
// cluster whose name cannot be obtained keeps its keyword label.
func (e *Engine) modelLabels(ctx context.Context, msgs []models.Message, p partition, auto []string) ([]string, int) {
	labels := append([]string(nil), auto...)
	fallbacks := 0
	for c, idx := range members(p) {
		if len(idx) > e.opts.SamplesPerCluster {
			idx = idx[:e.opts.SamplesPerCluster]
		}
		prompt := namingPrompt(msgs, idx, auto[c])
		name, out := llm.Attempt(ctx, e.client, e.policy, prompt, cleanName, func() string { return auto[c] })
		if out.Fallback {
			fallbacks++
			e.logger.Warn("Falling back to keyword label",
				zap.Int("cluster", c),
				zap.Int("attempts", out.Attempts),
				zap.Error(out.Err))
		}
		labels[c] = name
	}
	return dedupe(labels), fallbacks
}

func namingPrompt(msgs []models.Message, idx []int, hint string) string {
	var b strings.Builder
	b.WriteString("You are organizing an email inbox. The following emails were grouped together.\n")
	b.WriteString("Give this group a short category name of 1 to 4 words.\n")
	fmt.Fprintf(&b, "Keyword hint: %s\n\n", hint)
	for i, j := range idx {
		m := msgs[j]
		fmt.Fprintf(&b, "Email %d\nFrom: %s\nSubject: %s\nExcerpt: %s\n\n", i+1, m.Sender, m.Subject, excerpt(m.Body, excerptChars))
	}
	b.WriteString("Respond with the category name only.")
	return b.String()
}

func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// cleanName reduces a model answer to a usable label or rejects it.
func cleanName(text string) (string, error) {
	line := strings.TrimSpace(text)
	if i := strings.IndexAny(line, "\r\n"); i >= 0 {
		line = line[:i]
	}
	line = namePrefixRe.ReplaceAllString(strings.TrimSpace(line), "")
	line = strings.Trim(line, " \t\"'`*.#")
	line = strings.Join(strings.Fields(line), " ")
	if n := utf8.RuneCountInString(line); n < minNameLen || n > maxNameLen {
		return "", fmt.Errorf("category name length %d out of range", n)
	}
	if !nameCharsRe.MatchString(line) {
		return "", fmt.Errorf("category name %q has unexpected characters", line)
	}
	return line, nil
}

// Package features turns email text into TF-IDF weighted term vectors.
package features

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/xaenox/mail-pilot/internal/models"
)

const (
	DefaultMaxFeatures   = 2000
	DefaultSubjectWeight = 3
	minTokenLen          = 3
)

var (
	htmlTagRe = regexp.MustCompile(`(?s)<[^>]*>`)
	urlRe     = regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+`)
	addressRe = regexp.MustCompile(`\S+@\S+`)
)

// Matrix holds one row per message, in input order. Columns follow Terms.
type Matrix struct {
	Terms []string
	Rows  [][]float64
}

// Dim returns the number of columns.
func (m Matrix) Dim() int { return len(m.Terms) }

// Extractor builds TF-IDF matrices. The zero value is not usable, use
// NewExtractor.
type Extractor struct {
	maxFeatures   int
	subjectWeight int
}

func NewExtractor(maxFeatures int) *Extractor {
	if maxFeatures <= 0 {
		maxFeatures = DefaultMaxFeatures
	}
	return &Extractor{maxFeatures: maxFeatures, subjectWeight: DefaultSubjectWeight}
}

// Tokenize normalizes text and splits it into lowercase alphabetic terms,
// dropping markup, links, addresses and stopwords.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	text = norm.NFKC.String(strings.ToValidUTF8(text, " "))
	text = htmlTagRe.ReplaceAllString(text, " ")
	text = urlRe.ReplaceAllString(text, " ")
	text = addressRe.ReplaceAllString(text, " ")
	text = strings.ToLower(text)

	fields := strings.FieldsFunc(text, func(r rune) bool { return !unicode.IsLetter(r) })
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < minTokenLen || IsStopword(f) {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// documentTokens weights the subject above the body and adds the
// meaningful labels of the sender domain.
func (e *Extractor) documentTokens(m models.Message) []string {
	subject := Tokenize(m.Subject)
	tokens := make([]string, 0, len(subject)*e.subjectWeight+64)
	for i := 0; i < e.subjectWeight; i++ {
		tokens = append(tokens, subject...)
	}
	tokens = append(tokens, Tokenize(m.Body)...)
	if domain := m.SenderDomain(); domain != "" {
		tokens = append(tokens, Tokenize(strings.ReplaceAll(domain, ".", " "))...)
	}
	return tokens
}

// Extract builds the TF-IDF matrix for msgs. Term frequency is sublinear,
// inverse document frequency is smoothed and every non-empty row is
// L2-normalized. Messages without usable text get a zero row.
func (e *Extractor) Extract(msgs []models.Message) Matrix {
	n := len(msgs)
	counts := make([]map[string]int, n)
	df := make(map[string]int)
	for i, m := range msgs {
		c := make(map[string]int)
		for _, tok := range e.documentTokens(m) {
			c[tok]++
		}
		for term := range c {
			df[term]++
		}
		counts[i] = c
	}

	idf := make(map[string]float64, len(df))
	for term, d := range df {
		idf[term] = math.Log(float64(1+n)/float64(1+d)) + 1
	}

	terms := e.vocabulary(df, idf)
	index := make(map[string]int, len(terms))
	for i, t := range terms {
		index[t] = i
	}

	rows := make([][]float64, n)
	for i, c := range counts {
		row := make([]float64, len(terms))
		for term, tf := range c {
			j, ok := index[term]
			if !ok {
				continue
			}
			row[j] = (1 + math.Log(float64(tf))) * idf[term]
		}
		normalize(row)
		rows[i] = row
	}
	return Matrix{Terms: terms, Rows: rows}
}

// vocabulary keeps the maxFeatures terms with the highest df*idf, ordered
// by that score and then alphabetically so the result is deterministic.
func (e *Extractor) vocabulary(df map[string]int, idf map[string]float64) []string {
	terms := make([]string, 0, len(df))
	for t := range df {
		terms = append(terms, t)
	}
	score := func(t string) float64 { return float64(df[t]) * idf[t] }
	sort.Slice(terms, func(i, j int) bool {
		si, sj := score(terms[i]), score(terms[j])
		if si != sj {
			return si > sj
		}
		return terms[i] < terms[j]
	})
	if len(terms) > e.maxFeatures {
		terms = terms[:e.maxFeatures]
	}
	sort.Strings(terms)
	return terms
}

func normalize(row []float64) {
	var sum float64
	for _, v := range row {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	l := math.Sqrt(sum)
	for i := range row {
		row[i] /= l
	}
}

// IsZero reports whether row carries no terms.
func IsZero(row []float64) bool {
	for _, v := range row {
		if v != 0 {
			return false
		}
	}
	return true
}

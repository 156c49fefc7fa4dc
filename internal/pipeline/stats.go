package pipeline

import (
	"math"

	"github.com/xaenox/mail-pilot/internal/models"
)

// Stats aggregates the per-message results of a run.
type Stats struct {
	Total             int                      `json:"total"`
	ByCategory        map[string]int           `json:"by_category"`
	ByRiskLevel       map[models.RiskLevel]int `json:"by_risk_level"`
	RequiringResponse int                      `json:"requiring_response"`
	CategoryRisk      map[string]float64       `json:"category_avg_risk"`
}

// Aggregate derives Stats from per-message results alone. Total counts the
// distinct messages present in any of the lists.
func Aggregate(categories []models.CategoryAssignment, risks []models.RiskAssessment, replies []models.ReplyDraft) Stats {
	st := Stats{
		ByCategory:   make(map[string]int),
		ByRiskLevel:  make(map[models.RiskLevel]int, len(models.RiskLevels)),
		CategoryRisk: make(map[string]float64),
	}
	for _, l := range models.RiskLevels {
		st.ByRiskLevel[l] = 0
	}

	seen := make(map[string]struct{})
	label := make(map[string]string, len(categories))
	for _, c := range categories {
		seen[c.MessageID] = struct{}{}
		label[c.MessageID] = c.CategoryLabel
		st.ByCategory[c.CategoryLabel]++
	}

	sums := make(map[string]int)
	counts := make(map[string]int)
	for _, r := range risks {
		seen[r.MessageID] = struct{}{}
		st.ByRiskLevel[r.RiskLevel]++
		if l, ok := label[r.MessageID]; ok {
			sums[l] += r.RiskScore
			counts[l]++
		}
	}
	for l, n := range counts {
		st.CategoryRisk[l] = math.Round(float64(sums[l])/float64(n)*10) / 10
	}

	for _, d := range replies {
		seen[d.MessageID] = struct{}{}
		if d.RequiresResponse {
			st.RequiringResponse++
		}
	}
	st.Total = len(seen)
	return st
}

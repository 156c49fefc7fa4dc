// Package cluster groups a batch of messages into labelled categories.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xaenox/mail-pilot/internal/features"
	"github.com/xaenox/mail-pilot/internal/llm"
	"github.com/xaenox/mail-pilot/internal/models"
)

// Method selects the labelling strategy of a run.
type Method string

const (
	MethodNone     Method = "none"
	MethodEnhanced Method = "enhanced"
	MethodHybrid   Method = "hybrid"
)

const (
	// DefaultLabel is given to every message when no clustering runs.
	DefaultLabel = "All Emails"
	// GeneralLabel is used when a batch collapses to a single group.
	GeneralLabel = "General"

	imbalanceShare   = 0.4
	imbalancePenalty = 0.5
	imbalanceMinSize = 10
	scoreEpsilon     = 1e-9
)

var ErrUnknownMethod = errors.New("unknown categorization method")

// ParseMethod accepts the method names plus "llm" as an alias for hybrid.
// Empty input means enhanced.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(MethodEnhanced):
		return MethodEnhanced, nil
	case string(MethodNone):
		return MethodNone, nil
	case string(MethodHybrid), "llm":
		return MethodHybrid, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
}

// Options bound the clustering search.
type Options struct {
	MinK              int
	MaxK              int
	MaxFeatures       int
	MaxIterations     int
	SamplesPerCluster int
}

func DefaultOptions() Options {
	return Options{
		MinK:              2,
		MaxK:              8,
		MaxFeatures:       features.DefaultMaxFeatures,
		MaxIterations:     100,
		SamplesPerCluster: 5,
	}
}

// Insights summarizes how a batch was grouped.
type Insights struct {
	Method          Method         `json:"method"`
	Groups          int            `json:"groups"`
	Score           float64        `json:"score"`
	Distribution    map[string]int `json:"distribution"`
	Notes           []string       `json:"notes,omitempty"`
	NamingFallbacks int            `json:"naming_fallbacks,omitempty"`
}

// Engine assigns categories. It holds no per-run state and is safe for
// concurrent use.
type Engine struct {
	opts      Options
	extractor *features.Extractor
	client    llm.Client
	policy    llm.Policy
	logger    *zap.Logger
}

func NewEngine(client llm.Client, policy llm.Policy, opts Options, logger *zap.Logger) *Engine {
	def := DefaultOptions()
	if opts.MinK < 2 {
		opts.MinK = def.MinK
	}
	if opts.MaxK < opts.MinK {
		opts.MaxK = def.MaxK
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = def.MaxIterations
	}
	if opts.SamplesPerCluster <= 0 {
		opts.SamplesPerCluster = def.SamplesPerCluster
	}
	return &Engine{
		opts:      opts,
		extractor: features.NewExtractor(opts.MaxFeatures),
		client:    client,
		policy:    policy,
		logger:    logger,
	}
}

type strategy func(e *Engine, ctx context.Context, msgs []models.Message) ([]models.CategoryAssignment, Insights)

var strategies = map[Method]strategy{
	MethodNone:     (*Engine).single,
	MethodEnhanced: (*Engine).enhanced,
	MethodHybrid:   (*Engine).hybrid,
}

// Categorize assigns one category to every message, in input order. It only
// fails for an unknown method; an unavailable model degrades hybrid to the
// enhanced labels.
func (e *Engine) Categorize(ctx context.Context, msgs []models.Message, method Method) ([]models.CategoryAssignment, Insights, error) {
	run, ok := strategies[method]
	if !ok {
		return nil, Insights{}, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	assignments, insights := run(e, ctx, msgs)
	insights.Method = method
	insights.Distribution = distribution(assignments)
	return assignments, insights, nil
}

func (e *Engine) single(_ context.Context, msgs []models.Message) ([]models.CategoryAssignment, Insights) {
	out := make([]models.CategoryAssignment, len(msgs))
	for i, m := range msgs {
		out[i] = models.CategoryAssignment{MessageID: m.ID, CategoryLabel: DefaultLabel}
	}
	return out, Insights{Groups: 1, Notes: []string{"Grouping disabled, all messages share one category"}}
}

func (e *Engine) enhanced(_ context.Context, msgs []models.Message) ([]models.CategoryAssignment, Insights) {
	matrix := e.extractor.Extract(msgs)
	p, notes := e.cluster(matrix.Rows)
	labels := autoLabels(p, matrix)
	return assign(msgs, p, labels), Insights{Groups: p.k, Score: p.score, Notes: notes}
}

func (e *Engine) hybrid(ctx context.Context, msgs []models.Message) ([]models.CategoryAssignment, Insights) {
	matrix := e.extractor.Extract(msgs)
	p, notes := e.cluster(matrix.Rows)
	labels := autoLabels(p, matrix)
	fallbacks := 0
	if p.k > 1 {
		labels, fallbacks = e.modelLabels(ctx, msgs, p, labels)
		if fallbacks > 0 {
			notes = append(notes, fmt.Sprintf("Model naming unavailable for %d of %d clusters, kept keyword labels", fallbacks, p.k))
		}
	}
	return assign(msgs, p, labels), Insights{Groups: p.k, Score: p.score, Notes: notes, NamingFallbacks: fallbacks}
}

// cluster chooses the cluster count with the best silhouette. A batch with
// fewer than two messages or too few distinct vectors collapses to one
// group.
func (e *Engine) cluster(rows [][]float64) (partition, []string) {
	n := len(rows)
	collapsed := partition{k: 1, assign: make([]int, n)}
	if n < 2 || len(rows[0]) == 0 {
		return collapsed, []string{"Too few messages to cluster, using a single category"}
	}
	distinct := distinctRows(rows)
	if len(distinct) < e.opts.MinK {
		return collapsed, []string{"Messages are too similar to cluster, using a single category"}
	}

	maxK := e.opts.MaxK
	if len(distinct) < maxK {
		maxK = len(distinct)
	}

	var best *partition
	for k := e.opts.MinK; k <= maxK; k++ {
		p := kmeans(rows, distinct, k, e.opts.MaxIterations)
		p.score = silhouette(rows, p.assign, p.k)
		if n >= imbalanceMinSize && float64(largest(p.assign, p.k)) > imbalanceShare*float64(n) && p.score > 0 {
			p.score *= imbalancePenalty
		}
		e.logger.Debug("Evaluated cluster count",
			zap.Int("k", k),
			zap.Int("groups", p.k),
			zap.Float64("score", p.score))
		if best == nil || p.score > best.score+scoreEpsilon {
			cp := p
			best = &cp
		}
	}
	if best == nil || best.k < 2 {
		return collapsed, []string{"No useful cluster split found, using a single category"}
	}
	return *best, []string{fmt.Sprintf("Selected %d clusters (silhouette %.3f)", best.k, best.score)}
}

func assign(msgs []models.Message, p partition, labels []string) []models.CategoryAssignment {
	out := make([]models.CategoryAssignment, len(msgs))
	for i, m := range msgs {
		c := p.assign[i]
		out[i] = models.CategoryAssignment{MessageID: m.ID, CategoryLabel: labels[c], ClusterID: c}
	}
	return out
}

func distribution(assignments []models.CategoryAssignment) map[string]int {
	d := make(map[string]int)
	for _, a := range assignments {
		d[a.CategoryLabel]++
	}
	return d
}

// members lists message indexes per cluster.
func members(p partition) [][]int {
	out := make([][]int, p.k)
	for i, c := range p.assign {
		out[c] = append(out[c], i)
	}
	for _, m := range out {
		sort.Ints(m)
	}
	return out
}

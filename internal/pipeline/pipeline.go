// Package pipeline runs a message batch through categorization, risk
// analysis and reply drafting while publishing progress for pollers.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xaenox/mail-pilot/internal/cluster"
	"github.com/xaenox/mail-pilot/internal/lock"
	"github.com/xaenox/mail-pilot/internal/models"
	"github.com/xaenox/mail-pilot/internal/notify"
	"github.com/xaenox/mail-pilot/internal/reply"
	"github.com/xaenox/mail-pilot/internal/risk"
	"github.com/xaenox/mail-pilot/internal/storage"
)

var (
	ErrRunActive     = errors.New("a pipeline run is already active")
	ErrNoMessages    = errors.New("no messages to process")
	ErrNoResult      = errors.New("no finished run")
	ErrInvalidMethod = errors.New("invalid categorization method")
	ErrInvalidTone   = errors.New("invalid reply tone")
	ErrInvalidBatch  = errors.New("invalid message batch")
)

const sideEffectTimeout = 10 * time.Second

// Categorizer groups a whole batch.
type Categorizer interface {
	Categorize(ctx context.Context, msgs []models.Message, method cluster.Method) ([]models.CategoryAssignment, cluster.Insights, error)
}

// RiskAssessor scores one message.
type RiskAssessor interface {
	Assess(ctx context.Context, m models.Message) models.RiskAssessment
}

// ReplyDrafter drafts the reply for one message.
type ReplyDrafter interface {
	Draft(ctx context.Context, m models.Message, category string, risk *models.RiskAssessment, tone models.Tone) models.ReplyDraft
}

// Request describes one run.
type Request struct {
	Messages            []models.Message `json:"messages"`
	Method              string           `json:"categorization_method"`
	IncludeRiskAnalysis bool             `json:"include_risk_analysis"`
	IncludeReplies      bool             `json:"include_replies"`
	Tone                string           `json:"reply_tone"`
}

type ItemResult struct {
	MessageID string           `json:"message_id"`
	State     models.ItemState `json:"state"`
	Error     string           `json:"error,omitempty"`
}

// Guidance carries advice for the levels and tone present in a run.
type Guidance struct {
	Risk map[models.RiskLevel][]string `json:"risk,omitempty"`
	Tone []string                      `json:"tone,omitempty"`
}

// Result is the final payload of a run.
type Result struct {
	RunID       string                      `json:"run_id"`
	Method      cluster.Method              `json:"method"`
	Tone        models.Tone                 `json:"tone,omitempty"`
	StartedAt   time.Time                   `json:"started_at"`
	CompletedAt time.Time                   `json:"completed_at"`
	Items       []ItemResult                `json:"items"`
	Categories  []models.CategoryAssignment `json:"categories"`
	Risks       []models.RiskAssessment     `json:"risks"`
	Replies     []models.ReplyDraft         `json:"replies"`
	Stats       Stats                       `json:"stats"`
	Insights    *cluster.Insights           `json:"insights,omitempty"`
	Guidance    Guidance                    `json:"guidance"`
	Error       string                      `json:"error,omitempty"`
}

// Handle follows one started run.
type Handle struct {
	RunID  string
	done   chan struct{}
	once   sync.Once
	result *Result
	err    error
}

func newHandle(runID string) *Handle {
	return &Handle{RunID: runID, done: make(chan struct{})}
}

func (h *Handle) finish(result *Result, err error) {
	h.once.Do(func() {
		h.result = result
		h.err = err
		close(h.done)
	})
}

// Done is closed when the run has finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the run finishes or ctx ends. A run aborted by a
// structural problem returns its result together with the error.
func (h *Handle) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type Option func(*Pipeline)

func WithStorage(s storage.Storage) Option { return func(p *Pipeline) { p.storage = s } }

func WithLocker(l lock.Locker) Option { return func(p *Pipeline) { p.locker = l } }

func WithNotifier(n notify.Notifier) Option { return func(p *Pipeline) { p.notifier = n } }

// WithRiskWorkers bounds parallel risk assessments.
func WithRiskWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.riskWorkers = n
		}
	}
}

func WithBodyLimit(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.bodyLimit = n
		}
	}
}

func WithLogLimit(n int) Option {
	return func(p *Pipeline) { p.tracker = NewTracker(n, p.logger) }
}

// Pipeline orchestrates runs. Only one run is active at a time; separate
// Pipeline values are fully independent.
type Pipeline struct {
	clusters    Categorizer
	analyzer    RiskAssessor
	replies     ReplyDrafter
	storage     storage.Storage
	locker      lock.Locker
	notifier    notify.Notifier
	tracker     *Tracker
	logger      *zap.Logger
	riskWorkers int
	bodyLimit   int
}

func New(clusters Categorizer, analyzer RiskAssessor, replies ReplyDrafter, logger *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		clusters:    clusters,
		analyzer:    analyzer,
		replies:     replies,
		locker:      lock.NopLocker{},
		notifier:    notify.NopNotifier{},
		logger:      logger,
		riskWorkers: runtime.NumCPU(),
		bodyLimit:   models.DefaultBodyLimit,
	}
	p.tracker = NewTracker(DefaultLogLimit, logger)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll returns the current state. Before any run it reports idle.
func (p *Pipeline) Poll() ProcessingState {
	return p.tracker.Snapshot()
}

// Result returns the payload of the last finished run.
func (p *Pipeline) Result() (*Result, error) {
	s := p.tracker.Snapshot()
	if s.IsRunning || s.Result == nil {
		return nil, ErrNoResult
	}
	return s.Result, nil
}

type plan struct {
	runID   string
	msgs    []models.Message
	method  cluster.Method
	tone    models.Tone
	risk    bool
	replies bool
	started time.Time
}

// Run starts a run in the background. While another run is active it
// returns ErrRunActive and changes nothing. Problems with the request
// itself end the run in the error stage; they are reported through the
// handle and the state, not as an error from Run.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Handle, error) {
	if p.tracker.Snapshot().IsRunning {
		return nil, ErrRunActive
	}
	runID := uuid.NewString()

	ok, err := p.locker.Acquire(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, ErrRunActive
	}
	if err := p.tracker.begin(runID, req.Messages); err != nil {
		p.release(ctx, runID)
		return nil, err
	}

	h := newHandle(runID)
	pl, err := p.prepare(runID, req)
	if err != nil {
		res := p.abort(ctx, runID, pl, err)
		h.finish(res, err)
		return h, nil
	}

	go p.execute(context.WithoutCancel(ctx), h, pl)
	return h, nil
}

// RunSync runs to completion and returns the result.
func (p *Pipeline) RunSync(ctx context.Context, req Request) (*Result, error) {
	h, err := p.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	return h.Wait(ctx)
}

func (p *Pipeline) prepare(runID string, req Request) (plan, error) {
	pl := plan{runID: runID, risk: req.IncludeRiskAnalysis, replies: req.IncludeReplies, started: time.Now()}
	if s := p.tracker.Snapshot(); s.StartedAt != nil {
		pl.started = *s.StartedAt
	}

	method, err := cluster.ParseMethod(req.Method)
	if err != nil {
		return pl, fmt.Errorf("%w: %q", ErrInvalidMethod, req.Method)
	}
	pl.method = method

	tone, ok := models.ParseTone(req.Tone)
	if !ok {
		return pl, fmt.Errorf("%w: %q", ErrInvalidTone, req.Tone)
	}
	pl.tone = tone

	if len(req.Messages) == 0 {
		return pl, ErrNoMessages
	}
	seen := make(map[string]struct{}, len(req.Messages))
	pl.msgs = make([]models.Message, len(req.Messages))
	for i, m := range req.Messages {
		if strings.TrimSpace(m.ID) == "" {
			return pl, fmt.Errorf("%w: message %d has no id", ErrInvalidBatch, i)
		}
		if _, dup := seen[m.ID]; dup {
			return pl, fmt.Errorf("%w: duplicate message id %q", ErrInvalidBatch, m.ID)
		}
		seen[m.ID] = struct{}{}
		pl.msgs[i] = m.Truncated(p.bodyLimit)
	}
	return pl, nil
}

// abort ends a run that cannot proceed.
func (p *Pipeline) abort(ctx context.Context, runID string, pl plan, cause error) *Result {
	res := &Result{
		RunID:       runID,
		Method:      pl.method,
		Tone:        pl.tone,
		StartedAt:   pl.started,
		CompletedAt: time.Now(),
		Categories:  []models.CategoryAssignment{},
		Risks:       []models.RiskAssessment{},
		Replies:     []models.ReplyDraft{},
		Error:       cause.Error(),
	}
	res.Stats = Aggregate(nil, nil, nil)
	p.release(ctx, runID)
	items := p.tracker.finish(models.StageError, res, cause.Error())
	p.persist(ctx, res, models.StageError, items)
	return res
}

func (p *Pipeline) release(ctx context.Context, runID string) {
	if err := p.locker.Release(context.WithoutCancel(ctx), runID); err != nil {
		p.logger.Warn("Failed to release run lock", zap.String("run_id", runID), zap.Error(err))
	}
}

// execute drives a prepared run. The lease is released before the terminal
// state is published, so a poller that sees the run finished can start the
// next one straight away.
func (p *Pipeline) execute(ctx context.Context, h *Handle, pl plan) {
	res := &Result{
		RunID:      pl.runID,
		Method:     pl.method,
		StartedAt:  pl.started,
		Categories: []models.CategoryAssignment{},
		Risks:      []models.RiskAssessment{},
		Replies:    []models.ReplyDraft{},
	}
	if pl.replies {
		res.Tone = pl.tone
	}

	finished := false
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err := fmt.Errorf("run panicked: %v", r)
		if finished {
			p.logger.Error("Panic after run completed", zap.String("run_id", pl.runID), zap.Error(err))
			h.finish(res, nil)
			return
		}
		p.logger.Error("Run aborted", zap.String("run_id", pl.runID), zap.Error(err))
		res = p.abort(ctx, pl.runID, pl, err)
		h.finish(res, err)
	}()

	valid := p.fetchStage(pl)

	labels, err := p.categorizeStage(ctx, pl, valid, res)
	if err != nil {
		res = p.abort(ctx, pl.runID, pl, err)
		h.finish(res, err)
		return
	}

	risks := make(map[string]*models.RiskAssessment)
	if pl.risk {
		valid = p.analyzeStage(ctx, valid, res, risks)
	}
	if pl.replies {
		p.replyStage(ctx, pl, valid, labels, risks, res)
	}

	res.CompletedAt = time.Now()
	res.Stats = Aggregate(res.Categories, res.Risks, res.Replies)
	res.Guidance = guidance(res, pl)
	p.release(ctx, pl.runID)
	items := p.tracker.finish(models.StageComplete, res, "")
	finished = true
	p.persist(ctx, res, models.StageComplete, items)
	h.finish(res, nil)
}

// fetchStage checks every message and returns the usable ones.
func (p *Pipeline) fetchStage(pl plan) []models.Message {
	p.tracker.setStage(models.StageFetching, fmt.Sprintf("Loaded %d messages", len(pl.msgs)))
	valid := make([]models.Message, 0, len(pl.msgs))
	for _, m := range pl.msgs {
		if strings.TrimSpace(m.Sender) == "" && strings.TrimSpace(m.Subject) == "" && strings.TrimSpace(m.Body) == "" {
			p.tracker.setItem(m.ID, models.ItemError, "message has no sender, subject or body")
			p.tracker.log(LevelWarning, "Skipping empty message", m.ID)
		} else {
			valid = append(valid, m)
		}
		p.tracker.stepDone(len(pl.msgs))
	}
	p.tracker.log(LevelInfo, fmt.Sprintf("Loaded %d messages (%d usable)", len(pl.msgs), len(valid)), "")
	return valid
}

func (p *Pipeline) categorizeStage(ctx context.Context, pl plan, msgs []models.Message, res *Result) (map[string]string, error) {
	p.tracker.setStage(models.StageCategorizing, fmt.Sprintf("Categorizing %d messages", len(msgs)))
	p.tracker.log(LevelInfo, fmt.Sprintf("Categorizing with method %s", pl.method), "")
	for _, m := range msgs {
		p.tracker.setItem(m.ID, models.ItemCategorizing, "")
	}

	labels := make(map[string]string, len(msgs))
	if len(msgs) == 0 {
		return labels, nil
	}
	assignments, insights, err := p.clusters.Categorize(ctx, msgs, pl.method)
	if err != nil {
		return nil, fmt.Errorf("categorize: %w", err)
	}
	for _, note := range insights.Notes {
		p.tracker.log(LevelInfo, note, "")
	}
	res.Insights = &insights

	for _, a := range assignments {
		labels[a.MessageID] = a.CategoryLabel
		res.Categories = append(res.Categories, a)
		p.tracker.setItem(a.MessageID, models.ItemCategorized, "")
		p.tracker.log(LevelSuccess, fmt.Sprintf("Categorized as %s", a.CategoryLabel), a.MessageID)
		p.tracker.stepDone(len(msgs))
	}
	return labels, nil
}

type riskOutcome struct {
	assessment models.RiskAssessment
	err        error
}

func (p *Pipeline) assessOne(ctx context.Context, m models.Message) (out riskOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out.err = fmt.Errorf("risk analysis panicked: %v", r)
		}
	}()
	return riskOutcome{assessment: p.analyzer.Assess(ctx, m)}
}

// analyzeStage scores messages in parallel but records their progress in
// submission order. It returns the messages that were analyzed.
func (p *Pipeline) analyzeStage(ctx context.Context, msgs []models.Message, res *Result, risks map[string]*models.RiskAssessment) []models.Message {
	p.tracker.setStage(models.StageAnalyzing, fmt.Sprintf("Analyzing %d messages for phishing", len(msgs)))

	slots := make([]chan riskOutcome, len(msgs))
	for i := range slots {
		slots[i] = make(chan riskOutcome, 1)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.riskWorkers)
	go func() {
		for i, m := range msgs {
			g.Go(func() error {
				slots[i] <- p.assessOne(gctx, m)
				return nil
			})
		}
		_ = g.Wait()
	}()

	ok := make([]models.Message, 0, len(msgs))
	for i, m := range msgs {
		p.tracker.setItem(m.ID, models.ItemAnalyzingPhishing, "")
		out := <-slots[i]
		if out.err != nil {
			p.tracker.setItem(m.ID, models.ItemError, out.err.Error())
			p.tracker.log(LevelError, "Risk analysis failed: "+out.err.Error(), m.ID)
			p.tracker.stepDone(len(msgs))
			continue
		}
		a := out.assessment
		res.Risks = append(res.Risks, a)
		p.tracker.setItem(m.ID, models.ItemAnalyzed, "")
		level := LevelInfo
		if a.RiskLevel == models.RiskHigh || a.RiskLevel == models.RiskMedium {
			level = LevelWarning
		}
		p.tracker.log(level, fmt.Sprintf("Risk %s (%d)", a.RiskLevel, a.RiskScore), m.ID)
		p.tracker.stepDone(len(msgs))
		ok = append(ok, m)
	}
	for i := range res.Risks {
		risks[res.Risks[i].MessageID] = &res.Risks[i]
	}
	return ok
}

func (p *Pipeline) draftOne(ctx context.Context, m models.Message, label string, ra *models.RiskAssessment, tone models.Tone) (d models.ReplyDraft, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reply drafting panicked: %v", r)
		}
	}()
	return p.replies.Draft(ctx, m, label, ra, tone), nil
}

func (p *Pipeline) replyStage(ctx context.Context, pl plan, msgs []models.Message, labels map[string]string, risks map[string]*models.RiskAssessment, res *Result) {
	p.tracker.setStage(models.StageGeneratingReplies, fmt.Sprintf("Drafting replies for %d messages", len(msgs)))
	for _, m := range msgs {
		p.tracker.setItem(m.ID, models.ItemGeneratingReply, "")
		d, err := p.draftOne(ctx, m, labels[m.ID], risks[m.ID], pl.tone)
		if err != nil {
			p.tracker.setItem(m.ID, models.ItemError, err.Error())
			p.tracker.log(LevelError, "Reply drafting failed: "+err.Error(), m.ID)
			p.tracker.stepDone(len(msgs))
			continue
		}
		res.Replies = append(res.Replies, d)
		p.tracker.setItem(m.ID, models.ItemCompleted, "")
		if d.RequiresResponse {
			p.tracker.log(LevelSuccess, fmt.Sprintf("Drafted %s reply (confidence %d)", d.Tone, d.Confidence), m.ID)
		} else {
			p.tracker.log(LevelInfo, "No reply needed: "+d.Reason, m.ID)
		}
		p.tracker.stepDone(len(msgs))
	}
}

func guidance(res *Result, pl plan) Guidance {
	g := Guidance{}
	for level, n := range res.Stats.ByRiskLevel {
		if n == 0 {
			continue
		}
		if g.Risk == nil {
			g.Risk = make(map[models.RiskLevel][]string)
		}
		g.Risk[level] = risk.Recommendations(level)
	}
	if pl.replies {
		g.Tone = reply.Suggestions(pl.tone)
	}
	return g
}

func itemResults(items []ItemStatus) []ItemResult {
	out := make([]ItemResult, len(items))
	for i, it := range items {
		out[i] = ItemResult{MessageID: it.MessageID, State: it.State, Error: it.Error}
	}
	return out
}

// persist stores and announces a finished run. items is the final item
// state of that run. Failures and panics are logged only.
func (p *Pipeline) persist(ctx context.Context, res *Result, stage models.Stage, items []ItemStatus) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Run side effects panicked", zap.String("run_id", res.RunID), zap.Any("panic", r))
		}
	}()

	if p.storage != nil {
		payload, err := json.Marshal(res)
		if err != nil {
			p.logger.Error("Failed to encode run result", zap.String("run_id", res.RunID), zap.Error(err))
		} else {
			rec := &models.RunRecord{
				ID:          res.RunID,
				Method:      string(res.Method),
				Stage:       string(stage),
				Total:       len(res.Items),
				StartedAt:   res.StartedAt,
				CompletedAt: res.CompletedAt,
				Payload:     payload,
			}
			if err := p.storage.SaveRun(ctx, rec); err != nil {
				p.logger.Error("Failed to save run", zap.String("run_id", res.RunID), zap.Error(err))
			}
		}
	}

	if err := p.notifier.Notify(ctx, summarize(res, stage, items)); err != nil {
		p.logger.Warn("Failed to send run notification", zap.String("run_id", res.RunID), zap.Error(err))
	}
}

func summarize(res *Result, stage models.Stage, items []ItemStatus) notify.Summary {
	s := notify.Summary{
		RunID:             res.RunID,
		Method:            string(res.Method),
		Stage:             string(stage),
		Total:             len(res.Items),
		ByCategory:        res.Stats.ByCategory,
		ByRiskLevel:       make(map[string]int, len(res.Stats.ByRiskLevel)),
		RequiringResponse: res.Stats.RequiringResponse,
		Error:             res.Error,
		Duration:          res.CompletedAt.Sub(res.StartedAt),
	}
	for level, n := range res.Stats.ByRiskLevel {
		s.ByRiskLevel[string(level)] = n
	}
	for _, it := range res.Items {
		if it.State == models.ItemError {
			s.Failed++
		}
	}
	subjects := make(map[string]string, len(items))
	for _, it := range items {
		subjects[it.MessageID] = it.Subject
	}
	for _, r := range res.Risks {
		if r.RiskLevel == models.RiskHigh {
			s.HighRisk = append(s.HighRisk, subjects[r.MessageID])
		}
	}
	return s
}

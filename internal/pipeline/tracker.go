package pipeline

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xaenox/mail-pilot/internal/models"
)

// LogLevel grades an event log entry.
type LogLevel string

const (
	LevelInfo    LogLevel = "info"
	LevelSuccess LogLevel = "success"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
)

const (
	DefaultLogLimit = 100
	subjectPreview  = 50
)

// stageWeights is the share of overall progress owned by each working
// stage, in pipeline order.
var stageWeights = []struct {
	stage  models.Stage
	weight int
}{
	{models.StageFetching, 10},
	{models.StageCategorizing, 40},
	{models.StageAnalyzing, 30},
	{models.StageGeneratingReplies, 15},
}

type LogEntry struct {
	Time      time.Time `json:"time"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	MessageID string    `json:"message_id,omitempty"`
}

type ItemStatus struct {
	MessageID string           `json:"message_id"`
	Subject   string           `json:"subject"`
	Sender    string           `json:"sender"`
	State     models.ItemState `json:"state"`
	Error     string           `json:"error,omitempty"`
}

// ProcessingState is the observable progress of the current or last run.
type ProcessingState struct {
	RunID          string       `json:"run_id,omitempty"`
	Stage          models.Stage `json:"stage"`
	StageProgress  int          `json:"stage_progress"`
	Progress       int          `json:"progress"`
	CurrentStep    string       `json:"current_step"`
	TotalMessages  int          `json:"total_messages"`
	ProcessedCount int          `json:"processed_count"`
	CurrentMessage string       `json:"current_message,omitempty"`
	Items          []ItemStatus `json:"per_message_status"`
	EventLog       []LogEntry   `json:"event_log"`
	IsRunning      bool         `json:"is_running"`
	StartedAt      *time.Time   `json:"started_at,omitempty"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	Result         *Result      `json:"result,omitempty"`
	Error          string       `json:"error,omitempty"`
}

func (s *ProcessingState) clone() *ProcessingState {
	cp := *s
	cp.Items = append([]ItemStatus(nil), s.Items...)
	cp.EventLog = append([]LogEntry(nil), s.EventLog...)
	if s.StartedAt != nil {
		t := *s.StartedAt
		cp.StartedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		cp.CompletedAt = &t
	}
	cp.Result = s.Result.clone()
	return &cp
}

// clone deep copies r so a poller holding a snapshot can never alias the
// published state.
func (r *Result) clone() *Result {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Items = slices.Clone(r.Items)
	cp.Categories = slices.Clone(r.Categories)
	cp.Risks = slices.Clone(r.Risks)
	for i := range cp.Risks {
		cp.Risks[i].Indicators = slices.Clone(cp.Risks[i].Indicators)
		if ms := cp.Risks[i].ModelScore; ms != nil {
			v := *ms
			cp.Risks[i].ModelScore = &v
		}
	}
	cp.Replies = slices.Clone(r.Replies)
	for i := range cp.Replies {
		cp.Replies[i].KeyPoints = slices.Clone(cp.Replies[i].KeyPoints)
		if q := cp.Replies[i].Quality; q != nil {
			qc := *q
			qc.Issues = slices.Clone(q.Issues)
			cp.Replies[i].Quality = &qc
		}
	}
	cp.Stats.ByCategory = maps.Clone(r.Stats.ByCategory)
	cp.Stats.ByRiskLevel = maps.Clone(r.Stats.ByRiskLevel)
	cp.Stats.CategoryRisk = maps.Clone(r.Stats.CategoryRisk)
	if r.Insights != nil {
		in := *r.Insights
		in.Distribution = maps.Clone(r.Insights.Distribution)
		in.Notes = slices.Clone(r.Insights.Notes)
		cp.Insights = &in
	}
	if r.Guidance.Risk != nil {
		cp.Guidance.Risk = make(map[models.RiskLevel][]string, len(r.Guidance.Risk))
		for level, recs := range r.Guidance.Risk {
			cp.Guidance.Risk[level] = slices.Clone(recs)
		}
	}
	cp.Guidance.Tone = slices.Clone(r.Guidance.Tone)
	return &cp
}

// Tracker owns the ProcessingState. Writers serialize on a mutex and
// publish a fresh copy after every change, so readers never wait on them.
type Tracker struct {
	mu       sync.Mutex
	state    atomic.Pointer[ProcessingState]
	index    map[string]int
	logLimit int
	logger   *zap.Logger
	now      func() time.Time
}

func NewTracker(logLimit int, logger *zap.Logger) *Tracker {
	if logLimit <= 0 {
		logLimit = DefaultLogLimit
	}
	t := &Tracker{
		index:    make(map[string]int),
		logLimit: logLimit,
		logger:   logger,
		now:      time.Now,
	}
	t.state.Store(&ProcessingState{
		Stage:       models.StageIdle,
		CurrentStep: "Waiting for a run",
		Items:       []ItemStatus{},
		EventLog:    []LogEntry{},
	})
	return t
}

// Snapshot returns a copy of the current state. It never blocks.
func (t *Tracker) Snapshot() ProcessingState {
	return *t.state.Load().clone()
}

func (t *Tracker) update(fn func(s *ProcessingState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := t.state.Load().clone()
	fn(next)
	t.state.Store(next)
}

func preview(subject string) string {
	if utf8.RuneCountInString(subject) <= subjectPreview {
		return subject
	}
	return string([]rune(subject)[:subjectPreview]) + "..."
}

// begin replaces the previous run's state. It fails without touching
// anything while a run is active.
func (t *Tracker) begin(runID string, msgs []models.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Load().IsRunning {
		return ErrRunActive
	}

	now := t.now()
	items := make([]ItemStatus, len(msgs))
	index := make(map[string]int, len(msgs))
	for i, m := range msgs {
		items[i] = ItemStatus{MessageID: m.ID, Subject: preview(m.Subject), Sender: m.Sender, State: models.ItemPending}
		if _, dup := index[m.ID]; !dup {
			index[m.ID] = i
		}
	}
	t.index = index
	s := &ProcessingState{
		RunID:         runID,
		Stage:         models.StageFetching,
		CurrentStep:   "Loading messages",
		TotalMessages: len(msgs),
		Items:         items,
		EventLog:      []LogEntry{},
		IsRunning:     true,
		StartedAt:     &now,
	}
	t.appendLog(s, LevelInfo, "Run started", "")
	t.state.Store(s)
	return nil
}

// appendLog must be called with mu held.
func (t *Tracker) appendLog(s *ProcessingState, level LogLevel, msg, messageID string) {
	s.EventLog = append(s.EventLog, LogEntry{Time: t.now(), Level: level, Message: msg, MessageID: messageID})
	if over := len(s.EventLog) - t.logLimit; over > 0 {
		s.EventLog = append([]LogEntry(nil), s.EventLog[over:]...)
	}

	fields := []zap.Field{zap.String("run_id", s.RunID), zap.String("stage", string(s.Stage))}
	if messageID != "" {
		fields = append(fields, zap.String("message_id", messageID))
	}
	switch level {
	case LevelError:
		t.logger.Error(msg, fields...)
	case LevelWarning:
		t.logger.Warn(msg, fields...)
	default:
		t.logger.Info(msg, fields...)
	}
}

func (t *Tracker) log(level LogLevel, msg, messageID string) {
	t.update(func(s *ProcessingState) { t.appendLog(s, level, msg, messageID) })
}

func (t *Tracker) setStage(stage models.Stage, step string) {
	t.update(func(s *ProcessingState) {
		s.Stage = stage
		s.CurrentStep = step
		s.StageProgress = 0
		s.ProcessedCount = 0
		s.CurrentMessage = ""
		s.Progress = overall(stage, 0)
	})
}

// setItem moves one item forward. A move that would regress the item is
// ignored.
func (t *Tracker) setItem(id string, next models.ItemState, errMsg string) bool {
	moved := false
	t.update(func(s *ProcessingState) {
		i, ok := t.index[id]
		if !ok {
			return
		}
		cur := s.Items[i].State
		if !cur.CanTransition(next) {
			t.logger.Debug("Ignored item transition",
				zap.String("message_id", id),
				zap.String("from", string(cur)),
				zap.String("to", string(next)))
			return
		}
		s.Items[i].State = next
		if next == models.ItemError {
			s.Items[i].Error = errMsg
		}
		if !next.Terminal() {
			s.CurrentMessage = id
		}
		moved = true
	})
	return moved
}

// stepDone records that one more message finished the current stage.
func (t *Tracker) stepDone(total int) {
	t.update(func(s *ProcessingState) {
		s.ProcessedCount++
		if total > 0 {
			s.StageProgress = s.ProcessedCount * 100 / total
		} else {
			s.StageProgress = 100
		}
		s.Progress = overall(s.Stage, s.StageProgress)
	})
}

// finish closes the run. Items still in flight are resolved to completed
// on success and to error otherwise. It returns a copy of the final item
// states.
func (t *Tracker) finish(stage models.Stage, result *Result, errMsg string) []ItemStatus {
	var items []ItemStatus
	t.update(func(s *ProcessingState) {
		now := t.now()
		for i := range s.Items {
			if s.Items[i].State.Terminal() {
				continue
			}
			if stage == models.StageComplete {
				s.Items[i].State = models.ItemCompleted
			} else {
				s.Items[i].State = models.ItemError
				s.Items[i].Error = errMsg
			}
		}
		if result != nil {
			result.Items = itemResults(s.Items)
		}
		s.Stage = stage
		s.IsRunning = false
		s.CompletedAt = &now
		s.CurrentMessage = ""
		s.Result = result.clone()
		s.Error = errMsg
		if stage == models.StageComplete {
			s.StageProgress = 100
			s.Progress = 100
			s.CurrentStep = "Processing complete"
			t.appendLog(s, LevelSuccess, "Run complete", "")
		} else {
			s.CurrentStep = "Processing failed"
			t.appendLog(s, LevelError, "Run failed: "+errMsg, "")
		}
		items = slices.Clone(s.Items)
	})
	return items
}

// overall converts a stage position into a 0-99 run percentage.
func overall(stage models.Stage, stageProgress int) int {
	if stage == models.StageComplete {
		return 100
	}
	done := 0
	for _, sw := range stageWeights {
		if sw.stage == stage {
			p := done + sw.weight*stageProgress/100
			if p > 99 {
				p = 99
			}
			return p
		}
		done += sw.weight
	}
	return 0
}

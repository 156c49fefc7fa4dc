package models

// Stage is a phase of the pipeline's global state machine.
type Stage string

const (
	StageIdle              Stage = "idle"
	StageFetching          Stage = "fetching"
	StageCategorizing      Stage = "categorizing"
	StageAnalyzing         Stage = "analyzing"
	StageGeneratingReplies Stage = "generating_replies"
	StageComplete          Stage = "complete"
	StageError             Stage = "error"
)

// Terminal reports whether no further stage follows.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageError
}

// ItemState is the progress of a single message through a run.
type ItemState string

const (
	ItemPending           ItemState = "pending"
	ItemCategorizing      ItemState = "categorizing"
	ItemCategorized       ItemState = "categorized"
	ItemAnalyzingPhishing ItemState = "analyzing_phishing"
	ItemAnalyzed          ItemState = "analyzed"
	ItemGeneratingReply   ItemState = "generating_reply"
	ItemCompleted         ItemState = "completed"
	ItemError             ItemState = "error"
)

var itemRank = map[ItemState]int{
	ItemPending:           0,
	ItemCategorizing:      1,
	ItemCategorized:       2,
	ItemAnalyzingPhishing: 3,
	ItemAnalyzed:          4,
	ItemGeneratingReply:   5,
	ItemCompleted:         6,
}

// Terminal reports whether the item has finished the run.
func (s ItemState) Terminal() bool {
	return s == ItemCompleted || s == ItemError
}

// CanTransition reports whether moving from s to next keeps the item moving
// forward. Error is reachable from every non-terminal state.
func (s ItemState) CanTransition(next ItemState) bool {
	if s.Terminal() {
		return false
	}
	if next == ItemError {
		return true
	}
	from, ok := itemRank[s]
	if !ok {
		return false
	}
	to, ok := itemRank[next]
	return ok && to > from
}

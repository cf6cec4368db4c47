package flow

import "github.com/BTreeMap/TourneyPipe/internal/models"

// ActionKind tells the conductor what to do next.
type ActionKind int

const (
	// ActionPrompt asks the question at NextAction.Index.
	ActionPrompt ActionKind = iota
	// ActionComplete finishes the session.
	ActionComplete
)

// NextAction is the result of the transition function.
type NextAction struct {
	Kind     ActionKind
	Index    int
	Question models.QuestionSpec
}

// Next computes, without side effects, the first non-skipped question at or after
// the session cursor.
func Next(reg *Registry, s *Session) NextAction {
	i := s.Cursor
	if i < 0 {
		i = 0
	}
	for ; i < reg.Len(); i++ {
		q := reg.At(i)
		if !s.IsSkipped(q) {
			return NextAction{Kind: ActionPrompt, Index: i, Question: q}
		}
	}
	return NextAction{Kind: ActionComplete, Index: reg.Len()}
}

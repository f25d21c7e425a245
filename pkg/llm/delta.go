package llm

import "strings"

// DeltaTracker normalizes the two upstream delta styles into one stream.
// Providers that send cumulative text per event go through the Observe
// methods, which emit only the suffix added since the last event. Providers
// that send native increments go through the Append methods.
//
// Thought and answer text are tracked independently. The first non-empty
// answer delta closes the thought phase exactly once.
type DeltaTracker struct {
	handler StreamHandler

	thought strings.Builder
	answer  strings.Builder

	thoughtClosed bool
}

func NewDeltaTracker(handler StreamHandler) *DeltaTracker {
	return &DeltaTracker{handler: handler}
}

// ObserveThought takes the cumulative thought text seen so far and emits the
// new suffix. A duplicate or non-extending value emits nothing.
func (t *DeltaTracker) ObserveThought(cumulative string) {
	delta := suffixOf(t.thought.String(), cumulative)
	if delta == "" {
		return
	}
	t.AppendThought(delta)
}

// ObserveAnswer is ObserveThought for the answer stream.
func (t *DeltaTracker) ObserveAnswer(cumulative string) {
	delta := suffixOf(t.answer.String(), cumulative)
	if delta == "" {
		return
	}
	t.AppendAnswer(delta)
}

// AppendThought records a native incremental thought delta.
func (t *DeltaTracker) AppendThought(delta string) {
	if delta == "" || t.thoughtClosed {
		return
	}
	t.thought.WriteString(delta)
	if t.handler.OnThoughtDelta != nil {
		t.handler.OnThoughtDelta(delta)
	}
}

// AppendAnswer records a native incremental answer delta.
func (t *DeltaTracker) AppendAnswer(delta string) {
	if delta == "" {
		return
	}
	t.CloseThought()
	t.answer.WriteString(delta)
	if t.handler.OnAnswerDelta != nil {
		t.handler.OnAnswerDelta(delta)
	}
}

// CloseThought ends the thought phase. Safe to call repeatedly; only the
// first call fires the callback.
func (t *DeltaTracker) CloseThought() {
	if t.thoughtClosed {
		return
	}
	t.thoughtClosed = true
	if t.handler.OnThoughtDone != nil {
		t.handler.OnThoughtDone()
	}
}

// Result returns the accumulated generation output.
func (t *DeltaTracker) Result() *Result {
	return &Result{
		Text:           t.answer.String(),
		ThoughtContent: t.thought.String(),
	}
}

// suffixOf returns what cumulative adds on top of seen. When cumulative does
// not extend seen (shorter, equal, or diverged) there is no new text.
func suffixOf(seen, cumulative string) string {
	if len(cumulative) <= len(seen) {
		return ""
	}
	if !strings.HasPrefix(cumulative, seen) {
		return ""
	}
	return cumulative[len(seen):]
}

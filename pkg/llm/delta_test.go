package llm

import (
	"testing"
)

func collectingHandler(thoughts, answers *[]string, doneCount *int) StreamHandler {
	return StreamHandler{
		OnThoughtDelta: func(d string) { *thoughts = append(*thoughts, d) },
		OnAnswerDelta:  func(d string) { *answers = append(*answers, d) },
		OnThoughtDone:  func() { *doneCount++ },
	}
}

func TestObserveAnswerCumulative(t *testing.T) {
	tests := []struct {
		name       string
		cumulative []string
		wantDeltas []string
		wantText   string
	}{
		{
			name:       "monotonic growth",
			cumulative: []string{"A", "AB", "ABC"},
			wantDeltas: []string{"A", "B", "C"},
			wantText:   "ABC",
		},
		{
			name:       "duplicate event emits nothing",
			cumulative: []string{"A", "A", "AB"},
			wantDeltas: []string{"A", "B"},
			wantText:   "AB",
		},
		{
			name:       "shrinking event emits nothing",
			cumulative: []string{"ABC", "AB"},
			wantDeltas: []string{"ABC"},
			wantText:   "ABC",
		},
		{
			name:       "diverged event emits nothing",
			cumulative: []string{"AB", "XYZQ"},
			wantDeltas: []string{"AB"},
			wantText:   "AB",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var thoughts, answers []string
			var done int
			tracker := NewDeltaTracker(collectingHandler(&thoughts, &answers, &done))

			for _, c := range tt.cumulative {
				tracker.ObserveAnswer(c)
			}

			if len(answers) != len(tt.wantDeltas) {
				t.Fatalf("deltas = %q, want %q", answers, tt.wantDeltas)
			}
			for i := range answers {
				if answers[i] != tt.wantDeltas[i] {
					t.Errorf("delta[%d] = %q, want %q", i, answers[i], tt.wantDeltas[i])
				}
			}
			if got := tracker.Result().Text; got != tt.wantText {
				t.Errorf("Text = %q, want %q", got, tt.wantText)
			}
			for _, d := range answers {
				if d == "" {
					t.Error("callback fired with empty delta")
				}
			}
		})
	}
}

func TestThoughtDoneFiresOnceOnFirstAnswer(t *testing.T) {
	var thoughts, answers []string
	var done int
	tracker := NewDeltaTracker(collectingHandler(&thoughts, &answers, &done))

	tracker.ObserveThought("thinking")
	tracker.ObserveThought("thinking more")
	if done != 0 {
		t.Fatalf("thought done fired before any answer, count=%d", done)
	}

	tracker.ObserveAnswer("Hi")
	tracker.ObserveAnswer("Hi there")
	if done != 1 {
		t.Fatalf("thought done count = %d, want 1", done)
	}

	// Late thought tokens after the answer phase started are dropped.
	tracker.ObserveThought("thinking more and more")
	if got := tracker.Result().ThoughtContent; got != "thinking more" {
		t.Errorf("ThoughtContent = %q, want %q", got, "thinking more")
	}
	if got := tracker.Result().Text; got != "Hi there" {
		t.Errorf("Text = %q, want %q", got, "Hi there")
	}
}

func TestThoughtDoneWithoutAnyThoughts(t *testing.T) {
	var thoughts, answers []string
	var done int
	tracker := NewDeltaTracker(collectingHandler(&thoughts, &answers, &done))

	tracker.AppendAnswer("answer")
	if done != 1 {
		t.Fatalf("thought done count = %d, want 1", done)
	}
	if len(thoughts) != 0 {
		t.Errorf("unexpected thought deltas: %q", thoughts)
	}

	tracker.CloseThought()
	if done != 1 {
		t.Errorf("thought done fired twice")
	}
}

func TestAppendNativeDeltas(t *testing.T) {
	var thoughts, answers []string
	var done int
	tracker := NewDeltaTracker(collectingHandler(&thoughts, &answers, &done))

	tracker.AppendThought("let me ")
	tracker.AppendThought("see")
	tracker.AppendAnswer("42")

	res := tracker.Result()
	if res.ThoughtContent != "let me see" {
		t.Errorf("ThoughtContent = %q", res.ThoughtContent)
	}
	if res.Text != "42" {
		t.Errorf("Text = %q", res.Text)
	}
	if done != 1 {
		t.Errorf("thought done count = %d, want 1", done)
	}
}

package quiz

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

type stubSource struct {
	qs []Question
}

func (s *stubSource) QuestionsForLesson(_ context.Context, _, _ int64) ([]Question, error) {
	return s.qs, nil
}

func (s *stubSource) AllQuestions(_ context.Context) ([]Question, error) {
	return s.qs, nil
}

type captureSink struct {
	mu      sync.Mutex
	calls   int
	answers []Answer
	err     error

	entered chan struct{} // closed-ish signal: one send per Evaluate
	release chan struct{} // Evaluate blocks on this when non-nil
}

func (c *captureSink) Evaluate(_ context.Context, _ int64, _ *int64, answers []Answer) (*Result, error) {
	if c.entered != nil {
		c.entered <- struct{}{}
	}
	if c.release != nil {
		<-c.release
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.answers = answers
	if c.err != nil {
		return nil, c.err
	}
	return &Result{Message: "Evaluación procesada", Score: 100}, nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func sampleQuestions() []Question {
	return []Question{
		{
			ID:                      1,
			TextoPregunta:           "2+2?",
			Opciones:                []string{"1", "2", "3", "4", "5", "6"},
			RespuestaCorrectaIndice: 3,
		},
		{
			ID:                      2,
			TextoPregunta:           "3*3?",
			Opciones:                []string{"6", "9", "12"},
			RespuestaCorrectaIndice: 1,
		},
	}
}

func TestStartShufflesWithoutLosingOptions(t *testing.T) {
	engine := NewEngine(&stubSource{qs: sampleQuestions()}, &captureSink{})

	view, err := engine.Start(context.Background(), 7, 1, false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(view.Questions) != 2 {
		t.Fatalf("questions: got %d, want 2", len(view.Questions))
	}

	got := append([]string(nil), view.Questions[0].Opciones...)
	want := []string{"1", "2", "3", "4", "5", "6"}
	sort.Strings(got)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("display options are not a permutation: %v", view.Questions[0].Opciones)
		}
	}
}

func TestSubmitMapsDisplayChoiceToCanonicalIndex(t *testing.T) {
	sink := &captureSink{}
	engine := NewEngine(&stubSource{qs: sampleQuestions()}, sink)

	view, err := engine.Start(context.Background(), 7, 1, false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// pick "4" for question 1 wherever the shuffle put it
	display := -1
	for i, opt := range view.Questions[0].Opciones {
		if opt == "4" {
			display = i
		}
	}
	if err := engine.SelectOption(view.SessionID, 7, 1, display); err != nil {
		t.Fatalf("select: %v", err)
	}

	out, err := engine.Submit(context.Background(), view.SessionID, 7)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !out.Done || out.Result == nil {
		t.Fatalf("submit outcome: %+v", out)
	}

	if len(sink.answers) != 2 {
		t.Fatalf("answers: got %d, want 2", len(sink.answers))
	}
	if sink.answers[0].QuestionID != 1 || sink.answers[0].SelectedOptionIndex != 3 {
		t.Fatalf("canonical remap failed: %+v", sink.answers[0])
	}
	if sink.answers[1].SelectedOptionIndex != NoAnswer {
		t.Fatalf("unanswered question should map to %d, got %d", NoAnswer, sink.answers[1].SelectedOptionIndex)
	}
}

func TestConcurrentSubmitTriggersCollapseIntoOne(t *testing.T) {
	sink := &captureSink{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	engine := NewEngine(&stubSource{qs: sampleQuestions()}, sink)

	view, err := engine.Start(context.Background(), 7, 1, false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := engine.Submit(context.Background(), view.SessionID, 7)
		done <- err
	}()
	<-sink.entered // first trigger is inside Evaluate, guard is up

	if _, err := engine.Submit(context.Background(), view.SessionID, 7); !errors.Is(err, ErrSubmissionInProgress) {
		t.Fatalf("second submit: got %v, want ErrSubmissionInProgress", err)
	}
	if _, err := engine.Advance(context.Background(), view.SessionID, 7); !errors.Is(err, ErrSubmissionInProgress) {
		t.Fatalf("advance during submit: got %v, want ErrSubmissionInProgress", err)
	}

	close(sink.release)
	if err := <-done; err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if sink.count() != 1 {
		t.Fatalf("evaluations: got %d, want 1", sink.count())
	}
	if _, ok := engine.ActiveSession(7); ok {
		t.Fatal("session should be gone after submission")
	}
}

func TestFailedSubmissionKeepsAttemptRecoverable(t *testing.T) {
	sink := &captureSink{err: errors.New("db down")}
	engine := NewEngine(&stubSource{qs: sampleQuestions()}, sink)

	view, err := engine.Start(context.Background(), 7, 1, false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := engine.Submit(context.Background(), view.SessionID, 7); err == nil {
		t.Fatal("submit should surface the sink error")
	}
	if _, ok := engine.ActiveSession(7); !ok {
		t.Fatal("session should survive a failed submission")
	}

	sink.err = nil
	out, err := engine.Submit(context.Background(), view.SessionID, 7)
	if err != nil {
		t.Fatalf("retry submit: %v", err)
	}
	if !out.Done || out.Result == nil {
		t.Fatalf("retry outcome: %+v", out)
	}
	if sink.count() != 2 {
		t.Fatalf("evaluations: got %d, want 2", sink.count())
	}
}

func TestTimerExpiryRecordsNoAnswerAndAdvances(t *testing.T) {
	sink := &captureSink{}
	engine := NewEngine(&stubSource{qs: sampleQuestions()}, sink)

	view, err := engine.Start(context.Background(), 7, 1, false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	engine.mu.Lock()
	s := engine.byID[view.SessionID]
	gen := s.generation
	engine.mu.Unlock()

	engine.timerExpired(view.SessionID, gen)

	engine.mu.Lock()
	if s.current != 1 {
		engine.mu.Unlock()
		t.Fatalf("current: got %d, want 1", s.current)
	}
	if got := s.answers[1]; got != NoAnswer {
		engine.mu.Unlock()
		t.Fatalf("timed-out answer: got %d, want %d", got, NoAnswer)
	}
	gen = s.generation
	engine.mu.Unlock()

	// expiry on the last question submits
	engine.timerExpired(view.SessionID, gen)
	if sink.count() != 1 {
		t.Fatalf("evaluations: got %d, want 1", sink.count())
	}
	if sink.answers[1].SelectedOptionIndex != NoAnswer {
		t.Fatalf("final answer: got %d, want %d", sink.answers[1].SelectedOptionIndex, NoAnswer)
	}
}

func TestStaleTimerGenerationIsIgnored(t *testing.T) {
	sink := &captureSink{}
	engine := NewEngine(&stubSource{qs: sampleQuestions()}, sink)

	view, err := engine.Start(context.Background(), 7, 1, false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	engine.mu.Lock()
	s := engine.byID[view.SessionID]
	stale := s.generation
	engine.mu.Unlock()

	if _, err := engine.Advance(context.Background(), view.SessionID, 7); err != nil {
		t.Fatalf("advance: %v", err)
	}

	// the old question's countdown firing late must not touch the session
	engine.timerExpired(view.SessionID, stale)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	if s.current != 1 {
		t.Fatalf("stale timer moved the pointer: current=%d", s.current)
	}
	if _, ok := s.answers[2]; ok {
		t.Fatal("stale timer recorded an answer")
	}
}

func TestPreviewRunsWithoutTimersOrEvaluation(t *testing.T) {
	qs := sampleQuestions()
	qs[0].TimePerQuestionSeconds = 1
	sink := &captureSink{}
	engine := NewEngine(&stubSource{qs: qs}, sink)

	view, err := engine.Start(context.Background(), 7, 1, true)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	engine.mu.Lock()
	if engine.byID[view.SessionID].timer != nil {
		engine.mu.Unlock()
		t.Fatal("preview session armed a timer")
	}
	engine.mu.Unlock()

	time.Sleep(1100 * time.Millisecond)
	if sink.count() != 0 {
		t.Fatalf("preview triggered %d evaluations", sink.count())
	}

	out, err := engine.Submit(context.Background(), view.SessionID, 7)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !out.Done || out.Result != nil {
		t.Fatalf("preview completion should carry no result: %+v", out)
	}
	if sink.count() != 0 {
		t.Fatalf("preview persisted %d evaluations", sink.count())
	}
}

func TestNewStartDiscardsPreviousSession(t *testing.T) {
	sink := &captureSink{}
	engine := NewEngine(&stubSource{qs: sampleQuestions()}, sink)

	first, err := engine.Start(context.Background(), 7, 1, false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	second, err := engine.Start(context.Background(), 7, 1, false)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}

	if err := engine.SelectOption(first.SessionID, 7, 1, 0); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("old session: got %v, want ErrSessionNotFound", err)
	}
	if id, ok := engine.ActiveSession(7); !ok || id != second.SessionID {
		t.Fatalf("active session: got %q ok=%v", id, ok)
	}
	if sink.count() != 0 {
		t.Fatal("superseding a session must not submit it")
	}
}

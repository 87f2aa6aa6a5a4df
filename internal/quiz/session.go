package quiz

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound      = errors.New("sesión de quiz no encontrada")
	ErrSessionNotActive     = errors.New("la sesión no está activa")
	ErrSubmissionInProgress = errors.New("el intento ya se está enviando")
	ErrQuestionNotInSession = errors.New("la pregunta no pertenece a esta sesión")
	ErrBadOptionIndex       = errors.New("índice de opción fuera de rango")
	ErrMissingUser          = errors.New("falta la identidad del usuario en la sesión")
)

// EvaluationSink persists a finished attempt and returns its graded result.
type EvaluationSink interface {
	Evaluate(ctx context.Context, userID int64, lessonID *int64, answers []Answer) (*Result, error)
}

type sessionPhase int

const (
	phaseActive sessionPhase = iota
	phaseSubmitting
	phaseCompleted
)

type sessionQuestion struct {
	Question
	display []string // shuffled copy; canonical Opciones stays untouched
}

// Session is one attempt of a lesson by one student. All mutation goes
// through the Engine under its lock.
type Session struct {
	ID       string
	UserID   int64
	LessonID int64
	Preview  bool

	questions []sessionQuestion
	current   int
	answers   map[int64]int // questionID -> display index, NoAnswer on timeout
	phase     sessionPhase

	// generation invalidates timers: a callback armed under an older
	// generation finds the counter moved on and does nothing.
	generation int
	timer      *time.Timer
}

// SessionView is the client-facing snapshot returned on start.
type SessionView struct {
	SessionID    string            `json:"session_id"`
	LessonID     int64             `json:"lesson_id"`
	Preview      bool              `json:"preview"`
	CurrentIndex int               `json:"current_index"`
	Questions    []StudentQuestion `json:"questions"`
}

// AdvanceOutcome reports what Advance (or a timer expiry) led to.
type AdvanceOutcome struct {
	Done         bool    `json:"done"`
	CurrentIndex int     `json:"current_index"`
	Result       *Result `json:"result,omitempty"` // nil for preview completion
}

type Engine struct {
	mu     sync.Mutex
	source QuestionSource
	sink   EvaluationSink
	byID   map[string]*Session
	byUser map[int64]string
}

func NewEngine(source QuestionSource, sink EvaluationSink) *Engine {
	return &Engine{
		source: source,
		sink:   sink,
		byID:   map[string]*Session{},
		byUser: map[int64]string{},
	}
}

// Start fetches the lesson's questions and opens a fresh session. Any
// previous session of the same user is discarded: forced submission happens
// only through its explicit triggers, a new start supersedes.
func (e *Engine) Start(ctx context.Context, userID, lessonID int64, preview bool) (*SessionView, error) {
	if userID <= 0 {
		return nil, ErrMissingUser
	}
	questions, err := e.source.QuestionsForLesson(ctx, userID, lessonID)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:       uuid.NewString(),
		UserID:   userID,
		LessonID: lessonID,
		Preview:  preview,
		answers:  map[int64]int{},
	}
	for _, q := range questions {
		s.questions = append(s.questions, sessionQuestion{Question: q, display: shuffled(q.Opciones)})
	}

	e.mu.Lock()
	if old, ok := e.byUser[userID]; ok {
		e.dropLocked(old)
	}
	e.byID[s.ID] = s
	e.byUser[userID] = s.ID
	if len(s.questions) > 0 {
		e.armTimerLocked(s)
	}
	view := s.viewLocked()
	e.mu.Unlock()
	return view, nil
}

// SelectOption records (or overwrites) the display-index choice for a
// question. The pointer does not move.
func (e *Engine) SelectOption(sessionID string, userID, questionID int64, displayIndex int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.ownedLocked(sessionID, userID)
	if err != nil {
		return err
	}
	if s.phase != phaseActive {
		return ErrSessionNotActive
	}
	q, ok := s.questionByID(questionID)
	if !ok {
		return ErrQuestionNotInSession
	}
	if displayIndex < 0 || displayIndex >= len(q.display) {
		return ErrBadOptionIndex
	}
	s.answers[questionID] = displayIndex
	return nil
}

// Advance moves to the next question, restarting its countdown. On the last
// question it submits instead.
func (e *Engine) Advance(ctx context.Context, sessionID string, userID int64) (*AdvanceOutcome, error) {
	e.mu.Lock()
	s, err := e.ownedLocked(sessionID, userID)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if s.phase != phaseActive {
		submitting := s.phase == phaseSubmitting
		e.mu.Unlock()
		if submitting {
			return nil, ErrSubmissionInProgress
		}
		return nil, ErrSessionNotActive
	}
	if s.current < len(s.questions)-1 {
		s.current++
		e.armTimerLocked(s)
		out := &AdvanceOutcome{CurrentIndex: s.current}
		e.mu.Unlock()
		return out, nil
	}
	job := e.beginSubmitLocked(s)
	e.mu.Unlock()
	return e.finishSubmit(ctx, job)
}

// Submit is the explicit submit from the terminal question's button, and the
// target of every forced trigger (tab hidden, navigation away, logout).
// The single-submission guard makes concurrent triggers collapse into one
// evaluation.
func (e *Engine) Submit(ctx context.Context, sessionID string, userID int64) (*AdvanceOutcome, error) {
	e.mu.Lock()
	s, err := e.ownedLocked(sessionID, userID)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if s.phase == phaseSubmitting {
		e.mu.Unlock()
		return nil, ErrSubmissionInProgress
	}
	if s.phase == phaseCompleted {
		e.mu.Unlock()
		return nil, ErrSessionNotActive
	}
	job := e.beginSubmitLocked(s)
	e.mu.Unlock()
	return e.finishSubmit(ctx, job)
}

// ForceSubmitForUser handles logout while a quiz is active: it submits the
// user's session if one exists, and is a no-op otherwise or in preview.
func (e *Engine) ForceSubmitForUser(ctx context.Context, userID int64) (*AdvanceOutcome, error) {
	e.mu.Lock()
	id, ok := e.byUser[userID]
	if !ok {
		e.mu.Unlock()
		return nil, nil
	}
	s := e.byID[id]
	if s == nil || s.phase != phaseActive {
		e.mu.Unlock()
		return nil, nil
	}
	if s.Preview {
		e.dropLocked(id)
		e.mu.Unlock()
		return &AdvanceOutcome{Done: true}, nil
	}
	job := e.beginSubmitLocked(s)
	e.mu.Unlock()
	return e.finishSubmit(ctx, job)
}

// ActiveSession reports the user's current session id, if any.
func (e *Engine) ActiveSession(userID int64) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.byUser[userID]
	return id, ok
}

// ---- internals ----

func (e *Engine) ownedLocked(sessionID string, userID int64) (*Session, error) {
	s, ok := e.byID[sessionID]
	if !ok || s.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (e *Engine) dropLocked(sessionID string) {
	s, ok := e.byID[sessionID]
	if !ok {
		return
	}
	s.generation++
	if s.timer != nil {
		s.timer.Stop()
	}
	delete(e.byID, sessionID)
	if e.byUser[s.UserID] == sessionID {
		delete(e.byUser, s.UserID)
	}
}

// armTimerLocked starts the countdown for the session's current question.
// Preview sessions and questions without a positive limit get no timer.
func (e *Engine) armTimerLocked(s *Session) {
	s.generation++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.Preview {
		return
	}
	limit := s.questions[s.current].TimePerQuestionSeconds
	if limit <= 0 {
		return
	}
	id, gen := s.ID, s.generation
	s.timer = time.AfterFunc(time.Duration(limit)*time.Second, func() {
		e.timerExpired(id, gen)
	})
}

// timerExpired is the countdown callback. A stale generation means a newer
// timer (or a submission) superseded this one.
func (e *Engine) timerExpired(sessionID string, gen int) {
	e.mu.Lock()
	s, ok := e.byID[sessionID]
	if !ok || s.generation != gen || s.phase != phaseActive {
		e.mu.Unlock()
		return
	}
	qid := s.questions[s.current].ID
	if _, answered := s.answers[qid]; !answered {
		s.answers[qid] = NoAnswer
	}
	if s.current < len(s.questions)-1 {
		s.current++
		e.armTimerLocked(s)
		e.mu.Unlock()
		return
	}
	job := e.beginSubmitLocked(s)
	e.mu.Unlock()
	_, _ = e.finishSubmit(context.Background(), job)
}

type submitJob struct {
	sessionID string
	userID    int64
	lessonID  int64
	preview   bool
	answers   []Answer
}

// beginSubmitLocked flips the single-submission guard and captures the
// canonical answer list. Callers must have verified the session is active.
func (e *Engine) beginSubmitLocked(s *Session) submitJob {
	s.phase = phaseSubmitting
	s.generation++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	answers := make([]Answer, 0, len(s.questions))
	for _, q := range s.questions {
		answers = append(answers, Answer{
			QuestionID:          q.ID,
			SelectedOptionIndex: q.canonicalIndex(s.answers),
		})
	}
	return submitJob{
		sessionID: s.ID,
		userID:    s.UserID,
		lessonID:  s.LessonID,
		preview:   s.Preview,
		answers:   answers,
	}
}

func (e *Engine) finishSubmit(ctx context.Context, job submitJob) (*AdvanceOutcome, error) {
	if job.preview {
		e.mu.Lock()
		e.dropLocked(job.sessionID)
		e.mu.Unlock()
		return &AdvanceOutcome{Done: true}, nil
	}

	lessonID := job.lessonID
	result, err := e.sink.Evaluate(ctx, job.userID, &lessonID, job.answers)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		// Release the guard: the attempt stays recoverable and any of the
		// submission triggers may retry.
		if s, ok := e.byID[job.sessionID]; ok {
			s.phase = phaseActive
		}
		return nil, err
	}
	if s, ok := e.byID[job.sessionID]; ok {
		s.phase = phaseCompleted
		e.dropLocked(job.sessionID)
	}
	return &AdvanceOutcome{Done: true, Result: result}, nil
}

func (s *Session) questionByID(id int64) (*sessionQuestion, bool) {
	for i := range s.questions {
		if s.questions[i].ID == id {
			return &s.questions[i], true
		}
	}
	return nil, false
}

func (s *Session) viewLocked() *SessionView {
	v := &SessionView{
		SessionID:    s.ID,
		LessonID:     s.LessonID,
		Preview:      s.Preview,
		CurrentIndex: s.current,
	}
	for _, q := range s.questions {
		v.Questions = append(v.Questions, StudentQuestion{
			ID:                     q.ID,
			TextoPregunta:          q.TextoPregunta,
			Opciones:               q.display,
			ImagenURL:              q.ImagenURL,
			TimePerQuestionSeconds: q.TimePerQuestionSeconds,
		})
	}
	return v
}

// canonicalIndex maps the recorded display choice back to the canonical
// option order by text match. Unanswered and timed-out stay NoAnswer.
func (q *sessionQuestion) canonicalIndex(answers map[int64]int) int {
	d, ok := answers[q.ID]
	if !ok || d < 0 || d >= len(q.display) {
		return NoAnswer
	}
	text := q.display[d]
	for i, opt := range q.Opciones {
		if opt == text {
			return i
		}
	}
	return NoAnswer
}

func shuffled(opts []string) []string {
	out := make([]string, len(opts))
	copy(out, opts)
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

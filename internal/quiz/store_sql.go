package quiz

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

var (
	ErrUserNotFound   = errors.New("usuario no encontrado")
	ErrLessonNotFound = errors.New("lección no encontrada")
)

// QuestionSource selects the questions for one attempt of a lesson.
type QuestionSource interface {
	QuestionsForLesson(ctx context.Context, userID, lessonID int64) ([]Question, error)
	AllQuestions(ctx context.Context) ([]Question, error)
}

// SQLStore implements QuestionSource with the cycle discipline: within one
// cycle a student never sees the same question twice; when the unseen pool
// can no longer fill the lesson, the cycle advances and the pool resets.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(dbh *sql.DB) *SQLStore {
	return &SQLStore{db: dbh}
}

type groupConfig struct {
	groupID     int64
	numToSelect int
	timePerQ    int
	questions   []Question
}

func (s *SQLStore) QuestionsForLesson(ctx context.Context, userID, lessonID int64) ([]Question, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id=$1`, userID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM lessons WHERE id=$1`, lessonID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLessonNotFound
		}
		return nil, err
	}

	configs, err := s.lessonConfigs(ctx, lessonID)
	if err != nil {
		return nil, err
	}

	allPossible := map[int64]bool{}
	totalNeeded := 0
	for _, cfg := range configs {
		totalNeeded += cfg.numToSelect
		for _, q := range cfg.questions {
			allPossible[q.ID] = true
		}
	}
	if len(allPossible) == 0 || totalNeeded == 0 {
		return []Question{}, nil
	}

	cycle, err := s.currentCycle(ctx, userID, lessonID)
	if err != nil {
		return nil, err
	}
	seen, err := s.seenThisCycle(ctx, userID, lessonID, cycle)
	if err != nil {
		return nil, err
	}

	unseen := 0
	for id := range allPossible {
		if !seen[id] {
			unseen++
		}
	}
	if unseen < totalNeeded {
		cycle++
		seen = map[int64]bool{}
	}

	var selected []Question
	pickedThisAttempt := map[int64]bool{}
	for _, cfg := range configs {
		if cfg.numToSelect == 0 {
			continue
		}
		var candidates, fallback []Question
		for _, q := range cfg.questions {
			if pickedThisAttempt[q.ID] {
				continue
			}
			if seen[q.ID] {
				fallback = append(fallback, q)
			} else {
				candidates = append(candidates, q)
			}
		}
		batch := sample(candidates, cfg.numToSelect)
		if rem := cfg.numToSelect - len(batch); rem > 0 {
			batch = append(batch, sample(fallback, rem)...)
		}
		for _, q := range batch {
			q.TimePerQuestionSeconds = cfg.timePerQ
			selected = append(selected, q)
			pickedThisAttempt[q.ID] = true
		}
	}

	rand.Shuffle(len(selected), func(i, j int) {
		selected[i], selected[j] = selected[j], selected[i]
	})

	if err := s.recordSelection(ctx, userID, lessonID, cycle, seen, selected); err != nil {
		return nil, fmt.Errorf("registrar preguntas vistas: %w", err)
	}
	return selected, nil
}

func (s *SQLStore) AllQuestions(ctx context.Context) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, texto_pregunta, opciones, respuesta_correcta_indice, imagen_url
		FROM questions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Question
	for rows.Next() {
		var q Question
		var opts string
		var img sql.NullString
		if err := rows.Scan(&q.ID, &q.TextoPregunta, &opts, &q.RespuestaCorrectaIndice, &img); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(opts), &q.Opciones); err != nil {
			q.Opciones = nil
		}
		q.ImagenURL = img.String
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *SQLStore) lessonConfigs(ctx context.Context, lessonID int64) ([]groupConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT question_group_id, num_questions_to_select, time_per_question_seconds
		FROM lesson_configurations WHERE lesson_id=$1 ORDER BY id`, lessonID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var configs []groupConfig
	for rows.Next() {
		var cfg groupConfig
		if err := rows.Scan(&cfg.groupID, &cfg.numToSelect, &cfg.timePerQ); err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range configs {
		qs, err := s.groupQuestions(ctx, configs[i].groupID)
		if err != nil {
			return nil, err
		}
		configs[i].questions = qs
	}
	return configs, nil
}

func (s *SQLStore) groupQuestions(ctx context.Context, groupID int64) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, texto_pregunta, opciones, respuesta_correcta_indice, procedimiento_resolucion, imagen_url
		FROM questions WHERE question_group_id=$1`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Question
	for rows.Next() {
		var q Question
		var opts string
		var proc, img sql.NullString
		if err := rows.Scan(&q.ID, &q.TextoPregunta, &opts, &q.RespuestaCorrectaIndice, &proc, &img); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(opts), &q.Opciones); err != nil {
			q.Opciones = nil
		}
		q.ProcedimientoResolucion = proc.String
		q.ImagenURL = img.String
		gid := groupID
		q.QuestionGroupID = &gid
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *SQLStore) currentCycle(ctx context.Context, userID, lessonID int64) (int, error) {
	var cycle int
	err := s.db.QueryRowContext(ctx, `
		SELECT current_cycle_number FROM user_lesson_cycles WHERE user_id=$1 AND lesson_id=$2`,
		userID, lessonID).Scan(&cycle)
	if errors.Is(err, sql.ErrNoRows) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return cycle, nil
}

func (s *SQLStore) seenThisCycle(ctx context.Context, userID, lessonID int64, cycle int) (map[int64]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT question_id FROM user_question_seen
		WHERE user_id=$1 AND lesson_id=$2 AND cycle_number=$3`,
		userID, lessonID, cycle)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	seen := map[int64]bool{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		seen[id] = true
	}
	return seen, rows.Err()
}

func (s *SQLStore) recordSelection(ctx context.Context, userID, lessonID int64, cycle int, seen map[int64]bool, selected []Question) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().Unix()
	for _, q := range selected {
		if seen[q.ID] {
			continue
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO user_question_seen (user_id, lesson_id, question_id, cycle_number, seen_at)
			VALUES ($1,$2,$3,$4,$5) ON CONFLICT DO NOTHING`,
			userID, lessonID, q.ID, cycle, now); err != nil {
			return err
		}
	}

	var exists int
	err = tx.QueryRowContext(ctx, `
		SELECT 1 FROM user_lesson_cycles WHERE user_id=$1 AND lesson_id=$2`, userID, lessonID).Scan(&exists)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO user_lesson_cycles (user_id, lesson_id, current_cycle_number) VALUES ($1,$2,$3)`,
			userID, lessonID, cycle)
	case err == nil:
		_, err = tx.ExecContext(ctx, `
			UPDATE user_lesson_cycles SET current_cycle_number=$1 WHERE user_id=$2 AND lesson_id=$3`,
			cycle, userID, lessonID)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

// sample returns up to n elements of pool in random order.
func sample(pool []Question, n int) []Question {
	if n <= 0 || len(pool) == 0 {
		return nil
	}
	idx := rand.Perm(len(pool))
	if n > len(pool) {
		n = len(pool)
	}
	out := make([]Question, 0, n)
	for _, i := range idx[:n] {
		out = append(out, pool[i])
	}
	return out
}

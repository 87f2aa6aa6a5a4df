package quiz

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"time"
)

// SQLEvaluator grades a finished attempt against the canonical answer keys
// and persists the evaluation with its per-question answers.
type SQLEvaluator struct {
	db *sql.DB
}

func NewSQLEvaluator(dbh *sql.DB) *SQLEvaluator {
	return &SQLEvaluator{db: dbh}
}

func (e *SQLEvaluator) Evaluate(ctx context.Context, userID int64, lessonID *int64, answers []Answer) (*Result, error) {
	if userID <= 0 {
		return nil, ErrMissingUser
	}
	var exists int
	if err := e.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id=$1`, userID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if lessonID != nil {
		err := e.db.QueryRowContext(ctx, `SELECT 1 FROM lessons WHERE id=$1`, *lessonID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			lessonID = nil // attempt survives a lesson deleted mid-flight
		} else if err != nil {
			return nil, err
		}
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().Unix()
	var evalID int64
	if err = tx.QueryRowContext(ctx, `
		INSERT INTO evaluations (user_id, lesson_id, score, timestamp)
		VALUES ($1,$2,0,$3) RETURNING id`,
		userID, nullableID(lessonID), now).Scan(&evalID); err != nil {
		return nil, err
	}

	total := len(answers)
	correct := 0
	var incorrect []IncorrectDetail
	for _, ans := range answers {
		var (
			texto      string
			optsJSON   string
			correctIdx int
			proc, img  sql.NullString
		)
		qerr := tx.QueryRowContext(ctx, `
			SELECT texto_pregunta, opciones, respuesta_correcta_indice, procedimiento_resolucion, imagen_url
			FROM questions WHERE id=$1`, ans.QuestionID).
			Scan(&texto, &optsJSON, &correctIdx, &proc, &img)
		if errors.Is(qerr, sql.ErrNoRows) {
			// Question deleted between fetch and submit: drop it from the total.
			if total > 0 {
				total--
			}
			continue
		}
		if qerr != nil {
			err = qerr
			return nil, err
		}

		var opts []string
		_ = json.Unmarshal([]byte(optsJSON), &opts)
		isCorrect := ans.SelectedOptionIndex == correctIdx
		if isCorrect {
			correct++
		} else {
			incorrect = append(incorrect, IncorrectDetail{
				QuestionID:             ans.QuestionID,
				TextoPregunta:          texto,
				TuRespuestaTexto:       answerText(opts, ans.SelectedOptionIndex),
				RespuestaCorrectaTexto: answerText(opts, correctIdx),
				Procedimiento:          proc.String,
				ImagenURL:              img.String,
			})
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO user_answers (evaluation_id, question_id, selected_option_index, is_correct)
			VALUES ($1,$2,$3,$4)`,
			evalID, ans.QuestionID, ans.SelectedOptionIndex, isCorrect); err != nil {
			return nil, err
		}
	}

	score := 0.0
	if total > 0 {
		score = round2(float64(correct) / float64(total) * 100)
	}
	if _, err = tx.ExecContext(ctx, `UPDATE evaluations SET score=$1 WHERE id=$2`, score, evalID); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}

	if incorrect == nil {
		incorrect = []IncorrectDetail{}
	}
	return &Result{
		Message:          "Evaluación procesada",
		EvaluationID:     evalID,
		Score:            score,
		TotalQuestions:   total,
		CorrectAnswers:   correct,
		IncorrectDetails: incorrect,
	}, nil
}

func answerText(opts []string, idx int) string {
	if idx == NoAnswer {
		return "No respondida (tiempo agotado)"
	}
	if idx < 0 || idx >= len(opts) {
		return "No respondida"
	}
	return opts[idx]
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func nullableID(id *int64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}

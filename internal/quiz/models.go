package quiz

// Question is the canonical, server-authoritative form. Texto, opciones and
// procedimiento may carry HTML; callers rendering them trust the author.
type Question struct {
	ID                      int64    `json:"id"`
	TextoPregunta           string   `json:"texto_pregunta"`
	Opciones                []string `json:"opciones"`
	RespuestaCorrectaIndice int      `json:"respuesta_correcta_indice"`
	ProcedimientoResolucion string   `json:"procedimiento_resolucion,omitempty"`
	QuestionGroupID         *int64   `json:"question_group_id,omitempty"`
	GroupName               string   `json:"group_name,omitempty"`
	ImagenURL               string   `json:"imagen_url,omitempty"`
	TimePerQuestionSeconds  int      `json:"time_per_question_seconds,omitempty"`
}

// StudentQuestion is the student-facing view: options in display order and
// the correct index withheld.
type StudentQuestion struct {
	ID                     int64    `json:"id"`
	TextoPregunta          string   `json:"texto_pregunta"`
	Opciones               []string `json:"opciones"`
	ImagenURL              string   `json:"imagen_url,omitempty"`
	TimePerQuestionSeconds int      `json:"time_per_question_seconds"`
}

// NoAnswer is the sentinel canonical index for an unanswered question.
const NoAnswer = -1

type Answer struct {
	QuestionID          int64 `json:"question_id"`
	SelectedOptionIndex int   `json:"selected_option_index"`
}

type IncorrectDetail struct {
	QuestionID             int64  `json:"question_id"`
	TextoPregunta          string `json:"texto_pregunta"`
	TuRespuestaTexto       string `json:"tu_respuesta_texto"`
	RespuestaCorrectaTexto string `json:"respuesta_correcta_texto"`
	Procedimiento          string `json:"procedimiento"`
	ImagenURL              string `json:"imagen_url,omitempty"`
}

type Result struct {
	Message          string            `json:"message"`
	EvaluationID     int64             `json:"evaluation_id"`
	Score            float64           `json:"score"`
	TotalQuestions   int               `json:"total_questions"`
	CorrectAnswers   int               `json:"correct_answers"`
	IncorrectDetails []IncorrectDetail `json:"incorrect_details"`
}

package quiz

import (
	"context"
	"testing"
)

func TestCycleAvoidsRepeatsUntilPoolExhausted(t *testing.T) {
	dbh := openTestDB(t)
	userID := seedStudent(t, dbh, "ana@example.com")
	groupID := seedQuestionGroup(t, dbh, "Geometría")
	for i := 0; i < 4; i++ {
		seedQuestion(t, dbh, groupID, "q", []string{"a", "b"}, 0)
	}
	lessonID := seedLesson(t, dbh, "Figuras", groupID, 2, 0)

	store := NewSQLStore(dbh)

	first, err := store.QuestionsForLesson(context.Background(), userID, lessonID)
	if err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	second, err := store.QuestionsForLesson(context.Background(), userID, lessonID)
	if err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("selection sizes: %d, %d", len(first), len(second))
	}

	seen := map[int64]bool{}
	for _, q := range first {
		seen[q.ID] = true
	}
	for _, q := range second {
		if seen[q.ID] {
			t.Fatalf("question %d repeated within one cycle", q.ID)
		}
	}

	// pool is exhausted: the third attempt opens cycle 2
	third, err := store.QuestionsForLesson(context.Background(), userID, lessonID)
	if err != nil {
		t.Fatalf("third attempt: %v", err)
	}
	if len(third) != 2 {
		t.Fatalf("third selection size: %d", len(third))
	}

	var cycle int
	if err := dbh.QueryRow(`
		SELECT current_cycle_number FROM user_lesson_cycles
		WHERE user_id=$1 AND lesson_id=$2`, userID, lessonID).Scan(&cycle); err != nil {
		t.Fatalf("cycle row: %v", err)
	}
	if cycle != 2 {
		t.Fatalf("cycle: got %d, want 2", cycle)
	}
}

func TestQuestionsCarryConfiguredTimeLimit(t *testing.T) {
	dbh := openTestDB(t)
	userID := seedStudent(t, dbh, "ana@example.com")
	groupID := seedQuestionGroup(t, dbh, "Geometría")
	seedQuestion(t, dbh, groupID, "q", []string{"a", "b"}, 0)
	lessonID := seedLesson(t, dbh, "Figuras", groupID, 1, 45)

	store := NewSQLStore(dbh)
	qs, err := store.QuestionsForLesson(context.Background(), userID, lessonID)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(qs) != 1 {
		t.Fatalf("selection size: %d", len(qs))
	}
	if qs[0].TimePerQuestionSeconds != 45 {
		t.Fatalf("time limit: got %d, want 45", qs[0].TimePerQuestionSeconds)
	}
}

func TestUnknownLessonIsRejected(t *testing.T) {
	dbh := openTestDB(t)
	userID := seedStudent(t, dbh, "ana@example.com")

	store := NewSQLStore(dbh)
	if _, err := store.QuestionsForLesson(context.Background(), userID, 999); err != ErrLessonNotFound {
		t.Fatalf("got %v, want ErrLessonNotFound", err)
	}
}

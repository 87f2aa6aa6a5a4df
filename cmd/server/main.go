package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"github.com/euler-pro/platform/internal/admin"
	"github.com/euler-pro/platform/internal/auth"
	"github.com/euler-pro/platform/internal/config"
	"github.com/euler-pro/platform/internal/db"
	"github.com/euler-pro/platform/internal/quiz"
	"github.com/euler-pro/platform/internal/rbac"
	"github.com/euler-pro/platform/internal/stats"
	"github.com/euler-pro/platform/internal/storage"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}

	bs, err := storage.NewFSStore(cfg.UploadBasePath)
	if err != nil {
		log.Fatalf("blob store: %v", err)
	}

	// --- Auth / quiz engine ---
	authSvc := auth.NewAuthService(cfg.AuthSecret, cfg.TokenTTL)
	source := quiz.NewSQLStore(dbh)
	sink := quiz.NewSQLEvaluator(dbh)
	engine := quiz.NewEngine(source, sink)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Post("/auth/login", auth.LoginHandler(dbh, authSvc))

	// uploaded question images (public, like the original static route)
	r.Route("/uploads", func(ur chi.Router) {
		storage.MountUploads(ur, bs)
	})

	// Protected API (JWT → role in context → RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))

		pr.Post("/auth/logout", quiz.LogoutHandler(engine))

		// Student flow
		pr.With(rbac.Require("quiz:take")).
			Get("/api/questions", quiz.QuestionsHandler(source))
		pr.With(rbac.Require("quiz:take")).
			Post("/api/quiz/session", quiz.StartSessionHandler(engine))
		pr.With(rbac.Require("quiz:take")).
			Post("/api/quiz/session/{sessionID}/select", quiz.SelectOptionHandler(engine))
		pr.With(rbac.Require("quiz:take")).
			Post("/api/quiz/session/{sessionID}/advance", quiz.AdvanceHandler(engine))
		pr.With(rbac.Require("quiz:submit")).
			Post("/api/quiz/session/{sessionID}/submit", quiz.SubmitSessionHandler(engine))
		pr.With(rbac.Require("quiz:submit")).
			Post("/api/submit_evaluation", quiz.SubmitEvaluationHandler(sink))

		pr.With(rbac.Require("history:view-own")).
			Get("/api/history", stats.HistoryHandler(dbh))
		pr.With(rbac.Require("lessons:view-assigned")).
			Get("/api/student/assigned_lessons", stats.AssignedLessonsHandler(dbh))
		pr.With(rbac.Require("ranking:view")).
			Get("/api/student/lessons_for_ranking_dropdown", stats.RankingDropdownHandler(dbh))
		pr.With(rbac.Require("ranking:view")).
			Get("/api/student/lesson_ranking_details/{lessonID}", stats.LessonRankingHandler(dbh))

		// Admin surfaces
		pr.Route("/api/admin", func(ar chi.Router) {
			ar.Use(rbac.Require("admin:manage"))

			ar.Post("/create_user", admin.CreateUserHandler(dbh))
			ar.Get("/users", admin.ListUsersHandler(dbh))
			ar.Get("/users/all", admin.ListUsersHandler(dbh))
			ar.Put("/users/{userID}", admin.UpdateUserHandler(dbh))
			ar.Put("/users/{userID}/password", admin.ChangeUserPasswordHandler(dbh))
			ar.Delete("/users/{userID}", admin.DeleteUserHandler(dbh))

			ar.Post("/student_groups", admin.CreateStudentGroupHandler(dbh))
			ar.Get("/student_groups", admin.ListStudentGroupsHandler(dbh))
			ar.Delete("/student_groups/{groupID}", admin.DeleteStudentGroupHandler(dbh))
			ar.Get("/student_groups/{groupID}/members", admin.ListGroupMembersHandler(dbh))
			ar.Post("/student_groups/{groupID}/members", admin.AddGroupMemberHandler(dbh))
			ar.Delete("/student_groups/{groupID}/members/{userID}", admin.RemoveGroupMemberHandler(dbh))

			ar.Post("/question_groups", admin.CreateQuestionGroupHandler(dbh))
			ar.Get("/question_groups", admin.ListQuestionGroupsHandler(dbh))
			ar.Put("/question_groups/{groupID}", admin.UpdateQuestionGroupHandler(dbh))
			ar.Delete("/question_groups/{groupID}", admin.DeleteQuestionGroupHandler(dbh))

			ar.Post("/questions", admin.CreateQuestionHandler(dbh, bs))
			ar.Get("/questions", admin.ListQuestionsHandler(dbh))
			ar.Get("/questions/{questionID}", admin.GetQuestionHandler(dbh))
			ar.Put("/questions/{questionID}", admin.UpdateQuestionHandler(dbh, bs))
			ar.Delete("/questions/{questionID}", admin.DeleteQuestionHandler(dbh, bs))

			ar.Post("/lessons", admin.CreateLessonHandler(dbh))
			ar.Get("/lessons", admin.ListLessonsHandler(dbh))
			ar.Get("/lessons/{lessonID}", admin.GetLessonHandler(dbh))
			ar.Put("/lessons/{lessonID}", admin.UpdateLessonHandler(dbh))
			ar.Delete("/lessons/{lessonID}", admin.DeleteLessonHandler(dbh))

			ar.Get("/statistics/student_groups_overview", stats.StudentGroupsOverviewHandler(dbh))
			ar.Get("/statistics/group/{groupID}", stats.GroupStatisticsHandler(dbh))
			ar.Get("/lesson_statistics/{lessonID}", stats.LessonStatisticsHandler(dbh))
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("listening on %s (db driver %s)", cfg.HTTPAddr, cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
	_ = dbh.Close()
}

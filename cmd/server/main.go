package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"lamla-ai/internal/ai"
	"lamla-ai/internal/api"
	"lamla-ai/internal/config"
	"lamla-ai/internal/db"
	"lamla-ai/internal/services"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	if err := cfg.EnsureDataDir(); err != nil {
		return err
	}
	conn, err := db.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer conn.Close()

	client := ai.New(
		ai.WithOrder(cfg.ProviderOrder...),
		ai.WithAttemptTimeout(cfg.AttemptTimeout),
		ai.WithBudget(cfg.FallbackBudget),
		ai.WithLogger(logger),
	)
	for _, status := range client.Status() {
		logger.Info("ai provider", "name", status.Name, "configured", status.Configured, "reason", status.Reason)
	}

	server := api.NewServer(api.Dependencies{
		AI:           client,
		Quizzes:      services.NewQuestionGenerator(client, logger),
		Grader:       services.NewGrader(client, logger),
		FlashcardGen: services.NewFlashcardGenerator(client, logger),
		Flashcards:   services.NewFlashcardService(conn),
		Chatbot:      services.NewChatbotService(client, services.NewKnowledgeStore(conn), logger),
		Exams:        services.NewExamAnalyzer(client, logger),
		Logger:       logger,
	})
	defer server.Close()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 3 * time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	fsrs "github.com/open-spaced-repetition/go-fsrs"

	"lamla-ai/internal/ai"
	"lamla-ai/internal/models"
	"lamla-ai/internal/services"
)

const maxRequestBody = 1 << 20 // 1 MB

// Completer is the part of *ai.Client the HTTP surface uses directly.
type Completer interface {
	GenerateContent(ctx context.Context, req ai.Request) (ai.Result, error)
	Status() []ai.ProviderStatus
}

// Dependencies wires the services behind the routes.
type Dependencies struct {
	AI           Completer
	Quizzes      *services.QuestionGenerator
	Grader       *services.Grader
	FlashcardGen *services.FlashcardGenerator
	Flashcards   *services.FlashcardService
	Chatbot      *services.ChatbotService
	Exams        *services.ExamAnalyzer
	Logger       *slog.Logger
}

type Server struct {
	mux    *http.ServeMux
	deps   Dependencies
	jobs   *JobManager
	logger *slog.Logger
}

func NewServer(deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mux:    http.NewServeMux(),
		deps:   deps,
		jobs:   NewJobManager(),
		logger: logger,
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

// Close stops background jobs and waits for them.
func (s *Server) Close() {
	s.jobs.Close()
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/providers", s.handleProviders)
	s.mux.HandleFunc("/api/generate", s.handleGenerate)
	s.mux.HandleFunc("/api/quiz", s.handleQuiz)
	s.mux.HandleFunc("/api/quiz/grade", s.handleGradeQuiz)
	s.mux.HandleFunc("/api/flashcards", s.handleFlashcards)
	s.mux.HandleFunc("/api/decks/", s.handleDeckCards)
	s.mux.HandleFunc("/api/cards/next", s.handleGetNextCard)
	s.mux.HandleFunc("/api/cards/stats", s.handleGetCardsStats)
	s.mux.HandleFunc("/api/cards/", s.handleCardActions)
	s.mux.HandleFunc("/api/chat", s.handleChat)
	s.mux.HandleFunc("/api/chat/suggestions", s.handleChatSuggestions)
	s.mux.HandleFunc("/api/exams/analyze", s.handleAnalyzeExam)
	s.mux.HandleFunc("/api/jobs/quiz", s.handleCreateQuizJob)
	s.mux.HandleFunc("/api/jobs/", s.handleJobStatus)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": s.deps.AI.Status()})
}

type generateRequest struct {
	Prompt    string   `json:"prompt"`
	MaxTokens int      `json:"max_tokens"`
	Providers []string `json:"providers"`
	Lenient   bool     `json:"lenient"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var payload generateRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	res, err := s.deps.AI.GenerateContent(r.Context(), ai.Request{
		Prompt:    payload.Prompt,
		MaxTokens: payload.MaxTokens,
		Providers: payload.Providers,
		Lenient:   payload.Lenient,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result":     res,
		"structured": res.Structured(),
	})
}

func (s *Server) handleQuiz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var payload services.QuizRequest
	if !decodeJSON(w, r, &payload) {
		return
	}
	quiz, err := s.deps.Quizzes.Generate(r.Context(), payload)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

type gradeRequest struct {
	Answers []struct {
		Question string `json:"question"`
		Expected string `json:"expected"`
		Answer   string `json:"answer"`
	} `json:"answers"`
}

func (s *Server) handleGradeQuiz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var payload gradeRequest
	if !decodeJSON(w, r, &payload) {
		return
	}
	if len(payload.Answers) == 0 {
		writeError(w, http.StatusBadRequest, "no answers to grade")
		return
	}

	results := make([]bool, len(payload.Answers))
	score := 0
	for i, a := range payload.Answers {
		results[i] = s.deps.Grader.GradeShortAnswer(r.Context(), a.Question, a.Expected, a.Answer)
		if results[i] {
			score++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"score":   score,
		"total":   len(results),
	})
}

type flashcardsRequest struct {
	Text    string `json:"text"`
	Count   int    `json:"count"`
	Mode    string `json:"mode"`
	Title   string `json:"title"`
	Subject string `json:"subject"`
}

func (s *Server) handleFlashcards(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListDecks(w, r)
	case http.MethodPost:
		s.handleCreateDeck(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) handleListDecks(w http.ResponseWriter, r *http.Request) {
	decks, err := s.deps.Flashcards.ListDecks(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(decks))
	for _, deck := range decks {
		out = append(out, deckJSON(deck))
	}
	writeJSON(w, http.StatusOK, map[string]any{"decks": out})
}

func (s *Server) handleCreateDeck(w http.ResponseWriter, r *http.Request) {
	var payload flashcardsRequest
	if !decodeJSON(w, r, &payload) {
		return
	}
	mode, err := services.ParseMode(payload.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	drafts, err := s.deps.FlashcardGen.Generate(r.Context(), services.FlashcardRequest{
		Text:  payload.Text,
		Count: payload.Count,
		Mode:  mode,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	deck, err := s.deps.Flashcards.SaveDeck(r.Context(), payload.Title, payload.Subject, mode, drafts)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	cards, err := s.deps.Flashcards.DeckCards(r.Context(), deck.ID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"deck":       deckJSON(*deck),
		"flashcards": cardsJSON(cards),
	})
}

func (s *Server) handleDeckCards(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	parts := pathParts(r.URL.Path, "/api/decks/")
	if len(parts) != 2 || parts[1] != "cards" {
		http.NotFound(w, r)
		return
	}
	deckID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid deck id")
		return
	}
	cards, err := s.deps.Flashcards.DeckCards(r.Context(), deckID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flashcards": cardsJSON(cards)})
}

func (s *Server) handleGetNextCard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	var deckID int64
	if raw := r.URL.Query().Get("deck_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 0 {
			writeError(w, http.StatusBadRequest, "invalid deck id")
			return
		}
		deckID = id
	}

	card, err := s.deps.Flashcards.NextCard(r.Context(), deckID)
	if err != nil {
		if errors.Is(err, services.ErrNoDueCards) {
			writeJSON(w, http.StatusOK, map[string]any{
				"card":    nil,
				"message": "No cards due. Come back later!",
			})
			return
		}
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"card": cardJSON(*card)})
}

func (s *Server) handleGetCardsStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	stats, err := s.deps.Flashcards.Stats(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func (s *Server) handleCardActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	parts := pathParts(r.URL.Path, "/api/cards/")
	if len(parts) != 2 || parts[1] != "review" {
		http.NotFound(w, r)
		return
	}

	cardID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid card id")
		return
	}

	var payload reviewRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	rating, err := parseRating(payload.Rating)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	card, logEntry, err := s.deps.Flashcards.ReviewCard(r.Context(), cardID, rating)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"card": map[string]any{
			"id":    card.ID,
			"due":   nullTimeToString(card.Due),
			"state": card.State,
		},
		"log": map[string]any{
			"rating":  logEntry.Rating,
			"due_in":  logEntry.ScheduledDays,
			"updated": logEntry.ReviewedAt.Format(timeLayout),
		},
	})
}

type reviewRequest struct {
	Rating string `json:"rating"`
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var payload chatRequest
	if !decodeJSON(w, r, &payload) {
		return
	}
	reply, err := s.deps.Chatbot.Respond(r.Context(), payload.SessionID, payload.Message)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleChatSuggestions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": s.deps.Chatbot.SuggestedQuestions()})
}

func (s *Server) handleAnalyzeExam(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var payload services.ExamRequest
	if !decodeJSON(w, r, &payload) {
		return
	}
	analysis, err := s.deps.Exams.Analyze(r.Context(), payload)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (s *Server) handleCreateQuizJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var payload services.QuizRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	snapshot := s.jobs.Start("quiz", func(ctx context.Context, progress ProgressFunc) (any, error) {
		progress("generating", "Generating questions", 1, 3)
		quiz, err := s.deps.Quizzes.Generate(ctx, payload)
		if err != nil {
			return nil, err
		}
		progress("validating", "Checking questions", 2, 3)
		return quiz, nil
	})
	writeJSON(w, http.StatusAccepted, snapshot)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	parts := pathParts(r.URL.Path, "/api/jobs/")
	if len(parts) != 1 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}

	job, ok := s.jobs.GetJob(parts[0])
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// writeServiceError maps service and provider errors to status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var failed *ai.AllProvidersFailedError
	switch {
	case errors.Is(err, ai.ErrEmptyPrompt), errors.Is(err, services.ErrTextTooShort):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrNoFlashcards):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &failed):
		attempts := make([]map[string]any, 0, len(failed.Attempts))
		for _, a := range failed.Attempts {
			attempts = append(attempts, map[string]any{
				"provider": a.Provider,
				"error":    a.Err.Error(),
				"skipped":  a.Skipped(),
			})
		}
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":    "all AI providers failed",
			"attempts": attempts,
		})
	default:
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func deckJSON(deck models.Deck) map[string]any {
	return map[string]any{
		"id":         deck.ID,
		"title":      deck.Title,
		"subject":    nullString(deck.Subject),
		"mode":       deck.Mode,
		"created_at": deck.CreatedAt.Format(timeLayout),
	}
}

func cardJSON(card models.Card) map[string]any {
	return map[string]any{
		"id":        card.ID,
		"deck_id":   card.DeckID,
		"deck":      nullString(card.DeckTitle),
		"front":     card.Front,
		"back":      card.Back,
		"due":       nullTimeToString(card.Due),
		"state":     card.State,
		"stability": card.Stability,
		"reps":      card.Reps,
	}
}

func cardsJSON(cards []models.Card) []map[string]any {
	out := make([]map[string]any, 0, len(cards))
	for _, card := range cards {
		out = append(out, cardJSON(card))
	}
	return out
}

func pathParts(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	return strings.Split(rest, "/")
}

const timeLayout = time.RFC3339

func parseRating(raw string) (fsrs.Rating, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "again":
		return fsrs.Again, nil
	case "hard":
		return fsrs.Hard, nil
	case "good":
		return fsrs.Good, nil
	case "easy":
		return fsrs.Easy, nil
	default:
		return 0, fmt.Errorf("unknown rating %q", raw)
	}
}

func nullTimeToString(t sql.NullTime) *string {
	if t.Valid {
		str := t.Time.Format(timeLayout)
		return &str
	}
	return nil
}

func nullString(v sql.NullString) *string {
	if v.Valid {
		str := v.String
		return &str
	}
	return nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

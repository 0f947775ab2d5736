package services

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"lamla-ai/internal/ai"
	"lamla-ai/internal/models"
)

const (
	chatHistoryLimit  = 6
	chatMaxTokens     = 400
	maxChatMessageLen = 2000
)

// KnowledgeStore persists the chatbot's knowledge base and conversation history.
type KnowledgeStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewKnowledgeStore(db *sql.DB) *KnowledgeStore {
	return &KnowledgeStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// ActiveEntries lists the knowledge entries that may be quoted.
func (k *KnowledgeStore) ActiveEntries(ctx context.Context) ([]models.KnowledgeEntry, error) {
	rows, err := k.db.QueryContext(ctx, `
		SELECT id, category, question, answer, keywords, is_active
		FROM chatbot_knowledge
		WHERE is_active = 1
		ORDER BY category, id;
	`)
	if err != nil {
		return nil, fmt.Errorf("list knowledge: %w", err)
	}
	defer rows.Close()

	var entries []models.KnowledgeEntry
	for rows.Next() {
		var e models.KnowledgeEntry
		if err := rows.Scan(&e.ID, &e.Category, &e.Question, &e.Answer, &e.Keywords, &e.Active); err != nil {
			return nil, fmt.Errorf("scan knowledge: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// History returns up to limit of the most recent messages, oldest first.
func (k *KnowledgeStore) History(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	rows, err := k.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, created_at FROM (
			SELECT id, session_id, role, content, created_at
			FROM chat_messages
			WHERE session_id = ?
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id ASC;
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var msgs []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		var role string
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = models.ChatRole(role)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (k *KnowledgeStore) SaveMessage(ctx context.Context, sessionID string, role models.ChatRole, content string) error {
	if _, err := k.db.ExecContext(ctx, `
		INSERT INTO chat_messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?);
	`, sessionID, string(role), content, k.now()); err != nil {
		return fmt.Errorf("save %s message: %w", role, err)
	}
	return nil
}

// ChatReply is what the chatbot sends back to the caller.
type ChatReply struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
	Fallback  bool   `json:"fallback"`
}

// ChatbotService answers study and product questions using the knowledge
// base as context.
type ChatbotService struct {
	ai     Generator
	store  *KnowledgeStore
	logger *slog.Logger
}

func NewChatbotService(gen Generator, store *KnowledgeStore, logger *slog.Logger) *ChatbotService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatbotService{ai: gen, store: store, logger: logger}
}

// Respond answers message within sessionID, starting a new session when
// sessionID is blank. When no provider answers a canned reply is used.
func (c *ChatbotService) Respond(ctx context.Context, sessionID, message string) (*ChatReply, error) {
	message = sanitizeForPrompt(message, maxChatMessageLen)
	if message == "" {
		return nil, ai.ErrEmptyPrompt
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	knowledge, err := c.store.ActiveEntries(ctx)
	if err != nil {
		return nil, err
	}
	history, err := c.store.History(ctx, sessionID, chatHistoryLimit)
	if err != nil {
		return nil, err
	}

	reply := &ChatReply{SessionID: sessionID}
	res, err := c.ai.GenerateContent(ctx, ai.Request{
		Prompt:    buildChatPrompt(knowledge, history, message),
		MaxTokens: chatMaxTokens,
		Lenient:   true,
	})
	if err != nil {
		return nil, err
	}
	reply.Reply = cleanMarkdown(chatText(res))
	if reply.Reply == "" {
		c.logger.WarnContext(ctx, "chatbot using canned reply", "session", sessionID)
		reply.Reply = cannedReply(message)
		reply.Fallback = true
	}

	if err := c.store.SaveMessage(ctx, sessionID, models.RoleUser, message); err != nil {
		return nil, err
	}
	if err := c.store.SaveMessage(ctx, sessionID, models.RoleAssistant, reply.Reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// SuggestedQuestions lists starter prompts for the chat UI.
func (c *ChatbotService) SuggestedQuestions() []string {
	return []string{
		"What can Lamla AI do?",
		"How do I generate a quiz from my notes?",
		"How do flashcard reviews work?",
		"Can you explain a topic from my course?",
		"How should I prepare for an exam?",
	}
}

func buildChatPrompt(knowledge []models.KnowledgeEntry, history []models.ChatMessage, message string) string {
	var b strings.Builder
	b.WriteString("You are Lamla, a friendly study assistant. Answer concisely in plain text without markdown.\n")
	if len(knowledge) > 0 {
		b.WriteString("\nKnowledge base:\n")
		for _, e := range knowledge {
			fmt.Fprintf(&b, "- Q: %s\n  A: %s\n", e.Question, e.Answer)
		}
	}
	if len(history) > 0 {
		b.WriteString("\nConversation so far:\n")
		for _, m := range history {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
	}
	fmt.Fprintf(&b, "\nuser: %s\nassistant:", message)
	return b.String()
}

// chatText unwraps chat-completion shaped JSON some endpoints return as text.
func chatText(res ai.Result) string {
	if res.IsEmpty() {
		return ""
	}
	var chat struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if res.Structured() {
		if err := res.Decode(&chat); err == nil && len(chat.Choices) > 0 {
			return strings.TrimSpace(chat.Choices[0].Message.Content)
		}
	}
	return resultText(res)
}

var (
	mdHeading  = regexp.MustCompile(`(?m)^#{1,6}\s*`)
	mdEmphasis = regexp.MustCompile(`\*{1,3}([^*\n]+)\*{1,3}|_{2}([^_\n]+)_{2}`)
	mdCode     = regexp.MustCompile("`{1,3}([^`]*)`{1,3}")
	mdBullet   = regexp.MustCompile(`(?m)^[ \t]*[-*+][ \t]+`)
	blankLines = regexp.MustCompile(`\n{3,}`)
)

func cleanMarkdown(s string) string {
	s = mdHeading.ReplaceAllString(s, "")
	s = mdBullet.ReplaceAllString(s, "- ")
	s = mdEmphasis.ReplaceAllString(s, "$1$2")
	s = mdCode.ReplaceAllString(s, "$1")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

var cannedReplies = []struct {
	keywords []string
	reply    string
}{
	{[]string{"hello", "hi", "hey"}, "Hello! I'm Lamla, your study assistant. Ask me about quizzes, flashcards or anything you're studying."},
	{[]string{"thank", "thanks"}, "You're welcome! Good luck with your studies."},
	{[]string{"contact", "support", "email"}, "You can reach the Lamla AI team through the support page in the app."},
	{[]string{"feature", "features", "quiz", "flashcard", "flashcards"}, "Lamla AI can generate quizzes and flashcards from your notes, analyse past exam papers, and schedule reviews for you."},
	{[]string{"what", "how", "help"}, "I can help you generate quizzes, build flashcard decks and plan exam revision. What would you like to do?"},
}

const defaultCannedReply = "I'm having trouble answering right now. Please try again in a moment."

// cannedReply matches whole words so "this" does not trigger the "hi" reply.
func cannedReply(message string) string {
	tokens := wordSet(message)
	for _, c := range cannedReplies {
		for _, kw := range c.keywords {
			if _, ok := tokens[kw]; ok {
				return c.reply
			}
		}
	}
	return defaultCannedReply
}

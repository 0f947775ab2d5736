package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Open connects to the SQLite database and runs schema migrations. Pass
// ":memory:" for a throwaway database.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	if err := migrate(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return conn, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS decks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			subject TEXT,
			mode TEXT NOT NULL DEFAULT 'standard' CHECK(mode IN ('standard','concept','process')),
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS cards (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			deck_id INTEGER NOT NULL,
			front TEXT NOT NULL,
			back TEXT NOT NULL,
			due DATETIME,
			stability REAL NOT NULL DEFAULT 0,
			difficulty REAL NOT NULL DEFAULT 0,
			elapsed_days INTEGER NOT NULL DEFAULT 0,
			scheduled_days INTEGER NOT NULL DEFAULT 0,
			reps INTEGER NOT NULL DEFAULT 0,
			lapses INTEGER NOT NULL DEFAULT 0,
			state INTEGER NOT NULL DEFAULT 0,
			last_review DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY(deck_id) REFERENCES decks(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS review_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			card_id INTEGER NOT NULL,
			rating INTEGER NOT NULL,
			scheduled_days INTEGER NOT NULL,
			elapsed_days INTEGER NOT NULL,
			state INTEGER NOT NULL,
			reviewed_at DATETIME NOT NULL,
			FOREIGN KEY(card_id) REFERENCES cards(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS chatbot_knowledge (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			category TEXT NOT NULL DEFAULT 'general',
			question TEXT NOT NULL UNIQUE,
			answer TEXT NOT NULL,
			keywords TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL CHECK(role IN ('user','assistant')),
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cards_due ON cards(due);`,
		`CREATE INDEX IF NOT EXISTS idx_cards_deck ON cards(deck_id);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_session ON chat_messages(session_id, id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("execute %q: %w", stmt, err)
		}
	}

	// Seed the knowledge base so the chatbot has something to cite on first run.
	const insertDefault = `
	INSERT INTO chatbot_knowledge (category, question, answer, keywords, is_active, created_at)
	SELECT ?, ?, ?, ?, 1, ?
	WHERE NOT EXISTS (SELECT 1 FROM chatbot_knowledge WHERE question = ?);`
	now := time.Now().UTC()
	for _, entry := range defaultKnowledge {
		if _, err := db.Exec(insertDefault, entry[0], entry[1], entry[2], entry[3], now, entry[1]); err != nil {
			return fmt.Errorf("seed knowledge %q: %w", entry[1], err)
		}
	}

	return nil
}

// category, question, answer, keywords
var defaultKnowledge = [][4]string{
	{
		"features",
		"What can Lamla AI do?",
		"Lamla AI turns your study material into quizzes and flashcards, analyses past exam papers, and answers study questions in chat.",
		"features,quiz,flashcards,exam",
	},
	{
		"quiz",
		"How do I generate a quiz?",
		"Paste or upload your notes, choose how many multiple choice and short answer questions you want, and press Generate.",
		"quiz,generate,questions",
	},
	{
		"flashcards",
		"How do flashcard reviews work?",
		"Rate each card Again, Hard, Good or Easy. Cards you find hard come back sooner, easy ones later.",
		"flashcards,review,spaced repetition",
	},
}

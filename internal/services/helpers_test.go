package services

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"lamla-ai/internal/ai"
	"lamla-ai/internal/db"
)

// fakeGenerator records every request and answers with a fixed result.
type fakeGenerator struct {
	mu       sync.Mutex
	requests []ai.Request
	result   ai.Result
	err      error
}

func (f *fakeGenerator) GenerateContent(_ context.Context, req ai.Request) (ai.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.result, f.err
}

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeGenerator) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return ""
	}
	return f.requests[len(f.requests)-1].Prompt
}

// textAnswer builds the result the client would produce for a raw model reply.
func textAnswer(raw string) *fakeGenerator {
	return &fakeGenerator{result: ai.Normalize(ai.TextReply(raw))}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "lamla.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

package services

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"lamla-ai/internal/ai"
)

var (
	// ErrTextTooShort is returned when the study material is too short to work from.
	ErrTextTooShort = errors.New("text is too short")
	// ErrNoFlashcards indicates that no usable flashcards came back from the model.
	ErrNoFlashcards = errors.New("no flashcards generated")
)

// Generator is the completion capability the services depend on. *ai.Client
// satisfies it.
type Generator interface {
	GenerateContent(ctx context.Context, req ai.Request) (ai.Result, error)
}

func sanitizeForPrompt(input string, limit int) string {
	collapsed := strings.Join(strings.Fields(strings.TrimSpace(input)), " ")
	return truncateRunes(collapsed, limit)
}

func truncateRunes(input string, limit int) string {
	if limit <= 0 {
		return input
	}
	runes := []rune(input)
	if len(runes) <= limit {
		return input
	}
	return string(runes[:limit])
}

// words lower-cases s and splits it on anything that is not a letter or digit.
func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range words(s) {
		set[w] = struct{}{}
	}
	return set
}

// resultText flattens a result to text, unquoting JSON strings.
func resultText(res ai.Result) string {
	if s, ok := res.Value().(string); ok && res.Structured() {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(res.String())
}

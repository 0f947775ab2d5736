package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"lamla-ai/internal/ai"
)

// Grader marks short answers, asking the model first and falling back to
// keyword overlap when no provider answers.
type Grader struct {
	ai     Generator
	logger *slog.Logger
}

func NewGrader(gen Generator, logger *slog.Logger) *Grader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Grader{ai: gen, logger: logger}
}

// GradeShortAnswer reports whether answer is an acceptable response.
func (g *Grader) GradeShortAnswer(ctx context.Context, question, expected, answer string) bool {
	if strings.TrimSpace(answer) == "" {
		return false
	}
	prompt := fmt.Sprintf(`Evaluate the following short answer for correctness.
Question: %s
Expected answer: %s
User answer: %s
Reply only with 'Yes' if the user's answer is correct, or 'No' if it is not.`,
		sanitizeForPrompt(question, 500), sanitizeForPrompt(expected, 500), sanitizeForPrompt(answer, 500))

	res, err := g.ai.GenerateContent(ctx, ai.Request{Prompt: prompt, MaxTokens: 10})
	if err != nil {
		g.logger.WarnContext(ctx, "ai grading failed, using keyword match", "error", err)
		return keywordMatch(expected, answer)
	}
	if verdict, ok := res.Value().(bool); ok {
		return verdict
	}
	return strings.HasPrefix(strings.ToLower(resultText(res)), "yes")
}

// keywordMatch accepts an exact match or more than half of the expected words.
func keywordMatch(expected, answer string) bool {
	exp := strings.ToLower(strings.TrimSpace(expected))
	got := strings.ToLower(strings.TrimSpace(answer))
	if exp == got {
		return true
	}
	expWords := make(map[string]struct{})
	for _, w := range strings.Fields(exp) {
		expWords[w] = struct{}{}
	}
	if len(expWords) == 0 {
		return false
	}
	hits := 0
	for w := range expWords {
		for _, u := range strings.Fields(got) {
			if u == w {
				hits++
				break
			}
		}
	}
	return float64(hits)/float64(len(expWords)) > 0.5
}

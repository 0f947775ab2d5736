package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"lamla-ai/internal/ai"
)

const (
	maxExamText      = 6000
	examMaxTokens    = 2000
	minExamTextChars = 30
)

type ExamTopic struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Frequency   int    `json:"frequency"`
}

type ExamAnalysis struct {
	Subject     string      `json:"subject"`
	Topics      []ExamTopic `json:"topics"`
	Trends      []string    `json:"trends"`
	Predictions []string    `json:"predictions"`
	Notes       string      `json:"notes,omitempty"`
	Fallback    bool        `json:"fallback"`
}

type ExamRequest struct {
	Text    string `json:"text"`
	Subject string `json:"subject"`
	Context string `json:"context,omitempty"`
}

// ExamAnalyzer looks for recurring topics in past exam papers.
type ExamAnalyzer struct {
	ai     Generator
	logger *slog.Logger
}

func NewExamAnalyzer(gen Generator, logger *slog.Logger) *ExamAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExamAnalyzer{ai: gen, logger: logger}
}

func (a *ExamAnalyzer) Analyze(ctx context.Context, req ExamRequest) (*ExamAnalysis, error) {
	text := strings.TrimSpace(req.Text)
	if len([]rune(text)) < minExamTextChars {
		return nil, fmt.Errorf("%w: need at least %d characters", ErrTextTooShort, minExamTextChars)
	}
	subject := sanitizeForPrompt(req.Subject, 120)
	if subject == "" {
		subject = "General"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Analyze these past exam questions for the subject %q.\n", subject)
	if extra := sanitizeForPrompt(req.Context, 500); extra != "" {
		fmt.Fprintf(&b, "Additional context: %s\n", extra)
	}
	b.WriteString(`Strictly respond with a JSON object {"topics":[{"name":"","description":"","frequency":0}],"trends":[""],"predictions":[""],"notes":""}. `)
	b.WriteString("Frequency is how many questions target the topic. Include at most 12 topics sorted by frequency descending.\n\nEXAM TEXT:\n")
	b.WriteString(truncateRunes(text, maxExamText))

	res, err := a.ai.GenerateContent(ctx, ai.Request{Prompt: b.String(), MaxTokens: examMaxTokens})
	if err != nil {
		a.logger.WarnContext(ctx, "exam analysis fell back to template", "subject", subject, "error", err)
		return fallbackAnalysis(subject), nil
	}

	analysis := &ExamAnalysis{}
	if err := res.Decode(analysis); err != nil || len(analysis.Topics)+len(analysis.Trends)+len(analysis.Predictions) == 0 {
		a.logger.WarnContext(ctx, "exam analysis response was not usable", "subject", subject, "structured", res.Structured())
		return fallbackAnalysis(subject), nil
	}
	analysis.Subject = subject
	analysis.Fallback = false
	topics := make([]ExamTopic, 0, len(analysis.Topics))
	for _, t := range analysis.Topics {
		if t.Name = strings.TrimSpace(t.Name); t.Name != "" {
			t.Frequency = max(t.Frequency, 1)
			topics = append(topics, t)
		}
	}
	analysis.Topics = topics
	if analysis.Trends == nil {
		analysis.Trends = []string{}
	}
	if analysis.Predictions == nil {
		analysis.Predictions = []string{}
	}
	return analysis, nil
}

func fallbackAnalysis(subject string) *ExamAnalysis {
	return &ExamAnalysis{
		Subject:     subject,
		Topics:      []ExamTopic{},
		Trends:      []string{fmt.Sprintf("Trends for %s based on analysis of the provided papers are not available right now.", subject)},
		Predictions: []string{fmt.Sprintf("Predictions for %s: review the topics that appear in every paper first.", subject)},
		Fallback:    true,
	}
}

package services

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"lamla-ai/internal/ai"
)

const (
	minQuizTextLength = 30
	maxQuizText       = 8000
	maxQuizQuestions  = 20
	quizMaxTokens     = 4000
)

type MCQuestion struct {
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	Answer      string   `json:"answer"`
	Explanation string   `json:"explanation"`
}

type ShortQuestion struct {
	Question    string `json:"question"`
	Answer      string `json:"answer"`
	Explanation string `json:"explanation"`
}

// Quiz is a generated question set. Fallback is set when any question is a
// templated placeholder rather than model output.
type Quiz struct {
	MCQ      []MCQuestion    `json:"mcq_questions"`
	Short    []ShortQuestion `json:"short_questions"`
	Fallback bool            `json:"fallback"`
}

type QuizRequest struct {
	Text       string `json:"text"`
	NumMCQ     int    `json:"num_mcq"`
	NumShort   int    `json:"num_short"`
	Subject    string `json:"subject,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
}

// QuestionGenerator turns study material into multiple choice and short
// answer questions.
type QuestionGenerator struct {
	ai     Generator
	logger *slog.Logger
}

func NewQuestionGenerator(gen Generator, logger *slog.Logger) *QuestionGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuestionGenerator{ai: gen, logger: logger}
}

// Generate asks the model for a quiz and repairs whatever comes back. It
// only fails on unusable input; provider outages produce placeholder questions.
func (g *QuestionGenerator) Generate(ctx context.Context, req QuizRequest) (*Quiz, error) {
	text := strings.TrimSpace(req.Text)
	if len([]rune(text)) < minQuizTextLength {
		return nil, fmt.Errorf("%w: need at least %d characters", ErrTextTooShort, minQuizTextLength)
	}
	req.NumMCQ = clamp(req.NumMCQ, 0, maxQuizQuestions)
	req.NumShort = clamp(req.NumShort, 0, maxQuizQuestions)
	if req.NumMCQ == 0 && req.NumShort == 0 {
		return &Quiz{MCQ: []MCQuestion{}, Short: []ShortQuestion{}}, nil
	}

	res, err := g.ai.GenerateContent(ctx, ai.Request{
		Prompt:    buildQuizPrompt(text, req),
		MaxTokens: quizMaxTokens,
	})
	if err != nil {
		g.logger.WarnContext(ctx, "quiz generation fell back to placeholders", "error", err)
		return fallbackQuiz(req), nil
	}

	var quiz Quiz
	if res.Structured() {
		if err := res.Decode(&quiz); err != nil {
			g.logger.WarnContext(ctx, "decode quiz json", "error", err)
		}
	} else {
		quiz = parseQuizText(res.Text())
	}
	quiz.MCQ = validMCQ(quiz.MCQ)
	quiz.Short = validShort(quiz.Short)

	if len(quiz.MCQ) == 0 && len(quiz.Short) == 0 {
		g.logger.WarnContext(ctx, "quiz response had no usable questions")
		return fallbackQuiz(req), nil
	}
	return fillQuiz(quiz, req), nil
}

var difficultyGuidance = map[string]string{
	"easy": "DIFFICULTY: All questions must be EASY.\n" +
		"- Level: High school.\n" +
		"- Focus on basic understanding, recall and single-step reasoning.",
	"medium": "DIFFICULTY: All questions must be MEDIUM.\n" +
		"- Level: University undergraduate.\n" +
		"- Require application, analysis and multi-step reasoning.",
	"hard": "DIFFICULTY: All questions must be HARD.\n" +
		"- Level: Top university or competitive exams.\n" +
		"- Require deep conceptual understanding and multi-topic synthesis.",
}

func buildQuizPrompt(text string, req QuizRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate exactly %d multiple-choice questions and %d short-answer questions based on the following text.\n\n", req.NumMCQ, req.NumShort)
	if subject := sanitizeForPrompt(req.Subject, 120); subject != "" {
		fmt.Fprintf(&b, "Subject/Topic: %s\n", subject)
	}
	b.WriteString("Text:\n---\n")
	b.WriteString(truncateRunes(text, maxQuizText))
	b.WriteString("\n---\n")
	if guidance, ok := difficultyGuidance[strings.ToLower(strings.TrimSpace(req.Difficulty))]; ok {
		b.WriteString("\n" + guidance + "\n")
	}
	b.WriteString(`
Respond with only a JSON object of this shape:
{"mcq_questions":[{"question":"","options":["","","",""],"answer":"A","explanation":""}],
 "short_questions":[{"question":"","answer":"","explanation":""}]}

Requirements:
- Questions must be directly based on the provided text
- Each multiple-choice question has four options and exactly one correct letter A-D
- Short answer questions should require thoughtful responses
- All questions should be clear and unambiguous`)
	return b.String()
}

var (
	mcqHeader    = regexp.MustCompile(`(?i)^(?:mcq\s*\d*|q\d+|question\s*\d+)\s*[:.)]\s*(.*)$`)
	shortHeader  = regexp.MustCompile(`(?i)^short(?:\s*answer)?\s*\d*\s*[:.)]\s*(.*)$`)
	optionLine   = regexp.MustCompile(`^([A-Da-d])[).]\s*(.+)$`)
	labeledField = regexp.MustCompile(`(?i)^(correct answer|expected answer|answer|explanation)\s*:\s*(.*)$`)
)

// parseQuizText reads the "MCQ1:" / "Short Answer 1:" line format that
// models fall back to when they ignore the JSON instruction.
func parseQuizText(text string) Quiz {
	var quiz Quiz
	var mcq *MCQuestion
	var short *ShortQuestion
	flush := func() {
		if mcq != nil {
			quiz.MCQ = append(quiz.MCQ, *mcq)
			mcq = nil
		}
		if short != nil {
			quiz.Short = append(quiz.Short, *short)
			short = nil
		}
	}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(strings.ReplaceAll(raw, "**", ""))
		line = strings.TrimLeft(line, "# ")
		if line == "" {
			continue
		}
		if m := shortHeader.FindStringSubmatch(line); m != nil {
			flush()
			short = &ShortQuestion{Question: strings.TrimSpace(m[1])}
			continue
		}
		if m := mcqHeader.FindStringSubmatch(line); m != nil {
			flush()
			mcq = &MCQuestion{Question: strings.TrimSpace(m[1])}
			continue
		}
		if m := labeledField.FindStringSubmatch(line); m != nil {
			label, value := strings.ToLower(m[1]), strings.TrimSpace(m[2])
			switch {
			case mcq != nil && label == "explanation":
				mcq.Explanation = value
			case mcq != nil:
				mcq.Answer = value
			case short != nil && label == "explanation":
				short.Explanation = value
			case short != nil:
				short.Answer = value
			}
			continue
		}
		if m := optionLine.FindStringSubmatch(line); m != nil && mcq != nil {
			mcq.Options = append(mcq.Options, strings.TrimSpace(m[2]))
		}
	}
	flush()
	return quiz
}

func validMCQ(in []MCQuestion) []MCQuestion {
	out := make([]MCQuestion, 0, len(in))
	for _, q := range in {
		q.Question = strings.TrimSpace(q.Question)
		opts := make([]string, 0, len(q.Options))
		for _, o := range q.Options {
			if o = strings.TrimSpace(o); o != "" {
				opts = append(opts, o)
			}
		}
		q.Options = opts
		q.Answer = answerLetter(q.Answer, q.Options)
		if q.Question == "" || len(q.Options) < 2 || q.Answer == "" {
			continue
		}
		out = append(out, q)
	}
	return out
}

// answerLetter maps "b", "B) Paris", or the option text itself to a letter
// within range of options.
func answerLetter(answer string, options []string) string {
	answer = strings.TrimSpace(answer)
	for i, o := range options {
		if strings.EqualFold(answer, o) && i < 26 {
			return string(rune('A' + i))
		}
	}
	if answer == "" {
		return ""
	}
	letter := strings.ToUpper(answer[:1])
	if len(answer) > 1 {
		if next := answer[1]; next != ')' && next != '.' && next != ' ' && next != ':' {
			return ""
		}
	}
	idx := int(letter[0]) - 'A'
	if idx < 0 || idx >= len(options) || idx > 3 {
		return ""
	}
	return letter
}

func validShort(in []ShortQuestion) []ShortQuestion {
	out := make([]ShortQuestion, 0, len(in))
	for _, q := range in {
		q.Question = strings.TrimSpace(q.Question)
		q.Answer = strings.TrimSpace(q.Answer)
		if q.Question == "" || q.Answer == "" {
			continue
		}
		out = append(out, q)
	}
	return out
}

// fillQuiz trims extra questions and tops short counts up with placeholders.
func fillQuiz(quiz Quiz, req QuizRequest) *Quiz {
	placeholder := fallbackQuiz(req)
	if len(quiz.MCQ) > req.NumMCQ {
		quiz.MCQ = quiz.MCQ[:req.NumMCQ]
	}
	for i := len(quiz.MCQ); i < req.NumMCQ; i++ {
		quiz.MCQ = append(quiz.MCQ, placeholder.MCQ[i])
		quiz.Fallback = true
	}
	if len(quiz.Short) > req.NumShort {
		quiz.Short = quiz.Short[:req.NumShort]
	}
	for i := len(quiz.Short); i < req.NumShort; i++ {
		quiz.Short = append(quiz.Short, placeholder.Short[i])
		quiz.Fallback = true
	}
	return &quiz
}

func fallbackQuiz(req QuizRequest) *Quiz {
	topic := "the text"
	if subject := sanitizeForPrompt(req.Subject, 80); subject != "" {
		topic = "the " + subject + " text"
	}
	quiz := &Quiz{
		MCQ:      make([]MCQuestion, 0, req.NumMCQ),
		Short:    make([]ShortQuestion, 0, req.NumShort),
		Fallback: true,
	}
	for i := 0; i < req.NumMCQ; i++ {
		quiz.MCQ = append(quiz.MCQ, MCQuestion{
			Question: fmt.Sprintf("What is the main topic discussed in %s?", topic),
			Options: []string{
				"The primary subject matter",
				"A secondary detail mentioned",
				"An unrelated concept",
				"A technical term explained",
			},
			Answer:      "A",
			Explanation: "The question tests understanding of the main topic.",
		})
	}
	for i := 0; i < req.NumShort; i++ {
		quiz.Short = append(quiz.Short, ShortQuestion{
			Question:    fmt.Sprintf("Summarize the key points from %s in 2-3 sentences.", topic),
			Answer:      "The text discusses important concepts that should be summarized based on the content.",
			Explanation: "This question assesses comprehension and summarization skills.",
		})
	}
	return quiz
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

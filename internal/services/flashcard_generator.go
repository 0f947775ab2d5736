package services

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"lamla-ai/internal/ai"
	"lamla-ai/internal/models"
)

const (
	minFlashcardTextLength = 50
	maxFlashcardText       = 4000
	maxFlashcards          = 50
	defaultFlashcardCount  = 10
	flashcardMaxTokens     = 2500
)

// FlashcardDraft is a generated card that has not been saved yet.
type FlashcardDraft struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

type FlashcardRequest struct {
	Text  string               `json:"text"`
	Count int                  `json:"count"`
	Mode  models.FlashcardMode `json:"mode"`
}

// FlashcardGenerator extracts flashcards from study material.
type FlashcardGenerator struct {
	ai     Generator
	logger *slog.Logger
}

func NewFlashcardGenerator(gen Generator, logger *slog.Logger) *FlashcardGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &FlashcardGenerator{ai: gen, logger: logger}
}

// Generate returns cards whose content overlaps the source text. Unlike quiz
// generation there is no placeholder fallback: provider failures surface.
func (g *FlashcardGenerator) Generate(ctx context.Context, req FlashcardRequest) ([]FlashcardDraft, error) {
	text := strings.TrimSpace(req.Text)
	if len([]rune(text)) < minFlashcardTextLength {
		return nil, fmt.Errorf("%w: need at least %d characters", ErrTextTooShort, minFlashcardTextLength)
	}
	if req.Count <= 0 {
		req.Count = defaultFlashcardCount
	}
	req.Count = min(req.Count, maxFlashcards)
	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		return nil, err
	}

	res, err := g.ai.GenerateContent(ctx, ai.Request{
		Prompt:    buildFlashcardPrompt(text, req.Count, mode),
		MaxTokens: flashcardMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("generate flashcards: %w", err)
	}

	var drafts []FlashcardDraft
	if res.Structured() {
		drafts = decodeFlashcards(res)
	} else {
		drafts = parseFlashcards(res.Text())
	}
	for i := range drafts {
		drafts[i].Front = cleanCardText(drafts[i].Front)
		drafts[i].Back = cleanCardText(drafts[i].Back)
	}

	valid := make([]FlashcardDraft, 0, len(drafts))
	for _, d := range drafts {
		if d.Front == "" || d.Back == "" {
			continue
		}
		if !overlapsSource(d, text) {
			g.logger.WarnContext(ctx, "flashcard rejected for low overlap", "front", truncateRunes(d.Front, 50))
			continue
		}
		valid = append(valid, d)
		if len(valid) == req.Count {
			break
		}
	}
	if len(valid) == 0 {
		return nil, ErrNoFlashcards
	}
	return valid, nil
}

// ParseMode accepts the three flashcard styles; blank means standard.
func ParseMode(raw string) (models.FlashcardMode, error) {
	switch mode := models.FlashcardMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case "":
		return models.ModeStandard, nil
	case models.ModeStandard, models.ModeConcept, models.ModeProcess:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown flashcard mode %q", raw)
	}
}

var modeFocus = map[models.FlashcardMode]string{
	models.ModeStandard: "Front: a specific question, term or concept directly from the text.\n" +
		"Back: the exact definition, explanation or answer as stated in the text.",
	models.ModeConcept: "Front: the exact term or concept name as it appears in the text.\n" +
		"Back: the complete definition, characteristics and examples the text gives for it.",
	models.ModeProcess: "Front: a question about a specific step, process or procedure from the text.\n" +
		"Back: the exact steps, order, conditions and cautions as the text describes them.",
}

func buildFlashcardPrompt(text string, count int, mode models.FlashcardMode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are creating %d %s flashcards from the provided study material.\n\n", count, mode)
	b.WriteString("Use ONLY information explicitly stated in the text. Do not add outside knowledge.\n")
	b.WriteString("Use the text's own terminology, numbers, names and definitions.\n\n")
	b.WriteString(modeFocus[mode])
	b.WriteString("\n\nSTUDY MATERIAL:\n")
	b.WriteString(truncateRunes(text, maxFlashcardText))
	fmt.Fprintf(&b, "\n\nOUTPUT FORMAT: exactly %d flashcards, each as two numbered lines:\n", count)
	b.WriteString("1. Front: [question or concept]\n1. Back: [answer or explanation]\n2. Front: ...\n2. Back: ...\n")
	return b.String()
}

// decodeFlashcards accepts {"flashcards":[...]} or a bare array.
func decodeFlashcards(res ai.Result) []FlashcardDraft {
	var wrapped struct {
		Flashcards []FlashcardDraft `json:"flashcards"`
	}
	if err := res.Decode(&wrapped); err == nil && len(wrapped.Flashcards) > 0 {
		return wrapped.Flashcards
	}
	var list []FlashcardDraft
	if err := res.Decode(&list); err == nil {
		return list
	}
	return nil
}

var (
	numberedSide = regexp.MustCompile(`(?i)^(\d+)[.)]\s*(front|back)\s*:\s*(.*)$`)
	sameLine     = regexp.MustCompile(`(?i)^\d+[.)]\s*front\s*:\s*(.*?)\s*back\s*:\s*(.*)$`)
	labeledSide  = regexp.MustCompile(`(?i)^(front|back)\s*:\s*(.*)$`)
)

// parseFlashcards tries the numbered two-line format first, then
// "N. Front: ... Back: ..." on one line, then bare Front:/Back: pairs, and
// finally pairs consecutive lines.
func parseFlashcards(text string) []FlashcardDraft {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}

	if cards := parseNumbered(lines); len(cards) > 0 {
		return cards
	}

	var cards []FlashcardDraft
	for _, l := range lines {
		if m := sameLine.FindStringSubmatch(l); m != nil {
			cards = append(cards, FlashcardDraft{Front: m[1], Back: m[2]})
		}
	}
	if len(cards) > 0 {
		return cards
	}

	for i := 0; i+1 < len(lines); i++ {
		front := labeledSide.FindStringSubmatch(lines[i])
		back := labeledSide.FindStringSubmatch(lines[i+1])
		if front != nil && back != nil && strings.EqualFold(front[1], "front") && strings.EqualFold(back[1], "back") {
			cards = append(cards, FlashcardDraft{Front: front[2], Back: back[2]})
			i++
		}
	}
	if len(cards) > 0 {
		return cards
	}

	for i := 0; i+1 < len(lines); i += 2 {
		cards = append(cards, FlashcardDraft{Front: lines[i], Back: lines[i+1]})
	}
	return cards
}

func parseNumbered(lines []string) []FlashcardDraft {
	fronts := map[int]string{}
	backs := map[int]string{}
	var current map[int]string
	currentNum := 0
	for _, l := range lines {
		if sameLine.MatchString(l) {
			current = nil
			continue
		}
		if m := numberedSide.FindStringSubmatch(l); m != nil {
			n, _ := strconv.Atoi(m[1])
			current, currentNum = fronts, n
			if strings.EqualFold(m[2], "back") {
				current = backs
			}
			current[n] = m[3]
			continue
		}
		// Continuation of a multi-line side.
		if current != nil {
			current[currentNum] = strings.TrimSpace(current[currentNum] + " " + l)
		}
	}

	nums := make([]int, 0, len(fronts))
	for n := range fronts {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	cards := make([]FlashcardDraft, 0, len(nums))
	for _, n := range nums {
		if back, ok := backs[n]; ok {
			cards = append(cards, FlashcardDraft{Front: fronts[n], Back: back})
		}
	}
	return cards
}

var (
	cardPrefix    = regexp.MustCompile(`(?i)^(front|back|q|a|question|answer)\s*:\s*`)
	cardNumbering = regexp.MustCompile(`^\d+[.)]\s*`)
)

func cleanCardText(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = cardPrefix.ReplaceAllString(s, "")
	s = cardNumbering.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// overlapsSource keeps cards that share more than a tenth of their words
// with the source, or any source term of six or more letters.
func overlapsSource(d FlashcardDraft, source string) bool {
	sourceWords := wordSet(source)
	if overlap(d.Front, sourceWords) > 0.1 || overlap(d.Back, sourceWords) > 0.1 {
		return true
	}
	for w := range wordSet(d.Front + " " + d.Back) {
		if _, ok := sourceWords[w]; ok && len([]rune(w)) >= 6 {
			return true
		}
	}
	return false
}

func overlap(text string, source map[string]struct{}) float64 {
	set := wordSet(text)
	if len(set) == 0 {
		return 0
	}
	common := 0
	for w := range set {
		if _, ok := source[w]; ok {
			common++
		}
	}
	return float64(common) / float64(len(set))
}

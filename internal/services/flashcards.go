package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	fsrs "github.com/open-spaced-repetition/go-fsrs"

	"lamla-ai/internal/models"
)

var (
	// ErrNoDueCards indicates that there are no cards ready to review.
	ErrNoDueCards = errors.New("no due cards")
	// ErrNotFound is returned for unknown deck or card ids.
	ErrNotFound = errors.New("not found")
)

// FlashcardService stores generated decks and schedules reviews with FSRS.
type FlashcardService struct {
	db     *sql.DB
	params fsrs.Parameters
	now    func() time.Time
}

func NewFlashcardService(db *sql.DB) *FlashcardService {
	return &FlashcardService{
		db:     db,
		params: fsrs.DefaultParam(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

const cardColumns = `
	c.id, c.deck_id, c.front, c.back, c.due, c.stability, c.difficulty,
	c.elapsed_days, c.scheduled_days, c.reps, c.lapses, c.state, c.last_review,
	c.created_at, c.updated_at, d.title`

func scanCard(scan func(dest ...any) error) (*models.Card, error) {
	card := &models.Card{}
	if err := scan(
		&card.ID,
		&card.DeckID,
		&card.Front,
		&card.Back,
		&card.Due,
		&card.Stability,
		&card.Difficulty,
		&card.ElapsedDays,
		&card.ScheduledDays,
		&card.Reps,
		&card.Lapses,
		&card.State,
		&card.LastReview,
		&card.CreatedAt,
		&card.UpdatedAt,
		&card.DeckTitle,
	); err != nil {
		return nil, err
	}
	return card, nil
}

// SaveDeck stores drafts as a new deck. New cards are due immediately.
func (s *FlashcardService) SaveDeck(ctx context.Context, title, subject string, mode models.FlashcardMode, drafts []FlashcardDraft) (*models.Deck, error) {
	if len(drafts) == 0 {
		return nil, ErrNoFlashcards
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled deck"
	}
	if mode == "" {
		mode = models.ModeStandard
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.now()
	deck := &models.Deck{
		Title:     title,
		Subject:   sql.NullString{String: strings.TrimSpace(subject), Valid: strings.TrimSpace(subject) != ""},
		Mode:      mode,
		CreatedAt: now,
	}
	var res sql.Result
	res, err = tx.ExecContext(ctx, `INSERT INTO decks (title, subject, mode, created_at) VALUES (?, ?, ?, ?);`,
		deck.Title, nullStringPtr(deck.Subject), string(deck.Mode), deck.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert deck: %w", err)
	}
	if deck.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("deck id: %w", err)
	}

	var stmt *sql.Stmt
	stmt, err = tx.PrepareContext(ctx, `
		INSERT INTO cards (deck_id, front, back, due, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?);
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare card insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range drafts {
		if _, err = stmt.ExecContext(ctx, deck.ID, d.Front, d.Back, now, now, now); err != nil {
			return nil, fmt.Errorf("insert card %q: %w", d.Front, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit deck: %w", err)
	}
	return deck, nil
}

// ListDecks returns decks with the newest first.
func (s *FlashcardService) ListDecks(ctx context.Context) ([]models.Deck, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, subject, mode, created_at FROM decks ORDER BY created_at DESC, id DESC;`)
	if err != nil {
		return nil, fmt.Errorf("list decks: %w", err)
	}
	defer rows.Close()

	var decks []models.Deck
	for rows.Next() {
		var deck models.Deck
		var mode string
		if err := rows.Scan(&deck.ID, &deck.Title, &deck.Subject, &mode, &deck.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan deck: %w", err)
		}
		deck.Mode = models.FlashcardMode(mode)
		decks = append(decks, deck)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decks: %w", err)
	}
	return decks, nil
}

// DeckCards lists a deck's cards in creation order.
func (s *FlashcardService) DeckCards(ctx context.Context, deckID int64) ([]models.Card, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+cardColumns+`
		FROM cards c
		JOIN decks d ON c.deck_id = d.id
		WHERE c.deck_id = ?
		ORDER BY c.id ASC;
	`, deckID)
	if err != nil {
		return nil, fmt.Errorf("list deck cards: %w", err)
	}
	defer rows.Close()

	var cards []models.Card
	for rows.Next() {
		card, err := scanCard(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, *card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cards: %w", err)
	}
	if len(cards) == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM decks WHERE id = ?;`, deckID).Scan(&exists); errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		} else if err != nil {
			return nil, fmt.Errorf("check deck %d: %w", deckID, err)
		}
	}
	return cards, nil
}

// NextCard returns the most overdue card, optionally within one deck
// (deckID 0 means any deck).
func (s *FlashcardService) NextCard(ctx context.Context, deckID int64) (*models.Card, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cardColumns+`
		FROM cards c
		JOIN decks d ON c.deck_id = d.id
		WHERE c.due IS NOT NULL AND c.due <= ? AND (? = 0 OR c.deck_id = ?)
		ORDER BY c.due ASC, c.id ASC
		LIMIT 1;
	`, s.now(), deckID, deckID)
	card, err := scanCard(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoDueCards
	}
	if err != nil {
		return nil, fmt.Errorf("next card: %w", err)
	}
	return card, nil
}

// ReviewCard updates the scheduling information based on the user's rating.
func (s *FlashcardService) ReviewCard(ctx context.Context, cardID int64, rating fsrs.Rating) (*models.Card, *models.ReviewLog, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var card *models.Card
	card, err = scanCard(tx.QueryRowContext(ctx, `SELECT `+cardColumns+`
		FROM cards c
		JOIN decks d ON c.deck_id = d.id
		WHERE c.id = ?;
	`, cardID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load card %d: %w", cardID, err)
	}

	now := s.now()
	scheduling := s.params.Repeat(card.ToFSRSCard(), now)
	info, ok := scheduling[rating]
	if !ok {
		err = fmt.Errorf("rating %d not supported", rating)
		return nil, nil, err
	}
	card.ApplyFSRSCard(info.Card)
	card.UpdatedAt = now

	if _, err = tx.ExecContext(ctx, `
		UPDATE cards
		SET due = ?, stability = ?, difficulty = ?, elapsed_days = ?, scheduled_days = ?,
		    reps = ?, lapses = ?, state = ?, last_review = ?, updated_at = ?
		WHERE id = ?;
	`,
		nullTimePtr(card.Due),
		card.Stability,
		card.Difficulty,
		card.ElapsedDays,
		card.ScheduledDays,
		card.Reps,
		card.Lapses,
		card.State,
		nullTimePtr(card.LastReview),
		card.UpdatedAt,
		card.ID,
	); err != nil {
		return nil, nil, fmt.Errorf("update card %d: %w", card.ID, err)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO review_logs (card_id, rating, scheduled_days, elapsed_days, state, reviewed_at)
		VALUES (?, ?, ?, ?, ?, ?);
	`, card.ID, info.ReviewLog.Rating, info.ReviewLog.ScheduledDays, info.ReviewLog.ElapsedDays, info.ReviewLog.State, now); err != nil {
		return nil, nil, fmt.Errorf("insert review log: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit review: %w", err)
	}

	log := &models.ReviewLog{
		CardID:        card.ID,
		Rating:        int(info.ReviewLog.Rating),
		ScheduledDays: int(info.ReviewLog.ScheduledDays),
		ElapsedDays:   int(info.ReviewLog.ElapsedDays),
		State:         int(info.ReviewLog.State),
		ReviewedAt:    now,
	}
	return card, log, nil
}

// Stats counts cards by FSRS state and how many are due now.
func (s *FlashcardService) Stats(ctx context.Context) (map[string]int, error) {
	var total, due, fresh, learning, review, relearning int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN due IS NOT NULL AND due <= ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN state = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN state = 1 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN state = 2 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN state = 3 THEN 1 ELSE 0 END), 0)
		FROM cards;
	`, s.now()).Scan(&total, &due, &fresh, &learning, &review, &relearning)
	if err != nil {
		return nil, fmt.Errorf("card stats: %w", err)
	}
	return map[string]int{
		"total":      total,
		"due":        due,
		"new":        fresh,
		"learning":   learning,
		"review":     review,
		"relearning": relearning,
	}, nil
}

func nullTimePtr(t sql.NullTime) any {
	if t.Valid {
		return t.Time
	}
	return nil
}

func nullStringPtr(v sql.NullString) any {
	if v.Valid {
		return v.String
	}
	return nil
}

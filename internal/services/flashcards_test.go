package services

import (
	"context"
	"testing"
	"time"

	fsrs "github.com/open-spaced-repetition/go-fsrs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lamla-ai/internal/models"
)

func newTestFlashcardService(t *testing.T) (*FlashcardService, *time.Time) {
	t.Helper()
	svc := NewFlashcardService(openTestDB(t))
	clock := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }
	return svc, &clock
}

var sampleDrafts = []FlashcardDraft{
	{Front: "What is photosynthesis?", Back: "Turning sunlight into chemical energy"},
	{Front: "What absorbs light?", Back: "Chlorophyll"},
}

func TestFlashcardService_SaveAndList(t *testing.T) {
	svc, _ := newTestFlashcardService(t)
	ctx := context.Background()

	deck, err := svc.SaveDeck(ctx, " Biology ", "Science", models.ModeConcept, sampleDrafts)
	require.NoError(t, err)
	assert.Positive(t, deck.ID)
	assert.Equal(t, "Biology", deck.Title)

	cards, err := svc.DeckCards(ctx, deck.ID)
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, "What is photosynthesis?", cards[0].Front)
	assert.True(t, cards[0].Due.Valid)
	assert.Equal(t, "Biology", cards[0].DeckTitle.String)

	second, err := svc.SaveDeck(ctx, "", "", "", sampleDrafts[:1])
	require.NoError(t, err)
	decks, err := svc.ListDecks(ctx)
	require.NoError(t, err)
	require.Len(t, decks, 2)
	assert.Equal(t, second.ID, decks[0].ID)
	assert.Equal(t, "Untitled deck", decks[0].Title)
	assert.Equal(t, models.ModeStandard, decks[0].Mode)
	assert.Equal(t, "Science", decks[1].Subject.String)
}

func TestFlashcardService_ReviewSchedulesCards(t *testing.T) {
	svc, clock := newTestFlashcardService(t)
	ctx := context.Background()

	deck, err := svc.SaveDeck(ctx, "Biology", "", models.ModeStandard, sampleDrafts)
	require.NoError(t, err)

	first, err := svc.NextCard(ctx, deck.ID)
	require.NoError(t, err)
	assert.Equal(t, "What is photosynthesis?", first.Front)

	reviewed, logEntry, err := svc.ReviewCard(ctx, first.ID, fsrs.Good)
	require.NoError(t, err)
	assert.Equal(t, 1, reviewed.Reps)
	assert.True(t, reviewed.Due.Time.After(*clock))
	assert.Equal(t, int(fsrs.Good), logEntry.Rating)

	next, err := svc.NextCard(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "What absorbs light?", next.Front)

	_, _, err = svc.ReviewCard(ctx, next.ID, fsrs.Easy)
	require.NoError(t, err)

	_, err = svc.NextCard(ctx, deck.ID)
	require.ErrorIs(t, err, ErrNoDueCards)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats["total"])
	assert.Equal(t, 0, stats["due"])
	assert.Equal(t, 0, stats["new"])

	*clock = clock.AddDate(0, 3, 0)
	_, err = svc.NextCard(ctx, deck.ID)
	require.NoError(t, err, "cards come due again later")
}

func TestFlashcardService_NotFound(t *testing.T) {
	svc, _ := newTestFlashcardService(t)
	ctx := context.Background()

	_, _, err := svc.ReviewCard(ctx, 42, fsrs.Good)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.DeckCards(ctx, 42)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.SaveDeck(ctx, "Empty", "", models.ModeStandard, nil)
	require.ErrorIs(t, err, ErrNoFlashcards)
}

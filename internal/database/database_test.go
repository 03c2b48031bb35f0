package database

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vedant-gala/Credora/internal/models"
	"github.com/vedant-gala/Credora/internal/repository"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testCard() models.Card {
	fee := dec("499")
	return models.Card{
		ID:        "card-1",
		UserID:    "user-1",
		Bank:      "HDFC",
		Network:   "Visa",
		Active:    true,
		AnnualFee: &fee,
		Baseline:  &models.Baseline{RewardType: models.RewardPoints, Rate: dec("1")},
		Rules: []models.RewardRule{
			{
				ID:         "z-dining",
				Name:       "Dining cashback",
				RewardType: models.RewardCashback,
				Category:   models.CategoryDining,
				Rate:       dec("0.05"),
				Window:     &models.WindowSpec{Kind: models.WindowCalendarMonth},
				Conditions: models.Conditions{
					models.MinSpend{Amount: dec("100")},
					models.TimeWindow{Weekdays: []time.Weekday{time.Friday}, From: 18 * 60, To: 23 * 60},
					models.Cap{Amount: dec("500")},
				},
			},
			{
				ID:         "a-rolling",
				RewardType: models.RewardPoints,
				Category:   models.CategoryAll,
				Rate:       dec("2"),
				Window: &models.WindowSpec{
					Kind:   models.WindowRollingDays,
					Days:   30,
					Anchor: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				},
			},
		},
	}
}

func TestUpsertCard_RoundTrip(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	require.NoError(t, db.UpsertCard(ctx, testCard()))

	card, err := db.LoadCard(ctx, "card-1")
	require.NoError(t, err)
	assert.Equal(t, "HDFC", card.Bank)
	assert.True(t, card.Active)
	require.NotNil(t, card.AnnualFee)
	assert.True(t, card.AnnualFee.Equal(dec("499")))
	require.NotNil(t, card.Baseline)
	assert.Equal(t, models.RewardPoints, card.Baseline.RewardType)

	// rules keep insertion order
	require.Len(t, card.Rules, 2)
	dining := card.Rules[0]
	assert.Equal(t, "z-dining", dining.ID)
	assert.Equal(t, "card-1", dining.CardID)
	require.Len(t, dining.Conditions, 3)
	cp, ok := dining.Cap()
	require.True(t, ok)
	assert.True(t, cp.Amount.Equal(dec("500")))
	tw, ok := dining.Conditions[1].(models.TimeWindow)
	require.True(t, ok)
	assert.Equal(t, []time.Weekday{time.Friday}, tw.Weekdays)

	rolling := card.Rules[1]
	require.NotNil(t, rolling.Window)
	assert.Equal(t, 30, rolling.Window.Days)
	assert.True(t, rolling.Window.Anchor.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestUpsertCard_ReplacesRules(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	card := testCard()
	require.NoError(t, db.UpsertCard(ctx, card))

	card.Rules = card.Rules[:1]
	card.Active = false
	require.NoError(t, db.UpsertCard(ctx, card))

	rules, err := db.LoadRulesForCard(ctx, "card-1")
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	cards, err := db.LoadCardsForUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.False(t, cards[0].Active)
	assert.Len(t, cards[0].Rules, 1)
}

func TestLoad_NotFound(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	_, err := db.LoadCard(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = db.LoadRulesForCard(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = db.LoadMerchant(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = db.LoadThresholdState(ctx, models.StateKey{CardID: "c", RuleID: "r", WindowKey: "lifetime"})
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = db.LoadLatestThresholdState(ctx, "c", "r")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	cards, err := db.LoadCardsForUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, cards)
}

func TestMerchants(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	require.NoError(t, db.UpsertMerchant(ctx, models.Merchant{ID: "m-2", Name: "Shell", Category: models.CategoryFuel}))
	require.NoError(t, db.UpsertMerchant(ctx, models.Merchant{ID: "m-1", Name: "Swiggy", Category: models.CategoryDining}))

	m, err := db.LoadMerchant(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, models.CategoryDining, m.Category)

	all, err := db.ListMerchants(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "m-1", all[0].ID)
}

func state(window string, start time.Time, spend string) models.ThresholdState {
	return models.ThresholdState{
		CardID:             "card-1",
		RuleID:             "z-dining",
		WindowKey:          window,
		WindowStart:        start,
		WindowEnd:          start.AddDate(0, 1, 0),
		SpendToDate:        dec(spend),
		RewardEarnedToDate: decimal.Zero,
	}
}

func TestSaveThresholdState_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	june := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	saved, err := db.SaveThresholdState(ctx, state("2024-06", june, "100"), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version)

	// a second insert for the same key loses
	_, err = db.SaveThresholdState(ctx, state("2024-06", june, "999"), 0)
	assert.ErrorIs(t, err, repository.ErrVersionConflict)

	saved.SpendToDate = dec("250.50")
	saved, err = db.SaveThresholdState(ctx, saved, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)

	// stale version loses
	_, err = db.SaveThresholdState(ctx, saved, 1)
	assert.ErrorIs(t, err, repository.ErrVersionConflict)

	loaded, err := db.LoadThresholdState(ctx, saved.Key())
	require.NoError(t, err)
	assert.True(t, loaded.SpendToDate.Equal(dec("250.50")))
	assert.Equal(t, int64(2), loaded.Version)
	assert.True(t, loaded.WindowStart.Equal(june))
}

func TestListThresholdStates_OldestFirst(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	for _, month := range []time.Month{time.August, time.June, time.July} {
		start := time.Date(2024, month, 1, 0, 0, 0, 0, time.UTC)
		_, err := db.SaveThresholdState(ctx, state(start.Format("2006-01"), start, "1"), 0)
		require.NoError(t, err)
	}

	states, err := db.ListThresholdStates(ctx, "card-1", "z-dining")
	require.NoError(t, err)
	require.Len(t, states, 3)
	assert.Equal(t, "2024-06", states[0].WindowKey)
	assert.Equal(t, "2024-08", states[2].WindowKey)

	latest, err := db.LoadLatestThresholdState(ctx, "card-1", "z-dining")
	require.NoError(t, err)
	assert.Equal(t, "2024-08", latest.WindowKey)
}

func TestSaveThresholdState_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	june := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	saved, err := db.SaveThresholdState(ctx, state("2024-06", june, "0"), 0)
	require.NoError(t, err)

	const writers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := saved
			next.SpendToDate = dec("10")
			if _, err := db.SaveThresholdState(ctx, next, saved.Version); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

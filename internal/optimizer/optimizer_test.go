package optimizer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vedant-gala/Credora/internal/calculator"
	"github.com/vedant-gala/Credora/internal/models"
	"github.com/vedant-gala/Credora/internal/repository/memory"
	"github.com/vedant-gala/Credora/internal/tracker"
	"github.com/vedant-gala/Credora/internal/window"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

var at = time.Date(2024, 6, 14, 13, 0, 0, 0, time.UTC)

func testRates() calculator.ExchangeRates {
	return calculator.ExchangeRates{
		PerUnit: map[models.RewardType]decimal.Decimal{
			models.RewardCashback:            dec("1"),
			models.RewardDiscount:            dec("1"),
			models.RewardPoints:              dec("0.25"),
			models.RewardMilesOrLoungeAccess: dec("0.5"),
		},
		LoungeAccess: ptr(dec("800")),
	}
}

func dining(amount string) models.Purchase {
	return models.Purchase{Amount: dec(amount), Category: models.CategoryDining, Timestamp: at}
}

func rule(id string, rewardType models.RewardType, category models.Category, rate string, conds ...models.Condition) models.RewardRule {
	return models.RewardRule{
		ID:         id,
		RewardType: rewardType,
		Category:   category,
		Rate:       dec(rate),
		Window:     &models.WindowSpec{Kind: models.WindowCalendarMonth},
		Conditions: conds,
	}
}

func card(id string, rules ...models.RewardRule) models.Card {
	for i := range rules {
		rules[i].CardID = id
	}
	return models.Card{ID: id, UserID: "user-1", Bank: "Bank " + id, Network: "Visa", Active: true, Rules: rules}
}

// setup stores cards in a memory repository and returns an optimizer reading
// window state through a tracker over it.
func setup(t *testing.T, rates calculator.ExchangeRates, cards ...models.Card) (*Optimizer, *tracker.Tracker) {
	t.Helper()
	store := memory.New()
	for _, c := range cards {
		require.NoError(t, store.UpsertCard(context.Background(), c))
	}
	calc := calculator.New(rates)
	tr := tracker.New(store, window.NewResolver(time.UTC), calc)
	return New(calc, tr), tr
}

func TestRecommend_CrossTypeComparison(t *testing.T) {
	cardC := card("card-c", rule("c-points", models.RewardPoints, models.CategoryDining, "2"))
	cardD := card("card-d", rule("d-cash", models.RewardCashback, models.CategoryDining, "0.03"))
	opt, _ := setup(t, testRates(), cardC, cardD)

	rec, err := opt.Recommend(context.Background(), dining("1000"), []models.Card{cardD, cardC})
	require.NoError(t, err)

	assert.Equal(t, "card-c", rec.Card.ID)
	require.NotNil(t, rec.Rule)
	assert.Equal(t, "c-points", rec.Rule.ID)
	assert.True(t, rec.Quote.Amount.Equal(dec("2000")))
	assert.True(t, rec.Quote.EffectiveValue.Equal(dec("500")))
	assert.NotEmpty(t, rec.Rationale)

	require.Len(t, rec.Alternatives, 1)
	assert.Equal(t, "card-d", rec.Alternatives[0].CardID)
	assert.True(t, rec.Alternatives[0].Quote.EffectiveValue.Equal(dec("30")))
}

func TestRecommend_TieBreaksOnCardID(t *testing.T) {
	b := card("card-b", rule("b-cash", models.RewardCashback, models.CategoryDining, "0.05"))
	a := card("card-a", rule("a-cash", models.RewardCashback, models.CategoryDining, "0.05"))
	opt, _ := setup(t, testRates(), a, b)

	for i := 0; i < 10; i++ {
		rec, err := opt.Recommend(context.Background(), dining("1000"), []models.Card{b, a})
		require.NoError(t, err)
		assert.Equal(t, "card-a", rec.Card.ID)
	}
}

func TestRecommend_TieBreaksOnAnnualFee(t *testing.T) {
	a := card("card-a", rule("a-cash", models.RewardCashback, models.CategoryDining, "0.05"))
	a.AnnualFee = ptr(dec("999"))
	b := card("card-b", rule("b-cash", models.RewardCashback, models.CategoryDining, "0.05"))
	b.AnnualFee = ptr(dec("0"))
	opt, _ := setup(t, testRates(), a, b)

	rec, err := opt.Recommend(context.Background(), dining("1000"), []models.Card{a, b})
	require.NoError(t, err)
	assert.Equal(t, "card-b", rec.Card.ID)
}

func TestRecommend_BestRulePerCard(t *testing.T) {
	c := card("card-a",
		rule("wild", models.RewardCashback, models.CategoryAll, "0.10"),
		rule("dining", models.RewardCashback, models.CategoryDining, "0.02"),
	)
	opt, _ := setup(t, testRates(), c)

	rec, err := opt.Recommend(context.Background(), dining("1000"), []models.Card{c})
	require.NoError(t, err)
	require.NotNil(t, rec.Rule)
	assert.Equal(t, "wild", rec.Rule.ID)
	assert.Empty(t, rec.Alternatives)
}

func TestRecommend_CappedRuleLosesToUncappedCard(t *testing.T) {
	capped := card("card-a", rule("a-cap", models.RewardCashback, models.CategoryDining, "0.05", models.Cap{Amount: dec("500")}))
	plain := card("card-b", rule("b-cash", models.RewardCashback, models.CategoryDining, "0.01"))
	opt, tr := setup(t, testRates(), capped, plain)

	_, err := tr.Commit(context.Background(), "card-a", "a-cap", models.Transaction{Amount: dec("12000"), Category: models.CategoryDining, Timestamp: at})
	require.NoError(t, err)

	rec, err := opt.Recommend(context.Background(), dining("1000"), []models.Card{capped, plain})
	require.NoError(t, err)
	assert.Equal(t, "card-b", rec.Card.ID)
	require.Len(t, rec.Alternatives, 1)
	assert.True(t, rec.Alternatives[0].Quote.Capped)
	assert.True(t, rec.Alternatives[0].Quote.EffectiveValue.IsZero())
}

func TestRecommend_BaselineWhenNoRuleMatches(t *testing.T) {
	fuelOnly := card("card-a", rule("fuel", models.RewardCashback, models.CategoryFuel, "0.05"))
	fuelOnly.Baseline = &models.Baseline{RewardType: models.RewardPoints, Rate: dec("1")}
	opt, _ := setup(t, testRates(), fuelOnly)

	rec, err := opt.Recommend(context.Background(), dining("1000"), []models.Card{fuelOnly})
	require.NoError(t, err)
	assert.Nil(t, rec.Rule)
	assert.True(t, rec.Quote.EffectiveValue.Equal(dec("250")))
	assert.Contains(t, rec.Rationale, "baseline")
}

func TestRecommend_NoEligibleCard(t *testing.T) {
	fuelOnly := card("card-a", rule("fuel", models.RewardCashback, models.CategoryFuel, "0.05"))
	inactive := card("card-b", rule("b-cash", models.RewardCashback, models.CategoryDining, "0.05"))
	inactive.Active = false
	opt, _ := setup(t, testRates(), fuelOnly, inactive)

	_, err := opt.Recommend(context.Background(), dining("1000"), []models.Card{fuelOnly, inactive})
	assert.ErrorIs(t, err, models.ErrNoEligibleCard)

	_, err = opt.Recommend(context.Background(), dining("1000"), nil)
	assert.ErrorIs(t, err, models.ErrNoEligibleCard)
}

func TestRecommend_MissingExchangeRateIsConfigurationError(t *testing.T) {
	miles := card("card-a", rule("miles", models.RewardMilesOrLoungeAccess, models.CategoryDining, "2"))
	rates := testRates()
	delete(rates.PerUnit, models.RewardMilesOrLoungeAccess)
	opt, _ := setup(t, rates, miles)

	_, err := opt.Recommend(context.Background(), dining("1000"), []models.Card{miles})

	var cfgErr *models.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, models.RewardMilesOrLoungeAccess, cfgErr.RewardType)

	var evalErr *models.EvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, "card-a", evalErr.CardID)
	assert.Equal(t, "miles", evalErr.RuleID)
}

func TestRecommend_LoungeAccess(t *testing.T) {
	lounge := card("card-a", rule("lounge", models.RewardMilesOrLoungeAccess, models.CategoryDining, "0"))
	cash := card("card-b", rule("cash", models.RewardCashback, models.CategoryDining, "0.05"))
	opt, _ := setup(t, testRates(), lounge, cash)

	rec, err := opt.Recommend(context.Background(), dining("1000"), []models.Card{lounge, cash})
	require.NoError(t, err)
	assert.Equal(t, "card-a", rec.Card.ID)
	assert.Equal(t, models.UnitAccess, rec.Quote.Unit)
	assert.True(t, rec.Quote.EffectiveValue.Equal(dec("800")))
}

func TestRecommend_DoesNotMutateState(t *testing.T) {
	c := card("card-a", rule("cash", models.RewardCashback, models.CategoryDining, "0.05"))
	opt, tr := setup(t, testRates(), c)

	for i := 0; i < 3; i++ {
		_, err := opt.Recommend(context.Background(), dining("1000"), []models.Card{c})
		require.NoError(t, err)
	}

	history, err := tr.History(context.Background(), "card-a", "cash")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRecommend_CancelledContext(t *testing.T) {
	c := card("card-a", rule("cash", models.RewardCashback, models.CategoryDining, "0.05"))
	opt, _ := setup(t, testRates(), c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec, err := opt.Recommend(ctx, dining("1000"), []models.Card{c})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.Card.ID)
}

type failingStates struct{ err error }

func (f failingStates) StateFor(ctx context.Context, rule models.RewardRule, asOf time.Time) (models.ThresholdState, error) {
	return models.ThresholdState{}, f.err
}

func TestRecommend_StateReadFailure(t *testing.T) {
	boom := errors.New("boom")
	c := card("card-a", rule("cash", models.RewardCashback, models.CategoryDining, "0.05"))
	opt := New(calculator.New(testRates()), failingStates{err: boom}, WithConcurrency(2))

	_, err := opt.Recommend(context.Background(), dining("1000"), []models.Card{c})
	assert.ErrorIs(t, err, boom)
	var evalErr *models.EvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, "cash", evalErr.RuleID)
}

package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vedant-gala/Credora/internal/calculator"
	"github.com/vedant-gala/Credora/internal/events"
	"github.com/vedant-gala/Credora/internal/models"
	"github.com/vedant-gala/Credora/internal/repository"
	"github.com/vedant-gala/Credora/internal/repository/memory"
	"github.com/vedant-gala/Credora/internal/window"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func june(day int) time.Time {
	return time.Date(2024, 6, day, 12, 0, 0, 0, time.UTC)
}

func july(day int) time.Time {
	return time.Date(2024, 7, day, 12, 0, 0, 0, time.UTC)
}

func testCalc() *calculator.Calculator {
	return calculator.New(calculator.ExchangeRates{
		PerUnit: map[models.RewardType]decimal.Decimal{models.RewardCashback: dec("1")},
	})
}

func seedStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.UpsertCard(context.Background(), models.Card{
		ID:     "card-a",
		UserID: "user-1",
		Active: true,
		Rules: []models.RewardRule{
			{
				ID:         "dining-cap",
				RewardType: models.RewardCashback,
				Category:   models.CategoryDining,
				Rate:       dec("0.05"),
				Window:     &models.WindowSpec{Kind: models.WindowCalendarMonth},
				Conditions: models.Conditions{models.Cap{Amount: dec("500")}},
			},
			{
				ID:         "unlock",
				RewardType: models.RewardCashback,
				Category:   models.CategoryAll,
				Rate:       dec("0.01"),
				Window:     &models.WindowSpec{Kind: models.WindowCalendarMonth},
				Conditions: models.Conditions{models.CumulativeThreshold{MinSpend: dec("5000"), UnlockRate: dec("0.05")}},
			},
		},
	}))
	return store
}

func newTracker(store repository.Repository, opts ...Option) *Tracker {
	return New(store, window.NewResolver(time.UTC), testCalc(), opts...)
}

func txn(amount string, at time.Time) models.Transaction {
	return models.Transaction{Amount: dec(amount), Category: models.CategoryDining, Timestamp: at}
}

func TestGetState_NoActivityIsZeroAndNotCreated(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	tr := newTracker(store)

	state, err := tr.GetState(ctx, "card-a", "dining-cap", june(10))
	require.NoError(t, err)
	assert.Equal(t, "2024-06", state.WindowKey)
	assert.True(t, state.SpendToDate.IsZero())
	assert.True(t, state.RewardEarnedToDate.IsZero())
	assert.Zero(t, state.Version)

	history, err := store.ListThresholdStates(ctx, "card-a", "dining-cap")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCommit_AccumulatesWithinWindow(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(seedStore(t))

	_, err := tr.Commit(ctx, "card-a", "dining-cap", txn("1000", june(1)))
	require.NoError(t, err)
	state, err := tr.Commit(ctx, "card-a", "dining-cap", txn("2000", june(20)))
	require.NoError(t, err)

	assert.True(t, state.SpendToDate.Equal(dec("3000")))
	assert.True(t, state.RewardEarnedToDate.Equal(dec("150")))
	assert.Equal(t, int64(2), state.Version)
}

func TestCommit_CapIsNeverExceeded(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(seedStore(t))

	for _, amount := range []string{"12000", "1000", "4000", "250"} {
		_, err := tr.Commit(ctx, "card-a", "dining-cap", txn(amount, june(5)))
		require.NoError(t, err)
	}

	state, err := tr.GetState(ctx, "card-a", "dining-cap", june(30))
	require.NoError(t, err)
	assert.True(t, state.RewardEarnedToDate.Equal(dec("500")), "earned %s", state.RewardEarnedToDate)
	assert.True(t, state.SpendToDate.Equal(dec("17250")))
}

func TestCommit_CapScenario(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	tr := newTracker(store)
	calc := testCalc()
	rules, err := store.LoadRulesForCard(ctx, "card-a")
	require.NoError(t, err)
	rule := rules[0]

	state, err := tr.StateFor(ctx, rule, june(3))
	require.NoError(t, err)
	q := calc.Quote(rule, txn("12000", june(3)).Purchase(), state)
	assert.True(t, q.Amount.Equal(dec("500")))
	assert.True(t, q.Capped)

	_, err = tr.Commit(ctx, "card-a", "dining-cap", txn("12000", june(3)))
	require.NoError(t, err)

	state, err = tr.StateFor(ctx, rule, june(4))
	require.NoError(t, err)
	q = calc.Quote(rule, txn("1000", june(4)).Purchase(), state)
	assert.True(t, q.Amount.IsZero())
	assert.True(t, q.Capped)

	// next month the cap is fresh again
	state, err = tr.StateFor(ctx, rule, july(1))
	require.NoError(t, err)
	q = calc.Quote(rule, txn("1000", july(1)).Purchase(), state)
	assert.True(t, q.Amount.Equal(dec("50")))
}

func TestCommit_UnlockScenario(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	tr := newTracker(store)
	calc := testCalc()
	rules, err := store.LoadRulesForCard(ctx, "card-a")
	require.NoError(t, err)
	rule := rules[1]

	state, err := tr.StateFor(ctx, rule, june(1))
	require.NoError(t, err)
	q := calc.Quote(rule, txn("3000", june(1)).Purchase(), state)
	assert.True(t, q.AppliedRate.Equal(dec("0.01")))
	assert.False(t, q.UnlockedBonus)

	_, err = tr.Commit(ctx, "card-a", "unlock", txn("3000", june(1)))
	require.NoError(t, err)
	_, err = tr.Commit(ctx, "card-a", "unlock", txn("3000", june(2)))
	require.NoError(t, err)

	state, err = tr.StateFor(ctx, rule, june(3))
	require.NoError(t, err)
	q = calc.Quote(rule, txn("1000", june(3)).Purchase(), state)
	assert.True(t, q.AppliedRate.Equal(dec("0.05")))
	assert.True(t, q.UnlockedBonus)
}

func TestCommit_RolloverFinalizesPreviousWindow(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	bus := events.NewManager(true, nil)
	var mu sync.Mutex
	var rolled []events.WindowRolledOverData
	bus.Subscribe(events.EventWindowRolledOver, func(ctx context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		rolled = append(rolled, e.Data.(events.WindowRolledOverData))
		return nil
	})
	tr := newTracker(store, WithEvents(bus))

	_, err := tr.Commit(ctx, "card-a", "dining-cap", txn("1000", june(10)))
	require.NoError(t, err)
	_, err = tr.Commit(ctx, "card-a", "dining-cap", txn("2000", june(11)))
	require.NoError(t, err)

	fresh, err := tr.Commit(ctx, "card-a", "dining-cap", txn("400", july(2)))
	require.NoError(t, err)
	assert.Equal(t, "2024-07", fresh.WindowKey)
	assert.True(t, fresh.SpendToDate.Equal(dec("400")))
	assert.True(t, fresh.RewardEarnedToDate.Equal(dec("20")))

	old, err := tr.GetState(ctx, "card-a", "dining-cap", june(30))
	require.NoError(t, err)
	assert.True(t, old.Finalized)
	assert.True(t, old.SpendToDate.Equal(dec("3000")))
	assert.True(t, old.RewardEarnedToDate.Equal(dec("150")))

	bus.Wait()
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, rolled, 1)
	assert.Equal(t, "2024-06", rolled[0].Finalized.WindowKey)
	assert.Equal(t, "2024-07", rolled[0].NextKey)
}

func TestCommit_LateTransactionIntoFinalizedWindowFails(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(seedStore(t))

	_, err := tr.Commit(ctx, "card-a", "dining-cap", txn("1000", june(10)))
	require.NoError(t, err)
	_, err = tr.Commit(ctx, "card-a", "dining-cap", txn("1000", july(10)))
	require.NoError(t, err)

	_, err = tr.Commit(ctx, "card-a", "dining-cap", txn("1000", june(29)))
	var werr *models.InvalidWindowError
	require.ErrorAs(t, err, &werr)

	old, err := tr.GetState(ctx, "card-a", "dining-cap", june(29))
	require.NoError(t, err)
	assert.True(t, old.SpendToDate.Equal(dec("1000")), "nothing committed to the finalized window")
}

func TestCommit_LateTransactionIntoSkippedWindowFails(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	tr := newTracker(store)
	may := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	_, err := tr.Commit(ctx, "card-a", "dining-cap", txn("1000", may))
	require.NoError(t, err)
	_, err = tr.Commit(ctx, "card-a", "dining-cap", txn("1000", july(10)))
	require.NoError(t, err)

	// June was never opened, but July already closed it.
	_, err = tr.Commit(ctx, "card-a", "dining-cap", txn("1000", june(15)))
	var werr *models.InvalidWindowError
	require.ErrorAs(t, err, &werr)
	assert.Contains(t, werr.Error(), "2024-06")

	history, err := store.ListThresholdStates(ctx, "card-a", "dining-cap")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2024-05", history[0].WindowKey)
	assert.True(t, history[0].Finalized)
	assert.Equal(t, "2024-07", history[1].WindowKey)
	assert.False(t, history[1].Finalized)
}

func TestCommit_InvalidTimestamp(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	tr := newTracker(store)

	for _, at := range []time.Time{
		time.Unix(-86400, 0),
		time.Date(2999, 1, 1, 0, 0, 0, 0, time.UTC),
	} {
		_, err := tr.Commit(ctx, "card-a", "dining-cap", txn("100", at))
		var werr *models.InvalidWindowError
		require.ErrorAs(t, err, &werr, "at %s", at)
	}

	history, err := store.ListThresholdStates(ctx, "card-a", "dining-cap")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCommit_UnknownRule(t *testing.T) {
	tr := newTracker(seedStore(t))
	_, err := tr.Commit(context.Background(), "card-a", "nope", txn("100", june(1)))
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCommit_ConcurrentCommitsAreNotLost(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(seedStore(t), WithMaxRetries(1000))

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tr.Commit(ctx, "card-a", "unlock", txn("100", june(15))); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	state, err := tr.GetState(ctx, "card-a", "unlock", june(15))
	require.NoError(t, err)
	assert.True(t, state.SpendToDate.Equal(dec("2000")), "spend %s", state.SpendToDate)
	assert.Equal(t, int64(workers), state.Version)
}

// conflictingStore loses every compare-and-swap.
type conflictingStore struct {
	*memory.Store
	saves int
}

func (s *conflictingStore) SaveThresholdState(ctx context.Context, state models.ThresholdState, expected int64) (models.ThresholdState, error) {
	s.saves++
	return models.ThresholdState{}, repository.ErrVersionConflict
}

func TestCommit_RetryBudgetExhausted(t *testing.T) {
	store := &conflictingStore{Store: seedStore(t)}
	tr := newTracker(store, WithMaxRetries(3))

	_, err := tr.Commit(context.Background(), "card-a", "dining-cap", txn("100", june(1)))
	var cerr *models.ConcurrentUpdateError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 3, cerr.Attempts)
	assert.Equal(t, "2024-06", cerr.Key.WindowKey)
	assert.Equal(t, 3, store.saves)
}

func TestProgress(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(seedStore(t))

	_, err := tr.Commit(ctx, "card-a", "unlock", txn("3000", june(1)))
	require.NoError(t, err)

	p, err := tr.Progress(ctx, "card-a", "unlock", june(2))
	require.NoError(t, err)
	require.NotNil(t, p.DistanceToUnlock)
	assert.True(t, p.DistanceToUnlock.Equal(dec("2000")))
	assert.False(t, p.Unlocked)
	assert.Nil(t, p.DistanceToCap)

	_, err = tr.Commit(ctx, "card-a", "dining-cap", txn("4000", june(1)))
	require.NoError(t, err)
	p, err = tr.Progress(ctx, "card-a", "dining-cap", june(2))
	require.NoError(t, err)
	require.NotNil(t, p.DistanceToCap)
	assert.True(t, p.DistanceToCap.Equal(dec("300")))
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(seedStore(t))

	for _, at := range []time.Time{june(1), july(1), time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)} {
		_, err := tr.Commit(ctx, "card-a", "unlock", txn("10", at))
		require.NoError(t, err)
	}

	history, err := tr.History(ctx, "card-a", "unlock")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "2024-06", history[0].WindowKey)
	assert.True(t, history[0].Finalized)
	assert.True(t, history[1].Finalized)
	assert.False(t, history[2].Finalized)
}

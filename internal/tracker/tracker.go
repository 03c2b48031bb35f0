package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vedant-gala/Credora/internal/calculator"
	"github.com/vedant-gala/Credora/internal/events"
	"github.com/vedant-gala/Credora/internal/models"
	"github.com/vedant-gala/Credora/internal/repository"
	"github.com/vedant-gala/Credora/internal/window"
)

// DefaultMaxRetries bounds how often a commit re-reads state after losing a
// compare-and-swap before giving up.
const DefaultMaxRetries = 5

// Tracker owns cumulative spend and reward counters per (card, rule, window
// instance). Commit is its only mutator.
type Tracker struct {
	repo       repository.Repository
	resolver   *window.Resolver
	calc       *calculator.Calculator
	events     *events.Manager
	logger     *slog.Logger
	tracer     trace.Tracer
	maxRetries int
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithEvents publishes commit and rollover events to m.
func WithEvents(m *events.Manager) Option {
	return func(t *Tracker) { t.events = m }
}

// WithLogger sets the tracker's logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithMaxRetries sets the compare-and-swap retry budget.
func WithMaxRetries(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.maxRetries = n
		}
	}
}

// New creates a tracker.
func New(repo repository.Repository, resolver *window.Resolver, calc *calculator.Calculator, opts ...Option) *Tracker {
	t := &Tracker{
		repo:       repo,
		resolver:   resolver,
		calc:       calc,
		logger:     slog.Default(),
		tracer:     otel.Tracer("credora/tracker"),
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// GetState returns the state of the window instance containing asOf. An
// instance with no activity reads as zeroed counters; nothing is created.
func (t *Tracker) GetState(ctx context.Context, cardID, ruleID string, asOf time.Time) (models.ThresholdState, error) {
	rule, err := t.loadRule(ctx, cardID, ruleID)
	if err != nil {
		return models.ThresholdState{}, err
	}
	return t.StateFor(ctx, rule, asOf)
}

// StateFor is GetState for a rule the caller already holds.
func (t *Tracker) StateFor(ctx context.Context, rule models.RewardRule, asOf time.Time) (models.ThresholdState, error) {
	inst, err := t.resolver.Resolve(rule.EffectiveWindow(), asOf)
	if err != nil {
		return models.ThresholdState{}, err
	}

	key := models.StateKey{CardID: rule.CardID, RuleID: rule.ID, WindowKey: inst.Key}
	state, err := t.repo.LoadThresholdState(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		return zeroState(key, inst), nil
	}
	if err != nil {
		return models.ThresholdState{}, fmt.Errorf("failed to load threshold state %s: %w", key, err)
	}
	return state, nil
}

// Commit applies a confirmed transaction to the rule's window counters. If
// the transaction falls in a later window than the latest stored instance,
// that instance is finalized first. The reward added is the capped quote at
// commit time, so committed rewards never exceed the cap.
func (t *Tracker) Commit(ctx context.Context, cardID, ruleID string, txn models.Transaction) (models.ThresholdState, error) {
	ctx, span := t.tracer.Start(ctx, "tracker.Commit", trace.WithAttributes(
		attribute.String("card_id", cardID),
		attribute.String("rule_id", ruleID),
	))
	defer span.End()

	if txn.Amount.IsNegative() {
		return models.ThresholdState{}, fmt.Errorf("transaction amount must be non-negative, got %s", txn.Amount)
	}

	rule, err := t.loadRule(ctx, cardID, ruleID)
	if err != nil {
		span.RecordError(err)
		return models.ThresholdState{}, err
	}

	inst, err := t.resolver.Resolve(rule.EffectiveWindow(), txn.Timestamp)
	if err != nil {
		span.RecordError(err)
		return models.ThresholdState{}, err
	}

	txn.CardID, txn.RuleID = cardID, ruleID
	key := models.StateKey{CardID: cardID, RuleID: ruleID, WindowKey: inst.Key}

	for attempt := 1; attempt <= t.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return models.ThresholdState{}, err
		}

		state, quote, err := t.commitOnce(ctx, rule, inst, key, txn)
		if err == nil {
			span.SetAttributes(attribute.String("window_key", inst.Key), attribute.Int("attempts", attempt))
			t.events.PublishThresholdCommitted(ctx, txn, quote, state)
			return state, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			span.RecordError(err)
			return models.ThresholdState{}, err
		}

		t.logger.Debug("Threshold commit lost a race, retrying",
			slog.String("key", key.String()),
			slog.Int("attempt", attempt))
	}

	err = &models.ConcurrentUpdateError{Key: key, Attempts: t.maxRetries}
	span.RecordError(err)
	return models.ThresholdState{}, err
}

func (t *Tracker) commitOnce(ctx context.Context, rule models.RewardRule, inst window.Instance, key models.StateKey, txn models.Transaction) (models.ThresholdState, models.RewardQuote, error) {
	if err := t.rollOver(ctx, rule, inst, txn.Timestamp); err != nil {
		return models.ThresholdState{}, models.RewardQuote{}, err
	}

	current, err := t.repo.LoadThresholdState(ctx, key)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		current = zeroState(key, inst)
	case err != nil:
		return models.ThresholdState{}, models.RewardQuote{}, fmt.Errorf("failed to load threshold state %s: %w", key, err)
	case current.Finalized:
		return models.ThresholdState{}, models.RewardQuote{}, &models.InvalidWindowError{
			Window: rule.EffectiveWindow(),
			At:     txn.Timestamp,
			Reason: fmt.Sprintf("window %s is finalized", inst.Key),
		}
	}

	quote := t.calc.Quote(rule, txn.Purchase(), current)
	expected := current.Version
	current.SpendToDate = current.SpendToDate.Add(txn.Amount)
	current.RewardEarnedToDate = current.RewardEarnedToDate.Add(quote.Amount)

	saved, err := t.repo.SaveThresholdState(ctx, current, expected)
	if err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return models.ThresholdState{}, models.RewardQuote{}, err
		}
		return models.ThresholdState{}, models.RewardQuote{}, fmt.Errorf("failed to save threshold state %s: %w", key, err)
	}
	return saved, quote, nil
}

// rollOver finalizes the latest stored instance when inst lies after it. An
// inst that starts before the latest stored instance is already closed.
func (t *Tracker) rollOver(ctx context.Context, rule models.RewardRule, inst window.Instance, at time.Time) error {
	latest, err := t.repo.LoadLatestThresholdState(ctx, rule.CardID, rule.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load latest threshold state: %w", err)
	}

	if inst.Start.Before(latest.WindowStart) {
		return &models.InvalidWindowError{
			Window: rule.EffectiveWindow(),
			At:     at,
			Reason: fmt.Sprintf("window %s is finalized", inst.Key),
		}
	}
	if latest.Finalized || latest.WindowKey == inst.Key || !latest.WindowStart.Before(inst.Start) {
		return nil
	}

	latest.Finalized = true
	finalized, err := t.repo.SaveThresholdState(ctx, latest, latest.Version)
	if err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return err
		}
		return fmt.Errorf("failed to finalize window %s: %w", latest.WindowKey, err)
	}

	t.logger.Info("Rolled over reward window",
		slog.String("card_id", rule.CardID),
		slog.String("rule_id", rule.ID),
		slog.String("finalized_window", finalized.WindowKey),
		slog.String("next_window", inst.Key),
		slog.String("final_spend", finalized.SpendToDate.String()),
		slog.String("final_reward", finalized.RewardEarnedToDate.String()))
	t.events.PublishWindowRolledOver(ctx, finalized, inst.Key)
	return nil
}

// Progress reports the state of the window containing asOf together with
// the distance to the rule's cap and unlock gate.
func (t *Tracker) Progress(ctx context.Context, cardID, ruleID string, asOf time.Time) (models.GoalProgress, error) {
	rule, err := t.loadRule(ctx, cardID, ruleID)
	if err != nil {
		return models.GoalProgress{}, err
	}

	state, err := t.StateFor(ctx, rule, asOf)
	if err != nil {
		return models.GoalProgress{}, err
	}

	progress := models.GoalProgress{State: state}
	if cp, ok := rule.Cap(); ok {
		capAmount := cp.Amount
		distance := decimal.Max(decimal.Zero, capAmount.Sub(state.RewardEarnedToDate))
		progress.Cap = &capAmount
		progress.DistanceToCap = &distance
	}
	if gate, ok := rule.CumulativeThreshold(); ok {
		threshold := gate.MinSpend
		distance := decimal.Max(decimal.Zero, threshold.Sub(state.SpendToDate))
		progress.UnlockThreshold = &threshold
		progress.DistanceToUnlock = &distance
		progress.Unlocked = state.SpendToDate.GreaterThanOrEqual(threshold)
	}
	return progress, nil
}

// History returns every stored window instance of (card, rule), oldest first.
func (t *Tracker) History(ctx context.Context, cardID, ruleID string) ([]models.ThresholdState, error) {
	if _, err := t.loadRule(ctx, cardID, ruleID); err != nil {
		return nil, err
	}
	states, err := t.repo.ListThresholdStates(ctx, cardID, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list threshold states: %w", err)
	}
	return states, nil
}

func (t *Tracker) loadRule(ctx context.Context, cardID, ruleID string) (models.RewardRule, error) {
	rules, err := t.repo.LoadRulesForCard(ctx, cardID)
	if err != nil {
		return models.RewardRule{}, fmt.Errorf("failed to load rules for card %s: %w", cardID, err)
	}
	for _, rule := range rules {
		if rule.ID == ruleID {
			rule.CardID = cardID
			return rule, nil
		}
	}
	return models.RewardRule{}, fmt.Errorf("rule %s on card %s: %w", ruleID, cardID, repository.ErrNotFound)
}

func zeroState(key models.StateKey, inst window.Instance) models.ThresholdState {
	return models.ThresholdState{
		CardID:             key.CardID,
		RuleID:             key.RuleID,
		WindowKey:          key.WindowKey,
		WindowStart:        inst.Start,
		WindowEnd:          inst.End,
		SpendToDate:        decimal.Zero,
		RewardEarnedToDate: decimal.Zero,
	}
}

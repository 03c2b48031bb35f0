package optimizer

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/vedant-gala/Credora/internal/calculator"
	"github.com/vedant-gala/Credora/internal/matcher"
	"github.com/vedant-gala/Credora/internal/models"
)

const defaultConcurrency = 8

// StateReader is the read-only view of the threshold tracker the optimizer needs.
type StateReader interface {
	StateFor(ctx context.Context, rule models.RewardRule, asOf time.Time) (models.ThresholdState, error)
}

// Optimizer ranks a user's cards for a purchase. It only ever reads window state.
type Optimizer struct {
	calc        *calculator.Calculator
	states      StateReader
	tracer      trace.Tracer
	concurrency int
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithConcurrency bounds how many cards are evaluated at once.
func WithConcurrency(n int) Option {
	return func(o *Optimizer) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// New creates an optimizer.
func New(calc *calculator.Calculator, states StateReader, opts ...Option) *Optimizer {
	o := &Optimizer{
		calc:        calc,
		states:      states,
		tracer:      otel.Tracer("credora/optimizer"),
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type candidate struct {
	card  models.Card
	rule  *models.RewardRule
	quote models.RewardQuote
}

// Recommend quotes purchase on every active card, keeps each card's best
// rule, and ranks cards by effective value. It returns models.ErrNoEligibleCard
// when the best card earns nothing. On cancellation nothing partial is returned.
func (o *Optimizer) Recommend(ctx context.Context, purchase models.Purchase, cards []models.Card) (models.Recommendation, error) {
	ctx, span := o.tracer.Start(ctx, "optimizer.Recommend", trace.WithAttributes(
		attribute.Int("cards", len(cards)),
		attribute.String("category", string(purchase.Category)),
	))
	defer span.End()

	var active []models.Card
	for _, card := range cards {
		if card.Active {
			active = append(active, card)
		}
	}
	if len(active) == 0 {
		return models.Recommendation{}, models.ErrNoEligibleCard
	}

	results := make([]candidate, len(active))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, card := range active {
		i, card := i, card
		g.Go(func() error {
			c, err := o.evaluate(gctx, card, purchase)
			if err != nil {
				return err
			}
			results[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return models.Recommendation{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.Recommendation{}, err
	}

	rank(results)

	best := results[0]
	if !best.quote.EffectiveValue.IsPositive() {
		return models.Recommendation{}, models.ErrNoEligibleCard
	}

	rec := models.Recommendation{
		Card:         best.card,
		Rule:         best.rule,
		Quote:        best.quote,
		Rationale:    calculator.Explain(best.card, best.rule, best.quote),
		Alternatives: make([]models.RankedCard, 0, len(results)-1),
	}
	for _, c := range results[1:] {
		rec.Alternatives = append(rec.Alternatives, ranked(c))
	}

	span.SetAttributes(attribute.String("card_id", best.card.ID))
	return rec, nil
}

// evaluate returns the card's best-quoting rule, or its baseline when no rule matches.
func (o *Optimizer) evaluate(ctx context.Context, card models.Card, purchase models.Purchase) (candidate, error) {
	var best *candidate

	for _, rule := range matcher.MatchRules(card, purchase) {
		if err := ctx.Err(); err != nil {
			return candidate{}, err
		}

		rule.CardID = card.ID
		state, err := o.states.StateFor(ctx, rule, purchase.Timestamp)
		if err != nil {
			return candidate{}, &models.EvaluationError{CardID: card.ID, RuleID: rule.ID, Err: err}
		}

		quote, err := o.calc.Normalize(o.calc.Quote(rule, purchase, state))
		if err != nil {
			return candidate{}, &models.EvaluationError{CardID: card.ID, RuleID: rule.ID, Err: err}
		}

		// strictly greater keeps the matcher's order on ties
		if best == nil || quote.EffectiveValue.GreaterThan(best.quote.EffectiveValue) {
			r := rule
			best = &candidate{card: card, rule: &r, quote: quote}
		}
	}

	if best != nil {
		return *best, nil
	}

	quote, err := o.calc.Normalize(o.calc.QuoteBaseline(card, purchase))
	if err != nil {
		return candidate{}, &models.EvaluationError{CardID: card.ID, Err: err}
	}
	return candidate{card: card, quote: quote}, nil
}

// rank orders candidates by effective value, then lower annual fee when both
// are known, then card ID.
func rank(cs []candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if c := a.quote.EffectiveValue.Cmp(b.quote.EffectiveValue); c != 0 {
			return c > 0
		}
		if a.card.AnnualFee != nil && b.card.AnnualFee != nil {
			if c := a.card.AnnualFee.Cmp(*b.card.AnnualFee); c != 0 {
				return c < 0
			}
		}
		return a.card.ID < b.card.ID
	})
}

func ranked(c candidate) models.RankedCard {
	rc := models.RankedCard{
		CardID:    c.card.ID,
		Bank:      c.card.Bank,
		Network:   c.card.Network,
		Baseline:  c.rule == nil,
		Quote:     c.quote,
		Rationale: calculator.Explain(c.card, c.rule, c.quote),
	}
	if c.rule != nil {
		rc.RuleID = c.rule.ID
	}
	return rc
}

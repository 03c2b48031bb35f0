package calculator

import (
	"github.com/shopspring/decimal"

	"github.com/vedant-gala/Credora/internal/models"
)

// ExchangeRates converts reward units into a common effective value. Rates
// drift, so the table is always injected from configuration.
type ExchangeRates struct {
	// PerUnit is the value of one unit of each reward type.
	PerUnit map[models.RewardType]decimal.Decimal
	// LoungeAccess is the flat value of a lounge-access grant. Nil means unset.
	LoungeAccess *decimal.Decimal
}

// Calculator quotes rewards and normalizes them to effective value.
type Calculator struct {
	rates ExchangeRates
}

// New creates a calculator with the given exchange-rate table.
func New(rates ExchangeRates) *Calculator {
	return &Calculator{rates: rates}
}

// Quote computes the reward purchase would earn under rule, given the current
// window state. It never mutates anything. state.SpendToDate must not yet
// include purchase.
func (c *Calculator) Quote(rule models.RewardRule, purchase models.Purchase, state models.ThresholdState) models.RewardQuote {
	rate := rule.Rate
	unlocked := false
	if gate, ok := rule.CumulativeThreshold(); ok {
		if state.SpendToDate.Add(purchase.Amount).GreaterThanOrEqual(gate.MinSpend) {
			rate = gate.UnlockRate
			unlocked = true
		}
	}

	quote := baseQuote(rule.RewardType, rate, purchase.Amount)
	quote.CardID = rule.CardID
	quote.RuleID = rule.ID
	quote.UnlockedBonus = unlocked

	if cp, ok := rule.Cap(); ok {
		remaining := cp.Amount.Sub(state.RewardEarnedToDate)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		if quote.Amount.GreaterThan(remaining) || remaining.IsZero() {
			quote.Amount = remaining
			quote.Capped = true
		}
	}

	return quote
}

// QuoteBaseline computes the card's baseline reward, or a zero quote when the
// card has none.
func (c *Calculator) QuoteBaseline(card models.Card, purchase models.Purchase) models.RewardQuote {
	if card.Baseline == nil {
		return models.RewardQuote{
			CardID:     card.ID,
			RewardType: models.RewardCashback,
			Amount:     decimal.Zero,
			Unit:       models.UnitCurrency,
		}
	}
	quote := baseQuote(card.Baseline.RewardType, card.Baseline.Rate, purchase.Amount)
	quote.CardID = card.ID
	return quote
}

func baseQuote(rewardType models.RewardType, rate, amount decimal.Decimal) models.RewardQuote {
	quote := models.RewardQuote{
		RewardType:  rewardType,
		AppliedRate: rate,
		Amount:      amount.Mul(rate),
	}

	switch rewardType {
	case models.RewardPoints:
		quote.Unit = models.UnitPoints
	case models.RewardMilesOrLoungeAccess:
		if rate.IsZero() {
			// a zero-rate rule of this type is a pure access grant
			quote.Unit = models.UnitAccess
			quote.Amount = decimal.NewFromInt(1)
		} else {
			quote.Unit = models.UnitMiles
		}
	default:
		quote.Unit = models.UnitCurrency
	}

	return quote
}

// Normalize fills in the quote's effective value. A reward type without an
// exchange rate is a configuration error, never a silent zero.
func (c *Calculator) Normalize(quote models.RewardQuote) (models.RewardQuote, error) {
	value, err := c.EffectiveValue(quote)
	if err != nil {
		return quote, err
	}
	quote.EffectiveValue = value
	return quote, nil
}

// EffectiveValue converts a quote's amount into the common comparison unit.
func (c *Calculator) EffectiveValue(quote models.RewardQuote) (decimal.Decimal, error) {
	// nothing earned is worth nothing in any unit
	if quote.Amount.IsZero() {
		return decimal.Zero, nil
	}

	if quote.Unit == models.UnitAccess {
		if c.rates.LoungeAccess == nil {
			return decimal.Zero, &models.ConfigurationError{
				RewardType: quote.RewardType,
				Reason:     "no lounge access value configured",
			}
		}
		return quote.Amount.Mul(*c.rates.LoungeAccess), nil
	}

	rate, ok := c.rates.PerUnit[quote.RewardType]
	if !ok {
		return decimal.Zero, &models.ConfigurationError{
			RewardType: quote.RewardType,
			Reason:     "no exchange rate configured",
		}
	}
	return quote.Amount.Mul(rate), nil
}

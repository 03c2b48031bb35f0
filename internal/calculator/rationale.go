package calculator

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vedant-gala/Credora/internal/models"
	"github.com/vedant-gala/Credora/internal/window"
)

var hundred = decimal.NewFromInt(100)

// Explain builds a human-readable rationale for a quote. rule is nil when the
// quote came from the card's baseline.
func Explain(card models.Card, rule *models.RewardRule, quote models.RewardQuote) string {
	if rule == nil {
		if card.Baseline == nil {
			return fmt.Sprintf("%s %s: no matching reward rule", card.Bank, card.Network)
		}
		return fmt.Sprintf("%s %s: baseline %s on all purchases; earns %s",
			card.Bank, card.Network,
			describeRate(card.Baseline.RewardType, card.Baseline.Rate),
			describeAmount(quote))
	}

	win := window.Describe(rule.EffectiveWindow())
	parts := []string{
		fmt.Sprintf("%s %s: %s %s",
			card.Bank, card.Network,
			describeRate(rule.RewardType, quote.AppliedRate),
			describeCategory(rule.Category)),
	}

	for _, cond := range rule.Conditions {
		switch c := cond.(type) {
		case models.MinSpend:
			parts = append(parts, "min spend "+c.Amount.String())
		case models.MerchantAllowList:
			parts = append(parts, fmt.Sprintf("at %d eligible merchant(s)", len(c.MerchantIDs)))
		case models.TimeWindow:
			parts = append(parts, describeTimeWindow(c))
		case models.CumulativeThreshold:
			if quote.UnlockedBonus {
				parts = append(parts, fmt.Sprintf("bonus rate unlocked by spending %s per %s", c.MinSpend, win))
			} else {
				parts = append(parts, fmt.Sprintf("%s unlocks at %s spend per %s",
					describeRate(rule.RewardType, c.UnlockRate), c.MinSpend, win))
			}
		case models.Cap:
			s := fmt.Sprintf("capped at %s per %s", c.Amount, win)
			if quote.Capped {
				s += " (cap reached)"
			}
			parts = append(parts, s)
		}
	}

	parts = append(parts, "earns "+describeAmount(quote))
	return strings.Join(parts, "; ")
}

func describeRate(rewardType models.RewardType, rate decimal.Decimal) string {
	switch rewardType {
	case models.RewardCashback:
		return rate.Mul(hundred).String() + "% cashback"
	case models.RewardDiscount:
		return rate.Mul(hundred).String() + "% discount"
	case models.RewardPoints:
		return rate.String() + " points per unit spent"
	case models.RewardMilesOrLoungeAccess:
		if rate.IsZero() {
			return "lounge access"
		}
		return rate.String() + " miles per unit spent"
	default:
		return rate.String() + " " + string(rewardType)
	}
}

func describeCategory(c models.Category) string {
	if c == models.CategoryAll {
		return "on all purchases"
	}
	return "on " + string(c)
}

func describeAmount(q models.RewardQuote) string {
	if q.Unit == models.UnitAccess {
		if q.Amount.IsZero() {
			return "no lounge access"
		}
		return fmt.Sprintf("lounge access worth %s", q.EffectiveValue.StringFixed(2))
	}
	return fmt.Sprintf("%s %s worth %s", q.Amount.String(), q.Unit, q.EffectiveValue.StringFixed(2))
}

func describeTimeWindow(w models.TimeWindow) string {
	var b strings.Builder
	b.WriteString("only")
	if len(w.Weekdays) > 0 {
		days := make([]string, len(w.Weekdays))
		for i, d := range w.Weekdays {
			days[i] = d.String()[:3]
		}
		b.WriteString(" on " + strings.Join(days, ", "))
	}
	if w.From != w.To {
		b.WriteString(fmt.Sprintf(" between %s and %s", w.From, w.To))
	}
	if len(w.Weekdays) == 0 && w.From == w.To {
		b.WriteString(" at any time")
	}
	return b.String()
}

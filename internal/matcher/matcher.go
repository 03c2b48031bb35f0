package matcher

import (
	"sort"

	"github.com/vedant-gala/Credora/internal/models"
)

// MatchRules returns the rules on card that apply to purchase. Rules bound to
// the purchase's category come before wildcard rules; ties are broken by
// higher rate, then by rule ID. An inactive card matches nothing.
func MatchRules(card models.Card, purchase models.Purchase) []models.RewardRule {
	if !card.Active {
		return nil
	}

	var matched []models.RewardRule
	for _, rule := range card.Rules {
		if Applies(rule, purchase) {
			matched = append(matched, rule)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		aSpecific := a.Category != models.CategoryAll
		bSpecific := b.Category != models.CategoryAll
		if aSpecific != bSpecific {
			return aSpecific
		}
		if c := a.Rate.Cmp(b.Rate); c != 0 {
			return c > 0
		}
		return a.ID < b.ID
	})

	return matched
}

// Applies reports whether rule's category and non-cumulative conditions are
// satisfied by purchase. Cumulative gates and caps are the calculator's concern.
func Applies(rule models.RewardRule, purchase models.Purchase) bool {
	if rule.Category != models.CategoryAll && rule.Category != purchase.Category {
		return false
	}

	for _, cond := range rule.Conditions {
		switch c := cond.(type) {
		case models.MinSpend:
			if purchase.Amount.LessThan(c.Amount) {
				return false
			}
		case models.MerchantAllowList:
			if !c.Allows(purchase.MerchantID) {
				return false
			}
		case models.TimeWindow:
			if !c.Contains(purchase.Timestamp) {
				return false
			}
		case models.CumulativeThreshold, models.Cap:
			// evaluated against window state by the calculator
		}
	}

	return true
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RewardType is the closed set of reward kinds a rule can pay out.
type RewardType string

const (
	RewardCashback            RewardType = "cashback"
	RewardPoints              RewardType = "points"
	RewardMilesOrLoungeAccess RewardType = "miles_or_lounge_access"
	RewardDiscount            RewardType = "discount"
)

// RewardTypes lists every reward type, in a stable order.
var RewardTypes = []RewardType{RewardCashback, RewardPoints, RewardMilesOrLoungeAccess, RewardDiscount}

// Valid reports whether t is one of the known reward types.
func (t RewardType) Valid() bool {
	switch t {
	case RewardCashback, RewardPoints, RewardMilesOrLoungeAccess, RewardDiscount:
		return true
	}
	return false
}

// Unit is the unit a quoted reward amount is expressed in.
type Unit string

const (
	UnitCurrency Unit = "currency"
	UnitPoints   Unit = "points"
	UnitMiles    Unit = "miles"
	UnitAccess   Unit = "access"
)

// Category is a flat spend classification.
type Category string

const (
	CategoryFuel          Category = "fuel"
	CategoryDining        Category = "dining"
	CategoryTravel        Category = "travel"
	CategoryEcommerce     Category = "ecommerce"
	CategoryGroceries     Category = "groceries"
	CategoryEntertainment Category = "entertainment"
	CategoryUtilities     Category = "utilities"
	CategoryOther         Category = "other"
	// CategoryUncategorized is assigned to purchases whose merchant could not be resolved.
	CategoryUncategorized Category = "uncategorized"
	// CategoryAll is the wildcard a rule uses to apply to every category.
	CategoryAll Category = "*"
)

// Categories is the enumeration of concrete categories (the wildcard is not a category).
var Categories = []Category{
	CategoryFuel,
	CategoryDining,
	CategoryTravel,
	CategoryEcommerce,
	CategoryGroceries,
	CategoryEntertainment,
	CategoryUtilities,
	CategoryOther,
	CategoryUncategorized,
}

// Valid reports whether c is a concrete category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Card is a user-owned payment instrument. Read-only to the rewards core.
type Card struct {
	ID        string           `json:"id" yaml:"id"`
	UserID    string           `json:"user_id" yaml:"user_id"`
	Bank      string           `json:"bank" yaml:"bank"`
	Network   string           `json:"network" yaml:"network"`
	Active    bool             `json:"active" yaml:"active"`
	AnnualFee *decimal.Decimal `json:"annual_fee,omitempty" yaml:"annual_fee,omitempty"`
	Baseline  *Baseline        `json:"baseline,omitempty" yaml:"baseline,omitempty"`
	Rules     []RewardRule     `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// Baseline is the reward a card pays when none of its rules match a purchase.
type Baseline struct {
	RewardType RewardType      `json:"reward_type" yaml:"reward_type"`
	Rate       decimal.Decimal `json:"rate" yaml:"rate"`
}

// WindowKind selects how a rule's accounting period recurs.
type WindowKind string

const (
	WindowCalendarMonth   WindowKind = "calendar_month"
	WindowCalendarQuarter WindowKind = "calendar_quarter"
	WindowCalendarYear    WindowKind = "calendar_year"
	WindowRollingDays     WindowKind = "rolling_days"
	WindowLifetime        WindowKind = "lifetime"
)

// WindowSpec describes a rule's recurring window. Rolling windows are consecutive
// N-day buckets starting at Anchor.
type WindowSpec struct {
	Kind   WindowKind `json:"kind" yaml:"kind"`
	Days   int        `json:"days,omitempty" yaml:"days,omitempty"`
	Anchor time.Time  `json:"anchor,omitempty" yaml:"anchor,omitempty"`
}

// RewardRule belongs to exactly one card.
type RewardRule struct {
	ID         string          `json:"id" yaml:"id"`
	CardID     string          `json:"card_id" yaml:"card_id"`
	Name       string          `json:"name,omitempty" yaml:"name,omitempty"`
	RewardType RewardType      `json:"reward_type" yaml:"reward_type"`
	Category   Category        `json:"category" yaml:"category"`
	Rate       decimal.Decimal `json:"rate" yaml:"rate"`
	Window     *WindowSpec     `json:"window,omitempty" yaml:"window,omitempty"`
	Conditions Conditions      `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// Cap returns the rule's per-window reward cap, if any.
func (r RewardRule) Cap() (Cap, bool) {
	for _, c := range r.Conditions {
		if cp, ok := c.(Cap); ok {
			return cp, true
		}
	}
	return Cap{}, false
}

// CumulativeThreshold returns the rule's cumulative unlock gate, if any.
func (r RewardRule) CumulativeThreshold() (CumulativeThreshold, bool) {
	for _, c := range r.Conditions {
		if ct, ok := c.(CumulativeThreshold); ok {
			return ct, true
		}
	}
	return CumulativeThreshold{}, false
}

// EffectiveWindow returns the rule's window, defaulting to lifetime.
func (r RewardRule) EffectiveWindow() WindowSpec {
	if r.Window == nil {
		return WindowSpec{Kind: WindowLifetime}
	}
	return *r.Window
}

// Merchant is an entry in the merchant directory used for categorization.
type Merchant struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	Category Category `json:"category" yaml:"category"`
}

// Purchase is a candidate spend being quoted. It is never persisted by the core.
type Purchase struct {
	Amount       decimal.Decimal `json:"amount"`
	MerchantID   string          `json:"merchant_id,omitempty"`
	MerchantName string          `json:"merchant_name,omitempty"`
	Category     Category        `json:"category"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Transaction is a confirmed spend on a card, committed against one rule.
type Transaction struct {
	ID         string          `json:"id,omitempty"`
	CardID     string          `json:"card_id"`
	RuleID     string          `json:"rule_id"`
	Amount     decimal.Decimal `json:"amount"`
	MerchantID string          `json:"merchant_id,omitempty"`
	Category   Category        `json:"category,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Purchase returns the purchase view of the transaction, used for quoting at commit time.
func (t Transaction) Purchase() Purchase {
	return Purchase{
		Amount:     t.Amount,
		MerchantID: t.MerchantID,
		Category:   t.Category,
		Timestamp:  t.Timestamp,
	}
}

// StateKey identifies one window instance of a (card, rule) pair.
type StateKey struct {
	CardID    string `json:"card_id"`
	RuleID    string `json:"rule_id"`
	WindowKey string `json:"window_key"`
}

func (k StateKey) String() string {
	return k.CardID + "/" + k.RuleID + "/" + k.WindowKey
}

// ThresholdState holds the cumulative counters of one window instance.
type ThresholdState struct {
	CardID             string          `json:"card_id"`
	RuleID             string          `json:"rule_id"`
	WindowKey          string          `json:"window_key"`
	WindowStart        time.Time       `json:"window_start"`
	WindowEnd          time.Time       `json:"window_end"`
	SpendToDate        decimal.Decimal `json:"spend_to_date"`
	RewardEarnedToDate decimal.Decimal `json:"reward_earned_to_date"`
	Finalized          bool            `json:"finalized"`
	Version            int64           `json:"version"`
	UpdatedAt          time.Time       `json:"updated_at,omitempty"`
}

// Key returns the state's storage key.
func (s ThresholdState) Key() StateKey {
	return StateKey{CardID: s.CardID, RuleID: s.RuleID, WindowKey: s.WindowKey}
}

// RewardQuote is the read-only reward a purchase would earn under one rule.
type RewardQuote struct {
	CardID         string          `json:"card_id"`
	RuleID         string          `json:"rule_id,omitempty"`
	RewardType     RewardType      `json:"reward_type"`
	Amount         decimal.Decimal `json:"amount"`
	Unit           Unit            `json:"unit"`
	AppliedRate    decimal.Decimal `json:"applied_rate"`
	Capped         bool            `json:"capped"`
	UnlockedBonus  bool            `json:"unlocked_bonus"`
	EffectiveValue decimal.Decimal `json:"effective_value"`
}

// RankedCard is one card's best quote, as ranked by the optimizer.
type RankedCard struct {
	CardID    string      `json:"card_id"`
	Bank      string      `json:"bank"`
	Network   string      `json:"network"`
	RuleID    string      `json:"rule_id,omitempty"`
	Baseline  bool        `json:"baseline"`
	Quote     RewardQuote `json:"quote"`
	Rationale string      `json:"rationale"`
}

// Recommendation is the optimizer's answer: the best card plus every runner-up.
type Recommendation struct {
	Card         Card         `json:"card"`
	Rule         *RewardRule  `json:"rule,omitempty"`
	Quote        RewardQuote  `json:"quote"`
	Rationale    string       `json:"rationale"`
	Alternatives []RankedCard `json:"alternatives"`
}

// GoalProgress reports a window instance plus distance to the rule's cap and unlock gate.
type GoalProgress struct {
	State            ThresholdState   `json:"state"`
	Cap              *decimal.Decimal `json:"cap,omitempty"`
	DistanceToCap    *decimal.Decimal `json:"distance_to_cap,omitempty"`
	UnlockThreshold  *decimal.Decimal `json:"unlock_threshold,omitempty"`
	DistanceToUnlock *decimal.Decimal `json:"distance_to_unlock,omitempty"`
	Unlocked         bool             `json:"unlocked"`
}

// OptimizeRequest represents the request body for POST /optimize.
type OptimizeRequest struct {
	UserID       string          `json:"user_id"`
	Amount       decimal.Decimal `json:"amount"`
	MerchantID   string          `json:"merchant_id,omitempty"`
	MerchantName string          `json:"merchant_name,omitempty"`
	Category     Category        `json:"category,omitempty"`
	Timestamp    *time.Time      `json:"timestamp,omitempty"`
}

// OptimizeResponse is the response payload for POST /optimize.
type OptimizeResponse struct {
	UserID         string          `json:"user_id"`
	Eligible       bool            `json:"eligible"`
	Recommendation *Recommendation `json:"recommendation,omitempty"`
}

// CommitTransactionRequest represents the request body for POST /transactions/commit.
type CommitTransactionRequest struct {
	TransactionID string          `json:"transaction_id,omitempty"`
	CardID        string          `json:"card_id"`
	RuleID        string          `json:"rule_id"`
	Amount        decimal.Decimal `json:"amount"`
	MerchantID    string          `json:"merchant_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

package postgres

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"github.com/vedant-gala/Credora/internal/models"
)

type cardRow struct {
	bun.BaseModel `bun:"table:cards,alias:c"`

	ID           string           `bun:"id,pk"`
	UserID       string           `bun:"user_id,notnull"`
	Bank         string           `bun:"bank,notnull"`
	Network      string           `bun:"network,notnull"`
	Active       bool             `bun:"active,notnull"`
	AnnualFee    *decimal.Decimal `bun:"annual_fee,type:numeric"`
	BaselineType *string          `bun:"baseline_type"`
	BaselineRate *decimal.Decimal `bun:"baseline_rate,type:numeric"`
	CreatedAt    time.Time        `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt    time.Time        `bun:"updated_at,notnull,default:current_timestamp"`
}

type ruleRow struct {
	bun.BaseModel `bun:"table:reward_rules,alias:rr"`

	CardID       string            `bun:"card_id,pk"`
	ID           string            `bun:"id,pk"`
	Position     int               `bun:"position,notnull"`
	Name         string            `bun:"name,notnull"`
	RewardType   string            `bun:"reward_type,notnull"`
	Category     string            `bun:"category,notnull"`
	Rate         decimal.Decimal   `bun:"rate,type:numeric,notnull"`
	WindowKind   *string           `bun:"window_kind"`
	WindowDays   int               `bun:"window_days,notnull,default:0"`
	WindowAnchor *time.Time        `bun:"window_anchor"`
	Conditions   models.Conditions `bun:"conditions,type:jsonb"`
}

type merchantRow struct {
	bun.BaseModel `bun:"table:merchants,alias:m"`

	ID       string `bun:"id,pk"`
	Name     string `bun:"name,notnull"`
	Category string `bun:"category,notnull"`
}

type stateRow struct {
	bun.BaseModel `bun:"table:threshold_states,alias:ts"`

	CardID             string          `bun:"card_id,pk"`
	RuleID             string          `bun:"rule_id,pk"`
	WindowKey          string          `bun:"window_key,pk"`
	WindowStart        time.Time       `bun:"window_start,notnull"`
	WindowEnd          time.Time       `bun:"window_end,notnull"`
	SpendToDate        decimal.Decimal `bun:"spend_to_date,type:numeric,notnull"`
	RewardEarnedToDate decimal.Decimal `bun:"reward_earned_to_date,type:numeric,notnull"`
	Finalized          bool            `bun:"finalized,notnull"`
	Version            int64           `bun:"version,notnull"`
	UpdatedAt          time.Time       `bun:"updated_at,notnull"`
}

func toCardRow(card models.Card) *cardRow {
	row := &cardRow{
		ID:        card.ID,
		UserID:    card.UserID,
		Bank:      card.Bank,
		Network:   card.Network,
		Active:    card.Active,
		AnnualFee: card.AnnualFee,
		UpdatedAt: time.Now().UTC(),
	}
	if card.Baseline != nil {
		t := string(card.Baseline.RewardType)
		rate := card.Baseline.Rate
		row.BaselineType = &t
		row.BaselineRate = &rate
	}
	return row
}

func (r *cardRow) toModel() models.Card {
	card := models.Card{
		ID:        r.ID,
		UserID:    r.UserID,
		Bank:      r.Bank,
		Network:   r.Network,
		Active:    r.Active,
		AnnualFee: r.AnnualFee,
	}
	if r.BaselineType != nil && r.BaselineRate != nil {
		card.Baseline = &models.Baseline{RewardType: models.RewardType(*r.BaselineType), Rate: *r.BaselineRate}
	}
	return card
}

func toRuleRow(cardID string, position int, rule models.RewardRule) *ruleRow {
	row := &ruleRow{
		CardID:     cardID,
		ID:         rule.ID,
		Position:   position,
		Name:       rule.Name,
		RewardType: string(rule.RewardType),
		Category:   string(rule.Category),
		Rate:       rule.Rate,
		Conditions: rule.Conditions,
	}
	if row.Conditions == nil {
		row.Conditions = models.Conditions{}
	}
	if rule.Window != nil {
		kind := string(rule.Window.Kind)
		row.WindowKind = &kind
		row.WindowDays = rule.Window.Days
		if !rule.Window.Anchor.IsZero() {
			anchor := rule.Window.Anchor.UTC()
			row.WindowAnchor = &anchor
		}
	}
	return row
}

func (r *ruleRow) toModel() models.RewardRule {
	rule := models.RewardRule{
		ID:         r.ID,
		CardID:     r.CardID,
		Name:       r.Name,
		RewardType: models.RewardType(r.RewardType),
		Category:   models.Category(r.Category),
		Rate:       r.Rate,
		Conditions: r.Conditions,
	}
	if r.WindowKind != nil {
		rule.Window = &models.WindowSpec{Kind: models.WindowKind(*r.WindowKind), Days: r.WindowDays}
		if r.WindowAnchor != nil {
			rule.Window.Anchor = r.WindowAnchor.UTC()
		}
	}
	return rule
}

func toStateRow(s models.ThresholdState) *stateRow {
	return &stateRow{
		CardID:             s.CardID,
		RuleID:             s.RuleID,
		WindowKey:          s.WindowKey,
		WindowStart:        s.WindowStart.UTC(),
		WindowEnd:          s.WindowEnd.UTC(),
		SpendToDate:        s.SpendToDate,
		RewardEarnedToDate: s.RewardEarnedToDate,
		Finalized:          s.Finalized,
		Version:            s.Version,
		UpdatedAt:          s.UpdatedAt,
	}
}

func (r *stateRow) toModel() models.ThresholdState {
	return models.ThresholdState{
		CardID:             r.CardID,
		RuleID:             r.RuleID,
		WindowKey:          r.WindowKey,
		WindowStart:        r.WindowStart.UTC(),
		WindowEnd:          r.WindowEnd.UTC(),
		SpendToDate:        r.SpendToDate,
		RewardEarnedToDate: r.RewardEarnedToDate,
		Finalized:          r.Finalized,
		Version:            r.Version,
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
}

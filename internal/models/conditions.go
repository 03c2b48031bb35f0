package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ConditionKind tags each condition variant on the wire.
type ConditionKind string

const (
	ConditionMinSpend            ConditionKind = "min_spend"
	ConditionMerchantAllowList   ConditionKind = "merchant_allow_list"
	ConditionTimeWindow          ConditionKind = "time_window"
	ConditionCumulativeThreshold ConditionKind = "cumulative_threshold"
	ConditionCap                 ConditionKind = "cap"
)

// Condition is one predicate attached to a reward rule. The set of
// implementations is closed: MinSpend, MerchantAllowList, TimeWindow,
// CumulativeThreshold and Cap.
type Condition interface {
	Kind() ConditionKind
	isCondition()
}

// MinSpend requires a single purchase of at least Amount.
type MinSpend struct {
	Amount decimal.Decimal
}

// MerchantAllowList restricts the rule to the listed merchants.
type MerchantAllowList struct {
	MerchantIDs []string
}

// TimeWindow restricts the rule to certain weekdays and a time-of-day range.
// An empty Weekdays slice means every day; From == To means all day. A range
// with From > To wraps past midnight.
type TimeWindow struct {
	Weekdays []time.Weekday
	From     TimeOfDay
	To       TimeOfDay
}

// CumulativeThreshold switches the rule to UnlockRate once window spend,
// including the purchase being quoted, reaches MinSpend.
type CumulativeThreshold struct {
	MinSpend   decimal.Decimal
	UnlockRate decimal.Decimal
}

// Cap bounds the reward a rule can pay within one window instance.
type Cap struct {
	Amount decimal.Decimal
}

func (MinSpend) Kind() ConditionKind            { return ConditionMinSpend }
func (MerchantAllowList) Kind() ConditionKind   { return ConditionMerchantAllowList }
func (TimeWindow) Kind() ConditionKind          { return ConditionTimeWindow }
func (CumulativeThreshold) Kind() ConditionKind { return ConditionCumulativeThreshold }
func (Cap) Kind() ConditionKind                 { return ConditionCap }

func (MinSpend) isCondition()            {}
func (MerchantAllowList) isCondition()   {}
func (TimeWindow) isCondition()          {}
func (CumulativeThreshold) isCondition() {}
func (Cap) isCondition()                 {}

// Allows reports whether merchantID is on the list.
func (l MerchantAllowList) Allows(merchantID string) bool {
	for _, id := range l.MerchantIDs {
		if id == merchantID {
			return true
		}
	}
	return false
}

// Contains reports whether t falls inside the window, in t's own location.
func (w TimeWindow) Contains(t time.Time) bool {
	if len(w.Weekdays) > 0 {
		found := false
		for _, d := range w.Weekdays {
			if t.Weekday() == d {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if w.From == w.To {
		return true
	}

	minute := TimeOfDay(t.Hour()*60 + t.Minute())
	if w.From < w.To {
		return minute >= w.From && minute < w.To
	}
	return minute >= w.From || minute < w.To
}

// TimeOfDay is minutes since midnight.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

func (d TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(d)/60, int(d)%60)
}

// Conditions is an ordered set of rule conditions with a tagged wire format.
type Conditions []Condition

// conditionDTO is the flat wire shape shared by JSON, YAML and database columns.
type conditionDTO struct {
	Kind        ConditionKind    `json:"kind" yaml:"kind"`
	Amount      *decimal.Decimal `json:"amount,omitempty" yaml:"amount,omitempty"`
	MerchantIDs []string         `json:"merchant_ids,omitempty" yaml:"merchant_ids,omitempty"`
	Weekdays    []string         `json:"weekdays,omitempty" yaml:"weekdays,omitempty"`
	From        string           `json:"from,omitempty" yaml:"from,omitempty"`
	To          string           `json:"to,omitempty" yaml:"to,omitempty"`
	MinSpend    *decimal.Decimal `json:"min_spend,omitempty" yaml:"min_spend,omitempty"`
	UnlockRate  *decimal.Decimal `json:"unlock_rate,omitempty" yaml:"unlock_rate,omitempty"`
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

func weekdayName(d time.Weekday) string {
	return strings.ToLower(d.String()[:3])
}

func toDTO(c Condition) (conditionDTO, error) {
	switch v := c.(type) {
	case MinSpend:
		amount := v.Amount
		return conditionDTO{Kind: ConditionMinSpend, Amount: &amount}, nil
	case MerchantAllowList:
		return conditionDTO{Kind: ConditionMerchantAllowList, MerchantIDs: v.MerchantIDs}, nil
	case TimeWindow:
		dto := conditionDTO{Kind: ConditionTimeWindow}
		for _, d := range v.Weekdays {
			dto.Weekdays = append(dto.Weekdays, weekdayName(d))
		}
		if v.From != v.To {
			dto.From = v.From.String()
			dto.To = v.To.String()
		}
		return dto, nil
	case CumulativeThreshold:
		minSpend, unlockRate := v.MinSpend, v.UnlockRate
		return conditionDTO{Kind: ConditionCumulativeThreshold, MinSpend: &minSpend, UnlockRate: &unlockRate}, nil
	case Cap:
		amount := v.Amount
		return conditionDTO{Kind: ConditionCap, Amount: &amount}, nil
	default:
		return conditionDTO{}, fmt.Errorf("unknown condition type %T", c)
	}
}

func fromDTO(dto conditionDTO) (Condition, error) {
	switch dto.Kind {
	case ConditionMinSpend:
		if dto.Amount == nil {
			return nil, fmt.Errorf("%s: amount is required", dto.Kind)
		}
		return MinSpend{Amount: *dto.Amount}, nil
	case ConditionMerchantAllowList:
		if len(dto.MerchantIDs) == 0 {
			return nil, fmt.Errorf("%s: merchant_ids is required", dto.Kind)
		}
		return MerchantAllowList{MerchantIDs: dto.MerchantIDs}, nil
	case ConditionTimeWindow:
		tw := TimeWindow{}
		for _, name := range dto.Weekdays {
			d, ok := weekdayNames[strings.ToLower(name)]
			if !ok {
				return nil, fmt.Errorf("%s: unknown weekday %q", dto.Kind, name)
			}
			tw.Weekdays = append(tw.Weekdays, d)
		}
		if dto.From != "" || dto.To != "" {
			from, err := ParseTimeOfDay(dto.From)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", dto.Kind, err)
			}
			to, err := ParseTimeOfDay(dto.To)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", dto.Kind, err)
			}
			tw.From, tw.To = from, to
		}
		return tw, nil
	case ConditionCumulativeThreshold:
		if dto.MinSpend == nil || dto.UnlockRate == nil {
			return nil, fmt.Errorf("%s: min_spend and unlock_rate are required", dto.Kind)
		}
		return CumulativeThreshold{MinSpend: *dto.MinSpend, UnlockRate: *dto.UnlockRate}, nil
	case ConditionCap:
		if dto.Amount == nil {
			return nil, fmt.Errorf("%s: amount is required", dto.Kind)
		}
		return Cap{Amount: *dto.Amount}, nil
	default:
		return nil, fmt.Errorf("unknown condition kind %q", dto.Kind)
	}
}

func (cs Conditions) toDTOs() ([]conditionDTO, error) {
	dtos := make([]conditionDTO, 0, len(cs))
	for _, c := range cs {
		dto, err := toDTO(c)
		if err != nil {
			return nil, err
		}
		dtos = append(dtos, dto)
	}
	return dtos, nil
}

func conditionsFromDTOs(dtos []conditionDTO) (Conditions, error) {
	cs := make(Conditions, 0, len(dtos))
	for i, dto := range dtos {
		c, err := fromDTO(dto)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		cs = append(cs, c)
	}
	return cs, nil
}

// MarshalJSON encodes the conditions as a list of kind-tagged objects.
func (cs Conditions) MarshalJSON() ([]byte, error) {
	dtos, err := cs.toDTOs()
	if err != nil {
		return nil, err
	}
	return json.Marshal(dtos)
}

// UnmarshalJSON decodes a list of kind-tagged objects.
func (cs *Conditions) UnmarshalJSON(data []byte) error {
	var dtos []conditionDTO
	if err := json.Unmarshal(data, &dtos); err != nil {
		return err
	}
	decoded, err := conditionsFromDTOs(dtos)
	if err != nil {
		return err
	}
	*cs = decoded
	return nil
}

// MarshalYAML encodes the conditions as a list of kind-tagged mappings.
func (cs Conditions) MarshalYAML() (interface{}, error) {
	return cs.toDTOs()
}

// UnmarshalYAML decodes a list of kind-tagged mappings.
func (cs *Conditions) UnmarshalYAML(value *yaml.Node) error {
	var dtos []conditionDTO
	if err := value.Decode(&dtos); err != nil {
		return err
	}
	decoded, err := conditionsFromDTOs(dtos)
	if err != nil {
		return err
	}
	*cs = decoded
	return nil
}

package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoEligibleCard is returned when no card yields a positive effective value.
var ErrNoEligibleCard = errors.New("no eligible card for purchase")

// InvalidWindowError reports a timestamp a rule's window cannot resolve.
type InvalidWindowError struct {
	Window WindowSpec
	At     time.Time
	Reason string
}

func (e *InvalidWindowError) Error() string {
	return fmt.Sprintf("invalid window %s for %s: %s", e.Window.Kind, e.At.Format(time.RFC3339), e.Reason)
}

// ConcurrentUpdateError is returned when a commit exhausts its retry budget.
type ConcurrentUpdateError struct {
	Key      StateKey
	Attempts int
}

func (e *ConcurrentUpdateError) Error() string {
	return fmt.Sprintf("concurrent update on %s: gave up after %d attempts", e.Key, e.Attempts)
}

// ConfigurationError reports missing or unusable configuration, such as an
// exchange rate for a reward type.
type ConfigurationError struct {
	RewardType RewardType
	Reason     string
}

func (e *ConfigurationError) Error() string {
	if e.RewardType == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error for reward type %s: %s", e.RewardType, e.Reason)
}

// EvaluationError annotates a failure with the card and rule being evaluated.
type EvaluationError struct {
	CardID string
	RuleID string
	Err    error
}

func (e *EvaluationError) Error() string {
	if e.RuleID == "" {
		return fmt.Sprintf("card %s: %v", e.CardID, e.Err)
	}
	return fmt.Sprintf("card %s rule %s: %v", e.CardID, e.RuleID, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

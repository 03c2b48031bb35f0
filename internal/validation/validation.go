package validation

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vedant-gala/Credora/internal/models"
)

// maxIDLength bounds free-form identifiers.
const maxIDLength = 128

// maxAmount bounds a single purchase.
var maxAmount = decimal.NewFromInt(1_000_000_000)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidateOptimizeRequest checks an optimize request and returns the purchase
// it describes. A missing timestamp means now.
func ValidateOptimizeRequest(req models.OptimizeRequest, now time.Time) (models.Purchase, error) {
	if err := ValidateID(req.UserID, "user_id"); err != nil {
		return models.Purchase{}, err
	}
	if err := validateAmount(req.Amount, "amount"); err != nil {
		return models.Purchase{}, err
	}
	if req.MerchantID != "" {
		if err := ValidateID(req.MerchantID, "merchant_id"); err != nil {
			return models.Purchase{}, err
		}
	}
	if req.Category != "" && !req.Category.Valid() {
		return models.Purchase{}, &ValidationError{
			Field:   "category",
			Message: fmt.Sprintf("unknown category %q", req.Category),
		}
	}

	at := now
	if req.Timestamp != nil {
		at = *req.Timestamp
	}

	return models.Purchase{
		Amount:       req.Amount,
		MerchantID:   SanitizeString(req.MerchantID),
		MerchantName: SanitizeString(req.MerchantName),
		Category:     req.Category,
		Timestamp:    at,
	}, nil
}

// ValidateCommitRequest checks a commit request and returns the transaction it
// describes. A missing transaction ID is generated.
func ValidateCommitRequest(req models.CommitTransactionRequest) (models.Transaction, error) {
	if req.TransactionID == "" {
		req.TransactionID = uuid.NewString()
	} else if err := ValidateUUID(req.TransactionID, "transaction_id"); err != nil {
		return models.Transaction{}, err
	}
	if err := ValidateID(req.CardID, "card_id"); err != nil {
		return models.Transaction{}, err
	}
	if err := ValidateID(req.RuleID, "rule_id"); err != nil {
		return models.Transaction{}, err
	}
	if req.MerchantID != "" {
		if err := ValidateID(req.MerchantID, "merchant_id"); err != nil {
			return models.Transaction{}, err
		}
	}
	if err := validateAmount(req.Amount, "amount"); err != nil {
		return models.Transaction{}, err
	}
	if req.Timestamp.IsZero() {
		return models.Transaction{}, &ValidationError{
			Field:   "timestamp",
			Message: "is required",
		}
	}

	return models.Transaction{
		ID:         req.TransactionID,
		CardID:     SanitizeString(req.CardID),
		RuleID:     SanitizeString(req.RuleID),
		Amount:     req.Amount,
		MerchantID: SanitizeString(req.MerchantID),
		Timestamp:  req.Timestamp,
	}, nil
}

func validateAmount(amount decimal.Decimal, field string) error {
	if amount.IsNegative() {
		return &ValidationError{
			Field:   field,
			Message: "must be non-negative",
		}
	}
	if amount.GreaterThan(maxAmount) {
		return &ValidationError{
			Field:   field,
			Message: "exceeds maximum allowed amount",
		}
	}
	return nil
}

func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

// ValidateID accepts any non-empty printable identifier of bounded length.
func ValidateID(id, fieldName string) error {
	id = SanitizeString(id)
	if id == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}
	if len(id) > maxIDLength {
		return &ValidationError{
			Field:   fieldName,
			Message: fmt.Sprintf("cannot exceed %d characters", maxIDLength),
		}
	}
	if strings.ContainsAny(id, " \t\r\n/") {
		return &ValidationError{
			Field:   fieldName,
			Message: "must not contain whitespace or slashes",
		}
	}
	return nil
}

func ValidateUUID(id, fieldName string) error {
	if id == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}

	if _, err := uuid.Parse(SanitizeString(id)); err != nil {
		return &ValidationError{
			Field:   fieldName,
			Message: "must be a valid UUID",
		}
	}

	return nil
}

// ValidateTimeString parses an optional RFC3339 timestamp; empty means now.
func ValidateTimeString(timeStr, fieldName string, now time.Time) (time.Time, error) {
	if timeStr == "" {
		return now, nil
	}

	t, err := time.Parse(time.RFC3339, timeStr)
	if err != nil {
		return time.Time{}, &ValidationError{
			Field:   fieldName,
			Message: "must be a valid RFC3339 timestamp",
		}
	}

	return t, nil
}

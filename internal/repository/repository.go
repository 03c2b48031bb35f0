package repository

import (
	"context"
	"errors"

	"github.com/vedant-gala/Credora/internal/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrVersionConflict is returned when a state save loses a compare-and-swap.
	ErrVersionConflict = errors.New("repository: version conflict")
)

// Repository is the persistence contract the rewards core reads and writes
// through. Any storage engine satisfying it is substitutable.
type Repository interface {
	// LoadCardsForUser returns the user's cards, with rules populated, ordered by card ID.
	LoadCardsForUser(ctx context.Context, userID string) ([]models.Card, error)
	// LoadCard returns one card with its rules populated.
	LoadCard(ctx context.Context, cardID string) (models.Card, error)
	LoadRulesForCard(ctx context.Context, cardID string) ([]models.RewardRule, error)

	LoadMerchant(ctx context.Context, merchantID string) (models.Merchant, error)
	ListMerchants(ctx context.Context) ([]models.Merchant, error)

	// LoadThresholdState returns ErrNotFound when the window instance has no activity.
	LoadThresholdState(ctx context.Context, key models.StateKey) (models.ThresholdState, error)
	// LoadLatestThresholdState returns the (card, rule) instance with the latest window start.
	LoadLatestThresholdState(ctx context.Context, cardID, ruleID string) (models.ThresholdState, error)
	// ListThresholdStates returns every stored instance of (card, rule), oldest first.
	ListThresholdStates(ctx context.Context, cardID, ruleID string) ([]models.ThresholdState, error)
	// SaveThresholdState stores state if the stored version equals expectedVersion
	// (0 meaning "not stored yet") and returns it with its new version. A mismatch
	// yields ErrVersionConflict.
	SaveThresholdState(ctx context.Context, state models.ThresholdState, expectedVersion int64) (models.ThresholdState, error)
}

// Store is a Repository that can also be loaded with cards and merchants.
// Card management itself lives outside the rewards core; this is the fixture path.
type Store interface {
	Repository
	UpsertCard(ctx context.Context, card models.Card) error
	UpsertMerchant(ctx context.Context, merchant models.Merchant) error
	Close() error
}

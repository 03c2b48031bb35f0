package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vedant-gala/Credora/internal/models"
	"github.com/vedant-gala/Credora/internal/repository"
)

// Repository caches the read-mostly card catalogue and merchant directory in
// front of a store. Threshold state always goes to the store: it is the
// compare-and-swap source of truth.
type Repository struct {
	repository.Store
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

var _ repository.Store = (*Repository)(nil)

// NewRepository wraps store with c.
func NewRepository(store repository.Store, c Cache, ttl time.Duration, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{Store: store, cache: c, ttl: ttl, logger: logger}
}

func userCardsKey(userID string) string { return "cards:user:" + userID }
func cardKey(cardID string) string      { return "cards:id:" + cardID }
func merchantKey(id string) string      { return "merchants:id:" + id }

const merchantsKey = "merchants:all"

func (r *Repository) LoadCardsForUser(ctx context.Context, userID string) ([]models.Card, error) {
	var cards []models.Card
	if r.get(ctx, userCardsKey(userID), &cards) {
		return cards, nil
	}

	cards, err := r.Store.LoadCardsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	r.set(ctx, userCardsKey(userID), cards)
	return cards, nil
}

func (r *Repository) LoadCard(ctx context.Context, cardID string) (models.Card, error) {
	var card models.Card
	if r.get(ctx, cardKey(cardID), &card) {
		return card, nil
	}

	card, err := r.Store.LoadCard(ctx, cardID)
	if err != nil {
		return models.Card{}, err
	}
	r.set(ctx, cardKey(cardID), card)
	return card, nil
}

func (r *Repository) LoadRulesForCard(ctx context.Context, cardID string) ([]models.RewardRule, error) {
	card, err := r.LoadCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	return card.Rules, nil
}

func (r *Repository) LoadMerchant(ctx context.Context, merchantID string) (models.Merchant, error) {
	var m models.Merchant
	if r.get(ctx, merchantKey(merchantID), &m) {
		return m, nil
	}

	m, err := r.Store.LoadMerchant(ctx, merchantID)
	if err != nil {
		return models.Merchant{}, err
	}
	r.set(ctx, merchantKey(merchantID), m)
	return m, nil
}

func (r *Repository) ListMerchants(ctx context.Context) ([]models.Merchant, error) {
	var merchants []models.Merchant
	if r.get(ctx, merchantsKey, &merchants) {
		return merchants, nil
	}

	merchants, err := r.Store.ListMerchants(ctx)
	if err != nil {
		return nil, err
	}
	r.set(ctx, merchantsKey, merchants)
	return merchants, nil
}

// UpsertCard writes through and invalidates the card's entries.
func (r *Repository) UpsertCard(ctx context.Context, card models.Card) error {
	if err := r.Store.UpsertCard(ctx, card); err != nil {
		return err
	}
	r.invalidate(ctx, cardKey(card.ID), userCardsKey(card.UserID))
	return nil
}

// UpsertMerchant writes through and invalidates the merchant's entries.
func (r *Repository) UpsertMerchant(ctx context.Context, merchant models.Merchant) error {
	if err := r.Store.UpsertMerchant(ctx, merchant); err != nil {
		return err
	}
	r.invalidate(ctx, merchantKey(merchant.ID), merchantsKey)
	return nil
}

// get reports a hit. Cache failures degrade to a miss.
func (r *Repository) get(ctx context.Context, key string, dest interface{}) bool {
	err := GetJSON(ctx, r.cache, key, dest)
	if err == nil {
		return true
	}
	if !errors.Is(err, ErrNotFound) {
		r.logger.Warn("Cache read failed", slog.String("key", key), slog.Any("error", err))
	}
	return false
}

func (r *Repository) set(ctx context.Context, key string, value interface{}) {
	if err := SetJSON(ctx, r.cache, key, value, r.ttl); err != nil {
		r.logger.Warn("Cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}

func (r *Repository) invalidate(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if err := r.cache.Delete(ctx, key); err != nil {
			r.logger.Warn("Cache invalidation failed", slog.String("key", key), slog.Any("error", err))
		}
	}
}

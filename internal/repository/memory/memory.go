package memory

import (
	"context"
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/vedant-gala/Credora/internal/models"
	"github.com/vedant-gala/Credora/internal/repository"
)

// Store is an in-process repository. Threshold state saves are atomic per key.
type Store struct {
	cards     *xsync.MapOf[string, models.Card]
	merchants *xsync.MapOf[string, models.Merchant]
	states    *xsync.MapOf[models.StateKey, models.ThresholdState]
}

var _ repository.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		cards:     xsync.NewMapOf[string, models.Card](),
		merchants: xsync.NewMapOf[string, models.Merchant](),
		states:    xsync.NewMapOf[models.StateKey, models.ThresholdState](),
	}
}

// UpsertCard stores card and its rules, replacing any previous version.
func (s *Store) UpsertCard(ctx context.Context, card models.Card) error {
	card.Rules = append([]models.RewardRule(nil), card.Rules...)
	for i := range card.Rules {
		card.Rules[i].CardID = card.ID
	}
	s.cards.Store(card.ID, card)
	return nil
}

// UpsertMerchant stores merchant, replacing any previous version.
func (s *Store) UpsertMerchant(ctx context.Context, merchant models.Merchant) error {
	s.merchants.Store(merchant.ID, merchant)
	return nil
}

func (s *Store) LoadCardsForUser(ctx context.Context, userID string) ([]models.Card, error) {
	var cards []models.Card
	s.cards.Range(func(_ string, card models.Card) bool {
		if card.UserID == userID {
			cards = append(cards, copyCard(card))
		}
		return true
	})
	sort.Slice(cards, func(i, j int) bool { return cards[i].ID < cards[j].ID })
	return cards, nil
}

func (s *Store) LoadCard(ctx context.Context, cardID string) (models.Card, error) {
	card, ok := s.cards.Load(cardID)
	if !ok {
		return models.Card{}, repository.ErrNotFound
	}
	return copyCard(card), nil
}

func (s *Store) LoadRulesForCard(ctx context.Context, cardID string) ([]models.RewardRule, error) {
	card, ok := s.cards.Load(cardID)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyCard(card).Rules, nil
}

func (s *Store) LoadMerchant(ctx context.Context, merchantID string) (models.Merchant, error) {
	m, ok := s.merchants.Load(merchantID)
	if !ok {
		return models.Merchant{}, repository.ErrNotFound
	}
	return m, nil
}

func (s *Store) ListMerchants(ctx context.Context) ([]models.Merchant, error) {
	var merchants []models.Merchant
	s.merchants.Range(func(_ string, m models.Merchant) bool {
		merchants = append(merchants, m)
		return true
	})
	sort.Slice(merchants, func(i, j int) bool { return merchants[i].ID < merchants[j].ID })
	return merchants, nil
}

func (s *Store) LoadThresholdState(ctx context.Context, key models.StateKey) (models.ThresholdState, error) {
	state, ok := s.states.Load(key)
	if !ok {
		return models.ThresholdState{}, repository.ErrNotFound
	}
	return state, nil
}

func (s *Store) LoadLatestThresholdState(ctx context.Context, cardID, ruleID string) (models.ThresholdState, error) {
	states, err := s.ListThresholdStates(ctx, cardID, ruleID)
	if err != nil {
		return models.ThresholdState{}, err
	}
	if len(states) == 0 {
		return models.ThresholdState{}, repository.ErrNotFound
	}
	return states[len(states)-1], nil
}

func (s *Store) ListThresholdStates(ctx context.Context, cardID, ruleID string) ([]models.ThresholdState, error) {
	var states []models.ThresholdState
	s.states.Range(func(key models.StateKey, state models.ThresholdState) bool {
		if key.CardID == cardID && key.RuleID == ruleID {
			states = append(states, state)
		}
		return true
	})
	sort.Slice(states, func(i, j int) bool { return states[i].WindowStart.Before(states[j].WindowStart) })
	return states, nil
}

func (s *Store) SaveThresholdState(ctx context.Context, state models.ThresholdState, expectedVersion int64) (models.ThresholdState, error) {
	conflict := false
	state.Version = expectedVersion + 1
	state.UpdatedAt = time.Now().UTC()

	s.states.Compute(state.Key(), func(old models.ThresholdState, loaded bool) (models.ThresholdState, bool) {
		var current int64
		if loaded {
			current = old.Version
		}
		if current != expectedVersion {
			conflict = true
			// keep whatever is there; delete only means "stay absent" when nothing was
			return old, !loaded
		}
		return state, false
	})

	if conflict {
		return models.ThresholdState{}, repository.ErrVersionConflict
	}
	return state, nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func copyCard(card models.Card) models.Card {
	card.Rules = append([]models.RewardRule(nil), card.Rules...)
	return card
}

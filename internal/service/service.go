package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vedant-gala/Credora/internal/categorize"
	"github.com/vedant-gala/Credora/internal/events"
	"github.com/vedant-gala/Credora/internal/models"
	"github.com/vedant-gala/Credora/internal/optimizer"
	"github.com/vedant-gala/Credora/internal/repository"
	"github.com/vedant-gala/Credora/internal/tracker"
	"github.com/vedant-gala/Credora/internal/validation"
)

// Service provides business logic for the rewards API: recommend a card,
// commit a confirmed transaction, and report goal progress.
type Service struct {
	repo        repository.Repository
	tracker     *tracker.Tracker
	optimizer   *optimizer.Optimizer
	categorizer *categorize.Categorizer
	events      *events.Manager
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithEvents publishes recommendation events to m.
func WithEvents(m *events.Manager) Option {
	return func(s *Service) { s.events = m }
}

// WithLogger sets the service's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source used when a request carries no timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new service instance.
func NewService(repo repository.Repository, t *tracker.Tracker, o *optimizer.Optimizer, c *categorize.Categorizer, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		tracker:     t,
		optimizer:   o,
		categorizer: c,
		logger:      slog.Default(),
		tracer:      otel.Tracer("credora/service"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Recommend returns the best card among the user's active cards for the
// purchase. A purchase no card rewards is not an error: the response is
// marked ineligible.
func (s *Service) Recommend(ctx context.Context, req models.OptimizeRequest) (models.OptimizeResponse, error) {
	ctx, span := s.tracer.Start(ctx, "service.Recommend")
	defer span.End()

	purchase, err := validation.ValidateOptimizeRequest(req, s.now())
	if err != nil {
		return models.OptimizeResponse{}, err
	}

	purchase, err = s.categorizer.Resolve(ctx, purchase)
	if err != nil {
		return models.OptimizeResponse{}, fmt.Errorf("failed to categorize purchase: %w", err)
	}
	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.String("category", string(purchase.Category)),
	)

	cards, err := s.repo.LoadCardsForUser(ctx, req.UserID)
	if err != nil {
		return models.OptimizeResponse{}, fmt.Errorf("failed to load cards: %w", err)
	}

	resp := models.OptimizeResponse{UserID: req.UserID}
	rec, err := s.optimizer.Recommend(ctx, purchase, cards)
	if errors.Is(err, models.ErrNoEligibleCard) {
		s.logger.Debug("No eligible card",
			slog.String("user_id", req.UserID),
			slog.String("category", string(purchase.Category)),
			slog.Int("cards", len(cards)))
		return resp, nil
	}
	if err != nil {
		span.RecordError(err)
		return models.OptimizeResponse{}, err
	}

	resp.Eligible = true
	resp.Recommendation = &rec
	s.events.PublishRecommendationIssued(ctx, req.UserID, purchase, rec)
	return resp, nil
}

// CommitTransaction applies a confirmed transaction to the chosen rule's
// window counters and returns the updated state.
func (s *Service) CommitTransaction(ctx context.Context, req models.CommitTransactionRequest) (models.ThresholdState, error) {
	ctx, span := s.tracer.Start(ctx, "service.CommitTransaction")
	defer span.End()

	txn, err := validation.ValidateCommitRequest(req)
	if err != nil {
		return models.ThresholdState{}, err
	}

	if txn.MerchantID != "" {
		p, err := s.categorizer.Resolve(ctx, txn.Purchase())
		if err != nil {
			return models.ThresholdState{}, fmt.Errorf("failed to categorize transaction: %w", err)
		}
		txn.Category = p.Category
	}

	state, err := s.tracker.Commit(ctx, txn.CardID, txn.RuleID, txn)
	if err != nil {
		span.RecordError(err)
		return models.ThresholdState{}, err
	}

	s.logger.Info("Committed transaction",
		slog.String("transaction_id", txn.ID),
		slog.String("card_id", txn.CardID),
		slog.String("rule_id", txn.RuleID),
		slog.String("window_key", state.WindowKey),
		slog.String("spend_to_date", state.SpendToDate.String()),
		slog.String("reward_earned_to_date", state.RewardEarnedToDate.String()))
	return state, nil
}

// GoalsProgress reports the rule's window state at asOf (RFC3339, empty for
// now) with its distance to the cap and unlock gate.
func (s *Service) GoalsProgress(ctx context.Context, cardID, ruleID, asOf string) (models.GoalProgress, error) {
	if err := validation.ValidateID(cardID, "card_id"); err != nil {
		return models.GoalProgress{}, err
	}
	if err := validation.ValidateID(ruleID, "rule_id"); err != nil {
		return models.GoalProgress{}, err
	}
	at, err := validation.ValidateTimeString(asOf, "as_of", s.now())
	if err != nil {
		return models.GoalProgress{}, err
	}

	return s.tracker.Progress(ctx, cardID, ruleID, at)
}

// History returns every stored window instance of the rule, oldest first.
func (s *Service) History(ctx context.Context, cardID, ruleID string) ([]models.ThresholdState, error) {
	if err := validation.ValidateID(cardID, "card_id"); err != nil {
		return nil, err
	}
	if err := validation.ValidateID(ruleID, "rule_id"); err != nil {
		return nil, err
	}

	states, err := s.tracker.History(ctx, cardID, ruleID)
	if err != nil {
		return nil, err
	}
	if states == nil {
		states = []models.ThresholdState{}
	}
	return states, nil
}

// Categories lists the concrete spend categories.
func (s *Service) Categories() []models.Category {
	return append([]models.Category(nil), models.Categories...)
}

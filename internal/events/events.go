package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vedant-gala/Credora/internal/models"
)

// EventType represents the type of event.
type EventType string

const (
	// EventThresholdCommitted is emitted after a transaction advances a window's counters
	EventThresholdCommitted EventType = "threshold.committed"
	// EventWindowRolledOver is emitted when a commit finalizes a window instance and opens the next
	EventWindowRolledOver EventType = "window.rolled_over"
	// EventRecommendationIssued is emitted when the optimizer returns a recommendation
	EventRecommendationIssued EventType = "recommendation.issued"
)

// Event represents an event in the system.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// ThresholdCommittedData contains data for threshold committed events.
type ThresholdCommittedData struct {
	Transaction models.Transaction
	Quote       models.RewardQuote
	State       models.ThresholdState
}

// WindowRolledOverData contains data for window rollover events.
type WindowRolledOverData struct {
	Finalized models.ThresholdState
	NextKey   string
}

// RecommendationIssuedData contains data for recommendation issued events.
type RecommendationIssuedData struct {
	UserID         string
	Purchase       models.Purchase
	Recommendation models.Recommendation
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager manages event handlers and event publishing. A nil *Manager is a
// valid, disabled manager.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewManager creates a new event manager.
func NewManager(enabled bool, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
		logger:   logger,
	}
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return
	}
	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Publish publishes an event to all subscribed handlers.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data interface{}) {
	if m == nil {
		return
	}

	m.mu.RLock()
	if !m.enabled {
		m.mu.RUnlock()
		return
	}
	handlers := m.handlers[eventType]
	m.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	// Handlers run asynchronously and must not hold up the caller; detach from
	// the request's cancellation.
	hctx := context.WithoutCancel(ctx)
	for _, handler := range handlers {
		m.wg.Add(1)
		go func(h Handler) {
			defer m.wg.Done()
			if err := h(hctx, event); err != nil {
				m.logger.Warn("Event handler failed",
					slog.String("event", string(event.Type)),
					slog.Any("error", err))
			}
		}(handler)
	}
}

// PublishThresholdCommitted publishes a threshold committed event.
func (m *Manager) PublishThresholdCommitted(ctx context.Context, txn models.Transaction, quote models.RewardQuote, state models.ThresholdState) {
	m.Publish(ctx, EventThresholdCommitted, ThresholdCommittedData{
		Transaction: txn,
		Quote:       quote,
		State:       state,
	})
}

// PublishWindowRolledOver publishes a window rollover event.
func (m *Manager) PublishWindowRolledOver(ctx context.Context, finalized models.ThresholdState, nextKey string) {
	m.Publish(ctx, EventWindowRolledOver, WindowRolledOverData{
		Finalized: finalized,
		NextKey:   nextKey,
	})
}

// PublishRecommendationIssued publishes a recommendation issued event.
func (m *Manager) PublishRecommendationIssued(ctx context.Context, userID string, purchase models.Purchase, rec models.Recommendation) {
	m.Publish(ctx, EventRecommendationIssued, RecommendationIssuedData{
		UserID:         userID,
		Purchase:       purchase,
		Recommendation: rec,
	})
}

// Wait blocks until every handler started so far has returned.
func (m *Manager) Wait() {
	if m == nil {
		return
	}
	m.wg.Wait()
}

// Shutdown disables publishing and waits for in-flight handlers.
func (m *Manager) Shutdown() {
	if m == nil {
		return
	}

	m.mu.Lock()
	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
	m.mu.Unlock()

	m.wg.Wait()
}

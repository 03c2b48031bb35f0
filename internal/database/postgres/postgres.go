// Package postgres is the PostgreSQL implementation of repository.Store,
// built on bun with a pgx pool for health checks.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/vedant-gala/Credora/internal/models"
	"github.com/vedant-gala/Credora/internal/repository"
)

const defaultConnTimeout = 5 * time.Second

// Store implements repository.Store on PostgreSQL.
type Store struct {
	pool  *pgxpool.Pool
	bunDB *bun.DB
}

var _ repository.Store = (*Store)(nil)

// Open connects to dsn and creates the schema if needed.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pctx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()

	pool, err := pgxpool.New(pctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database server unreachable: %w", err)
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	s := &Store{pool: pool, bunDB: bun.NewDB(sqldb, pgdialect.New())}

	if err := s.initSchema(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Ping checks the connection pool.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes both connection pools.
func (s *Store) Close() error {
	s.pool.Close()
	return s.bunDB.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	tables := []interface{}{
		(*cardRow)(nil),
		(*ruleRow)(nil),
		(*merchantRow)(nil),
		(*stateRow)(nil),
	}
	for _, model := range tables {
		if _, err := s.bunDB.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_cards_user_id ON cards (user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_threshold_states_start ON threshold_states (card_id, rule_id, window_start)`,
	}
	for _, stmt := range indexes {
		start := time.Now()
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
		slog.Debug("Query executed",
			slog.String("type", "db"),
			slog.String("operation", "exec"),
			slog.String("query", stmt),
			slog.Duration("took", time.Since(start)))
	}
	return nil
}

// UpsertCard creates or updates a card and replaces its rules.
func (s *Store) UpsertCard(ctx context.Context, card models.Card) error {
	return s.bunDB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().
			Model(toCardRow(card)).
			On("CONFLICT (id) DO UPDATE").
			Set("user_id = EXCLUDED.user_id").
			Set("bank = EXCLUDED.bank").
			Set("network = EXCLUDED.network").
			Set("active = EXCLUDED.active").
			Set("annual_fee = EXCLUDED.annual_fee").
			Set("baseline_type = EXCLUDED.baseline_type").
			Set("baseline_rate = EXCLUDED.baseline_rate").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to upsert card %s: %w", card.ID, err)
		}

		_, err = tx.NewDelete().
			Model((*ruleRow)(nil)).
			Where("card_id = ?", card.ID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to clear rules for card %s: %w", card.ID, err)
		}

		if len(card.Rules) == 0 {
			return nil
		}
		rows := make([]*ruleRow, len(card.Rules))
		for i, rule := range card.Rules {
			rows[i] = toRuleRow(card.ID, i, rule)
		}
		if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert rules for card %s: %w", card.ID, err)
		}
		return nil
	})
}

// UpsertMerchant creates or updates a merchant directory entry.
func (s *Store) UpsertMerchant(ctx context.Context, merchant models.Merchant) error {
	_, err := s.bunDB.NewInsert().
		Model(&merchantRow{ID: merchant.ID, Name: merchant.Name, Category: string(merchant.Category)}).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("category = EXCLUDED.category").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert merchant: %w", err)
	}
	return nil
}

func (s *Store) LoadCardsForUser(ctx context.Context, userID string) ([]models.Card, error) {
	var rows []*cardRow
	err := s.bunDB.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}

	cards := make([]models.Card, 0, len(rows))
	for _, row := range rows {
		card := row.toModel()
		if card.Rules, err = s.rules(ctx, card.ID); err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, nil
}

func (s *Store) LoadCard(ctx context.Context, cardID string) (models.Card, error) {
	row := new(cardRow)
	err := s.bunDB.NewSelect().
		Model(row).
		Where("id = ?", cardID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Card{}, repository.ErrNotFound
	}
	if err != nil {
		return models.Card{}, fmt.Errorf("failed to query card: %w", err)
	}

	card := row.toModel()
	if card.Rules, err = s.rules(ctx, cardID); err != nil {
		return models.Card{}, err
	}
	return card, nil
}

func (s *Store) LoadRulesForCard(ctx context.Context, cardID string) ([]models.RewardRule, error) {
	exists, err := s.bunDB.NewSelect().
		Model((*cardRow)(nil)).
		Where("id = ?", cardID).
		Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to look up card: %w", err)
	}
	if !exists {
		return nil, repository.ErrNotFound
	}
	return s.rules(ctx, cardID)
}

func (s *Store) rules(ctx context.Context, cardID string) ([]models.RewardRule, error) {
	var rows []*ruleRow
	err := s.bunDB.NewSelect().
		Model(&rows).
		Where("card_id = ?", cardID).
		Order("position ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}

	rules := make([]models.RewardRule, len(rows))
	for i, row := range rows {
		rules[i] = row.toModel()
	}
	return rules, nil
}

func (s *Store) LoadMerchant(ctx context.Context, merchantID string) (models.Merchant, error) {
	row := new(merchantRow)
	err := s.bunDB.NewSelect().
		Model(row).
		Where("id = ?", merchantID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Merchant{}, repository.ErrNotFound
	}
	if err != nil {
		return models.Merchant{}, fmt.Errorf("failed to query merchant: %w", err)
	}
	return models.Merchant{ID: row.ID, Name: row.Name, Category: models.Category(row.Category)}, nil
}

func (s *Store) ListMerchants(ctx context.Context) ([]models.Merchant, error) {
	var rows []*merchantRow
	if err := s.bunDB.NewSelect().Model(&rows).Order("id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to query merchants: %w", err)
	}

	merchants := make([]models.Merchant, len(rows))
	for i, row := range rows {
		merchants[i] = models.Merchant{ID: row.ID, Name: row.Name, Category: models.Category(row.Category)}
	}
	return merchants, nil
}

func (s *Store) LoadThresholdState(ctx context.Context, key models.StateKey) (models.ThresholdState, error) {
	row := new(stateRow)
	err := s.bunDB.NewSelect().
		Model(row).
		Where("card_id = ?", key.CardID).
		Where("rule_id = ?", key.RuleID).
		Where("window_key = ?", key.WindowKey).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ThresholdState{}, repository.ErrNotFound
	}
	if err != nil {
		return models.ThresholdState{}, fmt.Errorf("failed to query threshold state: %w", err)
	}
	return row.toModel(), nil
}

func (s *Store) LoadLatestThresholdState(ctx context.Context, cardID, ruleID string) (models.ThresholdState, error) {
	row := new(stateRow)
	err := s.bunDB.NewSelect().
		Model(row).
		Where("card_id = ?", cardID).
		Where("rule_id = ?", ruleID).
		Order("window_start DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ThresholdState{}, repository.ErrNotFound
	}
	if err != nil {
		return models.ThresholdState{}, fmt.Errorf("failed to query latest threshold state: %w", err)
	}
	return row.toModel(), nil
}

func (s *Store) ListThresholdStates(ctx context.Context, cardID, ruleID string) ([]models.ThresholdState, error) {
	var rows []*stateRow
	err := s.bunDB.NewSelect().
		Model(&rows).
		Where("card_id = ?", cardID).
		Where("rule_id = ?", ruleID).
		Order("window_start ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query threshold states: %w", err)
	}

	states := make([]models.ThresholdState, len(rows))
	for i, row := range rows {
		states[i] = row.toModel()
	}
	return states, nil
}

// SaveThresholdState writes state if the stored version still equals
// expectedVersion (zero meaning "not stored yet").
func (s *Store) SaveThresholdState(ctx context.Context, state models.ThresholdState, expectedVersion int64) (models.ThresholdState, error) {
	state.Version = expectedVersion + 1
	state.UpdatedAt = time.Now().UTC()
	row := toStateRow(state)

	var (
		res sql.Result
		err error
	)
	if expectedVersion == 0 {
		res, err = s.bunDB.NewInsert().
			Model(row).
			On("CONFLICT (card_id, rule_id, window_key) DO NOTHING").
			Exec(ctx)
	} else {
		res, err = s.bunDB.NewUpdate().
			Model(row).
			Column("spend_to_date", "reward_earned_to_date", "finalized", "version", "updated_at").
			WherePK().
			Where("version = ?", expectedVersion).
			Exec(ctx)
	}
	if err != nil {
		return models.ThresholdState{}, fmt.Errorf("failed to save threshold state: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return models.ThresholdState{}, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return models.ThresholdState{}, repository.ErrVersionConflict
	}
	return state, nil
}

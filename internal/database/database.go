package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/vedant-gala/Credora/internal/models"
	"github.com/vedant-gala/Credora/internal/repository"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// DB wraps the database connection and implements repository.Store.
type DB struct {
	conn *sql.DB
}

var _ repository.Store = (*DB)(nil)

// NewDB creates a new database connection and initializes the schema.
func NewDB(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows one writer; serializing here keeps CAS updates from
	// surfacing as "database is locked".
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// initSchema creates the necessary tables if they don't exist.
func (db *DB) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS cards (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			bank TEXT NOT NULL,
			network TEXT NOT NULL,
			active INTEGER NOT NULL,
			annual_fee TEXT,
			baseline_type TEXT,
			baseline_rate TEXT,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS reward_rules (
			card_id TEXT NOT NULL REFERENCES cards(id) ON DELETE CASCADE,
			id TEXT NOT NULL,
			position INTEGER NOT NULL,
			name TEXT NOT NULL,
			reward_type TEXT NOT NULL,
			category TEXT NOT NULL,
			rate TEXT NOT NULL,
			window_kind TEXT,
			window_days INTEGER NOT NULL DEFAULT 0,
			window_anchor TEXT,
			conditions TEXT NOT NULL,
			PRIMARY KEY (card_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS merchants (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			category TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS threshold_states (
			card_id TEXT NOT NULL,
			rule_id TEXT NOT NULL,
			window_key TEXT NOT NULL,
			window_start TEXT NOT NULL,
			window_end TEXT NOT NULL,
			spend_to_date TEXT NOT NULL,
			reward_earned_to_date TEXT NOT NULL,
			finalized INTEGER NOT NULL,
			version INTEGER NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (card_id, rule_id, window_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cards_user_id ON cards(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_threshold_states_start ON threshold_states(card_id, rule_id, window_start)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

// UpsertCard creates or updates a card and replaces its rules.
func (db *DB) UpsertCard(ctx context.Context, card models.Card) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var baselineType, baselineRate sql.NullString
	if card.Baseline != nil {
		baselineType = sql.NullString{String: string(card.Baseline.RewardType), Valid: true}
		baselineRate = sql.NullString{String: card.Baseline.Rate.String(), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO cards (
		id, user_id, bank, network, active, annual_fee, baseline_type, baseline_rate, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		user_id = excluded.user_id,
		bank = excluded.bank,
		network = excluded.network,
		active = excluded.active,
		annual_fee = excluded.annual_fee,
		baseline_type = excluded.baseline_type,
		baseline_rate = excluded.baseline_rate,
		updated_at = excluded.updated_at`,
		card.ID,
		card.UserID,
		card.Bank,
		card.Network,
		card.Active,
		nullDecimal(card.AnnualFee),
		baselineType,
		baselineRate,
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert card %s: %w", card.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM reward_rules WHERE card_id = ?`, card.ID); err != nil {
		return fmt.Errorf("failed to clear rules for card %s: %w", card.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO reward_rules (
		card_id, id, position, name, reward_type, category, rate,
		window_kind, window_days, window_anchor, conditions
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, rule := range card.Rules {
		conditions, err := rule.Conditions.MarshalJSON()
		if err != nil {
			return fmt.Errorf("failed to encode conditions of rule %s: %w", rule.ID, err)
		}

		var kind, anchor sql.NullString
		var days int
		if rule.Window != nil {
			kind = sql.NullString{String: string(rule.Window.Kind), Valid: true}
			days = rule.Window.Days
			if !rule.Window.Anchor.IsZero() {
				anchor = sql.NullString{String: formatTime(rule.Window.Anchor), Valid: true}
			}
		}

		_, err = stmt.ExecContext(ctx,
			card.ID,
			rule.ID,
			i,
			rule.Name,
			string(rule.RewardType),
			string(rule.Category),
			rule.Rate.String(),
			kind,
			days,
			anchor,
			string(conditions),
		)
		if err != nil {
			return fmt.Errorf("failed to insert rule %s: %w", rule.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// UpsertMerchant creates or updates a merchant directory entry.
func (db *DB) UpsertMerchant(ctx context.Context, merchant models.Merchant) error {
	_, err := db.conn.ExecContext(ctx, `INSERT INTO merchants (id, name, category)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category`,
		merchant.ID, merchant.Name, string(merchant.Category))
	if err != nil {
		return fmt.Errorf("failed to upsert merchant: %w", err)
	}
	return nil
}

const cardColumns = `id, user_id, bank, network, active, annual_fee, baseline_type, baseline_rate`

// LoadCardsForUser returns the user's cards with their rules, ordered by ID.
func (db *DB) LoadCardsForUser(ctx context.Context, userID string) ([]models.Card, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+cardColumns+` FROM cards WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}

	var cards []models.Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating cards: %w", err)
	}
	rows.Close()

	// rules are loaded after the cursor is closed; the pool holds one connection
	for i := range cards {
		rules, err := db.LoadRulesForCard(ctx, cards[i].ID)
		if err != nil {
			return nil, err
		}
		cards[i].Rules = rules
	}

	return cards, nil
}

// LoadCard returns one card with its rules.
func (db *DB) LoadCard(ctx context.Context, cardID string) (models.Card, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = ?`, cardID)
	card, err := scanCard(row)
	if err != nil {
		return models.Card{}, err
	}

	card.Rules, err = db.LoadRulesForCard(ctx, cardID)
	if err != nil {
		return models.Card{}, err
	}
	return card, nil
}

// LoadRulesForCard returns the card's rules in insertion order.
func (db *DB) LoadRulesForCard(ctx context.Context, cardID string) ([]models.RewardRule, error) {
	var exists int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards WHERE id = ?`, cardID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to look up card: %w", err)
	}
	if exists == 0 {
		return nil, repository.ErrNotFound
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT id, name, reward_type, category, rate,
		window_kind, window_days, window_anchor, conditions
		FROM reward_rules
		WHERE card_id = ?
		ORDER BY position`, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []models.RewardRule
	for rows.Next() {
		var (
			rule             models.RewardRule
			rewardType, cat  string
			rate, conditions string
			kind, anchor     sql.NullString
			days             int
		)
		if err := rows.Scan(&rule.ID, &rule.Name, &rewardType, &cat, &rate, &kind, &days, &anchor, &conditions); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}

		rule.CardID = cardID
		rule.RewardType = models.RewardType(rewardType)
		rule.Category = models.Category(cat)
		if rule.Rate, err = decimal.NewFromString(rate); err != nil {
			return nil, fmt.Errorf("failed to parse rate of rule %s: %w", rule.ID, err)
		}
		if kind.Valid {
			rule.Window = &models.WindowSpec{Kind: models.WindowKind(kind.String), Days: days}
			if anchor.Valid {
				if rule.Window.Anchor, err = parseTime(anchor.String); err != nil {
					return nil, fmt.Errorf("failed to parse window anchor: %w", err)
				}
			}
		}
		if err := rule.Conditions.UnmarshalJSON([]byte(conditions)); err != nil {
			return nil, fmt.Errorf("failed to decode conditions of rule %s: %w", rule.ID, err)
		}

		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rules, nil
}

// LoadMerchant returns a merchant directory entry.
func (db *DB) LoadMerchant(ctx context.Context, merchantID string) (models.Merchant, error) {
	var m models.Merchant
	var cat string
	err := db.conn.QueryRowContext(ctx, `SELECT id, name, category FROM merchants WHERE id = ?`, merchantID).
		Scan(&m.ID, &m.Name, &cat)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Merchant{}, repository.ErrNotFound
	}
	if err != nil {
		return models.Merchant{}, fmt.Errorf("failed to query merchant: %w", err)
	}
	m.Category = models.Category(cat)
	return m, nil
}

// ListMerchants returns the merchant directory ordered by ID.
func (db *DB) ListMerchants(ctx context.Context) ([]models.Merchant, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, name, category FROM merchants ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query merchants: %w", err)
	}
	defer rows.Close()

	var merchants []models.Merchant
	for rows.Next() {
		var m models.Merchant
		var cat string
		if err := rows.Scan(&m.ID, &m.Name, &cat); err != nil {
			return nil, fmt.Errorf("failed to scan merchant: %w", err)
		}
		m.Category = models.Category(cat)
		merchants = append(merchants, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating merchants: %w", err)
	}

	return merchants, nil
}

const stateColumns = `card_id, rule_id, window_key, window_start, window_end,
	spend_to_date, reward_earned_to_date, finalized, version, updated_at`

// LoadThresholdState returns the stored state of one window instance.
func (db *DB) LoadThresholdState(ctx context.Context, key models.StateKey) (models.ThresholdState, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+stateColumns+` FROM threshold_states
		WHERE card_id = ? AND rule_id = ? AND window_key = ?`,
		key.CardID, key.RuleID, key.WindowKey)
	return scanState(row)
}

// LoadLatestThresholdState returns the most recent window instance of (card, rule).
func (db *DB) LoadLatestThresholdState(ctx context.Context, cardID, ruleID string) (models.ThresholdState, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+stateColumns+` FROM threshold_states
		WHERE card_id = ? AND rule_id = ?
		ORDER BY window_start DESC
		LIMIT 1`, cardID, ruleID)
	return scanState(row)
}

// ListThresholdStates returns every window instance of (card, rule), oldest first.
func (db *DB) ListThresholdStates(ctx context.Context, cardID, ruleID string) ([]models.ThresholdState, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+stateColumns+` FROM threshold_states
		WHERE card_id = ? AND rule_id = ?
		ORDER BY window_start ASC`, cardID, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query threshold states: %w", err)
	}
	defer rows.Close()

	var states []models.ThresholdState
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating threshold states: %w", err)
	}

	return states, nil
}

// SaveThresholdState writes state if the stored version still equals
// expectedVersion (zero meaning "not stored yet").
func (db *DB) SaveThresholdState(ctx context.Context, state models.ThresholdState, expectedVersion int64) (models.ThresholdState, error) {
	state.Version = expectedVersion + 1
	state.UpdatedAt = time.Now().UTC()

	var (
		res sql.Result
		err error
	)
	if expectedVersion == 0 {
		res, err = db.conn.ExecContext(ctx, `INSERT INTO threshold_states (`+stateColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(card_id, rule_id, window_key) DO NOTHING`,
			state.CardID,
			state.RuleID,
			state.WindowKey,
			formatTime(state.WindowStart),
			formatTime(state.WindowEnd),
			state.SpendToDate.String(),
			state.RewardEarnedToDate.String(),
			state.Finalized,
			state.Version,
			formatTime(state.UpdatedAt),
		)
	} else {
		res, err = db.conn.ExecContext(ctx, `UPDATE threshold_states SET
			spend_to_date = ?,
			reward_earned_to_date = ?,
			finalized = ?,
			version = ?,
			updated_at = ?
			WHERE card_id = ? AND rule_id = ? AND window_key = ? AND version = ?`,
			state.SpendToDate.String(),
			state.RewardEarnedToDate.String(),
			state.Finalized,
			state.Version,
			formatTime(state.UpdatedAt),
			state.CardID,
			state.RuleID,
			state.WindowKey,
			expectedVersion,
		)
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

type scanner interface {
	Scan(dest ...any) error
}

func scanCard(s scanner) (models.Card, error) {
	var (
		card                       models.Card
		annualFee                  sql.NullString
		baselineType, baselineRate sql.NullString
	)
	err := s.Scan(&card.ID, &card.UserID, &card.Bank, &card.Network, &card.Active, &annualFee, &baselineType, &baselineRate)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Card{}, repository.ErrNotFound
	}
	if err != nil {
		return models.Card{}, fmt.Errorf("failed to scan card: %w", err)
	}

	if annualFee.Valid {
		fee, err := decimal.NewFromString(annualFee.String)
		if err != nil {
			return models.Card{}, fmt.Errorf("failed to parse annual fee: %w", err)
		}
		card.AnnualFee = &fee
	}
	if baselineType.Valid && baselineRate.Valid {
		rate, err := decimal.NewFromString(baselineRate.String)
		if err != nil {
			return models.Card{}, fmt.Errorf("failed to parse baseline rate: %w", err)
		}
		card.Baseline = &models.Baseline{RewardType: models.RewardType(baselineType.String), Rate: rate}
	}

	return card, nil
}

func scanState(s scanner) (models.ThresholdState, error) {
	var (
		state               models.ThresholdState
		start, end, updated string
		spend, reward       string
	)
	err := s.Scan(
		&state.CardID,
		&state.RuleID,
		&state.WindowKey,
		&start,
		&end,
		&spend,
		&reward,
		&state.Finalized,
		&state.Version,
		&updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ThresholdState{}, repository.ErrNotFound
	}
	if err != nil {
		return models.ThresholdState{}, fmt.Errorf("failed to scan threshold state: %w", err)
	}

	if state.WindowStart, err = parseTime(start); err != nil {
		return models.ThresholdState{}, fmt.Errorf("failed to parse window_start: %w", err)
	}
	if state.WindowEnd, err = parseTime(end); err != nil {
		return models.ThresholdState{}, fmt.Errorf("failed to parse window_end: %w", err)
	}
	if state.UpdatedAt, err = parseTime(updated); err != nil {
		return models.ThresholdState{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	if state.SpendToDate, err = decimal.NewFromString(spend); err != nil {
		return models.ThresholdState{}, fmt.Errorf("failed to parse spend_to_date: %w", err)
	}
	if state.RewardEarnedToDate, err = decimal.NewFromString(reward); err != nil {
		return models.ThresholdState{}, fmt.Errorf("failed to parse reward_earned_to_date: %w", err)
	}

	return state, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

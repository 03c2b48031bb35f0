package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vedant-gala/Credora/internal/models"
	"github.com/vedant-gala/Credora/internal/repository"
	"github.com/vedant-gala/Credora/internal/window"
)

// Fixture is a seed file of cards, their rules, and the merchant directory.
type Fixture struct {
	Merchants []models.Merchant `yaml:"merchants"`
	Cards     []models.Card     `yaml:"cards"`
}

func newSeedCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <fixture.yaml>",
		Short: "Load cards, reward rules and merchants from a YAML fixture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fixture, err := loadFixture(args[0])
			if err != nil {
				return err
			}

			a, err := setupFromFlags(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := applyFixture(cmd.Context(), a.repo, fixture); err != nil {
				return err
			}

			a.logger.Info("Seeded store",
				slog.String("fixture", args[0]),
				slog.Int("cards", len(fixture.Cards)),
				slog.Int("merchants", len(fixture.Merchants)))
			return nil
		},
	}
}

// loadFixture reads and checks a fixture file. Rules without an ID get a
// generated one.
func loadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}

	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixture %s: %w", path, err)
	}

	for i, m := range f.Merchants {
		if m.ID == "" {
			return nil, fmt.Errorf("merchant %d: id is required", i)
		}
		if !m.Category.Valid() {
			return nil, fmt.Errorf("merchant %s: unknown category %q", m.ID, m.Category)
		}
	}

	for i := range f.Cards {
		card := &f.Cards[i]
		if card.ID == "" || card.UserID == "" {
			return nil, fmt.Errorf("card %d: id and user_id are required", i)
		}
		if card.Baseline != nil && !card.Baseline.RewardType.Valid() {
			return nil, fmt.Errorf("card %s: unknown baseline reward type %q", card.ID, card.Baseline.RewardType)
		}
		for j := range card.Rules {
			rule := &card.Rules[j]
			if rule.ID == "" {
				rule.ID = uuid.NewString()
			}
			rule.CardID = card.ID
			if err := checkRule(*rule); err != nil {
				return nil, fmt.Errorf("card %s rule %s: %w", card.ID, rule.ID, err)
			}
		}
	}

	return &f, nil
}

func checkRule(rule models.RewardRule) error {
	if !rule.RewardType.Valid() {
		return fmt.Errorf("unknown reward type %q", rule.RewardType)
	}
	if rule.Category != models.CategoryAll && !rule.Category.Valid() {
		return fmt.Errorf("unknown category %q", rule.Category)
	}
	if rule.Rate.IsNegative() {
		return fmt.Errorf("rate must be non-negative")
	}
	if rule.Window == nil {
		return nil
	}
	switch rule.Window.Kind {
	case models.WindowCalendarMonth, models.WindowCalendarQuarter, models.WindowCalendarYear, models.WindowLifetime:
	case models.WindowRollingDays:
		if rule.Window.Days < 1 || rule.Window.Days > window.MaxRollingDays || rule.Window.Anchor.IsZero() {
			return fmt.Errorf("rolling window needs 1 to %d days and an anchor", window.MaxRollingDays)
		}
	default:
		return fmt.Errorf("unknown window kind %q", rule.Window.Kind)
	}
	return nil
}

func applyFixture(ctx context.Context, store repository.Store, f *Fixture) error {
	for _, m := range f.Merchants {
		if err := store.UpsertMerchant(ctx, m); err != nil {
			return fmt.Errorf("failed to store merchant %s: %w", m.ID, err)
		}
	}
	for _, c := range f.Cards {
		if err := store.UpsertCard(ctx, c); err != nil {
			return fmt.Errorf("failed to store card %s: %w", c.ID, err)
		}
	}
	return nil
}

// Package categorize resolves the spend category of a purchase from an
// explicit category, the merchant directory, or a fuzzy merchant-name match.
package categorize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sahilm/fuzzy"

	"github.com/vedant-gala/Credora/internal/models"
	"github.com/vedant-gala/Credora/internal/repository"
)

// MerchantSource is the slice of the repository the categorizer reads.
type MerchantSource interface {
	LoadMerchant(ctx context.Context, merchantID string) (models.Merchant, error)
	ListMerchants(ctx context.Context) ([]models.Merchant, error)
}

// Categorizer assigns exactly one category to a purchase.
type Categorizer struct {
	merchants MerchantSource
	fuzzy     bool
}

// New creates a categorizer. fuzzyNames enables matching free-text merchant
// names against the directory.
func New(merchants MerchantSource, fuzzyNames bool) *Categorizer {
	return &Categorizer{merchants: merchants, fuzzy: fuzzyNames}
}

// Resolve fills in purchase.Category. An explicit valid category wins; then the
// merchant ID; then the merchant name. Anything unresolved is uncategorized.
func (c *Categorizer) Resolve(ctx context.Context, purchase models.Purchase) (models.Purchase, error) {
	if purchase.Category != "" {
		if !purchase.Category.Valid() {
			return purchase, fmt.Errorf("unknown category %q", purchase.Category)
		}
		return purchase, nil
	}

	if purchase.MerchantID != "" {
		m, err := c.merchants.LoadMerchant(ctx, purchase.MerchantID)
		switch {
		case err == nil:
			purchase.Category = m.Category
			if purchase.MerchantName == "" {
				purchase.MerchantName = m.Name
			}
			return purchase, nil
		case !errors.Is(err, repository.ErrNotFound):
			return purchase, fmt.Errorf("failed to load merchant %s: %w", purchase.MerchantID, err)
		}
	}

	if c.fuzzy && purchase.MerchantName != "" {
		m, ok, err := c.MatchName(ctx, purchase.MerchantName)
		if err != nil {
			return purchase, err
		}
		if ok {
			purchase.Category = m.Category
			if purchase.MerchantID == "" {
				purchase.MerchantID = m.ID
			}
			return purchase, nil
		}
	}

	purchase.Category = models.CategoryUncategorized
	return purchase, nil
}

const (
	// minQueryLen is the shortest merchant name considered for a fuzzy match.
	minQueryLen = 3
	// minCoverage: the query must be at least 1/minCoverage of the matched name.
	minCoverage = 3
)

type merchantNames []models.Merchant

func (m merchantNames) String(i int) string { return normalize(m[i].Name) }
func (m merchantNames) Len() int            { return len(m) }

// MatchName returns the directory entry that best matches name.
func (c *Categorizer) MatchName(ctx context.Context, name string) (models.Merchant, bool, error) {
	merchants, err := c.merchants.ListMerchants(ctx)
	if err != nil {
		return models.Merchant{}, false, fmt.Errorf("failed to list merchants: %w", err)
	}

	query := normalize(name)
	if query == "" || len(merchants) == 0 {
		return models.Merchant{}, false, nil
	}

	queryLen := utf8.RuneCountInString(query)
	if queryLen < minQueryLen {
		return models.Merchant{}, false, nil
	}

	// Matches are ordered best first. A subsequence that covers only a small
	// part of the name is too weak to classify on.
	for _, match := range fuzzy.FindFrom(query, merchantNames(merchants)) {
		if queryLen*minCoverage >= utf8.RuneCountInString(match.Str) {
			return merchants[match.Index], true, nil
		}
	}
	return models.Merchant{}, false, nil
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

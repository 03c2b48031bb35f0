package categorize

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vedant-gala/Credora/internal/models"
	"github.com/vedant-gala/Credora/internal/repository/memory"
)

func directory(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	for _, m := range []models.Merchant{
		{ID: "m-swiggy", Name: "Swiggy", Category: models.CategoryDining},
		{ID: "m-shell", Name: "Shell Petrol Pump", Category: models.CategoryFuel},
		{ID: "m-amazon", Name: "Amazon India", Category: models.CategoryEcommerce},
	} {
		require.NoError(t, store.UpsertMerchant(context.Background(), m))
	}
	return store
}

func TestResolve(t *testing.T) {
	c := New(directory(t), true)

	tests := []struct {
		name     string
		purchase models.Purchase
		want     models.Category
	}{
		{"explicit category wins", models.Purchase{Category: models.CategoryTravel, MerchantID: "m-swiggy"}, models.CategoryTravel},
		{"merchant id", models.Purchase{MerchantID: "m-shell"}, models.CategoryFuel},
		{"fuzzy name", models.Purchase{MerchantName: "  AMAZON  india "}, models.CategoryEcommerce},
		{"fuzzy abbreviation", models.Purchase{MerchantName: "shell pump"}, models.CategoryFuel},
		{"unknown merchant id falls through to name", models.Purchase{MerchantID: "nope", MerchantName: "swiggy"}, models.CategoryDining},
		{"nothing known", models.Purchase{MerchantName: "zzzz"}, models.CategoryUncategorized},
		{"single letter", models.Purchase{MerchantName: "s"}, models.CategoryUncategorized},
		{"two letters", models.Purchase{MerchantName: "am"}, models.CategoryUncategorized},
		{"sparse subsequence of a long name", models.Purchase{MerchantName: "spp"}, models.CategoryUncategorized},
		{"nothing given", models.Purchase{}, models.CategoryUncategorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Resolve(context.Background(), tt.purchase)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Category)
		})
	}
}

func TestResolve_FuzzyDisabled(t *testing.T) {
	c := New(directory(t), false)

	got, err := c.Resolve(context.Background(), models.Purchase{MerchantName: "Swiggy"})
	require.NoError(t, err)
	assert.Equal(t, models.CategoryUncategorized, got.Category)
}

func TestResolve_InvalidCategory(t *testing.T) {
	c := New(directory(t), true)

	_, err := c.Resolve(context.Background(), models.Purchase{Category: "spaceships"})
	assert.Error(t, err)
}

func TestResolve_FillsMerchantDetails(t *testing.T) {
	c := New(directory(t), true)

	got, err := c.Resolve(context.Background(), models.Purchase{MerchantID: "m-swiggy"})
	require.NoError(t, err)
	assert.Equal(t, "Swiggy", got.MerchantName)

	got, err = c.Resolve(context.Background(), models.Purchase{MerchantName: "swiggy"})
	require.NoError(t, err)
	assert.Equal(t, "m-swiggy", got.MerchantID)
}

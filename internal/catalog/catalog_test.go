package catalog

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestGet_KnownPack(t *testing.T) {
	pack, err := Get("medium")
	require.NoError(t, err)
	require.Equal(t, int64(5000), pack.Tokens)
	require.True(t, pack.Price.Equal(decimal.NewFromInt(450)))
}

func TestGet_UnknownPack(t *testing.T) {
	_, err := Get("mega")
	require.ErrorIs(t, err, ErrPackNotFound)
}

// Orders snapshot the pack at creation; mutating a returned pack must never
// leak back into the catalog.
func TestGet_ReturnsCopy(t *testing.T) {
	pack, err := Get("small")
	require.NoError(t, err)

	pack.Tokens = 999999
	pack.Price = decimal.NewFromInt(1)

	again, err := Get("small")
	require.NoError(t, err)
	require.Equal(t, int64(1000), again.Tokens)
	require.True(t, again.Price.Equal(decimal.NewFromInt(100)))
}

func TestAll_CheapestFirst(t *testing.T) {
	packs := All()
	require.Len(t, packs, 4)
	for i := 1; i < len(packs); i++ {
		require.True(t, packs[i-1].Price.LessThan(packs[i].Price),
			"packs must be ordered by price: %s before %s", packs[i-1].ID, packs[i].ID)
	}
}

package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpgradeCost(t *testing.T) {
	t.Parallel()

	coffee := Upgrade{ID: "coffee-machine", BaseCost: 10, Growth: 1.15}
	intern := Upgrade{ID: "intern", BaseCost: 50, Growth: 1.15}

	tests := []struct {
		name    string
		upgrade Upgrade
		owned   int
		want    float64
	}{
		{name: "first unit costs base", upgrade: coffee, owned: 0, want: 10},
		{name: "second unit", upgrade: coffee, owned: 1, want: 12},  // ceil(11.5)
		{name: "third unit", upgrade: coffee, owned: 2, want: 14},   // ceil(13.225)
		{name: "fourth intern", upgrade: intern, owned: 3, want: 77}, // ceil(76.04...)
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, UpgradeCost(tc.upgrade, tc.owned))
		})
	}
}

func TestUpgradeCost_Monotonic(t *testing.T) {
	t.Parallel()

	// Price never decreases as units accumulate, for every catalog entry.
	for _, u := range Catalog() {
		prev := 0.0
		for owned := range 10 {
			cost := UpgradeCost(u, owned)
			assert.GreaterOrEqual(t, cost, prev, "upgrade %q at %d owned", u.ID, owned)
			prev = cost
		}
	}
}

func TestUpgradeByID(t *testing.T) {
	t.Parallel()

	t.Run("known id", func(t *testing.T) {
		t.Parallel()
		u, ok := UpgradeByID("intern")
		require.True(t, ok)
		assert.Equal(t, "Intern", u.Name)
	})

	t.Run("unknown id", func(t *testing.T) {
		t.Parallel()
		_, ok := UpgradeByID("time-machine")
		assert.False(t, ok)
	})
}

func TestCatalog(t *testing.T) {
	t.Parallel()

	cat := Catalog()
	require.NotEmpty(t, cat)

	// Ids are unique and every entry is buyable.
	seen := make(map[string]bool, len(cat))
	for _, u := range cat {
		assert.False(t, seen[u.ID], "duplicate upgrade id %q", u.ID)
		seen[u.ID] = true
		assert.NotEmpty(t, u.Name)
		assert.Greater(t, u.BaseCost, 0.0)
		assert.Greater(t, u.RateBonus, 0.0)
		assert.Greater(t, u.Growth, 1.0)
	}

	// Catalog returns a copy; mutating it must not affect the source.
	cat[0].BaseCost = -1
	fresh := Catalog()
	assert.Greater(t, fresh[0].BaseCost, 0.0)
}

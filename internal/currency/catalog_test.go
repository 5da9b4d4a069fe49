package currency

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogLookup(t *testing.T) {
	catalog, err := DefaultCatalog()
	require.NoError(t, err)

	pkg, err := catalog.Lookup("package-2")
	require.NoError(t, err)
	require.Equal(t, Novoin(25), pkg.Coins)
	require.Equal(t, Novoin(2), pkg.Bonus)
	require.Equal(t, Novoin(27), pkg.TotalCoins())

	_, err = catalog.Lookup("nonexistent")
	require.ErrorIs(t, err, ErrUnknownPackage)
}

func TestDefaultCatalogInvariants(t *testing.T) {
	catalog, err := DefaultCatalog()
	require.NoError(t, err)
	require.NoError(t, catalog.Validate())

	rules, err := NewRules(DefaultRate)
	require.NoError(t, err)

	popular := 0
	for _, p := range catalog.Packages() {
		if p.IsPopular {
			popular++
		}
		coins, err := rules.RupiahToNovoin(p.Price)
		require.NoError(t, err)
		require.Equalf(t, p.Coins, coins, "package %s price does not match coins at the fixed rate", p.ID)
	}
	require.LessOrEqual(t, popular, 1)
}

func TestPackagesReturnsCopy(t *testing.T) {
	catalog, err := DefaultCatalog()
	require.NoError(t, err)

	pkgs := catalog.Packages()
	pkgs[0].Coins = 9999

	first, err := catalog.Lookup(pkgs[0].ID)
	require.NoError(t, err)
	require.NotEqual(t, Novoin(9999), first.Coins)
}

func TestNewCatalogValidation(t *testing.T) {
	cases := map[string][]Package{
		"empty":        {},
		"duplicate id": {{ID: "a", Coins: 1, Price: 1000}, {ID: "a", Coins: 2, Price: 2000}},
		"two popular": {
			{ID: "a", Coins: 1, Price: 1000, IsPopular: true},
			{ID: "b", Coins: 2, Price: 2000, IsPopular: true},
		},
		"zero coins":     {{ID: "a", Coins: 0, Price: 1000}},
		"negative bonus": {{ID: "a", Coins: 1, Price: 1000, Bonus: -1}},
		"missing id":     {{Coins: 1, Price: 1000}},
	}
	for name, pkgs := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewCatalog(pkgs)
			require.Error(t, err)
		})
	}
}

func TestLoadCatalogFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	raw := `[{"id":"starter","coins":5,"price":5000,"bonus":1,"is_popular":true}]`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	catalog, err := LoadCatalog(path)
	require.NoError(t, err)

	pkg, err := catalog.Lookup("starter")
	require.NoError(t, err)
	require.Equal(t, Novoin(6), pkg.TotalCoins())
	require.True(t, pkg.IsPopular)
}

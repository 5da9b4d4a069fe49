package currency

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
)

//go:embed catalog.json
var defaultCatalog []byte

// Package is a purchasable coin bundle.
type Package struct {
	ID        string `json:"id"`
	Coins     Novoin `json:"coins"`
	Price     Rupiah `json:"price"`
	Bonus     Novoin `json:"bonus"`
	IsPopular bool   `json:"is_popular"`
}

// TotalCoins returns coins plus bonus coins.
func (p Package) TotalCoins() Novoin {
	return p.Coins + p.Bonus
}

// Catalog is the ordered, read-only list of coin packages. Build it once at
// start-up and pass it to whoever needs it.
type Catalog struct {
	packages []Package
	index    map[string]int
}

// NewCatalog validates the packages and builds a catalog.
func NewCatalog(packages []Package) (*Catalog, error) {
	c := &Catalog{
		packages: append([]Package(nil), packages...),
		index:    make(map[string]int, len(packages)),
	}
	for i, p := range c.packages {
		c.index[p.ID] = i
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// DefaultCatalog returns the catalog shipped with the binary.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a JSON catalog from path. An empty path yields the default catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(raw)
}

// ParseCatalog decodes a JSON array of packages.
func ParseCatalog(raw []byte) (*Catalog, error) {
	var packages []Package
	if err := json.Unmarshal(raw, &packages); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return NewCatalog(packages)
}

// Lookup returns the package with the given id.
func (c *Catalog) Lookup(id string) (Package, error) {
	i, ok := c.index[id]
	if !ok {
		return Package{}, fmt.Errorf("package %q: %w", id, ErrUnknownPackage)
	}
	return c.packages[i], nil
}

// Packages returns a copy of the catalog in display order.
func (c *Catalog) Packages() []Package {
	return append([]Package(nil), c.packages...)
}

// Validate checks the catalog data invariants.
func (c *Catalog) Validate() error {
	if len(c.packages) == 0 {
		return fmt.Errorf("catalog is empty")
	}
	seen := make(map[string]struct{}, len(c.packages))
	popular := 0
	for _, p := range c.packages {
		if p.ID == "" {
			return fmt.Errorf("catalog package without id")
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("duplicate catalog package %q", p.ID)
		}
		seen[p.ID] = struct{}{}
		if p.Coins <= 0 || p.Price <= 0 || p.Bonus < 0 {
			return fmt.Errorf("package %q: %w", p.ID, ErrInvalidAmount)
		}
		if p.IsPopular {
			popular++
		}
	}
	if popular > 1 {
		return fmt.Errorf("catalog flags %d packages as popular, at most one allowed", popular)
	}
	return nil
}

package config

import (
	"fmt"

	"dscengine/crypto"
)

// Validate checks the deployment for mistakes the engine constructor would
// otherwise report with less context.
func (c *Config) Validate() error {
	d, err := c.Deployment()
	if err != nil {
		return err
	}
	if len(d.Collateral) == 0 {
		return fmt.Errorf("collateral: at least one asset required")
	}
	if d.Engine.Address == d.Engine.Stablecoin {
		return fmt.Errorf("stablecoin: address collides with engine address")
	}
	seenAssets := make(map[crypto.Address]string, len(d.Collateral))
	seenSymbols := make(map[string]struct{}, len(d.Collateral))
	for _, entry := range d.Collateral {
		if entry.Symbol == "" {
			return fmt.Errorf("collateral %s: symbol required", entry.Asset)
		}
		if _, dup := seenSymbols[entry.Symbol]; dup {
			return fmt.Errorf("collateral: duplicate symbol %s", entry.Symbol)
		}
		if prev, dup := seenAssets[entry.Asset]; dup {
			return fmt.Errorf("collateral: %s reuses the asset of %s", entry.Symbol, prev)
		}
		if entry.Asset == d.Engine.Stablecoin {
			return fmt.Errorf("collateral: %s cannot be the stablecoin", entry.Symbol)
		}
		seenSymbols[entry.Symbol] = struct{}{}
		seenAssets[entry.Asset] = entry.Symbol
	}
	for _, alloc := range d.Allocations {
		if _, ok := seenAssets[alloc.Asset]; !ok {
			return fmt.Errorf("genesis: %s allocates unregistered asset %s", alloc.Account, alloc.Asset)
		}
	}
	return nil
}

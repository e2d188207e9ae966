package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"golang.org/x/text/unicode/norm"

	dsccrypto "dscengine/crypto"
	"dscengine/native/dsc"
)

// ResolvedCollateral is a Collateral entry with parsed addresses.
type ResolvedCollateral struct {
	Symbol       string
	Asset        dsccrypto.Address
	Feed         dsccrypto.Address
	InitialPrice *big.Int
}

// ResolvedAllocation is an Allocation with parsed fields.
type ResolvedAllocation struct {
	Account dsccrypto.Address
	Asset   dsccrypto.Address
	Amount  *uint256.Int
}

// Deployment is the runtime view of a Config.
type Deployment struct {
	Engine          dsc.Config
	StablecoinOwner dsccrypto.Address
	Collateral      []ResolvedCollateral
	Allocations     []ResolvedAllocation
}

// normalizeSymbol folds compatibility forms (full-width letters, ligatures)
// so visually identical symbols compare equal.
func normalizeSymbol(symbol string) string {
	return strings.ToUpper(norm.NFKC.String(strings.TrimSpace(symbol)))
}

// Symbols maps each collateral asset to its configured symbol.
func (d Deployment) Symbols() map[dsccrypto.Address]string {
	out := make(map[dsccrypto.Address]string, len(d.Collateral))
	for _, c := range d.Collateral {
		out[c.Asset] = c.Symbol
	}
	return out
}

// Deployment parses every address and amount in the configuration.
func (c *Config) Deployment() (Deployment, error) {
	var d Deployment
	engine, err := dsccrypto.ParseAddress(c.EngineAddress)
	if err != nil {
		return d, fmt.Errorf("invalid EngineAddress: %w", err)
	}
	coin, err := dsccrypto.ParseAddress(c.Stablecoin.Address)
	if err != nil {
		return d, fmt.Errorf("invalid Stablecoin.Address: %w", err)
	}
	owner, err := dsccrypto.ParseAddress(c.Stablecoin.Owner)
	if err != nil {
		return d, fmt.Errorf("invalid Stablecoin.Owner: %w", err)
	}
	d.Engine = dsc.Config{Address: engine, Stablecoin: coin}
	d.StablecoinOwner = owner

	for i, entry := range c.Collateral {
		asset, err := dsccrypto.ParseAddress(entry.Asset)
		if err != nil {
			return d, fmt.Errorf("invalid Collateral[%d].Asset: %w", i, err)
		}
		feed, err := dsccrypto.ParseAddress(entry.Feed)
		if err != nil {
			return d, fmt.Errorf("invalid Collateral[%d].Feed: %w", i, err)
		}
		resolved := ResolvedCollateral{Symbol: normalizeSymbol(entry.Symbol), Asset: asset, Feed: feed}
		if strings.TrimSpace(entry.InitialPrice) != "" {
			price, ok := new(big.Int).SetString(strings.TrimSpace(entry.InitialPrice), 10)
			if !ok || price.Sign() <= 0 {
				return d, fmt.Errorf("invalid Collateral[%d].InitialPrice %q", i, entry.InitialPrice)
			}
			resolved.InitialPrice = price
		}
		d.Collateral = append(d.Collateral, resolved)
		d.Engine.CollateralAssets = append(d.Engine.CollateralAssets, asset)
		d.Engine.PriceFeeds = append(d.Engine.PriceFeeds, feed)
	}

	for i, entry := range c.Genesis {
		account, err := dsccrypto.ParseAddress(entry.Account)
		if err != nil {
			return d, fmt.Errorf("invalid Genesis[%d].Account: %w", i, err)
		}
		asset, err := dsccrypto.ParseAddress(entry.Asset)
		if err != nil {
			return d, fmt.Errorf("invalid Genesis[%d].Asset: %w", i, err)
		}
		amount, err := parseUintAmount(entry.Amount)
		if err != nil {
			return d, fmt.Errorf("invalid Genesis[%d].Amount: %w", i, err)
		}
		d.Allocations = append(d.Allocations, ResolvedAllocation{Account: account, Asset: asset, Amount: amount})
	}
	return d, nil
}

func parseUintAmount(value string) (*uint256.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

// derivedAddress returns a deterministic placeholder address for default
// local deployments.
func derivedAddress(label string) dsccrypto.Address {
	hash := crypto.Keccak256([]byte("dsc/" + label))
	return dsccrypto.BytesToAddress(hash[12:])
}

package dsc

import (
	"sort"

	"github.com/holiman/uint256"

	"dscengine/crypto"
)

// Position is the engine's record of one account: collateral held per asset
// and the debt minted against it. Positions are created on first use and
// never deleted.
type Position struct {
	Owner      crypto.Address
	Collateral map[crypto.Address]*uint256.Int
	DebtMinted *uint256.Int
}

func newPosition(owner crypto.Address) *Position {
	return &Position{
		Owner:      owner,
		Collateral: make(map[crypto.Address]*uint256.Int),
		DebtMinted: new(uint256.Int),
	}
}

// CollateralOf returns the deposited balance of asset.
func (p *Position) CollateralOf(asset crypto.Address) *uint256.Int {
	if p == nil || p.Collateral == nil {
		return new(uint256.Int)
	}
	return cloneAmount(p.Collateral[asset])
}

// Assets lists the assets with a non-zero balance in address order.
func (p *Position) Assets() []crypto.Address {
	if p == nil {
		return nil
	}
	out := make([]crypto.Address, 0, len(p.Collateral))
	for asset, amount := range p.Collateral {
		if isPositive(amount) {
			out = append(out, asset)
		}
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i][:]) < string(out[j][:]) })
	return out
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := newPosition(p.Owner)
	for asset, amount := range p.Collateral {
		clone.Collateral[asset] = cloneAmount(amount)
	}
	clone.DebtMinted = cloneAmount(p.DebtMinted)
	return clone
}

func (p *Position) ensureDefaults() {
	if p.Collateral == nil {
		p.Collateral = make(map[crypto.Address]*uint256.Int)
	}
	if p.DebtMinted == nil {
		p.DebtMinted = new(uint256.Int)
	}
}

// AccountInformation is the pair the health factor is computed from.
type AccountInformation struct {
	DebtMinted         *uint256.Int
	CollateralValueUSD *uint256.Int
}

// LiquidationResult describes a completed liquidation.
type LiquidationResult struct {
	Account              crypto.Address
	Asset                crypto.Address
	DebtCovered          *uint256.Int
	CollateralSeized     *uint256.Int
	Bonus                *uint256.Int
	StartingHealthFactor *uint256.Int
	EndingHealthFactor   *uint256.Int
}

// Candidate is an account currently eligible for liquidation.
type Candidate struct {
	Account      crypto.Address
	HealthFactor *uint256.Int
	Information  AccountInformation
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

package dsc

import (
	"github.com/holiman/uint256"

	"dscengine/crypto"
)

// Read-only views observe committed state only.

func (e *Engine) committedPosition(owner crypto.Address) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	pos, err := e.state.Position(owner)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		pos = newPosition(owner)
	}
	pos.ensureDefaults()
	return pos, nil
}

// CollateralBalanceOf returns owner's deposited balance of asset.
func (e *Engine) CollateralBalanceOf(owner, asset crypto.Address) (*uint256.Int, error) {
	pos, err := e.committedPosition(owner)
	if err != nil {
		return nil, err
	}
	return pos.CollateralOf(asset), nil
}

// DSCMinted returns owner's outstanding debt.
func (e *Engine) DSCMinted(owner crypto.Address) (*uint256.Int, error) {
	pos, err := e.committedPosition(owner)
	if err != nil {
		return nil, err
	}
	return cloneAmount(pos.DebtMinted), nil
}

// Position returns a copy of owner's committed position.
func (e *Engine) Position(owner crypto.Address) (*Position, error) {
	return e.committedPosition(owner)
}

// AccountInformation returns owner's debt and total collateral value.
func (e *Engine) AccountInformation(owner crypto.Address) (AccountInformation, error) {
	pos, err := e.committedPosition(owner)
	if err != nil {
		return AccountInformation{}, err
	}
	return e.accountInformation(pos)
}

// AccountCollateralValue returns the USD value of everything owner deposited.
func (e *Engine) AccountCollateralValue(owner crypto.Address) (*uint256.Int, error) {
	pos, err := e.committedPosition(owner)
	if err != nil {
		return nil, err
	}
	return e.collateralValue(pos)
}

// HealthFactor returns owner's current health factor.
func (e *Engine) HealthFactor(owner crypto.Address) (*uint256.Int, error) {
	pos, err := e.committedPosition(owner)
	if err != nil {
		return nil, err
	}
	return e.healthFactorOf(pos)
}

// UsdValue prices amount of asset at the live feed price.
func (e *Engine) UsdValue(asset crypto.Address, amount *uint256.Int) (*uint256.Int, error) {
	quote, err := e.quote(asset)
	if err != nil {
		return nil, err
	}
	return UsdValue(quote.Price, amount)
}

// TokenAmountFromUSD converts a USD amount into units of asset at the live
// feed price.
func (e *Engine) TokenAmountFromUSD(asset crypto.Address, usdAmount *uint256.Int) (*uint256.Int, error) {
	quote, err := e.quote(asset)
	if err != nil {
		return nil, err
	}
	return TokenAmountFromUSD(quote.Price, usdAmount)
}

// CalculateHealthFactor exposes the pure health factor formula.
func (e *Engine) CalculateHealthFactor(debtMinted, collateralValueUSD *uint256.Int) (*uint256.Int, error) {
	return CalculateHealthFactor(debtMinted, collateralValueUSD)
}

// CollateralTokens returns the registered assets in registration order.
func (e *Engine) CollateralTokens() []crypto.Address {
	out := make([]crypto.Address, len(e.assets))
	copy(out, e.assets)
	return out
}

// CollateralTokenPriceFeed returns the feed registered for asset.
func (e *Engine) CollateralTokenPriceFeed(asset crypto.Address) (crypto.Address, bool) {
	feed, ok := e.feeds[asset]
	return feed, ok
}

// Address returns the engine's custody address.
func (e *Engine) Address() crypto.Address { return e.address }

// StablecoinAddress returns the asset address of the synthetic token.
func (e *Engine) StablecoinAddress() crypto.Address { return e.stable.Address() }

// Accounts lists every account that has ever interacted with the engine.
func (e *Engine) Accounts() ([]crypto.Address, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.state.Owners()
}

// LiquidationCandidates returns every account with debt whose health factor
// is below the minimum, in address order.
func (e *Engine) LiquidationCandidates() ([]Candidate, error) {
	owners, err := e.Accounts()
	if err != nil {
		return nil, err
	}
	var out []Candidate
	for _, owner := range owners {
		pos, err := e.committedPosition(owner)
		if err != nil {
			return nil, err
		}
		if pos.DebtMinted.IsZero() {
			continue
		}
		info, err := e.accountInformation(pos)
		if err != nil {
			return nil, err
		}
		hf, err := CalculateHealthFactor(info.DebtMinted, info.CollateralValueUSD)
		if err != nil {
			return nil, err
		}
		if hf.Lt(minHealthFactor) {
			out = append(out, Candidate{Account: owner, HealthFactor: hf, Information: info})
		}
	}
	return out, nil
}

// Constant getters.

func (e *Engine) LiquidationThreshold() uint64 { return LiquidationThreshold }
func (e *Engine) LiquidationBonus() uint64     { return LiquidationBonus }
func (e *Engine) LiquidationPrecision() uint64 { return LiquidationPrecision }
func (e *Engine) Precision() *uint256.Int      { return Precision() }
func (e *Engine) AdditionalFeedPrecision() *uint256.Int {
	return AdditionalFeedPrecision()
}
func (e *Engine) MinHealthFactor() *uint256.Int { return MinHealthFactor() }

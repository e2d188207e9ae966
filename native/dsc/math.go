package dsc

import "github.com/holiman/uint256"

// mulDiv computes a*b/c with floor rounding, trapping overflow of the
// intermediate product.
func mulDiv(a, b, c *uint256.Int) (*uint256.Int, error) {
	if c.IsZero() {
		return nil, ErrMathOverflow
	}
	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrMathOverflow
	}
	return product.Div(product, c), nil
}

func checkedAdd(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrMathOverflow
	}
	return sum, nil
}

// UsdValue converts amount units of an asset priced at price (8 decimals) into
// an 18-decimal USD value.
func UsdValue(price, amount *uint256.Int) (*uint256.Int, error) {
	if price == nil || price.IsZero() {
		return nil, ErrInvalidPrice
	}
	scaled, overflow := new(uint256.Int).MulOverflow(price, additionalFeedPrecision)
	if overflow {
		return nil, ErrMathOverflow
	}
	return mulDiv(scaled, amountOrZero(amount), precision)
}

// TokenAmountFromUSD is the inverse of UsdValue.
func TokenAmountFromUSD(price, usdAmount *uint256.Int) (*uint256.Int, error) {
	if price == nil || price.IsZero() {
		return nil, ErrInvalidPrice
	}
	scaled, overflow := new(uint256.Int).MulOverflow(price, additionalFeedPrecision)
	if overflow {
		return nil, ErrMathOverflow
	}
	return mulDiv(amountOrZero(usdAmount), precision, scaled)
}

// CalculateHealthFactor returns the fixed-point ratio of threshold-adjusted
// collateral value to debt. Accounts without debt report the maximum value.
func CalculateHealthFactor(debtMinted, collateralValueUSD *uint256.Int) (*uint256.Int, error) {
	if debtMinted == nil || debtMinted.IsZero() {
		return MaxHealthFactor(), nil
	}
	adjusted, err := mulDiv(amountOrZero(collateralValueUSD), liquidationThreshold, liquidationPrecision)
	if err != nil {
		return nil, err
	}
	return mulDiv(adjusted, precision, debtMinted)
}

// LiquidationBonusFor returns the bonus paid on top of amount.
func LiquidationBonusFor(amount *uint256.Int) (*uint256.Int, error) {
	return mulDiv(amountOrZero(amount), liquidationBonus, liquidationPrecision)
}

// SeizeAmounts breaks down the collateral owed to a liquidator repaying
// debtToCover against an asset priced at price.
type SeizeAmounts struct {
	TokenAmount *uint256.Int
	Bonus       *uint256.Int
	Total       *uint256.Int
}

// TotalCollateralToRedeem computes the collateral equivalent of debtToCover
// plus the liquidation bonus.
func TotalCollateralToRedeem(price, debtToCover *uint256.Int) (SeizeAmounts, error) {
	tokenAmount, err := TokenAmountFromUSD(price, debtToCover)
	if err != nil {
		return SeizeAmounts{}, err
	}
	bonus, err := LiquidationBonusFor(tokenAmount)
	if err != nil {
		return SeizeAmounts{}, err
	}
	total, err := checkedAdd(tokenAmount, bonus)
	if err != nil {
		return SeizeAmounts{}, err
	}
	return SeizeAmounts{TokenAmount: tokenAmount, Bonus: bonus, Total: total}, nil
}

func amountOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

func isPositive(v *uint256.Int) bool {
	return v != nil && !v.IsZero()
}

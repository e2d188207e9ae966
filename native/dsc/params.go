package dsc

import (
	"time"

	"github.com/holiman/uint256"
)

// Fixed-point conventions. Prices arrive with FeedDecimals fractional digits
// and are lifted to 18 decimals with AdditionalFeedPrecision before any
// multiplication against token amounts.
const (
	LiquidationThreshold = 50
	LiquidationBonus     = 10
	LiquidationPrecision = 100
	FeedDecimals         = 8

	// StalePriceTimeout bounds the age of any price quote the engine will act on.
	StalePriceTimeout = 3 * time.Hour
)

var (
	precision               = uint256.NewInt(1_000_000_000_000_000_000)
	additionalFeedPrecision = uint256.NewInt(10_000_000_000)
	feedPrecision           = uint256.NewInt(100_000_000)
	minHealthFactor         = uint256.NewInt(1_000_000_000_000_000_000)
	maxHealthFactor         = new(uint256.Int).SetAllOne()

	liquidationThreshold = uint256.NewInt(LiquidationThreshold)
	liquidationBonus     = uint256.NewInt(LiquidationBonus)
	liquidationPrecision = uint256.NewInt(LiquidationPrecision)
)

// Precision returns the 18-decimal fixed-point unit.
func Precision() *uint256.Int { return new(uint256.Int).Set(precision) }

// AdditionalFeedPrecision returns the factor lifting 8-decimal feed prices to 18 decimals.
func AdditionalFeedPrecision() *uint256.Int { return new(uint256.Int).Set(additionalFeedPrecision) }

// FeedPrecision returns the fixed-point unit of raw feed answers.
func FeedPrecision() *uint256.Int { return new(uint256.Int).Set(feedPrecision) }

// MinHealthFactor returns the fixed-point 1.0 boundary below which an account
// may be liquidated.
func MinHealthFactor() *uint256.Int { return new(uint256.Int).Set(minHealthFactor) }

// MaxHealthFactor returns the value reported for accounts without debt.
func MaxHealthFactor() *uint256.Int { return new(uint256.Int).Set(maxHealthFactor) }

package dsc

import (
	"fmt"
	"math/big"
	"time"

	"github.com/holiman/uint256"
)

// RoundData is a single answer reported by a price feed. Answer carries
// FeedDecimals fractional digits and is signed because upstream feeds are.
type RoundData struct {
	RoundID         uint64
	Answer          *big.Int
	StartedAt       time.Time
	UpdatedAt       time.Time
	AnsweredInRound uint64
}

// PriceSource is the external feed backing one collateral asset.
type PriceSource interface {
	LatestRoundData() (RoundData, error)
}

// PriceSourceFunc adapts a function to PriceSource.
type PriceSourceFunc func() (RoundData, error)

// LatestRoundData implements PriceSource.
func (f PriceSourceFunc) LatestRoundData() (RoundData, error) { return f() }

// Quote is a validated price ready for arithmetic.
type Quote struct {
	Price     *uint256.Int
	UpdatedAt time.Time
	RoundID   uint64
}

// OracleAdapter enforces freshness on every read of a price source. Quotes
// older than Timeout are rejected rather than used.
type OracleAdapter struct {
	Timeout time.Duration
	Now     func() time.Time
}

// NewOracleAdapter returns an adapter with the standard staleness window.
func NewOracleAdapter(now func() time.Time) OracleAdapter {
	if now == nil {
		now = time.Now
	}
	return OracleAdapter{Timeout: StalePriceTimeout, Now: now}
}

// StaleCheckLatestRoundData reads the latest round and validates its age and
// sign.
func (o OracleAdapter) StaleCheckLatestRoundData(source PriceSource) (Quote, error) {
	if source == nil {
		return Quote{}, ErrFeedNotConfigured
	}
	round, err := source.LatestRoundData()
	if err != nil {
		return Quote{}, fmt.Errorf("read price feed: %w", err)
	}
	now := time.Now
	if o.Now != nil {
		now = o.Now
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = StalePriceTimeout
	}
	secondsSince := now().Sub(round.UpdatedAt)
	if secondsSince < 0 {
		secondsSince = 0
	}
	if secondsSince > timeout {
		return Quote{}, fmt.Errorf("%w: round %d updated %s ago", ErrStalePrice, round.RoundID, secondsSince.Truncate(time.Second))
	}
	if round.Answer == nil || round.Answer.Sign() <= 0 {
		return Quote{}, ErrInvalidPrice
	}
	price, overflow := uint256.FromBig(round.Answer)
	if overflow {
		return Quote{}, ErrInvalidPrice
	}
	return Quote{Price: price, UpdatedAt: round.UpdatedAt, RoundID: round.RoundID}, nil
}

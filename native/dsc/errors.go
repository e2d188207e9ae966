package dsc

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"dscengine/crypto"
)

var (
	ErrAmountMustBeMoreThanZero  = errors.New("dsc engine: amount must be more than zero")
	ErrArraysMustBeSameLength    = errors.New("dsc engine: collateral assets and price feeds must be the same length")
	ErrTokenNotAllowed           = errors.New("dsc engine: token not allowed")
	ErrTransferFailed            = errors.New("dsc engine: transfer failed")
	ErrMintFailed                = errors.New("dsc engine: mint failed")
	ErrBreaksHealthFactor        = errors.New("dsc engine: breaks health factor")
	ErrHealthFactorNotBroken     = errors.New("dsc engine: health factor not broken")
	ErrHealthFactorNotImproved   = errors.New("dsc engine: health factor not improved")
	ErrInsufficientBalanceToBurn = errors.New("dsc engine: insufficient debt to burn")
	ErrStalePrice                = errors.New("dsc engine: stale price")

	ErrInsufficientCollateral = errors.New("dsc engine: insufficient collateral")
	ErrReentrantCall          = errors.New("dsc engine: reentrant call")
	ErrMathOverflow           = errors.New("dsc engine: arithmetic overflow")
	ErrInvalidPrice           = errors.New("dsc engine: invalid price")
	ErrFeedNotConfigured      = errors.New("dsc engine: price feed not configured")
	ErrNilState               = errors.New("dsc engine: state not configured")
	ErrZeroAddress            = errors.New("dsc engine: zero address")
	ErrDuplicateAsset         = errors.New("dsc engine: duplicate collateral asset")
	ErrStablecoinMismatch     = errors.New("dsc engine: stablecoin controller address mismatch")
)

// HealthFactorError reports the account and value that failed the minimum
// health factor check. It unwraps to ErrBreaksHealthFactor.
type HealthFactorError struct {
	Account      crypto.Address
	HealthFactor *uint256.Int
}

func (e *HealthFactorError) Error() string {
	return fmt.Sprintf("%s: account %s health factor %s", ErrBreaksHealthFactor, e.Account, e.HealthFactor.Dec())
}

func (e *HealthFactorError) Unwrap() error { return ErrBreaksHealthFactor }

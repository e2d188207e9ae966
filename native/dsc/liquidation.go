package dsc

import (
	"github.com/holiman/uint256"

	"dscengine/core/events"
	"dscengine/crypto"
)

// Liquidate repays debtToCover of account's debt with caller's stablecoins and
// pays caller the equivalent amount of asset plus LiquidationBonus percent.
// The account must be below the minimum health factor beforehand and strictly
// healthier afterwards, and the caller must remain healthy.
//
// Seizing more of asset than account holds fails the whole liquidation with
// ErrInsufficientCollateral; the seized amount is never clamped. Repayment may
// be partial and nothing limits it to the amount needed to restore solvency.
func (e *Engine) Liquidate(caller, asset, account crypto.Address, debtToCover *uint256.Int) (*LiquidationResult, error) {
	var result *LiquidationResult
	err := e.execute(func(tx *engineTx) error {
		res, err := e.liquidate(tx, caller, asset, account, debtToCover)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) liquidate(tx *engineTx, caller, asset, account crypto.Address, debtToCover *uint256.Int) (*LiquidationResult, error) {
	if !isPositive(debtToCover) {
		return nil, ErrAmountMustBeMoreThanZero
	}
	if !e.isAllowed(asset) {
		return nil, ErrTokenNotAllowed
	}

	target, err := tx.position(account)
	if err != nil {
		return nil, err
	}
	startingHF, err := e.healthFactorOf(target)
	if err != nil {
		return nil, err
	}
	if !startingHF.Lt(minHealthFactor) {
		return nil, ErrHealthFactorNotBroken
	}

	quote, err := e.quote(asset)
	if err != nil {
		return nil, err
	}
	seize, err := TotalCollateralToRedeem(quote.Price, debtToCover)
	if err != nil {
		return nil, err
	}

	if err := e.withdrawCollateral(tx, account, caller, asset, seize.Total); err != nil {
		return nil, err
	}
	if err := e.burnDebt(tx, debtToCover, account, caller); err != nil {
		return nil, err
	}

	endingHF, err := e.healthFactorOf(target)
	if err != nil {
		return nil, err
	}
	if !endingHF.Gt(startingHF) {
		return nil, ErrHealthFactorNotImproved
	}
	if err := e.requireHealthy(tx, caller); err != nil {
		return nil, err
	}

	tx.emit(events.Liquidated{
		Liquidator:       caller,
		Account:          account,
		Asset:            asset,
		DebtCovered:      cloneAmount(debtToCover),
		CollateralSeized: cloneAmount(seize.Total),
	})
	return &LiquidationResult{
		Account:              account,
		Asset:                asset,
		DebtCovered:          cloneAmount(debtToCover),
		CollateralSeized:     seize.Total,
		Bonus:                seize.Bonus,
		StartingHealthFactor: startingHF,
		EndingHealthFactor:   endingHF,
	}, nil
}

package dsc

import (
	"fmt"

	"github.com/holiman/uint256"

	"dscengine/core/events"
	"dscengine/crypto"
)

// TokenLedger is the fungible-asset transfer capability the engine relies on
// for both collateral assets and the stablecoin. It must be journaled so the
// engine can undo every movement of a failed operation.
type TokenLedger interface {
	Transfer(asset, from, to crypto.Address, amount *uint256.Int) error
	TransferFrom(asset, spender, owner, recipient crypto.Address, amount *uint256.Int) error
	Snapshot() int
	RevertToSnapshot(revid int) error
	Finalise()
}

// StableController mints and burns the synthetic token. The engine must be
// its sole authority.
type StableController interface {
	Address() crypto.Address
	Mint(caller, to crypto.Address, amount *uint256.Int) (bool, error)
	Burn(caller crypto.Address, amount *uint256.Int) error
}

// depositCollateral credits amount of asset to account and pulls the tokens
// into engine custody.
func (e *Engine) depositCollateral(tx *engineTx, account, asset crypto.Address, amount *uint256.Int) error {
	if !isPositive(amount) {
		return ErrAmountMustBeMoreThanZero
	}
	if !e.isAllowed(asset) {
		return ErrTokenNotAllowed
	}
	pos, err := tx.position(account)
	if err != nil {
		return err
	}
	balance, err := checkedAdd(pos.CollateralOf(asset), amount)
	if err != nil {
		return err
	}
	pos.Collateral[asset] = balance
	tx.emit(events.CollateralDeposited{Account: account, Asset: asset, Amount: cloneAmount(amount)})

	if err := e.tokens.TransferFrom(asset, e.address, account, e.address, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}

// withdrawCollateral debits amount of asset from one account and releases the
// tokens to another. from and to differ when a liquidator seizes collateral.
func (e *Engine) withdrawCollateral(tx *engineTx, from, to, asset crypto.Address, amount *uint256.Int) error {
	if !isPositive(amount) {
		return ErrAmountMustBeMoreThanZero
	}
	pos, err := tx.position(from)
	if err != nil {
		return err
	}
	balance := pos.CollateralOf(asset)
	if balance.Lt(amount) {
		return fmt.Errorf("%w: holds %s of %s, requested %s", ErrInsufficientCollateral, balance.Dec(), asset, amount.Dec())
	}
	pos.Collateral[asset] = balance.Sub(balance, amount)
	tx.emit(events.CollateralRedeemed{From: from, To: to, Asset: asset, Amount: cloneAmount(amount)})

	if err := e.tokens.Transfer(asset, e.address, to, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}

// mintDebt records amount of new debt for account and mints the stablecoin to
// its wallet.
func (e *Engine) mintDebt(tx *engineTx, account crypto.Address, amount *uint256.Int) error {
	if !isPositive(amount) {
		return ErrAmountMustBeMoreThanZero
	}
	pos, err := tx.position(account)
	if err != nil {
		return err
	}
	debt, err := checkedAdd(pos.DebtMinted, amount)
	if err != nil {
		return err
	}
	pos.DebtMinted = debt
	tx.emit(events.DSCMinted{Account: account, Amount: cloneAmount(amount)})

	minted, err := e.stable.Mint(e.address, account, amount)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMintFailed, err)
	}
	if !minted {
		return ErrMintFailed
	}
	return nil
}

// burnDebt retires amount of onBehalfOf's debt using stablecoins pulled from
// payer.
func (e *Engine) burnDebt(tx *engineTx, amount *uint256.Int, onBehalfOf, payer crypto.Address) error {
	if !isPositive(amount) {
		return ErrAmountMustBeMoreThanZero
	}
	pos, err := tx.position(onBehalfOf)
	if err != nil {
		return err
	}
	if pos.DebtMinted.Lt(amount) {
		return fmt.Errorf("%w: debt %s, requested %s", ErrInsufficientBalanceToBurn, pos.DebtMinted.Dec(), amount.Dec())
	}
	pos.DebtMinted = new(uint256.Int).Sub(pos.DebtMinted, amount)
	tx.emit(events.DSCBurned{OnBehalfOf: onBehalfOf, Payer: payer, Amount: cloneAmount(amount)})

	if err := e.tokens.TransferFrom(e.stable.Address(), e.address, payer, e.address, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	if err := e.stable.Burn(e.address, amount); err != nil {
		return fmt.Errorf("burn stablecoin: %w", err)
	}
	return nil
}

// collateralValue sums the USD value of every registered asset held in pos.
func (e *Engine) collateralValue(pos *Position) (*uint256.Int, error) {
	total := new(uint256.Int)
	for _, asset := range e.assets {
		amount := pos.CollateralOf(asset)
		quote, err := e.quote(asset)
		if err != nil {
			return nil, err
		}
		value, err := UsdValue(quote.Price, amount)
		if err != nil {
			return nil, err
		}
		if total, err = checkedAdd(total, value); err != nil {
			return nil, err
		}
	}
	return total, nil
}

func (e *Engine) accountInformation(pos *Position) (AccountInformation, error) {
	value, err := e.collateralValue(pos)
	if err != nil {
		return AccountInformation{}, err
	}
	return AccountInformation{DebtMinted: cloneAmount(pos.DebtMinted), CollateralValueUSD: value}, nil
}

func (e *Engine) healthFactorOf(pos *Position) (*uint256.Int, error) {
	info, err := e.accountInformation(pos)
	if err != nil {
		return nil, err
	}
	return CalculateHealthFactor(info.DebtMinted, info.CollateralValueUSD)
}

// requireHealthy fails the transaction when account's working position is
// below the minimum health factor.
func (e *Engine) requireHealthy(tx *engineTx, account crypto.Address) error {
	pos, err := tx.position(account)
	if err != nil {
		return err
	}
	hf, err := e.healthFactorOf(pos)
	if err != nil {
		return err
	}
	if hf.Lt(minHealthFactor) {
		return &HealthFactorError{Account: account, HealthFactor: hf}
	}
	return nil
}

package node

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/holiman/uint256"

	"dscengine/crypto"
	"dscengine/native/dsc"
	"dscengine/native/token"
	"dscengine/services/dscd/feeds"
)

// Operation names used in metrics and logs.
const (
	OpDeposit          = "deposit_collateral"
	OpRedeem           = "redeem_collateral"
	OpMint             = "mint_dsc"
	OpBurn             = "burn_dsc"
	OpDepositAndMint   = "deposit_collateral_and_mint_dsc"
	OpRedeemForDSC     = "redeem_collateral_for_dsc"
	OpLiquidate        = "liquidate"
	OpApprove          = "approve"
	OpPushRound        = "push_round"
	opScanLiquidations = "scan_liquidations"
)

// execute runs one engine mutation under the write lock and records its
// outcome.
func (n *Node) execute(op string, caller crypto.Address, fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	start := time.Now()
	err := fn()
	n.metrics.Observe(op, time.Since(start), err)
	if err != nil {
		n.logger.Info("operation rejected", "operation", op, "account", caller.String(), "error", err)
		return err
	}
	n.metrics.SetSupply(n.coin.TotalSupply().ToBig())
	n.logger.Debug("operation applied", "operation", op, "account", caller.String())
	return nil
}

// DepositCollateral moves collateral from caller into engine custody.
func (n *Node) DepositCollateral(caller, asset crypto.Address, amount *uint256.Int) error {
	return n.execute(OpDeposit, caller, func() error {
		return n.engine.DepositCollateral(caller, asset, amount)
	})
}

// RedeemCollateral returns collateral to caller.
func (n *Node) RedeemCollateral(caller, asset crypto.Address, amount *uint256.Int) error {
	return n.execute(OpRedeem, caller, func() error {
		return n.engine.RedeemCollateral(caller, asset, amount)
	})
}

// MintDSC issues new stablecoin against caller's collateral.
func (n *Node) MintDSC(caller crypto.Address, amount *uint256.Int) error {
	return n.execute(OpMint, caller, func() error {
		return n.engine.MintDSC(caller, amount)
	})
}

// BurnDSC retires caller's debt.
func (n *Node) BurnDSC(caller crypto.Address, amount *uint256.Int) error {
	return n.execute(OpBurn, caller, func() error {
		return n.engine.BurnDSC(caller, amount)
	})
}

// DepositCollateralAndMintDSC opens or extends a position in one step.
func (n *Node) DepositCollateralAndMintDSC(caller, asset crypto.Address, collateral, debt *uint256.Int) error {
	return n.execute(OpDepositAndMint, caller, func() error {
		return n.engine.DepositCollateralAndMintDSC(caller, asset, collateral, debt)
	})
}

// RedeemCollateralForDSC burns debt and withdraws collateral in one step.
func (n *Node) RedeemCollateralForDSC(caller, asset crypto.Address, collateral, debt *uint256.Int) error {
	return n.execute(OpRedeemForDSC, caller, func() error {
		return n.engine.RedeemCollateralForDSC(caller, asset, collateral, debt)
	})
}

// Liquidate covers part of account's debt and seizes discounted collateral.
func (n *Node) Liquidate(caller, asset, account crypto.Address, debtToCover *uint256.Int) (*dsc.LiquidationResult, error) {
	var result *dsc.LiquidationResult
	err := n.execute(OpLiquidate, caller, func() error {
		var err error
		result, err = n.engine.Liquidate(caller, asset, account, debtToCover)
		return err
	})
	if err != nil {
		return nil, err
	}
	n.metrics.RecordLiquidation(n.Symbol(asset))
	n.logger.Info("account liquidated",
		"account", account.String(),
		"liquidator", caller.String(),
		"asset", n.Symbol(asset),
		"debtCovered", result.DebtCovered.Dec(),
		"collateralSeized", result.CollateralSeized.Dec())
	return result, nil
}

// Approve sets spender's allowance over caller's balance of asset. A nil
// spender approves the engine.
func (n *Node) Approve(caller, asset crypto.Address, spender *crypto.Address, amount *uint256.Int) error {
	if !n.knownAsset(asset) {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	target := n.engine.Address()
	if spender != nil {
		target = *spender
	}
	return n.execute(OpApprove, caller, func() error {
		snap := n.ledger.Snapshot()
		if err := n.ledger.Approve(asset, caller, target, amount); err != nil {
			_ = n.ledger.RevertToSnapshot(snap)
			return err
		}
		if err := n.store.SaveLedger(n.ledger.Export()); err != nil {
			if rerr := n.ledger.RevertToSnapshot(snap); rerr != nil {
				return errors.Join(err, rerr)
			}
			return err
		}
		n.ledger.Finalise()
		return nil
	})
}

// PushRound publishes a new answer on a price feed. Answers carry
// dsc.FeedDecimals fractional digits.
func (n *Node) PushRound(feed crypto.Address, answer *big.Int, updatedAt time.Time) (dsc.RoundData, error) {
	start := time.Now()
	round, err := n.feeds.Push(feed, answer, updatedAt)
	n.metrics.Observe(OpPushRound, time.Since(start), err)
	if err != nil {
		return dsc.RoundData{}, err
	}
	n.logger.Info("price round pushed", "feed", feed.String(), "round", round.RoundID, "answer", round.Answer.String())
	return round, nil
}

// Feed returns a registered price feed.
func (n *Node) Feed(address crypto.Address) (*feeds.Feed, error) {
	return n.feeds.Get(address)
}

func (n *Node) knownAsset(asset crypto.Address) bool {
	if asset == n.coin.Address() {
		return true
	}
	_, ok := n.engine.CollateralTokenPriceFeed(asset)
	return ok
}

// BalanceOf returns holder's balance of a collateral asset or the stablecoin.
func (n *Node) BalanceOf(asset, holder crypto.Address) (*uint256.Int, error) {
	if !n.knownAsset(asset) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ledger.BalanceOf(asset, holder), nil
}

// Allowance returns spender's allowance over owner's balance of asset.
func (n *Node) Allowance(asset, owner, spender crypto.Address) *uint256.Int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ledger.Allowance(asset, owner, spender)
}

// TotalSupply returns the outstanding supply of asset.
func (n *Node) TotalSupply(asset crypto.Address) *uint256.Int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ledger.TotalSupply(asset)
}

// MaxAllowance is the sentinel for an unlimited approval.
func MaxAllowance() *uint256.Int { return token.MaxAllowance() }

package dsc

import (
	"sync/atomic"
	"time"

	"github.com/holiman/uint256"

	"dscengine/core/events"
	"dscengine/crypto"
)

// Config describes a deployment. CollateralAssets[i] is priced by
// PriceFeeds[i]; the order is kept for enumeration.
type Config struct {
	Address          crypto.Address
	CollateralAssets []crypto.Address
	PriceFeeds       []crypto.Address
	Stablecoin       crypto.Address
}

// Dependencies are the collaborators the engine drives. Sources maps each
// price feed address to its reader.
type Dependencies struct {
	State      State
	Tokens     TokenLedger
	Stablecoin StableController
	Sources    map[crypto.Address]PriceSource
	Emitter    events.Emitter
	Clock      func() time.Time
}

// Engine orchestrates collateral deposits, debt issuance and liquidations,
// enforcing the minimum health factor after every mutation. Operations are
// atomic: any failure leaves positions, token balances and events exactly as
// they were before the call.
type Engine struct {
	address crypto.Address
	assets  []crypto.Address
	feeds   map[crypto.Address]crypto.Address
	sources map[crypto.Address]PriceSource

	state   State
	tokens  TokenLedger
	stable  StableController
	emitter events.Emitter
	oracle  OracleAdapter

	entered atomic.Bool
}

// NewEngine validates cfg and wires the engine to its collaborators.
func NewEngine(cfg Config, deps Dependencies) (*Engine, error) {
	if len(cfg.CollateralAssets) != len(cfg.PriceFeeds) {
		return nil, ErrArraysMustBeSameLength
	}
	if cfg.Address.IsZero() || cfg.Stablecoin.IsZero() {
		return nil, ErrZeroAddress
	}
	if deps.State == nil || deps.Tokens == nil || deps.Stablecoin == nil {
		return nil, ErrNilState
	}
	if deps.Stablecoin.Address() != cfg.Stablecoin {
		return nil, ErrStablecoinMismatch
	}

	e := &Engine{
		address: cfg.Address,
		assets:  make([]crypto.Address, 0, len(cfg.CollateralAssets)),
		feeds:   make(map[crypto.Address]crypto.Address, len(cfg.CollateralAssets)),
		sources: make(map[crypto.Address]PriceSource, len(cfg.PriceFeeds)),
		state:   deps.State,
		tokens:  deps.Tokens,
		stable:  deps.Stablecoin,
		emitter: deps.Emitter,
		oracle:  NewOracleAdapter(deps.Clock),
	}
	if e.emitter == nil {
		e.emitter = events.NoopEmitter{}
	}
	for i, asset := range cfg.CollateralAssets {
		feed := cfg.PriceFeeds[i]
		if asset.IsZero() || feed.IsZero() {
			return nil, ErrZeroAddress
		}
		if _, dup := e.feeds[asset]; dup {
			return nil, ErrDuplicateAsset
		}
		source, ok := deps.Sources[feed]
		if !ok || source == nil {
			return nil, ErrFeedNotConfigured
		}
		e.assets = append(e.assets, asset)
		e.feeds[asset] = feed
		e.sources[feed] = source
	}
	return e, nil
}

// execute runs fn as one atomic, non-reentrant operation.
func (e *Engine) execute(fn func(tx *engineTx) error) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if !e.entered.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	defer e.entered.Store(false)

	tx := newEngineTx(e.state, e.tokens)
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return tx.commit(e.emitter)
}

// DepositCollateral moves amount of asset from caller into engine custody.
func (e *Engine) DepositCollateral(caller, asset crypto.Address, amount *uint256.Int) error {
	return e.execute(func(tx *engineTx) error {
		return e.depositCollateral(tx, caller, asset, amount)
	})
}

// MintDSC issues amount of debt to caller provided the resulting position
// stays above the minimum health factor.
func (e *Engine) MintDSC(caller crypto.Address, amount *uint256.Int) error {
	return e.execute(func(tx *engineTx) error {
		if err := e.mintDebt(tx, caller, amount); err != nil {
			return err
		}
		return e.requireHealthy(tx, caller)
	})
}

// DepositCollateralAndMintDSC deposits collateral and mints debt in one step.
func (e *Engine) DepositCollateralAndMintDSC(caller, asset crypto.Address, amountCollateral, amountDSC *uint256.Int) error {
	return e.execute(func(tx *engineTx) error {
		if err := e.depositCollateral(tx, caller, asset, amountCollateral); err != nil {
			return err
		}
		if err := e.mintDebt(tx, caller, amountDSC); err != nil {
			return err
		}
		return e.requireHealthy(tx, caller)
	})
}

// RedeemCollateral returns amount of asset from custody to caller.
func (e *Engine) RedeemCollateral(caller, asset crypto.Address, amount *uint256.Int) error {
	return e.execute(func(tx *engineTx) error {
		if err := e.redeemCollateral(tx, caller, asset, amount); err != nil {
			return err
		}
		return e.requireHealthy(tx, caller)
	})
}

// BurnDSC retires amount of caller's own debt.
func (e *Engine) BurnDSC(caller crypto.Address, amount *uint256.Int) error {
	return e.execute(func(tx *engineTx) error {
		if err := e.burnDebt(tx, amount, caller, caller); err != nil {
			return err
		}
		return e.requireHealthy(tx, caller)
	})
}

// RedeemCollateralForDSC burns debt and then redeems collateral.
func (e *Engine) RedeemCollateralForDSC(caller, asset crypto.Address, amountCollateral, amountDSC *uint256.Int) error {
	return e.execute(func(tx *engineTx) error {
		if err := e.burnDebt(tx, amountDSC, caller, caller); err != nil {
			return err
		}
		if err := e.redeemCollateral(tx, caller, asset, amountCollateral); err != nil {
			return err
		}
		return e.requireHealthy(tx, caller)
	})
}

func (e *Engine) redeemCollateral(tx *engineTx, caller, asset crypto.Address, amount *uint256.Int) error {
	if !isPositive(amount) {
		return ErrAmountMustBeMoreThanZero
	}
	if !e.isAllowed(asset) {
		return ErrTokenNotAllowed
	}
	return e.withdrawCollateral(tx, caller, caller, asset, amount)
}

func (e *Engine) isAllowed(asset crypto.Address) bool {
	_, ok := e.feeds[asset]
	return ok
}

func (e *Engine) quote(asset crypto.Address) (Quote, error) {
	feed, ok := e.feeds[asset]
	if !ok {
		return Quote{}, ErrTokenNotAllowed
	}
	source, ok := e.sources[feed]
	if !ok {
		return Quote{}, ErrFeedNotConfigured
	}
	return e.oracle.StaleCheckLatestRoundData(source)
}

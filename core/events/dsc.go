package events

import (
	"github.com/holiman/uint256"

	"dscengine/core/types"
	"dscengine/crypto"
)

const (
	// TypeCollateralDeposited is emitted when collateral enters engine custody.
	TypeCollateralDeposited = "dsc.collateral_deposited"
	// TypeCollateralRedeemed is emitted when collateral leaves engine custody,
	// either back to its owner or to a liquidator.
	TypeCollateralRedeemed = "dsc.collateral_redeemed"
	// TypeDSCMinted is emitted when new debt is issued against collateral.
	TypeDSCMinted = "dsc.minted"
	// TypeDSCBurned is emitted when debt is retired.
	TypeDSCBurned = "dsc.burned"
	// TypeLiquidated is emitted once per successful liquidation.
	TypeLiquidated = "dsc.liquidated"
)

type CollateralDeposited struct {
	Account crypto.Address
	Asset   crypto.Address
	Amount  *uint256.Int
}

func (CollateralDeposited) EventType() string { return TypeCollateralDeposited }

func (e CollateralDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralDeposited,
		Attributes: map[string]string{
			"account": e.Account.String(),
			"asset":   e.Asset.String(),
			"amount":  amountString(e.Amount),
		},
	}
}

// CollateralRedeemed carries distinct From and To addresses when collateral is
// seized during liquidation.
type CollateralRedeemed struct {
	From   crypto.Address
	To     crypto.Address
	Asset  crypto.Address
	Amount *uint256.Int
}

func (CollateralRedeemed) EventType() string { return TypeCollateralRedeemed }

func (e CollateralRedeemed) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralRedeemed,
		Attributes: map[string]string{
			"redeemedFrom": e.From.String(),
			"redeemedTo":   e.To.String(),
			"asset":        e.Asset.String(),
			"amount":       amountString(e.Amount),
		},
	}
}

// IsSeizure reports whether the redemption moved collateral to someone other
// than its owner.
func (e CollateralRedeemed) IsSeizure() bool { return e.From != e.To }

type DSCMinted struct {
	Account crypto.Address
	Amount  *uint256.Int
}

func (DSCMinted) EventType() string { return TypeDSCMinted }

func (e DSCMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeDSCMinted,
		Attributes: map[string]string{
			"account": e.Account.String(),
			"amount":  amountString(e.Amount),
		},
	}
}

type DSCBurned struct {
	OnBehalfOf crypto.Address
	Payer      crypto.Address
	Amount     *uint256.Int
}

func (DSCBurned) EventType() string { return TypeDSCBurned }

func (e DSCBurned) Event() *types.Event {
	return &types.Event{
		Type: TypeDSCBurned,
		Attributes: map[string]string{
			"onBehalfOf": e.OnBehalfOf.String(),
			"payer":      e.Payer.String(),
			"amount":     amountString(e.Amount),
		},
	}
}

type Liquidated struct {
	Liquidator       crypto.Address
	Account          crypto.Address
	Asset            crypto.Address
	DebtCovered      *uint256.Int
	CollateralSeized *uint256.Int
}

func (Liquidated) EventType() string { return TypeLiquidated }

func (e Liquidated) Event() *types.Event {
	return &types.Event{
		Type: TypeLiquidated,
		Attributes: map[string]string{
			"liquidator":       e.Liquidator.String(),
			"account":          e.Account.String(),
			"asset":            e.Asset.String(),
			"debtCovered":      amountString(e.DebtCovered),
			"collateralSeized": amountString(e.CollateralSeized),
		},
	}
}

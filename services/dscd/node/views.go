package node

import (
	"time"

	"github.com/holiman/uint256"

	"dscengine/crypto"
	"dscengine/native/dsc"
)

// CollateralInfo describes one allow-listed asset.
type CollateralInfo struct {
	Symbol string
	Asset  crypto.Address
	Feed   crypto.Address
}

// Params is the static description of the deployment.
type Params struct {
	Engine                  crypto.Address
	Stablecoin              crypto.Address
	Collateral              []CollateralInfo
	LiquidationThreshold    uint64
	LiquidationBonus        uint64
	LiquidationPrecision    uint64
	Precision               *uint256.Int
	AdditionalFeedPrecision *uint256.Int
	MinHealthFactor         *uint256.Int
	FeedDecimals            int
	StalePriceTimeout       time.Duration
}

// Account is a snapshot of one position. HealthFactor and the collateral
// value are nil when a price cannot be read; PriceError then explains why.
type Account struct {
	Address            crypto.Address
	Collateral         map[crypto.Address]*uint256.Int
	DebtMinted         *uint256.Int
	CollateralValueUSD *uint256.Int
	HealthFactor       *uint256.Int
	StablecoinBalance  *uint256.Int
	PriceError         error
}

// Params returns the deployment constants.
func (n *Node) Params() Params {
	p := Params{
		Engine:                  n.engine.Address(),
		Stablecoin:              n.engine.StablecoinAddress(),
		LiquidationThreshold:    n.engine.LiquidationThreshold(),
		LiquidationBonus:        n.engine.LiquidationBonus(),
		LiquidationPrecision:    n.engine.LiquidationPrecision(),
		Precision:               n.engine.Precision(),
		AdditionalFeedPrecision: n.engine.AdditionalFeedPrecision(),
		MinHealthFactor:         n.engine.MinHealthFactor(),
		FeedDecimals:            dsc.FeedDecimals,
		StalePriceTimeout:       dsc.StalePriceTimeout,
	}
	for _, asset := range n.engine.CollateralTokens() {
		feed, _ := n.engine.CollateralTokenPriceFeed(asset)
		p.Collateral = append(p.Collateral, CollateralInfo{Symbol: n.Symbol(asset), Asset: asset, Feed: feed})
	}
	return p
}

// Account returns the position of owner. Price failures do not fail the call;
// the deposited amounts and debt are always reported.
func (n *Node) Account(owner crypto.Address) (Account, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	pos, err := n.engine.Position(owner)
	if err != nil {
		return Account{}, err
	}
	acct := Account{
		Address:           owner,
		Collateral:        make(map[crypto.Address]*uint256.Int),
		DebtMinted:        cloneAmount(pos.DebtMinted),
		StablecoinBalance: n.ledger.BalanceOf(n.coin.Address(), owner),
	}
	for _, asset := range n.engine.CollateralTokens() {
		acct.Collateral[asset] = pos.CollateralOf(asset)
	}
	info, err := n.engine.AccountInformation(owner)
	if err != nil {
		acct.PriceError = err
		return acct, nil
	}
	acct.CollateralValueUSD = info.CollateralValueUSD
	hf, err := n.engine.CalculateHealthFactor(info.DebtMinted, info.CollateralValueUSD)
	if err != nil {
		acct.PriceError = err
		return acct, nil
	}
	acct.HealthFactor = hf
	return acct, nil
}

// LiquidationCandidates scans every position and refreshes the candidate
// gauge.
func (n *Node) LiquidationCandidates() ([]dsc.Candidate, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	start := time.Now()
	candidates, err := n.engine.LiquidationCandidates()
	n.metrics.Observe(opScanLiquidations, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	n.metrics.SetCandidates(len(candidates))
	return candidates, nil
}

// UsdValue prices amount of asset at the current feed answer.
func (n *Node) UsdValue(asset crypto.Address, amount *uint256.Int) (*uint256.Int, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.engine.UsdValue(asset, amount)
}

// TokenAmountFromUSD converts a USD amount into units of asset.
func (n *Node) TokenAmountFromUSD(asset crypto.Address, usd *uint256.Int) (*uint256.Int, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.engine.TokenAmountFromUSD(asset, usd)
}

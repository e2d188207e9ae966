package dsc

import (
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"dscengine/core/events"
	"dscengine/crypto"
	"dscengine/native/stablecoin"
	"dscengine/native/token"
)

func TestNewEngineValidatesConfig(t *testing.T) {
	ledger := token.NewLedger()
	coin, err := stablecoin.New(ledger, dscAddr, engineAddr)
	if err != nil {
		t.Fatalf("stablecoin: %v", err)
	}
	sources := map[crypto.Address]PriceSource{wethFeed: &mockFeed{}}
	deps := Dependencies{State: NewMemState(), Tokens: ledger, Stablecoin: coin, Sources: sources}

	cases := []struct {
		name string
		cfg  Config
		deps Dependencies
		want error
	}{
		{
			name: "length mismatch",
			cfg:  Config{Address: engineAddr, Stablecoin: dscAddr, CollateralAssets: []crypto.Address{wethAddr}},
			deps: deps,
			want: ErrArraysMustBeSameLength,
		},
		{
			name: "duplicate asset",
			cfg: Config{Address: engineAddr, Stablecoin: dscAddr,
				CollateralAssets: []crypto.Address{wethAddr, wethAddr},
				PriceFeeds:       []crypto.Address{wethFeed, wethFeed}},
			deps: deps,
			want: ErrDuplicateAsset,
		},
		{
			name: "missing source",
			cfg: Config{Address: engineAddr, Stablecoin: dscAddr,
				CollateralAssets: []crypto.Address{wbtcAddr},
				PriceFeeds:       []crypto.Address{wbtcFeed}},
			deps: deps,
			want: ErrFeedNotConfigured,
		},
		{
			name: "stablecoin mismatch",
			cfg:  Config{Address: engineAddr, Stablecoin: wethAddr},
			deps: deps,
			want: ErrStablecoinMismatch,
		},
		{
			name: "zero engine address",
			cfg:  Config{Stablecoin: dscAddr},
			deps: deps,
			want: ErrZeroAddress,
		},
		{
			name: "missing state",
			cfg:  Config{Address: engineAddr, Stablecoin: dscAddr},
			deps: Dependencies{Tokens: ledger, Stablecoin: coin},
			want: ErrNilState,
		},
	}
	for _, tc := range cases {
		if _, err := NewEngine(tc.cfg, tc.deps); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestCollateralRegistry(t *testing.T) {
	h := newHarness(t)
	tokens := h.engine.CollateralTokens()
	if len(tokens) != 2 || tokens[0] != wethAddr || tokens[1] != wbtcAddr {
		t.Fatalf("unexpected collateral tokens %v", tokens)
	}
	feed, ok := h.engine.CollateralTokenPriceFeed(wbtcAddr)
	if !ok || feed != wbtcFeed {
		t.Fatalf("unexpected feed %s", feed)
	}
	if _, ok := h.engine.CollateralTokenPriceFeed(dscAddr); ok {
		t.Fatalf("stablecoin must not be collateral")
	}
	if h.engine.StablecoinAddress() != dscAddr || h.engine.Address() != engineAddr {
		t.Fatalf("unexpected addresses")
	}
}

func TestDepositCollateralConservation(t *testing.T) {
	h := newHarness(t)
	h.fund(alice, wethAddr, ether(10))

	for _, amount := range []*uint256.Int{uint256.NewInt(1), ether(3), uint256.NewInt(123456789)} {
		recorded, _ := h.engine.CollateralBalanceOf(alice, wethAddr)
		held := h.ledger.BalanceOf(wethAddr, engineAddr)

		if err := h.engine.DepositCollateral(alice, wethAddr, amount); err != nil {
			t.Fatalf("deposit %s: %v", amount.Dec(), err)
		}
		gotRecorded, _ := h.engine.CollateralBalanceOf(alice, wethAddr)
		if want := new(uint256.Int).Add(recorded, amount); !gotRecorded.Eq(want) {
			t.Fatalf("recorded collateral: want %s got %s", want.Dec(), gotRecorded.Dec())
		}
		if want := new(uint256.Int).Add(held, amount); !h.ledger.BalanceOf(wethAddr, engineAddr).Eq(want) {
			t.Fatalf("custody balance: want %s got %s", want.Dec(), h.ledger.BalanceOf(wethAddr, engineAddr).Dec())
		}
	}

	ev, ok := h.recorder.Events[0].(events.CollateralDeposited)
	if !ok || ev.Account != alice || ev.Asset != wethAddr || ev.Amount.Uint64() != 1 {
		t.Fatalf("unexpected first event %+v", h.recorder.Events[0])
	}
}

func TestDepositCollateralRejections(t *testing.T) {
	h := newHarness(t)
	h.fund(alice, wethAddr, ether(1))
	before := h.snapshot()

	if err := h.engine.DepositCollateral(alice, wethAddr, uint256.NewInt(0)); !errors.Is(err, ErrAmountMustBeMoreThanZero) {
		t.Fatalf("expected zero amount error, got %v", err)
	}
	if err := h.engine.DepositCollateral(alice, dscAddr, ether(1)); !errors.Is(err, ErrTokenNotAllowed) {
		t.Fatalf("expected token not allowed, got %v", err)
	}
	err := h.engine.DepositCollateral(alice, wethAddr, ether(2))
	if !errors.Is(err, ErrTransferFailed) || !errors.Is(err, token.ErrInsufficientBalance) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
	if err := h.engine.DepositCollateral(bob, wethAddr, ether(1)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure without allowance, got %v", err)
	}
	h.requireUnchanged(before)
}

func TestHealthFactorZeroDebtIsMax(t *testing.T) {
	h := newHarness(t)
	hf, err := h.engine.HealthFactor(alice)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if !hf.Eq(MaxHealthFactor()) {
		t.Fatalf("unknown account should report max, got %s", hf.Dec())
	}

	h.fund(alice, wethAddr, ether(50))
	if err := h.engine.DepositCollateral(alice, wethAddr, ether(50)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	hf, err = h.engine.HealthFactor(alice)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if !hf.Eq(MaxHealthFactor()) {
		t.Fatalf("zero debt should report max, got %s", hf.Dec())
	}
}

func TestHealthFactorTracksPrice(t *testing.T) {
	h := newHarness(t)
	h.open(alice, wethAddr, ether(20), ether(10000))

	info, err := h.engine.AccountInformation(alice)
	if err != nil {
		t.Fatalf("account information: %v", err)
	}
	if !info.CollateralValueUSD.Eq(ether(40000)) || !info.DebtMinted.Eq(ether(10000)) {
		t.Fatalf("unexpected account information %s/%s", info.DebtMinted.Dec(), info.CollateralValueUSD.Dec())
	}
	hf, _ := h.engine.HealthFactor(alice)
	if !hf.Eq(ether(2)) {
		t.Fatalf("expected 2e18, got %s", hf.Dec())
	}

	h.setPrice(wethFeed, 900)
	hf, err = h.engine.HealthFactor(alice)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if want := mustDec(t, "900000000000000000"); !hf.Eq(want) {
		t.Fatalf("expected 0.9e18, got %s", hf.Dec())
	}
	candidates, err := h.engine.LiquidationCandidates()
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].Account != alice {
		t.Fatalf("expected alice to be liquidatable, got %+v", candidates)
	}
}

func TestMintBreakingHealthFactorRollsBack(t *testing.T) {
	h := newHarness(t)
	h.fund(alice, wethAddr, ether(10))
	if err := h.engine.DepositCollateral(alice, wethAddr, ether(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	before := h.snapshot()

	// 10 ETH at $2000 supports at most 10000 DSC.
	err := h.engine.MintDSC(alice, new(uint256.Int).AddUint64(ether(10000), 1))
	if !errors.Is(err, ErrBreaksHealthFactor) {
		t.Fatalf("expected breaks health factor, got %v", err)
	}
	var hfErr *HealthFactorError
	if !errors.As(err, &hfErr) || hfErr.Account != alice || !hfErr.HealthFactor.Lt(MinHealthFactor()) {
		t.Fatalf("expected health factor detail, got %v", err)
	}
	h.requireUnchanged(before)

	if err := h.engine.MintDSC(alice, ether(10000)); err != nil {
		t.Fatalf("mint at the boundary: %v", err)
	}
	if got := h.coin.BalanceOf(alice); !got.Eq(ether(10000)) {
		t.Fatalf("unexpected stablecoin balance %s", got.Dec())
	}
}

func TestCompoundDepositAndMintIsAtomic(t *testing.T) {
	h := newHarness(t)
	h.fund(alice, wethAddr, ether(10))
	before := h.snapshot()

	if err := h.engine.DepositCollateralAndMintDSC(alice, wethAddr, ether(10), ether(10001)); !errors.Is(err, ErrBreaksHealthFactor) {
		t.Fatalf("expected breaks health factor, got %v", err)
	}
	h.requireUnchanged(before)

	if err := h.engine.DepositCollateralAndMintDSC(alice, wethAddr, ether(10), ether(5000)); err != nil {
		t.Fatalf("deposit and mint: %v", err)
	}
	want := []string{events.TypeCollateralDeposited, events.TypeDSCMinted}
	got := h.recorder.Types()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestMintFailsWithoutAuthority(t *testing.T) {
	h := newHarness(t)
	h.fund(alice, wethAddr, ether(10))
	if err := h.engine.DepositCollateral(alice, wethAddr, ether(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := h.coin.TransferOwnership(engineAddr, deployer); err != nil {
		t.Fatalf("reclaim ownership: %v", err)
	}
	before := h.snapshot()

	err := h.engine.MintDSC(alice, ether(1))
	if !errors.Is(err, ErrMintFailed) || !errors.Is(err, stablecoin.ErrUnauthorized) {
		t.Fatalf("expected mint failure, got %v", err)
	}
	h.requireUnchanged(before)
}

func TestDepositRedeemRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.fund(alice, wbtcAddr, ether(3))
	walletBefore := h.ledger.BalanceOf(wbtcAddr, alice)
	recordedBefore, _ := h.engine.CollateralBalanceOf(alice, wbtcAddr)

	if err := h.engine.DepositCollateral(alice, wbtcAddr, ether(2)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := h.engine.RedeemCollateral(alice, wbtcAddr, ether(2)); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	recorded, _ := h.engine.CollateralBalanceOf(alice, wbtcAddr)
	if !recorded.Eq(recordedBefore) {
		t.Fatalf("recorded collateral %s, want %s", recorded.Dec(), recordedBefore.Dec())
	}
	if got := h.ledger.BalanceOf(wbtcAddr, alice); !got.Eq(walletBefore) {
		t.Fatalf("wallet balance %s, want %s", got.Dec(), walletBefore.Dec())
	}
	ev, ok := h.recorder.Events[1].(events.CollateralRedeemed)
	if !ok || ev.IsSeizure() || ev.From != alice || ev.To != alice {
		t.Fatalf("unexpected redeem event %+v", h.recorder.Events[1])
	}
}

func TestRedeemBreakingHealthFactorRollsBack(t *testing.T) {
	h := newHarness(t)
	h.open(alice, wethAddr, ether(10), ether(5000))
	before := h.snapshot()

	if err := h.engine.RedeemCollateral(alice, wethAddr, ether(6)); !errors.Is(err, ErrBreaksHealthFactor) {
		t.Fatalf("expected breaks health factor, got %v", err)
	}
	h.requireUnchanged(before)

	if err := h.engine.RedeemCollateral(alice, wethAddr, ether(5)); err != nil {
		t.Fatalf("redeem to the boundary: %v", err)
	}
}

func TestUnderflowProtection(t *testing.T) {
	h := newHarness(t)
	h.open(alice, wethAddr, ether(10), ether(100))
	before := h.snapshot()

	if err := h.engine.RedeemCollateral(alice, wethAddr, ether(11)); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected insufficient collateral, got %v", err)
	}
	if err := h.engine.RedeemCollateral(alice, wbtcAddr, uint256.NewInt(1)); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected insufficient collateral for empty asset, got %v", err)
	}
	if err := h.engine.BurnDSC(alice, ether(101)); !errors.Is(err, ErrInsufficientBalanceToBurn) {
		t.Fatalf("expected insufficient balance to burn, got %v", err)
	}
	if err := h.engine.BurnDSC(bob, uint256.NewInt(1)); !errors.Is(err, ErrInsufficientBalanceToBurn) {
		t.Fatalf("expected insufficient balance to burn for unknown account, got %v", err)
	}
	h.requireUnchanged(before)

	debt, _ := h.engine.DSCMinted(alice)
	if !debt.Eq(ether(100)) {
		t.Fatalf("debt changed to %s", debt.Dec())
	}
}

func TestBurnReducesDebtAndSupply(t *testing.T) {
	h := newHarness(t)
	h.open(alice, wethAddr, ether(10), ether(1000))

	if err := h.engine.BurnDSC(alice, ether(400)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	debt, _ := h.engine.DSCMinted(alice)
	if !debt.Eq(ether(600)) {
		t.Fatalf("unexpected debt %s", debt.Dec())
	}
	if got := h.coin.TotalSupply(); !got.Eq(ether(600)) {
		t.Fatalf("unexpected supply %s", got.Dec())
	}
	if got := h.coin.BalanceOf(engineAddr); !got.IsZero() {
		t.Fatalf("engine should not keep burned coins, holds %s", got.Dec())
	}
}

func TestBurnWithoutCoinsRollsBack(t *testing.T) {
	h := newHarness(t)
	h.open(alice, wethAddr, ether(10), ether(1000))
	if err := h.ledger.Transfer(dscAddr, alice, bob, ether(1000)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	h.ledger.Finalise()
	before := h.snapshot()

	err := h.engine.BurnDSC(alice, ether(10))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
	h.requireUnchanged(before)
}

func TestRedeemCollateralForDSC(t *testing.T) {
	h := newHarness(t)
	h.open(alice, wethAddr, ether(10), ether(10000))

	// Redeeming first would break the health factor; the compound call burns
	// before it redeems.
	if err := h.engine.RedeemCollateralForDSC(alice, wethAddr, ether(5), ether(5000)); err != nil {
		t.Fatalf("redeem for dsc: %v", err)
	}
	recorded, _ := h.engine.CollateralBalanceOf(alice, wethAddr)
	debt, _ := h.engine.DSCMinted(alice)
	if !recorded.Eq(ether(5)) || !debt.Eq(ether(5000)) {
		t.Fatalf("unexpected position %s/%s", recorded.Dec(), debt.Dec())
	}
	types := h.recorder.Types()
	if types[len(types)-2] != events.TypeDSCBurned || types[len(types)-1] != events.TypeCollateralRedeemed {
		t.Fatalf("unexpected event order %v", types)
	}

	before := h.snapshot()
	if err := h.engine.RedeemCollateralForDSC(alice, wethAddr, ether(5), ether(1)); !errors.Is(err, ErrBreaksHealthFactor) {
		t.Fatalf("expected breaks health factor, got %v", err)
	}
	h.requireUnchanged(before)
}

func TestStalePriceBlocksValuation(t *testing.T) {
	h := newHarness(t)
	h.open(alice, wethAddr, ether(10), ether(1000))
	h.open(bob, wethAddr, ether(10), ether(1000))
	h.fund(alice, wethAddr, ether(1))

	h.now = h.now.Add(StalePriceTimeout + time.Second)
	before := h.snapshot()

	ops := map[string]func() error{
		"mint":   func() error { return h.engine.MintDSC(alice, ether(1)) },
		"redeem": func() error { return h.engine.RedeemCollateral(alice, wethAddr, ether(1)) },
		"burn":   func() error { return h.engine.BurnDSC(alice, ether(1)) },
		"deposit and mint": func() error {
			return h.engine.DepositCollateralAndMintDSC(alice, wethAddr, ether(1), ether(1))
		},
		"redeem for dsc": func() error {
			return h.engine.RedeemCollateralForDSC(alice, wethAddr, ether(1), ether(1))
		},
		"liquidate": func() error {
			_, err := h.engine.Liquidate(bob, wethAddr, alice, ether(1))
			return err
		},
		"health factor": func() error {
			_, err := h.engine.HealthFactor(alice)
			return err
		},
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, ErrStalePrice) {
			t.Fatalf("%s: expected stale price, got %v", name, err)
		}
	}
	h.requireUnchanged(before)

	// Deposits do not read prices.
	if err := h.engine.DepositCollateral(alice, wethAddr, ether(1)); err != nil {
		t.Fatalf("deposit with stale feed: %v", err)
	}
}

func TestEventsOnlyOnCommit(t *testing.T) {
	h := newHarness(t)
	h.fund(alice, wethAddr, ether(1))
	if err := h.engine.DepositCollateralAndMintDSC(alice, wethAddr, ether(1), ether(5000)); err == nil {
		t.Fatalf("expected failure")
	}
	if len(h.recorder.Events) != 0 {
		t.Fatalf("failed operation leaked events %v", h.recorder.Types())
	}
}

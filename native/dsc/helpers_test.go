package dsc

import (
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"dscengine/core/events"
	"dscengine/crypto"
	"dscengine/native/stablecoin"
	"dscengine/native/token"
)

func makeAddress(tag, b byte) crypto.Address {
	var addr crypto.Address
	addr[0] = tag
	addr[19] = b
	return addr
}

var (
	engineAddr = makeAddress(0xE0, 0x01)
	dscAddr    = makeAddress(0xD5, 0x01)
	deployer   = makeAddress(0xDE, 0x01)
	wethAddr   = makeAddress(0xA0, 0x01)
	wbtcAddr   = makeAddress(0xA0, 0x02)
	wethFeed   = makeAddress(0xFE, 0x01)
	wbtcFeed   = makeAddress(0xFE, 0x02)
	alice      = makeAddress(0xAC, 0x01)
	bob        = makeAddress(0xAC, 0x02)
	carol      = makeAddress(0xAC, 0x03)

	testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

// ether scales whole units to 18 decimals.
func ether(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1e18))
}

// usdPrice scales whole dollars to the 8 decimal feed format.
func usdPrice(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e8))
}

type mockFeed struct {
	mu        sync.Mutex
	round     uint64
	answer    *big.Int
	updatedAt time.Time
}

func (f *mockFeed) LatestRoundData() (RoundData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return RoundData{
		RoundID:         f.round,
		Answer:          new(big.Int).Set(f.answer),
		StartedAt:       f.updatedAt,
		UpdatedAt:       f.updatedAt,
		AnsweredInRound: f.round,
	}, nil
}

func (f *mockFeed) set(answer *big.Int, updatedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.round++
	f.answer = answer
	f.updatedAt = updatedAt
}

type harness struct {
	t        *testing.T
	engine   *Engine
	state    *MemState
	ledger   *token.Ledger
	coin     *stablecoin.Coin
	feeds    map[crypto.Address]*mockFeed
	recorder *events.Recorder
	now      time.Time
}

type harnessOption func(*Dependencies)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		state:    NewMemState(),
		ledger:   token.NewLedger(),
		recorder: &events.Recorder{},
		now:      testNow,
		feeds: map[crypto.Address]*mockFeed{
			wethFeed: {},
			wbtcFeed: {},
		},
	}
	h.feeds[wethFeed].set(usdPrice(2000), testNow)
	h.feeds[wbtcFeed].set(usdPrice(1000), testNow)

	coin, err := stablecoin.New(h.ledger, dscAddr, deployer)
	if err != nil {
		t.Fatalf("new stablecoin: %v", err)
	}
	if err := coin.TransferOwnership(deployer, engineAddr); err != nil {
		t.Fatalf("transfer ownership: %v", err)
	}
	h.coin = coin

	deps := Dependencies{
		State:      h.state,
		Tokens:     h.ledger,
		Stablecoin: coin,
		Sources: map[crypto.Address]PriceSource{
			wethFeed: h.feeds[wethFeed],
			wbtcFeed: h.feeds[wbtcFeed],
		},
		Emitter: h.recorder,
		Clock:   func() time.Time { return h.now },
	}
	for _, opt := range opts {
		opt(&deps)
	}
	engine, err := NewEngine(Config{
		Address:          engineAddr,
		CollateralAssets: []crypto.Address{wethAddr, wbtcAddr},
		PriceFeeds:       []crypto.Address{wethFeed, wbtcFeed},
		Stablecoin:       dscAddr,
	}, deps)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	h.engine = engine
	return h
}

// fund mints collateral to the account and approves the engine to pull it
// along with the account's stablecoins.
func (h *harness) fund(account, asset crypto.Address, amount *uint256.Int) {
	h.t.Helper()
	if err := h.ledger.Mint(asset, account, amount); err != nil {
		h.t.Fatalf("fund %s: %v", account, err)
	}
	if err := h.ledger.Approve(asset, account, engineAddr, token.MaxAllowance()); err != nil {
		h.t.Fatalf("approve collateral: %v", err)
	}
	if err := h.ledger.Approve(dscAddr, account, engineAddr, token.MaxAllowance()); err != nil {
		h.t.Fatalf("approve stablecoin: %v", err)
	}
	h.ledger.Finalise()
}

func (h *harness) setPrice(feed crypto.Address, dollars int64) {
	h.feeds[feed].set(usdPrice(dollars), h.now)
}

// open deposits collateral and mints debt in one call.
func (h *harness) open(account, asset crypto.Address, collateral, debt *uint256.Int) {
	h.t.Helper()
	h.fund(account, asset, collateral)
	if err := h.engine.DepositCollateralAndMintDSC(account, asset, collateral, debt); err != nil {
		h.t.Fatalf("open position for %s: %v", account, err)
	}
}

type worldSnapshot struct {
	positions map[crypto.Address]*Position
	balances  map[[2]crypto.Address]string
	supplies  map[crypto.Address]string
	events    int
}

func (h *harness) snapshot() worldSnapshot {
	h.t.Helper()
	snap := worldSnapshot{
		positions: make(map[crypto.Address]*Position),
		balances:  make(map[[2]crypto.Address]string),
		supplies:  make(map[crypto.Address]string),
		events:    len(h.recorder.Events),
	}
	owners, err := h.state.Owners()
	if err != nil {
		h.t.Fatalf("owners: %v", err)
	}
	for _, owner := range owners {
		pos, err := h.state.Position(owner)
		if err != nil {
			h.t.Fatalf("position: %v", err)
		}
		snap.positions[owner] = pos
	}
	holders := []crypto.Address{engineAddr, alice, bob, carol}
	for _, asset := range []crypto.Address{wethAddr, wbtcAddr, dscAddr} {
		snap.supplies[asset] = h.ledger.TotalSupply(asset).Dec()
		for _, holder := range holders {
			snap.balances[[2]crypto.Address{asset, holder}] = h.ledger.BalanceOf(asset, holder).Dec()
		}
	}
	return snap
}

func (h *harness) requireUnchanged(before worldSnapshot) {
	h.t.Helper()
	after := h.snapshot()
	if len(after.positions) != len(before.positions) {
		h.t.Fatalf("position count changed: %d -> %d", len(before.positions), len(after.positions))
	}
	for owner, pos := range before.positions {
		got := after.positions[owner]
		if got == nil || !got.DebtMinted.Eq(pos.DebtMinted) {
			h.t.Fatalf("debt for %s changed", owner)
		}
		for _, asset := range []crypto.Address{wethAddr, wbtcAddr} {
			if !got.CollateralOf(asset).Eq(pos.CollateralOf(asset)) {
				h.t.Fatalf("collateral %s for %s changed", asset, owner)
			}
		}
	}
	for key, bal := range before.balances {
		if after.balances[key] != bal {
			h.t.Fatalf("balance of %s for %s changed: %s -> %s", key[0], key[1], bal, after.balances[key])
		}
	}
	for asset, supply := range before.supplies {
		if after.supplies[asset] != supply {
			h.t.Fatalf("supply of %s changed: %s -> %s", asset, supply, after.supplies[asset])
		}
	}
	if after.events != before.events {
		h.t.Fatalf("events emitted on failure: %v", h.recorder.Types()[before.events:])
	}
}

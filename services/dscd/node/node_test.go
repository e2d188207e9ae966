package node

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"dscengine/config"
	"dscengine/core/events"
	"dscengine/crypto"
	"dscengine/native/dsc"
	"dscengine/services/dscd/feeds"
	"dscengine/services/dscd/journal"
	"dscengine/services/dscd/stream"
	"dscengine/storage"
)

func address(tag, b byte) crypto.Address {
	var a crypto.Address
	a[0] = tag
	a[19] = b
	return a
}

var (
	engineAddr = address(0xe0, 1)
	coinAddr   = address(0xd0, 1)
	deployer   = address(0xd0, 2)
	wethAddr   = address(0xa0, 1)
	wbtcAddr   = address(0xa0, 2)
	wethFeed   = address(0xfe, 1)
	wbtcFeed   = address(0xfe, 2)
	alice      = address(0x01, 1)
	bob        = address(0x01, 2)
	testNow    = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func ether(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), dsc.Precision())
}

func usd(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e8)) }

func testDeployment() config.Deployment {
	return config.Deployment{
		Engine: dsc.Config{
			Address:          engineAddr,
			CollateralAssets: []crypto.Address{wethAddr, wbtcAddr},
			PriceFeeds:       []crypto.Address{wethFeed, wbtcFeed},
			Stablecoin:       coinAddr,
		},
		StablecoinOwner: deployer,
		Collateral: []config.ResolvedCollateral{
			{Symbol: "WETH", Asset: wethAddr, Feed: wethFeed, InitialPrice: usd(2000)},
			{Symbol: "WBTC", Asset: wbtcAddr, Feed: wbtcFeed, InitialPrice: usd(1000)},
		},
		Allocations: []config.ResolvedAllocation{
			{Account: alice, Asset: wethAddr, Amount: ether(100)},
			{Account: bob, Asset: wethAddr, Amount: ether(100)},
		},
	}
}

type fixture struct {
	node    *Node
	journal *journal.Journal
	hub     *stream.Hub
	now     time.Time
}

func newFixture(t *testing.T, db storage.Database) *fixture {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())), &gorm.Config{})
	require.NoError(t, err)
	j, err := journal.New(gdb)
	require.NoError(t, err)
	f := &fixture{journal: j, hub: stream.NewHub(16, nil), now: testNow}
	n, err := New(Options{
		Deployment: testDeployment(),
		DB:         db,
		Journal:    j,
		Hub:        f.hub,
		Clock:      func() time.Time { return f.now },
	})
	require.NoError(t, err)
	f.node = n
	t.Cleanup(func() { _ = j.Close() })
	return f
}

func (f *fixture) approveAll(t *testing.T, who crypto.Address) {
	t.Helper()
	require.NoError(t, f.node.Approve(who, wethAddr, nil, MaxAllowance()))
	require.NoError(t, f.node.Approve(who, coinAddr, nil, MaxAllowance()))
}

func TestGenesisAndOwnership(t *testing.T) {
	f := newFixture(t, storage.NewMemDB())
	bal, err := f.node.BalanceOf(wethAddr, alice)
	require.NoError(t, err)
	require.True(t, bal.Eq(ether(100)))
	require.True(t, f.node.TotalSupply(wethAddr).Eq(ether(200)))

	_, err = f.node.BalanceOf(address(0x77, 7), alice)
	require.ErrorIs(t, err, ErrUnknownAsset)

	// The engine, not the deployer, now controls minting.
	require.Equal(t, engineAddr, f.node.coin.Owner())

	params := f.node.Params()
	require.Equal(t, engineAddr, params.Engine)
	require.Len(t, params.Collateral, 2)
	require.Equal(t, "WETH", params.Collateral[0].Symbol)
	require.Equal(t, wethFeed, params.Collateral[0].Feed)
	require.Equal(t, uint64(50), params.LiquidationThreshold)
}

func TestOpenPositionJournalsAndStreams(t *testing.T) {
	f := newFixture(t, storage.NewMemDB())
	updates, cancel := f.hub.Subscribe()
	defer cancel()
	f.approveAll(t, alice)

	require.NoError(t, f.node.DepositCollateralAndMintDSC(alice, wethAddr, ether(10), ether(5000)))

	acct, err := f.node.Account(alice)
	require.NoError(t, err)
	require.True(t, acct.Collateral[wethAddr].Eq(ether(10)))
	require.True(t, acct.DebtMinted.Eq(ether(5000)))
	require.True(t, acct.StablecoinBalance.Eq(ether(5000)))
	require.True(t, acct.CollateralValueUSD.Eq(ether(20000)))
	require.True(t, acct.HealthFactor.Eq(ether(2)))
	require.NoError(t, acct.PriceError)

	entries, err := f.journal.Query(context.Background(), journal.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, events.TypeCollateralDeposited, entries[0].Type)
	require.Equal(t, events.TypeDSCMinted, entries[1].Type)

	first := <-updates
	require.Equal(t, uint64(1), first.Sequence)
}

func TestRejectedOperationLeavesNoTrace(t *testing.T) {
	f := newFixture(t, storage.NewMemDB())
	f.approveAll(t, alice)
	err := f.node.DepositCollateralAndMintDSC(alice, wethAddr, ether(1), ether(5000))
	var hfErr *dsc.HealthFactorError
	require.ErrorAs(t, err, &hfErr)
	require.ErrorIs(t, err, dsc.ErrBreaksHealthFactor)

	acct, err := f.node.Account(alice)
	require.NoError(t, err)
	require.True(t, acct.DebtMinted.IsZero())
	require.True(t, acct.Collateral[wethAddr].IsZero())
	require.Equal(t, uint64(0), f.journal.Sequence())
}

func TestPriceDropMakesCandidateAndLiquidationPays(t *testing.T) {
	f := newFixture(t, storage.NewMemDB())
	f.approveAll(t, alice)
	f.approveAll(t, bob)
	require.NoError(t, f.node.DepositCollateralAndMintDSC(alice, wethAddr, ether(10), ether(10000)))
	require.NoError(t, f.node.DepositCollateralAndMintDSC(bob, wethAddr, ether(100), ether(10000)))

	candidates, err := f.node.LiquidationCandidates()
	require.NoError(t, err)
	require.Empty(t, candidates)

	_, err = f.node.PushRound(wethFeed, usd(1800), testNow.Add(time.Minute))
	require.NoError(t, err)

	candidates, err = f.node.LiquidationCandidates()
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, alice, candidates[0].Account)

	result, err := f.node.Liquidate(bob, wethAddr, alice, ether(10000))
	require.NoError(t, err)
	require.True(t, result.DebtCovered.Eq(ether(10000)))

	acct, err := f.node.Account(alice)
	require.NoError(t, err)
	require.True(t, acct.DebtMinted.IsZero())

	liquidations, err := f.journal.Query(context.Background(), journal.Filter{Type: events.TypeLiquidated})
	require.NoError(t, err)
	require.Len(t, liquidations, 1)
	require.Equal(t, alice.String(), liquidations[0].Attributes["account"])
}

func TestStalePriceReportedOnAccount(t *testing.T) {
	f := newFixture(t, storage.NewMemDB())
	f.approveAll(t, alice)
	require.NoError(t, f.node.DepositCollateral(alice, wethAddr, ether(1)))

	f.now = testNow.Add(dsc.StalePriceTimeout + time.Second)
	acct, err := f.node.Account(alice)
	require.NoError(t, err)
	require.ErrorIs(t, acct.PriceError, dsc.ErrStalePrice)
	require.Nil(t, acct.HealthFactor)
	require.True(t, acct.Collateral[wethAddr].Eq(ether(1)))

	err = f.node.MintDSC(alice, ether(1))
	require.ErrorIs(t, err, dsc.ErrStalePrice)
}

func TestPushRoundErrors(t *testing.T) {
	f := newFixture(t, storage.NewMemDB())
	_, err := f.node.PushRound(address(0xfe, 9), usd(1), testNow)
	require.ErrorIs(t, err, feeds.ErrFeedNotFound)
	_, err = f.node.PushRound(wethFeed, usd(1), testNow.Add(-time.Hour))
	require.ErrorIs(t, err, feeds.ErrOutOfOrder)
}

func TestApproveRejectsUnknownAsset(t *testing.T) {
	f := newFixture(t, storage.NewMemDB())
	err := f.node.Approve(alice, address(0x77, 7), nil, ether(1))
	require.True(t, errors.Is(err, ErrUnknownAsset))

	spender := address(0x55, 5)
	require.NoError(t, f.node.Approve(alice, wethAddr, &spender, ether(3)))
	require.True(t, f.node.Allowance(wethAddr, alice, spender).Eq(ether(3)))
}

func TestStateSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db, err := storage.NewLevelDB(path)
	require.NoError(t, err)
	f := newFixture(t, db)
	f.approveAll(t, alice)
	require.NoError(t, f.node.DepositCollateralAndMintDSC(alice, wethAddr, ether(10), ether(1000)))
	db.Close()

	reopened, err := storage.NewLevelDB(path)
	require.NoError(t, err)
	defer reopened.Close()
	g := newFixture(t, reopened)

	acct, err := g.node.Account(alice)
	require.NoError(t, err)
	require.True(t, acct.DebtMinted.Eq(ether(1000)))
	require.True(t, acct.StablecoinBalance.Eq(ether(1000)))

	// Genesis is not applied twice.
	require.True(t, g.node.TotalSupply(wethAddr).Eq(ether(200)))
	bal, err := g.node.BalanceOf(wethAddr, engineAddr)
	require.NoError(t, err)
	require.True(t, bal.Eq(ether(10)))
	require.True(t, g.node.Allowance(wethAddr, alice, engineAddr).Eq(MaxAllowance()))
}

func TestRestartKeepsLastRoundAndItsAge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db, err := storage.NewLevelDB(path)
	require.NoError(t, err)
	f := newFixture(t, db)
	f.approveAll(t, alice)
	require.NoError(t, f.node.DepositCollateralAndMintDSC(alice, wethAddr, ether(10), ether(10000)))
	pushed, err := f.node.PushRound(wethFeed, usd(1500), testNow.Add(time.Minute))
	require.NoError(t, err)
	db.Close()

	reopened, err := storage.NewLevelDB(path)
	require.NoError(t, err)
	defer reopened.Close()
	g := newFixture(t, reopened)

	// The configured initial price does not replace the reported round.
	feed, err := g.node.Feed(wethFeed)
	require.NoError(t, err)
	latest, err := feed.LatestRoundData()
	require.NoError(t, err)
	require.Equal(t, pushed.RoundID, latest.RoundID)
	require.Zero(t, latest.Answer.Cmp(usd(1500)))
	require.True(t, latest.UpdatedAt.Equal(testNow.Add(time.Minute)))

	candidates, err := g.node.LiquidationCandidates()
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, alice, candidates[0].Account)

	g.now = testNow.Add(10 * time.Hour)
	_, err = g.node.Engine().HealthFactor(alice)
	require.ErrorIs(t, err, dsc.ErrStalePrice)
	require.ErrorIs(t, g.node.MintDSC(alice, ether(1)), dsc.ErrStalePrice)

	next, err := g.node.PushRound(wethFeed, usd(1600), g.now)
	require.NoError(t, err)
	require.Equal(t, pushed.RoundID+1, next.RoundID)
}

// flakyDB fails writes while failPuts is set.
type flakyDB struct {
	storage.Database
	failPuts bool
}

var errWriteFailed = errors.New("write failed")

func (db *flakyDB) Put(key, value []byte) error {
	if db.failPuts {
		return errWriteFailed
	}
	return db.Database.Put(key, value)
}

func TestApproveRevertsWhenSaveFails(t *testing.T) {
	db := &flakyDB{Database: storage.NewMemDB()}
	f := newFixture(t, db)
	spender := address(0x55, 5)
	require.NoError(t, f.node.Approve(alice, wethAddr, &spender, ether(3)))

	db.failPuts = true
	err := f.node.Approve(alice, wethAddr, &spender, ether(9))
	require.ErrorIs(t, err, errWriteFailed)
	require.True(t, f.node.Allowance(wethAddr, alice, spender).Eq(ether(3)))

	db.failPuts = false
	dump, ok, err := f.node.store.LoadLedger()
	require.NoError(t, err)
	require.True(t, ok)
	for _, a := range dump.Allowances {
		if a.Spender == spender {
			require.True(t, a.Amount.Eq(ether(3)))
		}
	}
}

package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"dscengine/config"
	"dscengine/core/events"
	"dscengine/crypto"
	"dscengine/native/dsc"
	"dscengine/native/stablecoin"
	"dscengine/native/token"
	"dscengine/observability"
	"dscengine/services/dscd/feeds"
	"dscengine/services/dscd/journal"
	"dscengine/services/dscd/stream"
	"dscengine/state/dscstate"
	"dscengine/storage"
)

var (
	// ErrUnknownAsset is returned for assets that are neither collateral nor
	// the stablecoin.
	ErrUnknownAsset = errors.New("dscd: unknown asset")
	// ErrNilDatabase is returned when the node is built without storage.
	ErrNilDatabase = errors.New("dscd: database required")
)

// Options wires a Node. Journal and Hub are optional.
type Options struct {
	Deployment config.Deployment
	DB         storage.Database
	Journal    *journal.Journal
	Hub        *stream.Hub
	Clock      func() time.Time
	Logger     *slog.Logger
}

// Node owns the engine and every collaborator it drives. Mutations are
// serialised; reads share the lock.
type Node struct {
	mu sync.RWMutex

	deployment config.Deployment
	symbols    map[crypto.Address]string
	db         storage.Database
	store      *dscstate.Store
	ledger     *token.Ledger
	coin       *stablecoin.Coin
	engine     *dsc.Engine
	feeds      *feeds.Registry
	journal    *journal.Journal
	hub        *stream.Hub
	metrics    *observability.EngineMetrics
	logger     *slog.Logger
	now        func() time.Time
}

// New restores persisted state, applies genesis allocations on first start
// and constructs the engine.
func New(opts Options) (*Node, error) {
	if opts.DB == nil {
		return nil, ErrNilDatabase
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	d := opts.Deployment

	n := &Node{
		deployment: d,
		symbols:    d.Symbols(),
		db:         opts.DB,
		store:      dscstate.New(opts.DB),
		ledger:     token.NewLedger(),
		feeds:      feeds.NewRegistry(now),
		journal:    opts.Journal,
		hub:        opts.Hub,
		metrics:    observability.Engine(),
		logger:     logger,
		now:        now,
	}

	if err := n.restoreLedger(); err != nil {
		return nil, err
	}

	coin, err := stablecoin.New(n.ledger, d.Engine.Stablecoin, d.StablecoinOwner)
	if err != nil {
		return nil, fmt.Errorf("dscd: stablecoin: %w", err)
	}
	if err := coin.TransferOwnership(d.StablecoinOwner, d.Engine.Address); err != nil {
		return nil, fmt.Errorf("dscd: transfer stablecoin ownership: %w", err)
	}
	n.coin = coin

	if err := n.restoreFeeds(); err != nil {
		return nil, err
	}

	emitters := events.Fanout{metricsEmitter{}}
	if n.journal != nil {
		emitters = append(emitters, n.journal)
		if n.hub != nil {
			n.journal.Subscribe(n.hub.Publish)
		}
	}

	engine, err := dsc.NewEngine(d.Engine, dsc.Dependencies{
		State:      n.store,
		Tokens:     n.ledger,
		Stablecoin: coin,
		Sources:    n.feeds.Sources(),
		Emitter:    emitters,
		Clock:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("dscd: engine: %w", err)
	}
	n.engine = engine
	n.store.AttachLedger(n.ledger)
	n.metrics.SetSupply(coin.TotalSupply().ToBig())
	return n, nil
}

func (n *Node) restoreLedger() error {
	dump, ok, err := n.store.LoadLedger()
	if err != nil {
		return fmt.Errorf("dscd: load ledger: %w", err)
	}
	if ok {
		n.ledger.Restore(dump)
		n.logger.Info("ledger restored", "balances", len(dump.Balances))
		return nil
	}
	for _, alloc := range n.deployment.Allocations {
		if err := n.ledger.Mint(alloc.Asset, alloc.Account, alloc.Amount); err != nil {
			return fmt.Errorf("dscd: genesis allocation for %s: %w", alloc.Account, err)
		}
	}
	n.ledger.Finalise()
	if err := n.store.SaveLedger(n.ledger.Export()); err != nil {
		return fmt.Errorf("dscd: save genesis ledger: %w", err)
	}
	n.logger.Info("genesis applied", "allocations", len(n.deployment.Allocations))
	return nil
}

// restoreFeeds registers every collateral feed and reloads its persisted
// rounds. InitialPrice only seeds feeds that have never been written, so a
// restart keeps the last reported round and its age.
func (n *Node) restoreFeeds() error {
	n.feeds.SetStore(n.store)
	for _, c := range n.deployment.Collateral {
		if _, err := n.feeds.Register(c.Feed, c.Symbol+" / USD"); err != nil {
			return fmt.Errorf("dscd: register feed for %s: %w", c.Symbol, err)
		}
		rounds, ok, err := n.store.LoadRounds(c.Feed)
		if err != nil {
			return fmt.Errorf("dscd: load rounds for %s: %w", c.Symbol, err)
		}
		if ok {
			if err := n.feeds.Restore(c.Feed, rounds); err != nil {
				return fmt.Errorf("dscd: restore feed for %s: %w", c.Symbol, err)
			}
			n.logger.Info("feed restored", "feed", c.Feed.String(), "rounds", len(rounds))
			continue
		}
		if c.InitialPrice != nil {
			if _, err := n.feeds.Push(c.Feed, c.InitialPrice, n.now()); err != nil {
				return fmt.Errorf("dscd: seed feed for %s: %w", c.Symbol, err)
			}
		}
	}
	return nil
}

// Engine exposes the engine for read-only use in tests and tooling.
func (n *Node) Engine() *dsc.Engine { return n.engine }

// Feeds returns the price feed registry.
func (n *Node) Feeds() *feeds.Registry { return n.feeds }

// Journal returns the event journal, which may be nil.
func (n *Node) Journal() *journal.Journal { return n.journal }

// Hub returns the event stream hub, which may be nil.
func (n *Node) Hub() *stream.Hub { return n.hub }

// Symbol returns the configured symbol for a collateral asset or the
// stablecoin.
func (n *Node) Symbol(asset crypto.Address) string {
	if asset == n.coin.Address() {
		return stablecoin.Symbol
	}
	if s, ok := n.symbols[asset]; ok {
		return s
	}
	return asset.String()
}

// Close releases the journal and storage.
func (n *Node) Close() error {
	var errs []error
	if n.journal != nil {
		errs = append(errs, n.journal.Close())
	}
	n.db.Close()
	return errors.Join(errs...)
}

// RunScanner refreshes the liquidation candidate gauge every interval until
// ctx is cancelled.
func (n *Node) RunScanner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			candidates, err := n.LiquidationCandidates()
			if err != nil {
				n.logger.Warn("liquidation scan failed", "error", err)
				continue
			}
			if len(candidates) > 0 {
				n.logger.Info("liquidation candidates", "count", len(candidates))
			}
		}
	}
}

// metricsEmitter counts events by type.
type metricsEmitter struct{}

func (metricsEmitter) Emit(ev events.Event) {
	if ev == nil {
		return
	}
	observability.Events().RecordEvent(ev.EventType())
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

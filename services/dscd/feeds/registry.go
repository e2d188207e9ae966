package feeds

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"dscengine/crypto"
	"dscengine/native/dsc"
	"dscengine/observability"
)

// maxHistory bounds the number of rounds kept per feed.
const maxHistory = 256

var (
	// ErrFeedNotFound is returned for unknown feed addresses.
	ErrFeedNotFound = errors.New("feeds: feed not found")
	// ErrDuplicateFeed is returned when a feed address is registered twice.
	ErrDuplicateFeed = errors.New("feeds: feed already registered")
	// ErrNoRounds is returned when a feed has not received any answer yet.
	ErrNoRounds = errors.New("feeds: no rounds reported")
	// ErrRoundNotFound is returned for rounds outside the retained history.
	ErrRoundNotFound = errors.New("feeds: round not found")
	// ErrAnswerRequired is returned when a pushed round has no answer.
	ErrAnswerRequired = errors.New("feeds: answer required")
	// ErrOutOfOrder is returned when a round is older than the latest one.
	ErrOutOfOrder = errors.New("feeds: round older than latest")
	// ErrAlreadyReported is returned when restoring a feed that already
	// holds rounds.
	ErrAlreadyReported = errors.New("feeds: feed already has rounds")
)

// Store persists the retained rounds of a feed. SaveRounds receives the full
// retained history, oldest first, and must succeed before a pushed round
// becomes visible.
type Store interface {
	SaveRounds(feed crypto.Address, rounds []dsc.RoundData) error
}

// Feed is an in-process price aggregator. Operators push answers and the
// engine reads the latest round through dsc.PriceSource.
type Feed struct {
	address     crypto.Address
	description string

	mu     sync.RWMutex
	rounds []dsc.RoundData
	nextID uint64
}

// Address returns the feed's address.
func (f *Feed) Address() crypto.Address { return f.address }

// Description returns the human readable pair name, e.g. "ETH / USD".
func (f *Feed) Description() string { return f.description }

// Decimals returns the number of fractional digits in every answer.
func (f *Feed) Decimals() int { return dsc.FeedDecimals }

// LatestRoundData implements dsc.PriceSource.
func (f *Feed) LatestRoundData() (dsc.RoundData, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.rounds) == 0 {
		return dsc.RoundData{}, ErrNoRounds
	}
	return copyRound(f.rounds[len(f.rounds)-1]), nil
}

// GetRoundData returns a retained round by id.
func (f *Feed) GetRoundData(id uint64) (dsc.RoundData, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	idx := sort.Search(len(f.rounds), func(i int) bool { return f.rounds[i].RoundID >= id })
	if idx == len(f.rounds) || f.rounds[idx].RoundID != id {
		return dsc.RoundData{}, fmt.Errorf("%w: %d", ErrRoundNotFound, id)
	}
	return copyRound(f.rounds[idx]), nil
}

// History returns up to limit of the most recent rounds, newest first. A
// non-positive limit returns everything retained.
func (f *Feed) History(limit int) []dsc.RoundData {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if limit <= 0 || limit > len(f.rounds) {
		limit = len(f.rounds)
	}
	out := make([]dsc.RoundData, 0, limit)
	for i := len(f.rounds) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, copyRound(f.rounds[i]))
	}
	return out
}

func (f *Feed) push(store Store, answer *big.Int, updatedAt time.Time) (dsc.RoundData, error) {
	if answer == nil {
		return dsc.RoundData{}, ErrAnswerRequired
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := len(f.rounds); n > 0 && updatedAt.Before(f.rounds[n-1].UpdatedAt) {
		return dsc.RoundData{}, ErrOutOfOrder
	}
	id := f.nextID + 1
	round := dsc.RoundData{
		RoundID:         id,
		Answer:          new(big.Int).Set(answer),
		StartedAt:       updatedAt,
		UpdatedAt:       updatedAt,
		AnsweredInRound: id,
	}
	rounds := append(append(make([]dsc.RoundData, 0, len(f.rounds)+1), f.rounds...), round)
	if len(rounds) > maxHistory {
		rounds = rounds[len(rounds)-maxHistory:]
	}
	if store != nil {
		if err := store.SaveRounds(f.address, rounds); err != nil {
			return dsc.RoundData{}, fmt.Errorf("feeds: persist round for %s: %w", f.address, err)
		}
	}
	f.rounds = rounds
	f.nextID = id
	return copyRound(round), nil
}

// restore loads persisted rounds into an empty feed. Round ids continue from
// the newest restored round.
func (f *Feed) restore(rounds []dsc.RoundData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rounds) > 0 {
		return ErrAlreadyReported
	}
	for i := 1; i < len(rounds); i++ {
		if rounds[i].RoundID <= rounds[i-1].RoundID || rounds[i].UpdatedAt.Before(rounds[i-1].UpdatedAt) {
			return fmt.Errorf("%w: restored round %d", ErrOutOfOrder, rounds[i].RoundID)
		}
	}
	if len(rounds) > maxHistory {
		rounds = rounds[len(rounds)-maxHistory:]
	}
	f.rounds = make([]dsc.RoundData, 0, len(rounds))
	for _, r := range rounds {
		f.rounds = append(f.rounds, copyRound(r))
	}
	if n := len(f.rounds); n > 0 {
		f.nextID = f.rounds[n-1].RoundID
	}
	return nil
}

func copyRound(r dsc.RoundData) dsc.RoundData {
	if r.Answer != nil {
		r.Answer = new(big.Int).Set(r.Answer)
	}
	return r
}

// Registry owns every feed known to the daemon.
type Registry struct {
	mu    sync.RWMutex
	feeds map[crypto.Address]*Feed
	store Store
	now   func() time.Time
}

// NewRegistry constructs an empty registry. now stamps rounds pushed without
// an explicit timestamp.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{feeds: make(map[crypto.Address]*Feed), now: now}
}

// SetStore persists every subsequent push through store.
func (r *Registry) SetStore(store Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store = store
}

// Restore loads previously persisted rounds into the feed at address. The
// feed must not have received any round yet.
func (r *Registry) Restore(address crypto.Address, rounds []dsc.RoundData) error {
	feed, err := r.Get(address)
	if err != nil {
		return err
	}
	if err := feed.restore(rounds); err != nil {
		return err
	}
	if latest, err := feed.LatestRoundData(); err == nil {
		observability.Feeds().RecordRound(address.String(), latest.Answer, dsc.FeedDecimals, latest.UpdatedAt)
	}
	return nil
}

// Register adds a feed.
func (r *Registry) Register(address crypto.Address, description string) (*Feed, error) {
	if address.IsZero() {
		return nil, dsc.ErrZeroAddress
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.feeds[address]; ok {
		return nil, ErrDuplicateFeed
	}
	feed := &Feed{address: address, description: description}
	r.feeds[address] = feed
	return feed, nil
}

// Get returns the feed registered at address.
func (r *Registry) Get(address crypto.Address) (*Feed, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	feed, ok := r.feeds[address]
	if !ok {
		return nil, ErrFeedNotFound
	}
	return feed, nil
}

// Push appends a round to the feed at address. A zero updatedAt is stamped
// with the registry clock.
func (r *Registry) Push(address crypto.Address, answer *big.Int, updatedAt time.Time) (dsc.RoundData, error) {
	feed, err := r.Get(address)
	if err != nil {
		return dsc.RoundData{}, err
	}
	if updatedAt.IsZero() {
		updatedAt = r.now()
	}
	r.mu.RLock()
	store := r.store
	r.mu.RUnlock()
	round, err := feed.push(store, answer, updatedAt)
	if err != nil {
		return dsc.RoundData{}, err
	}
	observability.Feeds().RecordRound(address.String(), round.Answer, dsc.FeedDecimals, round.UpdatedAt)
	return round, nil
}

// Sources returns every feed as a dsc.PriceSource keyed by address.
func (r *Registry) Sources() map[crypto.Address]dsc.PriceSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[crypto.Address]dsc.PriceSource, len(r.feeds))
	for addr, feed := range r.feeds {
		out[addr] = feed
	}
	return out
}

// Addresses returns the registered feed addresses in byte order.
func (r *Registry) Addresses() []crypto.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]crypto.Address, 0, len(r.feeds))
	for addr := range r.feeds {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i].Bytes()) < string(out[j].Bytes())
	})
	return out
}

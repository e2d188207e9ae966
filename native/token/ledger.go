package token

import (
	"errors"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"dscengine/crypto"
)

var (
	ErrInvalidAmount         = errors.New("token: amount must be positive")
	ErrZeroAddress           = errors.New("token: zero address")
	ErrInsufficientBalance   = errors.New("token: transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrSupplyOverflow        = errors.New("token: supply overflow")
	ErrInvalidSnapshot       = errors.New("token: unknown snapshot")
)

type holderKey struct {
	asset  crypto.Address
	holder crypto.Address
}

type allowanceKey struct {
	asset   crypto.Address
	owner   crypto.Address
	spender crypto.Address
}

// Ledger is a multi-asset fungible balance book with allowance semantics.
// Every mutation is journaled so a caller can take a snapshot, perform a
// series of transfers and roll all of them back if a later step fails.
type Ledger struct {
	mu         sync.RWMutex
	balances   map[holderKey]*uint256.Int
	allowances map[allowanceKey]*uint256.Int
	supply     map[crypto.Address]*uint256.Int

	journal   []journalEntry
	revisions []revision
	nextRevID int
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances:   make(map[holderKey]*uint256.Int),
		allowances: make(map[allowanceKey]*uint256.Int),
		supply:     make(map[crypto.Address]*uint256.Int),
	}
}

// BalanceOf returns the holder's balance of asset.
func (l *Ledger) BalanceOf(asset, holder crypto.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneOrZero(l.balances[holderKey{asset, holder}])
}

// Allowance returns how much spender may move from owner's balance of asset.
func (l *Ledger) Allowance(asset, owner, spender crypto.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneOrZero(l.allowances[allowanceKey{asset, owner, spender}])
}

// TotalSupply returns the outstanding supply of asset.
func (l *Ledger) TotalSupply(asset crypto.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneOrZero(l.supply[asset])
}

// Assets lists every asset with a non-zero supply, sorted by address.
func (l *Ledger) Assets() []crypto.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]crypto.Address, 0, len(l.supply))
	for asset, total := range l.supply {
		if total != nil && !total.IsZero() {
			out = append(out, asset)
		}
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i][:]) < string(out[j][:]) })
	return out
}

// Approve sets spender's allowance over owner's balance of asset.
func (l *Ledger) Approve(asset, owner, spender crypto.Address, amount *uint256.Int) error {
	if owner.IsZero() || spender.IsZero() {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setAllowance(allowanceKey{asset, owner, spender}, cloneOrZero(amount))
	return nil
}

// Transfer moves amount of asset from one holder to another.
func (l *Ledger) Transfer(asset, from, to crypto.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	if from.IsZero() || to.IsZero() {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(asset, from, to, amount)
}

// TransferFrom moves amount of asset from owner to recipient on behalf of
// spender, consuming spender's allowance.
func (l *Ledger) TransferFrom(asset, spender, owner, recipient crypto.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	if owner.IsZero() || recipient.IsZero() || spender.IsZero() {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := allowanceKey{asset, owner, spender}
	allowance := cloneOrZero(l.allowances[key])
	if allowance.Lt(amount) {
		return ErrInsufficientAllowance
	}
	if err := l.move(asset, owner, recipient, amount); err != nil {
		return err
	}
	if allowance.Eq(maxAllowance) {
		return nil
	}
	l.setAllowance(key, new(uint256.Int).Sub(allowance, amount))
	return nil
}

// Mint credits amount of asset to holder and grows the supply. Access control
// belongs to the asset's controller.
func (l *Ledger) Mint(asset, holder crypto.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	if holder.IsZero() {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	supply, overflow := new(uint256.Int).AddOverflow(cloneOrZero(l.supply[asset]), amount)
	if overflow {
		return ErrSupplyOverflow
	}
	key := holderKey{asset, holder}
	balance := new(uint256.Int).Add(cloneOrZero(l.balances[key]), amount)
	l.setSupply(asset, supply)
	l.setBalance(key, balance)
	return nil
}

// Burn destroys amount of asset held by holder.
func (l *Ledger) Burn(asset, holder crypto.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := holderKey{asset, holder}
	balance := cloneOrZero(l.balances[key])
	if balance.Lt(amount) {
		return ErrInsufficientBalance
	}
	l.setBalance(key, new(uint256.Int).Sub(balance, amount))
	l.setSupply(asset, new(uint256.Int).Sub(cloneOrZero(l.supply[asset]), amount))
	return nil
}

func (l *Ledger) move(asset, from, to crypto.Address, amount *uint256.Int) error {
	fromKey := holderKey{asset, from}
	balance := cloneOrZero(l.balances[fromKey])
	if balance.Lt(amount) {
		return ErrInsufficientBalance
	}
	l.setBalance(fromKey, new(uint256.Int).Sub(balance, amount))
	toKey := holderKey{asset, to}
	l.setBalance(toKey, new(uint256.Int).Add(cloneOrZero(l.balances[toKey]), amount))
	return nil
}

var maxAllowance = new(uint256.Int).SetAllOne()

// MaxAllowance returns the sentinel allowance that is never decremented.
func MaxAllowance() *uint256.Int { return new(uint256.Int).Set(maxAllowance) }

func cloneOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

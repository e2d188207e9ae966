package stablecoin

import (
	"errors"
	"sync"

	"github.com/holiman/uint256"

	"dscengine/crypto"
	"dscengine/native/token"
)

var (
	ErrAmountMustBeMoreThanZero = errors.New("stablecoin: amount must be more than zero")
	ErrBurnAmountExceedsBalance = errors.New("stablecoin: burn amount exceeds balance")
	ErrZeroAddress              = errors.New("stablecoin: zero address")
	ErrUnauthorized             = errors.New("stablecoin: caller is not the owner")
)

const (
	Name   = "Decentralized Stable Coin"
	Symbol = "DSC"
)

// Coin is the controller of the pegged synthetic token. Balances live in the
// shared token ledger under the coin's asset address; only the owner may mint
// new units or burn units it holds.
type Coin struct {
	mu      sync.RWMutex
	ledger  *token.Ledger
	address crypto.Address
	owner   crypto.Address
}

// New returns a coin controller whose balances are kept in ledger.
func New(ledger *token.Ledger, address, owner crypto.Address) (*Coin, error) {
	if ledger == nil {
		return nil, errors.New("stablecoin: ledger required")
	}
	if address.IsZero() || owner.IsZero() {
		return nil, ErrZeroAddress
	}
	return &Coin{ledger: ledger, address: address, owner: owner}, nil
}

// Address returns the asset address of the coin.
func (c *Coin) Address() crypto.Address { return c.address }

// Owner returns the sole account allowed to mint and burn.
func (c *Coin) Owner() crypto.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.owner
}

// TransferOwnership hands mint/burn authority to newOwner. Deployments move
// ownership to the engine right after construction.
func (c *Coin) TransferOwnership(caller, newOwner crypto.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if caller != c.owner {
		return ErrUnauthorized
	}
	if newOwner.IsZero() {
		return ErrZeroAddress
	}
	c.owner = newOwner
	return nil
}

// Mint creates amount units for to. The boolean mirrors the success flag the
// engine checks before treating the mint as complete.
func (c *Coin) Mint(caller, to crypto.Address, amount *uint256.Int) (bool, error) {
	if err := c.authorize(caller); err != nil {
		return false, err
	}
	if to.IsZero() {
		return false, ErrZeroAddress
	}
	if amount == nil || amount.IsZero() {
		return false, ErrAmountMustBeMoreThanZero
	}
	if err := c.ledger.Mint(c.address, to, amount); err != nil {
		return false, err
	}
	return true, nil
}

// Burn destroys amount units from the owner's own balance.
func (c *Coin) Burn(caller crypto.Address, amount *uint256.Int) error {
	if err := c.authorize(caller); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return ErrAmountMustBeMoreThanZero
	}
	if c.ledger.BalanceOf(c.address, caller).Lt(amount) {
		return ErrBurnAmountExceedsBalance
	}
	return c.ledger.Burn(c.address, caller, amount)
}

// BalanceOf returns holder's coin balance.
func (c *Coin) BalanceOf(holder crypto.Address) *uint256.Int {
	return c.ledger.BalanceOf(c.address, holder)
}

// TotalSupply returns the outstanding coin supply.
func (c *Coin) TotalSupply() *uint256.Int {
	return c.ledger.TotalSupply(c.address)
}

func (c *Coin) authorize(caller crypto.Address) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if caller != c.owner {
		return ErrUnauthorized
	}
	return nil
}

package token

import (
	"bytes"
	"sort"

	"github.com/holiman/uint256"

	"dscengine/crypto"
)

// BalanceEntry is one non-zero holding.
type BalanceEntry struct {
	Asset  crypto.Address
	Holder crypto.Address
	Amount *uint256.Int
}

// AllowanceEntry is one non-zero approval.
type AllowanceEntry struct {
	Asset   crypto.Address
	Owner   crypto.Address
	Spender crypto.Address
	Amount  *uint256.Int
}

// SupplyEntry is the outstanding supply of one asset.
type SupplyEntry struct {
	Asset  crypto.Address
	Amount *uint256.Int
}

// Dump is a deterministic copy of the whole ledger used for persistence.
type Dump struct {
	Balances   []BalanceEntry
	Allowances []AllowanceEntry
	Supplies   []SupplyEntry
}

// Export returns every non-zero entry sorted by key.
func (l *Ledger) Export() Dump {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var dump Dump
	for key, amount := range l.balances {
		if amount == nil || amount.IsZero() {
			continue
		}
		dump.Balances = append(dump.Balances, BalanceEntry{Asset: key.asset, Holder: key.holder, Amount: cloneOrZero(amount)})
	}
	for key, amount := range l.allowances {
		if amount == nil || amount.IsZero() {
			continue
		}
		dump.Allowances = append(dump.Allowances, AllowanceEntry{Asset: key.asset, Owner: key.owner, Spender: key.spender, Amount: cloneOrZero(amount)})
	}
	for asset, amount := range l.supply {
		if amount == nil || amount.IsZero() {
			continue
		}
		dump.Supplies = append(dump.Supplies, SupplyEntry{Asset: asset, Amount: cloneOrZero(amount)})
	}
	sort.Slice(dump.Balances, func(i, j int) bool {
		a, b := dump.Balances[i], dump.Balances[j]
		if c := bytes.Compare(a.Asset[:], b.Asset[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(a.Holder[:], b.Holder[:]) < 0
	})
	sort.Slice(dump.Allowances, func(i, j int) bool {
		a, b := dump.Allowances[i], dump.Allowances[j]
		if c := bytes.Compare(a.Asset[:], b.Asset[:]); c != 0 {
			return c < 0
		}
		if c := bytes.Compare(a.Owner[:], b.Owner[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(a.Spender[:], b.Spender[:]) < 0
	})
	sort.Slice(dump.Supplies, func(i, j int) bool {
		return bytes.Compare(dump.Supplies[i].Asset[:], dump.Supplies[j].Asset[:]) < 0
	})
	return dump
}

// Restore replaces the ledger contents with dump and clears the journal.
func (l *Ledger) Restore(dump Dump) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances = make(map[holderKey]*uint256.Int, len(dump.Balances))
	l.allowances = make(map[allowanceKey]*uint256.Int, len(dump.Allowances))
	l.supply = make(map[crypto.Address]*uint256.Int, len(dump.Supplies))
	for _, entry := range dump.Balances {
		l.balances[holderKey{entry.Asset, entry.Holder}] = cloneOrZero(entry.Amount)
	}
	for _, entry := range dump.Allowances {
		l.allowances[allowanceKey{entry.Asset, entry.Owner, entry.Spender}] = cloneOrZero(entry.Amount)
	}
	for _, entry := range dump.Supplies {
		l.supply[entry.Asset] = cloneOrZero(entry.Amount)
	}
	l.journal = l.journal[:0]
	l.revisions = l.revisions[:0]
}

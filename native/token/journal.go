package token

import (
	"github.com/holiman/uint256"

	"dscengine/crypto"
)

// journalEntry undoes a single ledger mutation.
type journalEntry interface {
	revert(l *Ledger)
}

type balanceChange struct {
	key  holderKey
	prev *uint256.Int
}

func (c balanceChange) revert(l *Ledger) {
	if c.prev == nil {
		delete(l.balances, c.key)
		return
	}
	l.balances[c.key] = c.prev
}

type allowanceChange struct {
	key  allowanceKey
	prev *uint256.Int
}

func (c allowanceChange) revert(l *Ledger) {
	if c.prev == nil {
		delete(l.allowances, c.key)
		return
	}
	l.allowances[c.key] = c.prev
}

type supplyChange struct {
	asset crypto.Address
	prev  *uint256.Int
}

func (c supplyChange) revert(l *Ledger) {
	if c.prev == nil {
		delete(l.supply, c.asset)
		return
	}
	l.supply[c.asset] = c.prev
}

type revision struct {
	id           int
	journalIndex int
}

func (l *Ledger) setBalance(key holderKey, value *uint256.Int) {
	l.journal = append(l.journal, balanceChange{key: key, prev: l.balances[key]})
	l.balances[key] = value
}

func (l *Ledger) setAllowance(key allowanceKey, value *uint256.Int) {
	l.journal = append(l.journal, allowanceChange{key: key, prev: l.allowances[key]})
	l.allowances[key] = value
}

func (l *Ledger) setSupply(asset crypto.Address, value *uint256.Int) {
	l.journal = append(l.journal, supplyChange{asset: asset, prev: l.supply[asset]})
	l.supply[asset] = value
}

// Snapshot returns an identifier for the current ledger revision.
func (l *Ledger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextRevID
	l.nextRevID++
	l.revisions = append(l.revisions, revision{id: id, journalIndex: len(l.journal)})
	return id
}

// RevertToSnapshot undoes every mutation made since the snapshot was taken.
// Snapshots taken after revid are discarded as well.
func (l *Ledger) RevertToSnapshot(revid int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := -1
	for i := len(l.revisions) - 1; i >= 0; i-- {
		if l.revisions[i].id == revid {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrInvalidSnapshot
	}
	target := l.revisions[idx].journalIndex
	for i := len(l.journal) - 1; i >= target; i-- {
		l.journal[i].revert(l)
	}
	l.journal = l.journal[:target]
	l.revisions = l.revisions[:idx]
	return nil
}

// Finalise drops the journal once no open snapshot needs it. Mutations made
// before Finalise can no longer be reverted.
func (l *Ledger) Finalise() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.journal = l.journal[:0]
	l.revisions = l.revisions[:0]
}

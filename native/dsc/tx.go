package dsc

import (
	"dscengine/core/events"
	"dscengine/crypto"
)

// engineTx buffers everything one operation changes. Positions are written to
// an overlay, token movements are journaled in the token ledger under a
// snapshot, and events are held back until commit.
type engineTx struct {
	base     State
	tokens   TokenLedger
	snapshot int
	dirty    map[crypto.Address]*Position
	order    []crypto.Address
	events   []events.Event
}

func newEngineTx(base State, tokens TokenLedger) *engineTx {
	return &engineTx{
		base:     base,
		tokens:   tokens,
		snapshot: tokens.Snapshot(),
		dirty:    make(map[crypto.Address]*Position),
	}
}

// position returns the working copy of owner's position, loading it from the
// committed store on first access.
func (tx *engineTx) position(owner crypto.Address) (*Position, error) {
	if p, ok := tx.dirty[owner]; ok {
		return p, nil
	}
	stored, err := tx.base.Position(owner)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		stored = newPosition(owner)
	}
	stored.ensureDefaults()
	tx.dirty[owner] = stored
	tx.order = append(tx.order, owner)
	return stored, nil
}

func (tx *engineTx) emit(ev events.Event) {
	tx.events = append(tx.events, ev)
}

func (tx *engineTx) rollback() {
	// A snapshot id handed out by this transaction is always valid here.
	_ = tx.tokens.RevertToSnapshot(tx.snapshot)
	tx.dirty = nil
	tx.order = nil
	tx.events = nil
}

func (tx *engineTx) commit(emitter events.Emitter) error {
	batch := make([]*Position, 0, len(tx.order))
	for _, owner := range tx.order {
		batch = append(batch, tx.dirty[owner])
	}
	if err := tx.base.PutPositions(batch...); err != nil {
		tx.rollback()
		return err
	}
	tx.tokens.Finalise()
	if emitter != nil {
		for _, ev := range tx.events {
			emitter.Emit(ev)
		}
	}
	return nil
}

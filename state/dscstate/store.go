package dscstate

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"dscengine/crypto"
	"dscengine/native/dsc"
	"dscengine/native/token"
	"dscengine/storage"
)

var (
	positionPrefix = []byte("dsc/position/")
	ledgerKey      = []byte("token/ledger")
)

var errAmountOverflow = errors.New("dscstate: stored amount exceeds 256 bits")

// LedgerExporter supplies the token balances persisted alongside positions.
type LedgerExporter interface {
	Export() token.Dump
}

// Store persists engine positions in a key-value database. When a ledger is
// attached, every position batch also records the ledger so collateral
// custody and positions are written in the same database batch.
type Store struct {
	db     storage.Database
	ledger LedgerExporter
}

// New returns a store backed by db.
func New(db storage.Database) *Store {
	return &Store{db: db}
}

// AttachLedger includes ledger in every PutPositions batch.
func (s *Store) AttachLedger(ledger LedgerExporter) {
	s.ledger = ledger
}

func positionKey(owner crypto.Address) []byte {
	key := make([]byte, len(positionPrefix)+crypto.AddressLength)
	copy(key, positionPrefix)
	copy(key[len(positionPrefix):], owner[:])
	return key
}

type collateralRecord struct {
	Asset  [crypto.AddressLength]byte
	Amount *big.Int
}

type positionRecord struct {
	Owner      [crypto.AddressLength]byte
	Collateral []collateralRecord
	Debt       *big.Int
}

func encodePosition(pos *dsc.Position) ([]byte, error) {
	record := positionRecord{Owner: pos.Owner, Debt: new(big.Int)}
	if pos.DebtMinted != nil {
		record.Debt = pos.DebtMinted.ToBig()
	}
	for _, asset := range pos.Assets() {
		record.Collateral = append(record.Collateral, collateralRecord{
			Asset:  asset,
			Amount: pos.CollateralOf(asset).ToBig(),
		})
	}
	return rlp.EncodeToBytes(record)
}

func decodePosition(data []byte) (*dsc.Position, error) {
	var record positionRecord
	if err := rlp.DecodeBytes(data, &record); err != nil {
		return nil, err
	}
	debt, err := toUint256(record.Debt)
	if err != nil {
		return nil, err
	}
	pos := &dsc.Position{
		Owner:      record.Owner,
		Collateral: make(map[crypto.Address]*uint256.Int, len(record.Collateral)),
		DebtMinted: debt,
	}
	for _, entry := range record.Collateral {
		amount, err := toUint256(entry.Amount)
		if err != nil {
			return nil, err
		}
		pos.Collateral[entry.Asset] = amount
	}
	return pos, nil
}

func toUint256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, errAmountOverflow
	}
	return out, nil
}

// Position implements dsc.State.
func (s *Store) Position(owner crypto.Address) (*dsc.Position, error) {
	data, err := s.db.Get(positionKey(owner))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	pos, err := decodePosition(data)
	if err != nil {
		return nil, fmt.Errorf("dscstate: decode position %s: %w", owner, err)
	}
	return pos, nil
}

// PutPositions implements dsc.State with a single database batch.
func (s *Store) PutPositions(positions ...*dsc.Position) error {
	batch := s.db.NewBatch()
	for _, pos := range positions {
		if pos == nil {
			continue
		}
		encoded, err := encodePosition(pos)
		if err != nil {
			return fmt.Errorf("dscstate: encode position %s: %w", pos.Owner, err)
		}
		batch.Put(positionKey(pos.Owner), encoded)
	}
	if s.ledger != nil {
		encoded, err := encodeLedger(s.ledger.Export())
		if err != nil {
			return err
		}
		batch.Put(ledgerKey, encoded)
	}
	return batch.Write()
}

// Owners implements dsc.State.
func (s *Store) Owners() ([]crypto.Address, error) {
	var owners []crypto.Address
	err := s.db.Iterate(positionPrefix, func(key, _ []byte) bool {
		if len(key) == len(positionPrefix)+crypto.AddressLength {
			owners = append(owners, crypto.BytesToAddress(key[len(positionPrefix):]))
		}
		return true
	})
	return owners, err
}

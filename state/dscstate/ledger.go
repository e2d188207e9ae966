package dscstate

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"dscengine/crypto"
	"dscengine/native/token"
	"dscengine/storage"
)

type balanceRecord struct {
	Asset  [crypto.AddressLength]byte
	Holder [crypto.AddressLength]byte
	Amount *big.Int
}

type allowanceRecord struct {
	Asset   [crypto.AddressLength]byte
	Owner   [crypto.AddressLength]byte
	Spender [crypto.AddressLength]byte
	Amount  *big.Int
}

type supplyRecord struct {
	Asset  [crypto.AddressLength]byte
	Amount *big.Int
}

type ledgerRecord struct {
	Balances   []balanceRecord
	Allowances []allowanceRecord
	Supplies   []supplyRecord
}

func encodeLedger(dump token.Dump) ([]byte, error) {
	var record ledgerRecord
	for _, b := range dump.Balances {
		record.Balances = append(record.Balances, balanceRecord{Asset: b.Asset, Holder: b.Holder, Amount: b.Amount.ToBig()})
	}
	for _, a := range dump.Allowances {
		record.Allowances = append(record.Allowances, allowanceRecord{Asset: a.Asset, Owner: a.Owner, Spender: a.Spender, Amount: a.Amount.ToBig()})
	}
	for _, s := range dump.Supplies {
		record.Supplies = append(record.Supplies, supplyRecord{Asset: s.Asset, Amount: s.Amount.ToBig()})
	}
	encoded, err := rlp.EncodeToBytes(record)
	if err != nil {
		return nil, fmt.Errorf("dscstate: encode ledger: %w", err)
	}
	return encoded, nil
}

func decodeLedger(data []byte) (token.Dump, error) {
	var record ledgerRecord
	if err := rlp.DecodeBytes(data, &record); err != nil {
		return token.Dump{}, fmt.Errorf("dscstate: decode ledger: %w", err)
	}
	var dump token.Dump
	for _, b := range record.Balances {
		amount, err := toUint256(b.Amount)
		if err != nil {
			return token.Dump{}, err
		}
		dump.Balances = append(dump.Balances, token.BalanceEntry{Asset: b.Asset, Holder: b.Holder, Amount: amount})
	}
	for _, a := range record.Allowances {
		amount, err := toUint256(a.Amount)
		if err != nil {
			return token.Dump{}, err
		}
		dump.Allowances = append(dump.Allowances, token.AllowanceEntry{Asset: a.Asset, Owner: a.Owner, Spender: a.Spender, Amount: amount})
	}
	for _, s := range record.Supplies {
		amount, err := toUint256(s.Amount)
		if err != nil {
			return token.Dump{}, err
		}
		dump.Supplies = append(dump.Supplies, token.SupplyEntry{Asset: s.Asset, Amount: amount})
	}
	return dump, nil
}

// SaveLedger persists dump outside of an engine operation, for approvals and
// genesis allocations.
func (s *Store) SaveLedger(dump token.Dump) error {
	encoded, err := encodeLedger(dump)
	if err != nil {
		return err
	}
	return s.db.Put(ledgerKey, encoded)
}

// LoadLedger returns the persisted ledger. The boolean is false when nothing
// has been stored yet.
func (s *Store) LoadLedger() (token.Dump, bool, error) {
	data, err := s.db.Get(ledgerKey)
	if errors.Is(err, storage.ErrNotFound) {
		return token.Dump{}, false, nil
	}
	if err != nil {
		return token.Dump{}, false, err
	}
	dump, err := decodeLedger(data)
	if err != nil {
		return token.Dump{}, false, err
	}
	return dump, true, nil
}

package dscstate

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"dscengine/crypto"
	"dscengine/native/dsc"
	"dscengine/storage"
)

var feedPrefix = []byte("feed/")

// roundRecord stores a signed answer as magnitude plus sign since RLP only
// encodes non-negative integers. Timestamps are unix nanoseconds.
type roundRecord struct {
	RoundID         uint64
	Negative        bool
	Answer          *big.Int
	StartedAt       uint64
	UpdatedAt       uint64
	AnsweredInRound uint64
}

func feedKey(feed crypto.Address) []byte {
	key := make([]byte, len(feedPrefix)+crypto.AddressLength)
	copy(key, feedPrefix)
	copy(key[len(feedPrefix):], feed[:])
	return key
}

func unixNano(t time.Time) uint64 {
	if t.IsZero() || t.UnixNano() < 0 {
		return 0
	}
	return uint64(t.UnixNano())
}

func fromUnixNano(v uint64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(v)).UTC()
}

func encodeRounds(rounds []dsc.RoundData) ([]byte, error) {
	records := make([]roundRecord, 0, len(rounds))
	for _, r := range rounds {
		record := roundRecord{
			RoundID:         r.RoundID,
			Answer:          new(big.Int),
			StartedAt:       unixNano(r.StartedAt),
			UpdatedAt:       unixNano(r.UpdatedAt),
			AnsweredInRound: r.AnsweredInRound,
		}
		if r.Answer != nil {
			record.Negative = r.Answer.Sign() < 0
			record.Answer.Abs(r.Answer)
		}
		records = append(records, record)
	}
	return rlp.EncodeToBytes(records)
}

func decodeRounds(data []byte) ([]dsc.RoundData, error) {
	var records []roundRecord
	if err := rlp.DecodeBytes(data, &records); err != nil {
		return nil, err
	}
	rounds := make([]dsc.RoundData, 0, len(records))
	for _, record := range records {
		answer := new(big.Int)
		if record.Answer != nil {
			answer.Set(record.Answer)
		}
		if record.Negative {
			answer.Neg(answer)
		}
		rounds = append(rounds, dsc.RoundData{
			RoundID:         record.RoundID,
			Answer:          answer,
			StartedAt:       fromUnixNano(record.StartedAt),
			UpdatedAt:       fromUnixNano(record.UpdatedAt),
			AnsweredInRound: record.AnsweredInRound,
		})
	}
	return rounds, nil
}

// SaveRounds persists the retained rounds of a price feed, oldest first.
func (s *Store) SaveRounds(feed crypto.Address, rounds []dsc.RoundData) error {
	encoded, err := encodeRounds(rounds)
	if err != nil {
		return fmt.Errorf("dscstate: encode rounds for %s: %w", feed, err)
	}
	return s.db.Put(feedKey(feed), encoded)
}

// LoadRounds returns the persisted rounds of a price feed. The boolean is
// false when the feed has never been written.
func (s *Store) LoadRounds(feed crypto.Address) ([]dsc.RoundData, bool, error) {
	data, err := s.db.Get(feedKey(feed))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	rounds, err := decodeRounds(data)
	if err != nil {
		return nil, false, fmt.Errorf("dscstate: decode rounds for %s: %w", feed, err)
	}
	return rounds, true, nil
}

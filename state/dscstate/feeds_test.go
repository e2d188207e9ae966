package dscstate

import (
	"math/big"
	"testing"
	"time"

	"dscengine/native/dsc"
	"dscengine/storage"
)

func TestRoundsRoundTrip(t *testing.T) {
	store := New(storage.NewMemDB())
	feed := addr(0xFE, 1)

	if _, ok, err := store.LoadRounds(feed); err != nil || ok {
		t.Fatalf("expected no rounds, got found=%v err=%v", ok, err)
	}

	at := time.Date(2024, 3, 1, 12, 0, 0, 123, time.UTC)
	rounds := []dsc.RoundData{
		{RoundID: 7, Answer: big.NewInt(2000e8), StartedAt: at, UpdatedAt: at, AnsweredInRound: 7},
		{RoundID: 8, Answer: big.NewInt(-5), StartedAt: at.Add(time.Hour), UpdatedAt: at.Add(time.Hour), AnsweredInRound: 8},
	}
	if err := store.SaveRounds(feed, rounds); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := store.LoadRounds(feed)
	if err != nil || !ok {
		t.Fatalf("load: found=%v err=%v", ok, err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rounds, got %d", len(got))
	}
	if got[0].RoundID != 7 || got[0].Answer.Cmp(big.NewInt(2000e8)) != 0 || !got[0].UpdatedAt.Equal(at) {
		t.Fatalf("unexpected first round %+v", got[0])
	}
	if got[1].Answer.Cmp(big.NewInt(-5)) != 0 || got[1].AnsweredInRound != 8 {
		t.Fatalf("negative answer not preserved: %+v", got[1])
	}

	// Feed records do not show up as position owners.
	owners, err := store.Owners()
	if err != nil || len(owners) != 0 {
		t.Fatalf("unexpected owners %v / %v", owners, err)
	}
}

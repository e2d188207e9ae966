package events

import (
	"testing"

	"github.com/holiman/uint256"

	"dscengine/crypto"
)

func addr(b byte) crypto.Address {
	var a crypto.Address
	a[19] = b
	return a
}

func TestCollateralDepositedEvent(t *testing.T) {
	evt := CollateralDeposited{
		Account: addr(1),
		Asset:   addr(2),
		Amount:  uint256.NewInt(10_000),
	}.Event()
	if evt.Type != TypeCollateralDeposited {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	if evt.Attributes["account"] != addr(1).String() || evt.Attributes["asset"] != addr(2).String() {
		t.Fatalf("unexpected attrs: %+v", evt.Attributes)
	}
	if evt.Attributes["amount"] != "10000" {
		t.Fatalf("unexpected amount: %s", evt.Attributes["amount"])
	}
}

func TestCollateralRedeemedDistinguishesSeizure(t *testing.T) {
	self := CollateralRedeemed{From: addr(1), To: addr(1), Asset: addr(3), Amount: uint256.NewInt(5)}
	if self.IsSeizure() {
		t.Fatalf("self redemption reported as seizure")
	}
	seized := CollateralRedeemed{From: addr(1), To: addr(9), Asset: addr(3)}
	if !seized.IsSeizure() {
		t.Fatalf("expected seizure")
	}
	evt := seized.Event()
	if evt.Attributes["redeemedFrom"] == evt.Attributes["redeemedTo"] {
		t.Fatalf("expected distinct from/to attributes: %+v", evt.Attributes)
	}
	if evt.Attributes["amount"] != "0" {
		t.Fatalf("nil amount should render as 0, got %s", evt.Attributes["amount"])
	}
}

func TestRecorderAndFanout(t *testing.T) {
	var first, second Recorder
	fan := Fanout{&first, nil, &second, NoopEmitter{}}
	fan.Emit(DSCMinted{Account: addr(1), Amount: uint256.NewInt(1)})
	fan.Emit(DSCBurned{OnBehalfOf: addr(1), Payer: addr(2), Amount: uint256.NewInt(1)})

	for _, rec := range []*Recorder{&first, &second} {
		got := rec.Types()
		if len(got) != 2 || got[0] != TypeDSCMinted || got[1] != TypeDSCBurned {
			t.Fatalf("unexpected recorded types: %v", got)
		}
	}
}

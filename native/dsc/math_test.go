package dsc

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func mustDec(t *testing.T, s string) *uint256.Int {
	t.Helper()
	v, err := uint256.FromDecimal(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

func TestCalculateHealthFactorFormula(t *testing.T) {
	hf, err := CalculateHealthFactor(ether(10000), ether(40000))
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if !hf.Eq(ether(2)) {
		t.Fatalf("expected 2e18, got %s", hf.Dec())
	}

	hf, err = CalculateHealthFactor(ether(10000), ether(18000))
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if want := mustDec(t, "900000000000000000"); !hf.Eq(want) {
		t.Fatalf("expected 0.9e18, got %s", hf.Dec())
	}
	if !hf.Lt(MinHealthFactor()) {
		t.Fatalf("0.9e18 should be below the minimum")
	}
}

func TestCalculateHealthFactorZeroDebt(t *testing.T) {
	for _, value := range []*uint256.Int{nil, uint256.NewInt(0), ether(1), new(uint256.Int).SetAllOne()} {
		hf, err := CalculateHealthFactor(uint256.NewInt(0), value)
		if err != nil {
			t.Fatalf("health factor: %v", err)
		}
		if !hf.Eq(MaxHealthFactor()) {
			t.Fatalf("expected max health factor, got %s", hf.Dec())
		}
	}
}

func TestCalculateHealthFactorOverflow(t *testing.T) {
	_, err := CalculateHealthFactor(uint256.NewInt(1), new(uint256.Int).SetAllOne())
	if !errors.Is(err, ErrMathOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestUsdValueAndInverse(t *testing.T) {
	price := uint256.NewInt(2000e8)
	value, err := UsdValue(price, ether(15))
	if err != nil {
		t.Fatalf("usd value: %v", err)
	}
	if !value.Eq(ether(30000)) {
		t.Fatalf("expected 30000e18, got %s", value.Dec())
	}
	amount, err := TokenAmountFromUSD(price, ether(100))
	if err != nil {
		t.Fatalf("token amount: %v", err)
	}
	if want := mustDec(t, "50000000000000000"); !amount.Eq(want) {
		t.Fatalf("expected 0.05e18, got %s", amount.Dec())
	}
	if _, err := UsdValue(uint256.NewInt(0), ether(1)); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected invalid price, got %v", err)
	}
}

func TestTokenAmountFromUSDRoundsDown(t *testing.T) {
	// 1 wei of USD at $3 per token is a third of a wei.
	amount, err := TokenAmountFromUSD(uint256.NewInt(3e8), uint256.NewInt(1))
	if err != nil {
		t.Fatalf("token amount: %v", err)
	}
	if !amount.IsZero() {
		t.Fatalf("expected floor to zero, got %s", amount.Dec())
	}
}

func TestTotalCollateralToRedeem(t *testing.T) {
	price := uint256.NewInt(800e8)
	debt := ether(200)

	seize, err := TotalCollateralToRedeem(price, debt)
	if err != nil {
		t.Fatalf("seize amounts: %v", err)
	}
	wantToken := mustDec(t, "250000000000000000")
	wantBonus := mustDec(t, "25000000000000000")
	wantTotal := mustDec(t, "275000000000000000")
	if !seize.TokenAmount.Eq(wantToken) {
		t.Fatalf("token amount: got %s", seize.TokenAmount.Dec())
	}
	if !seize.Bonus.Eq(wantBonus) {
		t.Fatalf("bonus: got %s", seize.Bonus.Dec())
	}
	if !seize.Total.Eq(wantTotal) {
		t.Fatalf("total: got %s", seize.Total.Dec())
	}

	// Reproduce the computation inline from the exported constants.
	scaled := new(uint256.Int).Mul(price, AdditionalFeedPrecision())
	inline := new(uint256.Int).Mul(debt, Precision())
	inline.Div(inline, scaled)
	bonus := new(uint256.Int).Mul(inline, uint256.NewInt(LiquidationBonus))
	bonus.Div(bonus, uint256.NewInt(LiquidationPrecision))
	inline.Add(inline, bonus)
	if !inline.Eq(seize.Total) {
		t.Fatalf("inline total %s differs from helper %s", inline.Dec(), seize.Total.Dec())
	}
}

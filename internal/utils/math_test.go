package utils

import (
	"math/big"
	"testing"
)

func TestConvertToShares(t *testing.T) {
	// ratio 2e18: two shares per unit of underlying
	ratio := new(big.Int).Mul(big.NewInt(2), RatioScale)
	shares := ConvertToShares(big.NewInt(100), ratio)
	if shares.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("ConvertToShares = %s, want 200", shares)
	}
}

func TestConvertToUnderlying(t *testing.T) {
	ratio := new(big.Int).Mul(big.NewInt(2), RatioScale)
	underlying := ConvertToUnderlying(big.NewInt(200), ratio)
	if underlying.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("ConvertToUnderlying = %s, want 100", underlying)
	}
}

func TestConversionRoundTripAtParity(t *testing.T) {
	amount := big.NewInt(123456789)
	shares := ConvertToShares(amount, RatioScale)
	back := ConvertToUnderlying(shares, RatioScale)
	if back.Cmp(amount) != 0 {
		t.Fatalf("round trip at 1:1 changed amount: %s -> %s", amount, back)
	}
}

func TestParseAmount(t *testing.T) {
	amount, err := ParseAmount("1000000000000000000")
	if err != nil {
		t.Fatalf("ParseAmount: %v", err)
	}
	if amount.String() != "1000000000000000000" {
		t.Fatalf("ParseAmount = %s", amount)
	}

	if amount, err := ParseAmount(""); err != nil || amount.Sign() != 0 {
		t.Fatalf("ParseAmount(\"\") = %v, %v, want 0, nil", amount, err)
	}

	if _, err := ParseAmount("not-a-number"); err == nil {
		t.Fatal("expected error for non-numeric amount")
	}
	if _, err := ParseAmount("-5"); err == nil {
		t.Fatal("expected error for negative amount")
	}
}

func TestFormatAmount(t *testing.T) {
	if got := FormatAmount(nil); got != "0" {
		t.Fatalf("FormatAmount(nil) = %q, want \"0\"", got)
	}
	if got := FormatAmount(big.NewInt(42)); got != "42" {
		t.Fatalf("FormatAmount(42) = %q", got)
	}
}

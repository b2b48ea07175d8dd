package money

import (
	"encoding/json"
	"testing"
)

func TestParseAndArithmetic(t *testing.T) {
	t.Parallel()

	unit, err := Parse("49.99", "usd")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if unit.Currency != "USD" {
		t.Fatalf("currency not normalised: %s", unit.Currency)
	}

	total := unit.Mul(2)
	if total.String() != "99.98" {
		t.Fatalf("unexpected total: got %s want 99.98", total.String())
	}

	sum, err := total.Add(unit)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if sum.String() != "149.97" {
		t.Fatalf("unexpected sum: %s", sum.String())
	}
}

func TestAddRejectsCurrencyMismatch(t *testing.T) {
	t.Parallel()

	usd, _ := Parse("1.00", "USD")
	eur, _ := Parse("1.00", "EUR")
	if _, err := usd.Add(eur); err == nil {
		t.Fatalf("expected currency mismatch error")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	t.Parallel()

	original, _ := Parse("34.99", "USD")
	encoded, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(encoded) != `{"amount":"34.99","currency":"USD"}` {
		t.Fatalf("unexpected wire form: %s", encoded)
	}

	var decoded Money
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !decoded.Equal(original) {
		t.Fatalf("round trip mismatch: got %+v want %+v", decoded, original)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := Parse("not-a-number", "USD"); err == nil {
		t.Fatalf("expected parse error")
	}
}

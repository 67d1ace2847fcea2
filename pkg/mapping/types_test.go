package mapping

import (
	"testing"
	"time"

	"entitygraph/pkg/identity"

	"github.com/shopspring/decimal"
)

func TestDecimalEqualityIsNumeric(t *testing.T) {
	typ := Decimal(2)
	stored, err := typ.ToRuntime("11.00")
	if err != nil {
		t.Fatalf("to runtime: %v", err)
	}
	for _, other := range []any{decimal.NewFromInt(11), int64(11), float64(11), "11", []byte("11.0")} {
		if !typ.Equal(stored, other) {
			t.Fatalf("expected 11.00 to equal %#v", other)
		}
	}
	if typ.Equal(stored, "11.01") {
		t.Fatalf("expected 11.00 != 11.01")
	}
	if typ.Equal(stored, nil) || !typ.Equal(nil, nil) {
		t.Fatalf("nil handling broken")
	}
	out, _ := typ.ToStorage(decimal.NewFromInt(11))
	if out != "11.00" {
		t.Fatalf("expected fixed scale storage, got %v", out)
	}
}

func TestDecimalRoundsToScale(t *testing.T) {
	typ := Decimal(2)
	rt, err := typ.ToRuntime("11.005")
	if err != nil {
		t.Fatalf("to runtime: %v", err)
	}
	stored, _ := typ.ToStorage("11.005")
	if got := rt.(decimal.Decimal).StringFixed(2); got != stored {
		t.Fatalf("runtime %s and storage %v disagree", got, stored)
	}
	if !typ.Equal("11.00", "11.004") || !typ.Equal("11.005", stored) {
		t.Fatalf("values that store identically must compare equal")
	}
	if typ.Equal("11.00", "11.006") {
		t.Fatalf("expected 11.00 != 11.01 after rounding")
	}
	if typ.(Comparer).Compare("11.004", "11.00") != 0 || typ.(Comparer).Compare("11.006", "11.00") <= 0 {
		t.Fatalf("compare must follow the declared scale")
	}
}

func TestIntegerAndBoolean(t *testing.T) {
	if !Integer.Equal(int64(3), 3) || Integer.Equal(int64(3), int64(4)) {
		t.Fatalf("integer equality broken")
	}
	if _, err := Integer.ToStorage(1.5); err == nil {
		t.Fatalf("expected fractional float to be rejected")
	}
	if !Boolean.Equal(true, int64(1)) {
		t.Fatalf("expected sqlite integer booleans to compare equal")
	}
}

func TestTextLength(t *testing.T) {
	if _, err := Text(3).ToStorage("EUR"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Text(3).ToStorage("EURO"); err == nil {
		t.Fatalf("expected length violation")
	}
	if Text(3).Name() != "text(3)" || String.Name() != "text" {
		t.Fatalf("unexpected names")
	}
}

func TestTimestampPrecision(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.FixedZone("x", 3600))
	rt, err := Timestamp.ToRuntime("2024-05-01 09:00:00.123456+00:00")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !Timestamp.Equal(now, rt) {
		t.Fatalf("expected microsecond-truncated equality, got %v vs %v", now, rt)
	}
	if Timestamp.(Comparer).Compare(now, now.Add(time.Second)) >= 0 {
		t.Fatalf("expected ordering")
	}
}

func TestIdentifierType(t *testing.T) {
	id := identity.New()
	stored, err := Identifier.ToStorage(id)
	if err != nil || stored != id.String() {
		t.Fatalf("to storage: %v %v", stored, err)
	}
	back, err := Identifier.ToRuntime(stored)
	if err != nil || !back.(identity.ID).Equal(id) {
		t.Fatalf("to runtime: %v %v", back, err)
	}
	if !Identifier.Equal(id, id.String()) {
		t.Fatalf("expected string and id forms to be equal")
	}
	if v, _ := Identifier.ToStorage(identity.ID{}); v != nil {
		t.Fatalf("expected zero id to store as NULL")
	}
}

package identity

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewRoundTripsThroughParse(t *testing.T) {
	id := New()
	parsed, err := Parse(id.String())
	if err != nil {
		t.Fatalf("parse generated id: %v", err)
	}
	if !parsed.Equal(id) {
		t.Fatalf("expected %s, got %s", id, parsed)
	}
}

func TestParseCanonicalisesCase(t *testing.T) {
	upper := "0190F3A4-8D7E-7C3B-9E1F-2A3B4C5D6E7F"
	id, err := Parse(upper)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id.String() != strings.ToLower(upper) {
		t.Fatalf("expected lower-case canonical form, got %s", id)
	}
	if !id.Equal(MustParse(strings.ToLower(upper))) {
		t.Fatalf("expected ids differing only in case to be equal")
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "abc", "0190f3a48d7e7c3b9e1f2a3b4c5d6e7f", "{0190f3a4-8d7e-7c3b-9e1f-2a3b4c5d6e7f}", "zz90f3a4-8d7e-7c3b-9e1f-2a3b4c5d6e7f"} {
		if _, err := Parse(in); !errors.Is(err, ErrInvalidIdentifier) {
			t.Fatalf("expected ErrInvalidIdentifier for %q, got %v", in, err)
		}
	}
}

func TestNewIsTimeOrdered(t *testing.T) {
	first := New()
	time.Sleep(2 * time.Millisecond)
	second := New()
	if first.Compare(second) >= 0 {
		t.Fatalf("expected %s < %s", first, second)
	}
	ts, ok := first.Time()
	if !ok {
		t.Fatalf("expected version 7 timestamp")
	}
	if time.Since(ts) > time.Minute {
		t.Fatalf("unexpected embedded time %v", ts)
	}
}

func TestScanAndValue(t *testing.T) {
	id := New()
	v, err := id.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	var scanned ID
	if err := scanned.Scan(v); err != nil {
		t.Fatalf("scan string: %v", err)
	}
	if !scanned.Equal(id) {
		t.Fatalf("scan mismatch")
	}
	var fromBytes ID
	if err := fromBytes.Scan([]byte(id.String())); err != nil || !fromBytes.Equal(id) {
		t.Fatalf("scan bytes: %v", err)
	}
	var zero ID
	if err := zero.Scan(nil); err != nil || !zero.IsZero() {
		t.Fatalf("scan nil: %v", err)
	}
	if _, err := zero.Value(); !errors.Is(err, ErrInvalidIdentifier) {
		t.Fatalf("expected zero id to refuse Value, got %v", err)
	}
	if err := zero.Scan(42); !errors.Is(err, ErrInvalidIdentifier) {
		t.Fatalf("expected unsupported source error, got %v", err)
	}
}

func TestTextMarshalling(t *testing.T) {
	id := New()
	b, _ := id.MarshalText()
	var out ID
	if err := out.UnmarshalText(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.Equal(id) {
		t.Fatalf("text round trip mismatch")
	}
	if err := out.UnmarshalText([]byte("nope")); !errors.Is(err, ErrInvalidIdentifier) {
		t.Fatalf("expected invalid identifier, got %v", err)
	}
}

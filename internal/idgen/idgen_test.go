package idgen

import (
	"strings"
	"testing"
	"time"
)

func TestNew_FormatAndUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New()
		if len(id) != 36 || strings.Count(id, "-") != 4 {
			t.Fatalf("unexpected ID format: %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate ID generated: %q", id)
		}
		seen[id] = true
	}
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("txn_")
	if !strings.HasPrefix(id, "txn_") {
		t.Errorf("missing prefix: %q", id)
	}
	if len(id) != len("txn_")+24 {
		t.Errorf("unexpected length: %q", id)
	}
}

func TestReference(t *testing.T) {
	at := time.Date(2025, 1, 15, 9, 30, 42, 0, time.UTC)
	ref := Reference(at)

	if !strings.HasPrefix(ref, "TRX20250115093042") {
		t.Errorf("unexpected reference prefix: %q", ref)
	}
	if len(ref) != len("TRX20250115093042")+4 {
		t.Errorf("unexpected reference length: %q", ref)
	}

	// Non-UTC input must produce the same timestamp.
	loc := time.FixedZone("plus2", 2*60*60)
	if got := Reference(at.In(loc)); !strings.HasPrefix(got, "TRX20250115093042") {
		t.Errorf("reference not normalized to UTC: %q", got)
	}
}

func TestBillReference(t *testing.T) {
	at := time.Date(2025, 1, 15, 9, 30, 42, 0, time.UTC)
	ref := BillReference(at)

	if !strings.HasPrefix(ref, "BILL20250115093042") {
		t.Errorf("unexpected reference prefix: %q", ref)
	}
	if len(ref) != len("BILL20250115093042")+4 {
		t.Errorf("unexpected reference length: %q", ref)
	}
}

package money

import (
	"math/big"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  int64
		ok    bool
	}{
		{"", 0, true},
		{"0", 0, true},
		{"1", 100, true},
		{"1.5", 150, true},
		{"1.50", 150, true},
		{"100000", 10000000, true},
		{"0.01", 1, true},
		{"1.505", 0, false},   // sub-cent precision
		{"100.999", 0, false}, // would silently move 100.99
		{"-1.00", 0, false},
		{"1.2.3", 0, false},
		{"abc", 0, false},
	}

	for _, tt := range tests {
		got, ok := Parse(tt.input)
		if ok != tt.ok {
			t.Errorf("Parse(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			continue
		}
		if ok && got.Int64() != tt.want {
			t.Errorf("Parse(%q) = %d, want %d", tt.input, got.Int64(), tt.want)
		}
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		input int64
		want  string
	}{
		{0, "0.00"},
		{1, "0.01"},
		{100, "1.00"},
		{150, "1.50"},
		{10000000, "100000.00"},
		{-150, "-1.50"},
	}

	for _, tt := range tests {
		if got := Format(big.NewInt(tt.input)); got != tt.want {
			t.Errorf("Format(%d) = %q, want %q", tt.input, got, tt.want)
		}
	}

	if got := Format(nil); got != "0.00" {
		t.Errorf("Format(nil) = %q, want 0.00", got)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, s := range []string{"0.00", "1.00", "999.99", "100000.00"} {
		parsed, ok := Parse(s)
		if !ok {
			t.Fatalf("Parse(%q) failed", s)
		}
		if got := Format(parsed); got != s {
			t.Errorf("round trip %q -> %q", s, got)
		}
	}
}

func TestArithmetic(t *testing.T) {
	if got := Add("1.50", "2.25"); got != "3.75" {
		t.Errorf("Add = %q, want 3.75", got)
	}
	if got := Sub("1000.00", "200.00"); got != "800.00" {
		t.Errorf("Sub = %q, want 800.00", got)
	}
	if got := Sub("100.00", "150.00"); got != "-50.00" {
		t.Errorf("Sub below zero = %q, want -50.00", got)
	}
	if Cmp("1000.00", "1500.00") != -1 {
		t.Error("Cmp should report 1000 < 1500")
	}
	if Cmp("5.00", "5.00") != 0 {
		t.Error("Cmp should report equality")
	}
	if !IsPositive("0.01") || IsPositive("0") || IsPositive("bad") {
		t.Error("IsPositive misclassified input")
	}
	if got := Div("750.00", 3); got != "250.00" {
		t.Errorf("Div = %q, want 250.00", got)
	}
	if got := Div("100.00", 3); got != "33.33" {
		t.Errorf("Div should truncate at cents, got %q", got)
	}
}

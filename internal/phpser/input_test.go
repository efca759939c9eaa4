package phpser

import (
	"testing"
)

func TestDecodeInput(t *testing.T) {
	want := `a:1:{i:0;s:3:"mon";}`
	tests := map[string]string{
		"prefixed hex": "0x613A313A7B693A303B733A333A226D6F6E223B7D",
		"bare hex":     "613a313a7b693a303b733a333a226d6f6e223b7d",
		"escaped":      `a:1:{i:0;s:3:\"mon\";}`,
		"raw":          " " + want + "\n",
	}
	for name, in := range tests {
		got, err := DecodeInput(in)
		if err != nil {
			t.Fatalf("%s: DecodeInput: %v", name, err)
		}
		if string(got) != want {
			t.Errorf("%s: expected %q, got %q", name, want, got)
		}
	}

	if _, err := DecodeInput("0xZZ"); err == nil {
		t.Error("expected error for invalid hex")
	}
	if got, _ := DecodeInput("1234"); string(got) != "1234" {
		t.Errorf("short hex-looking text should stay raw, got %q", got)
	}
}

func TestIsEmpty(t *testing.T) {
	for _, s := range []string{"", "  ", "0x", "N;"} {
		if !IsEmpty(s) {
			t.Errorf("IsEmpty(%q) = false", s)
		}
	}
	for _, s := range []string{"a:0:{}", "0x4E3B"} {
		if IsEmpty(s) {
			t.Errorf("IsEmpty(%q) = true", s)
		}
	}
}

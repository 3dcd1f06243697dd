package domain

import (
	"errors"
	"testing"
)

func TestDefaultNormalizer_TrimsAndUppercases(t *testing.T) {
	got, err := DefaultNormalizer.Normalize("  k 1\t")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "K1" {
		t.Fatalf("expected K1, got %q", got)
	}
}

func TestDefaultNormalizer_RejectsEmptyAndSymbols(t *testing.T) {
	for _, raw := range []string{"", "   ", "a/b", "k?"} {
		_, err := DefaultNormalizer.Normalize(raw)
		if !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("expected ErrInvalidKey for %q, got %v", raw, err)
		}
	}
}

func TestCUINormalizer_CanonicalForms(t *testing.T) {
	cases := map[string]Key{
		"18547290":      "18547290",
		" ro 18547290 ": "18547290",
		"RO14399840":    "14399840",
		"0036014201":    "36014201",
		"19":            "19",
	}
	for raw, want := range cases {
		got, err := CUINormalizer.Normalize(raw)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("normalize(%q): expected %q, got %q", raw, want, got)
		}
	}
}

func TestCUINormalizer_Rejects(t *testing.T) {
	cases := []string{
		"",
		"RO",
		"18547291",    // dígito de controle errado
		"1",           // curto demais
		"12345678901", // longo demais
		"18A47290",
	}
	for _, raw := range cases {
		_, err := CUINormalizer.Normalize(raw)
		if !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("expected ErrInvalidKey for %q, got %v", raw, err)
		}
		var ike *InvalidKeyError
		if !errors.As(err, &ike) || ike.Raw != raw {
			t.Fatalf("expected InvalidKeyError carrying raw input %q, got %v", raw, err)
		}
	}
}

func TestValidCUI(t *testing.T) {
	for _, s := range []string{"18547290", "14399840", "36014201", "40000000", "27", "990"} {
		if !ValidCUI(s) {
			t.Fatalf("expected %s to be valid", s)
		}
	}
	for _, s := range []string{"18547291", "14399841", "28", "9"} {
		if ValidCUI(s) {
			t.Fatalf("expected %s to be invalid", s)
		}
	}
}

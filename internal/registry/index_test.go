package registry

import (
	"fmt"
	"testing"

	"recon/internal/config"
)

func model(id, pattern string, kind config.SourceKind, auto bool) config.ProcessingModel {
	return config.ProcessingModel{ID: id, Name: id, FilePattern: pattern, SourceKind: kind, AutoApply: auto}
}

func TestIndex_LookupMostSpecific(t *testing.T) {
	t.Parallel()

	ix, errs := NewIndex([]config.ProcessingModel{
		model("any-xlsx", "*.xlsx", config.SourcePartner, true),
		model("om", "*orange money*", config.SourcePartner, true),
		model("om-ci", "*orange money ci*", config.SourcePartner, true),
		model("bo", "export_bo_*", config.SourceBO, true),
		model("manual", "*orange money ci extra*", config.SourcePartner, false),
	})
	if len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}

	cases := []struct {
		file string
		want string
	}{
		{"/data/in/Orange Money CI 2024-01.xlsx", "om-ci"},
		{"ORANGE  MONEY sn.xlsx", "om"},
		{"Relevé.xlsx", "any-xlsx"},
		{"export_BO_janvier.csv", "bo"},
		{"orange money ci extra.csv", "om-ci"}, // manual model is not auto-apply
	}
	for _, tc := range cases {
		m, ok := ix.Lookup(tc.file)
		if !ok || m.ID != tc.want {
			t.Errorf("Lookup(%q) = %q,%v want %q", tc.file, m.ID, ok, tc.want)
		}
	}
	if m, ok := ix.Lookup("notes.txt"); ok {
		t.Errorf("Lookup(notes.txt) = %q, want none", m.ID)
	}
}

func TestIndex_AccentInsensitive(t *testing.T) {
	t.Parallel()

	ix, _ := NewIndex([]config.ProcessingModel{
		model("rel", "relevé_*", config.SourcePartner, true),
	})
	for _, f := range []string{"RELEVE_01.csv", "Relevé_01.csv", "RelevÃ©_01.csv"} {
		if _, ok := ix.Lookup(f); !ok {
			t.Errorf("Lookup(%q) found nothing", f)
		}
	}
}

func TestIndex_SubstringPattern(t *testing.T) {
	t.Parallel()

	ix, _ := NewIndex([]config.ProcessingModel{model("w", "wave", config.SourcePartner, true)})
	if _, ok := ix.Lookup("export-WAVE-2024.csv"); !ok {
		t.Fatalf("plain pattern should match as substring")
	}
}

func TestIndex_TieBreakByID(t *testing.T) {
	t.Parallel()

	ix, _ := NewIndex([]config.ProcessingModel{
		model("b", "*abc*", config.SourcePartner, true),
		model("a", "*abc*", config.SourcePartner, true),
	})
	m, _ := ix.Lookup("xabcx")
	if m.ID != "a" {
		t.Fatalf("got %q, want a", m.ID)
	}
}

func TestIndex_LookupKindAndGet(t *testing.T) {
	t.Parallel()

	ix, _ := NewIndex([]config.ProcessingModel{
		model("p", "*2024*", config.SourcePartner, true),
		model("b", "*01_2024*", config.SourceBO, true),
		model("hidden", "", config.SourceBO, false),
	})
	if m, _ := ix.Lookup("tx_01_2024.csv"); m.ID != "b" {
		t.Fatalf("Lookup = %q, want b", m.ID)
	}
	if m, _ := ix.LookupKind("tx_01_2024.csv", config.SourcePartner); m.ID != "p" {
		t.Fatalf("LookupKind = %q, want p", m.ID)
	}
	if _, ok := ix.Get("hidden"); !ok {
		t.Fatalf("Get must see non auto-apply models")
	}
	if ix.Len() != 3 || len(ix.Models()) != 3 {
		t.Fatalf("Len = %d", ix.Len())
	}
}

func TestNewIndex_SkipsBadModels(t *testing.T) {
	t.Parallel()

	ix, errs := NewIndex([]config.ProcessingModel{
		model("", "*", config.SourceBO, false),
		model("x", "[", config.SourceBO, true),
		model("y", "*", config.SourceBO, true),
		model("y", "*", config.SourceBO, true),
		model("z", "", config.SourceBO, true),
	})
	if len(errs) != 4 {
		t.Fatalf("errs = %v", errs)
	}
	if ix.Len() != 1 {
		t.Fatalf("Len = %d, want 1", ix.Len())
	}
}

func TestLiteralLen(t *testing.T) {
	t.Parallel()

	cases := map[string]int{"*": 0, "a*b?c": 3, "x[abc]y": 2, "plain": 5}
	for p, want := range cases {
		if got := literalLen(p); got != want {
			t.Errorf("literalLen(%q) = %d, want %d", p, got, want)
		}
	}
}

func TestNilIndex(t *testing.T) {
	t.Parallel()

	var ix *Index
	if _, ok := ix.Lookup("a"); ok {
		t.Fatal("nil index must not match")
	}
	if _, ok := ix.Get("a"); ok || ix.Len() != 0 {
		t.Fatal("nil index must be empty")
	}
}

func BenchmarkLookup(b *testing.B) {
	var ms []config.ProcessingModel
	for i := 0; i < 200; i++ {
		ms = append(ms, model(fmt.Sprintf("m%03d", i), fmt.Sprintf("*partner_%d_*", i), config.SourcePartner, true))
	}
	ix, _ := NewIndex(ms)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ix.Lookup("/in/Partner_Z_2024-01.xlsx")
	}
}

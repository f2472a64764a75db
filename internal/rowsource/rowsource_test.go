package rowsource

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"recon/internal/records"
)

func readAll(t *testing.T, r records.RowReader) []records.Row {
	t.Helper()
	var out []records.Row
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		out = append(out, row)
	}
}

func TestReader_Shapes(t *testing.T) {
	t.Parallel()

	want := []records.Row{
		{Columns: []string{"Réf", "Montant", "A"}, Values: []any{"TX1", json.Number("50000"), nil}},
		{Columns: []string{"Montant", "Réf"}, Values: []any{json.Number("12.50"), "TX2"}},
	}
	inputs := map[string]string{
		"array":  `[{"Réf":"TX1","Montant":50000,"A":null},{"Montant":12.50,"Réf":"TX2"}]`,
		"ndjson": "{\"Réf\":\"TX1\",\"Montant\":50000,\"A\":null}\n{\"Montant\":12.50,\"Réf\":\"TX2\"}\n",
	}
	for name, in := range inputs {
		name, in := name, in
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got := readAll(t, NewReader(strings.NewReader(in)))
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("got %#v\nwant %#v", got, want)
			}
		})
	}
}

func TestReader_Empty(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "  \n", "[]", "[ ]"} {
		if got := readAll(t, NewReader(strings.NewReader(in))); len(got) != 0 {
			t.Errorf("%q: rows = %v", in, got)
		}
	}
	got := readAll(t, NewReader(strings.NewReader("{}\n{\"a\":1}")))
	if len(got) != 2 || len(got[0].Columns) != 0 || got[1].Columns[0] != "a" {
		t.Fatalf("rows = %#v", got)
	}
}

func TestReader_Errors(t *testing.T) {
	t.Parallel()

	for _, in := range []string{`"x"`, `[1,2]`, `[{"a":1}`, `{"a":}`} {
		r := NewReader(strings.NewReader(in))
		var err error
		for i := 0; i < 5 && err == nil; i++ {
			_, err = r.Read()
		}
		if err == nil || errors.Is(err, io.EOF) {
			t.Errorf("%q: err = %v, want a decode error", in, err)
		}
		if _, again := r.Read(); !errors.Is(again, io.EOF) {
			t.Errorf("%q: reader must stay finished after an error", in)
		}
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rows.json")
	if err := os.WriteFile(path, []byte(`[{"id":1},{"id":2},{"id":3}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if got := readAll(t, r); len(got) != 3 {
		t.Fatalf("rows = %d", len(got))
	}

	if _, err := Open(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error")
	}
}

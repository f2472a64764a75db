package records

import (
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/shopspring/decimal"
)

func row(cols []string, vals ...any) Row { return Row{Columns: cols, Values: vals} }

func TestNew_KeepsOrderAndDuplicates(t *testing.T) {
	t.Parallel()

	r := New(SidePartner, "m1", 7, row([]string{"B", "A", "B"}, "", 1, "late"))
	if got := r.Columns(); !reflect.DeepEqual(got, []string{"B", "A"}) {
		t.Fatalf("Columns = %v", got)
	}
	if v, _ := r.Get("B"); v != "late" {
		t.Fatalf("B = %v, want late (earlier value was empty)", v)
	}
	if r.Index != 7 || r.Side != SidePartner || r.ModelID != "m1" {
		t.Fatalf("meta = %+v", r)
	}
}

func TestRecord_Project(t *testing.T) {
	t.Parallel()

	r := New(SideBO, "", 0, row([]string{"A", "B", "C"}, " x ", "y", "z"))
	missing := r.Project([]string{"B", "A", "D"})
	if !reflect.DeepEqual(missing, []string{"D"}) {
		t.Fatalf("missing = %v", missing)
	}
	if got := r.Columns(); !reflect.DeepEqual(got, []string{"B", "A", "D"}) {
		t.Fatalf("Columns = %v", got)
	}
	if _, ok := r.Get("C"); ok {
		t.Fatalf("C must be dropped")
	}
	if v, ok := r.Get("D"); !ok || v != nil {
		t.Fatalf("D = %v,%v want nil,true", v, ok)
	}
}

func TestRecord_Rename(t *testing.T) {
	t.Parallel()

	r := New(SideBO, "", 0, row([]string{"a", "b", "c"}, 1, 2, 3))
	if !r.Rename("b", "B") {
		t.Fatalf("Rename(b,B) = false")
	}
	if got := r.Columns(); !reflect.DeepEqual(got, []string{"a", "B", "c"}) {
		t.Fatalf("Columns = %v", got)
	}
	if r.Rename("c", "a") {
		t.Fatalf("Rename onto existing column must report false")
	}
	if v, _ := r.Get("a"); v != 1 {
		t.Fatalf("collision must keep first value, got %v", v)
	}
	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}
	if r.Rename("zz", "y") {
		t.Fatalf("Rename of missing column must report false")
	}
}

func TestRecord_CloneIsIndependent(t *testing.T) {
	t.Parallel()

	r := New(SideBO, "m", 1, row([]string{"A"}, "x"))
	c := r.Clone()
	c.Set("A", "changed")
	c.Set("B", "new")
	c.Annotate("A", "test", "note")

	if v, _ := r.Get("A"); v != "x" {
		t.Fatalf("original mutated: %v", v)
	}
	if r.Len() != 1 || len(r.Notes) != 0 {
		t.Fatalf("original mutated: cols=%v notes=%v", r.Columns(), r.Notes)
	}
}

func TestRecord_MarshalJSON_ColumnOrder(t *testing.T) {
	t.Parallel()

	r := New(SidePartner, "wave", 3, row([]string{"Z", "A"}, "1", Amount{Value: decimal.NewFromInt(5), Currency: "XOF"}))
	r.Annotate("Z", "formatToNumber", "not a number: %q", "1x")
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"index":3,"side":"partner","model":"wave","values":{"Z":"1","A":{"value":"5","currency":"XOF"}},"notes":[{"field":"Z","step":"formatToNumber","message":"not a number: \"1x\""}]}`
	if string(b) != want {
		t.Fatalf("json =\n%s\nwant\n%s", b, want)
	}
}

func TestKeyString(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   any
		want string
		ok   bool
	}{
		{nil, "", false},
		{"   ", "", false},
		{" GU001 ", "GU001", true},
		{decimal.RequireFromString("100.50"), "100.5", true},
		{float64(100), "100", true},
		{42, "42", true},
		{json.Number("7"), "7", true},
	}
	for _, c := range cases {
		got, ok := KeyString(c.in)
		if got != c.want || ok != c.ok {
			t.Errorf("KeyString(%#v) = %q,%v want %q,%v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestSliceReader(t *testing.T) {
	t.Parallel()

	sr := NewSliceReader([]Row{row([]string{"A"}, 1)})
	if _, err := sr.Read(); err != nil {
		t.Fatal(err)
	}
	if _, err := sr.Read(); !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestRecord_AnnotateOnce(t *testing.T) {
	t.Parallel()

	r := New(SideBO, "m", 0, row([]string{"A"}, 1))
	r.AnnotateOnce("A", "reconcile", "missing key field %q", "A")
	r.AnnotateOnce("A", "reconcile", "missing key field %q", "A")
	r.AnnotateOnce("A", "formatDate", "missing key field %q", "A")
	if len(r.Notes) != 2 {
		t.Fatalf("notes = %+v, want 2", r.Notes)
	}
}

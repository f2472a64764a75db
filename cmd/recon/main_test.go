package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestParseFlags(t *testing.T) {
	t.Parallel()

	o, err := parseFlags([]string{
		"-registry", "models/",
		"-bo", "a.json,b.json", "-bo", "c.json",
		"-partner", "p.json",
		"-chunk-size", "500", "-timeout", "2m",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual([]string(o.bo), []string{"a.json", "b.json", "c.json"}) {
		t.Fatalf("bo = %v", o.bo)
	}
	if o.runtime.ChunkSize != 500 || o.runtime.Timeout != 2*time.Minute || o.registryKind != "file" || o.out != "-" {
		t.Fatalf("opts = %+v", o)
	}

	bad := [][]string{
		{},
		{"-registry", "m"},
		{"-registry", "m", "-bo", "a.json"},
		{"-registry", "m", "-chunk-size", "x"},
	}
	for _, args := range bad {
		if _, err := parseFlags(args); err == nil {
			t.Errorf("parseFlags(%q) accepted", args)
		}
	}
	if _, err := parseFlags([]string{"-registry", "m", "-validate"}); err != nil {
		t.Errorf("-validate must not need inputs: %v", err)
	}
}

const testModels = `[
  {
    "id": "wave", "name": "Wave", "filePattern": "*wave*", "fileType": "partner", "autoApply": true,
    "processingSteps": [
      {"type": "format", "action": "normalizeHeaders"},
      {"type": "select", "action": "keepColumns", "fields": ["Référence", "Montant"]},
      {"type": "format", "action": "formatCurrency", "fields": ["Montant"], "params": {"currency": "XOF", "locale": "fr-FR"}}
    ],
    "reconciliationKeys": {"boKeys": ["Ref"], "partnerKeys": ["Référence"]}
  },
  {
    "id": "bo", "name": "BO", "filePattern": "export_bo_*", "fileType": "bo", "autoApply": true,
    "processingSteps": [{"type": "select", "action": "keepColumns", "fields": ["Ref", "Montant"]}]
  }
]`

func write(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestRun_WritesReport(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	o := options{
		registry:     write(t, dir, "models.json", testModels),
		registryKind: "file",
		bo:           stringList{write(t, dir, "export_bo_jan.json", `[{"Ref":"A","Montant":"100"},{"Ref":"B","Montant":"5"}]`)},
		partner:      write(t, dir, "wave_jan.json", "{\"RÃ©fÃ©rence\":\"A\",\"Montant\":\"100\"}\n{\"RÃ©fÃ©rence\":\"C\",\"Montant\":\"1 000\"}\n"),
		out:          filepath.Join(dir, "report.json"),
		job:          "test",
	}
	o.runtime.ChunkSize, o.runtime.Workers, o.runtime.Partitions, o.runtime.Timeout = 1, 2, 2, time.Minute
	o.boAmount, o.partnerAmount = "Montant", "Montant"

	if err := run(context.Background(), o, &bytes.Buffer{}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(o.out)
	if err != nil {
		t.Fatal(err)
	}
	var rep struct {
		RunID  string `json:"runId"`
		Inputs []struct {
			Model string `json:"model"`
			Rows  int    `json:"rows"`
		} `json:"inputs"`
		Result struct {
			Summary struct {
				Matched           int    `json:"matched"`
				BoOnly            int    `json:"boOnly"`
				PartnerOnly       int    `json:"partnerOnly"`
				PartnerOnlyAmount string `json:"partnerOnlyAmount"`
			} `json:"summary"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &rep); err != nil {
		t.Fatalf("%v\n%s", err, data)
	}
	s := rep.Result.Summary
	if rep.RunID == "" || len(rep.Inputs) != 2 || rep.Inputs[0].Model != "wave" || rep.Inputs[1].Rows != 2 {
		t.Fatalf("report = %s", data)
	}
	if s.Matched != 1 || s.BoOnly != 1 || s.PartnerOnly != 1 || s.PartnerOnlyAmount != "1000" {
		t.Fatalf("summary = %+v", s)
	}
}

func TestRun_Validate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var out bytes.Buffer
	o := options{registry: write(t, dir, "models.json", testModels), registryKind: "file", validate: true}
	if err := run(context.Background(), o, &out); err != nil {
		t.Fatalf("%v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "2 models valid") {
		t.Fatalf("output = %q", out.String())
	}

	o.registry = write(t, dir, "bad.json", `[{"id": "x", "fileType": "neither"}]`)
	out.Reset()
	if err := run(context.Background(), o, &out); err == nil {
		t.Fatal("expected validation failure")
	}
	if !strings.Contains(out.String(), "x: error: fileType") {
		t.Fatalf("output = %q", out.String())
	}
}

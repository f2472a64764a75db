// Package config defines the canonical, serializable configuration model for
// reconciliation runs: processing models (one per source-file type), their
// ordered processing steps, and the reconciliation keys used to pair BO and
// partner records.
//
// Models are supplied by an external registry and are read-only here. They
// decode from JSON (the registry's native format) or YAML (hand-maintained
// model files) without any glue code.
//
// Example (trimmed):
//
//	{
//	  "id": "om-bo",
//	  "name": "Orange Money BO",
//	  "filePattern": "*OM_BO*.csv",
//	  "fileType": "bo",
//	  "autoApply": true,
//	  "processingSteps": [
//	    { "type": "format", "action": "normalizeHeaders" },
//	    { "type": "select", "action": "keepColumns", "fields": ["Numéro Trans GU", "Montant"] },
//	    { "type": "format", "action": "formatCurrency", "fields": ["Montant"],
//	      "params": { "locale": "fr-FR", "currency": "XOF" } }
//	  ],
//	  "reconciliationKeys": { "boKeys": ["Numéro Trans GU"], "partnerKeys": ["Numéro Trans GU"] }
//	}
package config

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// SourceKind identifies which side of a reconciliation a model describes.
type SourceKind string

const (
	SourceBO      SourceKind = "bo"
	SourcePartner SourceKind = "partner"
)

// ProcessingModel describes how one kind of uploaded export is recognized and
// normalized before reconciliation.
type ProcessingModel struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`

	// FilePattern is a glob (`*`, `?`) matched against uploaded file names.
	FilePattern string     `json:"filePattern" yaml:"filePattern"`
	SourceKind  SourceKind `json:"fileType" yaml:"fileType"`

	// AutoApply makes the model eligible for filename-based lookup. Models
	// without it are only reachable by ID.
	AutoApply bool `json:"autoApply" yaml:"autoApply"`

	// TemplateName references the reference export this model was built from.
	TemplateName string `json:"templateName,omitempty" yaml:"templateName,omitempty"`

	Steps []ProcessingStep `json:"processingSteps" yaml:"processingSteps"`

	Keys ReconciliationKeys `json:"reconciliationKeys" yaml:"reconciliationKeys"`
}

// ProcessingStep is one declarative transformation. The action identifier is
// resolved by the transformer package; unknown identifiers are tolerated.
type ProcessingStep struct {
	ID          string   `json:"id,omitempty" yaml:"id,omitempty"`
	Name        string   `json:"name,omitempty" yaml:"name,omitempty"`
	Type        string   `json:"type" yaml:"type"` // "select" | "format"
	Action      string   `json:"action" yaml:"action"`
	Fields      []string `json:"fields" yaml:"fields"`
	Params      Options  `json:"params" yaml:"params"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// ReconciliationKeys names the fields whose values form the composite key on
// each side. BoModelKeys lets each referenced BO model use its own column
// names for the same semantic key.
type ReconciliationKeys struct {
	BoKeys      []string `json:"boKeys" yaml:"boKeys"`
	PartnerKeys []string `json:"partnerKeys" yaml:"partnerKeys"`

	BoModels    []string            `json:"boModels,omitempty" yaml:"boModels,omitempty"`
	BoModelKeys map[string][]string `json:"boModelKeys,omitempty" yaml:"boModelKeys,omitempty"`

	// BoTreatments are extra steps applied, per BO model, to a copy of each
	// record right before its key is computed.
	BoTreatments map[string][]ProcessingStep `json:"boTreatments,omitempty" yaml:"boTreatments,omitempty"`
}

// IsZero reports whether no key fields are configured at all.
func (k ReconciliationKeys) IsZero() bool {
	if len(k.BoKeys) > 0 || len(k.PartnerKeys) > 0 {
		return false
	}
	for _, f := range k.BoModelKeys {
		if len(f) > 0 {
			return false
		}
	}
	return true
}

// KeysFor returns the BO key fields for records produced by modelID.
func (k ReconciliationKeys) KeysFor(modelID string) []string {
	if len(k.BoModels) == 0 {
		return k.BoKeys
	}
	for _, m := range k.BoModels {
		if m != modelID {
			continue
		}
		if f := k.BoModelKeys[m]; len(f) > 0 {
			return f
		}
		break
	}
	return k.BoKeys
}

// Options is a small helper to fetch typed values from arbitrary decoded maps
// without introducing third-party configuration libraries. It performs only
// minimal type coercion and returns provided defaults when a key is absent or
// of an unexpected type.
type Options map[string]any

// String returns the string value for key or def if key is missing or not a string.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def if key is missing or not a bool.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers are decoded as
// float64 and YAML integers as int, so both are accepted.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		case int64:
			return int(n)
		}
	}
	return def
}

// StringMap returns a map[string]string for key when the value is an object
// whose values are strings. Non-string values are ignored. Returns an empty map
// when the key is missing or the value is not an object.
func (o Options) StringMap(key string) map[string]string {
	res := map[string]string{}
	if v, ok := o[key]; ok {
		switch m := v.(type) {
		case map[string]any:
			for k, vv := range m {
				if s, ok := vv.(string); ok {
					res[k] = s
				}
			}
		case map[string]string:
			for k, s := range m {
				res[k] = s
			}
		}
	}
	return res
}

// StringSlice returns a []string for key when the value is an array of strings
// (or an array of interface values containing strings). A bare string is
// treated as a one-element list. Returns nil when the key is missing.
func (o Options) StringSlice(key string) []string {
	if v, ok := o[key]; ok {
		switch vv := v.(type) {
		case []any:
			out := make([]string, 0, len(vv))
			for _, x := range vv {
				if s, ok := x.(string); ok {
					out = append(out, s)
				}
			}
			return out
		case []string:
			return vv
		case string:
			return []string{vv}
		}
	}
	return nil
}

// UnmarshalJSON makes a missing or null "params" object decode to a non-nil,
// empty Options map.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}

// UnmarshalYAML mirrors UnmarshalJSON for YAML model files.
func (o *Options) UnmarshalYAML(node *yaml.Node) error {
	var tmp map[string]any
	if err := node.Decode(&tmp); err != nil {
		return err
	}
	if tmp == nil {
		tmp = map[string]any{}
	}
	*o = Options(tmp)
	return nil
}

// Package config provides configuration models and helpers for reconciliation
// runs.
//
// This file adds a lightweight linter for ProcessingModel and
// ReconciliationKeys values. It performs static checks and returns a list of
// issues (errors and warnings) that callers can surface in a CLI or tests.
package config

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a finding that should be surfaced to users but
	// does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation/lint finding.
//
// Path is a dotted path into the model (e.g. "processingSteps[2].fields").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Step action identifiers understood by the transformer package.
const (
	ActionKeepColumns          = "keepColumns"
	ActionRenameColumns        = "renameColumns"
	ActionCleanText            = "cleanText"
	ActionFormatCurrency       = "formatCurrency"
	ActionFormatDate           = "formatDate"
	ActionNormalizeHeaders     = "normalizeHeaders"
	ActionFixSpecialCharacters = "fixSpecialCharacters"
	ActionFormatToNumber       = "formatToNumber"
)

// knownActions maps each action to the step type it belongs to.
var knownActions = map[string]string{
	ActionKeepColumns:          "select",
	ActionRenameColumns:        "select",
	ActionCleanText:            "format",
	ActionFormatCurrency:       "format",
	ActionFormatDate:           "format",
	ActionNormalizeHeaders:     "format",
	ActionFixSpecialCharacters: "format",
	ActionFormatToNumber:       "format",
}

// ValidateModel performs static validation of a ProcessingModel. It does not
// mutate the model.
func ValidateModel(m ProcessingModel) []Issue {
	var issues []Issue

	if strings.TrimSpace(m.ID) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "id",
			Message:  "model id must not be empty",
		})
	}

	switch m.SourceKind {
	case SourceBO, SourcePartner:
	case "":
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "fileType",
			Message:  `fileType must be "bo" or "partner"`,
		})
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "fileType",
			Message:  fmt.Sprintf("unknown fileType %q", m.SourceKind),
		})
	}

	if m.AutoApply && strings.TrimSpace(m.FilePattern) == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "filePattern",
			Message:  "autoApply model has no filePattern; it will never be selected by filename",
		})
	}
	if m.FilePattern != "" {
		if _, err := path.Match(m.FilePattern, ""); err != nil {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "filePattern",
				Message:  fmt.Sprintf("invalid glob %q: %v", m.FilePattern, err),
			})
		}
	}

	issues = append(issues, validateSteps("processingSteps", m.Steps)...)

	if !m.Keys.IsZero() {
		for _, iss := range ValidateKeys(m.Keys) {
			iss.Path = "reconciliationKeys." + iss.Path
			issues = append(issues, iss)
		}
	}
	return issues
}

func validateSteps(prefix string, steps []ProcessingStep) []Issue {
	var issues []Issue
	headersFixed := false

	for i, s := range steps {
		p := fmt.Sprintf("%s[%d]", prefix, i)

		typ, known := knownActions[s.Action]
		switch {
		case strings.TrimSpace(s.Action) == "":
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     p + ".action",
				Message:  "empty action; step will be skipped",
			})
			continue
		case !known:
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     p + ".action",
				Message:  fmt.Sprintf("unknown action %q; step will be skipped", s.Action),
			})
			continue
		}
		if s.Type != "" && s.Type != typ {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     p + ".type",
				Message:  fmt.Sprintf("action %s is a %q step, declared as %q", s.Action, typ, s.Type),
			})
		}

		switch s.Action {
		case ActionNormalizeHeaders:
			headersFixed = true
		case ActionKeepColumns:
			if len(s.Fields) == 0 {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     p + ".fields",
					Message:  "keepColumns requires at least one field",
				})
			}
			if !headersFixed && i > 0 && anyNonASCII(s.Fields) {
				issues = append(issues, Issue{
					Severity: SeverityWarning,
					Path:     p + ".fields",
					Message:  "fields use accented names but no normalizeHeaders step precedes this step",
				})
			}
		case ActionRenameColumns:
			if len(s.Params.StringMap("mapping")) == 0 {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     p + ".params.mapping",
					Message:  "renameColumns requires a non-empty mapping object",
				})
			}
		case ActionFormatCurrency:
			if strings.TrimSpace(s.Params.String("currency", "")) == "" {
				issues = append(issues, Issue{
					Severity: SeverityWarning,
					Path:     p + ".params.currency",
					Message:  "formatCurrency without currency; amounts will be untagged",
				})
			}
		case ActionFormatDate:
			if s.Params.String("format", "") == "" && len(s.Params.StringSlice("inputFormats")) == 0 {
				issues = append(issues, Issue{
					Severity: SeverityWarning,
					Path:     p + ".params.format",
					Message:  "formatDate without format; DD/MM/YYYY and ISO dates are assumed",
				})
			}
		}
	}
	return issues
}

// ValidateKeys checks ReconciliationKeys for a reconciliation run. Missing key
// lists are errors: reconciliation cannot proceed without them.
func ValidateKeys(k ReconciliationKeys) []Issue {
	var issues []Issue

	if len(k.PartnerKeys) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "partnerKeys",
			Message:  "partnerKeys must not be empty",
		})
	}
	if len(k.BoKeys) == 0 && len(k.BoModels) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "boKeys",
			Message:  "boKeys must not be empty",
		})
	}
	if len(k.BoKeys) > 0 && len(k.PartnerKeys) > 0 && len(k.BoKeys) != len(k.PartnerKeys) {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "boKeys",
			Message:  fmt.Sprintf("boKeys has %d fields but partnerKeys has %d", len(k.BoKeys), len(k.PartnerKeys)),
		})
	}

	for _, m := range k.BoModels {
		fields := k.BoModelKeys[m]
		p := fmt.Sprintf("boModelKeys.%s", m)
		if len(fields) == 0 {
			if len(k.BoKeys) == 0 {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     p,
					Message:  "referenced BO model has no keys and no boKeys fallback",
				})
			}
			continue
		}
		if len(k.PartnerKeys) > 0 && len(fields) != len(k.PartnerKeys) {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     p,
				Message:  fmt.Sprintf("has %d fields but partnerKeys has %d", len(fields), len(k.PartnerKeys)),
			})
		}
	}
	for _, m := range sortedKeys(k.BoModelKeys) {
		if !contains(k.BoModels, m) {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "boModelKeys." + m,
				Message:  "keys given for a model not listed in boModels; they are ignored",
			})
		}
	}
	for _, m := range sortedKeys(k.BoTreatments) {
		issues = append(issues, validateSteps("boTreatments."+m, k.BoTreatments[m])...)
	}
	return issues
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

func anyNonASCII(xs []string) bool {
	for _, x := range xs {
		for i := 0; i < len(x); i++ {
			if x[i] >= 0x80 {
				return true
			}
		}
	}
	return false
}

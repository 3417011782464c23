// Package config provides configuration models and helpers for migration
// pipelines.
//
// This file adds a lightweight linter/validator for Pipeline values. It
// performs static checks over a decoded Pipeline and returns a list of issues
// (errors and warnings) that callers can surface in a CLI or tests.
package config

import (
	"fmt"
	"regexp"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a finding that should be surfaced but does
	// not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation/lint finding for a Pipeline.
//
// Path is a dotted path into the config (e.g. "stages[1].options.path").
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

// KnownStageKinds lists the stage kinds shipped with the binary. Unknown kinds
// are warnings so externally registered stages still validate.
var KnownStageKinds = map[string]struct{}{
	"csvsource":  {},
	"csvsink":    {},
	"assign":     {},
	"filter":     {},
	"accumulate": {},
	"unique":     {},
	"load":       {},
	"count":      {},
	"audit":      {},
	"abort":      {},
	"breakpoint": {},
}

var partsRe = regexp.MustCompile(`^(\*|[A-Za-z]*)$`)

// ValidatePipeline performs static validation / linting of a Pipeline. It
// does not mutate the pipeline.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it is used for log and metrics labeling",
		})
	}
	if !partsRe.MatchString(p.Parts) {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "parts",
			Message:  fmt.Sprintf("parts %q must be letters only (or \"*\")", p.Parts),
		})
	}
	issues = append(issues, validateStages(p)...)
	issues = append(issues, validateStorage(p)...)
	issues = append(issues, validateLookups(p.Lookups)...)

	return issues
}

func validateStages(p Pipeline) []Issue {
	var issues []Issue

	if len(p.Stages) == 0 {
		return append(issues, Issue{
			Severity: SeverityError,
			Path:     "stages",
			Message:  "no stages configured; nothing to run",
		})
	}

	seen := map[string]int{}
	for i, s := range p.Stages {
		base := fmt.Sprintf("stages[%d]", i)
		if strings.TrimSpace(s.Name) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     base + ".name",
				Message:  "stage name must not be empty",
			})
		} else if j, dup := seen[s.Name]; dup {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     base + ".name",
				Message:  fmt.Sprintf("duplicate stage name %q (also stages[%d])", s.Name, j),
			})
		} else {
			seen[s.Name] = i
		}

		if strings.TrimSpace(s.Kind) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     base + ".kind",
				Message:  "stage kind must not be empty",
			})
			continue
		}
		if _, ok := KnownStageKinds[s.Kind]; !ok {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     base + ".kind",
				Message:  fmt.Sprintf("unknown stage kind %q; ensure a matching implementation is registered", s.Kind),
			})
		}
		if s.Part != "" && !partsRe.MatchString(s.Part) {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     base + ".part",
				Message:  fmt.Sprintf("part %q must be letters only", s.Part),
			})
		}

		opts := p.StageOptions(s)
		switch s.Kind {
		case "csvsource", "csvsink":
			if strings.TrimSpace(opts.String("path", "")) == "" {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     base + ".options.path",
					Message:  s.Kind + " requires a non-empty path",
				})
			}
			if len(opts.Fields("fields")) == 0 {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     base + ".options.fields",
					Message:  s.Kind + " requires declared field names",
				})
			}
		case "assign":
			if len(opts.StringMap("fields")) == 0 {
				issues = append(issues, Issue{
					Severity: SeverityWarning,
					Path:     base + ".options.fields",
					Message:  "assign stage has no field expressions; it will pass records through",
				})
			}
		case "accumulate":
			if opts.String("table", "") == "" || opts.String("key", "") == "" {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     base + ".options",
					Message:  "accumulate requires table and key",
				})
			}
		case "unique":
			if len(opts.Fields("fields")) == 0 {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     base + ".options.fields",
					Message:  "unique requires key fields",
				})
			}
		case "abort":
			if opts.String("condition", "") == "" {
				issues = append(issues, Issue{
					Severity: SeverityWarning,
					Path:     base + ".options.condition",
					Message:  "abort without a condition stops on the first record",
				})
			}
		case "load":
			if strings.TrimSpace(p.Storage.Kind) == "" {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     base + ".kind",
					Message:  "load stage requires storage.kind to be configured",
				})
			}
		}
	}
	return issues
}

// validateStorage validates target store settings when a backend is set.
func validateStorage(p Pipeline) []Issue {
	var issues []Issue
	s := p.Storage
	if strings.TrimSpace(s.Kind) == "" {
		return nil
	}

	db := s.DB
	if strings.TrimSpace(db.DSN) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.db.dsn",
			Message:  "storage.db.dsn must not be empty",
		})
	}
	if strings.TrimSpace(db.Table) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.db.table",
			Message:  "storage.db.table must not be empty",
		})
	}
	if len(db.Columns) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.db.columns",
			Message:  "storage.db.columns must not be empty; at least one destination column is required",
		})
	}
	if db.BatchSize < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.db.batch_size",
			Message:  "batch_size must not be negative",
		})
	}
	return issues
}

func validateLookups(l Lookups) []Issue {
	if l.Organizations == nil {
		return nil
	}
	var issues []Issue
	o := l.Organizations
	if strings.TrimSpace(o.Path) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "lookups.organizations.path",
			Message:  "organization lookup requires a path",
		})
	}
	if strings.TrimSpace(o.IDField) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "lookups.organizations.id_field",
			Message:  "organization lookup requires id_field",
		})
	}
	return issues
}

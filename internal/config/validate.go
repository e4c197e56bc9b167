// Package config provides configuration models and helpers for mapping jobs.
//
// This file adds a lightweight linter/validator for Job values. It performs
// static checks over a decoded Job and returns a list of issues (errors and
// warnings) that callers can surface in a CLI or tests. The engine treats any
// error-severity issue as a ConfigError and fails fast before opening a
// single connection.
package config

import (
	"fmt"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a configuration warning that should be
	// surfaced to users but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation/lint finding for a Job.
//
// Path is a dotted path into the config (e.g. "target.dialect",
// "mappings[1].role"). Message is human-readable.
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

// knownDialects mirrors the Dialect* constants.
var knownDialects = map[string]bool{
	DialectOracle:    true,
	DialectPostgres:  true,
	DialectMySQL:     true,
	DialectSQLServer: true,
	DialectSybase:    true,
	DialectRedshift:  true,
	DialectSnowflake: true,
	DialectDB2:       true,
	DialectHive:      true,
}

var knownRoles = map[string]bool{RoleKey: true, RoleValue: true, RoleAudit: true}

var knownTypes = map[string]bool{
	"int": true, "float": true, "text": true, "bool": true,
	"date": true, "timestamp": true,
}

// ValidateJob performs static validation / linting of a Job.
//
// It does not mutate the job. Instead it returns a slice of Issue values.
// Callers may decide whether to treat warnings as fatal or not.
func ValidateJob(j Job) []Issue {
	var issues []Issue

	if strings.TrimSpace(j.Name) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it keys checkpoint records and metric labels",
		})
	}

	issues = append(issues, validateEndpoint("source", j.Source, true)...)
	issues = append(issues, validateEndpoint("target", j.Target, false)...)
	issues = append(issues, validateMappings(j.Mappings)...)
	issues = append(issues, validateScd(j.Scd, j.Mappings)...)
	issues = append(issues, validateCheckpoint(j)...)
	issues = append(issues, validateParallel(j.Parallel)...)

	return issues
}

func validateEndpoint(path string, e Endpoint, isSource bool) []Issue {
	var issues []Issue

	if e.Dialect == "" {
		issues = append(issues, Issue{SeverityError, path + ".dialect", "dialect is required"})
	} else if !knownDialects[e.Dialect] {
		issues = append(issues, Issue{
			SeverityError, path + ".dialect",
			fmt.Sprintf("unknown dialect %q", e.Dialect),
		})
	}
	if strings.TrimSpace(e.DSN) == "" {
		issues = append(issues, Issue{SeverityError, path + ".dsn", "dsn is required"})
	}

	if isSource {
		if strings.TrimSpace(e.Query) == "" {
			issues = append(issues, Issue{SeverityError, path + ".query", "source query is required"})
		}
		return issues
	}

	if strings.TrimSpace(e.Table) == "" {
		issues = append(issues, Issue{SeverityError, path + ".table", "target table is required"})
	}
	if e.Query != "" {
		issues = append(issues, Issue{SeverityWarning, path + ".query", "query is ignored on the target side"})
	}
	return issues
}

func validateMappings(ms []ColumnMapping) []Issue {
	var issues []Issue

	if len(ms) == 0 {
		issues = append(issues, Issue{SeverityError, "mappings", "at least one column mapping is required"})
		return issues
	}

	seen := map[string]bool{}
	for i, m := range ms {
		p := fmt.Sprintf("mappings[%d]", i)
		if m.Target == "" {
			issues = append(issues, Issue{SeverityError, p + ".target", "target column is required"})
		}
		if seen[m.Target] {
			issues = append(issues, Issue{SeverityError, p + ".target", fmt.Sprintf("duplicate target column %q", m.Target)})
		}
		seen[m.Target] = true

		if m.Source == "" && m.Expression == "" {
			issues = append(issues, Issue{SeverityError, p, "either source or expression is required"})
		}
		if m.Source != "" && m.Expression != "" {
			issues = append(issues, Issue{SeverityWarning, p, "source is ignored when expression is set"})
		}
		if m.Role == "" {
			issues = append(issues, Issue{SeverityError, p + ".role", "role is required (KEY, VALUE, or AUDIT)"})
		} else if !knownRoles[m.Role] {
			issues = append(issues, Issue{SeverityError, p + ".role", fmt.Sprintf("unknown role %q", m.Role)})
		}
		if m.Type != "" && !knownTypes[m.Type] {
			issues = append(issues, Issue{SeverityError, p + ".type", fmt.Sprintf("unknown type %q", m.Type)})
		}
	}
	return issues
}

func validateScd(rule ScdRule, ms []ColumnMapping) []Issue {
	var issues []Issue

	if rule.Type != 1 && rule.Type != 2 {
		issues = append(issues, Issue{SeverityError, "scd.type", fmt.Sprintf("scd type must be 1 or 2, got %d", rule.Type)})
	}
	if len(rule.NaturalKeys) == 0 {
		issues = append(issues, Issue{SeverityError, "scd.natural_keys", "at least one natural key column is required"})
	}

	targets := map[string]bool{}
	for _, m := range ms {
		targets[m.Target] = true
	}
	for i, k := range rule.NaturalKeys {
		if !targets[k] {
			issues = append(issues, Issue{
				SeverityError,
				fmt.Sprintf("scd.natural_keys[%d]", i),
				fmt.Sprintf("natural key %q is not a mapped target column", k),
			})
		}
	}
	return issues
}

func validateCheckpoint(j Job) []Issue {
	var issues []Issue
	c := j.Checkpoint

	switch c.Strategy {
	case "", CheckpointNone:
		// nothing to check
	case CheckpointKey:
		if len(c.Columns) != 1 {
			issues = append(issues, Issue{SeverityError, "checkpoint.columns", "KEY strategy requires exactly one column"})
		}
	case CheckpointCompositeKey:
		if len(c.Columns) < 2 {
			issues = append(issues, Issue{SeverityError, "checkpoint.columns", "COMPOSITE_KEY strategy requires two or more columns"})
		}
	case CheckpointProgrammatic:
		if strings.TrimSpace(c.Expression) == "" {
			issues = append(issues, Issue{SeverityError, "checkpoint.expression", "PROGRAMMATIC strategy requires an expression"})
		}
		if j.Parallel.Enabled {
			issues = append(issues, Issue{
				SeverityWarning, "parallel.enabled",
				"PROGRAMMATIC checkpoint forces sequential execution; parallel settings are ignored",
			})
		}
	default:
		issues = append(issues, Issue{SeverityError, "checkpoint.strategy", fmt.Sprintf("unknown strategy %q", c.Strategy)})
	}

	if c.Strategy != "" && c.Strategy != CheckpointNone {
		if !strings.Contains(j.Source.Query, PredicateSlot) {
			issues = append(issues, Issue{
				SeverityError, "source.query",
				fmt.Sprintf("query must contain the %s slot when a checkpoint strategy is configured", PredicateSlot),
			})
		}
	}
	return issues
}

func validateParallel(p Parallel) []Issue {
	var issues []Issue
	if p.ChunkSize < 0 {
		issues = append(issues, Issue{SeverityError, "parallel.chunk_size", "chunk_size must not be negative"})
	}
	if p.MaxWorkers < 0 {
		issues = append(issues, Issue{SeverityError, "parallel.max_workers", "max_workers must not be negative"})
	}
	if p.Enabled && p.ChunkSize > 0 && p.ChunkSize < 1000 {
		issues = append(issues, Issue{SeverityWarning, "parallel.chunk_size", "chunk sizes below 1000 rows rarely pay for the per-chunk overhead"})
	}
	return issues
}

// HasError reports whether any issue carries error severity.
func HasError(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

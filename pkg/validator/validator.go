// Package validator checks records that cross a trust boundary (imported
// programs, persisted snapshots, lesson content) before they are used.
// Problems are collected, never fail-fast; warnings never block.
package validator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/antibyte/emojivm/pkg/logger"
)

// Severity of a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic codes.
const (
	CodeMissing         = "MISSING"
	CodeSchemaVersion   = "SCHEMA_VERSION"
	CodeOutOfRange      = "OUT_OF_RANGE"
	CodeInvalidValue    = "INVALID_VALUE"
	CodeDuplicate       = "DUPLICATE"
	CodeMismatch        = "MISMATCH"
	CodeInconsistent    = "INCONSISTENT"
	CodeSourceInvalid   = "SOURCE_INVALID"
	CodeMalformedJSON   = "MALFORMED_JSON"
	CodeJSONLimit       = "JSON_LIMIT"
	CodeSchema          = "SCHEMA"
	CodeUnexpectedEmpty = "EMPTY"
)

// ErrInvalid is returned by Report.Err when a report holds errors.
var ErrInvalid = errors.New("validation failed")

// Diagnostic is one validation finding. Path points at the offending field,
// for example "instructions[3].op".
type Diagnostic struct {
	Code     string   `json:"code"`
	Path     string   `json:"path"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (d Diagnostic) String() string {
	path := d.Path
	if path == "" {
		path = "$"
	}
	return fmt.Sprintf("%s %s: %s (%s)", d.Severity, path, d.Message, d.Code)
}

// Report collects the diagnostics of one validation.
type Report struct {
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// OK reports whether the record may be used: no error-severity entries.
func (r *Report) OK() bool {
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityError {
			return false
		}
	}
	return true
}

// Errors returns the blocking diagnostics.
func (r *Report) Errors() []Diagnostic {
	return r.filter(SeverityError)
}

// Warnings returns the non-blocking diagnostics.
func (r *Report) Warnings() []Diagnostic {
	return r.filter(SeverityWarning)
}

func (r *Report) filter(s Severity) []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Severity == s {
			out = append(out, d)
		}
	}
	return out
}

// Err summarizes the errors, nil when the report is OK.
func (r *Report) Err() error {
	errs := r.Errors()
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return fmt.Errorf("%w: %s", ErrInvalid, errs[0])
	}
	return fmt.Errorf("%w: %s (and %d more)", ErrInvalid, errs[0], len(errs)-1)
}

// Merge appends the diagnostics of other with their paths nested under prefix.
func (r *Report) Merge(prefix string, other Report) {
	for _, d := range other.Diagnostics {
		d.Path = join(prefix, d.Path)
		r.Diagnostics = append(r.Diagnostics, d)
	}
}

// Add appends a diagnostic produced outside this package.
func (r *Report) Add(d Diagnostic) {
	r.Diagnostics = append(r.Diagnostics, d)
}

func (r *Report) errorf(code, path, format string, args ...interface{}) {
	r.Diagnostics = append(r.Diagnostics, Diagnostic{
		Code:     code,
		Path:     path,
		Message:  fmt.Sprintf(format, args...),
		Severity: SeverityError,
	})
}

func (r *Report) warnf(code, path, format string, args ...interface{}) {
	r.Diagnostics = append(r.Diagnostics, Diagnostic{
		Code:     code,
		Path:     path,
		Message:  fmt.Sprintf(format, args...),
		Severity: SeverityWarning,
	})
}

// log writes a one-line summary of a finished report.
func (r *Report) log(what string) {
	if len(r.Diagnostics) == 0 {
		return
	}
	errs := len(r.Errors())
	if errs > 0 {
		logger.Info(logger.AreaValidator, "%s rejected: %d errors, %d warnings; first: %s",
			what, errs, len(r.Diagnostics)-errs, r.Errors()[0])
		return
	}
	logger.Debug(logger.AreaValidator, "%s accepted with %d warnings", what, len(r.Diagnostics))
}

func join(prefix, path string) string {
	switch {
	case prefix == "":
		return path
	case path == "":
		return prefix
	case strings.HasPrefix(path, "["):
		return prefix + path
	}
	return prefix + "." + path
}

func index(field string, i int) string {
	return fmt.Sprintf("%s[%d]", field, i)
}

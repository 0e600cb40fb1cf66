package validator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/antibyte/emojivm/pkg/shared"
)

// JSONValidator rejects raw JSON whose shape could exhaust the server before
// any record validation runs.
type JSONValidator struct {
	MaxBytes     int
	MaxDepth     int
	MaxKeys      int
	MaxStringLen int
	MaxArraySize int
}

// Grenzwerte für eingehendes JSON
const (
	MaxJSONBytes     = 1024 * 1024 // 1MB
	MaxJSONDepth     = 10
	MaxJSONKeys      = 100
	MaxJSONStringLen = 64 * 1024 // Quelltexte dürfen lang sein
	MaxJSONArraySize = 4096      // Speicherabbild hat 256 Zellen, Ausgabe mehr
)

var (
	ErrJSONTooLarge      = errors.New("JSON payload too large")
	ErrJSONTooDeep       = errors.New("JSON nesting too deep")
	ErrJSONTooManyKeys   = errors.New("too many keys in JSON object")
	ErrJSONStringTooLong = errors.New("JSON string too long")
	ErrJSONArrayTooLarge = errors.New("JSON array too large")
	ErrJSONMalicious     = errors.New("potentially malicious JSON key")
)

// NewJSONValidator returns a validator with the default limits.
func NewJSONValidator() *JSONValidator {
	return &JSONValidator{
		MaxBytes:     MaxJSONBytes,
		MaxDepth:     MaxJSONDepth,
		MaxKeys:      MaxJSONKeys,
		MaxStringLen: MaxJSONStringLen,
		MaxArraySize: MaxJSONArraySize,
	}
}

// ValidateJSON checks size and structure of raw JSON.
func (v *JSONValidator) ValidateJSON(data []byte) error {
	if len(data) > v.MaxBytes {
		return fmt.Errorf("%w: %d bytes", ErrJSONTooLarge, len(data))
	}

	var obj interface{}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&obj); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if decoder.More() {
		return errors.New("invalid JSON: trailing data")
	}
	return v.validateStructure(obj, 0)
}

// validateStructure validiert die JSON-Struktur rekursiv
func (v *JSONValidator) validateStructure(obj interface{}, depth int) error {
	if depth > v.MaxDepth {
		return ErrJSONTooDeep
	}

	switch val := obj.(type) {
	case map[string]interface{}:
		if len(val) > v.MaxKeys {
			return ErrJSONTooManyKeys
		}
		for key, value := range val {
			if len(key) > v.MaxStringLen {
				return ErrJSONStringTooLong
			}
			if isMaliciousKey(key) {
				return fmt.Errorf("%w: %q", ErrJSONMalicious, key)
			}
			if err := v.validateStructure(value, depth+1); err != nil {
				return err
			}
		}
	case []interface{}:
		if len(val) > v.MaxArraySize {
			return ErrJSONArrayTooLarge
		}
		for _, item := range val {
			if err := v.validateStructure(item, depth+1); err != nil {
				return err
			}
		}
	case string:
		if len(val) > v.MaxStringLen {
			return ErrJSONStringTooLong
		}
	}
	return nil
}

// isMaliciousKey prüft auf Prototype-Pollution-Keys, die der Browser-Client
// sonst ungeprüft übernehmen würde
func isMaliciousKey(key string) bool {
	switch strings.ToLower(key) {
	case "__proto__", "constructor", "prototype":
		return true
	}
	return false
}

// decode runs the structural checks, then unmarshals into dst. Problems are
// reported as error diagnostics so callers handle raw and decoded input the
// same way.
func (v *JSONValidator) decode(data []byte, dst interface{}) Report {
	var r Report
	if err := v.ValidateJSON(data); err != nil {
		code := CodeJSONLimit
		if strings.HasPrefix(err.Error(), "invalid JSON") {
			code = CodeMalformedJSON
		}
		r.errorf(code, "", "%v", err)
		return r
	}
	if err := json.Unmarshal(data, dst); err != nil {
		r.errorf(CodeMalformedJSON, typeErrorPath(err), "%v", err)
	}
	return r
}

func typeErrorPath(err error) string {
	var te *json.UnmarshalTypeError
	if errors.As(err, &te) {
		return te.Field
	}
	return ""
}

// DecodeProgram parses and validates a program record.
func (v *JSONValidator) DecodeProgram(data []byte) (*shared.ProgramRecord, Report) {
	var rec shared.ProgramRecord
	r := v.decode(data, &rec)
	if !r.OK() {
		return nil, r
	}
	r.Merge("", ValidateProgramRecord(&rec))
	return &rec, r
}

// DecodeSnapshot parses and validates a snapshot record.
func (v *JSONValidator) DecodeSnapshot(data []byte) (*shared.SnapshotRecord, Report) {
	var rec shared.SnapshotRecord
	r := v.decode(data, &rec)
	if !r.OK() {
		return nil, r
	}
	r.Merge("", ValidateSnapshotRecord(&rec))
	return &rec, r
}

// DecodeLesson parses and validates a lesson record.
func (v *JSONValidator) DecodeLesson(data []byte) (*shared.LessonRecord, Report) {
	var rec shared.LessonRecord
	r := v.decode(data, &rec)
	if !r.OK() {
		return nil, r
	}
	r.Merge("", ValidateLesson(&rec))
	return &rec, r
}

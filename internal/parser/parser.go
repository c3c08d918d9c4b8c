// parser.go - Turns raw provider text into canonical identity fields

package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/bosocmputer/identity_ocr_gemini/internal/common"
	"github.com/bosocmputer/identity_ocr_gemini/internal/identity"
)

// MinNonNullFields below which a successful parse carries a warning.
const MinNonNullFields = 3

// Result is a successfully parsed extraction.
type Result struct {
	Fields   identity.Fields
	Repaired bool
	Warnings []string
}

// ErrTrailingData is returned when text follows the decoded object.
var ErrTrailingData = errors.New("unexpected data after JSON object")

// Parse extracts, repairs if needed, normalises and validates provider output.
// Any failure is a *common.ParseError. Keys or value types outside the output contract
// become warnings.
func Parse(raw string) (*Result, error) {
	obj, repaired, err := decodeObject(raw)
	if err != nil {
		return nil, common.NewParseError(raw, err)
	}

	violations := identity.ContractViolations(obj)
	fields := identity.Normalize(obj)
	if !fields.HasFullName() {
		return nil, common.NewParseError(raw, common.ErrMissingFullName)
	}

	result := &Result{Fields: fields, Repaired: repaired}
	if n := fields.NonNullCount(); n < MinNonNullFields {
		w := common.NormalizationWarning{NonNullFields: n, Message: "extraction returned very few fields"}
		result.Warnings = append(result.Warnings, w.String())
	}
	if repaired {
		result.Warnings = append(result.Warnings, "provider output was truncated and repaired")
	}
	for _, v := range violations {
		result.Warnings = append(result.Warnings, "provider output outside contract at "+v)
	}
	return result, nil
}

// decodeObject tries the greedy brace match first, then one structural repair.
func decodeObject(raw string) (map[string]any, bool, error) {
	var firstErr error
	if candidate, ok := ExtractJSON(raw); ok {
		obj, err := unmarshalObject(candidate)
		if err == nil {
			return obj, false, nil
		}
		firstErr = err
	}

	repairedText, err := RepairJSON(raw)
	if err != nil {
		if firstErr != nil {
			return nil, false, errors.Join(firstErr, err)
		}
		return nil, false, err
	}
	obj, err := unmarshalObject(repairedText)
	if err != nil {
		return nil, false, fmt.Errorf("repaired output still invalid: %w", err)
	}
	return obj, true, nil
}

func unmarshalObject(text string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("output is null, expected an object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, ErrTrailingData
	}
	return obj, nil
}

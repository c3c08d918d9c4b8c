// repair.go - Locating and repairing the JSON object inside provider text

package parser

import (
	"errors"
	"strings"
)

// Repair failures
var (
	ErrNoObject         = errors.New("no JSON object found")
	ErrUnterminatedText = errors.New("output ends inside a string literal")
	ErrNothingToRepair  = errors.New("braces are balanced, nothing to repair")
)

// ExtractJSON returns the greedy span from the first '{' to the last '}'. Prose and code
// fences around the object are ignored.
func ExtractJSON(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return "", false
	}
	return text[start : end+1], true
}

// RepairJSON closes a truncated object. It takes everything from the first '{', strips one
// trailing dangling comma and appends the missing '}' characters. It never adds values, so
// output cut inside a string literal is refused.
func RepairJSON(text string) (string, error) {
	start := strings.Index(text, "{")
	if start < 0 {
		return "", ErrNoObject
	}
	candidate := strings.TrimRightFunc(text[start:], isSpace)

	opens, closes, inString := countBraces(candidate)
	if inString {
		return "", ErrUnterminatedText
	}
	if opens <= closes {
		return "", ErrNothingToRepair
	}

	if strings.HasSuffix(candidate, ",") {
		candidate = strings.TrimRightFunc(strings.TrimSuffix(candidate, ","), isSpace)
	}
	return candidate + strings.Repeat("}", opens-closes), nil
}

// countBraces counts structural braces, skipping those inside string literals.
func countBraces(s string) (opens, closes int, inString bool) {
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			opens++
		case '}':
			closes++
		}
	}
	return opens, closes, inString
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\r' || r == '\t'
}

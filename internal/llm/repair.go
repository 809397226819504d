package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tbourn/go-routine-backend/internal/domain"
)

// ErrMalformedOutput is wrapped by ParseRecord failures.
var ErrMalformedOutput = errors.New("model output is not a valid routine")

// maxRepairPasses bounds Repair. One pass is enough for the failures seen in
// practice (fences, prose around the object, trailing commas).
const maxRepairPasses = 1

// ParseRecord decodes model output into a RoutineRecord, applying Repair at
// most maxRepairPasses times when strict decoding fails.
func ParseRecord(raw string) (*domain.RoutineRecord, error) {
	text := raw
	var lastErr error
	for pass := 0; pass <= maxRepairPasses; pass++ {
		if pass > 0 {
			text = Repair(text)
		}
		rec, err := decodeRecord(text)
		if err == nil {
			return rec, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, lastErr)
}

func decodeRecord(text string) (*domain.RoutineRecord, error) {
	var rec domain.RoutineRecord
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &rec); err != nil {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Repair applies the bounded set of textual fixes to model output: it strips
// Markdown code fences, trims anything outside the outermost JSON object and
// removes trailing commas before a closing bracket.
func Repair(text string) string {
	text = stripFences(text)
	if i := strings.IndexByte(text, '{'); i >= 0 {
		if j := strings.LastIndexByte(text, '}'); j > i {
			text = text[i : j+1]
		}
	}
	return removeTrailingCommas(text)
}

func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```JSON", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// removeTrailingCommas drops a comma when the next non-space byte outside a
// string literal is '}' or ']'.
func removeTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
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
		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\n' || s[j] == '\r' || s[j] == '\t') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// JsonExtractFailedError is returned when none of the JSON extraction
// strategies could recover a parseable value from a completion's raw text.
type JsonExtractFailedError struct {
	Raw string
}

func (e *JsonExtractFailedError) Error() string {
	return fmt.Sprintf("llm: could not extract JSON from response (%d bytes)", len(e.Raw))
}

var fencedBlockPattern = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// ExtractJSON attempts, in order: whole-text parse; the first ```json```
// fenced block; the substring from the first '{'/'[' to its matching
// balanced close. The first strategy that parses wins; if none do, it
// returns a *JsonExtractFailedError carrying the raw text.
func ExtractJSON(text string) (any, error) {
	if v, ok := tryUnmarshal(text); ok {
		return v, nil
	}

	if m := fencedBlockPattern.FindStringSubmatch(text); m != nil {
		if v, ok := tryUnmarshal(m[1]); ok {
			return v, nil
		}
	}

	if sub, ok := balancedSubstring(text); ok {
		if v, ok := tryUnmarshal(sub); ok {
			return v, nil
		}
	}

	return nil, &JsonExtractFailedError{Raw: text}
}

func tryUnmarshal(s string) (any, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

// balancedSubstring returns the substring starting at the first '{' or '['
// and ending at its matching balanced close, honoring string literals so
// braces inside quoted text don't confuse the scan.
func balancedSubstring(text string) (string, bool) {
	start := -1
	var openByte, closeByte byte
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '{':
			start, openByte, closeByte = i, '{', '}'
		case '[':
			start, openByte, closeByte = i, '[', ']'
		}
		if start != -1 {
			break
		}
	}
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
		case openByte:
			depth++
		case closeByte:
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// Package ai turns LLM completions into domain values: interview questions,
// answer scores and resume analyses.
package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/fairyhunter13/ai-mock-interview/internal/domain"
)

var (
	thinkBlock    = regexp.MustCompile(`(?is)<think>.*?</think>`)
	trailingComma = regexp.MustCompile(`,(\s*[}\]])`)
	questionLabel = regexp.MustCompile(`(?i)^(?:\*\*)?(?:question(?:\s*\d+)?|q\d*)\s*[:.)-]\s*(?:\*\*)?\s*`)
	whitespace    = regexp.MustCompile(`\s+`)
)

var refusalPrefixes = []string{
	"i'm sorry", "i am sorry", "sorry,", "i cannot", "i can't", "i can not",
	"i'm unable", "i am unable", "as an ai", "i apologize",
}

// ResponseCleaner normalizes raw model output.
type ResponseCleaner struct{}

// NewResponseCleaner creates a new response cleaner.
func NewResponseCleaner() *ResponseCleaner {
	return &ResponseCleaner{}
}

// CleanJSON returns the first JSON object in response. Reasoning blocks,
// markdown fences and surrounding prose are dropped, and trailing commas are
// repaired. Anything still unparseable is ErrSchemaInvalid.
func (rc *ResponseCleaner) CleanJSON(response string) (string, error) {
	s := thinkBlock.ReplaceAllString(response, "")
	s = stripFences(s)
	obj, ok := firstObject(s)
	if !ok {
		return "", fmt.Errorf("%w: no JSON object in response", domain.ErrSchemaInvalid)
	}
	if json.Valid([]byte(obj)) {
		return obj, nil
	}
	fixed := trailingComma.ReplaceAllString(obj, "$1")
	if json.Valid([]byte(fixed)) {
		return fixed, nil
	}
	return "", fmt.Errorf("%w: invalid JSON object", domain.ErrSchemaInvalid)
}

// CleanQuestion reduces a completion to the bare question text on one line.
func (rc *ResponseCleaner) CleanQuestion(response string) string {
	s := thinkBlock.ReplaceAllString(response, "")
	s = stripFences(s)
	s = strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
	s = questionLabel.ReplaceAllString(s, "")
	s = strings.Trim(s, "\"'`* ")
	return s
}

// IsRefusal reports whether the model declined instead of answering.
func (rc *ResponseCleaner) IsRefusal(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, p := range refusalPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{}") {
		// language tag line such as ```json
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// firstObject finds the first balanced {...} span, ignoring braces inside strings.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
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
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

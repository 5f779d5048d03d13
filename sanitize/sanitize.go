// Package sanitize scrubs sensitive substrings from tool results before they
// are written to durable memory. It is the security boundary between
// capability execution and persistence: any result that will be retained must
// pass through Sanitize first.
//
// Credential-style matches are replaced with a label-carrying placeholder
// ([API_KEY_REDACTED]) so logs keep saying which secret was present without
// exposing its value; PII-style matches collapse to a bare [REDACTED] token
// because even a labeled placeholder would leak shape.
//
// Rules apply in a fixed sequence over the already-redacted string (union
// semantics, not first-match-wins), which makes redaction counts reproducible.
package sanitize

import "regexp"

// DefaultMaxDepth bounds recursion into nested containers. Deeper values are
// passed through unchanged; the limit is a safety valve, not an error.
const DefaultMaxDepth = 10

// redactedToken replaces PII-style matches.
const redactedToken = "[REDACTED]"

// Rule is one labeled detection pattern. ShouldRedact selects the bare
// [REDACTED] replacement used for PII-shaped data; otherwise the match is
// replaced with "[<LABEL>_REDACTED]".
type Rule struct {
	Label        string
	Pattern      *regexp.Regexp
	ShouldRedact bool
}

// rules is the ordered default rule set. Order matters: each rule scans the
// output of the previous one. Placeholders are constructed so that no rule
// can match another rule's output, which keeps Sanitize idempotent.
var rules = []Rule{
	{Label: "PRIVATE_KEY", Pattern: regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----(?s:.*?)(?:-----END [A-Z ]*PRIVATE KEY-----|$)`)},
	{Label: "AWS_ACCESS_KEY", Pattern: regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{Label: "AUTH_HEADER", Pattern: regexp.MustCompile(`(?i)\bauthorization\b["']?\s*[:=]\s*["']?(?:bearer|basic)?\s*[A-Za-z0-9\-._~+/]{8,}=*`)},
	{Label: "API_KEY", Pattern: regexp.MustCompile(`\b(?:sk|pk|rk)_(?:live|test|prod)_[A-Za-z0-9]{8,}\b|\bsk-[A-Za-z0-9]{20,}\b`)},
	{Label: "PASSWORD_ASSIGNMENT", Pattern: regexp.MustCompile(`(?i)\b(?:password|passwd|pwd)\b["']?\s*[:=]\s*["']?[^\s"',;]{4,}`)},
	{Label: "SECRET_ASSIGNMENT", Pattern: regexp.MustCompile(`(?i)\b(?:secret|api[_-]?key|access[_-]?token|client[_-]?secret)\b["']?\s*[:=]\s*["']?[^\s"',;]{8,}`)},
	{Label: "TOKEN", Pattern: regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{20,}\b|\bxox[baprs]-[A-Za-z0-9-]{10,}\b|\beyJ[A-Za-z0-9_-]{16,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\b`)},
	{Label: "BASE64_BLOB", Pattern: regexp.MustCompile(`[A-Za-z0-9+/]{48,}={0,2}`)},
	{Label: "EMAIL", Pattern: regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), ShouldRedact: true},
	{Label: "PHONE", Pattern: regexp.MustCompile(`(?:\+\d{1,2}[-.\s]?)?\(?\d{3}\)?[-.\s]\d{3}[-.\s]?\d{4}\b`), ShouldRedact: true},
	{Label: "CARD_NUMBER", Pattern: regexp.MustCompile(`\b(?:\d[ -]?){12,15}\d\b`), ShouldRedact: true},
	{Label: "SSN", Pattern: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), ShouldRedact: true},
}

// LabelCount reports how many matches one rule produced.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Result is the outcome of one Sanitize call. Cleaned has the same shape as
// the input; the input itself is never mutated.
type Result struct {
	Cleaned          any          `json:"cleaned"`
	HasSensitiveData bool         `json:"has_sensitive_data"`
	RedactedCount    int          `json:"redacted_count"`
	RedactionSummary []LabelCount `json:"redaction_summary,omitempty"`
}

// Sanitize scrubs data with the default depth limit. It is pure and total:
// the input is never mutated and no input shape causes an error.
func Sanitize(data any) Result {
	return SanitizeDepth(data, DefaultMaxDepth)
}

// SanitizeDepth scrubs data recursing at most maxDepth levels into nested
// containers. Values below the depth limit are returned unchanged.
func SanitizeDepth(data any, maxDepth int) Result {
	counts := make(map[string]int)
	cleaned := walk(data, maxDepth, counts)

	total := 0
	summary := make([]LabelCount, 0, len(counts))
	for _, r := range rules { // summary in rule order
		if n := counts[r.Label]; n > 0 {
			summary = append(summary, LabelCount{Label: r.Label, Count: n})
			total += n
		}
	}

	return Result{
		Cleaned:          cleaned,
		HasSensitiveData: total > 0,
		RedactedCount:    total,
		RedactionSummary: summary,
	}
}

// walk recursively copies data, scrubbing strings. Numbers, booleans and nil
// pass through unchanged; unknown types are returned as-is.
func walk(data any, depth int, counts map[string]int) any {
	if depth <= 0 {
		return data
	}

	switch v := data.(type) {
	case string:
		return scrubString(v, counts)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = walk(item, depth-1, counts)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = walk(item, depth-1, counts)
		}
		return out
	default:
		return data
	}
}

// scrubString applies every rule, in order, to the already-redacted string.
func scrubString(s string, counts map[string]int) string {
	for _, r := range rules {
		s = r.Pattern.ReplaceAllStringFunc(s, func(string) string {
			counts[r.Label]++
			if r.ShouldRedact {
				return redactedToken
			}
			return "[" + r.Label + "_REDACTED]"
		})
	}
	return s
}

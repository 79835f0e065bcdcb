// Package verdict extracts review decisions from free-form model output.
// Parsing is a pure function of the text; no I/O, no state.
package verdict

import (
	"regexp"
	"strings"
)

// Decision is a normalized review outcome.
type Decision string

const (
	// Approve means the review gate passed and the pipeline may advance.
	Approve Decision = "approve"
	// Revise means the reviewer asked for changes; the artifact is not
	// approved but the workflow may iterate.
	Revise Decision = "revise"
	// Reject means the reviewer declined the artifact outright.
	Reject Decision = "reject"
	// Unknown means no recognizable verdict was present in the text.
	Unknown Decision = "unknown"
)

// Approved reports whether the decision clears the review gate.
func (d Decision) Approved() bool {
	return d == Approve
}

// Markdown reviews are asked to end with a line like "VERDICT: APPROVE".
// The explicit marker is matched first; bare keywords on their own line are
// a fallback for models that drop the prefix.
var (
	markerRe = regexp.MustCompile(`(?mi)^\s*(?:\*\*)?verdict(?:\*\*)?\s*[:\-]\s*(approve[d]?|revise|reject(?:ed)?|lgtm)\b`)
	bareRe   = regexp.MustCompile(`(?mi)^\s*(?:\*\*)?(approved?|lgtm|revise|rejected?)(?:\*\*)?\s*\.?\s*$`)
)

// Parse extracts the decision from review text. The last marker wins: a
// review that quotes an earlier verdict and then overrides it is read as
// the override.
func Parse(text string) Decision {
	if m := markerRe.FindAllStringSubmatch(text, -1); len(m) > 0 {
		return normalize(m[len(m)-1][1])
	}
	if m := bareRe.FindAllStringSubmatch(text, -1); len(m) > 0 {
		return normalize(m[len(m)-1][1])
	}
	return Unknown
}

func normalize(raw string) Decision {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approve", "approved", "lgtm":
		return Approve
	case "revise":
		return Revise
	case "reject", "rejected":
		return Reject
	}
	return Unknown
}

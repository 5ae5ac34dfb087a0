package orchestrator

import (
	"regexp"
	"strings"
)

// ApprovalToken is the literal a reviewer must emit to sign off on a draft.
const ApprovalToken = "@@SIGNED OFF@@"

// negationRe matches a negation word in the text leading up to the token.
// Word-bounded so "notable" or "nothing" never count.
var negationRe = regexp.MustCompile(`(?i)\b(not|no|never)\b`)

// sentenceBoundary marks where a preceding negation stops applying to a
// later approval token.
var sentenceBoundary = regexp.MustCompile(`[.!?\n]`)

// IsApproved reports whether reviewer output contains a non-negated approval
// token. Matching is case-insensitive. An occurrence counts as negated when
// a negation word (not / no / never) appears between the token and the start
// of its sentence — "We do NOT consider this @@SIGNED OFF@@" is a rejection,
// while "Great work.\n@@SIGNED OFF@@" approves.
func IsApproved(content string) bool {
	lower := strings.ToLower(content)
	token := strings.ToLower(ApprovalToken)

	for from := 0; ; {
		idx := strings.Index(lower[from:], token)
		if idx < 0 {
			return false
		}
		idx += from

		// Scope the negation scan to the sentence containing the token.
		start := 0
		if locs := sentenceBoundary.FindAllStringIndex(lower[:idx], -1); len(locs) > 0 {
			start = locs[len(locs)-1][1]
		}
		if !negationRe.MatchString(lower[start:idx]) {
			return true
		}
		from = idx + len(token)
	}
}

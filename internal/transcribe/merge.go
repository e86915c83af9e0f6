package transcribe

import "strings"

// MergeOverlap removes the longest suffix-prefix overlap between the
// previous transcript and the new one: given prev ending with X and next
// starting with X, it returns next with X removed. Case-sensitive and
// whitespace-preserving. When prev and next share no overlap, next is
// returned verbatim; when next is entirely overlap, the result is empty.
func MergeOverlap(prev, next string) string {
	for l := min(len(prev), len(next)); l > 0; l-- {
		if strings.HasSuffix(prev, next[:l]) {
			return next[l:]
		}
	}
	return next
}

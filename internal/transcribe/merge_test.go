package transcribe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestMergeOverlap(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		prev string
		next string
		want string
	}{
		{"no overlap", "hello world", "goodbye", "goodbye"},
		{"full overlap yields empty", "say it again", "say it again", ""},
		{"partial overlap", "the quick brown", "brown fox jumps", " fox jumps"},
		{"single char overlap", "end.", ".start", "start"},
		{"empty previous", "", "first words", "first words"},
		{"empty next", "something", "", ""},
		{"case sensitive", "Hello World", "world peace", "world peace"},
		{"whitespace preserved", "ends with ", " with trailing", "trailing"},
		{"longest overlap wins", "abcabc", "abcabcx", "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, MergeOverlap(tt.prev, tt.next))
		})
	}
}

// TestMergeOverlapProperties checks the dedup invariants: a next equal to
// prev's suffix vanishes entirely, and the emitted text is always a suffix
// of next.
func TestMergeOverlapProperties(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		prev := rapid.StringMatching(`[a-c ]{0,12}`).Draw(t, "prev")
		next := rapid.StringMatching(`[a-c ]{0,12}`).Draw(t, "next")

		merged := MergeOverlap(prev, next)

		// Emitted text is a suffix of the new transcript.
		assert.True(t, len(merged) <= len(next))
		assert.Equal(t, next[len(next)-len(merged):], merged)

		// Idempotence: when next is entirely a suffix of prev, nothing is emitted.
		if len(next) > 0 && len(prev) >= len(next) && prev[len(prev)-len(next):] == next {
			assert.Empty(t, merged)
		}
	})
}

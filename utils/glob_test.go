package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGlobMatch(t *testing.T) {
	cases := []struct {
		pattern string
		input   string
		want    bool
	}{
		{"todos:user:*", "todos:user:alice", true},
		{"todos:user:*", "todos:user:alice:extra", true},
		{"todos:user:*", "stats:user:alice", false},
		{"todo:*:alice", "todo:created:alice", true},
		{"todo:*:alice", "todo:created:bob", false},
		{"*", "anything:at:all", true},
		{"*", "", true},
		{"exact", "exact", true},
		{"exact", "exac", false},
		{"exact", "exactly", false},
		{"a?c", "abc", true},
		{"a?c", "ac", false},
		{"a*b*c", "axxbyyc", true},
		{"a*b*c", "axxcyyb", false},
		{"", "", true},
		{"", "x", false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, GlobMatch(tc.pattern, tc.input),
			"pattern=%q input=%q", tc.pattern, tc.input)
	}
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "", TruncateRunes("hello", 0))
	assert.Equal(t, "hello", TruncateRunes("hello", 10))
	assert.Equal(t, "hel", TruncateRunes("hello", 3))

	// Rune boundaries, not bytes.
	assert.Equal(t, "héllö", TruncateRunes("héllö", 5))
	assert.Equal(t, "hél", TruncateRunes("héllö", 3))

	long := strings.Repeat("ж", 600)
	truncated := TruncateRunes(long, 500)
	assert.Equal(t, 500, len([]rune(truncated)))
}

package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplit(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"a", "b", "c"}, Split("/a//b/./c/"))
	assert.Empty(t, Split(""))
	assert.Empty(t, Split("/./"))
}

func TestStrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		n    int
		want string
		ok   bool
	}{
		{"a/b/c", 0, "a/b/c", true},
		{"a/b/c", 1, "b/c", true},
		{"a/b/c", 2, "c", true},
		{"a/b/c", 3, "", false},
		{"/a/b", 1, "b", true},
	}
	for _, tt := range tests {
		got, ok := Strip(tt.path, tt.n)
		assert.Equal(t, tt.ok, ok, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}
}

func TestSafe(t *testing.T) {
	t.Parallel()

	assert.True(t, Safe("a/b"))
	assert.True(t, Safe("/abs/is/rooted"))
	assert.False(t, Safe("a/../../b"))
	assert.False(t, Safe(""))
	assert.False(t, Safe("a\\..\\b"))
}

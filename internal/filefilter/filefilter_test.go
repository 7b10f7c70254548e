package filefilter

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeepAppliesExcludePattern(t *testing.T) {
	f, err := Compile([]string{`\.git/`, `node_modules/`}, 0)
	require.NoError(t, err)

	assert.False(t, f.Keep(Descendant{RelativePath: "repo/.git/HEAD", Size: 10}))
	assert.True(t, f.Keep(Descendant{RelativePath: "repo/src/main.go", Size: 10}))
}

func TestKeepAppliesSizeCap(t *testing.T) {
	f, err := Compile(nil, 100)
	require.NoError(t, err)

	assert.True(t, f.Keep(Descendant{RelativePath: "small", Size: 100}))
	assert.False(t, f.Keep(Descendant{RelativePath: "big", Size: 101}))
}

func TestKeepDropsSpecialKinds(t *testing.T) {
	f, err := Compile(nil, 0)
	require.NoError(t, err)

	assert.False(t, f.Keep(Descendant{RelativePath: "socket", Mode: os.ModeSocket}))
	assert.False(t, f.Keep(Descendant{RelativePath: "fifo", Mode: os.ModeNamedPipe}))
	assert.False(t, f.Keep(Descendant{RelativePath: "dev", Mode: os.ModeDevice}))
	assert.True(t, f.Keep(Descendant{RelativePath: "regular"}))
}

func TestCompileRejectsTooManyPatterns(t *testing.T) {
	patterns := make([]string, MaxPatterns+1)
	for i := range patterns {
		patterns[i] = "x"
	}
	_, err := Compile(patterns, 0)
	require.Error(t, err)
}

func TestCompileRejectsOversizePattern(t *testing.T) {
	_, err := Compile([]string{strings.Repeat("a", MaxPatternBytes+1)}, 0)
	require.Error(t, err)
}

func TestCompileRejectsInvalidRegex(t *testing.T) {
	_, err := Compile([]string{"(unclosed"}, 0)
	require.Error(t, err)
}

func TestApplyPreservesOrder(t *testing.T) {
	f, err := Compile([]string{`skip`}, 0)
	require.NoError(t, err)

	in := []Descendant{
		{RelativePath: "a"},
		{RelativePath: "skip_me"},
		{RelativePath: "b"},
	}
	out := f.Apply(in)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].RelativePath)
	assert.Equal(t, "b", out[1].RelativePath)
}

package component

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrontMatter(t *testing.T) {
	doc := "---\nname: writer\ntools: Read, Write, mcp__github__search\nskills:\n  - pdf\n  - docs\n---\nBody text\n"
	fm, body, err := ParseFrontMatter([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "writer", fm.String("name"))
	assert.Equal(t, []string{"Read", "Write", "mcp__github__search"}, fm.Strings("tools"))
	assert.Equal(t, []string{"pdf", "docs"}, fm.Strings("skills"))
	assert.Equal(t, "Body text\n", string(body))
	assert.False(t, fm.Has("model"))
}

func TestParseFrontMatterMissingAndMalformed(t *testing.T) {
	_, body, err := ParseFrontMatter([]byte("# Title\n"))
	assert.ErrorIs(t, err, ErrMissingFrontMatter)
	assert.Equal(t, "# Title\n", string(body))

	_, _, err = ParseFrontMatter([]byte("---\nname: x\nno closing fence\n"))
	assert.ErrorIs(t, err, ErrMalformedFrontMatter)

	_, _, err = ParseFrontMatter([]byte("---\nname: [unclosed\n---\nbody\n"))
	assert.Error(t, err)
}

func TestParseFrontMatterHandlesCRLFAndEmptyHeader(t *testing.T) {
	fm, body, err := ParseFrontMatter([]byte("---\r\ndescription: hi\r\n---\r\nbody\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "hi", fm.String("description"))
	assert.Equal(t, "body\n", string(body))

	fm, body, err = ParseFrontMatter([]byte("---\n---\nbody\n"))
	require.NoError(t, err)
	assert.Empty(t, fm)
	assert.Equal(t, "body\n", string(body))
}

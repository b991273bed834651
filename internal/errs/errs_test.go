package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOfClassifiesWrappedErrors(t *testing.T) {
	base := Wrap(CacheCorrupt, errors.New("unexpected EOF"), "cache unreadable")
	wrapped := fmt.Errorf("load: %w", base)

	assert.Equal(t, CacheCorrupt, CodeOf(wrapped))
	assert.True(t, Is(wrapped, CacheCorrupt))
	assert.False(t, Is(wrapped, Discovery))
	assert.True(t, errors.Is(wrapped, New(CacheCorrupt, "")))
}

func TestCodeOfMapsContextErrors(t *testing.T) {
	assert.Equal(t, AnalyzerTimeout, CodeOf(fmt.Errorf("slow: %w", context.DeadlineExceeded)))
	assert.Equal(t, Cancelled, CodeOf(context.Canceled))
	assert.Equal(t, Internal, CodeOf(errors.New("boom")))
	assert.Equal(t, Code(""), CodeOf(nil))
}

func TestErrorMessageIncludesComponentAndCause(t *testing.T) {
	err := Wrap(AnalyzerError, errors.New("bad frontmatter"), "analyze failed").ForComponent("agent:writer")
	require.Equal(t, "agent:writer", err.Component)
	assert.Equal(t, "ANALYZER_ERROR: agent:writer: analyze failed: bad frontmatter", err.Error())
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(Discovery))
	assert.True(t, IsFatal(Config))
	for _, code := range []Code{AnalyzerTimeout, AnalyzerError, CacheCorrupt, LedgerWrite, GraphBuild, Cancelled} {
		assert.False(t, IsFatal(code), string(code))
	}
}

package interp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morozRed/cfgaudit/internal/component"
)

type mapReader map[string]string

func (m mapReader) Read(c component.Component) ([]byte, error) {
	content, ok := m[c.ID]
	if !ok {
		return nil, errors.New("missing")
	}
	return []byte(content), nil
}

func TestDetectHookLanguages(t *testing.T) {
	components := []component.Component{
		{ID: "hook:guard.sh", Kind: component.Hook, Path: ".claude/hooks/guard.sh"},
		{ID: "hook:lint", Kind: component.Hook, Path: ".claude/hooks/lint"},
		{ID: "hook:notes", Kind: component.Hook, Path: ".claude/hooks/notes"},
		{ID: "hook:gone.py", Kind: component.Hook, Path: ".claude/hooks/gone.py"},
		{ID: "command:deploy", Kind: component.Command, Path: ".claude/commands/deploy.md"},
	}
	reader := mapReader{
		"hook:guard.sh":  "echo ok\n",
		"hook:lint":      "#!/usr/bin/env python3\nprint('x')\n",
		"hook:notes":     "plain text\n",
		"command:deploy": "#!/bin/bash\n",
	}

	presence := DetectHookLanguages(components, reader)

	assert.Equal(t, map[string][]string{
		"bash":   {"hook:guard.sh"},
		"python": {"hook:lint"},
	}, presence)
}

func TestProbeWithLookPath(t *testing.T) {
	presence := map[string][]string{
		"bash":       {"hook:guard.sh"},
		"python":     {"hook:lint"},
		"javascript": {"hook:format.js"},
	}

	capabilities := ProbeWithLookPath(presence, func(file string) (string, error) {
		switch file {
		case "sh", "python3":
			return "/mock/bin/" + file, nil
		default:
			return "", errors.New("not found")
		}
	})

	require.Len(t, capabilities, len(Languages()))
	assert.True(t, capabilities["bash"].Available)
	assert.Equal(t, "sh", capabilities["bash"].Interpreter)
	assert.Equal(t, "python3", capabilities["python"].Interpreter)
	assert.Equal(t, "interpreter_not_found", capabilities["javascript"].Reason)
	assert.Equal(t, "node", capabilities["javascript"].Interpreter)
	assert.Equal(t, "language_not_present", capabilities["typescript"].Reason)
	assert.Equal(t, []string{"hook:lint"}, capabilities["python"].Hooks)
}

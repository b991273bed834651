package component

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

// Reader loads the current content of a component.
type Reader interface {
	Read(c Component) ([]byte, error)
}

// FSReader reads components from disk. Multi-file components are returned as
// their member files joined in path order; MCP servers as canonical JSON.
type FSReader struct{}

func (FSReader) Read(c Component) ([]byte, error) {
	if c.Kind == MCPServer {
		entries, err := readMCPEntries(filepath.Join(c.Root, filepath.FromSlash(c.Files[0])))
		if err != nil {
			return nil, err
		}
		entry, ok := entries[c.Name]
		if !ok {
			return nil, fmt.Errorf("mcp server %s no longer present", c.Name)
		}
		return entry, nil
	}
	if len(c.Files) == 1 {
		return os.ReadFile(filepath.Join(c.Root, filepath.FromSlash(c.Files[0])))
	}

	var buf bytes.Buffer
	for _, rel := range c.readOrder() {
		data, err := os.ReadFile(filepath.Join(c.Root, filepath.FromSlash(rel)))
		if err != nil {
			return nil, err
		}
		buf.Write(data)
		if !bytes.HasSuffix(data, []byte("\n")) {
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes(), nil
}

// readOrder puts the primary member first so frontmatter parsing sees it;
// the rest keep path order.
func (c Component) readOrder() []string {
	if c.Primary == "" {
		return c.Files
	}
	out := make([]string, 0, len(c.Files))
	out = append(out, c.Primary)
	for _, rel := range c.Files {
		if rel != c.Primary {
			out = append(out, rel)
		}
	}
	return out
}

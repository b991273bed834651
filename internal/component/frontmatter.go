package component

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingFrontMatter means the document does not open with a --- fence.
	ErrMissingFrontMatter = errors.New("component: missing frontmatter")
	// ErrMalformedFrontMatter means the opening fence is never closed.
	ErrMalformedFrontMatter = errors.New("component: malformed frontmatter")
)

// FrontMatter is the decoded YAML header of a markdown component.
type FrontMatter map[string]any

// ParseFrontMatter splits a markdown document into its YAML header and body.
// Documents without a header return ErrMissingFrontMatter and the full body.
func ParseFrontMatter(content []byte) (FrontMatter, []byte, error) {
	normalized := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return nil, normalized, ErrMissingFrontMatter
	}
	rest := normalized[4:]

	var meta, body []byte
	if bytes.HasPrefix(rest, []byte("---\n")) {
		body = rest[4:]
	} else if idx := bytes.Index(rest, []byte("\n---\n")); idx >= 0 {
		meta, body = rest[:idx], rest[idx+5:]
	} else if bytes.HasSuffix(rest, []byte("\n---")) {
		meta = rest[:len(rest)-4]
	} else {
		return nil, normalized, ErrMalformedFrontMatter
	}

	fm := FrontMatter{}
	if len(bytes.TrimSpace(meta)) > 0 {
		if err := yaml.Unmarshal(meta, &fm); err != nil {
			return nil, body, fmt.Errorf("component: parse frontmatter: %w", err)
		}
	}
	return fm, body, nil
}

// String returns a scalar value as text, or "".
func (f FrontMatter) String(key string) string {
	value, ok := f[key]
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Strings returns a list value. Scalars are split on commas, which is how
// tool lists are usually written in headers.
func (f FrontMatter) Strings(key string) []string {
	value, ok := f[key]
	if !ok || value == nil {
		return nil
	}
	var raw []string
	switch v := value.(type) {
	case string:
		raw = strings.Split(v, ",")
	case []any:
		for _, item := range v {
			raw = append(raw, fmt.Sprint(item))
		}
	case []string:
		raw = v
	default:
		raw = []string{fmt.Sprint(v)}
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Has reports whether key is present with a non-empty value.
func (f FrontMatter) Has(key string) bool {
	return f.String(key) != "" || len(f.Strings(key)) > 0
}

package ignore

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// FileName is the per-project ignore file read by LoadFile.
const FileName = ".cfgauditignore"

// DefaultRules exclude VCS metadata, dependency trees, editor droppings and
// cfgaudit's own output directory.
var DefaultRules = []string{
	".git/",
	".cfgaudit/",
	"node_modules/",
	"__pycache__/",
	".venv/",
	"dist/",
	"build/",
	".cache/",
	"*.swp",
	"*.tmp",
	".DS_Store",
}

// Predicate decides whether a root-relative path is skipped during discovery.
// Returning true for a directory prunes the whole subtree.
type Predicate func(relPath string, isDir bool) bool

// None excludes nothing.
func None(string, bool) bool { return false }

type rule struct {
	re       *regexp.Regexp
	literal  string
	negated  bool
	dirOnly  bool
	anchored bool
	hasSlash bool
}

// Matcher applies gitignore-like rules. The last matching rule decides.
type Matcher struct {
	rules []rule
}

// NewMatcher compiles DefaultRules followed by userRules. User negations can
// re-include anything a default excludes.
func NewMatcher(userRules []string) *Matcher {
	all := make([]string, 0, len(DefaultRules)+len(userRules))
	all = append(all, DefaultRules...)
	all = append(all, userRules...)

	m := &Matcher{rules: make([]rule, 0, len(all))}
	for _, line := range all {
		if parsed, ok := parseRule(line); ok {
			m.rules = append(m.rules, parsed)
		}
	}
	return m
}

// Predicate adapts the matcher to the discovery exclusion hook.
func (m *Matcher) Predicate() Predicate {
	return m.ShouldIgnore
}

// ShouldIgnore returns true when relPath should be excluded.
func (m *Matcher) ShouldIgnore(relPath string, isDir bool) bool {
	relPath = normalizePath(relPath)
	if relPath == "" || relPath == "." {
		return false
	}
	ignored := false
	for _, r := range m.rules {
		if r.matches(relPath, isDir) {
			ignored = !r.negated
		}
	}
	return ignored
}

// LoadFile reads ignore rules from root/FileName. A missing file yields no rules.
func LoadFile(root string) ([]string, error) {
	ignorePath := filepath.Join(root, FileName)
	f, err := os.Open(ignorePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", FileName, err)
	}
	defer f.Close()

	rules := make([]string, 0)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rules = append(rules, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", FileName, err)
	}
	return rules, nil
}

func parseRule(line string) (rule, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return rule{}, false
	}

	var r rule
	if strings.HasPrefix(line, "!") {
		r.negated = true
		line = line[1:]
	}
	if strings.HasPrefix(line, "/") {
		r.anchored = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	line = normalizePath(line)
	if line == "" {
		return rule{}, false
	}

	r.literal = line
	r.hasSlash = strings.Contains(line, "/")
	re, err := regexp.Compile("^" + globToRegex(line) + "$")
	if err != nil {
		return rule{}, false
	}
	r.re = re
	return r, true
}

func (r rule) matches(relPath string, isDir bool) bool {
	if r.dirOnly {
		// A file matches a directory rule when one of its parent directories does.
		parents := parentDirs(relPath, isDir)
		for _, dir := range parents {
			if r.anchored || r.hasSlash {
				if r.re.MatchString(dir) {
					return true
				}
				continue
			}
			if r.re.MatchString(path.Base(dir)) {
				return true
			}
		}
		return false
	}

	if r.anchored {
		return r.re.MatchString(relPath)
	}
	if r.hasSlash {
		segments := strings.Split(relPath, "/")
		for i := range segments {
			if r.re.MatchString(strings.Join(segments[i:], "/")) {
				return true
			}
		}
		return false
	}
	for _, segment := range strings.Split(relPath, "/") {
		if r.re.MatchString(segment) {
			return true
		}
	}
	return false
}

// parentDirs lists every directory prefix of relPath, including relPath
// itself when it is a directory.
func parentDirs(relPath string, isDir bool) []string {
	segments := strings.Split(relPath, "/")
	limit := len(segments) - 1
	if isDir {
		limit = len(segments)
	}
	out := make([]string, 0, limit)
	for i := 1; i <= limit; i++ {
		out = append(out, strings.Join(segments[:i], "/"))
	}
	return out
}

func globToRegex(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		ch := pattern[i]
		switch ch {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				b.WriteString(".*")
				i++
				continue
			}
			b.WriteString("[^/]*")
		case '?':
			b.WriteString("[^/]")
		default:
			b.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	return b.String()
}

func normalizePath(p string) string {
	p = filepath.ToSlash(p)
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimPrefix(p, "/")
	return strings.TrimSuffix(p, "/")
}

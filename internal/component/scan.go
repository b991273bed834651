package component

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/morozRed/cfgaudit/internal/errs"
	"github.com/morozRed/cfgaudit/internal/fileutil"
	"github.com/morozRed/cfgaudit/internal/ignore"
)

// ScanOptions configures one discovery pass.
type ScanOptions struct {
	Roots   []string
	Kinds   []Kind
	Layout  Layout
	Exclude ignore.Predicate
	// OnSkip is told about files that look like components but cannot be
	// registered as one.
	OnSkip func(path, reason string)
}

type fileHit struct {
	rel   string
	mtime time.Time
}

// Scan discovers components under every root. Each root is walked once and
// excluded directories are pruned. A missing root is a DiscoveryError; no
// matches is an empty result. When two roots yield the same id the first
// root wins.
func Scan(opts ScanOptions) ([]Component, error) {
	if len(opts.Roots) == 0 {
		return nil, errs.New(errs.Discovery, "no root paths given")
	}
	layout := opts.Layout
	if layout.Kinds == nil {
		layout = DefaultLayout()
	}
	exclude := opts.Exclude
	if exclude == nil {
		exclude = ignore.None
	}
	filter := make(map[Kind]bool, len(opts.Kinds))
	for _, kind := range opts.Kinds {
		filter[kind] = true
	}

	seen := make(map[string]bool)
	out := make([]Component, 0)
	for _, root := range opts.Roots {
		found, err := scanRoot(root, layout, filter, exclude, opts.OnSkip)
		if err != nil {
			return nil, err
		}
		for _, c := range found {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			out = append(out, c)
		}
	}
	Sort(out)
	return out, nil
}

func scanRoot(root string, layout Layout, filter map[Kind]bool, exclude ignore.Predicate, onSkip func(string, string)) ([]Component, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, errs.Wrap(errs.Discovery, err, "failed to resolve root "+root)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, errs.Wrap(errs.Discovery, err, "root path is missing or unreadable")
	}
	if !info.IsDir() {
		return nil, errs.Newf(errs.Discovery, "root path %s is not a directory", absRoot)
	}

	dirs := layout.dirKinds(filter)
	byKind := make(map[Kind][]fileHit)

	walkErr := filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == absRoot {
				return err
			}
			// Unreadable subtrees are skipped; the root itself must be readable.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if p == absRoot {
			return nil
		}
		rel, err := filepath.Rel(absRoot, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if exclude(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		kind, _, ok := layout.kindFor(dirs, rel)
		if !ok {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		byKind[kind] = append(byKind[kind], fileHit{rel: rel, mtime: fi.ModTime()})
		return nil
	})
	if walkErr != nil {
		return nil, errs.Wrap(errs.Discovery, walkErr, "failed to walk "+absRoot)
	}

	out := make([]Component, 0)
	for _, dk := range dirs {
		hits := byKind[dk.kind]
		var (
			found []Component
			err   error
		)
		if dk.kind == Skill {
			found, err = skillComponents(absRoot, dk.dir, layout.pattern(Skill), hits, onSkip)
		} else {
			found, err = fileComponents(absRoot, dk.dir, dk.kind, layout.pattern(dk.kind), hits)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}

	if (len(filter) == 0 || filter[MCPServer]) && layout.MCPFile != "" && !exclude(filepath.ToSlash(layout.MCPFile), false) {
		found, err := mcpComponents(absRoot, layout.MCPFile)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}

func fileComponents(root, dir string, kind Kind, pattern string, hits []fileHit) ([]Component, error) {
	out := make([]Component, 0, len(hits))
	for _, hit := range hits {
		if ok, _ := path.Match(pattern, path.Base(hit.rel)); !ok {
			continue
		}
		name := strings.TrimPrefix(hit.rel, dir+"/")
		if strings.EqualFold(path.Ext(name), ".md") {
			name = strings.TrimSuffix(name, path.Ext(name))
		}
		hash, err := fileutil.HashFile(filepath.Join(root, filepath.FromSlash(hit.rel)))
		if err != nil {
			return nil, errs.Wrap(errs.Discovery, err, "failed to hash "+hit.rel)
		}
		out = append(out, Component{
			ID:           ID(kind, name),
			Kind:         kind,
			Name:         name,
			Path:         hit.rel,
			Root:         root,
			Files:        []string{hit.rel},
			ContentHash:  hash,
			LastModified: hit.mtime.UTC(),
		})
	}
	return out, nil
}

// skillComponents groups files under the nearest ancestor directory holding
// the marker file. Files outside any skill directory are ignored. A marker
// directly inside the skills directory has no name of its own and is
// reported through onSkip.
func skillComponents(root, dir, marker string, hits []fileHit, onSkip func(string, string)) ([]Component, error) {
	skillDirs := make(map[string]bool)
	for _, hit := range hits {
		if path.Base(hit.rel) != marker {
			continue
		}
		if path.Dir(hit.rel) == dir {
			if onSkip != nil {
				onSkip(hit.rel, fmt.Sprintf("%s must live in its own directory (%s/<name>/%s)", marker, dir, marker))
			}
			continue
		}
		skillDirs[path.Dir(hit.rel)] = true
	}

	members := make(map[string][]fileHit, len(skillDirs))
	for _, hit := range hits {
		for d := path.Dir(hit.rel); d != "." && d != dir && d != "/"; d = path.Dir(d) {
			if skillDirs[d] {
				members[d] = append(members[d], hit)
				break
			}
		}
	}

	out := make([]Component, 0, len(members))
	for _, skillDir := range fileutil.MapKeysSorted(members) {
		files := members[skillDir]
		rels := make([]string, 0, len(files))
		var newest time.Time
		for _, f := range files {
			rels = append(rels, f.rel)
			if f.mtime.After(newest) {
				newest = f.mtime
			}
		}
		sort.Strings(rels)
		hash, err := fileutil.HashTree(root, rels)
		if err != nil {
			return nil, errs.Wrap(errs.Discovery, err, "failed to hash skill "+skillDir)
		}
		name := strings.TrimPrefix(skillDir, dir+"/")
		out = append(out, Component{
			ID:           ID(Skill, name),
			Kind:         Skill,
			Name:         name,
			Path:         skillDir,
			Root:         root,
			Files:        rels,
			Primary:      path.Join(skillDir, marker),
			ContentHash:  hash,
			LastModified: newest.UTC(),
		})
	}
	return out, nil
}

type mcpConfig struct {
	MCPServers map[string]json.RawMessage `json:"mcpServers"`
}

func mcpComponents(root, file string) ([]Component, error) {
	full := filepath.Join(root, filepath.FromSlash(file))
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.Discovery, err, "failed to stat "+file)
	}
	entries, err := readMCPEntries(full)
	if err != nil {
		return nil, errs.Wrap(errs.Discovery, err, "failed to parse "+file)
	}

	rel := filepath.ToSlash(file)
	out := make([]Component, 0, len(entries))
	for _, name := range fileutil.MapKeysSorted(entries) {
		out = append(out, Component{
			ID:           ID(MCPServer, name),
			Kind:         MCPServer,
			Name:         name,
			Path:         rel + "#" + name,
			Root:         root,
			Files:        []string{rel},
			ContentHash:  fileutil.HashBytes(entries[name]),
			LastModified: info.ModTime().UTC(),
		})
	}
	return out, nil
}

// readMCPEntries returns each server entry re-encoded canonically, so key
// order and whitespace in the source file do not affect hashes.
func readMCPEntries(full string) (map[string][]byte, error) {
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, err
	}
	var cfg mcpConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(cfg.MCPServers))
	for name, raw := range cfg.MCPServers {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, fmt.Errorf("server %s: %w", name, err)
		}
		canonical, err := json.Marshal(decoded)
		if err != nil {
			return nil, err
		}
		out[name] = canonical
	}
	return out, nil
}

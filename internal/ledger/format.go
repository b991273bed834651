package ledger

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/morozRed/cfgaudit/internal/component"
)

const (
	stagesSection    = "stages"
	inventorySection = "inventory"
)

func render(h Header, stages []*StageState, inventory []component.Component) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# cfgaudit run %s\n\n", h.RunID)
	fmt.Fprintf(&b, "run_id: %s\n", h.RunID)
	fmt.Fprintf(&b, "mode: %s\n", h.Mode)
	fmt.Fprintf(&b, "target: %s\n", h.Target)
	fmt.Fprintf(&b, "status: %s\n", h.Status)
	if len(h.Scope.Kinds) > 0 {
		kinds := make([]string, 0, len(h.Scope.Kinds))
		for _, k := range h.Scope.Kinds {
			kinds = append(kinds, string(k))
		}
		fmt.Fprintf(&b, "scope_kinds: %s\n", strings.Join(kinds, ","))
	}
	if len(h.Scope.IDs) > 0 {
		fmt.Fprintf(&b, "scope_ids: %s\n", strings.Join(h.Scope.IDs, ","))
	}
	writeTime(&b, "started_at", h.StartedAt)
	writeTime(&b, "updated_at", h.UpdatedAt)
	writeTime(&b, "finished_at", h.FinishedAt)

	fmt.Fprintf(&b, "\n## %s\n\n", stagesSection)
	for _, st := range stages {
		fmt.Fprintf(&b, "- %s %s status=%s\n", checkbox(st.Status), st.Name, st.Status)
	}

	for _, st := range stages {
		if len(st.Units) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n\n", st.Name)
		for _, u := range st.Units {
			fmt.Fprintf(&b, "- %s %s status=%s", checkbox(u.Status), u.ID, u.Status)
			if u.ContentHash != "" {
				fmt.Fprintf(&b, " hash=%s", u.ContentHash)
			}
			if u.ResultRef != "" {
				fmt.Fprintf(&b, " ref=%s", u.ResultRef)
			}
			if u.Reason != "" {
				fmt.Fprintf(&b, " reason=%s", strconv.Quote(u.Reason))
			}
			b.WriteByte('\n')
		}
	}

	if len(inventory) > 0 {
		fmt.Fprintf(&b, "\n## %s\n\n", inventorySection)
		for _, c := range inventory {
			fmt.Fprintf(&b, "- %s hash=%s root=%s path=%s files=%s", c.ID, c.ContentHash, strconv.Quote(c.Root), strconv.Quote(c.Path), strconv.Quote(strings.Join(c.Files, ",")))
			if c.Primary != "" {
				fmt.Fprintf(&b, " primary=%s", strconv.Quote(c.Primary))
			}
			if !c.LastModified.IsZero() {
				fmt.Fprintf(&b, " mtime=%s", c.LastModified.UTC().Format(time.RFC3339Nano))
			}
			b.WriteByte('\n')
		}
	}
	return b.Bytes()
}

func writeTime(b *bytes.Buffer, key string, t time.Time) {
	if t.IsZero() {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", key, t.UTC().Format(time.RFC3339Nano))
}

func checkbox(s Status) string {
	if s == Done {
		return "[x]"
	}
	return "[ ]"
}

func parse(data []byte) (Header, []*StageState, []component.Component, error) {
	var (
		h         Header
		stages    []*StageState
		inventory []component.Component
		section   string
	)
	byName := make(map[string]*StageState)
	stage := func(name string) *StageState {
		if st, ok := byName[name]; ok {
			return st
		}
		st := &StageState{Name: name, Status: Pending}
		byName[name] = st
		stages = append(stages, st)
		return st
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasPrefix(line, "## ") {
			section = strings.TrimSpace(strings.TrimPrefix(line, "## "))
			continue
		}
		if strings.HasPrefix(line, "# ") {
			continue
		}

		switch section {
		case "":
			if err := parseHeaderLine(&h, line); err != nil {
				return h, nil, nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
		case stagesSection:
			name, fields, err := parseItem(line, true)
			if err != nil {
				return h, nil, nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			stage(name).Status = Status(fields["status"])
		case inventorySection:
			id, fields, err := parseItem(line, false)
			if err != nil {
				return h, nil, nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			c, err := inventoryComponent(id, fields)
			if err != nil {
				return h, nil, nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			inventory = append(inventory, c)
		default:
			id, fields, err := parseItem(line, true)
			if err != nil {
				return h, nil, nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			st := stage(section)
			st.Units = append(st.Units, Unit{
				ID:          id,
				Status:      Status(fields["status"]),
				ContentHash: fields["hash"],
				ResultRef:   fields["ref"],
				Reason:      fields["reason"],
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return h, nil, nil, err
	}
	if h.RunID == "" {
		return h, nil, nil, fmt.Errorf("missing run_id header")
	}
	return h, stages, inventory, nil
}

func parseHeaderLine(h *Header, line string) error {
	key, value, ok := strings.Cut(line, ":")
	if !ok {
		return fmt.Errorf("malformed header line %q", line)
	}
	value = strings.TrimSpace(value)
	var err error
	switch strings.TrimSpace(key) {
	case "run_id":
		h.RunID = value
	case "mode":
		h.Mode = value
	case "target":
		h.Target = value
	case "status":
		h.Status = RunStatus(value)
	case "scope_kinds":
		h.Scope.Kinds, err = component.ParseKinds(strings.Split(value, ","))
	case "scope_ids":
		h.Scope.IDs = strings.Split(value, ",")
	case "started_at":
		h.StartedAt, err = time.Parse(time.RFC3339Nano, value)
	case "updated_at":
		h.UpdatedAt, err = time.Parse(time.RFC3339Nano, value)
	case "finished_at":
		h.FinishedAt, err = time.Parse(time.RFC3339Nano, value)
	}
	return err
}

// parseItem splits "- [x] id key=value ..." (or "- id ..." without a
// checkbox) into the id and its fields.
func parseItem(line string, checked bool) (string, map[string]string, error) {
	rest, ok := strings.CutPrefix(line, "- ")
	if !ok {
		return "", nil, fmt.Errorf("expected list item, got %q", line)
	}
	if checked {
		if len(rest) < 4 || rest[0] != '[' || rest[2] != ']' || rest[3] != ' ' {
			return "", nil, fmt.Errorf("expected checkbox in %q", line)
		}
		rest = rest[4:]
	}
	id, tail, _ := strings.Cut(rest, " ")
	if id == "" {
		return "", nil, fmt.Errorf("missing id in %q", line)
	}
	fields, err := parseFields(tail)
	return id, fields, err
}

func parseFields(s string) (map[string]string, error) {
	out := make(map[string]string)
	for s = strings.TrimSpace(s); s != ""; s = strings.TrimLeft(s, " ") {
		eq := strings.IndexByte(s, '=')
		if eq <= 0 || strings.ContainsRune(s[:eq], ' ') {
			return nil, fmt.Errorf("malformed field near %q", s)
		}
		key := s[:eq]
		s = s[eq+1:]
		if strings.HasPrefix(s, `"`) {
			quoted, err := strconv.QuotedPrefix(s)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", key, err)
			}
			value, err := strconv.Unquote(quoted)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", key, err)
			}
			out[key] = value
			s = s[len(quoted):]
			continue
		}
		end := strings.IndexByte(s, ' ')
		if end < 0 {
			end = len(s)
		}
		out[key] = s[:end]
		s = s[end:]
	}
	return out, nil
}

func inventoryComponent(id string, fields map[string]string) (component.Component, error) {
	kind, name, ok := component.SplitID(id)
	if !ok {
		return component.Component{}, fmt.Errorf("malformed component id %q", id)
	}
	c := component.Component{
		ID:          id,
		Kind:        kind,
		Name:        name,
		Path:        fields["path"],
		Root:        fields["root"],
		Primary:     fields["primary"],
		ContentHash: fields["hash"],
	}
	if files := fields["files"]; files != "" {
		c.Files = strings.Split(files, ",")
	}
	if raw := fields["mtime"]; raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return component.Component{}, err
		}
		c.LastModified = t
	}
	return c, nil
}

func readLedgerFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, archiveExt) {
		return decompress(data)
	}
	return data, nil
}

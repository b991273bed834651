// Package ledger keeps a human-readable markdown record of one pipeline run.
// Every transition is persisted with a temp file and rename, so the file on
// disk always reflects a consistent state and can seed a resumed run.
package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/morozRed/cfgaudit/internal/component"
	"github.com/morozRed/cfgaudit/internal/errs"
	"github.com/morozRed/cfgaudit/internal/fileutil"
)

// RunsDir is the ledger directory under the output dir.
const RunsDir = "runs"

// Status is the state of a stage or unit.
type Status string

const (
	Pending  Status = "pending"
	Running  Status = "running"
	Done     Status = "done"
	Failed   Status = "failed"
	TimedOut Status = "timedOut"
	Skipped  Status = "skipped"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == Done || s == Failed || s == TimedOut || s == Skipped
}

// RunStatus is the state of the run as a whole.
type RunStatus string

const (
	RunRunning               RunStatus = "running"
	RunCompletedClean        RunStatus = "completed"
	RunCompletedWithFailures RunStatus = "completed-with-failures"
	RunAborted               RunStatus = "aborted"
)

// Unit is one work item inside a stage.
type Unit struct {
	ID          string `json:"id"`
	Status      Status `json:"status"`
	ContentHash string `json:"content_hash,omitempty"`
	ResultRef   string `json:"result_ref,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// StageState tracks one stage and its units in insertion order.
type StageState struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Units  []Unit `json:"units,omitempty"`
}

// Header is the run metadata at the top of the file.
type Header struct {
	RunID      string
	Mode       string
	Target     string
	Status     RunStatus
	Scope      component.Scope
	StartedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt time.Time
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu        sync.Mutex
	path      string
	header    Header
	stages    []*StageState
	inventory []component.Component
	writeErr  error

	now   func() time.Time
	write func(path string, data []byte) error
}

// Path returns the ledger file for runID under outputDir.
func Path(outputDir, runID string) string {
	return filepath.Join(outputDir, RunsDir, runID+".md")
}

// New creates a ledger for a fresh run and persists it. A write failure is
// returned as a LedgerWriteError alongside a usable in-memory ledger.
func New(path string, header Header, stages []string) (*Ledger, error) {
	l := &Ledger{path: path, header: header, now: time.Now, write: writeAtomic}
	if l.header.Status == "" {
		l.header.Status = RunRunning
	}
	if l.header.StartedAt.IsZero() {
		l.header.StartedAt = l.now().UTC()
	}
	l.header.UpdatedAt = l.header.StartedAt
	for _, name := range stages {
		l.stages = append(l.stages, &StageState{Name: name, Status: Pending})
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l, l.flushLocked()
}

func writeAtomic(path string, data []byte) error {
	return fileutil.WriteFileAtomic(path, data, 0644)
}

func (l *Ledger) FilePath() string { return l.path }

func (l *Ledger) Header() Header {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.header
}

func (l *Ledger) RunID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.header.RunID
}

// Err returns the first write failure seen, if any.
func (l *Ledger) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeErr
}

// Finished reports whether the run reached a final status.
func (l *Ledger) Finished() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.header.Status != RunRunning
}

// SetStage moves a stage to status, adding it if unknown.
func (l *Ledger) SetStage(name string, status Status) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stageLocked(name).Status = status
	return l.flushLocked()
}

// StageStatus returns the status of name, or Pending if unknown.
func (l *Ledger) StageStatus(name string) Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, st := range l.stages {
		if st.Name == name {
			return st.Status
		}
	}
	return Pending
}

// Stages returns a copy of every stage.
func (l *Ledger) Stages() []StageState {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]StageState, 0, len(l.stages))
	for _, st := range l.stages {
		cp := *st
		cp.Units = append([]Unit(nil), st.Units...)
		out = append(out, cp)
	}
	return out
}

// AddUnits registers pending units on a stage. Known ids are left alone.
func (l *Ledger) AddUnits(stage string, units []Unit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.stageLocked(stage)
	for _, u := range units {
		if idx := unitIndex(st, u.ID); idx >= 0 {
			continue
		}
		if u.Status == "" {
			u.Status = Pending
		}
		st.Units = append(st.Units, u)
	}
	return l.flushLocked()
}

// UpdateUnit replaces the state of one unit, adding it if needed.
func (l *Ledger) UpdateUnit(stage string, u Unit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.stageLocked(stage)
	if idx := unitIndex(st, u.ID); idx >= 0 {
		if u.ContentHash == "" {
			u.ContentHash = st.Units[idx].ContentHash
		}
		st.Units[idx] = u
	} else {
		st.Units = append(st.Units, u)
	}
	return l.flushLocked()
}

// Units returns the units of a stage in insertion order.
func (l *Ledger) Units(stage string) []Unit {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, st := range l.stages {
		if st.Name == stage {
			return append([]Unit(nil), st.Units...)
		}
	}
	return nil
}

// SetInventory records the discovered components.
func (l *Ledger) SetInventory(components []component.Component) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inventory = append([]component.Component(nil), components...)
	component.Sort(l.inventory)
	return l.flushLocked()
}

// Inventory returns the recorded components.
func (l *Ledger) Inventory() []component.Component {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]component.Component(nil), l.inventory...)
}

// Reopen marks a loaded ledger as running again for a resumed run.
func (l *Ledger) Reopen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.header.Status = RunRunning
	l.header.FinishedAt = time.Time{}
	return l.flushLocked()
}

// Finish records the final run status.
func (l *Ledger) Finish(status RunStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.header.Status = status
	l.header.FinishedAt = l.now().UTC()
	return l.flushLocked()
}

func (l *Ledger) stageLocked(name string) *StageState {
	for _, st := range l.stages {
		if st.Name == name {
			return st
		}
	}
	st := &StageState{Name: name, Status: Pending}
	l.stages = append(l.stages, st)
	return st
}

func unitIndex(st *StageState, id string) int {
	for i, u := range st.Units {
		if u.ID == id {
			return i
		}
	}
	return -1
}

func (l *Ledger) flushLocked() error {
	l.header.UpdatedAt = l.now().UTC()
	if err := l.write(l.path, render(l.header, l.stages, l.inventory)); err != nil {
		werr := errs.Wrap(errs.LedgerWrite, err, fmt.Sprintf("failed to write ledger %s", l.path))
		if l.writeErr == nil {
			l.writeErr = werr
		}
		return werr
	}
	return nil
}

// Load reads a ledger file. Archived ledgers (.md.zst) are decompressed
// transparently but remain read-only in practice.
func Load(path string) (*Ledger, error) {
	data, err := readLedgerFile(path)
	if err != nil {
		return nil, err
	}
	header, stages, inventory, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ledger %s: %w", path, err)
	}
	return &Ledger{path: path, header: header, stages: stages, inventory: inventory, now: time.Now, write: writeAtomic}, nil
}

// ErrNoUnfinishedRun is returned by Latest when no run left work behind.
var ErrNoUnfinishedRun = fmt.Errorf("no resumable run ledger found")

// Resumable reports whether the run left work behind. A run still marked
// running always qualifies. An aborted run, or one that completed with
// failures, qualifies once it registered analysis units and some unit or
// stage did not finish. Runs that never reached analysis have nothing to
// carry over.
func (l *Ledger) Resumable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.header.Status {
	case RunRunning:
		return true
	case RunCompletedClean:
		return false
	}
	units := 0
	for _, st := range l.stages {
		for _, u := range st.Units {
			units++
			if u.Status != Done {
				return true
			}
		}
	}
	if units == 0 {
		return false
	}
	for _, st := range l.stages {
		if st.Status != Done && st.Status != Skipped {
			return true
		}
	}
	return false
}

// Latest returns the newest resumable ledger in dir.
func Latest(dir string) (*Ledger, error) {
	ledgers, err := List(dir)
	if err != nil {
		return nil, err
	}
	for _, l := range ledgers {
		if l.Resumable() {
			return l, nil
		}
	}
	return nil, ErrNoUnfinishedRun
}

// List loads every ledger in dir, newest first. Files that fail to parse are
// skipped.
func List(dir string) ([]*Ledger, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []*Ledger
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".md" {
			continue
		}
		l, err := Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].header, out[j].header
		if !a.StartedAt.Equal(b.StartedAt) {
			return a.StartedAt.After(b.StartedAt)
		}
		return a.RunID > b.RunID
	})
	return out, nil
}

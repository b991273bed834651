package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/morozRed/cfgaudit/internal/pipeline"
)

type unitProgressReporter struct {
	mu      sync.Mutex
	out     io.Writer
	enabled bool
	label   string
	start   time.Time
	spinner int
	lastLen int
	done    int
}

func newUnitProgressReporter(label string, asJSON bool) *unitProgressReporter {
	fd := os.Stderr.Fd()
	tty := isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	return &unitProgressReporter{
		out:     os.Stderr,
		enabled: tty && !asJSON,
		label:   label,
		start:   time.Now(),
	}
}

// Update is safe to call from analysis workers.
func (r *unitProgressReporter) Update(ev pipeline.UnitEvent) {
	if !r.enabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	frames := [4]string{"-", "\\", "|", "/"}
	frame := frames[r.spinner%len(frames)]
	r.spinner++
	r.done = ev.Done
	id := ev.ID
	if len(id) > 72 {
		id = "..." + id[len(id)-69:]
	}
	r.printStatus(fmt.Sprintf("%s %s %d/%d %s %s", frame, r.label, ev.Done, ev.Total, ev.Status, id))
}

func (r *unitProgressReporter) Done() {
	if !r.enabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.spinner == 0 {
		return
	}
	elapsed := time.Since(r.start).Round(time.Millisecond)
	r.printStatus(fmt.Sprintf("%s complete (%d components in %s)", r.label, r.done, elapsed))
	fmt.Fprintln(r.out)
}

func (r *unitProgressReporter) printStatus(status string) {
	if r.lastLen > len(status) {
		status = status + strings.Repeat(" ", r.lastLen-len(status))
	}
	r.lastLen = len(status)
	fmt.Fprintf(r.out, "\r%s", status)
}

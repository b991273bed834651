package analyzer

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/morozRed/cfgaudit/internal/component"
	"github.com/morozRed/cfgaudit/internal/graph"
)

// Analyzer scores one component. Implementations must honour ctx: the
// orchestrator cancels it when the unit's timeout expires.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, c component.Component, actx *Context) (Result, error)
}

// Verdict is the band a score falls into.
type Verdict string

const (
	Excellent Verdict = "excellent"
	Good      Verdict = "good"
	Fair      Verdict = "fair"
	Poor      Verdict = "poor"
)

// VerdictFor maps a 0-10 score onto its band.
func VerdictFor(score float64) Verdict {
	switch {
	case score >= 9:
		return Excellent
	case score >= 7:
		return Good
	case score >= 5:
		return Fair
	default:
		return Poor
	}
}

// Result is the output of analysing one component.
type Result struct {
	Score      float64  `json:"score"`
	Verdict    Verdict  `json:"verdict"`
	Findings   []string `json:"findings"`
	SourceHash string   `json:"source_hash"`
	Analyzers  []string `json:"analyzers,omitempty"`
}

// Stale reports whether r was computed against different content.
func (r Result) Stale(contentHash string) bool {
	return r.SourceHash != contentHash
}

// Finalize clamps and rounds the score and derives the verdict.
func (r Result) Finalize() Result {
	r.Score = ClampScore(r.Score)
	r.Verdict = VerdictFor(r.Score)
	if r.Findings == nil {
		r.Findings = []string{}
	}
	return r
}

// ClampScore bounds v to 0..10 and rounds it to two decimals.
func ClampScore(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Max(0, math.Min(10, v))
	return math.Round(v*100) / 100
}

// Siblings exposes results already produced in the current stage.
type Siblings interface {
	Lookup(id string) (Result, bool)
}

// ResultSet is a concurrency-safe id -> Result map shared by the workers of
// one stage.
type ResultSet struct {
	mu      sync.RWMutex
	results map[string]Result
}

func NewResultSet() *ResultSet {
	return &ResultSet{results: make(map[string]Result)}
}

func (s *ResultSet) Put(id string, r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[id] = r
}

func (s *ResultSet) Lookup(id string) (Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[id]
	return r, ok
}

// Len returns the number of stored results.
func (s *ResultSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}

// Snapshot copies the current contents.
func (s *ResultSet) Snapshot() map[string]Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Result, len(s.results))
	for id, r := range s.results {
		out[id] = r
	}
	return out
}

// IDs returns stored ids in ascending order.
func (s *ResultSet) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.results))
	for id := range s.results {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Context is what an analyzer may look at besides its own component. The
// graph is shared and read-only.
type Context struct {
	Graph      *graph.Graph
	Siblings   Siblings
	EntryKinds []component.Kind
	Reader     component.Reader

	healthOnce sync.Once
	health     graph.Health
	cycleOf    map[string][]string
}

// NewContext builds an analysis context. A nil reader reads from disk.
func NewContext(g *graph.Graph, siblings Siblings, entryKinds []component.Kind, reader component.Reader) *Context {
	if reader == nil {
		reader = component.FSReader{}
	}
	if siblings == nil {
		siblings = NewResultSet()
	}
	return &Context{Graph: g, Siblings: siblings, EntryKinds: entryKinds, Reader: reader}
}

// Content reads c through the context's reader.
func (c *Context) Content(comp component.Component) ([]byte, error) {
	return c.Reader.Read(comp)
}

// Health computes graph health once and shares it across workers.
func (c *Context) Health() graph.Health {
	c.healthOnce.Do(func() {
		c.cycleOf = make(map[string][]string)
		if c.Graph == nil {
			c.health = graph.Health{}
			return
		}
		c.health = c.Graph.Health(c.EntryKinds, 0)
		for _, cycle := range c.health.Cycles {
			for _, id := range cycle {
				if _, ok := c.cycleOf[id]; !ok {
					c.cycleOf[id] = cycle
				}
			}
		}
	})
	return c.health
}

// CycleOf returns the first reported cycle containing id.
func (c *Context) CycleOf(id string) ([]string, bool) {
	c.Health()
	cycle, ok := c.cycleOf[id]
	return cycle, ok
}

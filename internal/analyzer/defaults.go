package analyzer

import "github.com/morozRed/cfgaudit/internal/component"

var markdownKinds = []component.Kind{component.Command, component.Agent, component.Skill}

// DefaultWeights are used for analyzers missing from Options.Weights.
var DefaultWeights = map[string]float64{
	"structure": 1,
	"hook":      1,
	"mcp":       1,
	"graph":     0.5,
	"llm":       1,
}

// Options configures NewDefaultRegistry.
type Options struct {
	Policy  MergePolicy
	Weights map[string]float64
	// LLM, when set, is added for markdown kinds.
	LLM Analyzer
}

// NewDefaultRegistry registers the built-in analyzers for every kind.
func NewDefaultRegistry(opts Options) *Registry {
	weight := func(name string) float64 {
		if w, ok := opts.Weights[name]; ok && w > 0 {
			return w
		}
		return DefaultWeights[name]
	}

	r := NewRegistry(opts.Policy)
	r.RegisterKinds(markdownKinds, NewStructureAnalyzer(), weight("structure"))
	r.Register(component.Hook, NewHookAnalyzer(), weight("hook"))
	r.Register(component.MCPServer, NewMCPAnalyzer(), weight("mcp"))
	r.RegisterKinds(component.AllKinds(), NewGraphAnalyzer(), weight("graph"))
	if opts.LLM != nil {
		r.RegisterKinds(markdownKinds, opts.LLM, weight(opts.LLM.Name()))
	}
	return r
}

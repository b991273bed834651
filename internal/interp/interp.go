// Package interp checks that the interpreters hook scripts rely on are
// installed.
package interp

import (
	"os/exec"
	"sort"

	"github.com/morozRed/cfgaudit/internal/component"
	"github.com/morozRed/cfgaudit/internal/extract"
)

type Capability struct {
	Present     bool     `json:"present"`
	Interpreter string   `json:"interpreter"`
	Available   bool     `json:"available"`
	Hooks       []string `json:"hooks,omitempty"`
	Reason      string   `json:"reason,omitempty"`
}

var interpreters = map[string][]string{
	"bash":       {"bash", "sh"},
	"javascript": {"node", "bun", "deno"},
	"typescript": {"tsx", "bun", "deno", "ts-node"},
	"python":     {"python3", "python"},
}

// Languages returns the script languages with a known interpreter list.
func Languages() []string {
	out := make([]string, 0, len(interpreters))
	for language := range interpreters {
		out = append(out, language)
	}
	sort.Strings(out)
	return out
}

// DetectHookLanguages maps each script language to the hook components
// written in it. Unreadable hooks are skipped.
func DetectHookLanguages(components []component.Component, reader component.Reader) map[string][]string {
	presence := make(map[string][]string)
	for _, c := range components {
		if c.Kind != component.Hook {
			continue
		}
		content, err := reader.Read(c)
		if err != nil {
			continue
		}
		language := extract.DetectLanguage(c.Path, content)
		if language == "" {
			continue
		}
		presence[language] = append(presence[language], c.ID)
	}
	for language := range presence {
		sort.Strings(presence[language])
	}
	return presence
}

func Probe(presence map[string][]string) map[string]Capability {
	return ProbeWithLookPath(presence, exec.LookPath)
}

func ProbeWithLookPath(presence map[string][]string, lookPath func(file string) (string, error)) map[string]Capability {
	capabilities := make(map[string]Capability, len(interpreters))
	for language, preferred := range interpreters {
		hooks := presence[language]
		capability := Capability{Present: len(hooks) > 0, Hooks: hooks}
		if len(preferred) > 0 {
			capability.Interpreter = preferred[0]
		}

		if !capability.Present {
			capability.Reason = "language_not_present"
			capabilities[language] = capability
			continue
		}

		for _, candidate := range preferred {
			if _, err := lookPath(candidate); err == nil {
				capability.Available = true
				capability.Interpreter = candidate
				capability.Reason = ""
				break
			}
		}
		if !capability.Available {
			capability.Reason = "interpreter_not_found"
		}
		capabilities[language] = capability
	}
	return capabilities
}

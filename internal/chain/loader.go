package chain

import (
	"bytes"
	"embed"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed chains/*.yml
var embeddedChains embed.FS

const defaultChainsFile = "chains/default.yml"

type yamlFile struct {
	Chains map[string][]yamlStep `yaml:"chains"`
}

type yamlStep struct {
	Prompt       string       `yaml:"prompt"`
	NeedHistory  *bool        `yaml:"need_history"`
	NeedAnswer   string       `yaml:"need_answer"`
	ErrorMessage *FailureInfo `yaml:"error_message"`
}

// Registry holds every chain loaded at startup, keyed by chain name.
type Registry struct {
	chains map[string]Chain
}

func (r *Registry) Get(name string) (Chain, bool) {
	c, ok := r.chains[name]
	return c, ok
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.chains))
	for n := range r.chains {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Load parses chain definitions. Every chain must be non-empty and every
// step with need_answer must carry error_message.
func Load(r io.Reader) (*Registry, error) {
	var f yamlFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("chain: parse definitions: %w", err)
	}
	if len(f.Chains) == 0 {
		return nil, fmt.Errorf("chain: no chains defined")
	}

	reg := &Registry{chains: make(map[string]Chain, len(f.Chains))}
	for name, raw := range f.Chains {
		steps := make([]Step, 0, len(raw))
		for _, s := range raw {
			needHistory := true
			if s.NeedHistory != nil {
				needHistory = *s.NeedHistory
			}
			steps = append(steps, Step{
				Template:          s.Prompt,
				RequiresHistory:   needHistory,
				ExpectedSubstring: s.NeedAnswer,
				Failure:           s.ErrorMessage,
			})
		}
		c, err := New(name, steps)
		if err != nil {
			return nil, err
		}
		reg.chains[name] = c
		log.Debug().Str("chain", name).Int("steps", c.Len()).Msg("chain loaded")
	}
	return reg, nil
}

// LoadFile loads definitions from path, or the embedded defaults when path is empty.
func LoadFile(path string) (*Registry, error) {
	if path == "" {
		return LoadDefault()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("chain: read %s: %w", path, err)
	}
	return Load(bytes.NewReader(data))
}

func LoadDefault() (*Registry, error) {
	data, err := embeddedChains.ReadFile(defaultChainsFile)
	if err != nil {
		return nil, fmt.Errorf("chain: read embedded definitions: %w", err)
	}
	return Load(bytes.NewReader(data))
}

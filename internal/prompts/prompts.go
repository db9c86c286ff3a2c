// Package prompts loads the LLM prompt templates used by the interviewer.
//
// Defaults are embedded at compile time. A YAML file with the same shape can
// replace individual entries without touching the rest.
package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Template names.
const (
	Question    = "question"
	ScoreAnswer = "score_answer"
	Resume      = "resume"
)

var required = []string{Question, ScoreAnswer, Resume}

//go:embed default.yaml
var defaultYAML []byte

// Entry is one prompt as written in YAML.
type Entry struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

type compiled struct {
	system *template.Template
	user   *template.Template
}

// Set is a parsed, validated collection of prompt templates. It is safe for concurrent use.
type Set struct {
	entries map[string]compiled
}

// Default returns the embedded prompt set.
func Default() (*Set, error) {
	entries, err := decode(defaultYAML)
	if err != nil {
		return nil, fmt.Errorf("op=prompts.Default: %w", err)
	}
	return build(entries)
}

// Load returns the embedded set with entries from path layered on top.
// An empty path yields the defaults.
func Load(path string) (*Set, error) {
	entries, err := decode(defaultYAML)
	if err != nil {
		return nil, fmt.Errorf("op=prompts.Load: %w", err)
	}
	if path != "" {
		b, err := os.ReadFile(path) //nolint:gosec // operator-provided path
		if err != nil {
			return nil, fmt.Errorf("op=prompts.Load: read %s: %w", path, err)
		}
		overrides, err := decode(b)
		if err != nil {
			return nil, fmt.Errorf("op=prompts.Load: %s: %w", path, err)
		}
		for name, e := range overrides {
			base := entries[name]
			if strings.TrimSpace(e.System) != "" {
				base.System = e.System
			}
			if strings.TrimSpace(e.User) != "" {
				base.User = e.User
			}
			entries[name] = base
		}
	}
	return build(entries)
}

// Render executes the named template pair with data.
func (s *Set) Render(name string, data any) (system, user string, err error) {
	c, ok := s.entries[name]
	if !ok {
		return "", "", fmt.Errorf("op=prompts.Render: unknown prompt %q", name)
	}
	var sb, ub strings.Builder
	if err := c.system.Execute(&sb, data); err != nil {
		return "", "", fmt.Errorf("op=prompts.Render: %s system: %w", name, err)
	}
	if err := c.user.Execute(&ub, data); err != nil {
		return "", "", fmt.Errorf("op=prompts.Render: %s user: %w", name, err)
	}
	return strings.TrimSpace(sb.String()), strings.TrimSpace(ub.String()), nil
}

// Names lists the loaded prompt names in sorted order.
func (s *Set) Names() []string {
	out := make([]string, 0, len(s.entries))
	for n := range s.entries {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func decode(b []byte) (map[string]Entry, error) {
	var entries map[string]Entry
	if err := yaml.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if entries == nil {
		entries = map[string]Entry{}
	}
	return entries, nil
}

func build(entries map[string]Entry) (*Set, error) {
	for _, name := range required {
		e, ok := entries[name]
		if !ok || strings.TrimSpace(e.System) == "" || strings.TrimSpace(e.User) == "" {
			return nil, fmt.Errorf("op=prompts.build: prompt %q needs system and user templates", name)
		}
	}
	set := &Set{entries: make(map[string]compiled, len(entries))}
	for name, e := range entries {
		sys, err := template.New(name + ".system").Option("missingkey=error").Parse(e.System)
		if err != nil {
			return nil, fmt.Errorf("op=prompts.build: %s system: %w", name, err)
		}
		usr, err := template.New(name + ".user").Option("missingkey=error").Parse(e.User)
		if err != nil {
			return nil, fmt.Errorf("op=prompts.build: %s user: %w", name, err)
		}
		set.entries[name] = compiled{system: sys, user: usr}
	}
	return set, nil
}

package highlight

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed manifest.toml
var defaultManifest []byte

// Language is one manifest entry.
type Language struct {
	Require []string `toml:"require"`
	// Lexer is the built-in chroma lexer backing this language, when it
	// differs from the language name.
	Lexer string `toml:"lexer"`
}

// Manifest declares which languages exist and what each one needs.
type Manifest struct {
	Aliases   map[string]string   `toml:"aliases"`
	Languages map[string]Language `toml:"languages"`
}

// DefaultManifest returns the embedded manifest.
func DefaultManifest() *Manifest {
	m, err := ParseManifest(defaultManifest)
	if err != nil {
		panic(fmt.Sprintf("embedded language manifest: %v", err))
	}
	return m
}

// ParseManifest decodes a TOML manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	m := &Manifest{}
	if _, err := toml.Decode(string(data), m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	m.normalize()
	return m, nil
}

func (m *Manifest) normalize() {
	aliases := make(map[string]string, len(m.Aliases))
	for k, v := range m.Aliases {
		aliases[strings.ToLower(k)] = strings.ToLower(v)
	}
	langs := make(map[string]Language, len(m.Languages))
	for k, v := range m.Languages {
		for i, r := range v.Require {
			v.Require[i] = strings.ToLower(r)
		}
		langs[strings.ToLower(k)] = v
	}
	m.Aliases = aliases
	m.Languages = langs
}

// Merge overrides or adds the dependency lists in requires.
func (m *Manifest) Merge(requires map[string][]string) {
	for name, req := range requires {
		name = strings.ToLower(name)
		lang := m.Languages[name]
		lang.Require = make([]string, len(req))
		for i, r := range req {
			lang.Require[i] = strings.ToLower(r)
		}
		m.Languages[name] = lang
	}
}

// Canonical resolves aliases and case. Code fences often say "js" or "Go".
func (m *Manifest) Canonical(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if target, ok := m.Aliases[name]; ok {
		return target
	}
	return name
}

// Lookup returns the entry for a canonical name.
func (m *Manifest) Lookup(name string) (Language, bool) {
	lang, ok := m.Languages[name]
	return lang, ok
}

// LexerName returns the built-in lexer name for a canonical language name.
func (m *Manifest) LexerName(name string) string {
	if lang, ok := m.Languages[name]; ok && lang.Lexer != "" {
		return lang.Lexer
	}
	return name
}

// Names returns all declared languages, sorted.
func (m *Manifest) Names() []string {
	out := make([]string, 0, len(m.Languages))
	for name := range m.Languages {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

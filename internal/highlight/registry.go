// Package highlight loads syntax-highlighting definitions on demand.
//
// Definitions are chroma lexers described as XML data. The Registry records
// which languages are loaded; the Loader fetches missing ones after their
// declared dependencies.
package highlight

import (
	"sort"
	"sync"

	"github.com/alecthomas/chroma/v2"
)

// Registry maps language names to loaded lexers. Entries are never removed,
// so a language that loaded once stays loaded.
type Registry struct {
	mu     sync.RWMutex
	loaded map[string]chroma.Lexer
	// lexers resolves "using" references between fetched definitions.
	lexers *chroma.LexerRegistry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		loaded: make(map[string]chroma.Lexer),
		lexers: chroma.NewLexerRegistry(),
	}
}

// IsLoaded reports whether name has been loaded.
func (r *Registry) IsLoaded(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.loaded[name]
	return ok
}

// Register marks name loaded with lexer. The lexer joins the registry's
// chroma lexer set so other definitions can delegate to it. Registering a
// name twice keeps the first lexer.
func (r *Registry) Register(name string, lexer chroma.Lexer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.loaded[name]; ok {
		return
	}
	if lexer != nil {
		r.lexers.Register(lexer)
	}
	r.loaded[name] = lexer
}

// Preload marks name loaded with a lexer that must not join the chroma
// lexer set, such as a shared built-in instance.
func (r *Registry) Preload(name string, lexer chroma.Lexer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.loaded[name]; !ok {
		r.loaded[name] = lexer
	}
}

// MarkLoaded marks name loaded without a lexer of its own. Code in such a
// language renders unhighlighted.
func (r *Registry) MarkLoaded(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.loaded[name]; !ok {
		r.loaded[name] = nil
	}
}

// Lexer returns the lexer for a loaded language, or nil.
func (r *Registry) Lexer(name string) chroma.Lexer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded[name]
}

// read runs fn while no definition can be registered. Delegating lexers
// consult the chroma lexer set while tokenising.
func (r *Registry) read(fn func()) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn()
}

// Loaded returns the loaded language names, sorted.
func (r *Registry) Loaded() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.loaded))
	for name := range r.loaded {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

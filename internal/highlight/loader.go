package highlight

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"nca-go/internal/logger"
)

// DefaultStyle is the chroma style used when none is configured.
const DefaultStyle = "monokai"

// ErrUnknownLanguage is returned for languages missing from the manifest.
var ErrUnknownLanguage = errors.New("language not declared in manifest")

// Options configures a Loader. Zero values pick defaults.
type Options struct {
	Manifest *Manifest
	Registry *Registry
	Fetcher  Fetcher
	// Preloaded languages are registered from chroma's bundled lexers.
	Preloaded []string
	// Rate limits definition fetches per second; 0 means unlimited.
	Rate  float64
	Burst int
	// Style is the chroma style used by Highlight.
	Style string
	// RetryAfter is how long Request waits before retrying a failed language.
	RetryAfter time.Duration
	// RequestTimeout bounds one background load started by Request.
	RequestTimeout time.Duration
	Logger         *logger.Logger
}

// Loader resolves and fetches language definitions on demand.
type Loader struct {
	manifest *Manifest
	registry *Registry
	fetcher  Fetcher
	limiter  *rate.Limiter
	group    singleflight.Group
	log      *logger.Logger

	formatter chroma.Formatter
	style     *chroma.Style

	retryAfter time.Duration
	timeout    time.Duration

	mu       sync.Mutex
	pending  map[string]bool
	failedAt map[string]time.Time
	warned   map[string]bool
	onLoaded func(name string)
	bg       sync.WaitGroup
}

// NewLoader creates a loader and registers the preloaded languages.
func NewLoader(opts Options) *Loader {
	if opts.Manifest == nil {
		opts.Manifest = DefaultManifest()
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Fetcher == nil {
		opts.Fetcher = BuiltinFetcher{Manifest: opts.Manifest}
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = 30 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}

	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	if opts.Style == "" {
		opts.Style = DefaultStyle
	}
	style := styles.Get(opts.Style)

	l := &Loader{
		manifest:   opts.Manifest,
		registry:   opts.Registry,
		fetcher:    opts.Fetcher,
		limiter:    rate.NewLimiter(limit, burst),
		log:        logger.OrDefault(opts.Logger).WithComponent("highlight"),
		formatter:  formatters.Get("terminal256"),
		style:      style,
		retryAfter: opts.RetryAfter,
		timeout:    opts.RequestTimeout,
		pending:    make(map[string]bool),
		failedAt:   make(map[string]time.Time),
		warned:     make(map[string]bool),
	}

	for _, name := range opts.Preloaded {
		l.preload(l.manifest.Canonical(name))
	}
	return l
}

func (l *Loader) preload(name string) {
	builtin := lexers.Get(l.manifest.LexerName(name))
	if builtin == nil {
		l.registry.MarkLoaded(name)
		return
	}
	if clone, ok := cloneBuiltin(builtin); ok {
		l.registry.Register(name, clone)
		return
	}
	l.registry.Preload(name, builtin)
}

// Registry returns the loader's registry.
func (l *Loader) Registry() *Registry {
	return l.registry
}

// SetOnLoaded installs the hook fired after each successful load. The UI
// uses it to re-highlight rendered content.
func (l *Loader) SetOnLoaded(fn func(name string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onLoaded = fn
}

// EnsureLoaded loads a language and, before it, every declared dependency.
// Dependency failures are logged and do not stop the target from loading.
func (l *Loader) EnsureLoaded(ctx context.Context, language string) error {
	return l.ensure(ctx, l.manifest.Canonical(language), make(map[string]bool))
}

func (l *Loader) ensure(ctx context.Context, name string, visiting map[string]bool) error {
	if l.registry.IsLoaded(name) {
		return nil
	}
	lang, ok := l.manifest.Lookup(name)
	if !ok {
		l.warnOnce(name)
		return fmt.Errorf("%s: %w", name, ErrUnknownLanguage)
	}
	if visiting[name] {
		return nil
	}
	visiting[name] = true

	for _, dep := range lang.Require {
		dep = l.manifest.Canonical(dep)
		if err := l.ensure(ctx, dep, visiting); err != nil {
			l.log.WarnFields("dependency not loaded", logger.Fields{"language": name, "dependency": dep, "err": err})
		}
	}

	_, err, _ := l.group.Do(name, func() (interface{}, error) {
		return nil, l.fetchAndRegister(ctx, name)
	})
	return err
}

func (l *Loader) fetchAndRegister(ctx context.Context, name string) error {
	// Another caller may have finished while this one resolved dependencies.
	if l.registry.IsLoaded(name) {
		return nil
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}

	data, err := l.fetcher.Fetch(ctx, name)
	if err != nil {
		l.log.WarnFields("failed to fetch language definition", logger.Fields{"language": name, "err": err})
		return fmt.Errorf("load %s: %w", name, err)
	}

	lexer, err := chroma.Unmarshal(data)
	if err != nil {
		l.log.WarnFields("invalid language definition", logger.Fields{"language": name, "err": err})
		return fmt.Errorf("load %s: %w", name, err)
	}

	l.registry.Register(name, lexer)
	l.log.Debugf("loaded language %s", name)

	l.mu.Lock()
	hook := l.onLoaded
	l.mu.Unlock()
	if hook != nil {
		hook(name)
	}
	return nil
}

func (l *Loader) warnOnce(name string) {
	l.mu.Lock()
	seen := l.warned[name]
	l.warned[name] = true
	l.mu.Unlock()
	if !seen {
		l.log.Warnf("language %q is not in the manifest, leaving it unhighlighted", name)
	}
}

// Request starts loading a language in the background unless it is loaded,
// already loading, or failed recently. It never blocks.
func (l *Loader) Request(language string) {
	name := l.manifest.Canonical(language)
	if name == "" || l.registry.IsLoaded(name) {
		return
	}

	l.mu.Lock()
	if l.pending[name] {
		l.mu.Unlock()
		return
	}
	if at, ok := l.failedAt[name]; ok && time.Since(at) < l.retryAfter {
		l.mu.Unlock()
		return
	}
	l.pending[name] = true
	l.mu.Unlock()

	l.bg.Add(1)
	go func() {
		defer l.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()

		err := l.EnsureLoaded(ctx, name)

		l.mu.Lock()
		delete(l.pending, name)
		if err != nil {
			l.failedAt[name] = time.Now()
		} else {
			delete(l.failedAt, name)
		}
		l.mu.Unlock()
	}()
}

// Wait blocks until background loads started by Request have finished.
func (l *Loader) Wait() {
	l.bg.Wait()
}

// Lexer returns the lexer for a loaded language, or nil.
func (l *Loader) Lexer(language string) chroma.Lexer {
	return l.registry.Lexer(l.manifest.Canonical(language))
}

// Highlight formats code for a 256-colour terminal. When the language is
// not loaded yet it requests it and reports false; the caller renders the
// code plain until the OnLoaded hook fires.
func (l *Loader) Highlight(code, language string) (out string, ok bool) {
	name := l.manifest.Canonical(language)
	if name == "" {
		return "", false
	}
	lexer := l.registry.Lexer(name)
	if lexer == nil {
		l.Request(name)
		return "", false
	}

	defer func() {
		// A definition delegating to a language that is not loaded panics
		// inside chroma.
		if r := recover(); r != nil {
			l.log.Warnf("highlighting %s failed: %v", name, r)
			out, ok = "", false
		}
	}()

	var buf strings.Builder
	var err error
	l.registry.read(func() {
		var it chroma.Iterator
		it, err = chroma.Coalesce(lexer).Tokenise(nil, code)
		if err == nil {
			err = l.formatter.Format(&buf, l.style, it)
		}
	})
	if err != nil {
		l.log.Debugf("highlighting %s: %v", name, err)
		return "", false
	}
	return buf.String(), true
}

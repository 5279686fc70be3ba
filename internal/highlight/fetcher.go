package highlight

import (
	"context"
	"errors"
	"fmt"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
)

// ErrDefinitionNotFound is returned by a Fetcher that has no definition for
// the requested language.
var ErrDefinitionNotFound = errors.New("language definition not found")

// Fetcher retrieves the XML definition of one language.
type Fetcher interface {
	Fetch(ctx context.Context, name string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, name string) ([]byte, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, name string) ([]byte, error) {
	return f(ctx, name)
}

// Chain tries each fetcher in order and returns the first definition found.
type Chain []Fetcher

// Fetch implements Fetcher.
func (c Chain) Fetch(ctx context.Context, name string) ([]byte, error) {
	var errs []error
	for _, f := range c {
		data, err := f.Fetch(ctx, name)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, ErrDefinitionNotFound
	}
	return nil, errors.Join(errs...)
}

// BuiltinFetcher serves the definitions bundled with chroma, serialized to
// the same XML form the server delivers.
type BuiltinFetcher struct {
	Manifest *Manifest
}

// Fetch implements Fetcher.
func (b BuiltinFetcher) Fetch(_ context.Context, name string) ([]byte, error) {
	lexerName := name
	if b.Manifest != nil {
		lexerName = b.Manifest.LexerName(name)
	}
	rl, ok := lexers.Get(lexerName).(*chroma.RegexLexer)
	if !ok || rl == nil {
		return nil, fmt.Errorf("builtin %s: %w", name, ErrDefinitionNotFound)
	}
	data, err := chroma.Marshal(rl)
	if err != nil {
		return nil, fmt.Errorf("builtin %s: %w", name, err)
	}
	return data, nil
}

// cloneBuiltin returns a private copy of a bundled lexer so it can join a
// registry without touching chroma's global instance. ok is false when the
// lexer cannot be serialized.
func cloneBuiltin(lexer chroma.Lexer) (chroma.Lexer, bool) {
	rl, ok := lexer.(*chroma.RegexLexer)
	if !ok {
		return nil, false
	}
	data, err := chroma.Marshal(rl)
	if err != nil {
		return nil, false
	}
	clone, err := chroma.Unmarshal(data)
	if err != nil {
		return nil, false
	}
	return clone, true
}

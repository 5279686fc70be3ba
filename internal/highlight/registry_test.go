package highlight

import (
	"strings"
	"testing"

	"github.com/alecthomas/chroma/v2/lexers"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if r.IsLoaded("go") {
		t.Fatal("Empty registry should have nothing loaded")
	}

	goLexer, ok := cloneBuiltin(lexers.Get("go"))
	if !ok {
		t.Fatal("go lexer should be serializable")
	}
	r.Register("go", goLexer)
	if !r.IsLoaded("go") || r.Lexer("go") != goLexer {
		t.Error("go should be loaded with its lexer")
	}

	other, _ := cloneBuiltin(lexers.Get("go"))
	r.Register("go", other)
	if r.Lexer("go") != goLexer {
		t.Error("Registering twice should keep the first lexer")
	}

	r.MarkLoaded("plaintext")
	if !r.IsLoaded("plaintext") || r.Lexer("plaintext") != nil {
		t.Error("MarkLoaded should record the name without a lexer")
	}

	builtin := lexers.Get("python")
	r.Preload("python", builtin)
	r.MarkLoaded("python")
	if r.Lexer("python") != builtin {
		t.Error("MarkLoaded should not replace a preloaded lexer")
	}

	if got := strings.Join(r.Loaded(), ","); got != "go,plaintext,python" {
		t.Errorf("Loaded() = %s", got)
	}
}

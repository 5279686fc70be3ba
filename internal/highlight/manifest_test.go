package highlight

import (
	"reflect"
	"testing"
)

func TestDefaultManifest(t *testing.T) {
	m := DefaultManifest()

	tests := []struct {
		in   string
		want string
	}{
		{"js", "javascript"},
		{"TS", "typescript"},
		{"c++", "cpp"},
		{" golang ", "go"},
		{"rust", "rust"},
	}
	for _, tt := range tests {
		if got := m.Canonical(tt.in); got != tt.want {
			t.Errorf("Canonical(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	markup, ok := m.Lookup("markup")
	if !ok {
		t.Fatal("markup missing from manifest")
	}
	if !reflect.DeepEqual(markup.Require, []string{"css", "javascript"}) {
		t.Errorf("markup requires %v", markup.Require)
	}
	if got := m.LexerName("cpp"); got != "c++" {
		t.Errorf("LexerName(cpp) = %q", got)
	}
	if got := m.LexerName("rust"); got != "rust" {
		t.Errorf("LexerName(rust) = %q", got)
	}
}

func TestManifestMerge(t *testing.T) {
	m, err := ParseManifest([]byte(`
[languages.Vue]
require = ["Markup"]
`))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if lang, _ := m.Lookup("vue"); !reflect.DeepEqual(lang.Require, []string{"markup"}) {
		t.Errorf("vue requires %v", lang.Require)
	}

	m.Merge(map[string][]string{"vue": {"javascript"}, "svelte": {"Markup", "css"}})

	if lang, _ := m.Lookup("vue"); !reflect.DeepEqual(lang.Require, []string{"javascript"}) {
		t.Errorf("merged vue requires %v", lang.Require)
	}
	if lang, ok := m.Lookup("svelte"); !ok || !reflect.DeepEqual(lang.Require, []string{"markup", "css"}) {
		t.Errorf("svelte = %v, %v", lang, ok)
	}
	if got := m.Names(); !reflect.DeepEqual(got, []string{"svelte", "vue"}) {
		t.Errorf("Names() = %v", got)
	}
}

func TestParseManifestInvalid(t *testing.T) {
	if _, err := ParseManifest([]byte("[languages\n")); err == nil {
		t.Error("expected error")
	}
}

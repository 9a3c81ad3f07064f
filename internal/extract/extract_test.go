package extract

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const navHelpLine = "To navigate the symbols, press Up Arrow, Down Arrow, Left Arrow or Right Arrow"

func TestExtractDropsKeyboardNavigationHelp(t *testing.T) {
	html := `<html><body><div id="app-main">
<h1>WindowGroup</h1>
<p>` + navHelpLine + `</p>
<p>A scene that presents a group of identically structured windows.</p>
</div></body></html>`

	e := New("#app-main", nil)
	md, err := e.Extract("https://developer.example.com/documentation/swiftui/windowgroup", html)
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}

	if strings.Contains(md, "To navigate the symbols") {
		t.Fatalf("navigation help survived extraction:\n%s", md)
	}
	if !strings.Contains(md, "identically structured windows") {
		t.Fatalf("content paragraph lost:\n%s", md)
	}
}

func TestExtractPreservesCodeIndentation(t *testing.T) {
	html := `<html><body><div id="app-main">
<h1>Example</h1>
<pre><code>WindowGroup {
  Modules()
    .environment(model)
}</code></pre>
</div></body></html>`

	e := New("#app-main", nil)
	md, err := e.Extract("https://developer.example.com/documentation/swiftui", html)
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}

	for _, line := range []string{
		"WindowGroup {",
		"  Modules()",
		"    .environment(model)",
		"}",
	} {
		found := false
		for _, got := range strings.Split(md, "\n") {
			if got == line {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("code line %q not preserved verbatim:\n%s", line, md)
		}
	}
}

func TestExtractDropsNavChromeAndSocialLinks(t *testing.T) {
	html := `<html><body>
<div id="app-main">
<nav><a href="/docs">Docs home</a></nav>
<h1>Scene</h1>
<p>Scenes hold view hierarchies.</p>
<a href="https://twitter.com/example">Follow us</a>
<footer>Copyright</footer>
</div></body></html>`

	e := New("#app-main", nil)
	md, err := e.Extract("https://developer.example.com/documentation/swiftui/scene", html)
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}

	if strings.Contains(md, "Docs home") || strings.Contains(md, "Copyright") {
		t.Fatalf("navigational elements survived:\n%s", md)
	}
	if strings.Contains(md, "Follow us") {
		t.Fatalf("social anchor survived:\n%s", md)
	}
	if !strings.Contains(md, "Scenes hold view hierarchies.") {
		t.Fatalf("content lost:\n%s", md)
	}
}

func TestFilterStages(t *testing.T) {
	f := NewFilter(DefaultPatterns(), false)

	in := strings.Join([]string{
		"# [WindowGroup](https://developer.example.com/documentation/swiftui/windowgroup)",
		"",
		"Skip Navigation",
		"![diagram](https://developer.example.com/images/diagram.png)",
		"A scene that presents windows.",
		"## See Also",
		"- [Scene](https://developer.example.com/documentation/swiftui/scene)",
	}, "\n")

	got := f.Apply(in)
	want := strings.Join([]string{
		"# WindowGroup",
		"",
		"A scene that presents windows.",
	}, "\n")
	if got != want {
		t.Fatalf("filter output mismatch\nwant:\n%s\ngot:\n%s", want, got)
	}
}

func TestFilterSeeAlsoMatch(t *testing.T) {
	f := NewFilter(DefaultPatterns(), false)

	in := strings.Join([]string{
		"Use the see-also-links CSS class for related symbols.",
		"More content after the hyphenated mention.",
		"## SEE ALSO",
		"- trailing related links",
	}, "\n")

	got := f.Apply(in)
	if !strings.Contains(got, "More content after the hyphenated mention.") {
		t.Fatalf("hyphenated see-also mention truncated the page:\n%s", got)
	}
	if strings.Contains(got, "trailing related links") {
		t.Fatalf("see also section survived:\n%s", got)
	}
}

func TestFilterIdempotent(t *testing.T) {
	f := NewFilter(DefaultPatterns(), false)

	in := strings.Join([]string{
		"## [Overview](https://example.com/overview)",
		"Some text with a period. And another sentence.",
		"    indented code line",
		"![img](https://example.com/a.png)",
		"see also everything below vanishes",
		"gone",
	}, "\n")

	once := f.Apply(in)
	twice := f.Apply(once)
	if once != twice {
		t.Fatalf("filter is not a fixed point on its own output\nonce:\n%s\ntwice:\n%s", once, twice)
	}
	if !strings.Contains(once, "    indented code line") {
		t.Fatalf("indentation not preserved:\n%s", once)
	}
}

func TestLoadFilterFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.yaml")
	content := "case_insensitive: true\npatterns:\n  - \"beta software\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write pattern file: %v", err)
	}

	f, err := LoadFilter(path)
	if err != nil {
		t.Fatalf("LoadFilter returned error: %v", err)
	}

	got := f.Apply("keep this\nThis page documents Beta Software only.\nand this")
	if strings.Contains(got, "Beta Software") {
		t.Fatalf("case-insensitive pattern not applied:\n%s", got)
	}
	if !strings.Contains(got, "keep this") || !strings.Contains(got, "and this") {
		t.Fatalf("unrelated lines dropped:\n%s", got)
	}
}

func TestLoadFilterEmptyPathUsesDefaults(t *testing.T) {
	f, err := LoadFilter("")
	if err != nil {
		t.Fatalf("LoadFilter returned error: %v", err)
	}
	got := f.Apply("Skip Navigation\nreal content")
	if got != "real content" {
		t.Fatalf("default table not applied, got %q", got)
	}
}

package fs

import (
	"testing"

	"github.com/spf13/afero"
)

func TestParseIgnoreRule(t *testing.T) {
	tests := []struct {
		line   string
		want   ignoreRule
		wantOK bool
	}{
		{line: "*.bak", want: ignoreRule{glob: "*.bak"}, wantOK: true},
		{line: "  # comment", wantOK: false},
		{line: "", wantOK: false},
		{line: "!keep.bak", want: ignoreRule{glob: "keep.bak", negate: true}, wantOK: true},
		{line: "exports/", want: ignoreRule{glob: "exports", dirOnly: true}, wantOK: true},
		{line: "/notes.txt", want: ignoreRule{glob: "notes.txt", anchored: true}, wantOK: true},
		{line: "qgis/*.qgs~", want: ignoreRule{glob: "qgis/*.qgs~", anchored: true}, wantOK: true},
		{line: "/", wantOK: false},
		{line: "[bad", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := parseIgnoreRule(tt.line)
			if ok != tt.wantOK {
				t.Fatalf("parseIgnoreRule(%q) ok = %v, want %v", tt.line, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("parseIgnoreRule(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestIgnoreMatcher_Match(t *testing.T) {
	tests := []struct {
		name  string
		rules []string
		path  string
		want  bool
	}{
		{name: "nothing configured", path: "survey.gpkg", want: false},
		{name: "metadata directory", path: ".geosync/metadata.db", want: true},
		{name: "sqlite wal sidecar", path: "data/survey.gpkg-wal", want: true},
		{name: "editor backup", path: "project.qgs~", want: true},
		{name: "basename glob at depth", rules: []string{"*.bak"}, path: "a/b/roads.bak", want: true},
		{name: "basename glob other ext", rules: []string{"*.bak"}, path: "roads.gpkg", want: false},
		{name: "anchored at root", rules: []string{"/notes.txt"}, path: "notes.txt", want: true},
		{name: "anchored not nested", rules: []string{"/notes.txt"}, path: "docs/notes.txt", want: false},
		{name: "path glob", rules: []string{"photos/*.jpg"}, path: "photos/p1.jpg", want: true},
		{name: "path glob other dir", rules: []string{"photos/*.jpg"}, path: "maps/p1.jpg", want: false},
		{name: "directory rule", rules: []string{"exports/"}, path: "exports/2024/roads.shp", want: true},
		{name: "directory rule nested", rules: []string{"exports/"}, path: "a/exports/roads.shp", want: true},
		{name: "directory rule not file", rules: []string{"exports/"}, path: "exports", want: false},
		{name: "anchored directory", rules: []string{"/cache/"}, path: "sub/cache/tile.png", want: false},
		{name: "negation re-includes", rules: []string{"*.bak", "!keep.bak"}, path: "keep.bak", want: false},
		{name: "later rule wins", rules: []string{"!keep.bak", "*.bak"}, path: "keep.bak", want: true},
		{name: "negate builtin", rules: []string{"!important-journal"}, path: "important-journal", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewIgnoreMatcher(tt.rules)
			if got := m.Match(tt.path); got != tt.want {
				t.Errorf("Match(%q) with %v = %v, want %v", tt.path, tt.rules, got, tt.want)
			}
		})
	}
}

func TestLoadIgnoreMatcher(t *testing.T) {
	fsys := afero.NewMemMapFs()
	ignoreFile := "# field tablets\n*.tmp\n!final.tmp\n"
	if err := afero.WriteFile(fsys, "/proj/"+IgnoreFileName, []byte(ignoreFile), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadIgnoreMatcher(fsys, "/proj", []string{"*.bak", "final.tmp"})
	if err != nil {
		t.Fatalf("LoadIgnoreMatcher() error = %v", err)
	}
	cases := map[string]bool{
		"x.bak":     true,
		"draft.tmp": true,
		"final.tmp": false, // the project file overrides configured rules
		"map.gpkg":  false,
	}
	for p, want := range cases {
		if got := m.Match(p); got != want {
			t.Errorf("Match(%q) = %v, want %v", p, got, want)
		}
	}
}

func TestParseIgnoreFile_Missing(t *testing.T) {
	lines, err := ParseIgnoreFile(afero.NewMemMapFs(), "/proj/"+IgnoreFileName)
	if err != nil || lines != nil {
		t.Errorf("ParseIgnoreFile() = %v, %v; want nil, nil", lines, err)
	}
}

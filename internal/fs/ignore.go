package fs

import (
	"bufio"
	"errors"
	"fmt"
	iofs "io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// IgnoreFileName is the per-project ignore file at the working-copy root.
const IgnoreFileName = ".geosyncignore"

// builtinIgnore is applied before configured rules. SQLite sidecars and
// editor leftovers are never worth transferring.
var builtinIgnore = []string{
	"*-wal",
	"*-shm",
	"*-journal",
	"*~",
	".DS_Store",
	"Thumbs.db",
	".tmp-*",
}

// ignoreRule is one parsed line of an ignore list.
//
//	*.bak          basename glob, any depth
//	/notes.txt     anchored at the project root
//	exports/       every file below a directory called exports
//	!keep.bak      re-include what an earlier rule ignored
type ignoreRule struct {
	glob     string
	negate   bool
	dirOnly  bool
	anchored bool
}

func parseIgnoreRule(line string) (ignoreRule, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return ignoreRule{}, false
	}
	var r ignoreRule
	if strings.HasPrefix(line, "!") {
		r.negate = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimRight(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		line = strings.TrimLeft(line, "/")
		r.anchored = true
	}
	if strings.Contains(line, "/") {
		r.anchored = true
	}
	if line == "" {
		return ignoreRule{}, false
	}
	if _, err := path.Match(line, ""); err != nil {
		return ignoreRule{}, false
	}
	r.glob = line
	return r, true
}

// matches tests a rule against a slash-separated relative file path.
func (r ignoreRule) matches(rel string) bool {
	if r.dirOnly {
		// every proper parent directory of rel is a candidate
		for dir := path.Dir(rel); dir != "."; dir = path.Dir(dir) {
			if r.matchName(dir) {
				return true
			}
		}
		return false
	}
	return r.matchName(rel)
}

func (r ignoreRule) matchName(p string) bool {
	if !r.anchored {
		p = path.Base(p)
	}
	ok, _ := path.Match(r.glob, p)
	return ok
}

// IgnoreMatcher decides which working-copy files stay local. Rules are
// evaluated in order and the last matching rule wins.
type IgnoreMatcher struct {
	rules []ignoreRule
}

// NewIgnoreMatcher builds a matcher from the built-in rules followed by
// lines. Blank lines, comments and malformed globs are dropped.
func NewIgnoreMatcher(lines []string) *IgnoreMatcher {
	m := &IgnoreMatcher{}
	for _, line := range append(append([]string{}, builtinIgnore...), lines...) {
		if r, ok := parseIgnoreRule(line); ok {
			m.rules = append(m.rules, r)
		}
	}
	return m
}

// Match reports whether the relative path should be left out of sync.
func (m *IgnoreMatcher) Match(rel string) bool {
	if IsWithinMetaDir(rel) {
		return true
	}
	ignored := false
	for _, r := range m.rules {
		if r.matches(rel) {
			ignored = !r.negate
		}
	}
	return ignored
}

// ParseIgnoreFile returns the lines of an ignore file, or nil when it does
// not exist.
func ParseIgnoreFile(fsys afero.Fs, p string) ([]string, error) {
	f, err := fsys.Open(p)
	if errors.Is(err, iofs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return lines, nil
}

// LoadIgnoreMatcher combines configured patterns with the project's ignore
// file; the file's rules come last and so take precedence.
func LoadIgnoreMatcher(fsys afero.Fs, root string, configured []string) (*IgnoreMatcher, error) {
	fromFile, err := ParseIgnoreFile(fsys, filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	return NewIgnoreMatcher(append(append([]string{}, configured...), fromFile...)), nil
}

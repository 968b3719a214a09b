package fs

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

type ignoreRule struct {
	glob     string
	anchored bool // matched against the whole relative path
	dirOnly  bool
}

// IgnoreMatcher decides which entries below a registered directory are left
// out. Rules follow a small gitignore subset:
//
//	*.log       any entry whose name matches
//	build/      directories only
//	/notes.txt  only at the top of the directory
//	docs/*.tmp  matched against the whole relative path
type IgnoreMatcher struct {
	rules []ignoreRule
}

// NewIgnoreMatcher compiles rules. Blank lines and '#' comments are skipped.
func NewIgnoreMatcher(lines []string) *IgnoreMatcher {
	m := &IgnoreMatcher{}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var r ignoreRule
		if strings.HasSuffix(line, "/") {
			r.dirOnly = true
			line = strings.TrimRight(line, "/")
		}
		if strings.HasPrefix(line, "/") {
			r.anchored = true
			line = strings.TrimLeft(line, "/")
		}
		if line == "" {
			continue
		}
		if strings.Contains(line, "/") {
			r.anchored = true
		}
		r.glob = line
		m.rules = append(m.rules, r)
	}
	return m
}

// Match reports whether the entry at rel, relative to the registered
// directory, is ignored. isDir tells whether the entry is a directory.
func (m *IgnoreMatcher) Match(rel string, isDir bool) bool {
	rel = filepath.ToSlash(rel)
	if rel == "" || rel == "." {
		return false
	}
	name := path.Base(rel)

	for _, r := range m.rules {
		if r.dirOnly && !isDir {
			continue
		}
		subject := name
		if r.anchored {
			subject = rel
		}
		// path.Match only fails on malformed globs, which never match.
		if ok, _ := path.Match(r.glob, subject); ok {
			return true
		}
	}
	return false
}

// ParseIgnoreFile returns the lines of an ignore file, or nil when the file
// does not exist.
func ParseIgnoreFile(name string) ([]string, error) {
	f, err := os.Open(name)
	if os.IsNotExist(err) {
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
		return nil, fmt.Errorf("reading ignore file %s: %w", name, err)
	}
	return lines, nil
}

// Package ignore implements the gitignore-style ignore rules applied
// before a path reaches the watcher callback or the change detector.
// Generalized from a single fixed rule set to a per-folder list that
// also excludes this agent's own conflict markers and partial-upload
// staging suffixes.
package ignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/sabhiram/go-gitignore"
)

// defaultLines are applied to every folder regardless of a local
// .baludeskignore file.
var defaultLines = []string{
	".baludeskignore",
	"*.conflicted",
	"*.baludesk.partial.*",
	".baludesk/",
	// VCS / editor
	".git/",
	".vscode/",
	".idea/",
	// OS metadata
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
	// Common transient noise
	"*.tmp",
	"*.swp",
	"~$*",
}

// List matches relative paths against a folder's combined ignore rules.
type List struct {
	baseDir string
	ignore  *gitignore.GitIgnore
}

// New compiles the default rules, baseDir's ".baludeskignore" file if
// present, and any config-authored extra glob patterns, in that order.
func New(baseDir string, extra ...string) *List {
	lines := append([]string(nil), defaultLines...)

	ignorePath := filepath.Join(baseDir, ".baludeskignore")
	if custom, err := readLines(ignorePath); err == nil {
		lines = append(lines, custom...)
	}

	lines = append(lines, extra...)

	return &List{
		baseDir: baseDir,
		ignore:  gitignore.CompileIgnoreLines(lines...),
	}
}

// ValidatePattern reports whether pattern is a syntactically valid glob,
// the way config validates its ignore_patterns list before it ever
// reaches New. doublestar exposes no dedicated validity check, so this
// probes by matching the pattern against an arbitrary path and looking
// only at the error.
func ValidatePattern(pattern string) error {
	if _, err := doublestar.Match(pattern, "a"); err != nil {
		return fmt.Errorf("ignore: invalid glob pattern %q: %w", pattern, err)
	}
	return nil
}

// ShouldIgnore reports whether relPath matches any compiled rule. relPath
// must already be relative to baseDir.
func (l *List) ShouldIgnore(relPath string) bool {
	return l.ignore.MatchesPath(relPath)
}

// ShouldIgnoreAbs is ShouldIgnore for an absolute path beneath baseDir.
func (l *List) ShouldIgnoreAbs(absPath string) bool {
	rel, err := filepath.Rel(l.baseDir, absPath)
	if err != nil {
		return false
	}
	return l.ShouldIgnore(rel)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.Contains(line, "\x00") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ignore: read %s: %w", path, err)
	}
	return lines, nil
}

package indexer

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
	"github.com/yoanbernabeu/codeindex/config"
)

// PathFilter decides which workspace files are eligible for indexing.
type PathFilter interface {
	// FilterPaths returns the paths that are not ignored, preserving order.
	FilterPaths(paths []string) []string
}

// scopedRules is a compiled .gitignore that applies below base (slash-separated,
// relative to the workspace root, empty for the root itself).
type scopedRules struct {
	base  string
	rules *ignore.GitIgnore
}

// overrideRules is a compiled .codeindexignore. decide keeps negations and gives
// the verdict; detect has every pattern made positive and only tells whether the
// file speaks about a path at all.
type overrideRules struct {
	base   string
	decide *ignore.GitIgnore
	detect *ignore.GitIgnore
}

// IgnoreMatcher combines .gitignore files, .codeindexignore files and the
// configured ignore list. A .codeindexignore verdict beats any .gitignore at the
// same depth or shallower; a deeper .gitignore still wins over a re-include.
type IgnoreMatcher struct {
	root            string
	names           map[string]bool
	gitRules        []scopedRules
	overrides       []overrideRules
	overridesNegate bool
}

func NewIgnoreMatcher(projectRoot string, extraIgnore []string, externalGitignore string) (*IgnoreMatcher, error) {
	m := &IgnoreMatcher{
		root:  projectRoot,
		names: make(map[string]bool, len(extraIgnore)),
	}
	for _, name := range extraIgnore {
		m.names[name] = true
	}

	if externalGitignore != "" {
		path := expandTilde(externalGitignore)
		gi, err := ignore.CompileIgnoreFile(path)
		switch {
		case os.IsNotExist(err):
			log.Printf("Warning: external gitignore file not found: %s", path)
		case err != nil:
			log.Printf("Warning: failed to load external gitignore: %v", err)
		default:
			m.gitRules = append(m.gitRules, scopedRules{rules: gi})
		}
	}

	err := filepath.WalkDir(projectRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != projectRoot && m.names[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		switch d.Name() {
		case ".gitignore":
			gi, err := ignore.CompileIgnoreFile(path)
			if err != nil {
				return nil
			}
			m.gitRules = append(m.gitRules, scopedRules{base: m.scopeOf(path), rules: gi})
		case config.IgnoreFileName:
			ov, negates, err := compileOverrideFile(path)
			if err != nil {
				return nil
			}
			ov.base = m.scopeOf(path)
			m.overrides = append(m.overrides, ov)
			m.overridesNegate = m.overridesNegate || negates
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(extraIgnore) > 0 {
		m.gitRules = append(m.gitRules, scopedRules{rules: ignore.CompileIgnoreLines(extraIgnore...)})
	}

	return m, nil
}

// scopeOf returns the directory of an ignore file relative to the root.
func (m *IgnoreMatcher) scopeOf(ignoreFile string) string {
	rel, err := filepath.Rel(m.root, filepath.Dir(ignoreFile))
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

// ShouldIgnore reports whether a root-relative path is excluded.
func (m *IgnoreMatcher) ShouldIgnore(relPath string) bool {
	p := filepath.ToSlash(relPath)

	verdict, overrideBase, spoke := m.overrideVerdict(p)
	if !spoke {
		ignored, _ := m.gitVerdict(p)
		return ignored
	}
	if verdict {
		return true
	}
	ignored, gitBase := m.gitVerdict(p)
	return ignored && len(gitBase) > len(overrideBase)
}

// ShouldSkipDir reports whether the walk may prune a root-relative directory.
// With re-include patterns present, an ignored directory may still hold wanted files.
func (m *IgnoreMatcher) ShouldSkipDir(relPath string) bool {
	if !m.ShouldIgnore(relPath) {
		return false
	}
	if verdict, _, spoke := m.overrideVerdict(filepath.ToSlash(relPath)); spoke {
		return verdict
	}
	return !m.overridesNegate
}

// FilterPaths accepts absolute or root-relative paths.
func (m *IgnoreMatcher) FilterPaths(paths []string) []string {
	kept := make([]string, 0, len(paths))
	for _, p := range paths {
		rel := p
		if filepath.IsAbs(p) {
			r, err := filepath.Rel(m.root, p)
			if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
				continue
			}
			rel = r
		}
		if m.ignoredWithParents(rel) {
			continue
		}
		kept = append(kept, p)
	}
	return kept
}

// ignoredWithParents also checks every ancestor directory, so files inside an
// ignored directory are filtered even when the directory was never walked.
func (m *IgnoreMatcher) ignoredWithParents(relPath string) bool {
	parts := strings.Split(filepath.ToSlash(relPath), "/")
	for i := 1; i < len(parts); i++ {
		if m.ShouldSkipDir(strings.Join(parts[:i], "/")) {
			return true
		}
	}
	return m.ShouldIgnore(relPath)
}

// overrideVerdict consults the deepest .codeindexignore that mentions the path.
func (m *IgnoreMatcher) overrideVerdict(p string) (ignored bool, base string, spoke bool) {
	var best *overrideRules
	for i := range m.overrides {
		ov := &m.overrides[i]
		rel, ok := relativeTo(p, ov.base)
		if !ok {
			continue
		}
		if !ov.detect.MatchesPath(rel) && !ov.detect.MatchesPath(rel+"/") {
			continue
		}
		if best == nil || len(ov.base) > len(best.base) {
			best = ov
		}
	}
	if best == nil {
		return false, "", false
	}

	rel, _ := relativeTo(p, best.base)
	plain := best.decide.MatchesPath(rel)
	asDir := best.decide.MatchesPath(rel + "/")
	if plain && !asDir {
		// A directory-only negation re-included it.
		return false, best.base, true
	}
	return plain || asDir, best.base, true
}

// gitVerdict checks ignore names and .gitignore rules, returning the deepest matching scope.
func (m *IgnoreMatcher) gitVerdict(p string) (bool, string) {
	matched := m.names[filepath.Base(p)]
	deepest := ""

	for _, sr := range m.gitRules {
		rel, ok := relativeTo(p, sr.base)
		if !ok {
			continue
		}
		if sr.rules.MatchesPath(rel) || sr.rules.MatchesPath(rel+"/") {
			if !matched || len(sr.base) > len(deepest) {
				deepest = sr.base
			}
			matched = true
		}
	}
	return matched, deepest
}

// relativeTo strips base from p; ok is false when p lies outside base.
func relativeTo(p, base string) (string, bool) {
	if base == "" {
		return p, true
	}
	if p == base {
		return ".", true
	}
	if strings.HasPrefix(p, base+"/") {
		return p[len(base)+1:], true
	}
	return "", false
}

func compileOverrideFile(path string) (overrideRules, bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return overrideRules{}, false, err
	}

	var decide, detect []string
	negates := false
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		decide = append(decide, line)
		if strings.HasPrefix(line, "!") {
			negates = true
			line = line[1:]
		}
		detect = append(detect, line)
	}

	return overrideRules{
		decide: ignore.CompileIgnoreLines(decide...),
		detect: ignore.CompileIgnoreLines(detect...),
	}, negates, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

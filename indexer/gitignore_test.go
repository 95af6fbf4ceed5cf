package indexer

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("mkdir %s: %v", rel, err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

type ignoreCase struct {
	path     string
	expected bool
}

func assertIgnored(t *testing.T, m *IgnoreMatcher, cases []ignoreCase) {
	t.Helper()
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			if got := m.ShouldIgnore(tc.path); got != tc.expected {
				t.Errorf("ShouldIgnore(%q) = %v, want %v", tc.path, got, tc.expected)
			}
		})
	}
}

func TestIgnoreMatcher_GitignorePatterns(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		".gitignore": "# build output\nbuild/\nnode_modules/\n*.log\nsecret.txt\n",
	})

	m, err := NewIgnoreMatcher(root, nil, "")
	if err != nil {
		t.Fatalf("NewIgnoreMatcher failed: %v", err)
	}

	assertIgnored(t, m, []ignoreCase{
		{"main.go", false},
		{"src/app.ts", false},
		{"build", true},
		{"build/sub/file.go", true},
		{"node_modules/lodash/index.js", true},
		{"debug.log", true},
		{"logs/app.log", true},
		{"secret.txt", true},
	})
}

func TestIgnoreMatcher_ExtraPatterns(t *testing.T) {
	root := t.TempDir()
	m, err := NewIgnoreMatcher(root, []string{".git", "vendor", "*.min.js"}, "")
	if err != nil {
		t.Fatalf("NewIgnoreMatcher failed: %v", err)
	}

	assertIgnored(t, m, []ignoreCase{
		{".git", true},
		{"vendor", true},
		{"vendor/pkg/a.go", true},
		{"web/app.min.js", true},
		{"web/app.js", false},
	})
}

func TestIgnoreMatcher_NestedGitignore(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		".gitignore":          "*.tmp\n",
		"services/.gitignore": "generated/\n",
	})

	m, err := NewIgnoreMatcher(root, nil, "")
	if err != nil {
		t.Fatalf("NewIgnoreMatcher failed: %v", err)
	}

	assertIgnored(t, m, []ignoreCase{
		{"a.tmp", true},
		{"services/b.tmp", true},
		{"services/generated/x.go", true},
		{"generated/x.go", false},
	})
}

func TestIgnoreMatcher_ExternalGitignore(t *testing.T) {
	root := t.TempDir()
	external := filepath.Join(t.TempDir(), "global.gitignore")
	writeFiles(t, filepath.Dir(external), map[string]string{"global.gitignore": "*.bak\n"})

	m, err := NewIgnoreMatcher(root, nil, external)
	if err != nil {
		t.Fatalf("NewIgnoreMatcher failed: %v", err)
	}
	if !m.ShouldIgnore("notes.bak") {
		t.Error("expected external pattern to apply")
	}

	// A missing external file only logs.
	if _, err := NewIgnoreMatcher(root, nil, filepath.Join(root, "missing")); err != nil {
		t.Errorf("expected missing external gitignore to be tolerated, got %v", err)
	}
}

func TestCodeindexIgnore_ExclusionAndNegation(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		".gitignore":       "vendor/\n",
		".codeindexignore": "*.generated.go\nsecret-data/\n!vendor/\n",
		"vendor/lib.go":    "package vendor",
	})

	m, err := NewIgnoreMatcher(root, nil, "")
	if err != nil {
		t.Fatalf("NewIgnoreMatcher failed: %v", err)
	}

	assertIgnored(t, m, []ignoreCase{
		{"models.generated.go", true},
		{"src/models.generated.go", true},
		{"secret-data", true},
		{"vendor", false},
		{"main.go", false},
	})
}

func TestCodeindexIgnore_NestedScope(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"services/.codeindexignore": "*.test.ts\n",
	})

	m, err := NewIgnoreMatcher(root, nil, "")
	if err != nil {
		t.Fatalf("NewIgnoreMatcher failed: %v", err)
	}

	assertIgnored(t, m, []ignoreCase{
		{"services/handler.test.ts", true},
		{"handler.test.ts", false},
	})
}

func TestCodeindexIgnore_DoesNotOverrideDeeperGitignore(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		".codeindexignore":    "!generated/\n",
		"services/.gitignore": "generated/\n",
	})

	m, err := NewIgnoreMatcher(root, nil, "")
	if err != nil {
		t.Fatalf("NewIgnoreMatcher failed: %v", err)
	}

	if !m.ShouldIgnore("services/generated") {
		t.Error("expected deeper .gitignore to win over a shallower re-include")
	}
}

func TestShouldSkipDir(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{".gitignore": "vendor/\n"})

	plain, err := NewIgnoreMatcher(root, nil, "")
	if err != nil {
		t.Fatalf("NewIgnoreMatcher failed: %v", err)
	}
	if !plain.ShouldSkipDir("vendor") {
		t.Error("expected ignored dir to be skippable without re-includes")
	}
	if plain.ShouldSkipDir("src") {
		t.Error("expected non-ignored dir not to be skipped")
	}

	writeFiles(t, root, map[string]string{".codeindexignore": "!vendor/keep.go\n"})
	negating, err := NewIgnoreMatcher(root, nil, "")
	if err != nil {
		t.Fatalf("NewIgnoreMatcher failed: %v", err)
	}
	if negating.ShouldSkipDir("vendor") {
		t.Error("expected dir to be walked when re-include patterns exist")
	}
}

func TestFilterPaths(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{".gitignore": "dist/\n*.log\n"})

	m, err := NewIgnoreMatcher(root, []string{"node_modules"}, "")
	if err != nil {
		t.Fatalf("NewIgnoreMatcher failed: %v", err)
	}

	in := []string{
		filepath.Join(root, "src", "a.ts"),
		filepath.Join(root, "dist", "bundle.js"),
		filepath.Join(root, "node_modules", "x", "index.js"),
		filepath.Join(root, "debug.log"),
		"src/b.ts",
		filepath.Join(filepath.Dir(root), "outside.ts"),
		filepath.Join(root, "src", "c.ts"),
	}
	got := m.FilterPaths(in)

	want := []string{in[0], in[4], in[6]}
	if len(got) != len(want) {
		t.Fatalf("FilterPaths() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("FilterPaths()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestExpandTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := map[string]string{
		"~":               home,
		"~/x/.gitignore":  filepath.Join(home, "x", ".gitignore"),
		"/abs/.gitignore": "/abs/.gitignore",
		"~user/file":      "~user/file",
	}
	for in, want := range tests {
		if got := expandTilde(in); got != want {
			t.Errorf("expandTilde(%q) = %q, want %q", in, got, want)
		}
	}
}

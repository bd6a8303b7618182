package git

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// gitInit creates a fresh repository in a temp directory and returns its
// symlink-resolved path.
func gitInit(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cmd := exec.Command("git", "init", "--quiet")
	cmd.Dir = dir
	if err := cmd.Run(); err != nil {
		t.Fatalf("git init failed: %v", err)
	}
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatal(err)
	}
	return resolved
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	original, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(original) })
}

func TestIsGitRepository(t *testing.T) {
	tests := []struct {
		name      string
		setupFunc func(t *testing.T) string
		wantIsGit bool
	}{
		{
			name:      "valid git repository",
			setupFunc: gitInit,
			wantIsGit: true,
		},
		{
			name: "not a git repository",
			setupFunc: func(t *testing.T) string {
				dir, err := filepath.EvalSymlinks(t.TempDir())
				if err != nil {
					t.Fatal(err)
				}
				return dir
			},
			wantIsGit: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdir(t, tt.setupFunc(t))

			checker := NewChecker()
			isGit, err := checker.IsGitRepository()
			if err != nil {
				t.Fatalf("IsGitRepository() error = %v", err)
			}
			if isGit != tt.wantIsGit {
				t.Errorf("IsGitRepository() = %v, want %v", isGit, tt.wantIsGit)
			}
		})
	}
}

func TestValidateGitContext(t *testing.T) {
	t.Run("at repository root", func(t *testing.T) {
		chdir(t, gitInit(t))

		checker := NewChecker()
		if err := checker.ValidateGitContext(); err != nil {
			t.Errorf("ValidateGitContext() error = %v, want nil", err)
		}
	})

	t.Run("in a subdirectory", func(t *testing.T) {
		root := gitInit(t)
		sub := filepath.Join(root, "manifests")
		if err := os.MkdirAll(sub, 0o755); err != nil {
			t.Fatal(err)
		}
		chdir(t, sub)

		checker := NewChecker()
		err := checker.ValidateGitContext()
		if err == nil {
			t.Fatal("ValidateGitContext() = nil, want error")
		}
		if !strings.Contains(err.Error(), "must run from Git repository root") {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("outside any repository", func(t *testing.T) {
		dir, err := filepath.EvalSymlinks(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		chdir(t, dir)

		checker := NewChecker()
		err = checker.ValidateGitContext()
		if err == nil {
			t.Fatal("ValidateGitContext() = nil, want error")
		}
		if !strings.Contains(err.Error(), "not a Git repository") {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestIsGitRoot(t *testing.T) {
	root := gitInit(t)
	chdir(t, root)

	checker := NewChecker()
	isRoot, gotRoot, err := checker.IsGitRoot()
	if err != nil {
		t.Fatalf("IsGitRoot() error = %v", err)
	}
	if !isRoot {
		t.Error("IsGitRoot() = false at repository root")
	}
	if filepath.Clean(gotRoot) != filepath.Clean(root) {
		t.Errorf("IsGitRoot() root = %q, want %q", gotRoot, root)
	}
}

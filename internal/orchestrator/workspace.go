package orchestrator

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// versionControlNames are never removed, so a workspace kept under git
// survives reconciliation.
var versionControlNames = map[string]bool{
	".gitkeep":       true,
	".gitignore":     true,
	".gitattributes": true,
	".gitmodules":    true,
}

// Reconciler keeps the workspace tree aligned with the manifests the board
// tracks. Task subprocesses write wherever they like; anything they leave
// behind that no manifest claims is removed before the next apply.
type Reconciler struct {
	root   string
	logger *zap.Logger
}

// NewReconciler returns a Reconciler managing the tree rooted at root.
func NewReconciler(root string, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{root: root, logger: logger.Named("workspace")}
}

// Root returns the workspace directory the reconciler manages.
func (r *Reconciler) Root() string {
	return r.root
}

// Reconcile removes every file under the workspace that is not a tracked
// manifest, then prunes directories left empty. Tracked paths are matched
// case-insensitively and interpreted relative to the workspace root.
// Returns the removed absolute paths sorted.
func (r *Reconciler) Reconcile(tracked []string) ([]string, error) {
	return r.sweep(r.trackedSet(tracked))
}

// Clear empties the workspace ahead of a fresh run, keeping only version
// control files. The directory is created if it does not exist yet.
func (r *Reconciler) Clear() error {
	if err := os.MkdirAll(r.root, 0o755); err != nil {
		return err
	}
	_, err := r.sweep(nil)
	return err
}

// Seed copies the contents of src into the workspace, so a run can start
// from an existing manifest set instead of a blank tree.
func (r *Reconciler) Seed(src string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("seed directory %s: %w", src, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("seed path %s is not a directory", src)
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		dst := filepath.Join(r.root, rel)
		if d.IsDir() {
			if d.Name() == ".git" {
				return fs.SkipDir
			}
			return os.MkdirAll(dst, 0o755)
		}
		return copyFile(path, dst)
	})
}

// copyFile copies one regular file, creating the destination directory.
func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (r *Reconciler) trackedSet(tracked []string) map[string]bool {
	set := make(map[string]bool, len(tracked))
	for _, p := range tracked {
		p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
		p = strings.TrimPrefix(p, "/")
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(filepath.Join(r.root, filepath.FromSlash(p)))
		if err != nil {
			continue
		}
		set[strings.ToLower(abs)] = true
	}
	return set
}

func (r *Reconciler) sweep(tracked map[string]bool) ([]string, error) {
	root, err := filepath.Abs(r.root)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(root); os.IsNotExist(err) {
		r.logger.Warn("workspace does not exist, nothing to reconcile", zap.String("root", root))
		return nil, nil
	}

	var removed []string
	var dirs []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return fs.SkipDir
			}
			if path != root {
				dirs = append(dirs, path)
			}
			return nil
		}
		if versionControlNames[strings.ToLower(d.Name())] {
			return nil
		}
		if tracked[strings.ToLower(path)] {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		removed = append(removed, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Deepest directories first, so an emptied parent can go too.
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, dir := range dirs {
		gone, err := removeIfEmpty(dir)
		if err != nil {
			return nil, err
		}
		if gone {
			removed = append(removed, dir)
		}
	}

	sort.Strings(removed)
	if len(removed) > 0 {
		r.logger.Info("removed untracked paths", zap.Int("count", len(removed)))
	}
	return removed, nil
}

// removeIfEmpty deletes dir when it holds nothing, or nothing but a .gitkeep
// placeholder.
func removeIfEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	if len(entries) == 1 && strings.EqualFold(entries[0].Name(), ".gitkeep") {
		if err := os.Remove(filepath.Join(dir, entries[0].Name())); err != nil {
			return false, err
		}
		entries = nil
	}
	if len(entries) > 0 {
		return false, nil
	}
	return true, os.Remove(dir)
}

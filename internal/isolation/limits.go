package isolation

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rendis/pineapple/pkg/schema"
)

// Limits restricts where plugin processes may run.
type Limits struct {
	// AllowedDirs are the directories (and their subdirectories) a process
	// may use as working directory. Empty means unrestricted.
	AllowedDirs []string `json:"allowed_dirs,omitempty"`
	// DeniedDirs always win over AllowedDirs.
	DeniedDirs []string `json:"denied_dirs,omitempty"`
}

// Unrestricted reports whether l imposes no directory rule.
func (l Limits) Unrestricted() bool {
	return len(l.AllowedDirs) == 0 && len(l.DeniedDirs) == 0
}

// CheckDir returns a PATH_DENIED error if dir may not be used as a working
// directory under l.
func (l Limits) CheckDir(dir string) error {
	clean, err := resolveCleanPath(dir)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodePathDenied, "invalid directory %q: %v", dir, err)
	}

	// Fail closed: an invalid deny rule denies.
	for _, deny := range l.DeniedDirs {
		base, err := resolveCleanPath(deny)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodePathDenied, "directory %q denied: invalid deny rule %q: %v", dir, deny, err)
		}
		if isUnderPath(clean, base) {
			return schema.NewErrorf(schema.ErrCodePathDenied, "directory %q is denied", dir)
		}
	}

	if len(l.AllowedDirs) == 0 {
		return nil
	}
	for _, allow := range l.AllowedDirs {
		base, err := resolveCleanPath(allow)
		if err != nil {
			continue // an invalid allow rule grants nothing
		}
		if isUnderPath(clean, base) {
			return nil
		}
	}
	return schema.NewErrorf(schema.ErrCodePathDenied, "directory %q is not under any allowed directory", dir)
}

// resolveCleanPath makes path absolute and resolves symlinks on its longest
// existing prefix, so that missing directories compare consistently.
func resolveCleanPath(path string) (string, error) {
	if strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("path contains null byte")
	}
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return resolveAncestor(abs), nil
}

func resolveAncestor(path string) string {
	dir := path
	for range 256 {
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rel, err := filepath.Rel(parent, path)
			if err != nil {
				return path
			}
			return filepath.Join(resolved, rel)
		}
		dir = parent
	}
	return path
}

// isUnderPath reports whether path is base or below it. /tmpevil is not
// under /tmp.
func isUnderPath(path, base string) bool {
	if path == base {
		return true
	}
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

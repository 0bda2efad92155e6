package perm

import (
	"os"
	"path/filepath"
)

// Checker performs the resolved-path capability checks of spec.md §4.3.
// All checks resolve target against BaseDir first, then canonicalize via
// the host filesystem before comparing against granted roots — this is
// what defeats symlink-mediated escapes (scenario 2: a symlink inside an
// allowed directory pointing outside it must not grant access to the
// target).
type Checker struct {
	Perm EffectivePermissions
}

// canonicalize resolves symlinks in p. When p (or a suffix of it) does not
// exist, it walks up to the nearest existing parent, canonicalizes that,
// and reapplies the non-existent suffix — spec.md §4.3: "canonicalize via
// the host filesystem (including non-existent paths — the algorithm walks
// up to the nearest existing parent, then reapplies the suffix to the
// canonical parent)". This lets apply_patch's create_if_missing path and
// exec's not-yet-created cwd still resolve to a comparable canonical form.
func canonicalize(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)

	var suffix []string
	cur := abs
	for {
		if real, err := filepath.EvalSymlinks(cur); err == nil {
			full := real
			for i := len(suffix) - 1; i >= 0; i-- {
				full = filepath.Join(full, suffix[i])
			}
			return full, nil
		} else if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			// Reached filesystem root without finding an existing ancestor;
			// nothing to canonicalize against, return the cleaned absolute
			// form as-is.
			return abs, nil
		}
		suffix = append(suffix, filepath.Base(cur))
		cur = parent
	}
}

// resolveAgainstBase joins rel against base when rel is not already
// absolute, matching the "relative grants resolved once at normalization"
// rule used by Declaration.Normalize and the "resolve target against
// base_dir" rule used by every check below.
func resolveAgainstBase(base, rel string) string {
	if filepath.IsAbs(rel) {
		return filepath.Clean(rel)
	}
	return filepath.Clean(filepath.Join(base, rel))
}

// isDescendantOrEqual reports whether target (already canonical) equals or
// descends from root (already canonical).
func isDescendantOrEqual(target, root string) bool {
	if target == root {
		return true
	}
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && rel != "" && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[0] == '.' && rel[1] == '.'
}

func scopeAllows(scope PathScope, target string) (bool, error) {
	if scope.All {
		return true, nil
	}
	canonTarget, err := canonicalize(target)
	if err != nil {
		return false, err
	}
	for root := range scope.Paths {
		canonRoot, err := canonicalize(root)
		if err != nil {
			continue
		}
		if isDescendantOrEqual(canonTarget, canonRoot) {
			return true, nil
		}
	}
	return false, nil
}

// CanReadPath implements can_read_path(target).
func (c Checker) CanReadPath(target string) (bool, error) {
	resolved := resolveAgainstBase(c.Perm.BaseDir, target)
	return scopeAllows(c.Perm.Read, resolved)
}

// CanWritePath implements can_write_path(target).
func (c Checker) CanWritePath(target string) (bool, error) {
	resolved := resolveAgainstBase(c.Perm.BaseDir, target)
	return scopeAllows(c.Perm.Write, resolved)
}

// CanRunPath implements can_run_path(target): an exact, resolved-binary
// grant. Both the allowed path and the target are canonicalized and must
// match each other exactly — a symlink resolving an allowed path to a
// different real binary never grants execution of the target, and vice
// versa.
func (c Checker) CanRunPath(target string) (bool, error) {
	if c.Perm.Run.All {
		return true, nil
	}
	resolved := resolveAgainstBase(c.Perm.BaseDir, target)
	canonTarget, err := canonicalize(resolved)
	if err != nil {
		return false, err
	}
	for allowed := range c.Perm.Run.Paths {
		canonAllowed, err := canonicalize(resolveAgainstBase(c.Perm.BaseDir, allowed))
		if err != nil {
			continue
		}
		if canonAllowed == canonTarget {
			return true, nil
		}
	}
	return false, nil
}

// CanRunCommand implements can_run_command(name): exact match against the
// commands set, no PATH search, no basename fallback.
func (c Checker) CanRunCommand(name string) bool {
	if c.Perm.Run.All {
		return true
	}
	_, ok := c.Perm.Run.Commands[name]
	return ok
}

package perm_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deckrun/deckrun/perm"
)

func TestIntersect_AllYieldsOther(t *testing.T) {
	a := perm.AllPathScope()
	b := perm.NewPathScope("/a", "/b")
	assert.Equal(t, b, a.Intersect(b))
	assert.Equal(t, b, b.Intersect(a))
}

func TestIntersect_NarrowsToCommonSet(t *testing.T) {
	a := perm.NewPathScope("/a", "/b", "/c")
	b := perm.NewPathScope("/b", "/c", "/d")
	got := a.Intersect(b)
	assert.False(t, got.All)
	assert.Len(t, got.Paths, 2)
	_, hasB := got.Paths["/b"]
	_, hasC := got.Paths["/c"]
	assert.True(t, hasB)
	assert.True(t, hasC)
}

func TestResolver_MonotonicAcrossLayers(t *testing.T) {
	resolver := perm.Resolver{}
	parentDecl := perm.Declaration{Read: []string{"/a", "/b"}}
	parentLayer := parentDecl.Normalize("/a", func(base, p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	})

	childDecl := perm.Declaration{Read: []string{"/a"}}
	eff, traces := resolver.Resolve(perm.Input{
		Parent:      &parentLayer,
		Declaration: childDecl,
		BaseDir:     "/a",
	})

	require.NotEmpty(t, traces)
	assert.True(t, eff.SubsetOf(perm.EffectivePermissions{BaseDir: "/a", Read: parentLayer.Read, Write: perm.AllPathScope(), Net: perm.AllPathScope(), Env: perm.AllPathScope(), Run: perm.AllRunScope()}))
}

func TestResolver_ReferenceLayerOnlyNarrows(t *testing.T) {
	resolver := perm.Resolver{}
	declLayer := perm.Declaration{ReadAll: true}.Normalize("/base", resolveAbs)
	refLayer := perm.Declaration{Read: []string{"/only"}}.Normalize("/base", resolveAbs)

	eff, _ := resolver.Resolve(perm.Input{
		Declaration: perm.Declaration{ReadAll: true},
		Reference:   &refLayer,
		BaseDir:     "/base",
	})
	assert.False(t, eff.Read.All)
	_, ok := eff.Read.Paths["/only"]
	assert.True(t, ok)
	_ = declLayer
}

func resolveAbs(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func TestChecker_SymlinkEscapeDenied(t *testing.T) {
	dir := t.TempDir()
	allowed := filepath.Join(dir, "A")
	secretDir := filepath.Join(dir, "B")
	require.NoError(t, os.MkdirAll(allowed, 0o755))
	require.NoError(t, os.MkdirAll(secretDir, 0o755))
	secretFile := filepath.Join(secretDir, "secret")
	require.NoError(t, os.WriteFile(secretFile, []byte("top secret"), 0o600))

	link := filepath.Join(allowed, "link")
	require.NoError(t, os.Symlink(secretFile, link))

	checker := perm.Checker{Perm: perm.EffectivePermissions{
		BaseDir: dir,
		Read:    perm.NewPathScope(allowed),
	}}

	ok, err := checker.CanReadPath(link)
	require.NoError(t, err)
	assert.False(t, ok, "symlink escaping the allowed directory must be denied")
}

func TestChecker_DescendantAllowed(t *testing.T) {
	dir := t.TempDir()
	allowed := filepath.Join(dir, "A")
	require.NoError(t, os.MkdirAll(filepath.Join(allowed, "nested"), 0o755))

	checker := perm.Checker{Perm: perm.EffectivePermissions{
		BaseDir: dir,
		Read:    perm.NewPathScope(allowed),
	}}
	ok, err := checker.CanReadPath(filepath.Join(allowed, "nested", "file.txt"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestChecker_CanRunCommand_ExactMatchOnly(t *testing.T) {
	checker := perm.Checker{Perm: perm.EffectivePermissions{
		Run: perm.NewRunScope(nil, []string{"ls"}),
	}}
	assert.True(t, checker.CanRunCommand("ls"))
	assert.False(t, checker.CanRunCommand("/bin/ls"))
	assert.False(t, checker.CanRunCommand("ls "))
}

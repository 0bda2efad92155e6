package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deckrun/deckrun/perm"
)

func TestDeriveCapabilities_WidensOnlyIntoTrustedOrAlreadyAllowedPaths(t *testing.T) {
	tmp := t.TempDir()
	deckDir := filepath.Join(tmp, "decks", "greeter")
	allowed := filepath.Join(tmp, "allowed")
	trustedSchema := filepath.Join(tmp, "schema")
	untrusted := filepath.Join(tmp, "untrusted")
	require.NoError(t, os.MkdirAll(deckDir, 0o755))
	require.NoError(t, os.MkdirAll(allowed, 0o755))
	require.NoError(t, os.MkdirAll(trustedSchema, 0o755))
	require.NoError(t, os.MkdirAll(untrusted, 0o755))

	effective := perm.EffectivePermissions{
		BaseDir: tmp,
		Read:    perm.NewPathScope(allowed),
	}

	imports := []string{
		filepath.Join(allowed, "card.txt"),     // already inside effective read scope
		filepath.Join(trustedSchema, "base.json"), // inside a trusted dir
		filepath.Join(untrusted, "secret.txt"), // neither trusted nor already allowed
	}

	derived := DeriveCapabilities(effective, deckDir, imports, TrustedDirs{SchemaDir: trustedSchema})

	checker := perm.Checker{Perm: derived}
	ok, err := checker.CanReadPath(deckDir)
	require.NoError(t, err)
	assert.True(t, ok, "deck's own directory must always be readable")

	ok, err = checker.CanReadPath(filepath.Join(trustedSchema, "base.json"))
	require.NoError(t, err)
	assert.True(t, ok, "imports resolving into a trusted dir must be granted")

	ok, err = checker.CanReadPath(filepath.Join(untrusted, "secret.txt"))
	require.NoError(t, err)
	assert.False(t, ok, "imports outside both the effective scope and trusted dirs must be refused")
}

func TestDeriveCapabilities_NeverWidensAllReadScope(t *testing.T) {
	effective := perm.EffectivePermissions{Read: perm.AllPathScope()}
	derived := DeriveCapabilities(effective, "/decks/x", []string{"/anything"}, TrustedDirs{})
	assert.True(t, derived.Read.All)
}

package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScanImports_FindsQuotedSpecifiers(t *testing.T) {
	src := []byte(`
// this is a comment mentioning "./ignored" but it's commented out
system_prompt: "hello"
import "./helpers/shared.card"
import "../lib/format.card"
require("deckrun/schema/base")
`)
	imports := ScanImports(src)
	assert.Contains(t, imports, "./helpers/shared.card")
	assert.Contains(t, imports, "../lib/format.card")
	assert.Contains(t, imports, "deckrun/schema/base")
}

func TestScanImports_SkipsCommentLines(t *testing.T) {
	src := []byte(`# "./commented/out.card"` + "\n" + `"./real/path.card"`)
	imports := ScanImports(src)
	assert.NotContains(t, imports, "./commented/out.card")
	assert.Contains(t, imports, "./real/path.card")
}

func TestScanImportsFile_MissingFileYieldsEmpty(t *testing.T) {
	imports := ScanImportsFile("/nonexistent/deck/path.card")
	assert.Empty(t, imports)
}

package sandbox

import (
	"bufio"
	"os"
	"regexp"
	"strings"
)

// importLike matches quoted strings that look like import/require specifiers
// or relative/absolute file references: "./x", "../x", "/x", "pkg/x". This is
// a syntactic scan only — no code is ever executed or even parsed into an
// AST, it is a best-effort bound on what a deck module might touch before
// its capability set is derived.
var importLike = regexp.MustCompile(`["']((?:\.{1,2}/|/)[^"'\n]+|[A-Za-z0-9_@./-]+/[A-Za-z0-9_@./-]+)["']`)

// ScanImports performs the bootstrap import-graph scan described for the
// worker sandbox bridge: it reads src line by line looking for import-like
// quoted strings and comment markers, never executing or fully parsing the
// source. Duplicate matches are collapsed.
func ScanImports(src []byte) []string {
	seen := make(map[string]struct{})
	var out []string

	scanner := bufio.NewScanner(strings.NewReader(string(src)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "#") {
			continue
		}
		for _, m := range importLike.FindAllStringSubmatch(line, -1) {
			spec := m[1]
			if _, ok := seen[spec]; ok {
				continue
			}
			seen[spec] = struct{}{}
			out = append(out, spec)
		}
	}
	return out
}

// ScanImportsFile reads path and scans it. A missing or unreadable file
// yields an empty import list rather than an error — inspection is
// best-effort and must never fail the run outright.
func ScanImportsFile(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return ScanImports(data)
}

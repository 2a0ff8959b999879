// Package layout names the on-disk staged directory structure that is the
// contract between pipeline stages.
package layout

import (
	"os"
	"path/filepath"
)

// Stage directory names under the data root.
const (
	Fetch         = "01_fetch"
	Parse         = "02_parse"
	Normalize     = "03_normalize"
	Merge         = "04_merge"
	NormalizePost = "05_normalize_post"
	Map           = "06_map"
)

// Dir is <root>/<stage>.
func Dir(root, stage string) string { return filepath.Join(root, stage) }

// Out is <root>/<stage>/out.
func Out(root, stage string) string { return filepath.Join(root, stage, "out") }

// Raw is <root>/<stage>/raw.
func Raw(root, stage string) string { return filepath.Join(root, stage, "raw") }

// Manifest is <root>/<stage>/manifest.<stage>.jsonl.
func Manifest(root, stage string) string {
	return filepath.Join(root, stage, "manifest."+stage+".jsonl")
}

// EmptyDir reports whether dir is missing or has no entries.
func EmptyDir(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err != nil || len(entries) == 0
}

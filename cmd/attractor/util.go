package main

import "path/filepath"

// resolveSheetPath resolves a stylesheet path relative to the graph file
// that referenced it, unless it's already absolute.
func resolveSheetPath(sheetAttr, graphPath string) string {
	if filepath.IsAbs(sheetAttr) || graphPath == "" {
		return sheetAttr
	}
	return filepath.Join(filepath.Dir(graphPath), sheetAttr)
}

// Package utils provides small helpers shared by the CLI and internal packages.
package utils

import (
	"os"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/mitchellh/go-homedir"
)

// ExpandPath expands tilde and all environment variables from the given path.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~") {
		path, _ = homedir.Expand(path)
	}
	return os.ExpandEnv(path)
}

// Preview shortens text to at most width terminal cells for log output.
// Newlines are flattened so each log record stays on one line.
func Preview(text string, width int) string {
	text = strings.Join(strings.Fields(text), " ")
	return runewidth.Truncate(text, width, "...")
}

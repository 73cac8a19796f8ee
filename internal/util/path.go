package util

import (
	"path"
	"strings"
)

// BuildObjectKey places a local file name under the mirror prefix.
func BuildObjectKey(prefix, name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if p := BuildPrefix(prefix); p != "" {
		return path.Join(p, name)
	}
	return name
}

// BuildPrefix normalizes a mirror prefix; an empty or "/" prefix means the bucket root.
func BuildPrefix(prefix string) string {
	trimmed := strings.Trim(prefix, "/")
	if trimmed == "" {
		return ""
	}
	return path.Clean(trimmed)
}

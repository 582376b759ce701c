// Package dotpath resolves and replaces values inside generic structured data
// (nested map[string]any) addressed by dotted paths such as "counter.version".
package dotpath

import "strings"

// Split returns the path segments. An empty path has no segments.
func Split(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// Get returns the value at path inside root. The empty path addresses root
// itself. Only map[string]any containers are traversed.
func Get(root any, path string) (any, bool) {
	current := root
	for _, segment := range Split(path) {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		next, ok := m[segment]
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

// Set returns a copy of root with value stored at path. Maps along the path are
// shallow-copied so root is never mutated; missing or non-map intermediates are
// replaced by fresh maps. The empty path returns value.
func Set(root any, path string, value any) any {
	segments := Split(path)
	if len(segments) == 0 {
		return value
	}
	return set(root, segments, value)
}

func set(node any, segments []string, value any) map[string]any {
	src, _ := node.(map[string]any)
	out := make(map[string]any, len(src)+1)
	for k, v := range src {
		out[k] = v
	}
	head := segments[0]
	if len(segments) == 1 {
		out[head] = value
		return out
	}
	out[head] = set(src[head], segments[1:], value)
	return out
}

// Head returns the first segment of path.
func Head(path string) string {
	if idx := strings.IndexByte(path, '.'); idx >= 0 {
		return path[:idx]
	}
	return path
}

package textutil

import "strings"

const windowsSeparators = `\/`

// WindowsBase returns the final component of a Windows path. Both separators
// are honored and a drive prefix is dropped. When the path ends with a
// separator the last non-empty component is returned instead.
func WindowsBase(path string) string {
	if len(path) >= 2 && path[1] == ':' {
		path = path[2:]
	}

	i := strings.LastIndexAny(path, windowsSeparators)
	if tail := path[i+1:]; tail != "" {
		return tail
	}

	head := strings.TrimRight(path[:i+1], windowsSeparators)
	return head[strings.LastIndexAny(head, windowsSeparators)+1:]
}

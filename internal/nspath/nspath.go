// Package nspath converts between hierarchical namespaces and the flat keys
// used to store sub-states in the root state object.
//
// A namespace is a "/"-delimited string such as "items/x". Its storage path
// replaces every "/" with ".". Segments are assumed to contain no "."; a
// segment that does will collide with a deeper namespace.
package nspath

import "strings"

const (
	// Delimiter separates namespace segments.
	Delimiter = "/"

	// PathDelimiter separates storage path segments.
	PathDelimiter = "."
)

// ToPath converts a namespace into its storage path.
func ToPath(namespace string) string {
	return strings.ReplaceAll(namespace, Delimiter, PathDelimiter)
}

// SplitLast splits s at the last occurrence of delim. When delim is absent the
// prefix is empty and last is s.
func SplitLast(s, delim string) (prefix, last string) {
	i := strings.LastIndex(s, delim)
	if i < 0 {
		return "", s
	}
	return s[:i], s[i+len(delim):]
}

// Join is the inverse of SplitLast. Empty parts are dropped rather than
// producing a dangling delimiter.
func Join(prefix, last, delim string) string {
	switch {
	case prefix == "":
		return last
	case last == "":
		return prefix
	}
	return prefix + delim + last
}

// SplitAction splits an action type "a/b/c" into namespace "a/b" and action
// name "c".
func SplitAction(actionType string) (namespace, name string) {
	return SplitLast(actionType, Delimiter)
}

// ActionType builds the action type for a local action name in a namespace.
func ActionType(namespace, name string) string {
	return Join(namespace, name, Delimiter)
}

// Namespace joins a base namespace and an optional dynamic key.
func Namespace(base, key string) string {
	return Join(base, key, Delimiter)
}

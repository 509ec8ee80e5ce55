package casefs

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Separator delimits segments of a logical path and of storage keys.
const Separator = "/"

// forbiddenChars are rejected in names because object stores and signed URLs
// treat them specially.
const forbiddenChars = `\{}^%` + "`" + `[]"<>~#|`

// NormalizePath collapses repeated separators, strips leading and trailing
// separators and validates every segment. The root is "".
func NormalizePath(p string) (string, error) {
	segments := SplitPath(p)
	for _, seg := range segments {
		if err := ValidateName(seg); err != nil {
			return "", err
		}
	}
	return strings.Join(segments, Separator), nil
}

// SplitPath returns the non-empty segments of p.
func SplitPath(p string) []string {
	parts := strings.Split(p, Separator)
	segments := parts[:0]
	for _, part := range parts {
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}

// JoinPath appends name to the directory path dir.
func JoinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + Separator + name
}

// ValidateName reports whether name can be used as a single path segment:
// a folder name, a file name or an owner ID.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidPath)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidPath, name)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: name is not valid UTF-8", ErrInvalidPath)
	}
	for _, r := range name {
		if r == '/' || unicode.IsControl(r) || strings.ContainsRune(forbiddenChars, r) {
			return fmt.Errorf("%w: name %q contains %q", ErrInvalidPath, name, r)
		}
	}
	return nil
}

// StorageKey derives the blob key for name stored under path for ownerID:
// owner/path/name, or owner/name at the root. No segment may contain a
// separator, so distinct (path, name) pairs never share a key.
func StorageKey(ownerID, path, name string) (string, error) {
	if err := ValidateName(ownerID); err != nil {
		return "", fmt.Errorf("owner: %w", err)
	}
	normalized, err := NormalizePath(path)
	if err != nil {
		return "", err
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return JoinPath(ownerID, JoinPath(normalized, name)), nil
}

// OwnerPrefix is the key prefix under which all of ownerID's blobs live.
func OwnerPrefix(ownerID string) string {
	return ownerID + Separator
}

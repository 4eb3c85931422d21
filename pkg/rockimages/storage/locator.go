package storage

import (
	"path"
	"strings"
)

// sharedPrefix marks artifacts that many files may reference at once,
// such as the preview placeholders. They are never removed on behalf of a file.
const sharedPrefix = "shared/"

// Locator is an opaque reference to a stored artifact.
type Locator string

// Well-known shared artifacts.
const (
	PendingPreview Locator = sharedPrefix + "preview-pending.png"
	VideoPreview   Locator = sharedPrefix + "video-placeholder.png"
)

// PublicReference returns the URL path clients use to fetch the artifact.
func (l Locator) PublicReference() string {
	if l == "" {
		return ""
	}
	return "/media/" + string(l)
}

// IsShared reports whether the artifact is a shared placeholder.
func (l Locator) IsShared() bool {
	return strings.HasPrefix(string(l), sharedPrefix)
}

// Valid reports whether the locator is a clean relative path that cannot
// escape the storage root.
func (l Locator) Valid() bool {
	s := string(l)
	if s == "" || strings.HasPrefix(s, "/") || strings.Contains(s, "\\") {
		return false
	}
	if path.Clean(s) != s {
		return false
	}
	for _, part := range strings.Split(s, "/") {
		if part == ".." || part == "." || part == "" {
			return false
		}
	}
	return true
}

// FromPublicReference parses a value produced by PublicReference, or a bare
// locator, back into a Locator.
func FromPublicReference(ref string) Locator {
	ref = strings.TrimPrefix(ref, "/media/")
	return Locator(strings.TrimPrefix(ref, "/"))
}

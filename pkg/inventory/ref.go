package inventory

import "strings"

// parsedRef is a single name under which an image is known: either a
// digest-form reference ("registry/repo@sha256:...") or a tag-form
// reference ("registry/repo:tag").
type parsedRef struct {
	Path     string
	Digest   string
	Tag      string
	IsDigest bool
}

// parseImageName splits a container image reference into its path and
// either a digest or a tag. A bare reference with neither is reported as a
// tag-form reference with an empty tag (treated as untagged, filtered out
// upstream).
func parseImageName(name string) parsedRef {
	if i := strings.LastIndex(name, "@"); i >= 0 {
		return parsedRef{Path: name[:i], Digest: name[i+1:], IsDigest: true}
	}
	lastSlash := strings.LastIndex(name, "/")
	searchFrom := 0
	if lastSlash >= 0 {
		searchFrom = lastSlash
	}
	if i := strings.LastIndex(name[searchFrom:], ":"); i >= 0 {
		idx := searchFrom + i
		return parsedRef{Path: name[:idx], Tag: name[idx+1:]}
	}
	return parsedRef{Path: name}
}

// pathSelectorMatches reports whether a reference's path matches the
// configured selector: the path's last segment must equal the selector. An
// empty selector matches every path.
func pathSelectorMatches(path, selector string) bool {
	if selector == "" {
		return true
	}
	return lastPathSegment(path) == selector
}

// Package policy implements the advisory exclusion lists that hide
// directories, files and extensions from listings. It is content policy,
// not a security boundary: the sandbox runs first, always.
package policy

import (
	"path"
	"strings"
)

// Filter holds the three independent blocklists.
type Filter struct {
	dirPatterns  []string
	filePatterns []string
	extensions   []string
}

// New builds a Filter. Directory patterns match a path segment exactly or via
// a single '*' wildcard; file patterns match the leaf exactly, by substring,
// or as '*.ext'; extensions are matched case-insensitively and may be given
// with or without the leading dot.
func New(dirPatterns, filePatterns, extensions []string) *Filter {
	f := &Filter{
		dirPatterns:  dirPatterns,
		filePatterns: filePatterns,
	}
	for _, ext := range extensions {
		f.extensions = append(f.extensions, normalizeExt(ext))
	}
	return f
}

// IsExcluded reports whether relPath is hidden by the directory or file
// lists. Every segment is checked against the directory patterns, so a file
// under an excluded ancestor is excluded regardless of its own name; the
// leaf is additionally checked against the file patterns. rootLevel marks a
// bare name directly under the root, where there are no ancestor segments
// to recheck.
func (f *Filter) IsExcluded(relPath string, rootLevel bool) bool {
	relPath = strings.Trim(relPath, "/")
	if relPath == "" {
		return false
	}

	segments := strings.Split(relPath, "/")
	leaf := segments[len(segments)-1]

	if !rootLevel {
		for _, seg := range segments[:len(segments)-1] {
			if f.matchesDir(seg) {
				return true
			}
		}
	}
	return f.matchesDir(leaf) || f.matchesFile(leaf)
}

// HasAllowedExtension reports whether the path's extension is not on the
// extension blocklist. Paths without an extension are allowed.
func (f *Filter) HasAllowedExtension(p string) bool {
	return !f.IsDisallowedExtension(p)
}

// IsDisallowedExtension reports whether the path's extension is blocked.
func (f *Filter) IsDisallowedExtension(p string) bool {
	ext := normalizeExt(path.Ext(p))
	if ext == "" {
		return false
	}
	for _, blocked := range f.extensions {
		if ext == blocked {
			return true
		}
	}
	return false
}

func (f *Filter) matchesDir(segment string) bool {
	for _, pat := range f.dirPatterns {
		if matchWildcard(pat, segment) {
			return true
		}
	}
	return false
}

func (f *Filter) matchesFile(name string) bool {
	for _, pat := range f.filePatterns {
		if strings.HasPrefix(pat, "*.") {
			if strings.EqualFold(normalizeExt(path.Ext(name)), normalizeExt(pat[1:])) {
				return true
			}
			continue
		}
		if strings.Contains(pat, "*") {
			if matchWildcard(pat, name) {
				return true
			}
			continue
		}
		if name == pat || strings.Contains(name, pat) {
			return true
		}
	}
	return false
}

// matchWildcard matches a pattern containing at most one '*' against s.
func matchWildcard(pat, s string) bool {
	i := strings.IndexByte(pat, '*')
	if i < 0 {
		return pat == s
	}
	prefix, suffix := pat[:i], pat[i+1:]
	return len(s) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(s, prefix) && strings.HasSuffix(s, suffix)
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

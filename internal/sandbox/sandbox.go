// Package sandbox resolves untrusted path segments into filesystem paths
// that are guaranteed to stay inside a configured root.
package sandbox

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrForbidden signals an adversarial or malformed path. It deliberately
// carries no detail about the attempted path.
var ErrForbidden = errors.New("forbidden")

// Windows device names are rejected even on other platforms so that a tree
// synced across machines cannot smuggle them in.
var reservedNameRegex = regexp.MustCompile(`(?i)^(con|prn|aux|nul|com[1-9]|lpt[1-9])(\..*)?$`)

const forbiddenChars = "<>:\"|?*\\/"

// Resolver resolves request paths against a single canonical root.
type Resolver struct {
	root string
}

// New creates a Resolver for the given root directory. The root must exist;
// it is canonicalized once so later descendant checks compare like with like.
func New(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	return &Resolver{root: canonical}, nil
}

// Root returns the canonical root directory.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve sanitizes each segment, joins them onto the root and canonicalizes
// the result. The returned path is the root itself or a descendant of it;
// anything else returns ErrForbidden.
func (r *Resolver) Resolve(segments ...string) (string, error) {
	clean := make([]string, 0, len(segments))
	for _, seg := range segments {
		s, err := sanitizeSegment(seg)
		if err != nil {
			return "", err
		}
		clean = append(clean, s)
	}

	if len(clean) == 0 {
		return r.root, nil
	}

	joined := filepath.Join(append([]string{r.root}, clean...)...)
	canonical, err := canonicalize(joined)
	if err != nil {
		return "", ErrForbidden
	}

	if canonical != r.root && !strings.HasPrefix(canonical, r.root+string(filepath.Separator)) {
		return "", ErrForbidden
	}
	return canonical, nil
}

// ResolveRel splits a slash-separated relative path into segments and
// resolves them. An empty path resolves to the root.
func (r *Resolver) ResolveRel(rel string) (string, error) {
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return r.root, nil
	}
	return r.Resolve(strings.Split(rel, "/")...)
}

// Rel returns the slash-separated path of abs relative to the root.
func (r *Resolver) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(r.root, abs)
	if err != nil {
		return "", ErrForbidden
	}
	if rel == "." {
		return "", nil
	}
	if strings.HasPrefix(rel, "..") {
		return "", ErrForbidden
	}
	return filepath.ToSlash(rel), nil
}

// sanitizeSegment validates a single untrusted path segment. Segments are
// percent-decoded first so encoded traversal (%2e%2e) faces the same checks
// as the literal form; a segment that fails to decode rejects the request.
func sanitizeSegment(seg string) (string, error) {
	decoded, err := url.PathUnescape(seg)
	if err != nil {
		return "", ErrForbidden
	}

	trimmed := strings.TrimSpace(decoded)
	if trimmed == "" || strings.Trim(trimmed, ".") == "" {
		return "", ErrForbidden
	}
	if strings.Contains(trimmed, "..") {
		return "", ErrForbidden
	}
	if strings.ContainsAny(trimmed, forbiddenChars) {
		return "", ErrForbidden
	}
	for _, c := range trimmed {
		if c < 0x20 || c == 0x7f {
			return "", ErrForbidden
		}
	}
	if reservedNameRegex.MatchString(trimmed) {
		return "", ErrForbidden
	}
	return trimmed, nil
}

// canonicalize resolves symlinks for path. When the path does not exist yet,
// the deepest existing ancestor is resolved and the remainder re-joined, so
// a symlinked parent still cannot smuggle the result outside the root.
func canonicalize(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	dir := filepath.Dir(path)
	if dir == path {
		return "", err
	}
	parent, perr := canonicalize(dir)
	if perr != nil {
		return "", perr
	}
	return filepath.Join(parent, filepath.Base(path)), nil
}

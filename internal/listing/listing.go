// Package listing enumerates a sandboxed directory one level deep, attaches
// metadata, applies the exclusion policy and returns a sorted, paginated page
// of entries.
package listing

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/medleyfs/medley/internal/logging"
	"github.com/medleyfs/medley/internal/policy"
	"github.com/medleyfs/medley/internal/sandbox"
)

// Entry is one listed child of a directory, shaped for the wire.
type Entry struct {
	Name     string    `json:"name"`
	Type     string    `json:"type"` // "directory" or "file"
	Size     int64     `json:"size"`
	MIME     string    `json:"mime,omitempty"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
	Path     string    `json:"path"` // relative to the media root, no leading slash
	URL      string    `json:"url"`
	UUID     string    `json:"uuid,omitempty"`

	// Kind is the media classification used for type sorting and delivery:
	// audio, image, text, video or other. Directories have no kind.
	Kind string `json:"-"`
}

// IsDir reports whether the entry is a directory.
func (e *Entry) IsDir() bool { return e.Type == "directory" }

// Options control one listing request.
type Options struct {
	Sort SortSpec
	Page PageSpec

	// RootAccess is the caller-supplied authorization flag. When false,
	// root-level listings contain only file entries.
	RootAccess bool
}

// PageSpec selects a page of the sorted listing. A non-positive Limit means
// everything; Page below 1 is treated as 1.
type PageSpec struct {
	Limit int
	Page  int
}

// Engine lists directories under a sandboxed media root.
type Engine struct {
	resolver *sandbox.Resolver
	filter   *policy.Filter
	baseURL  string
	maxPage  int
	maxDepth int
}

// New creates a listing engine. maxPage bounds the page size a client can
// request; maxDepth bounds the deep directory-size recursion.
func New(resolver *sandbox.Resolver, filter *policy.Filter, baseURL string, maxPage, maxDepth int) *Engine {
	if maxPage <= 0 {
		maxPage = 500
	}
	if maxDepth <= 0 {
		maxDepth = 8
	}
	return &Engine{
		resolver: resolver,
		filter:   filter,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		maxPage:  maxPage,
		maxDepth: maxDepth,
	}
}

// List enumerates the sandboxed directory dir and returns one sorted page of
// entries plus a hint whether more pages follow. A stat failure on a single
// entry drops that entry; a failure to read dir itself is an error.
func (e *Engine) List(dir string, opts Options) ([]Entry, bool, error) {
	relDir, err := e.resolver.Rel(dir)
	if err != nil {
		return nil, false, err
	}

	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, false, fmt.Errorf("read dir: %w", err)
	}

	atRoot := relDir == ""
	entries := make([]Entry, 0, len(dirents))
	for _, de := range dirents {
		relPath := de.Name()
		if !atRoot {
			relPath = relDir + "/" + de.Name()
		}
		if e.filter.IsExcluded(relPath, atRoot) {
			continue
		}
		if !de.IsDir() && e.filter.IsDisallowedExtension(de.Name()) {
			continue
		}
		if atRoot && !opts.RootAccess && de.IsDir() {
			// Unauthenticated callers see only files at the root.
			continue
		}

		entry, ok := e.buildEntry(dir, relPath, de)
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}

	sortEntries(entries, opts.Sort)

	page, hasMore := paginate(entries, opts.Page, e.maxPage)
	return page, hasMore, nil
}

// buildEntry stats one directory entry and fills in metadata. Returns
// ok=false when the entry should be dropped (partial-failure tolerance).
func (e *Engine) buildEntry(dir, relPath string, de os.DirEntry) (Entry, bool) {
	full := filepath.Join(dir, de.Name())
	info, err := os.Stat(full)
	if err != nil {
		logging.Debug("dropping unstatable entry", zap.String("name", de.Name()), zap.Error(err))
		return Entry{}, false
	}

	created, modified := entryTimes(full, info)
	entry := Entry{
		Name:     de.Name(),
		Created:  created,
		Modified: modified,
		Path:     relPath,
	}

	if info.IsDir() {
		entry.Type = "directory"
		entry.Size = e.deepSize(full)
		entry.URL = e.publicURL("list", relPath)
		return entry, true
	}

	entry.Type = "file"
	entry.Size = info.Size()
	entry.MIME = MIMEByExtension(de.Name())
	entry.Kind = Classify(entry.MIME)
	entry.URL = e.publicURL("media", relPath)
	return entry, true
}

// deepSize sums file sizes under dir with an explicit worklist, bounded by
// the configured maximum depth. Unreadable subtrees contribute zero.
func (e *Engine) deepSize(dir string) int64 {
	type item struct {
		path  string
		depth int
	}
	stack := []item{{dir, 0}}
	var total int64

	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		dirents, err := os.ReadDir(it.path)
		if err != nil {
			continue
		}
		for _, de := range dirents {
			if de.IsDir() {
				if it.depth+1 <= e.maxDepth {
					stack = append(stack, item{filepath.Join(it.path, de.Name()), it.depth + 1})
				}
				continue
			}
			info, err := de.Info()
			if err != nil {
				continue
			}
			total += info.Size()
		}
	}
	return total
}

func (e *Engine) publicURL(endpoint, relPath string) string {
	escaped := make([]string, 0, 4)
	for _, seg := range strings.Split(relPath, "/") {
		escaped = append(escaped, url.PathEscape(seg))
	}
	return e.baseURL + "/api/v1/" + endpoint + "/" + strings.Join(escaped, "/")
}

// Classify maps a MIME type to a media kind. application/mp4 is treated as
// video; some muxers emit it for plain mp4 files.
func Classify(mimeType string) string {
	base := mimeType
	if i := strings.IndexByte(base, ';'); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	switch {
	case strings.HasPrefix(base, "audio/"):
		return "audio"
	case strings.HasPrefix(base, "image/"):
		return "image"
	case strings.HasPrefix(base, "text/"):
		return "text"
	case strings.HasPrefix(base, "video/"), base == "application/mp4":
		return "video"
	default:
		return "other"
	}
}

// paginate slices entries per the page spec, clamping limit to maxPage.
func paginate(entries []Entry, spec PageSpec, maxPage int) ([]Entry, bool) {
	if spec.Limit <= 0 {
		return entries, false
	}
	limit := spec.Limit
	if limit > maxPage {
		limit = maxPage
	}
	page := spec.Page
	if page < 1 {
		page = 1
	}

	start := (page - 1) * limit
	if start >= len(entries) {
		return []Entry{}, false
	}
	end := start + limit
	if end > len(entries) {
		end = len(entries)
	}
	return entries[start:end], end < len(entries)
}

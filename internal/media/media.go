// Package media serves a resolved file: scaling images on demand, streaming
// audio and video with HTTP range support, converting documents to HTML, or
// sending everything else verbatim.
package media

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/medleyfs/medley/internal/listing"
)

// ErrTransformRejected signals that requested transform parameters exceed
// the configured ceilings. It maps to a server error, never partial output.
var ErrTransformRejected = errors.New("transform rejected")

// DefaultScale is the passthrough scale percentage.
const DefaultScale = 100

// Pipeline delivers media files over HTTP.
type Pipeline struct {
	maxScale    int
	maxDim      int
	maxSrcBytes int64
	source      string // attribution embedded into transformed output
}

// New creates a delivery pipeline. source names this server in metadata
// embedded into transformed images.
func New(maxScale, maxDim int, maxSrcBytes int64, source string) *Pipeline {
	if maxScale <= 0 || maxScale > 1000 {
		maxScale = 1000
	}
	if maxDim <= 0 {
		maxDim = 16384
	}
	if maxSrcBytes <= 0 {
		maxSrcBytes = 64 * 1024 * 1024
	}
	if source == "" {
		source = "medley"
	}
	return &Pipeline{
		maxScale:    maxScale,
		maxDim:      maxDim,
		maxSrcBytes: maxSrcBytes,
		source:      source,
	}
}

// Deliver writes the file at path to w. The request supplies hints: an image
// scale percentage in ?x= and a Range header for audio/video. It returns the
// media kind and bytes written.
func (p *Pipeline) Deliver(w http.ResponseWriter, r *http.Request, path string) (string, int64, error) {
	mimeType := ResolveMIME(path)
	kind := listing.Classify(mimeType)

	switch {
	case kind == "image":
		scale, err := parseScale(r.URL.Query().Get("x"), p.maxScale)
		if err != nil {
			return kind, 0, err
		}
		if scale != DefaultScale {
			n, err := p.transformImage(w, path, mimeType, scale)
			return kind, n, err
		}
		n, err := p.stream(w, r, path, mimeType, false)
		return kind, n, err

	case kind == "audio" || kind == "video":
		n, err := p.stream(w, r, path, mimeType, true)
		return kind, n, err

	case isDocument(path):
		n, err := p.renderDocument(w, path)
		return "document", n, err

	default:
		n, err := p.stream(w, r, path, mimeType, false)
		return kind, n, err
	}
}

// ResolveMIME maps a file name to a MIME type, defaulting to octet-stream.
func ResolveMIME(path string) string {
	return listing.MIMEByExtension(path)
}

// parseScale validates the ?x= image scale hint. Absent means passthrough;
// out-of-range values are rejected rather than clamped.
func parseScale(v string, maxScale int) (int, error) {
	if v == "" {
		return DefaultScale, nil
	}
	scale, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%w: invalid scale", ErrTransformRejected)
	}
	if scale < 1 || scale > maxScale {
		return 0, fmt.Errorf("%w: scale %d out of range", ErrTransformRejected, scale)
	}
	return scale, nil
}

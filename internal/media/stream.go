package media

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strconv"
)

// Package-level compiled regex for Range header parsing.
var rangeRegex = regexp.MustCompile(`bytes=(\d*)-(\d*)`)

// stream copies the file at path to the client. When withRange is set the
// Range request header is honored with a 206 slice; otherwise the full file
// goes out with a 200. A dedicated handle is opened per request and closed
// when the copy ends, including on client disconnect.
func (p *Pipeline) stream(w http.ResponseWriter, r *http.Request, path, mimeType string, withRange bool) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat: %w", err)
	}
	total := info.Size()

	w.Header().Set("Content-Type", mimeType)

	if withRange {
		w.Header().Set("Accept-Ranges", "bytes")
		offset, length, hasRange := parseRangeHeader(r.Header.Get("Range"), total)
		if hasRange {
			if _, err := f.Seek(offset, io.SeekStart); err != nil {
				return 0, fmt.Errorf("seek: %w", err)
			}
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, total))
			w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
			w.WriteHeader(http.StatusPartialContent)
			return io.CopyN(w, f, length)
		}
	}

	w.Header().Set("Content-Length", strconv.FormatInt(total, 10))
	w.WriteHeader(http.StatusOK)
	return io.Copy(w, f)
}

// parseRangeHeader parses "Range: bytes=start-end". An open-ended end
// defaults to the last byte; a bare suffix ("bytes=-N") means the final N
// bytes. Malformed headers fall back to a full-body response.
func parseRangeHeader(rangeHeader string, totalSize int64) (offset, length int64, hasRange bool) {
	if rangeHeader == "" {
		return 0, totalSize, false
	}

	matches := rangeRegex.FindStringSubmatch(rangeHeader)
	if matches == nil {
		return 0, totalSize, false
	}

	startStr, endStr := matches[1], matches[2]

	if startStr == "" && endStr != "" {
		suffix, _ := strconv.ParseInt(endStr, 10, 64)
		offset = totalSize - suffix
		if offset < 0 {
			offset = 0
		}
		return offset, totalSize - offset, true
	}
	if startStr == "" {
		return 0, totalSize, false
	}

	offset, _ = strconv.ParseInt(startStr, 10, 64)
	if offset >= totalSize {
		offset = totalSize - 1
		if offset < 0 {
			offset = 0
		}
	}

	if endStr != "" {
		end, _ := strconv.ParseInt(endStr, 10, 64)
		length = end - offset + 1
	} else {
		length = totalSize - offset
	}
	if length < 0 {
		length = 0
	}
	if offset+length > totalSize {
		length = totalSize - offset
	}

	return offset, length, true
}

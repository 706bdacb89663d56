package media

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
)

// isDocument reports whether the file is a server-convertible document.
func isDocument(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".docx", ".md", ".markdown":
		return true
	}
	return false
}

// renderDocument converts the document at path to HTML and streams it.
// A conversion failure is an error for the request; there is no fallback to
// raw bytes.
func (p *Pipeline) renderDocument(w http.ResponseWriter, path string) (int64, error) {
	var out []byte
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".docx":
		out, err = docxToHTML(path)
	case ".md", ".markdown":
		out, err = markdownToHTML(path)
	default:
		err = fmt.Errorf("unsupported document %s", filepath.Ext(path))
	}
	if err != nil {
		return 0, fmt.Errorf("convert document: %w", err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	n, err := w.Write(out)
	return int64(n), err
}

func markdownToHTML(path string) ([]byte, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := goldmark.Convert(src, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// docxToHTML extracts word/document.xml from the docx archive and renders
// each paragraph as a <p> element. Formatting beyond paragraph breaks is
// dropped.
func docxToHTML(path string) ([]byte, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer archive.Close()

	var doc io.ReadCloser
	for _, f := range archive.File {
		if f.Name == "word/document.xml" {
			doc, err = f.Open()
			if err != nil {
				return nil, err
			}
			break
		}
	}
	if doc == nil {
		return nil, fmt.Errorf("no document body in %s", filepath.Base(path))
	}
	defer doc.Close()

	paragraphs, err := extractParagraphs(doc)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString("<!DOCTYPE html>\n<html><body>\n")
	for _, para := range paragraphs {
		buf.WriteString("<p>")
		buf.WriteString(html.EscapeString(para))
		buf.WriteString("</p>\n")
	}
	buf.WriteString("</body></html>\n")
	return buf.Bytes(), nil
}

// extractParagraphs walks WordprocessingML, collecting text runs per
// paragraph (w:p) from their w:t elements.
func extractParagraphs(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)
	var paragraphs []string
	var current strings.Builder
	inParagraph := false
	inText := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inParagraph = true
				current.Reset()
			case "t":
				inText = true
			case "br":
				if inParagraph {
					current.WriteString("\n")
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				if inParagraph {
					paragraphs = append(paragraphs, current.String())
				}
				inParagraph = false
			case "t":
				inText = false
			}
		case xml.CharData:
			if inParagraph && inText {
				current.Write(t)
			}
		}
	}
	return paragraphs, nil
}

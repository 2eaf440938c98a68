// Package extract turns uploaded files into indexable text.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// ErrUnsupported is returned for files that are neither PDF nor text.
var ErrUnsupported = errors.New("unsupported file type")

// Kind classifies an upload.
type Kind int

const (
	KindUnknown Kind = iota
	KindText
	KindPDF
)

// Detect classifies an upload by its declared content type, falling back to the
// file extension when the content type is missing or generic.
func Detect(filename, contentType string) Kind {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	switch {
	case ct == "application/pdf":
		return KindPDF
	case strings.HasPrefix(ct, "text/"), ct == "application/json", ct == "application/xml",
		ct == "application/javascript", ct == "application/x-sh":
		return KindText
	case ct != "" && ct != "application/octet-stream":
		return KindUnknown
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == ".pdf" {
		return KindPDF
	}
	if textExtensions[ext] {
		return KindText
	}
	return KindUnknown
}

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".rst": true,
	".go": true, ".py": true, ".js": true, ".ts": true, ".tsx": true, ".jsx": true,
	".java": true, ".kt": true, ".c": true, ".h": true, ".cc": true, ".cpp": true, ".hpp": true,
	".rs": true, ".rb": true, ".php": true, ".cs": true, ".swift": true, ".scala": true,
	".sh": true, ".sql": true, ".proto": true,
	".json": true, ".yaml": true, ".yml": true, ".toml": true, ".xml": true, ".html": true, ".css": true,
}

// Text extracts the text of an upload. Text uploads must be valid UTF-8 without NUL bytes.
func Text(filename, contentType string, content []byte) (string, error) {
	switch Detect(filename, contentType) {
	case KindPDF:
		text, err := PDF(content)
		if err != nil {
			return "", fmt.Errorf("extract pdf %s: %w", filename, err)
		}
		return text, nil
	case KindText:
		if !utf8.Valid(content) || bytes.IndexByte(content, 0) >= 0 {
			return "", fmt.Errorf("%w: %s is not valid UTF-8 text", ErrUnsupported, filename)
		}
		return string(content), nil
	default:
		return "", fmt.Errorf("%w: %s (%s)", ErrUnsupported, filename, contentType)
	}
}

// PDF returns the plain text of every page, one page per paragraph.
func PDF(content []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() || page.V.Key("Contents").Kind() == pdf.Null {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// skip pages that fail to extract
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String(), nil
}

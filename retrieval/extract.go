// Package retrieval ingests documents into embedded chunks and answers
// nearest-neighbour queries over them.
//
// Information Hiding:
// - File format handling (plain text, PDF) hidden behind Extract
// - Chunking strategy hidden behind Splitter
// - Embedding backends and caching hidden behind Embedder
// - Ranking strategy (scan or chromem) hidden behind Index
package retrieval

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Supported content types.
const (
	ContentTypeText = "text/plain"
	ContentTypePDF  = "application/pdf"
)

var (
	// ErrUnsupportedType is returned for content that is neither plain text nor PDF.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrUnreadable is returned when a supported document cannot be parsed.
	ErrUnreadable = errors.New("unreadable document")
)

// NormalizeContentType strips parameters and lower-cases a media type.
func NormalizeContentType(contentType string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		return mt
	}
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// DetectContentType guesses a media type from the file extension. Names
// without one are sniffed from the leading bytes. Extensions other than
// .txt and .pdf keep their own media type, so they stay unsupported.
func DetectContentType(name string, data []byte) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".pdf":
		return ContentTypePDF
	case ".txt":
		return ContentTypeText
	case "":
		return NormalizeContentType(http.DetectContentType(data))
	}
	if byExt := mime.TypeByExtension(ext); byExt != "" {
		return NormalizeContentType(byExt)
	}
	return "application/octet-stream"
}

// Supported reports whether Extract can read the given media type.
func Supported(contentType string) bool {
	switch NormalizeContentType(contentType) {
	case ContentTypeText, ContentTypePDF:
		return true
	}
	return false
}

// Extract returns the text of data interpreted as contentType.
func Extract(ctx context.Context, contentType string, data []byte) (string, error) {
	switch NormalizeContentType(contentType) {
	case ContentTypePDF:
		return extractPDF(ctx, data)
	case ContentTypeText:
		return string(data), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
}

func extractPDF(ctx context.Context, data []byte) (text string, err error) {
	// the pdf reader panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: failed to parse PDF: %v", ErrUnreadable, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: failed to parse PDF: %w", ErrUnreadable, err)
	}

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("%w: failed to read page %d: %w", ErrUnreadable, i, err)
		}
		if strings.TrimSpace(content) != "" {
			pages = append(pages, content)
		}
	}
	return strings.Join(pages, "\n"), nil
}

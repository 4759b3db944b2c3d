// Package extract turns uploaded bytes into page-tagged plain text.
package extract

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrInvalidInput is returned for sources that cannot be read as the
// declared kind: unparseable files, unsupported formats, bad references.
var ErrInvalidInput = errors.New("invalid input")

// Page is the text of one page. Number is 1-based; formats without pages
// produce a single page numbered 0.
type Page struct {
	Number int
	Text   string
}

// Format is a document format recognized by Document.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatHTML Format = "html"
	FormatText Format = "text"
)

// DetectFormat picks a format from the file name, falling back to the
// declared content type.
func DetectFormat(name, contentType string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return FormatPDF, nil
	case ".html", ".htm":
		return FormatHTML, nil
	case ".txt", ".md", ".markdown", ".text":
		return FormatText, nil
	}

	mt, _, _ := mime.ParseMediaType(contentType)
	switch mt {
	case "application/pdf":
		return FormatPDF, nil
	case "text/html", "application/xhtml+xml":
		return FormatHTML, nil
	case "text/plain", "text/markdown":
		return FormatText, nil
	}
	return "", fmt.Errorf("%w: unsupported document type %q", ErrInvalidInput, name)
}

// Document extracts the pages of an uploaded document.
func Document(name, contentType string, b []byte) ([]Page, error) {
	format, err := DetectFormat(name, contentType)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatPDF:
		return PDF(b)
	case FormatHTML:
		text, err := HTML(b)
		if err != nil {
			return nil, err
		}
		return []Page{{Text: text}}, nil
	default:
		if !utf8.Valid(b) {
			return nil, fmt.Errorf("%w: %s is not valid UTF-8 text", ErrInvalidInput, name)
		}
		return []Page{{Text: string(b)}}, nil
	}
}

// Package export renders the session grid as a printable schedule in HTML,
// PDF and DOCX form.
package export

import (
	"errors"
	"strings"

	"barcamp/api/internal/model"
)

type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

func ParseFormat(value string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(value))); f {
	case "":
		return FormatHTML, nil
	case FormatHTML, FormatPDF, FormatDOCX:
		return f, nil
	default:
		return "", model.Validation(model.CodeUnsupportedFormat, "unsupported export format %q", value)
	}
}

type Request struct {
	Format Format
	Title  string
	// IncludeParkingLot appends the topics not yet scheduled.
	IncludeParkingLot bool
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)

package extract

import (
	"errors"
	"io"
	"path/filepath"
	"strings"

	"sibyl/internal/domain"
	"sibyl/internal/text"
)

// MaxTextChars caps extracted text so one oversized file cannot flood the
// embedding pipeline.
const MaxTextChars = 80_000

const dedupeMinLineLen = 20

// Extractor turns one uploaded file into plain text ready for chunking.
type Extractor interface {
	Extract(r io.Reader) (string, error)
}

var extensions = map[string]Extractor{
	".txt":  plainExtractor{},
	".md":   plainExtractor{},
	".csv":  csvExtractor{},
	".pdf":  pdfExtractor{},
	".docx": docxExtractor{},
}

// Supported lists the accepted upload extensions.
func Supported() []string {
	out := make([]string, 0, len(extensions))
	for ext := range extensions {
		out = append(out, ext)
	}
	return out
}

// ForFile picks the extractor for a filename by extension.
func ForFile(filename string) (Extractor, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	ex, ok := extensions[ext]
	if !ok {
		return nil, domain.Validationf("file", "unsupported file type %q", ext)
	}
	return ex, nil
}

// ExtractFile runs the extractor for filename over r. Parse failures and
// empty results come back as ExtractionError so batch callers can skip the
// item and continue.
func ExtractFile(filename string, r io.Reader) (string, error) {
	ex, err := ForFile(filename)
	if err != nil {
		return "", err
	}

	raw, err := ex.Extract(r)
	if err != nil {
		return "", &domain.ExtractionError{Source: filename, Err: err}
	}

	cleaned := text.DropRepeatedLines(text.CollapseWhitespace(raw), dedupeMinLineLen)
	cleaned = capChars(cleaned, MaxTextChars)
	if cleaned == "" {
		return "", &domain.ExtractionError{Source: filename, Err: errors.New("no extractable text")}
	}
	return cleaned, nil
}

// capChars truncates s to at most limit bytes without tearing a rune.
func capChars(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return strings.ToValidUTF8(s[:limit], "")
}

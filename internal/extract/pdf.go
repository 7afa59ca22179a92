package extract

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"
)

type pdfExtractor struct{}

func (pdfExtractor) Extract(r io.Reader) (_ string, err error) {
	// The pdf package panics on some malformed xref tables; turn that into
	// an error so one broken upload cannot take the process down.
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pdf parse: %v", rec)
		}
	}()

	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}

	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("pdf parse: %w", err)
	}

	plain, err := doc.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("pdf text: %w", err)
	}

	out, err := io.ReadAll(io.LimitReader(plain, MaxTextChars+1))
	if err != nil {
		return "", err
	}
	return capChars(string(out), MaxTextChars), nil
}

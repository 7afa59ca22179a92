package extract

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"
)

type plainExtractor struct{}

func (plainExtractor) Extract(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxTextChars+1))
	if err != nil {
		return "", err
	}
	return capChars(string(data), MaxTextChars), nil
}

// csvExtractor renders the leading rows as comma-joined lines. Spreadsheets
// routinely run to millions of rows; the first ones carry the header and
// enough sample data for grounding.
type csvExtractor struct{}

const csvMaxRows = 50

func (csvExtractor) Extract(r io.Reader) (string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var b strings.Builder
	for i := 0; i < csvMaxRows; i++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		b.WriteString(strings.Join(row, ", "))
		b.WriteByte('\n')
		if b.Len() > MaxTextChars {
			break
		}
	}
	return capChars(b.String(), MaxTextChars), nil
}

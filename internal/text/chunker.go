package text

import (
	"errors"
	"regexp"
	"strings"
)

// Piece is one window of the cleaned input. Start/End are rune offsets into
// the cleaned text, so identical input always yields identical pieces.
type Piece struct {
	Index int
	Text  string
	Start int
	End   int
}

type Chunker struct {
	maxSize int
	overlap int
}

func NewChunker(maxSize, overlap int) (*Chunker, error) {
	if maxSize <= 0 {
		return nil, errors.New("chunker: max size must be positive")
	}
	if overlap < 0 {
		return nil, errors.New("chunker: overlap must not be negative")
	}
	if overlap >= maxSize {
		return nil, errors.New("chunker: overlap must be smaller than max size")
	}
	return &Chunker{maxSize: maxSize, overlap: overlap}, nil
}

var (
	blankRunsRe = regexp.MustCompile(`\n{3,}`)
	spaceRunsRe = regexp.MustCompile(`[ \f\v]{2,}`)
)

// CollapseWhitespace normalizes text before chunking: CRLF to LF, tabs to
// spaces, runs of blank lines squeezed to one blank line, space runs
// collapsed, trailing space per line removed, outer whitespace trimmed.
func CollapseWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\t", " ")

	text = blankRunsRe.ReplaceAllString(text, "\n\n")
	text = spaceRunsRe.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// DropRepeatedLines removes duplicate lines while keeping order. Only lines
// of at least minLen characters are deduplicated so short tokens survive.
func DropRepeatedLines(text string, minLen int) string {
	seen := make(map[string]struct{})
	var out []string
	for _, line := range strings.Split(text, "\n") {
		key := strings.TrimSpace(line)
		if len(key) >= minLen {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func isBoundary(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '\n'
}

// Split windows the cleaned text into pieces of at most maxSize runes.
// A window prefers to end just after the last sentence boundary past its
// midpoint; adjacent windows share exactly overlap runes.
func (c *Chunker) Split(text string) []Piece {
	cleaned := CollapseWhitespace(text)
	if cleaned == "" {
		return nil
	}

	runes := []rune(cleaned)
	total := len(runes)

	var pieces []Piece
	start := 0

	for start < total {
		end := start + c.maxSize
		if end >= total {
			end = total
		} else {
			// Walk back from the hard cut looking for a sentence end,
			// but never before the window midpoint.
			mid := start + c.maxSize/2
			for i := end - 1; i > mid; i-- {
				if isBoundary(runes[i]) {
					end = i + 1
					break
				}
			}
		}

		body := strings.TrimSpace(string(runes[start:end]))
		if body != "" {
			pieces = append(pieces, Piece{
				Index: len(pieces),
				Text:  body,
				Start: start,
				End:   end,
			})
		}

		if end >= total {
			break
		}
		next := end - c.overlap
		if next <= start {
			// Overlap larger than the window actually advanced; step past
			// the window instead of looping on the same offset.
			next = end
		}
		start = next
	}

	return pieces
}

package local

import (
	"context"
	"strings"
)

// Generator answers by quoting from the prompt's context block instead of
// calling a model. It keeps the full ask pipeline runnable offline; answers
// are extractive, not generated.
type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

func (g *Generator) Generate(ctx context.Context, prompt string, temperature float32) (string, error) {
	contextBlock := section(prompt, "Context:", "Question:")
	if contextBlock == "" {
		return "I could not find relevant context for this question.", nil
	}
	return "Based on the indexed documents: " + firstSentences(contextBlock, 2), nil
}

// section returns the text between the first occurrence of start and the
// next occurrence of end, trimmed.
func section(s, start, end string) string {
	i := strings.Index(s, start)
	if i == -1 {
		return ""
	}
	s = s[i+len(start):]
	if j := strings.Index(s, end); j != -1 {
		s = s[:j]
	}
	return strings.TrimSpace(s)
}

func firstSentences(s string, n int) string {
	count := 0
	for i, r := range s {
		if r == '.' || r == '!' || r == '?' {
			count++
			if count == n {
				return strings.TrimSpace(s[:i+1])
			}
		}
	}
	return strings.TrimSpace(s)
}

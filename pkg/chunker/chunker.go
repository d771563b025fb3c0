// Package chunker splits document text into corpus chunks.
//
// The splitters here are intentionally minimal: sentence boundaries are
// detected by terminal punctuation followed by whitespace, paragraphs by
// blank lines, and pages by form feeds. Anything smarter belongs to the
// caller.
package chunker

import (
	"fmt"
	"strings"
	"unicode"
)

// Granularity selects how document text is split before embedding.
type Granularity string

const (
	// Sentence splits on terminal punctuation (. ! ?) followed by whitespace.
	Sentence Granularity = "sentence"

	// Paragraph splits on blank lines.
	Paragraph Granularity = "paragraph"

	// Page splits on form-feed characters.
	Page Granularity = "page"

	// Manual performs no splitting: the whole text is one chunk.
	Manual Granularity = "manual"
)

// IsValid reports whether g is a recognised granularity.
func (g Granularity) IsValid() bool {
	switch g {
	case Sentence, Paragraph, Page, Manual:
		return true
	}
	return false
}

// Split divides text according to g. Pieces are trimmed of surrounding
// whitespace and empty pieces are discarded, so an all-whitespace input
// yields no chunks. An unrecognised granularity returns an error.
func Split(text string, g Granularity) ([]string, error) {
	switch g {
	case Sentence:
		return collect(splitSentences(text)), nil
	case Paragraph:
		return collect(splitParagraphs(text)), nil
	case Page:
		return collect(strings.Split(text, "\f")), nil
	case Manual:
		return collect([]string{text}), nil
	}
	return nil, fmt.Errorf("chunker: unknown granularity %q", g)
}

// collect trims every piece and drops the empty ones.
func collect(pieces []string) []string {
	out := make([]string, 0, len(pieces))
	for _, p := range pieces {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences cuts after '.', '!' or '?' when the next rune is
// whitespace. Trailing closing quotes stay attached to their sentence.
func splitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
			// Absorb any run of terminal punctuation and closing quotes.
			j := i + 1
			for j < len(runes) && (runes[j] == '.' || runes[j] == '!' || runes[j] == '?' || runes[j] == '"' || runes[j] == '\'' || runes[j] == ')') {
				j++
			}
			if j >= len(runes) || unicode.IsSpace(runes[j]) {
				out = append(out, string(runes[start:j]))
				start = j
				i = j - 1
			}
		}
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

// splitParagraphs cuts on one or more blank lines. Line endings are
// normalised so CRLF documents split the same way as LF documents.
func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var (
		out []string
		cur []string
	)
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			if len(cur) > 0 {
				out = append(out, strings.Join(cur, "\n"))
				cur = nil
			}
			continue
		}
		cur = append(cur, line)
	}
	if len(cur) > 0 {
		out = append(out, strings.Join(cur, "\n"))
	}
	return out
}

package retrieval

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"mimi/features/document"
)

const snippetLen = 240

// snippetFor prefers the chunk's stored preview when no query term occurs in
// its text; otherwise it extracts a window around the first match.
func snippetFor(chunk *document.Chunk, query string) string {
	if _, ok := firstTermMatch(chunk.Text, query); !ok && chunk.Preview != "" {
		return chunk.Preview
	}
	return Snippet(chunk.Text, query)
}

// Snippet extracts a window of chunk text around the first query term match.
// Without a match it falls back to the head of the chunk. Boundaries are
// widened to whitespace so words are not cut in half.
func Snippet(text, query string) string {
	if len(text) <= snippetLen {
		return text
	}

	pos, _ := firstTermMatch(text, query)
	start := pos - snippetLen/2
	if start < 0 {
		start = 0
	}
	end := start + snippetLen
	if end > len(text) {
		end = len(text)
		start = end - snippetLen
	}

	start = widenLeft(text, start)
	end = widenRight(text, end)

	snippet := strings.TrimSpace(text[start:end])
	if start > 0 {
		snippet = "…" + snippet
	}
	if end < len(text) {
		snippet += "…"
	}
	return snippet
}

// firstTermMatch returns the byte offset of the earliest case-insensitive
// occurrence of any query term of 3+ runes, and whether one was found.
func firstTermMatch(text, query string) (int, bool) {
	lower := strings.ToLower(text)
	best := -1
	for _, term := range strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if utf8.RuneCountInString(term) < 3 {
			continue
		}
		if idx := strings.Index(lower, term); idx >= 0 && (best == -1 || idx < best) {
			best = idx
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}

func widenLeft(text string, pos int) int {
	for pos > 0 && !unicode.IsSpace(rune(text[pos])) {
		pos--
	}
	return pos
}

func widenRight(text string, pos int) int {
	for pos < len(text) && !unicode.IsSpace(rune(text[pos])) {
		pos++
	}
	return pos
}

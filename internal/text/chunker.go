package text

import (
	"fmt"
	"regexp"
)

// Draft is a chunk candidate produced by the Chunker. Text is always the exact
// slice normalized[Start:End], so concatenating consecutive drafts' non-overlap
// regions reconstructs the normalized document byte for byte.
type Draft struct {
	Ordinal int
	Text    string
	Start   int
	End     int
	Section string
}

type Chunker struct {
	maxChars int
	minChars int
	overlap  int
}

var (
	headingRe   = regexp.MustCompile(`(?m)^#{1,6}[ \t]+(.+)$`)
	paragraphRe = regexp.MustCompile(`\n[ \t]*\n`)
	sentenceRe  = regexp.MustCompile(`[.!?][ \n]`)
	newlineRe   = regexp.MustCompile(`\n`)
	spaceRe     = regexp.MustCompile(`[ ]`)
)

// NewChunker builds a chunker with the given size bounds. overlapChars must be
// strictly smaller than maxChars; violating configurations are rejected here,
// once, rather than on every Chunk call.
func NewChunker(maxChars, minChars, overlapChars int) (*Chunker, error) {
	if maxChars <= 0 {
		return nil, fmt.Errorf("chunker: max chars must be positive, got %d", maxChars)
	}
	if overlapChars < 0 {
		return nil, fmt.Errorf("chunker: overlap must not be negative, got %d", overlapChars)
	}
	if overlapChars >= maxChars {
		return nil, fmt.Errorf("chunker: overlap (%d) must be smaller than max chunk size (%d)", overlapChars, maxChars)
	}
	if minChars <= 0 || minChars > maxChars {
		minChars = maxChars / 2
	}
	return &Chunker{maxChars: maxChars, minChars: minChars, overlap: overlapChars}, nil
}

// Chunk splits normalized text into ordered, overlapping drafts. Splits land on
// paragraph or sentence boundaries where possible and fall back to hard
// character splits for oversized paragraphs. Adjacent drafts overlap by the
// configured window: the next draft re-includes the tail of the previous one.
// Identical input always yields identical offsets and ordinals.
func (c *Chunker) Chunk(normalized string) []Draft {
	if normalized == "" {
		return nil
	}

	headings := c.headingIndex(normalized)

	if len(normalized) <= c.maxChars {
		return []Draft{{
			Ordinal: 0,
			Text:    normalized,
			Start:   0,
			End:     len(normalized),
			Section: sectionFor(headings, 0),
		}}
	}

	var drafts []Draft
	start := 0
	for start < len(normalized) {
		end := start + c.maxChars
		if end >= len(normalized) {
			end = len(normalized)
		} else {
			end = c.findBreak(normalized, start, end)
		}

		drafts = append(drafts, Draft{
			Ordinal: len(drafts),
			Text:    normalized[start:end],
			Start:   start,
			End:     end,
			Section: sectionFor(headings, start),
		})

		if end == len(normalized) {
			break
		}
		start = end - c.overlap
	}
	return drafts
}

// findBreak picks the split position for a chunk starting at start with a hard
// ceiling of limit. Preference order near the ceiling: paragraph break,
// sentence end, line break, word boundary, hard split. The returned position
// always exceeds start+overlap so the next chunk makes forward progress.
func (c *Chunker) findBreak(text string, start, limit int) int {
	floor := start + c.minChars
	if min := start + c.overlap + 1; floor < min {
		floor = min
	}
	if window := limit - 200; floor < window {
		floor = window
	}
	if floor >= limit {
		return limit
	}
	w := text[floor:limit]

	if loc := paragraphRe.FindStringIndex(w); loc != nil {
		return floor + loc[0]
	}
	if locs := sentenceRe.FindAllStringIndex(w, -1); len(locs) > 0 {
		return floor + locs[len(locs)-1][1]
	}
	if locs := newlineRe.FindAllStringIndex(w, -1); len(locs) > 0 {
		return floor + locs[len(locs)-1][0]
	}
	if locs := spaceRe.FindAllStringIndex(w, -1); len(locs) > 0 {
		return floor + locs[len(locs)-1][0]
	}
	return limit
}

type headingMark struct {
	offset int
	title  string
}

func (c *Chunker) headingIndex(text string) []headingMark {
	matches := headingRe.FindAllStringSubmatchIndex(text, -1)
	marks := make([]headingMark, 0, len(matches))
	for _, m := range matches {
		marks = append(marks, headingMark{offset: m[0], title: text[m[2]:m[3]]})
	}
	return marks
}

// sectionFor returns the title of the closest heading at or before offset.
func sectionFor(marks []headingMark, offset int) string {
	title := ""
	for _, m := range marks {
		if m.offset > offset {
			break
		}
		title = m.title
	}
	return title
}

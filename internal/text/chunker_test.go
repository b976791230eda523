package text_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mimi/internal/text"
)

func mustChunker(t *testing.T, maxChars, minChars, overlap int) *text.Chunker {
	t.Helper()
	c, err := text.NewChunker(maxChars, minChars, overlap)
	require.NoError(t, err)
	return c
}

// reassemble concatenates each draft's non-overlap region. It must rebuild the
// source exactly for any input.
func reassemble(drafts []text.Draft) string {
	var b strings.Builder
	prevEnd := 0
	for _, d := range drafts {
		cut := prevEnd - d.Start
		if cut < 0 {
			cut = 0
		}
		b.WriteString(d.Text[cut:])
		prevEnd = d.End
	}
	return b.String()
}

func TestNewChunker(t *testing.T) {
	t.Run("RejectsOverlapEqualToMax", func(t *testing.T) {
		_, err := text.NewChunker(100, 50, 100)
		assert.Error(t, err)
	})

	t.Run("RejectsOverlapLargerThanMax", func(t *testing.T) {
		_, err := text.NewChunker(100, 50, 150)
		assert.Error(t, err)
	})

	t.Run("RejectsNegativeOverlap", func(t *testing.T) {
		_, err := text.NewChunker(100, 50, -1)
		assert.Error(t, err)
	})
}

func TestChunkShortDocument(t *testing.T) {
	c := mustChunker(t, 100, 50, 20)

	doc := strings.Repeat("a", 40)
	drafts := c.Chunk(doc)

	require.Len(t, drafts, 1)
	assert.Equal(t, 0, drafts[0].Ordinal)
	assert.Equal(t, 0, drafts[0].Start)
	assert.Equal(t, 40, drafts[0].End)
	assert.Equal(t, doc, drafts[0].Text)
}

func TestChunkEmpty(t *testing.T) {
	c := mustChunker(t, 100, 50, 20)
	assert.Empty(t, c.Chunk(""))
}

func TestChunkOffsetsMatchText(t *testing.T) {
	c := mustChunker(t, 120, 40, 30)

	doc := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 30)
	doc = strings.TrimSpace(doc)
	drafts := c.Chunk(doc)

	require.Greater(t, len(drafts), 1)
	for i, d := range drafts {
		assert.Equal(t, i, d.Ordinal)
		assert.Equal(t, doc[d.Start:d.End], d.Text)
		assert.LessOrEqual(t, d.End-d.Start, 120)
		if i > 0 {
			prev := drafts[i-1]
			assert.Equal(t, prev.End-30, d.Start, "next chunk re-includes previous tail")
			assert.Greater(t, d.Start, prev.Start, "offsets are monotonic")
		}
	}
	assert.Equal(t, len(doc), drafts[len(drafts)-1].End)
}

func TestChunkReconstruction(t *testing.T) {
	cases := map[string]string{
		"prose":            strings.TrimSpace(strings.Repeat("Sentence one here. Sentence two follows! Third one? ", 40)),
		"paragraphs":       strings.TrimSpace(strings.Repeat("A paragraph of reasonable length sitting on its own.\n\n", 25)),
		"unbreakable":      strings.Repeat("x", 1000),
		"markdown":         "# Intro\n\n" + strings.Repeat("Body line under intro heading. ", 30) + "\n\n## Details\n\n" + strings.Repeat("Detail sentence with content. ", 30),
		"short_paragraphs": strings.TrimSpace(strings.Repeat("word\n\n", 100)),
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			c := mustChunker(t, 150, 40, 25)
			drafts := c.Chunk(doc)
			assert.Equal(t, doc, reassemble(drafts))
		})
	}
}

func TestChunkDeterministic(t *testing.T) {
	c := mustChunker(t, 130, 40, 20)
	doc := strings.TrimSpace(strings.Repeat("Deterministic chunking matters for stable identifiers. ", 20))

	first := c.Chunk(doc)
	second := c.Chunk(doc)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i], second[i])
	}
}

func TestChunkPrefersParagraphBreaks(t *testing.T) {
	c := mustChunker(t, 100, 20, 10)

	para := strings.Repeat("word ", 15) // 75 chars
	doc := strings.TrimSpace(para) + "\n\n" + strings.TrimSpace(para) + "\n\n" + strings.TrimSpace(para)
	drafts := c.Chunk(doc)

	require.Greater(t, len(drafts), 1)
	// First split should land on the paragraph boundary, not mid-paragraph.
	assert.Equal(t, 74, drafts[0].End)
}

func TestChunkSectionTitles(t *testing.T) {
	c := mustChunker(t, 100, 20, 10)

	doc := "# First\n\n" + strings.Repeat("alpha text here. ", 10) + "\n\n## Second\n\n" + strings.Repeat("beta text here. ", 10)
	doc = strings.TrimSpace(doc)
	drafts := c.Chunk(doc)

	require.Greater(t, len(drafts), 2)
	assert.Equal(t, "First", drafts[0].Section)
	assert.Equal(t, "Second", drafts[len(drafts)-1].Section)
}

func TestChunkHardSplitOversizedParagraph(t *testing.T) {
	c := mustChunker(t, 100, 40, 10)

	doc := strings.Repeat("z", 350)
	drafts := c.Chunk(doc)

	require.Greater(t, len(drafts), 1)
	for _, d := range drafts {
		assert.LessOrEqual(t, len(d.Text), 100)
	}
	assert.Equal(t, doc, reassemble(drafts))
}

package text_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mimi/internal/text"
)

func TestNormalize(t *testing.T) {
	t.Run("LineEndings", func(t *testing.T) {
		got, err := text.Normalize([]byte("one\r\ntwo\rthree\n"), "")
		require.NoError(t, err)
		assert.Equal(t, "one\ntwo\nthree", got)
	})

	t.Run("CollapsesSpaceRuns", func(t *testing.T) {
		got, err := text.Normalize([]byte("a  b\t\tc"), "")
		require.NoError(t, err)
		assert.Equal(t, "a b c", got)
	})

	t.Run("CollapsesBlankLines", func(t *testing.T) {
		got, err := text.Normalize([]byte("para one\n\n\n\n\npara two"), "")
		require.NoError(t, err)
		assert.Equal(t, "para one\n\npara two", got)
	})

	t.Run("StripsControlCharacters", func(t *testing.T) {
		got, err := text.Normalize([]byte("a\x00b\x07c"), "")
		require.NoError(t, err)
		assert.Equal(t, "abc", got)
	})

	t.Run("DecodesMarkdownEscapes", func(t *testing.T) {
		got, err := text.Normalize([]byte(`not \*bold\* and \_plain\_ and \[link\]`), "")
		require.NoError(t, err)
		assert.Equal(t, "not *bold* and _plain_ and [link]", got)
	})

	t.Run("PreservesHeadingMarkers", func(t *testing.T) {
		got, err := text.Normalize([]byte("# Title\n\nBody text."), "en")
		require.NoError(t, err)
		assert.Equal(t, "# Title\n\nBody text.", got)
	})

	t.Run("StripsBOM", func(t *testing.T) {
		got, err := text.Normalize([]byte("\uFEFFhello"), "")
		require.NoError(t, err)
		assert.Equal(t, "hello", got)
	})

	t.Run("RejectsInvalidUTF8", func(t *testing.T) {
		_, err := text.Normalize([]byte{0xff, 0xfe, 0x41}, "")
		assert.ErrorIs(t, err, text.ErrEncoding)
	})
}

func TestFingerprint(t *testing.T) {
	t.Run("WhitespaceInsensitive", func(t *testing.T) {
		assert.Equal(t, text.Fingerprint("hello   world"), text.Fingerprint("hello\nworld"))
	})

	t.Run("CaseInsensitive", func(t *testing.T) {
		assert.Equal(t, text.Fingerprint("Hello World"), text.Fingerprint("hello world"))
	})

	t.Run("ContentSensitive", func(t *testing.T) {
		assert.NotEqual(t, text.Fingerprint("hello world"), text.Fingerprint("hello there"))
	})
}

func TestDocumentHash(t *testing.T) {
	assert.Equal(t, text.DocumentHash("a  b"), text.DocumentHash("a b"))
	assert.NotEqual(t, text.DocumentHash("A b"), text.DocumentHash("a b"))
}

package text

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ErrEncoding indicates the raw document could not be decoded as UTF-8 text.
var ErrEncoding = errors.New("document is not valid UTF-8 text")

var (
	crlfRe       = regexp.MustCompile(`\r\n?`)
	spaceRunRe   = regexp.MustCompile(`[ \t]+`)
	trailingRe   = regexp.MustCompile(`(?m)[ \t]+$`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
	mdEscapeRe   = regexp.MustCompile("\\\\([\\\\`*_{}\\[\\]()#+\\-.!>|])")
)

// Normalize cleans raw document bytes into canonical text: LF line endings,
// control characters stripped, space runs collapsed, markdown escapes decoded.
// Heading markers are preserved so the chunker can extract section titles.
// The hint names the document language; current rules are language-agnostic
// and the hint only flows through to metadata.
//
// Pure function: no I/O, no side effects.
func Normalize(raw []byte, languageHint string) (string, error) {
	_ = languageHint

	if !utf8.Valid(raw) {
		return "", ErrEncoding
	}
	s := string(raw)

	// UTF-8 BOM
	s = strings.TrimPrefix(s, "\uFEFF")

	s = crlfRe.ReplaceAllString(s, "\n")
	s = stripControl(s)
	s = mdEscapeRe.ReplaceAllString(s, "$1")
	s = spaceRunRe.ReplaceAllString(s, " ")
	s = trailingRe.ReplaceAllString(s, "")
	s = blankLinesRe.ReplaceAllString(s, "\n\n")

	return strings.TrimSpace(s), nil
}

// stripControl removes control characters except newline and tab.
// Tabs survive here so the space-run collapse can fold them into one space.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

package filter

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var markupPattern = regexp.MustCompile(`(?i)<\s*(html|body|div|p|br|span|table|td|tr|a|img|font|head|style|!doctype)\b[^>]*>`)

// looksLikeMarkup reports whether text is HTML rather than plain text.
func looksLikeMarkup(text string) bool {
	return markupPattern.MatchString(text)
}

// blockAtoms end a line of visible text.
var blockAtoms = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Tr: true, atom.Li: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Table: true, atom.Blockquote: true,
}

// skipAtoms hold no visible text.
var skipAtoms = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Head: true, atom.Title: true, atom.Noscript: true,
}

// visibleText extracts the text a reader would see, one line per block.
func visibleText(markup string) string {
	z := html.NewTokenizer(strings.NewReader(markup))
	var b strings.Builder
	skip := 0

	newline := func() {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
	}

	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if skipAtoms[tok.DataAtom] {
				skip++
			}
			if blockAtoms[tok.DataAtom] {
				newline()
			}
		case html.EndTagToken:
			tok := z.Token()
			if skipAtoms[tok.DataAtom] && skip > 0 {
				skip--
			}
			if blockAtoms[tok.DataAtom] {
				newline()
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := string(z.Text())
			if strings.TrimSpace(text) == "" {
				continue
			}
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
				b.WriteByte(' ')
			}
			b.WriteString(strings.TrimSpace(text))
		}
	}
}

// Package htmltext reduces an HTML document to the plain text an email
// client would show as a preview or feed to footer/status-line
// detection. It is not a renderer: no tags, attributes, or styles
// survive, only visible text, with block-level elements forced onto
// their own line.
package htmltext

import (
	"strings"

	"golang.org/x/net/html"
	a "golang.org/x/net/html/atom"
)

// blockAtoms forces a line break around themselves so paragraphs and
// table rows don't run together.
var blockAtoms = map[a.Atom]bool{
	a.P:      true,
	a.Div:    true,
	a.Br:     true,
	a.Tr:     true,
	a.Li:     true,
	a.H1:     true,
	a.H2:     true,
	a.H3:     true,
	a.H4:     true,
	a.H5:     true,
	a.H6:     true,
	a.Hr:     true,
	a.Table:  true,
	a.Ul:     true,
	a.Ol:     true,
	a.Blockquote: true,
}

// skipAtoms are elements whose text content is never shown to a user.
var skipAtoms = map[a.Atom]bool{
	a.Script: true,
	a.Style:  true,
	a.Head:   true,
	a.Title:  true,
}

// Extract walks src as HTML and returns the visible text, with
// consecutive blank lines collapsed and leading/trailing space
// trimmed from each line.
func Extract(src string) string {
	z := html.NewTokenizer(strings.NewReader(src))
	var buf strings.Builder
	var skipDepth int

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			t := z.Token()
			if skipAtoms[t.DataAtom] {
				if tt == html.StartTagToken {
					skipDepth++
				}
				continue
			}
			if blockAtoms[t.DataAtom] {
				buf.WriteByte('\n')
			}
		case html.EndTagToken:
			t := z.Token()
			if skipAtoms[t.DataAtom] {
				if skipDepth > 0 {
					skipDepth--
				}
				continue
			}
			if blockAtoms[t.DataAtom] {
				buf.WriteByte('\n')
			}
		case html.TextToken:
			if skipDepth == 0 {
				buf.Write(z.Text())
			}
		}
	}

	return collapse(buf.String())
}

// collapse trims each line and squeezes runs of blank lines down to one.
func collapse(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	for len(out) > 0 && out[0] == "" {
		out = out[1:]
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

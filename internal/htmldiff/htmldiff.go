// Package htmldiff renders the difference between two HTML documents as a
// single HTML fragment with inline <ins> and <del> markup.
//
// Both inputs are split into tag and word tokens, and the token sequences are
// compared with go-diff. The output follows the structure of the new document:
// its tags are kept, tags that exist only in the old document are dropped, and
// changed words are wrapped in <ins> or <del>.
package htmldiff

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"

	"github.com/sergi/go-diff/diffmatchpatch"
	"golang.org/x/net/html"
)

// ErrTooManyTokens is returned when the inputs hold more distinct tokens than
// can be encoded for the diff engine.
var ErrTooManyTokens = errors.New("htmldiff: too many distinct tokens")

const (
	surrogateMin = 0xD800
	surrogateMax = 0xDFFF
	maxRune      = unicode.MaxRune
)

type token struct {
	raw string
	tag bool
}

// Renderer produces diff fragments. The zero value uses go-diff's default
// timeout.
type Renderer struct {
	// Timeout bounds the diff computation; zero keeps the library default.
	Timeout time.Duration
}

// New returns a Renderer with the given diff timeout.
func New(timeout time.Duration) *Renderer {
	return &Renderer{Timeout: timeout}
}

// Render diffs oldHTML against newHTML using the default Renderer.
func Render(oldHTML, newHTML string) (string, error) {
	return (&Renderer{}).Render(oldHTML, newHTML)
}

// Render returns an HTML fragment showing how newHTML differs from oldHTML.
func (r *Renderer) Render(oldHTML, newHTML string) (string, error) {
	oldTokens, err := tokenize(oldHTML)
	if err != nil {
		return "", fmt.Errorf("tokenize old html: %w", err)
	}
	newTokens, err := tokenize(newHTML)
	if err != nil {
		return "", fmt.Errorf("tokenize new html: %w", err)
	}

	enc := newEncoder()
	oldRunes, err := enc.encode(oldTokens)
	if err != nil {
		return "", err
	}
	newRunes, err := enc.encode(newTokens)
	if err != nil {
		return "", err
	}

	dmp := diffmatchpatch.New()
	if r != nil && r.Timeout > 0 {
		dmp.DiffTimeout = r.Timeout
	}
	diffs := dmp.DiffMainRunes(oldRunes, newRunes, false)

	var w writer
	for _, d := range diffs {
		for _, rn := range d.Text {
			t := enc.tokens[enc.index(rn)]
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				w.flush()
				w.b.WriteString(t.raw)
			case diffmatchpatch.DiffInsert:
				if t.tag {
					w.flush()
					w.b.WriteString(t.raw)
					continue
				}
				w.add(diffmatchpatch.DiffInsert, t.raw)
			case diffmatchpatch.DiffDelete:
				// Old-only tags would unbalance the new structure.
				if t.tag {
					continue
				}
				w.add(diffmatchpatch.DiffDelete, t.raw)
			}
		}
	}
	w.flush()
	return w.b.String(), nil
}

func tokenize(src string) ([]token, error) {
	z := html.NewTokenizer(strings.NewReader(src))
	var out []token
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return nil, err
			}
			return out, nil
		case html.TextToken:
			out = appendWords(out, string(z.Text()))
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			out = append(out, token{raw: z.Token().String(), tag: true})
		case html.CommentToken, html.DoctypeToken:
		}
	}
}

// appendWords splits text into alternating word and whitespace tokens.
func appendWords(out []token, text string) []token {
	start := 0
	inSpace := false
	for i, r := range text {
		space := unicode.IsSpace(r)
		if i > start && space != inSpace {
			out = append(out, token{raw: html.EscapeString(text[start:i])})
			start = i
		}
		inSpace = space
	}
	if start < len(text) {
		out = append(out, token{raw: html.EscapeString(text[start:])})
	}
	return out
}

// encoder assigns every distinct token a rune so token sequences can be
// diffed as text. Surrogate code points are skipped because they do not
// survive a string round trip.
type encoder struct {
	ids    map[string]int
	tokens []token
}

func newEncoder() *encoder {
	return &encoder{ids: make(map[string]int)}
}

func (e *encoder) encode(tokens []token) ([]rune, error) {
	out := make([]rune, len(tokens))
	for i, t := range tokens {
		id, ok := e.ids[t.raw]
		if !ok {
			id = len(e.tokens)
			if id > maxRune-(surrogateMax-surrogateMin+1) {
				return nil, ErrTooManyTokens
			}
			e.ids[t.raw] = id
			e.tokens = append(e.tokens, t)
		}
		out[i] = runeFor(id)
	}
	return out, nil
}

func (e *encoder) index(r rune) int {
	if r > surrogateMax {
		return int(r) - (surrogateMax - surrogateMin + 1)
	}
	return int(r)
}

func runeFor(id int) rune {
	if id >= surrogateMin {
		return rune(id + (surrogateMax - surrogateMin + 1))
	}
	return rune(id)
}

// writer accumulates runs of inserted or deleted words.
type writer struct {
	b   strings.Builder
	op  diffmatchpatch.Operation
	run []string
}

func (w *writer) add(op diffmatchpatch.Operation, raw string) {
	if len(w.run) > 0 && w.op != op {
		w.flush()
	}
	w.op = op
	w.run = append(w.run, raw)
}

func (w *writer) flush() {
	if len(w.run) == 0 {
		return
	}
	text := strings.Join(w.run, "")
	w.run = w.run[:0]

	blank := strings.TrimSpace(text) == ""
	switch w.op {
	case diffmatchpatch.DiffInsert:
		if blank {
			w.b.WriteString(text)
			return
		}
		w.b.WriteString("<ins>" + text + "</ins>")
	case diffmatchpatch.DiffDelete:
		if blank {
			return
		}
		w.b.WriteString("<del>" + text + "</del>")
	}
}

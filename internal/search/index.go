// Package search ranks message texts against a free-text query. An Index is
// built per query scope (one conversation) and is read-only afterwards, so
// it is safe for concurrent use.
//
// A document scores the Jaccard similarity of its word set with the query's,
// plus a fixed boost when it contains the whole query as a substring, which
// lets prefixes like "piz" find "pizza". Matching is Unicode case-folded.
// Equal scores rank the later document first.
package search

import (
	"cmp"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/text/cases"
)

// Document is one searchable text keyed by an opaque id.
type Document struct {
	ID   string
	Text string
}

// Result is a ranked document with its similarity score.
type Result struct {
	ID      string
	Snippet string
	Score   float64
}

// Index answers ranked queries.
type Index interface {
	TopK(query string, k int) []Result
}

// DefaultK is used when TopK is called with k <= 0.
const DefaultK = 3

type settings struct {
	stopwords    map[string]struct{}
	boost        float64
	snippetRunes int
}

// Option tunes New.
type Option func(*settings)

// WithStopwords drops the given words from both queries and documents.
func WithStopwords(words ...string) Option {
	return func(s *settings) {
		for _, w := range words {
			w = fold(strings.TrimSpace(w))
			if w == "" {
				continue
			}
			if s.stopwords == nil {
				s.stopwords = make(map[string]struct{})
			}
			s.stopwords[w] = struct{}{}
		}
	}
}

// WithSubstringBoost sets the score added when a document contains the whole
// query. Zero disables substring matching; negative values are ignored.
func WithSubstringBoost(b float64) Option {
	return func(s *settings) {
		if b >= 0 {
			s.boost = b
		}
	}
}

// WithSnippetRunes bounds Result.Snippet to about n runes centred on the
// first match. Zero returns the whole text.
func WithSnippetRunes(n int) Option {
	return func(s *settings) {
		if n >= 0 {
			s.snippetRunes = n
		}
	}
}

type entry struct {
	id     string
	text   string // whitespace-collapsed
	folded string
	words  map[string]struct{}
}

type index struct {
	set     settings
	entries []entry
}

// New builds an Index over docs. Blank texts are skipped.
func New(docs []Document, opts ...Option) Index {
	set := settings{boost: 0.5, snippetRunes: 160}
	for _, o := range opts {
		o(&set)
	}
	idx := &index{set: set, entries: make([]entry, 0, len(docs))}
	for _, d := range docs {
		text := collapse(d.Text)
		if text == "" {
			continue
		}
		f := fold(text)
		idx.entries = append(idx.entries, entry{id: d.ID, text: text, folded: f, words: words(f, set.stopwords)})
	}
	return idx
}

type hit struct {
	pos   int
	score float64
}

// TopK returns up to k documents with a positive score, best first.
func (x *index) TopK(query string, k int) []Result {
	q := fold(collapse(query))
	if q == "" || len(x.entries) == 0 {
		return nil
	}
	if k <= 0 {
		k = DefaultK
	}
	qWords := words(q, x.set.stopwords)

	var hits []hit
	for i, e := range x.entries {
		score := jaccard(qWords, e.words)
		if x.set.boost > 0 && strings.Contains(e.folded, q) {
			score += x.set.boost
		}
		if score > 0 {
			hits = append(hits, hit{pos: i, score: score})
		}
	}
	slices.SortStableFunc(hits, func(a, b hit) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(b.pos, a.pos)
	})

	hits = hits[:min(k, len(hits))]
	if len(hits) == 0 {
		return nil
	}
	out := make([]Result, len(hits))
	for i, h := range hits {
		e := x.entries[h.pos]
		out[i] = Result{ID: e.id, Snippet: snippet(e, qWords, q, x.set.snippetRunes), Score: h.score}
	}
	return out
}

var wordRE = regexp.MustCompile(`[\p{L}\p{M}]+\p{N}*|\p{N}+`)

// fold case-folds s. Casers are stateful, so each call gets its own.
func fold(s string) string { return cases.Fold().String(s) }

// collapse trims s and squeezes internal whitespace runs to one space.
func collapse(s string) string { return strings.Join(strings.Fields(s), " ") }

func words(folded string, stop map[string]struct{}) map[string]struct{} {
	found := wordRE.FindAllString(folded, -1)
	if len(found) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(found))
	for _, w := range found {
		if _, skip := stop[w]; !skip {
			out[w] = struct{}{}
		}
	}
	return out
}

// jaccard is |a ∩ b| / |a ∪ b|, or 0 when either set is empty.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	shared := 0
	for w := range a {
		if _, ok := b[w]; ok {
			shared++
		}
	}
	if shared == 0 {
		return 0
	}
	return float64(shared) / float64(len(a)+len(b)-shared)
}

// snippet cuts a window of about limit runes around the first place the
// query (or failing that, a query word) occurs.
func snippet(e entry, qWords map[string]struct{}, q string, limit int) string {
	runes := []rune(e.text)
	if limit <= 0 || len(runes) <= limit {
		return e.text
	}
	folded := []rune(e.folded)
	if len(folded) != len(runes) {
		// Folding changed the length; offsets would not line up.
		return string(runes[:limit]) + "…"
	}

	at := strings.Index(e.folded, q)
	if at < 0 {
		for w := range qWords {
			if i := strings.Index(e.folded, w); i >= 0 && (at < 0 || i < at) {
				at = i
			}
		}
	}
	center := 0
	if at > 0 {
		center = len([]rune(e.folded[:at]))
	}

	start := max(0, center-limit/3)
	end := min(len(runes), start+limit)
	start = max(0, end-limit)

	var b strings.Builder
	if start > 0 {
		b.WriteString("…")
	}
	b.WriteString(strings.TrimSpace(string(runes[start:end])))
	if end < len(runes) {
		b.WriteString("…")
	}
	return b.String()
}

// Package search matches questions against knowledge-base passages.
//
// Passages are reduced to sets of lower-cased terms and kept in an inverted
// index, so a query only touches the passages that share a term with it.
// Candidates are ranked by Jaccard similarity of the term sets. An Index is
// read-only once built and may be shared between goroutines.
package search

import (
	"cmp"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Doc is one passage and the topic it answers.
type Doc struct {
	Topic string
	Text  string
}

// Result is a ranked passage.
type Result struct {
	Topic   string
	Snippet string
	Score   float64
}

// Options tune NewIndex. A nil *Options means DefaultOptions().
type Options struct {
	// MinRunes drops passages shorter than this. Zero keeps everything.
	MinRunes int
	// Stopwords are ignored in passages and queries.
	Stopwords []string
	// MaxDocs caps the passage count. Zero means no cap.
	MaxDocs int
}

// DefaultOptions skips fragments under 20 runes and common English filler.
func DefaultOptions() *Options {
	return &Options{MinRunes: 20, Stopwords: DefaultStopwords}
}

// DefaultStopwords are filler words that carry no topic signal.
var DefaultStopwords = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "can", "do", "does", "for",
	"from", "how", "i", "if", "in", "is", "it", "me", "my", "of", "on", "or",
	"should", "that", "the", "this", "to", "was", "what", "when", "which", "why",
	"with", "you", "your",
}

const defaultK = 3

type passage struct {
	topic string
	text  string
	runes int
	terms int
}

// Index is an inverted term index over passages.
type Index struct {
	stop     map[string]bool
	passages []passage
	postings map[string][]int
}

// NewIndex indexes docs. Whitespace is collapsed; blank or term-less
// passages are skipped.
func NewIndex(docs []Doc, opt *Options) *Index {
	if opt == nil {
		opt = DefaultOptions()
	}
	ix := &Index{
		stop:     make(map[string]bool, len(opt.Stopwords)),
		postings: make(map[string][]int),
	}
	for _, w := range opt.Stopwords {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			ix.stop[w] = true
		}
	}

	for _, d := range docs {
		if opt.MaxDocs > 0 && len(ix.passages) == opt.MaxDocs {
			break
		}
		text := strings.Join(strings.Fields(d.Text), " ")
		n := utf8.RuneCountInString(text)
		if n == 0 || n < opt.MinRunes {
			continue
		}
		terms := ix.terms(text)
		if len(terms) == 0 {
			continue
		}
		id := len(ix.passages)
		for _, t := range terms {
			ix.postings[t] = append(ix.postings[t], id)
		}
		ix.passages = append(ix.passages, passage{topic: d.Topic, text: text, runes: n, terms: len(terms)})
	}
	return ix
}

// Len is the number of indexed passages.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.passages)
}

// TopK returns at most k passages sharing a term with q, best first. k <= 0
// means 3. Equal scores rank the shorter passage first, then by text.
func (ix *Index) TopK(q string, k int) []Result {
	if ix.Len() == 0 {
		return nil
	}
	qterms := ix.terms(q)
	if len(qterms) == 0 {
		return nil
	}
	if k <= 0 {
		k = defaultK
	}

	shared := make(map[int]int)
	for _, t := range qterms {
		for _, id := range ix.postings[t] {
			shared[id]++
		}
	}
	if len(shared) == 0 {
		return nil
	}

	type hit struct {
		id    int
		score float64
	}
	hits := make([]hit, 0, len(shared))
	for id, n := range shared {
		union := len(qterms) + ix.passages[id].terms - n
		hits = append(hits, hit{id: id, score: float64(n) / float64(union)})
	}
	slices.SortFunc(hits, func(a, b hit) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		pa, pb := ix.passages[a.id], ix.passages[b.id]
		if c := cmp.Compare(pa.runes, pb.runes); c != 0 {
			return c
		}
		return strings.Compare(pa.text, pb.text)
	})

	out := make([]Result, 0, min(k, len(hits)))
	for _, h := range hits[:min(k, len(hits))] {
		p := ix.passages[h.id]
		out = append(out, Result{Topic: p.topic, Snippet: p.text, Score: h.score})
	}
	return out
}

var termRE = regexp.MustCompile(`\p{L}+\p{N}*`)

// terms returns the distinct non-stopword terms of s in first-seen order.
func (ix *Index) terms(s string) []string {
	var out []string
	seen := make(map[string]bool)
	// A Caser carries state, so each call gets its own.
	for _, w := range termRE.FindAllString(cases.Lower(language.Und).String(s), -1) {
		if ix.stop[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

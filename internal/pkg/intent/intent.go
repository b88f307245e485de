package intent

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jake-scott/iotctl/internal/pkg/iotapi"
)

// DefaultTopK is the number of candidates kept when no limit is given
const DefaultTopK = 8

const (
	KindProperty = "property"
	KindEvent    = "event"
	KindAction   = "action"
)

// Weights for a whole-query match, then for each query token
const (
	scoreExactIdentifier = 100
	scoreIdentifier      = 40
	scoreName            = 35
	scoreDesc            = 20
	scoreTokenIdentifier = 10
	scoreTokenName       = 8
	scoreTokenDesc       = 5
	minTokenLength       = 2
)

type Options struct {
	TopK         int
	WritableOnly bool
}

type Candidate struct {
	Kind       string `json:"kind"`
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	Desc       string `json:"desc,omitempty"`
	AccessMode string `json:"access_mode,omitempty"`
	Score      int    `json:"score"`
}

// Tokenize splits a query on whitespace and punctuation, keeping tokens of
// at least two characters
func Tokenize(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if utf8.RuneCountInString(f) >= minTokenLength {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// Score rates one schema entry against the lower-cased query and its tokens
func Score(identifier, name, desc string, query string, tokens []string) int {
	id := strings.ToLower(identifier)
	nm := strings.ToLower(name)
	ds := strings.ToLower(desc)

	score := 0
	if query != "" {
		if id == query {
			score += scoreExactIdentifier
		}
		if strings.Contains(id, query) {
			score += scoreIdentifier
		}
		if strings.Contains(nm, query) {
			score += scoreName
		}
		if strings.Contains(ds, query) {
			score += scoreDesc
		}
	}

	for _, tok := range tokens {
		if strings.Contains(id, tok) {
			score += scoreTokenIdentifier
		}
		if strings.Contains(nm, tok) {
			score += scoreTokenName
		}
		if strings.Contains(ds, tok) {
			score += scoreTokenDesc
		}
	}

	return score
}

// Resolve ranks properties, events and actions against a free-text query.
// Zero scores are dropped; ties keep schema order.
func Resolve(model iotapi.ThingModel, query string, opts Options) []Candidate {
	topK := opts.TopK
	if topK == 0 {
		topK = DefaultTopK
	}
	if topK < 1 {
		topK = 1
	}

	q := strings.ToLower(strings.TrimSpace(query))
	tokens := Tokenize(q)

	var out []Candidate
	add := func(kind string, e iotapi.Entry, accessMode string) {
		s := Score(e.Identifier, e.Name, e.Desc, q, tokens)
		if s <= 0 {
			return
		}
		out = append(out, Candidate{
			Kind:       kind,
			Identifier: e.Identifier,
			Name:       e.Name,
			Desc:       e.Desc,
			AccessMode: accessMode,
			Score:      s,
		})
	}

	for _, p := range model.Properties {
		if opts.WritableOnly && !p.Writable() {
			continue
		}
		add(KindProperty, p.Entry, p.AccessMode)
	}
	for _, e := range model.Events {
		add(KindEvent, e, "")
	}
	for _, a := range model.Actions {
		add(KindAction, a, "")
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })

	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

package keyword

import (
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	// maxSuggestDistance is the largest edit distance a correction may have.
	maxSuggestDistance = 2
	// minSuggestLength keeps short words and most numbers out of correction.
	minSuggestLength = 4
)

// termDict is a snapshot of the catalog text field: each term with its document frequency.
type termDict struct {
	terms []string
	freq  map[string]uint64
}

// dictionary returns the cached term dictionary, reading it from Bleve after every
// layer replacement.
func (c *Catalog) dictionary() (*termDict, error) {
	c.dictMu.Lock()
	defer c.dictMu.Unlock()
	if c.dict != nil {
		return c.dict, nil
	}
	fd, err := c.index.FieldDict("text")
	if err != nil {
		return nil, err
	}
	defer fd.Close()
	d := &termDict{freq: make(map[string]uint64)}
	for {
		entry, err := fd.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			break
		}
		d.terms = append(d.terms, entry.Term)
		d.freq[entry.Term] = entry.Count
	}
	c.dict = d
	return d, nil
}

func (c *Catalog) invalidateDictionary() {
	c.dictMu.Lock()
	c.dict = nil
	c.dictMu.Unlock()
}

// Terms returns the distinct analyzed terms of the catalog text, in dictionary order.
func (c *Catalog) Terms() ([]string, error) {
	d, err := c.dictionary()
	if err != nil {
		return nil, err
	}
	return append([]string(nil), d.terms...), nil
}

// Suggest rewrites query with every word the catalog does not know replaced by the most
// frequent known term within two edits. It reports whether anything was replaced.
func (c *Catalog) Suggest(query string) (string, bool, error) {
	d, err := c.dictionary()
	if err != nil {
		return query, false, err
	}
	words := tokenizeQuery(query)
	out := make([]string, 0, len(words))
	changed := false
	for _, w := range words {
		if _, known := d.freq[w]; known || utf8.RuneCountInString(w) < minSuggestLength {
			out = append(out, w)
			continue
		}
		if best, ok := d.closest(w); ok {
			out = append(out, best)
			changed = true
			continue
		}
		out = append(out, w)
	}
	return strings.Join(out, " "), changed, nil
}

type candidate struct {
	term     string
	distance int
	freq     uint64
}

// closest picks the nearest term, preferring fewer edits, then higher frequency, then
// dictionary order.
func (d *termDict) closest(word string) (string, bool) {
	n := utf8.RuneCountInString(word)
	var cands []candidate
	for _, term := range d.terms {
		diff := utf8.RuneCountInString(term) - n
		if diff > maxSuggestDistance || diff < -maxSuggestDistance {
			continue
		}
		dist := levenshtein(word, term)
		if dist == 0 || dist > maxSuggestDistance {
			continue
		}
		cands = append(cands, candidate{term: term, distance: dist, freq: d.freq[term]})
	}
	if len(cands) == 0 {
		return "", false
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].distance != cands[j].distance {
			return cands[i].distance < cands[j].distance
		}
		return cands[i].freq > cands[j].freq
	})
	return cands[0].term, true
}

// levenshtein counts single-rune insertions, deletions and substitutions between a and b.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

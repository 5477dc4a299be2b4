package summarize

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

var sentenceEnd = regexp.MustCompile(`([.!?…])\s+`)

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a an the and or but if of to in on at by for with from as is are was were be been
		it its this that these those he she they we you i his her their our not no so than then there has have had
		will would can could should said says also more most after before about into over
		le la les un une des du de et ou mais si à au aux en dans par pour sur avec est sont été il elle ils elles
		nous vous je ce cet cette ces son sa ses leur leurs qui que quoi ne pas plus a été ont`) {
		stopwords[w] = struct{}{}
	}
}

// SplitSentences breaks text into sentences on terminal punctuation.
func SplitSentences(text string) []string {
	marked := sentenceEnd.ReplaceAllString(strings.TrimSpace(text), "$1\x00")
	var out []string
	for _, s := range strings.Split(marked, "\x00") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Extract returns the n highest-scoring sentences of text in their original
// order. A sentence scores the mean normalized frequency of its content words.
func Extract(text string, n int) string {
	sentences := SplitSentences(text)
	if len(sentences) <= n {
		return strings.Join(sentences, " ")
	}

	freq := make(map[string]float64)
	var top float64
	for _, w := range words(text) {
		if _, stop := stopwords[w]; stop || len([]rune(w)) < 2 {
			continue
		}
		freq[w]++
		top = max(top, freq[w])
	}
	if top == 0 {
		return strings.Join(sentences[:n], " ")
	}

	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, len(sentences))
	for i, s := range sentences {
		var sum float64
		var count int
		for _, w := range words(s) {
			if f, ok := freq[w]; ok {
				sum += f / top
				count++
			}
		}
		if count > 0 {
			sum /= float64(count)
		}
		ranked[i] = scored{idx: i, score: sum}
	}

	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].score > ranked[b].score })
	chosen := ranked[:n]
	sort.Slice(chosen, func(a, b int) bool { return chosen[a].idx < chosen[b].idx })

	out := make([]string, n)
	for i, c := range chosen {
		out[i] = sentences[c.idx]
	}
	return strings.Join(out, " ")
}

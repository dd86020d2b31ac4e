// Package comparison computes accuracy metrics between a reference
// transcription and a hypothesis. Every function is pure.
package comparison

import (
	"math"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Result is the full set of metrics for one reference/hypothesis pair.
type Result struct {
	WER             float64
	CER             float64
	Substitutions   int
	Deletions       int
	Insertions      int
	TotalEdits      int
	ReferenceWords  int
	HypothesisWords int
	WordDiff        int
	WordDiffPct     float64
	Jaccard         float64
	Cosine          float64
}

// WordErrors is the outcome of word-level alignment.
type WordErrors struct {
	WER           float64
	Substitutions int
	Deletions     int
	Insertions    int
	ReferenceLen  int
}

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}\p{M}_\s]+`)

var lower = cases.Lower(language.Und)

// Normalize lowercases text, drops everything that is neither a word
// character nor whitespace, and collapses whitespace runs.
func Normalize(text string) string {
	text = lower.String(text)
	text = nonWord.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(text), " ")
}

// Compare runs every metric over the same (optionally normalised) inputs.
func Compare(reference, hypothesis string, normalize bool) Result {
	if normalize {
		reference = Normalize(reference)
		hypothesis = Normalize(hypothesis)
	}

	we := WordErrorRate(reference, hypothesis)
	refWords := len(strings.Fields(reference))
	hypWords := len(strings.Fields(hypothesis))
	diff := hypWords - refWords
	pct := 0.0
	if refWords > 0 {
		pct = float64(diff) / float64(refWords) * 100
	}

	return Result{
		WER:             we.WER,
		CER:             CharacterErrorRate(reference, hypothesis),
		Substitutions:   we.Substitutions,
		Deletions:       we.Deletions,
		Insertions:      we.Insertions,
		TotalEdits:      we.Substitutions + we.Deletions + we.Insertions,
		ReferenceWords:  refWords,
		HypothesisWords: hypWords,
		WordDiff:        diff,
		WordDiffPct:     pct,
		Jaccard:         Jaccard(reference, hypothesis),
		Cosine:          Cosine(reference, hypothesis),
	}
}

// WordErrorRate aligns the whitespace-separated words of both texts and
// classifies each edit. Ties during backtracking prefer substitution, then
// deletion, then insertion.
func WordErrorRate(reference, hypothesis string) WordErrors {
	ref := strings.Fields(reference)
	hyp := strings.Fields(hypothesis)
	d := editTable(ref, hyp)

	var out WordErrors
	out.ReferenceLen = len(ref)
	i, j := len(ref), len(hyp)
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && ref[i-1] == hyp[j-1]:
			i--
			j--
		case i > 0 && j > 0 && d[i-1][j-1] <= d[i-1][j] && d[i-1][j-1] <= d[i][j-1]:
			out.Substitutions++
			i--
			j--
		case i > 0 && (j == 0 || d[i-1][j] <= d[i][j-1]):
			out.Deletions++
			i--
		default:
			out.Insertions++
			j--
		}
	}

	if len(ref) > 0 {
		out.WER = float64(out.Substitutions+out.Deletions+out.Insertions) / float64(len(ref))
	}
	return out
}

// CharacterErrorRate is the rune-level edit distance divided by the
// reference length.
func CharacterErrorRate(reference, hypothesis string) float64 {
	ref := []rune(reference)
	if len(ref) == 0 {
		return 0.0
	}
	d := editTable(ref, []rune(hypothesis))
	return float64(d[len(ref)][len(d[0])-1]) / float64(len(ref))
}

func editTable[T comparable](ref, hyp []T) [][]int {
	d := make([][]int, len(ref)+1)
	for i := range d {
		d[i] = make([]int, len(hyp)+1)
		d[i][0] = i
	}
	for j := range d[0] {
		d[0][j] = j
	}
	for i := 1; i <= len(ref); i++ {
		for j := 1; j <= len(hyp); j++ {
			if ref[i-1] == hyp[j-1] {
				d[i][j] = d[i-1][j-1]
				continue
			}
			d[i][j] = 1 + min(d[i-1][j-1], d[i][j-1], d[i-1][j])
		}
	}
	return d
}

// Jaccard is the word-set overlap of both texts.
func Jaccard(reference, hypothesis string) float64 {
	ref := wordSet(reference)
	hyp := wordSet(hypothesis)
	if len(ref) == 0 && len(hyp) == 0 {
		return 1.0
	}
	inter := 0
	for w := range ref {
		if _, ok := hyp[w]; ok {
			inter++
		}
	}
	union := len(ref) + len(hyp) - inter
	if union == 0 {
		return 0.0
	}
	return float64(inter) / float64(union)
}

// Cosine compares word frequency vectors of both texts.
func Cosine(reference, hypothesis string) float64 {
	ref := wordCounts(reference)
	hyp := wordCounts(hypothesis)
	if len(ref) == 0 && len(hyp) == 0 {
		return 1.0
	}

	var dot, refMag, hypMag float64
	for w, r := range ref {
		dot += float64(r * hyp[w])
		refMag += float64(r * r)
	}
	for _, h := range hyp {
		hypMag += float64(h * h)
	}
	if refMag == 0 || hypMag == 0 {
		return 0.0
	}
	return math.Min(1, math.Max(0, dot/math.Sqrt(refMag*hypMag)))
}

func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(text) {
		set[w] = struct{}{}
	}
	return set
}

func wordCounts(text string) map[string]int {
	counts := make(map[string]int)
	for _, w := range strings.Fields(text) {
		counts[w]++
	}
	return counts
}

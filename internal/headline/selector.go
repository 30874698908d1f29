// Package headline generates candidate headlines for an approved article and
// guarantees that no selected headline claims an asset the article does not
// actually have. The package is pure: no I/O, no clock, no randomness.
package headline

import (
	"fmt"
	"regexp"
	"strings"
)

// Assets are the ground-truth asset flags for one article.
type Assets struct {
	HasVideo          bool
	HasCCTV           bool
	HasMultipleImages bool
	InterestScore     int
}

// Variant is one candidate headline emphasizing a specific angle.
type Variant struct {
	Angle string
	Text  string
}

// Angle names.
const (
	AngleConsequence = "consequence"
	AngleEyewitness  = "eyewitness"
	AngleStatistic   = "statistic"
	AngleCuriosity   = "curiosity"
)

// Lexical asset classes. A headline mentioning a class is rejected unless the
// corresponding flag is true.
var (
	videoWords = []string{"video", "videos", "footage", "watch", "clip", "clips"}
	cctvWords  = []string{"cctv"}
	photoWords = []string{"photo", "photos", "picture", "pictures", "gallery", "image", "images"}
)

var wordSplit = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// Generate emits angle variants for the base title. Media-referencing
// variants are always generated; Select filters the untruthful ones.
func Generate(title string, assets Assets) []Variant {
	base := strings.TrimSpace(title)
	if base == "" {
		base = "Phuket news update"
	}

	variants := []Variant{
		{Angle: AngleConsequence, Text: fmt.Sprintf("Video shows aftermath: %s", base)},
		{Angle: AngleConsequence, Text: fmt.Sprintf("%s — what happens next", base)},
		{Angle: AngleEyewitness, Text: fmt.Sprintf("Watch the moment: %s", base)},
		{Angle: AngleEyewitness, Text: fmt.Sprintf("Caught on CCTV: %s", base)},
		{Angle: AngleEyewitness, Text: fmt.Sprintf("In photos: %s", base)},
		{Angle: AngleStatistic, Text: fmt.Sprintf("%s — what we know so far", base)},
		{Angle: AngleCuriosity, Text: fmt.Sprintf("Why everyone in Phuket is talking about this: %s", base)},
	}
	return variants
}

// Select returns the best truthful headline, falling back to a neutral
// fact-only headline when every variant is rejected.
func Select(title string, variants []Variant, assets Assets) string {
	surviving := make([]Variant, 0, len(variants))
	for _, v := range variants {
		if Truthful(v.Text, assets) {
			surviving = append(surviving, v)
		}
	}
	if len(surviving) == 0 {
		return NeutralFallback(title)
	}

	best := surviving[0]
	bestRank := rank(best, assets)
	for _, v := range surviving[1:] {
		if r := rank(v, assets); r > bestRank {
			best = v
			bestRank = r
		}
	}
	return best.Text
}

// Headline is the full generate-filter-select pipeline for one article title.
func Headline(title string, assets Assets) string {
	return Select(title, Generate(title, assets), assets)
}

// Truthful reports whether a headline makes only asset claims the article can
// back. Matching is on whole words, case-insensitive.
func Truthful(text string, assets Assets) bool {
	words := tokenSet(text)
	if !assets.HasVideo && containsAny(words, videoWords) {
		return false
	}
	if !assets.HasCCTV && containsAny(words, cctvWords) {
		return false
	}
	if !assets.HasMultipleImages && containsAny(words, photoWords) {
		return false
	}
	return true
}

// NeutralFallback builds a fact-only headline guaranteed to make no asset
// claim, even when the source title itself mentions one.
func NeutralFallback(title string) string {
	cleaned := removeAssetWords(strings.TrimSpace(title))
	if cleaned == "" {
		return "Phuket news update"
	}
	return cleaned
}

// rank prefers the richest true asset (video > cctv > multi-photo > text),
// then the punchier angle for high-interest stories.
func rank(v Variant, assets Assets) int {
	words := tokenSet(v.Text)
	score := 0
	switch {
	case assets.HasVideo && containsAny(words, videoWords):
		score = 40
	case assets.HasCCTV && containsAny(words, cctvWords):
		score = 30
	case assets.HasMultipleImages && containsAny(words, photoWords):
		score = 20
	}

	if assets.InterestScore >= 4 {
		switch v.Angle {
		case AngleConsequence:
			score += 3
		case AngleCuriosity:
			score += 2
		case AngleEyewitness:
			score++
		}
	} else {
		switch v.Angle {
		case AngleStatistic:
			score += 3
		case AngleConsequence:
			score += 2
		}
	}
	return score
}

func removeAssetWords(text string) string {
	forbidden := map[string]struct{}{}
	for _, group := range [][]string{videoWords, cctvWords, photoWords} {
		for _, w := range group {
			forbidden[w] = struct{}{}
		}
	}

	fields := strings.Fields(text)
	kept := make([]string, 0, len(fields))
	for _, field := range fields {
		normalized := strings.ToLower(strings.Trim(field, ".,:;!?'\"()"))
		if _, bad := forbidden[normalized]; bad {
			continue
		}
		kept = append(kept, field)
	}
	return strings.Join(kept, " ")
}

func tokenSet(text string) map[string]struct{} {
	parts := wordSplit.Split(strings.ToLower(text), -1)
	set := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		set[p] = struct{}{}
	}
	return set
}

func containsAny(words map[string]struct{}, needles []string) bool {
	for _, needle := range needles {
		if _, ok := words[needle]; ok {
			return true
		}
	}
	return false
}

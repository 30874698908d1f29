package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/Dannydropz/phuketradar-sub003/internal/globaltime"
	"github.com/Dannydropz/phuketradar-sub003/internal/langdetect"
	"github.com/Dannydropz/phuketradar-sub003/internal/schema"
)

const (
	maxTitleRunes   = 90
	maxExcerptRunes = 220
)

var cctvKeywords = []string{
	"cctv",
	"security camera",
	"surveillance",
	"กล้องวงจรปิด",
}

var categoryKeywords = map[string][]string{
	"accident": {"accident", "crash", "collision", "injured", "อุบัติเหตุ", "ชน", "บาดเจ็บ"},
	"crime":    {"police", "arrest", "stolen", "robbery", "drugs", "ตำรวจ", "จับกุม", "ยาเสพติด"},
	"weather":  {"storm", "flood", "rain", "monsoon", "ฝน", "น้ำท่วม", "พายุ"},
	"traffic":  {"traffic", "road closed", "congestion", "รถติด", "ปิดถนน"},
	"tourism":  {"tourist", "beach", "airport", "ferry", "นักท่องเที่ยว", "หาด", "สนามบิน"},
}

// Normalizer maps raw social posts into candidates.
type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize converts one validated post into a Candidate: markup stripped,
// richest media representation resolved, category classified, content hash
// computed.
func (n *Normalizer) Normalize(sourceName string, post *schema.SocialPost) (*Candidate, error) {
	if post == nil {
		return nil, fmt.Errorf("post is nil")
	}

	source := strings.TrimSpace(sourceName)
	if source == "" {
		return nil, fmt.Errorf("source name is required")
	}

	cleanText := normalizeText(stripMarkup(post.Text))
	if cleanText == "" {
		return nil, fmt.Errorf("post %q has no usable text", post.PostID)
	}

	capturedAt := parsePostTime(post.Time)

	hash := sha256.Sum256([]byte(cleanText))

	candidate := &Candidate{
		Source:       source,
		SourcePostID: strings.TrimSpace(post.PostID),
		RawText:      post.Text,
		CleanText:    cleanText,
		Title:        deriveTitle(cleanText),
		Excerpt:      deriveExcerpt(cleanText),
		Category:     classifyCategory(cleanText),
		Language:     langdetect.DetectISO6391(cleanText),
		ImageURLs:    resolveImages(post),
		VideoURL:     derefString(post.Video),
		HasCCTV:      detectCCTV(cleanText, post.Metadata),
		ContentHash:  hex.EncodeToString(hash[:]),
		CapturedAt:   capturedAt,
	}
	if post.PostURL != nil {
		candidate.PostURL = strings.TrimSpace(*post.PostURL)
	}
	return candidate, nil
}

// resolveImages prefers the explicit multi-image array over the legacy single
// image field, which scraped pages still populate for older posts.
func resolveImages(post *schema.SocialPost) []string {
	images := make([]string, 0, len(post.Images))
	seen := make(map[string]struct{}, len(post.Images))
	for _, raw := range post.Images {
		u := strings.TrimSpace(raw)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		images = append(images, u)
	}
	if len(images) > 0 {
		return images
	}
	if post.Image != nil {
		if u := strings.TrimSpace(*post.Image); u != "" {
			return []string{u}
		}
	}
	return nil
}

func detectCCTV(text string, metadata map[string]any) bool {
	lower := strings.ToLower(text)
	for _, keyword := range cctvKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	if metadata != nil {
		if v, ok := metadata["cctv"].(bool); ok && v {
			return true
		}
	}
	return false
}

func classifyCategory(text string) string {
	lower := strings.ToLower(text)
	bestCategory := "general"
	bestHits := 0
	for category, keywords := range categoryKeywords {
		hits := 0
		for _, keyword := range keywords {
			if strings.Contains(lower, keyword) {
				hits++
			}
		}
		if hits > bestHits || (hits == bestHits && hits > 0 && category < bestCategory) {
			bestCategory = category
			bestHits = hits
		}
	}
	if bestHits == 0 {
		return "general"
	}
	return bestCategory
}

// stripMarkup drops platform markup and returns visible text. Posts arrive
// either as plain text or as HTML fragments depending on the scraper path.
func stripMarkup(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if !strings.ContainsRune(trimmed, '<') {
		return trimmed
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(trimmed))
	if err != nil {
		return trimmed
	}
	doc.Find("script, style").Remove()
	return doc.Text()
}

func normalizeText(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	lastSpace := false
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}

func deriveTitle(cleanText string) string {
	sentence := cleanText
	for _, terminator := range []string{". ", "! ", "? ", " | "} {
		if idx := strings.Index(sentence, terminator); idx > 0 {
			sentence = sentence[:idx+1]
			break
		}
	}
	sentence = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sentence), "."))
	return truncateRunes(sentence, maxTitleRunes)
}

func deriveExcerpt(cleanText string) string {
	return truncateRunes(cleanText, maxExcerptRunes)
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	cut := strings.TrimSpace(string(runes[:limit]))
	return cut + "…"
}

func parsePostTime(raw string) time.Time {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return globaltime.UTC()
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, trimmed); err == nil {
			return ts.UTC()
		}
	}
	return globaltime.UTC()
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

package ingest

import (
	"time"
)

// Candidate is the canonical unit produced from one raw social post. It is
// immutable after Normalize and consumed exactly once by the clustering step.
type Candidate struct {
	Source       string
	SourcePostID string
	PostURL      string
	RawText      string
	CleanText    string
	Title        string
	Excerpt      string
	Category     string
	Language     string
	ImageURLs    []string
	VideoURL     string
	HasCCTV      bool
	ContentHash  string
	CapturedAt   time.Time
}

// HasVideo reports whether an explicit video attachment was present.
func (c *Candidate) HasVideo() bool {
	return c != nil && c.VideoURL != ""
}

// HasMultipleImages reports whether the post carried a true multi-photo set.
func (c *Candidate) HasMultipleImages() bool {
	return c != nil && len(c.ImageURLs) > 1
}

package similarity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Dannydropz/phuketradar-sub003/internal/db"
	"github.com/Dannydropz/phuketradar-sub003/internal/ingest"
)

type fakeEmbedder struct {
	vector []float64
	err    error
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, nil
}

type fakeFingerprintStore struct {
	rows []db.FingerprintRow
	err  error
}

func (f *fakeFingerprintStore) RecentPublishedFingerprints(ctx context.Context, since time.Time, limit int) ([]db.FingerprintRow, error) {
	return f.rows, f.err
}

func mustEncode(t *testing.T, vector []float64) string {
	t.Helper()
	encoded, err := EncodeFingerprint(vector)
	if err != nil {
		t.Fatalf("encode fingerprint: %v", err)
	}
	return encoded
}

func testCandidate() *ingest.Candidate {
	return &ingest.Candidate{
		Source:       "phuket-news",
		SourcePostID: "fb-1",
		Title:        "Motorbike crash on Patong hill",
		CleanText:    "Motorbike crash on Patong hill. Two tourists injured.",
	}
}

func TestFindRelatedRanksByScore(t *testing.T) {
	t.Parallel()

	store := &fakeFingerprintStore{rows: []db.FingerprintRow{
		{ArticleID: 1, Title: "exact", Fingerprint: mustEncode(t, []float64{1, 0, 0})},
		{ArticleID: 2, Title: "close", Fingerprint: mustEncode(t, []float64{0.9, 0.4, 0})},
		{ArticleID: 3, Title: "unrelated", Fingerprint: mustEncode(t, []float64{0, 0, 1})},
	}}
	engine := NewEngine(&fakeEmbedder{vector: []float64{1, 0, 0}}, store, zerolog.Nop(), Options{
		TopK:     5,
		MinScore: 0.55,
	})

	matches, fingerprint, err := engine.FindRelated(context.Background(), testCandidate())
	if err != nil {
		t.Fatalf("FindRelated failed: %v", err)
	}
	if len(fingerprint) != 3 {
		t.Fatalf("expected candidate fingerprint back, got %v", fingerprint)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches above threshold, got %d", len(matches))
	}
	if matches[0].ArticleID != 1 || matches[1].ArticleID != 2 {
		t.Fatalf("matches not ranked best-first: %+v", matches)
	}
	if matches[0].Score < 0.999 {
		t.Fatalf("identical vectors must score ~1.0, got %f", matches[0].Score)
	}
}

func TestFindRelatedCapsTopK(t *testing.T) {
	t.Parallel()

	rows := make([]db.FingerprintRow, 0, 8)
	for i := int64(1); i <= 8; i++ {
		rows = append(rows, db.FingerprintRow{ArticleID: i, Fingerprint: mustEncode(t, []float64{1, 0.01 * float64(i)})})
	}
	engine := NewEngine(&fakeEmbedder{vector: []float64{1, 0}}, &fakeFingerprintStore{rows: rows}, zerolog.Nop(), Options{
		TopK:     3,
		MinScore: 0.55,
	})

	matches, _, err := engine.FindRelated(context.Background(), testCandidate())
	if err != nil {
		t.Fatalf("FindRelated failed: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("expected top-k cap of 3, got %d", len(matches))
	}
}

func TestFindRelatedEmbedFailureIsDegraded(t *testing.T) {
	t.Parallel()

	engine := NewEngine(&fakeEmbedder{err: errors.New("connection refused")}, &fakeFingerprintStore{}, zerolog.Nop(), Options{})

	_, _, err := engine.FindRelated(context.Background(), testCandidate())
	if !errors.Is(err, ErrDegraded) {
		t.Fatalf("expected ErrDegraded, got %v", err)
	}
}

func TestFindRelatedSkipsUndecodableFingerprints(t *testing.T) {
	t.Parallel()

	store := &fakeFingerprintStore{rows: []db.FingerprintRow{
		{ArticleID: 1, Fingerprint: "not-json"},
		{ArticleID: 2, Fingerprint: mustEncode(t, []float64{1, 0})},
	}}
	engine := NewEngine(&fakeEmbedder{vector: []float64{1, 0}}, store, zerolog.Nop(), Options{MinScore: 0.55})

	matches, _, err := engine.FindRelated(context.Background(), testCandidate())
	if err != nil {
		t.Fatalf("FindRelated failed: %v", err)
	}
	if len(matches) != 1 || matches[0].ArticleID != 2 {
		t.Fatalf("expected the undecodable row skipped, got %+v", matches)
	}
}

func TestCosineSimilarityEdgeCases(t *testing.T) {
	t.Parallel()

	if _, ok := cosineSimilarity([]float64{1, 0}, []float64{1}); ok {
		t.Fatalf("dimension mismatch must not score")
	}
	if _, ok := cosineSimilarity([]float64{0, 0}, []float64{1, 0}); ok {
		t.Fatalf("zero vector must not score")
	}
	score, ok := cosineSimilarity([]float64{1, 0}, []float64{-1, 0})
	if !ok || score > -0.999 {
		t.Fatalf("opposite vectors must score -1, got %f", score)
	}
}

func TestFingerprintRoundTripRejectsNonFinite(t *testing.T) {
	t.Parallel()

	encoded := mustEncode(t, []float64{0.25, -0.5})
	decoded, err := DecodeFingerprint(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(decoded) != 2 || decoded[0] != 0.25 {
		t.Fatalf("round trip lost data: %v", decoded)
	}

	if _, err := EncodeFingerprint([]float64{1}); err != nil {
		t.Fatalf("finite vector must encode: %v", err)
	}
	if _, err := EncodeFingerprint(nil); err == nil {
		t.Fatalf("empty vector must be rejected")
	}
	if _, err := DecodeFingerprint("[]"); err == nil {
		t.Fatalf("empty stored vector must be rejected")
	}
}

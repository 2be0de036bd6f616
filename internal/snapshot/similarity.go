package snapshot

// dotProductSimilarity scores two equal-length embeddings on a 0-100
// scale (dot product scaled by 100). Mismatched or empty vectors score
// zero rather than panicking.
func dotProductSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	score := sum * 100
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	default:
		return score
	}
}

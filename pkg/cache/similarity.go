package cache

import (
	"encoding/hex"
	"math"

	"github.com/zeebo/xxh3"
)

// similarityEpsilon absorbs float rounding so a threshold of 1.0 still
// accepts an identical embedding.
const similarityEpsilon = 1e-9

// Key derives the exact-match key for a prompt in a workflow/stage/model scope.
func Key(workflow, stage, prompt, model string) string {
	h := xxh3.HashString128(workflow + "\x00" + stage + "\x00" + model + "\x00" + prompt)
	b := h.Bytes()
	return hex.EncodeToString(b[:])
}

// cosine returns the cosine similarity of a and b. Vectors of different
// length are incomparable and report ok=false. A zero vector has similarity 0.
func cosine(a, b []float64) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0, true
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}

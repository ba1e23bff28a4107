package sqlite

import (
	"encoding/binary"
	"fmt"
	"math"
)

// encodeVector packs a []float32 into the little-endian BLOB format the
// embedding column stores. There is no separate vector index structure to
// keep in sync with it: NearestNeighbors scans this column directly (see
// its doc comment), so the packed blob IS the index, and RebuildIndex's
// job is validating/repairing this encoding rather than rebuilding a
// side table.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("sqlite: vector blob length %d not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

// cosineSimilarity computes cosine similarity between two equal-length
// unit-ish vectors. Embeddings are expected unit-norm, but
// this normalizes defensively so a non-unit vector (e.g. from a test
// fixture) still yields a meaningful score instead of a silently wrong one.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

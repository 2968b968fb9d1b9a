package vectorindex

import (
	"hash/fnv"
	"math"

	"github.com/Epiphytic/captain-hook/internal/jaccard"
)

// Dims is the fixed dimensionality of the local embedding. No pack example
// bundles a local embedding model or a vector database that runs without an
// external server (qdrant and pgvector clients both require one), so this
// is a hand-rolled feature-hashing embedding: each token from
// jaccard.Tokenize is hashed into a bucket and its sign contributes +1/-1,
// producing a reproducible, dependency-free vector good enough to rank
// near-duplicate tool inputs. See DESIGN.md for why no third-party
// embedding library could serve this component.
const Dims = 128

// Embedding is a unit-normalized feature vector.
type Embedding [Dims]float32

// Embed tokenizes text identically to the Jaccard tier and hashes each
// token into the embedding via simple feature hashing with a sign
// function, then L2-normalizes the result so dot product equals cosine
// similarity.
func Embed(text string) Embedding {
	var v Embedding
	tokens := jaccard.Tokenize(text)
	for _, tok := range tokens {
		idx, sign := hashToken(tok)
		v[idx] += sign
	}
	normalize(&v)
	return v
}

func hashToken(tok string) (int, float32) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tok))
	sum := h.Sum32()
	idx := int(sum % uint32(Dims))
	sign := float32(1)
	if sum&(1<<31) != 0 {
		sign = -1
	}
	return idx, sign
}

func normalize(v *Embedding) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range v {
		v[i] /= norm
	}
}

// Cosine computes the cosine similarity of two unit-normalized vectors
// (a plain dot product, since both sides are already normalized).
func Cosine(a, b Embedding) float32 {
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot
}

// Package retrieval bounds the cost of similarity search over a note's
// embeddings. A note can be arbitrarily long; querying every chunk embedding
// makes search cost proportional to note length. Sampling a fixed number of
// evenly-spread embeddings keeps the worst case at O(maxQueries) while still
// covering the document from start to end instead of truncating to a prefix.
package retrieval

import "math"

// Embedding is one chunk's vector. A note's embeddings form an ordered
// sequence indexed by chunk position in the source document, so index order
// approximates document position.
type Embedding []float32

// SelectEmbeddingsForSimilaritySearch picks a bounded, evenly-spread subset
// of embeddings to query.
//
// When the input already fits within maxQueries it is returned unchanged.
// For maxQueries of 1 the middle element is chosen as the single best
// positional proxy for a document of unknown relevance. Otherwise indices
// are spaced evenly across [0, len-1], so the first and last chunks are
// always represented. Rounding collisions could only produce duplicates when
// maxQueries approaches len, and that range is handled by the identity
// branch, so in practice every selected index is distinct.
func SelectEmbeddingsForSimilaritySearch(embeddings []Embedding, maxQueries int) []Embedding {
	if maxQueries <= 0 || len(embeddings) == 0 {
		return nil
	}
	if len(embeddings) <= maxQueries {
		return embeddings
	}
	if maxQueries == 1 {
		return []Embedding{embeddings[len(embeddings)/2]}
	}

	selected := make([]Embedding, 0, maxQueries)
	span := float64(len(embeddings) - 1)
	for q := 0; q < maxQueries; q++ {
		idx := int(math.Round(float64(q) * span / float64(maxQueries-1)))
		selected = append(selected, embeddings[idx])
	}
	return selected
}

package search

import (
	"sort"

	"github.com/rs/zerolog/log"

	"codescout/internal/types"
)

const defaultLambda = 0.5

// DeduplicateSnippets drops overlapping snippets, then selects a
// relevant-but-diverse subset of size outputCount via MMR.
func DeduplicateSnippets(allSnippets []types.Snippet, queryEmbedding types.Embedding, outputCount int) []types.Snippet {
	snippets := FilterOverlappingSnippets(allSnippets)

	embeddings := make([]types.Embedding, len(snippets))
	languages := make([]string, len(snippets))
	paths := make([]string, len(snippets))
	for i, s := range snippets {
		embeddings[i] = s.Embedding
		languages[i] = s.Language
		paths[i] = s.RelativePath
	}

	idxs := DeduplicateWithMMR(queryEmbedding, embeddings, languages, paths, defaultLambda, outputCount)
	log.Debug().Ints("kept", idxs).Msg("mmr_selection")

	keep := make(map[int]bool, len(idxs))
	for _, i := range idxs {
		keep[i] = true
	}
	out := make([]types.Snippet, 0, len(idxs))
	for i, s := range snippets {
		if keep[i] {
			out = append(out, s)
		}
	}
	return out
}

// FilterOverlappingSnippets drops any snippet whose start line falls
// inside the previously kept snippet's range on the same path, then
// orders the survivors by score descending.
func FilterOverlappingSnippets(snippets []types.Snippet) []types.Snippet {
	sorted := make([]types.Snippet, len(snippets))
	copy(sorted, snippets)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].RelativePath != sorted[j].RelativePath {
			return sorted[i].RelativePath < sorted[j].RelativePath
		}
		return sorted[i].StartLine < sorted[j].StartLine
	})

	deduped := sorted[:0]
	for _, snippet := range sorted {
		if len(deduped) > 0 {
			prev := deduped[len(deduped)-1]
			if prev.RelativePath == snippet.RelativePath && prev.EndLine >= snippet.StartLine {
				log.Debug().
					Str("path", snippet.RelativePath).
					Int("prev_end", prev.EndLine).
					Int("start", snippet.StartLine).
					Msg("overlap_dropped")
				continue
			}
		}
		deduped = append(deduped, snippet)
	}

	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].Score > deduped[j].Score
	})
	return deduped
}

// DeduplicateWithMMR returns the indices to preserve from the candidate
// embeddings. Selection greedily maximizes a weighted sum of relevance to
// the query and novelty against the running selection, with bonus terms
// encouraging a spread of languages ((1/2)^n) and paths ((3/4)^n), where
// n counts prior selections of that language or path.
func DeduplicateWithMMR(queryEmbedding types.Embedding, embeddings []types.Embedding, languages, paths []string, lambda float32, k int) []int {
	var idxs []int
	langCounts := map[string]int{}
	pathCounts := map[string]int{}

	if len(embeddings) < k {
		idxs = make([]int, len(embeddings))
		for i := range embeddings {
			idxs[i] = i
		}
		return idxs
	}

	selected := make([]bool, len(embeddings))
	for len(idxs) < k {
		bestScore := float32(negInf)
		idxToAdd := -1

		for i, emb := range embeddings {
			if selected[i] {
				continue
			}
			firstPart := cosineSimilarity(queryEmbedding, emb)
			var secondPart float32
			for _, j := range idxs {
				if cos := cosineSimilarity(emb, embeddings[j]); cos > secondPart {
					secondPart = cos
				}
			}
			score := lambda*firstPart - (1-lambda)*secondPart
			score += powf(0.5, langCounts[languages[i]])
			score += powf(0.75, pathCounts[paths[i]])

			if score > bestScore {
				bestScore = score
				idxToAdd = i
			}
		}
		if idxToAdd < 0 {
			break
		}
		idxs = append(idxs, idxToAdd)
		selected[idxToAdd] = true
		langCounts[languages[idxToAdd]]++
		pathCounts[paths[idxToAdd]]++
	}
	return idxs
}

const negInf = float32(-1e38)

func powf(base float32, n int) float32 {
	out := float32(1)
	for i := 0; i < n; i++ {
		out *= base
	}
	return out
}

func dot(a, b types.Embedding) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// norm is the squared L2 norm. The cosine denominator below multiplies
// squared norms rather than their roots; this scaling is load-bearing for
// selection parity and must not be "fixed".
func norm(a types.Embedding) float32 {
	return dot(a, a)
}

func cosineSimilarity(a, b types.Embedding) float32 {
	return dot(a, b) / (norm(a) * norm(b))
}

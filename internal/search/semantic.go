package search

import (
	"context"

	"github.com/rs/zerolog/log"

	"codescout/internal/embed"
	"codescout/internal/llm"
	"codescout/internal/prompts"
	"codescout/internal/types"
	"codescout/internal/vecstore"
)

// maxHydeDocs caps how many hypothetical documents feed the search.
const maxHydeDocs = 3

// Semantic ties the encoder, vector store, and gateway together for one
// repository-scoped retrieval call. The struct is cheap; all members are
// process-wide singletons.
type Semantic struct {
	Encoder    *embed.Encoder
	Store      *vecstore.Store
	Gateway    *llm.Client
	ResultSize int
}

// SearchCode retrieves a diverse set of snippets for the query. Up to
// three hypothetical documents are generated and embedded alongside the
// raw target; each embedding searches the code collection, and the
// concatenated candidates are deduplicated with MMR against the target
// embedding.
func (s *Semantic) SearchCode(ctx context.Context, repoName string, q SemanticQuery) ([]types.Snippet, error) {
	texts := []string{q.Target}
	texts = append(texts, s.hypotheticalDocuments(ctx, q.Target)...)

	vectors, err := s.Encoder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	filters := map[string]string{vecstore.FieldRepoName: repoName}
	if len(q.Langs) > 0 {
		filters[vecstore.FieldLang] = q.Langs[0]
	}
	if len(q.Paths) > 0 {
		filters[vecstore.FieldRelativePath] = q.Paths[0]
	}

	var candidates []types.Snippet
	for _, vec := range vectors {
		hits, err := s.Store.SearchCode(ctx, vec, filters, s.ResultSize)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, hits...)
	}

	queryEmbedding := vectors[0]
	return DeduplicateSnippets(candidates, queryEmbedding, s.ResultSize), nil
}

// SearchPaths retrieves similar pathnames for the query.
func (s *Semantic) SearchPaths(ctx context.Context, repoName, query string) ([]types.PathHit, error) {
	vec, err := s.Encoder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.Store.SearchPaths(ctx, vec, repoName, s.ResultSize)
}

// hypotheticalDocuments asks the model for plausible snippets matching
// the query. Failures degrade to searching on the raw query alone.
func (s *Semantic) hypotheticalDocuments(ctx context.Context, query string) []string {
	completion, err := s.Gateway.Chat(ctx, []llm.Message{
		llm.User(prompts.HypotheticalDocument(query)),
	}, nil)
	if err != nil {
		log.Warn().Err(err).Msg("hyde_generation_failed")
		return nil
	}
	docs := prompts.ParseHypotheticalDocuments(completion.Content)
	if len(docs) > maxHydeDocs {
		docs = docs[:maxHydeDocs]
	}
	return docs
}

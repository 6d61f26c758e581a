// Package vecstore wraps the Qdrant collections holding indexed code
// chunks and repository paths.
package vecstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/qdrant/go-client/qdrant"

	"codescout/internal/config"
	"codescout/internal/types"
)

// Payload field keys shared with the ingestion side.
const (
	FieldRepoName     = "repo_name"
	FieldLang         = "lang"
	FieldRelativePath = "relative_path"
	FieldStartLine    = "start_line"
	FieldEndLine      = "end_line"
	FieldContent      = "content"
)

// Store is the process-wide vector store client. It is safe for use from
// concurrent requests; scores are comparable only within a single call.
type Store struct {
	client         *qdrant.Client
	codeCollection string
	pathCollection string
}

// NewStore connects to Qdrant via its gRPC API (port 6334 by default).
// An API key may be supplied as a query parameter on the DSN:
// "https://host:6334?api_key=...".
func NewStore(cfg config.QdrantConfig) (*Store, error) {
	parsedURL, err := url.Parse(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse Qdrant DSN: %w", err)
	}
	host := parsedURL.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsedURL.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid port in Qdrant DSN: %w", err)
	}
	qcfg := &qdrant.Config{
		Host: host,
		Port: portNum,
	}
	if parsedURL.Scheme == "https" {
		qcfg.UseTLS = true
	}
	if apiKey := parsedURL.Query().Get("api_key"); apiKey != "" {
		qcfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, fmt.Errorf("create Qdrant client: %w", err)
	}
	return &Store{
		client:         client,
		codeCollection: cfg.CodeCollection,
		pathCollection: cfg.PathCollection,
	}, nil
}

// SearchCode runs a top-k search over the code-chunk collection. Filters
// are AND-composed exact keyword matches (repo_name, lang,
// relative_path). Stored vectors are returned with each hit so the
// deduplicator can compute pairwise similarity.
func (s *Store) SearchCode(ctx context.Context, vector []float32, filters map[string]string, limit int) ([]types.Snippet, error) {
	if limit <= 0 {
		limit = 10
	}
	lim := uint64(limit)
	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.codeCollection,
		Query:          qdrant.NewQueryDense(vector),
		Limit:          &lim,
		Filter:         keywordFilter(filters),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant code search: %w", err)
	}

	snippets := make([]types.Snippet, 0, len(hits))
	for _, hit := range hits {
		snippets = append(snippets, snippetFromPoint(hit))
	}
	return snippets, nil
}

// SearchPaths runs a top-k search over the path collection, where file
// paths are indexed as short texts.
func (s *Store) SearchPaths(ctx context.Context, vector []float32, repoName string, limit int) ([]types.PathHit, error) {
	if limit <= 0 {
		limit = 10
	}
	lim := uint64(limit)
	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.pathCollection,
		Query:          qdrant.NewQueryDense(vector),
		Limit:          &lim,
		Filter:         keywordFilter(map[string]string{FieldRepoName: repoName}),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant path search: %w", err)
	}

	paths := make([]types.PathHit, 0, len(hits))
	for _, hit := range hits {
		path := ""
		if hit.Payload != nil {
			if v, ok := hit.Payload[FieldRelativePath]; ok {
				path = v.GetStringValue()
			}
		}
		if path == "" {
			continue
		}
		paths = append(paths, types.PathHit{Path: path, Score: hit.Score})
	}
	return paths, nil
}

func (s *Store) Close() error { return s.client.Close() }

// keywordFilter builds an AND-composed exact-match filter; nil when no
// predicates are set.
func keywordFilter(filters map[string]string) *qdrant.Filter {
	must := make([]*qdrant.Condition, 0, len(filters))
	for k, v := range filters {
		if v == "" {
			continue
		}
		must = append(must, qdrant.NewMatch(k, v))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

func snippetFromPoint(hit *qdrant.ScoredPoint) types.Snippet {
	var sn types.Snippet
	sn.Score = hit.Score
	if hit.Payload != nil {
		if v, ok := hit.Payload[FieldRelativePath]; ok {
			sn.RelativePath = v.GetStringValue()
		}
		if v, ok := hit.Payload[FieldLang]; ok {
			sn.Language = v.GetStringValue()
		}
		if v, ok := hit.Payload[FieldContent]; ok {
			sn.Content = v.GetStringValue()
		}
		if v, ok := hit.Payload[FieldStartLine]; ok {
			sn.StartLine = int(v.GetIntegerValue())
		}
		if v, ok := hit.Payload[FieldEndLine]; ok {
			sn.EndLine = int(v.GetIntegerValue())
		}
	}
	if vecs := hit.GetVectors(); vecs != nil {
		if dense := vecs.GetVector(); dense != nil {
			sn.Embedding = dense.GetData()
		}
	}
	return sn
}

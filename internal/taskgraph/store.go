package taskgraph

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"codescout/internal/config"
)

// ErrNotFound marks a conversation id with no persisted graph.
var ErrNotFound = errors.New("conversation not found")

// Store persists task graphs in the session store, one key per
// conversation. Per-key SET/GET are atomic, which is the only
// serialization the ownership model needs.
type Store struct {
	client redis.UniversalClient
}

// NewStore connects to the session store and verifies it responds.
func NewStore(cfg config.RedisConfig) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("session store ping: %w", err)
	}
	return &Store{client: client}, nil
}

// NewStoreWithClient wraps an existing client; tests use this with
// miniredis.
func NewStoreWithClient(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

func key(conversationID string) string {
	return "conversation:" + conversationID
}

// Save persists the graph under its conversation id. Called after every
// mutation so a crash loses at most the in-flight turn.
func (s *Store) Save(ctx context.Context, g *Graph) error {
	data, err := g.Marshal()
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}
	if err := s.client.Set(ctx, key(g.ConversationID), data, 0).Err(); err != nil {
		return fmt.Errorf("persist graph: %w", err)
	}
	log.Debug().Str("conversation_id", g.ConversationID).Int("nodes", len(g.Nodes)).Msg("graph_persisted")
	return nil
}

// Load restores the graph for a conversation id.
func (s *Store) Load(ctx context.Context, conversationID string) (*Graph, error) {
	data, err := s.client.Get(ctx, key(conversationID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, conversationID)
		}
		return nil, fmt.Errorf("load graph: %w", err)
	}
	return Unmarshal(data)
}

// Close releases the underlying connection.
func (s *Store) Close() error { return s.client.Close() }

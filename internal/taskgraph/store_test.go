package taskgraph

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStoreWithClient(client)
}

func TestStore_SaveLoad(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	g := New()
	if err := g.Initialize("abc-123", "repo"); err != nil {
		t.Fatal(err)
	}
	if _, err := g.ExtendWithConversation(ConversationChain{
		UserMessage:      "hello",
		SystemMessage:    "sys",
		AssistantMessage: "{}",
	}); err != nil {
		t.Fatal(err)
	}

	if err := store.Save(ctx, g); err != nil {
		t.Fatal(err)
	}
	loaded, err := store.Load(ctx, "abc-123")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(g, loaded) {
		t.Fatalf("loaded graph differs:\n%+v\n%+v", g, loaded)
	}
}

func TestStore_LoadMissing(t *testing.T) {
	store := testStore(t)
	_, err := store.Load(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_SaveOverwrites(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	g := New()
	if err := g.Initialize("xyz", "repo"); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, g); err != nil {
		t.Fatal(err)
	}
	if _, err := g.ExtendWithConversation(ConversationChain{UserMessage: "u"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, g); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Load(ctx, "xyz")
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Nodes) != len(g.Nodes) {
		t.Fatalf("expected %d nodes after overwrite, got %d", len(g.Nodes), len(loaded.Nodes))
	}
}

package taskgraph

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the current persisted-graph schema version. Unknown versions
// fail to load.
const Version = 1

// ErrVersionMismatch marks a persisted graph written by an unsupported
// schema version.
var ErrVersionMismatch = errors.New("persisted graph version not supported")

type persistedRoot struct {
	ConversationID string `json:"conversation_id"`
	RepoName       string `json:"repo_name"`
}

type persistedGraph struct {
	Version int           `json:"version"`
	Root    persistedRoot `json:"root"`
	Nodes   []Node        `json:"nodes"`
	Edges   []Edge        `json:"edges"`
}

// Marshal serializes the graph for the session store.
func (g *Graph) Marshal() ([]byte, error) {
	return json.Marshal(persistedGraph{
		Version: Version,
		Root: persistedRoot{
			ConversationID: g.ConversationID,
			RepoName:       g.RepoName,
		},
		Nodes: g.Nodes,
		Edges: g.Edges,
	})
}

// Unmarshal restores a graph persisted by Marshal.
func Unmarshal(data []byte) (*Graph, error) {
	var p persistedGraph
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode persisted graph: %w", err)
	}
	if p.Version != Version {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, p.Version, Version)
	}
	return &Graph{
		ConversationID: p.Root.ConversationID,
		RepoName:       p.Root.RepoName,
		Nodes:          p.Nodes,
		Edges:          p.Edges,
	}, nil
}

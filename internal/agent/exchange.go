package agent

import (
	"github.com/google/uuid"

	"codescout/internal/types"
)

// StepKind discriminates SearchStep variants.
type StepKind string

const (
	StepPath StepKind = "path"
	StepCode StepKind = "code"
	StepProc StepKind = "proc"
)

// ExtractedRanges records the line ranges one proc call pulled from a
// file.
type ExtractedRanges struct {
	Path   string   `json:"path"`
	Ranges [][2]int `json:"ranges"`
}

// SearchStep is one dispatched retrieval action and its outcome. Exactly
// the fields for its kind are set; Error is recorded when the tool call
// failed and the loop moved on.
type SearchStep struct {
	Kind        StepKind          `json:"kind"`
	Query       string            `json:"query"`
	PathResults []types.PathHit   `json:"path_results,omitempty"`
	Snippets    []types.Snippet   `json:"snippets,omitempty"`
	PathIndices []int             `json:"path_indices,omitempty"`
	Extracted   []ExtractedRanges `json:"extracted,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// Exchange is one user turn with its evidence stream: the ordered search
// steps, every path surfaced so far (first-seen order, deduplicated), and
// the final answer once the loop terminates.
type Exchange struct {
	ID          uuid.UUID    `json:"id"`
	Query       string       `json:"query"`
	SearchSteps []SearchStep `json:"search_steps"`
	PathsSeen   []string     `json:"paths_seen"`
	Answer      string       `json:"answer,omitempty"`
	LastError   string       `json:"last_error,omitempty"`

	pathIndex map[string]int
}

// NewExchange starts an exchange for one query.
func NewExchange(id uuid.UUID, query string) *Exchange {
	return &Exchange{ID: id, Query: query, pathIndex: map[string]int{}}
}

// SeePath records a path in first-seen order and returns its stable
// index.
func (e *Exchange) SeePath(path string) int {
	if e.pathIndex == nil {
		e.pathIndex = map[string]int{}
		for i, p := range e.PathsSeen {
			e.pathIndex[p] = i
		}
	}
	if i, ok := e.pathIndex[path]; ok {
		return i
	}
	i := len(e.PathsSeen)
	e.PathsSeen = append(e.PathsSeen, path)
	e.pathIndex[path] = i
	return i
}

// PathForIndex resolves a path-table index from the current snapshot.
func (e *Exchange) PathForIndex(i int) (string, bool) {
	if i < 0 || i >= len(e.PathsSeen) {
		return "", false
	}
	return e.PathsSeen[i], true
}

// ExtractedForPath collects every range a prior proc step pulled from the
// given path in this exchange.
func (e *Exchange) ExtractedForPath(path string) [][2]int {
	var ranges [][2]int
	for _, step := range e.SearchSteps {
		if step.Kind != StepProc {
			continue
		}
		for _, ex := range step.Extracted {
			if ex.Path == path {
				ranges = append(ranges, ex.Ranges...)
			}
		}
	}
	return ranges
}

// ProcessedPaths returns the set of paths already consumed by proc steps,
// so repeat extraction of the same file is rejected.
func (e *Exchange) ProcessedPaths() map[string]bool {
	done := map[string]bool{}
	for _, step := range e.SearchSteps {
		if step.Kind != StepProc {
			continue
		}
		for _, ex := range step.Extracted {
			done[ex.Path] = true
		}
	}
	return done
}

// Compressed reduces the exchange to its user/assistant text for LM
// context in later turns.
func (e *Exchange) Compressed() (query, answer string) {
	return e.Query, e.Answer
}

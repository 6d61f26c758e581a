// Package agent drives one retrieval exchange: a tool-calling loop that
// alternates model decisions with semantic search, path search, and file
// extraction until the model answers.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"codescout/internal/llm"
	"codescout/internal/prompts"
	"codescout/internal/search"
	"codescout/internal/services"
	"codescout/internal/types"
)

// maxProcPaths caps how many files one proc call may extract from.
const maxProcPaths = 5

// selection retries before the exchange is abandoned.
const maxSelectAttempts = 3

// Gateway is the slice of the LM client the loop needs.
type Gateway interface {
	Chat(ctx context.Context, msgs []llm.Message, fns []llm.Function) (llm.Completion, error)
	ChatStream(ctx context.Context, msgs []llm.Message, fns []llm.Function, h llm.StreamHandler) (llm.Completion, error)
}

// Searcher answers code and path searches scoped to a repository.
type Searcher interface {
	SearchCode(ctx context.Context, repoName string, q search.SemanticQuery) ([]types.Snippet, error)
	SearchPaths(ctx context.Context, repoName, query string) ([]types.PathHit, error)
}

// FileFetcher reaches the ingestion side for file content and spans.
type FileFetcher interface {
	FetchFile(ctx context.Context, repo, path string) (string, error)
	FetchSpans(ctx context.Context, req services.SpanRequest) ([]types.CodeChunk, error)
}

// Agent owns one exchange plus the compressed history of prior turns in
// the conversation.
type Agent struct {
	Gateway   Gateway
	Search    Searcher
	Ingestion FileFetcher
	RepoName  string
	MaxSteps  int
	// Langs carries any language filters parsed from the user query into
	// every code search of this exchange.
	Langs []string
	// History holds completed prior exchanges, oldest first.
	History []*Exchange
	// Exchange is the turn in flight.
	Exchange *Exchange
	// OnDelta, if set, receives answer content as it streams.
	OnDelta func(string)

	issuedCalls map[string]bool
	turn        []llm.Message
}

// Run executes the loop until the model answers or the step budget runs
// out. Tool failures are recorded on the exchange and the loop proceeds;
// step exhaustion and selection failures record the error and return it.
func (a *Agent) Run(ctx context.Context) error {
	if a.MaxSteps <= 0 {
		a.MaxSteps = 10
	}
	a.issuedCalls = map[string]bool{}

	action := Action{Kind: ActionQuery, Text: a.Exchange.Query}
	for step := 0; step < a.MaxSteps; step++ {
		log.Debug().Str("kind", string(action.Kind)).Int("step", step).Msg("agent_step")

		if err := a.dispatch(ctx, action); err != nil {
			a.Exchange.LastError = err.Error()
			return err
		}
		if action.Terminal() {
			return nil
		}

		next, err := a.selectAction(ctx)
		if err != nil {
			a.Exchange.LastError = err.Error()
			return err
		}
		action = next
	}

	err := fmt.Errorf("no answer after %d steps", a.MaxSteps)
	a.Exchange.LastError = err.Error()
	return err
}

// selectAction asks the model for the next function call, rejecting
// repeats and recovering one bad completion.
func (a *Agent) selectAction(ctx context.Context) (Action, error) {
	fns := prompts.Functions(len(a.Exchange.PathsSeen) > 0)
	retriedBadCompletion := false

	for attempt := 0; attempt < maxSelectAttempts; attempt++ {
		completion, err := a.Gateway.Chat(ctx, a.buildMessages(), fns)
		if err != nil {
			return Action{}, err
		}

		action, err := ParseAction(completion.FunctionCall)
		if err != nil {
			if errors.Is(err, llm.ErrBadCompletion) && !retriedBadCompletion {
				retriedBadCompletion = true
				log.Warn().Err(err).Msg("bad_completion_retry")
				a.turn = append(a.turn, llm.System(
					"Your previous response was not a valid function call. Respond with exactly one of the listed functions and well-formed JSON arguments."))
				continue
			}
			return Action{}, err
		}

		key := callKey(action.Call)
		if a.issuedCalls[key] {
			log.Warn().Str("function", action.Call.Name).Msg("repeated_call_rejected")
			a.turn = append(a.turn,
				llm.FunctionCallMessage(*action.Call),
				llm.FunctionReturn(action.Call.Name,
					"You have already called this function with identical arguments. Call a different function, or the same function with significantly different arguments."))
			continue
		}
		a.issuedCalls[key] = true
		return action, nil
	}

	return Action{}, fmt.Errorf("no acceptable function call after %d attempts", maxSelectAttempts)
}

func (a *Agent) dispatch(ctx context.Context, action Action) error {
	switch action.Kind {
	case ActionQuery:
		// Bootstrap; nothing to execute.
		return nil
	case ActionCode:
		a.dispatchCode(ctx, action)
	case ActionPath:
		a.dispatchPath(ctx, action)
	case ActionProc:
		a.dispatchProc(ctx, action)
	case ActionAnswer:
		return a.dispatchAnswer(ctx, action)
	}
	return nil
}

func (a *Agent) dispatchCode(ctx context.Context, action Action) {
	step := SearchStep{Kind: StepCode, Query: action.Text}
	snippets, err := a.Search.SearchCode(ctx, a.RepoName, search.SemanticQuery{Target: action.Text, Langs: a.Langs})
	if err != nil {
		log.Error().Err(err).Str("query", action.Text).Msg("code_search_failed")
		step.Error = err.Error()
		a.recordStep(step, action, "error running code search: "+err.Error())
		return
	}

	step.Snippets = snippets
	var out strings.Builder
	for _, sn := range snippets {
		alias := a.Exchange.SeePath(sn.RelativePath)
		fmt.Fprintf(&out, "### path alias %d: %s (lines %d-%d) ###\n%s\n\n",
			alias, sn.RelativePath, sn.StartLine, sn.EndLine, sn.Content)
	}
	if out.Len() == 0 {
		out.WriteString("no results")
	}
	a.recordStep(step, action, out.String())
}

func (a *Agent) dispatchPath(ctx context.Context, action Action) {
	step := SearchStep{Kind: StepPath, Query: action.Text}
	hits, err := a.Search.SearchPaths(ctx, a.RepoName, action.Text)
	if err != nil {
		log.Error().Err(err).Str("query", action.Text).Msg("path_search_failed")
		step.Error = err.Error()
		a.recordStep(step, action, "error running path search: "+err.Error())
		return
	}

	step.PathResults = hits
	var out strings.Builder
	out.WriteString("index, path\n")
	for _, hit := range hits {
		alias := a.Exchange.SeePath(hit.Path)
		fmt.Fprintf(&out, "%d, %s\n", alias, hit.Path)
	}
	if len(hits) == 0 {
		out.Reset()
		out.WriteString("no results")
	}
	a.recordStep(step, action, out.String())
}

func (a *Agent) dispatchProc(ctx context.Context, action Action) {
	indices := action.Indices
	if len(indices) > maxProcPaths {
		indices = indices[:maxProcPaths]
	}

	step := SearchStep{Kind: StepProc, Query: action.Text}
	processed := a.Exchange.ProcessedPaths()
	var out strings.Builder

	for _, idx := range indices {
		path, ok := a.Exchange.PathForIndex(idx)
		if !ok {
			log.Warn().Int("index", idx).Msg("proc_index_out_of_range")
			continue
		}
		if processed[path] {
			continue
		}
		processed[path] = true
		step.PathIndices = append(step.PathIndices, idx)

		ranges, rendered, err := a.explainFile(ctx, action.Text, path)
		if err != nil {
			log.Error().Err(err).Str("path", path).Msg("proc_failed")
			step.Error = err.Error()
			continue
		}
		step.Extracted = append(step.Extracted, ExtractedRanges{Path: path, Ranges: ranges})
		out.WriteString(rendered)
	}

	if out.Len() == 0 {
		out.WriteString("no relevant ranges found")
	}
	a.recordStep(step, action, out.String())
}

// explainFile fetches a file, numbers its lines, and asks the model for
// the ranges relevant to the query.
func (a *Agent) explainFile(ctx context.Context, query, path string) ([][2]int, string, error) {
	content, err := a.Ingestion.FetchFile(ctx, a.RepoName, path)
	if err != nil {
		return nil, "", err
	}

	lines := strings.Split(content, "\n")
	var numbered strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&numbered, "%d: %s\n", i+1, line)
	}

	completion, err := a.Gateway.Chat(ctx, []llm.Message{
		llm.User(prompts.FileExplanation(query, path, numbered.String())),
	}, nil)
	if err != nil {
		return nil, "", err
	}

	ranges := parseLineRanges(completion.Content, len(lines))
	var rendered strings.Builder
	for _, r := range ranges {
		fmt.Fprintf(&rendered, "### %s ###\n", path)
		for n := r[0]; n <= r[1]; n++ {
			fmt.Fprintf(&rendered, "%d: %s\n", n, lines[n-1])
		}
		rendered.WriteString("\n")
	}
	return ranges, rendered.String(), nil
}

// parseLineRanges pulls the [[start,end],...] array out of the model's
// reply, clamped to the file. Anything unparseable yields no ranges.
func parseLineRanges(reply string, lineCount int) [][2]int {
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start < 0 || end <= start {
		return nil
	}
	var raw [][]int
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return nil
	}
	var ranges [][2]int
	for _, pair := range raw {
		if len(pair) != 2 {
			continue
		}
		s, e := pair[0], pair[1]
		if s < 1 {
			s = 1
		}
		if e > lineCount {
			e = lineCount
		}
		if s > e {
			continue
		}
		ranges = append(ranges, [2]int{s, e})
	}
	return ranges
}

// recordStep appends the step to the exchange and replays the call and
// its result into the turn history for the next model consultation.
func (a *Agent) recordStep(step SearchStep, action Action, result string) {
	a.Exchange.SearchSteps = append(a.Exchange.SearchSteps, step)
	if action.Call != nil {
		a.turn = append(a.turn,
			llm.FunctionCallMessage(*action.Call),
			llm.FunctionReturn(action.Call.Name, result),
		)
	}
}

// buildMessages assembles the model context: the system prompt with the
// current paths table, prior exchanges compressed to role+text, the
// current query, then this turn's function traffic.
func (a *Agent) buildMessages() []llm.Message {
	msgs := []llm.Message{llm.System(prompts.System(a.Exchange.PathsSeen))}
	for _, prior := range a.History {
		query, answer := prior.Compressed()
		msgs = append(msgs, llm.User(query), llm.Assistant(answer))
	}
	msgs = append(msgs, llm.User(a.Exchange.Query))
	msgs = append(msgs, a.turn...)
	return msgs
}

func callKey(call *llm.FunctionCall) string {
	args := call.Arguments
	// Canonicalize so formatting differences don't defeat the repeat
	// check; map marshaling sorts keys.
	var parsed map[string]any
	if err := json.Unmarshal([]byte(call.Arguments), &parsed); err == nil {
		if b, err := json.Marshal(parsed); err == nil {
			args = string(b)
		}
	}
	return call.Name + "\x00" + args
}

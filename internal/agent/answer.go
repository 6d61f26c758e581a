package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"codescout/internal/llm"
	"codescout/internal/prompts"
	"codescout/internal/services"
)

// dispatchAnswer assembles the context for the referenced paths and
// streams the final completion into the exchange. Terminal.
func (a *Agent) dispatchAnswer(ctx context.Context, action Action) error {
	var paths []string
	for _, idx := range action.Indices {
		if path, ok := a.Exchange.PathForIndex(idx); ok {
			paths = append(paths, path)
		} else {
			log.Warn().Int("index", idx).Msg("answer_index_out_of_range")
		}
	}

	answerCtx, err := a.buildAnswerContext(ctx, paths)
	if err != nil {
		a.Exchange.LastError = err.Error()
		return err
	}

	prompt := prompts.AnswerArticle(len(paths), answerCtx)
	completion, err := a.Gateway.ChatStream(ctx, []llm.Message{
		llm.System(prompt),
		llm.User(a.Exchange.Query),
	}, nil, llm.StreamFunc(func(delta string) {
		if a.OnDelta != nil {
			a.OnDelta(delta)
		}
	}))
	if err != nil {
		a.Exchange.LastError = err.Error()
		return err
	}

	a.Exchange.Answer = completion.Content
	return nil
}

// buildAnswerContext renders the referenced paths and their extracted
// chunks, lines numbered from each chunk's start.
func (a *Agent) buildAnswerContext(ctx context.Context, paths []string) (string, error) {
	var s strings.Builder

	s.WriteString("#### PATHS ####\n")
	for _, path := range paths {
		fmt.Fprintf(&s, "%s:%s\n", a.RepoName, path)
	}
	s.WriteString("#### CODE CHUNKS ####\n\n")

	for _, path := range paths {
		chunks, err := a.Ingestion.FetchSpans(ctx, services.SpanRequest{
			Repo:   a.RepoName,
			Path:   path,
			Ranges: a.Exchange.ExtractedForPath(path),
		})
		if err != nil {
			return "", fmt.Errorf("build answer context: %w", err)
		}
		for _, chunk := range chunks {
			fmt.Fprintf(&s, "### %s:%s ###\n", a.RepoName, path)
			for i, line := range strings.Split(chunk.Snippet, "\n") {
				fmt.Fprintf(&s, "%d: %s\n", chunk.StartLine+i, line)
			}
			s.WriteString("\n")
		}
	}
	return s.String(), nil
}

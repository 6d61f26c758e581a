// Package suggest orchestrates a conversation turn: it plans tasks and
// questions for the user's query, fans out answer retrieval, and records
// everything in the persisted task graph.
package suggest

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"codescout/internal/llm"
	"codescout/internal/taskgraph"
	"codescout/internal/types"
)

// ErrInvalidState marks a conversation whose derived stage cannot be
// advanced.
var ErrInvalidState = errors.New("invalid conversation state")

// Request is one /suggest call. ID resumes an existing conversation.
type Request struct {
	ID        string `json:"id,omitempty"`
	UserQuery string `json:"user_query"`
	RepoName  string `json:"repo_name"`
}

// Response carries the task hierarchy and any answers gathered so far.
// AskUser is set when the model needs more context before planning.
type Response struct {
	ID                   string                     `json:"id"`
	QuestionsWithAnswers []types.QuestionWithAnswer `json:"questions_with_answers,omitempty"`
	AskUser              string                     `json:"ask_user,omitempty"`
	Tasks                []types.Task               `json:"tasks"`
}

// Gateway is the slice of the LM client task generation needs.
type Gateway interface {
	Chat(ctx context.Context, msgs []llm.Message, fns []llm.Function) (llm.Completion, error)
}

// AnswerFetcher resolves one question against the codebase.
type AnswerFetcher interface {
	RetrieveCode(ctx context.Context, query, repo string) (types.CodeUnderstanding, error)
}

// Controller owns the task graph for the duration of one request.
type Controller struct {
	Gateway    Gateway
	Store      *taskgraph.Store
	Understand AnswerFetcher
	// FanOut caps concurrent code-understanding calls.
	FanOut int
}

// Handle advances the conversation by one controller pass. Every branch
// either transitions to a strictly later stage, returns, or fails, so
// the loop terminates.
func (c *Controller) Handle(ctx context.Context, req Request) (Response, error) {
	graph, id, err := c.loadOrCreate(ctx, req)
	if err != nil {
		return Response{}, err
	}

	state, _ := graph.LastProcessingStage()
	for {
		log.Debug().Str("stage", string(state)).Str("conversation_id", id).Msg("suggest_stage")
		switch state {
		case taskgraph.StageGraphNotInitialized:
			if err := graph.Initialize(id, req.RepoName); err != nil {
				return Response{}, err
			}
			if err := c.Store.Save(ctx, graph); err != nil {
				return Response{}, err
			}
			state = taskgraph.StageGenerateTasksAndQuestions

		case taskgraph.StageGenerateTasksAndQuestions:
			response, nextState, err := c.generateStage(ctx, graph, req, id)
			if err != nil {
				return Response{}, err
			}
			if response != nil {
				return *response, nil
			}
			state = nextState

		case taskgraph.StageTasksAndQuestionsGenerated, taskgraph.StageQuestionsPartiallyAnswered:
			return c.answerStage(ctx, graph, req, id)

		case taskgraph.StageAwaitingUserInput, taskgraph.StageAllQuestionsAnswered:
			// The new request carries the next user turn.
			state = taskgraph.StageGenerateTasksAndQuestions

		case taskgraph.StageDone:
			return Response{ID: id, Tasks: []types.Task{}}, nil

		default:
			return Response{}, fmt.Errorf("%w: stage %s", ErrInvalidState, state)
		}
	}
}

func (c *Controller) loadOrCreate(ctx context.Context, req Request) (*taskgraph.Graph, string, error) {
	if req.ID != "" {
		graph, err := c.Store.Load(ctx, req.ID)
		switch {
		case err == nil:
			log.Info().Str("conversation_id", req.ID).Msg("resuming_conversation")
			return graph, req.ID, nil
		case errors.Is(err, taskgraph.ErrNotFound):
			log.Info().Str("conversation_id", req.ID).Msg("new_conversation_with_client_id")
			return taskgraph.New(), req.ID, nil
		default:
			return nil, "", fmt.Errorf("load conversation %s: %w", req.ID, err)
		}
	}
	id := uuid.NewString()
	log.Info().Str("conversation_id", id).Msg("new_conversation")
	return taskgraph.New(), id, nil
}

// generateStage plans tasks and questions for the user query and writes
// the turn into the graph. It returns a response directly when the model
// asked the user for more context.
func (c *Controller) generateStage(ctx context.Context, graph *taskgraph.Graph, req Request, id string) (*Response, taskgraph.ProcessingStage, error) {
	generated, err := c.generateTasks(ctx, req.UserQuery, req.RepoName)
	if err != nil {
		return nil, "", err
	}
	if generated.TaskList.Empty() {
		return nil, "", fmt.Errorf("%w: model produced neither tasks nor ask_user for query %q", llm.ErrBadCompletion, req.UserQuery)
	}

	conv, err := graph.ExtendWithConversation(taskgraph.ConversationChain{
		UserMessage:      req.UserQuery,
		SystemMessage:    generated.SystemMessage,
		AssistantMessage: generated.AssistantMessage,
		AskUser:          generated.TaskList.AskUser,
	})
	if err != nil {
		return nil, "", err
	}
	if len(generated.TaskList.Tasks) > 0 {
		if err := graph.ExtendWithTaskList(conv, types.TaskList{Tasks: generated.TaskList.Tasks}); err != nil {
			return nil, "", err
		}
	}
	if err := c.Store.Save(ctx, graph); err != nil {
		return nil, "", err
	}

	state, _ := graph.LastProcessingStage()
	if state == taskgraph.StageAwaitingUserInput {
		return &Response{ID: id, AskUser: generated.TaskList.AskUser, Tasks: []types.Task{}}, "", nil
	}
	return nil, state, nil
}

// answerStage resolves every unanswered question concurrently, records
// the successes, and returns the first failure so the client can retry
// from where processing stopped.
func (c *Controller) answerStage(ctx context.Context, graph *taskgraph.Graph, req Request, id string) (Response, error) {
	questions := graph.UnansweredQuestions()
	log.Info().Int("unanswered", len(questions)).Str("conversation_id", id).Msg("fetching_answers")

	answers := make([]*types.QuestionWithAnswer, len(questions))
	failures := make([]error, len(questions))

	group, gctx := errgroup.WithContext(ctx)
	fanOut := c.FanOut
	if fanOut <= 0 {
		fanOut = 8
	}
	group.SetLimit(fanOut)
	for i, q := range questions {
		group.Go(func() error {
			understanding, err := c.Understand.RetrieveCode(gctx, q.Text, req.RepoName)
			if err != nil {
				log.Error().Err(err).Int("question_id", q.ID).Msg("code_understanding_failed")
				failures[i] = fmt.Errorf("question %d: %w", q.ID, err)
				// Record the failure and keep going; siblings still count.
				return nil
			}
			answers[i] = &types.QuestionWithAnswer{
				QuestionID: q.ID,
				Question:   q.Text,
				Answer:     understanding,
			}
			return nil
		})
	}
	_ = group.Wait()

	var succeeded []types.QuestionWithAnswer
	for _, a := range answers {
		if a != nil {
			succeeded = append(succeeded, *a)
		}
	}
	if len(succeeded) > 0 {
		if err := graph.ExtendWithAnswers(succeeded); err != nil {
			return Response{}, err
		}
		if err := c.Store.Save(ctx, graph); err != nil {
			return Response{}, err
		}
	}

	for _, err := range failures {
		if err != nil {
			return Response{}, err
		}
	}

	return Response{
		ID:                   id,
		Tasks:                graph.TaskList().Tasks,
		QuestionsWithAnswers: graph.QuestionsWithAnswers(),
	}, nil
}

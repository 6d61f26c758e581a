package suggest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codescout/internal/llm"
	"codescout/internal/taskgraph"
	"codescout/internal/types"
)

const threeQuestionPlan = `{"tasks":[{"task":"investigate retrieval","subtasks":[{"subtask":"trace the flow","questions":["how is the query parsed?","where are embeddings produced?","how are results ranked?"]}]}]}`

type plannerGateway struct {
	replies []string
	calls   int
}

func (p *plannerGateway) Chat(_ context.Context, _ []llm.Message, _ []llm.Function) (llm.Completion, error) {
	if p.calls >= len(p.replies) {
		return llm.Completion{}, fmt.Errorf("planner script exhausted")
	}
	reply := p.replies[p.calls]
	p.calls++
	return llm.Completion{Content: reply}, nil
}

// scriptedUnderstand fails the configured questions once, then succeeds.
type scriptedUnderstand struct {
	mu       sync.Mutex
	failOnce map[string]bool
	queries  []string
}

func (s *scriptedUnderstand) RetrieveCode(_ context.Context, query, _ string) (types.CodeUnderstanding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	if s.failOnce[query] {
		delete(s.failOnce, query)
		return types.CodeUnderstanding{}, fmt.Errorf("understanding service unavailable")
	}
	return types.CodeUnderstanding{
		AnswerText: "answer to: " + query,
		CodeChunks: []types.CodeChunk{{Path: "src/lib.rs", Snippet: "fn f() {}", StartLine: 1, EndLine: 1}},
	}, nil
}

func testController(t *testing.T, gw Gateway, understand AnswerFetcher) *Controller {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &Controller{
		Gateway:    gw,
		Store:      taskgraph.NewStoreWithClient(client),
		Understand: understand,
		FanOut:     8,
	}
}

func TestHandle_FullRun(t *testing.T) {
	gw := &plannerGateway{replies: []string{threeQuestionPlan}}
	understand := &scriptedUnderstand{}
	c := testController(t, gw, understand)

	resp, err := c.Handle(context.Background(), Request{UserQuery: "explain retrieval", RepoName: "acme/widgets"})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.ID)
	require.Len(t, resp.Tasks, 1)
	assert.Len(t, resp.QuestionsWithAnswers, 3)
	assert.Empty(t, resp.AskUser)
}

func TestHandle_ResumeOnPartialFailure(t *testing.T) {
	const failing = "where are embeddings produced?"
	gw := &plannerGateway{replies: []string{threeQuestionPlan}}
	understand := &scriptedUnderstand{failOnce: map[string]bool{failing: true}}
	c := testController(t, gw, understand)

	id := "11111111-2222-3333-4444-555555555555"
	_, err := c.Handle(context.Background(), Request{ID: id, UserQuery: "explain retrieval", RepoName: "acme/widgets"})
	require.Error(t, err, "first pass must surface the failed question")
	assert.Len(t, understand.queries, 3)

	// The graph holds the two successful answers.
	graph, err := c.Store.Load(context.Background(), id)
	require.NoError(t, err)
	stage, _ := graph.LastProcessingStage()
	assert.Equal(t, taskgraph.StageQuestionsPartiallyAnswered, stage)
	require.Len(t, graph.UnansweredQuestions(), 1)
	assert.Equal(t, failing, graph.UnansweredQuestions()[0].Text)

	// Retry resumes with only the unanswered question.
	understand.queries = nil
	resp, err := c.Handle(context.Background(), Request{ID: id, UserQuery: "explain retrieval", RepoName: "acme/widgets"})
	require.NoError(t, err)
	assert.Equal(t, []string{failing}, understand.queries)
	assert.Len(t, resp.QuestionsWithAnswers, 3)
	assert.Equal(t, id, resp.ID)
	assert.Equal(t, 1, gw.calls, "planner must not run again on resume")
}

func TestHandle_AskUser(t *testing.T) {
	gw := &plannerGateway{replies: []string{`{"ask_user":"what API are you referring to?"}`}}
	c := testController(t, gw, &scriptedUnderstand{})

	resp, err := c.Handle(context.Background(), Request{UserQuery: "help me with my api", RepoName: "acme/widgets"})
	require.NoError(t, err)
	assert.Equal(t, "what API are you referring to?", resp.AskUser)
	assert.Empty(t, resp.Tasks)

	// The parked conversation waits for more input.
	graph, err := c.Store.Load(context.Background(), resp.ID)
	require.NoError(t, err)
	stage, _ := graph.LastProcessingStage()
	assert.Equal(t, taskgraph.StageAwaitingUserInput, stage)
}

func TestHandle_AskUserThenTasksOnFollowUp(t *testing.T) {
	gw := &plannerGateway{replies: []string{
		`{"ask_user":"which service?"}`,
		threeQuestionPlan,
	}}
	understand := &scriptedUnderstand{}
	c := testController(t, gw, understand)

	first, err := c.Handle(context.Background(), Request{UserQuery: "help me with my api", RepoName: "acme/widgets"})
	require.NoError(t, err)
	require.NotEmpty(t, first.AskUser)

	second, err := c.Handle(context.Background(), Request{
		ID:        first.ID,
		UserQuery: "the retrieval service",
		RepoName:  "acme/widgets",
	})
	require.NoError(t, err)
	assert.Len(t, second.QuestionsWithAnswers, 3)
}

func TestHandle_EmptyPlanIsBadCompletion(t *testing.T) {
	// Both replies parse as JSON but carry neither tasks nor ask_user.
	gw := &plannerGateway{replies: []string{`{}`, `{}`}}
	c := testController(t, gw, &scriptedUnderstand{})

	_, err := c.Handle(context.Background(), Request{UserQuery: "q", RepoName: "r"})
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrBadCompletion)
}

func TestHandle_MalformedPlanRetriedOnce(t *testing.T) {
	gw := &plannerGateway{replies: []string{"sorry, no JSON here", threeQuestionPlan}}
	understand := &scriptedUnderstand{}
	c := testController(t, gw, understand)

	resp, err := c.Handle(context.Background(), Request{UserQuery: "explain retrieval", RepoName: "acme/widgets"})
	require.NoError(t, err)
	assert.Equal(t, 2, gw.calls)
	assert.Len(t, resp.QuestionsWithAnswers, 3)
}

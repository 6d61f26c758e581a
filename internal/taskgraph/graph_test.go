package taskgraph

import (
	"errors"
	"reflect"
	"testing"

	"codescout/internal/types"
)

func planOf(questions ...string) types.TaskList {
	return types.TaskList{Tasks: []types.Task{{
		Task: "investigate",
		Subtasks: []types.Subtask{{
			Subtask:   "trace the flow",
			Questions: questions,
		}},
	}}}
}

func newConversation(t *testing.T, g *Graph, askUser string) int {
	t.Helper()
	conv, err := g.ExtendWithConversation(ConversationChain{
		UserMessage:      "how does retrieval work",
		SystemMessage:    "plan tasks",
		AssistantMessage: "{}",
		AskUser:          askUser,
	})
	if err != nil {
		t.Fatal(err)
	}
	return conv
}

func TestStageDerivation(t *testing.T) {
	g := New()
	if stage, _ := g.LastProcessingStage(); stage != StageGraphNotInitialized {
		t.Fatalf("empty graph: got %s", stage)
	}

	if err := g.Initialize("conv-1", "repo"); err != nil {
		t.Fatal(err)
	}
	if stage, _ := g.LastProcessingStage(); stage != StageOnlyRootNodeExists {
		t.Fatalf("root only: got %s", stage)
	}

	conv := newConversation(t, g, "")
	if stage, _ := g.LastProcessingStage(); stage != StageGenerateTasksAndQuestions {
		t.Fatalf("conversation without tasks: got %s", stage)
	}

	if err := g.ExtendWithTaskList(conv, planOf("q1", "q2")); err != nil {
		t.Fatal(err)
	}
	if stage, _ := g.LastProcessingStage(); stage != StageTasksAndQuestionsGenerated {
		t.Fatalf("tasks without answers: got %s", stage)
	}

	questions := g.UnansweredQuestions()
	if len(questions) != 2 {
		t.Fatalf("expected 2 unanswered questions, got %d", len(questions))
	}

	if err := g.ExtendWithAnswers([]types.QuestionWithAnswer{{
		QuestionID: questions[0].ID,
		Question:   questions[0].Text,
		Answer:     types.CodeUnderstanding{AnswerText: "because"},
	}}); err != nil {
		t.Fatal(err)
	}
	if stage, _ := g.LastProcessingStage(); stage != StageQuestionsPartiallyAnswered {
		t.Fatalf("partial answers: got %s", stage)
	}

	if err := g.ExtendWithAnswers([]types.QuestionWithAnswer{{
		QuestionID: questions[1].ID,
		Question:   questions[1].Text,
		Answer:     types.CodeUnderstanding{AnswerText: "also because"},
	}}); err != nil {
		t.Fatal(err)
	}
	if stage, _ := g.LastProcessingStage(); stage != StageAllQuestionsAnswered {
		t.Fatalf("all answered: got %s", stage)
	}
}

func TestStageDerivation_AskUser(t *testing.T) {
	g := New()
	if err := g.Initialize("conv-2", "repo"); err != nil {
		t.Fatal(err)
	}
	newConversation(t, g, "more please")

	stage, _ := g.LastProcessingStage()
	if stage != StageAwaitingUserInput {
		t.Fatalf("ask_user turn with no tasks: got %s", stage)
	}
}

func TestStageDerivation_IsPure(t *testing.T) {
	g := New()
	if err := g.Initialize("conv-3", "repo"); err != nil {
		t.Fatal(err)
	}
	conv := newConversation(t, g, "")
	if err := g.ExtendWithTaskList(conv, planOf("q1")); err != nil {
		t.Fatal(err)
	}

	before, _ := g.Marshal()
	for i := 0; i < 3; i++ {
		g.LastProcessingStage()
	}
	after, _ := g.Marshal()
	if string(before) != string(after) {
		t.Fatal("stage derivation mutated the graph")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	g := New()
	if err := g.Initialize("conv-4", "repo"); err != nil {
		t.Fatal(err)
	}
	conv := newConversation(t, g, "")
	if err := g.ExtendWithTaskList(conv, planOf("q1", "q2")); err != nil {
		t.Fatal(err)
	}
	questions := g.UnansweredQuestions()
	if err := g.ExtendWithAnswers([]types.QuestionWithAnswer{{
		QuestionID: questions[0].ID,
		Question:   questions[0].Text,
		Answer: types.CodeUnderstanding{
			AnswerText: "because",
			CodeChunks: []types.CodeChunk{{Path: "a.go", Snippet: "x", StartLine: 1, EndLine: 1}},
		},
	}}); err != nil {
		t.Fatal(err)
	}

	data, err := g.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	restored, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(g, restored) {
		t.Fatalf("round trip mismatch:\n%+v\n%+v", g, restored)
	}
}

func TestUnmarshal_VersionMismatch(t *testing.T) {
	_, err := Unmarshal([]byte(`{"version": 99, "root": {}, "nodes": [], "edges": []}`))
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestExtendWithAnswers_UnknownQuestion(t *testing.T) {
	g := New()
	if err := g.Initialize("conv-5", "repo"); err != nil {
		t.Fatal(err)
	}
	err := g.ExtendWithAnswers([]types.QuestionWithAnswer{{QuestionID: 42}})
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected ErrInvariant, got %v", err)
	}
}

func TestExtendWithAnswers_ReanswerReplaces(t *testing.T) {
	g := New()
	if err := g.Initialize("conv-6", "repo"); err != nil {
		t.Fatal(err)
	}
	conv := newConversation(t, g, "")
	if err := g.ExtendWithTaskList(conv, planOf("q1")); err != nil {
		t.Fatal(err)
	}
	q := g.UnansweredQuestions()[0]

	for _, text := range []string{"first", "second"} {
		if err := g.ExtendWithAnswers([]types.QuestionWithAnswer{{
			QuestionID: q.ID,
			Question:   q.Text,
			Answer:     types.CodeUnderstanding{AnswerText: text},
		}}); err != nil {
			t.Fatal(err)
		}
	}

	answered := g.QuestionsWithAnswers()
	if len(answered) != 1 {
		t.Fatalf("expected exactly one answer edge, got %d", len(answered))
	}
	if answered[0].Answer.AnswerText != "second" {
		t.Fatalf("re-answer did not replace: %q", answered[0].Answer.AnswerText)
	}
}

func TestTaskList_Reconstruction(t *testing.T) {
	g := New()
	if err := g.Initialize("conv-7", "repo"); err != nil {
		t.Fatal(err)
	}
	conv := newConversation(t, g, "")
	want := planOf("q1", "q2")
	if err := g.ExtendWithTaskList(conv, want); err != nil {
		t.Fatal(err)
	}
	if got := g.TaskList(); !reflect.DeepEqual(got, want) {
		t.Fatalf("task list mismatch:\n%+v\n%+v", got, want)
	}
}

func TestInitialize_Twice(t *testing.T) {
	g := New()
	if err := g.Initialize("conv-8", "repo"); err != nil {
		t.Fatal(err)
	}
	if err := g.Initialize("conv-8", "repo"); !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected ErrInvariant, got %v", err)
	}
}

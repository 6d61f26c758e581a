// Package taskgraph models a conversation as a typed directed graph:
// user turns, generated task/subtask/question hierarchies, and answers
// bound to questions. Nodes live in a flat arena keyed by integer ids so
// serialization and back-lookups never chase pointers.
package taskgraph

import (
	"errors"
	"fmt"

	"codescout/internal/types"
)

// ErrInvariant marks a graph operation that would violate the graph's
// structural invariants. Always fatal to the current request.
var ErrInvariant = errors.New("task graph invariant violated")

type NodeKind string

const (
	KindRoot         NodeKind = "root"
	KindConversation NodeKind = "conversation"
	KindSystem       NodeKind = "system"
	KindUser         NodeKind = "user"
	KindAssistant    NodeKind = "assistant"
	KindTask         NodeKind = "task"
	KindSubtask      NodeKind = "subtask"
	KindQuestion     NodeKind = "question"
	KindAnswer       NodeKind = "answer"
)

type EdgeLabel string

const (
	EdgeTurn      EdgeLabel = "turn"
	EdgeSystem    EdgeLabel = "system"
	EdgeUser      EdgeLabel = "user"
	EdgeAssistant EdgeLabel = "assistant"
	EdgeTask      EdgeLabel = "task"
	EdgeSubtask   EdgeLabel = "subtask"
	EdgeQuestion  EdgeLabel = "question"
	EdgeAnswer    EdgeLabel = "answer"
)

// Node is one arena entry. Text carries the payload for message, task,
// subtask, question, and answer nodes; TurnIx orders conversations;
// AskUser is set on assistant nodes whose turn asked the user for more
// context instead of producing tasks; Chunks ground answer nodes.
type Node struct {
	ID      int               `json:"id"`
	Kind    NodeKind          `json:"kind"`
	Text    string            `json:"text,omitempty"`
	TurnIx  int               `json:"turn_ix,omitempty"`
	AskUser string            `json:"ask_user,omitempty"`
	Chunks  []types.CodeChunk `json:"chunks,omitempty"`
}

type Edge struct {
	From  int       `json:"from"`
	To    int       `json:"to"`
	Label EdgeLabel `json:"label"`
}

// Graph is the in-memory task graph for one conversation. It is owned by
// a single request at a time; persistence is the only cross-request
// coordination point.
type Graph struct {
	ConversationID string
	RepoName       string
	Nodes          []Node
	Edges          []Edge
}

// New returns an uninitialized graph; Initialize creates the root.
func New() *Graph { return &Graph{} }

// Initialized reports whether the root node exists.
func (g *Graph) Initialized() bool { return len(g.Nodes) > 0 }

// Initialize creates the single root node.
func (g *Graph) Initialize(conversationID, repoName string) error {
	if g.Initialized() {
		return fmt.Errorf("%w: graph already initialized", ErrInvariant)
	}
	g.ConversationID = conversationID
	g.RepoName = repoName
	g.addNode(Node{Kind: KindRoot})
	return nil
}

// ConversationChain is one turn's three messages. AskUser is non-empty
// when the assistant asked for clarification instead of planning tasks.
type ConversationChain struct {
	UserMessage      string
	SystemMessage    string
	AssistantMessage string
	AskUser          string
}

// ExtendWithConversation appends a conversation node, its three message
// nodes, and returns the conversation node id.
func (g *Graph) ExtendWithConversation(chain ConversationChain) (int, error) {
	if !g.Initialized() {
		return 0, fmt.Errorf("%w: graph not initialized", ErrInvariant)
	}
	turnIx := len(g.conversations())
	conv := g.addNode(Node{Kind: KindConversation, TurnIx: turnIx})
	g.addEdge(g.rootID(), conv, EdgeTurn)

	system := g.addNode(Node{Kind: KindSystem, Text: chain.SystemMessage})
	g.addEdge(conv, system, EdgeSystem)
	user := g.addNode(Node{Kind: KindUser, Text: chain.UserMessage})
	g.addEdge(conv, user, EdgeUser)
	assistant := g.addNode(Node{Kind: KindAssistant, Text: chain.AssistantMessage, AskUser: chain.AskUser})
	g.addEdge(conv, assistant, EdgeAssistant)

	return conv, nil
}

// ExtendWithTaskList attaches the task/subtask/question subtree under the
// given conversation node.
func (g *Graph) ExtendWithTaskList(conversationNode int, taskList types.TaskList) error {
	node, ok := g.node(conversationNode)
	if !ok || node.Kind != KindConversation {
		return fmt.Errorf("%w: node %d is not a conversation", ErrInvariant, conversationNode)
	}
	for _, task := range taskList.Tasks {
		taskID := g.addNode(Node{Kind: KindTask, Text: task.Task})
		g.addEdge(conversationNode, taskID, EdgeTask)
		for _, subtask := range task.Subtasks {
			subtaskID := g.addNode(Node{Kind: KindSubtask, Text: subtask.Subtask})
			g.addEdge(taskID, subtaskID, EdgeSubtask)
			for _, question := range subtask.Questions {
				questionID := g.addNode(Node{Kind: KindQuestion, Text: question})
				g.addEdge(subtaskID, questionID, EdgeQuestion)
			}
		}
	}
	return nil
}

// ExtendWithAnswers binds each answer to its question by id. Partial
// success is preserved: every answer is attached before any error about a
// missing question aborts. A re-answer replaces the edge target
// atomically.
func (g *Graph) ExtendWithAnswers(answers []types.QuestionWithAnswer) error {
	var firstErr error
	for _, qa := range answers {
		node, ok := g.node(qa.QuestionID)
		if !ok || node.Kind != KindQuestion {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: no question with id %d", ErrInvariant, qa.QuestionID)
			}
			continue
		}
		answerID := g.addNode(Node{
			Kind:   KindAnswer,
			Text:   qa.Answer.AnswerText,
			Chunks: qa.Answer.CodeChunks,
		})
		if existing := g.edgeFrom(qa.QuestionID, EdgeAnswer); existing != nil {
			existing.To = answerID
		} else {
			g.addEdge(qa.QuestionID, answerID, EdgeAnswer)
		}
	}
	return firstErr
}

// UnansweredQuestions returns the questions of the most recent
// conversation that have no answer yet, in creation order.
func (g *Graph) UnansweredQuestions() []types.QuestionWithID {
	conv, ok := g.lastConversation()
	if !ok {
		return nil
	}
	var out []types.QuestionWithID
	for _, q := range g.questionsUnder(conv.ID) {
		if g.edgeFrom(q.ID, EdgeAnswer) == nil {
			out = append(out, types.QuestionWithID{ID: q.ID, Text: q.Text})
		}
	}
	return out
}

// QuestionsWithAnswers returns every answered question of the most recent
// conversation.
func (g *Graph) QuestionsWithAnswers() []types.QuestionWithAnswer {
	conv, ok := g.lastConversation()
	if !ok {
		return nil
	}
	var out []types.QuestionWithAnswer
	for _, q := range g.questionsUnder(conv.ID) {
		edge := g.edgeFrom(q.ID, EdgeAnswer)
		if edge == nil {
			continue
		}
		answer, _ := g.node(edge.To)
		out = append(out, types.QuestionWithAnswer{
			QuestionID: q.ID,
			Question:   q.Text,
			Answer: types.CodeUnderstanding{
				Question:   q.Text,
				AnswerText: answer.Text,
				CodeChunks: answer.Chunks,
			},
		})
	}
	return out
}

// TaskList reconstructs the task hierarchy of the most recent
// conversation.
func (g *Graph) TaskList() types.TaskList {
	conv, ok := g.lastConversation()
	if !ok {
		return types.TaskList{}
	}
	var tl types.TaskList
	for _, taskNode := range g.childrenOf(conv.ID, EdgeTask) {
		task := types.Task{Task: taskNode.Text}
		for _, subtaskNode := range g.childrenOf(taskNode.ID, EdgeSubtask) {
			subtask := types.Subtask{Subtask: subtaskNode.Text}
			for _, questionNode := range g.childrenOf(subtaskNode.ID, EdgeQuestion) {
				subtask.Questions = append(subtask.Questions, questionNode.Text)
			}
			task.Subtasks = append(task.Subtasks, subtask)
		}
		tl.Tasks = append(tl.Tasks, task)
	}
	return tl
}

func (g *Graph) addNode(n Node) int {
	n.ID = len(g.Nodes)
	g.Nodes = append(g.Nodes, n)
	return n.ID
}

func (g *Graph) addEdge(from, to int, label EdgeLabel) {
	g.Edges = append(g.Edges, Edge{From: from, To: to, Label: label})
}

func (g *Graph) rootID() int { return 0 }

func (g *Graph) node(id int) (Node, bool) {
	if id < 0 || id >= len(g.Nodes) {
		return Node{}, false
	}
	return g.Nodes[id], true
}

// edgeFrom returns a mutable pointer to the first edge with the given
// source and label, or nil.
func (g *Graph) edgeFrom(from int, label EdgeLabel) *Edge {
	for i := range g.Edges {
		if g.Edges[i].From == from && g.Edges[i].Label == label {
			return &g.Edges[i]
		}
	}
	return nil
}

func (g *Graph) childrenOf(id int, label EdgeLabel) []Node {
	var out []Node
	for _, e := range g.Edges {
		if e.From == id && e.Label == label {
			if n, ok := g.node(e.To); ok {
				out = append(out, n)
			}
		}
	}
	return out
}

func (g *Graph) conversations() []Node {
	return g.childrenOf(g.rootID(), EdgeTurn)
}

// lastConversation returns the conversation with the highest turn index.
func (g *Graph) lastConversation() (Node, bool) {
	convs := g.conversations()
	if len(convs) == 0 {
		return Node{}, false
	}
	last := convs[0]
	for _, c := range convs[1:] {
		if c.TurnIx >= last.TurnIx {
			last = c
		}
	}
	return last, true
}

// questionsUnder walks conversation → task → subtask → question.
func (g *Graph) questionsUnder(conversationID int) []Node {
	var out []Node
	for _, task := range g.childrenOf(conversationID, EdgeTask) {
		for _, subtask := range g.childrenOf(task.ID, EdgeSubtask) {
			out = append(out, g.childrenOf(subtask.ID, EdgeQuestion)...)
		}
	}
	return out
}

package taskgraph

// ProcessingStage is a label derived from the graph's current shape; it
// is never stored. The suggest controller keys its next step off it.
type ProcessingStage string

const (
	StageGraphNotInitialized        ProcessingStage = "GraphNotInitialized"
	StageOnlyRootNodeExists         ProcessingStage = "OnlyRootNodeExists"
	StageGenerateTasksAndQuestions  ProcessingStage = "GenerateTasksAndQuestions"
	StageTasksAndQuestionsGenerated ProcessingStage = "TasksAndQuestionsGenerated"
	StageAllQuestionsAnswered       ProcessingStage = "AllQuestionsAnswered"
	StageQuestionsPartiallyAnswered ProcessingStage = "QuestionsPartiallyAnswered"
	StageAwaitingUserInput          ProcessingStage = "AwaitingUserInput"
	StageProcessingError            ProcessingStage = "ProcessingError"
	StageDone                       ProcessingStage = "Done"
	StageUnknown                    ProcessingStage = "Unknown"
)

// LastProcessingStage derives the stage from the most recent
// conversation, returning its node id alongside (-1 when absent). Pure:
// the graph is not mutated.
func (g *Graph) LastProcessingStage() (ProcessingStage, int) {
	if !g.Initialized() {
		return StageGraphNotInitialized, -1
	}
	conv, ok := g.lastConversation()
	if !ok {
		return StageOnlyRootNodeExists, -1
	}

	questions := g.questionsUnder(conv.ID)
	if len(questions) == 0 {
		// A clarifying assistant turn parks the conversation until the
		// user supplies more context.
		for _, assistant := range g.childrenOf(conv.ID, EdgeAssistant) {
			if assistant.AskUser != "" {
				return StageAwaitingUserInput, conv.ID
			}
		}
		return StageGenerateTasksAndQuestions, conv.ID
	}

	answered := 0
	for _, q := range questions {
		if g.edgeFrom(q.ID, EdgeAnswer) != nil {
			answered++
		}
	}
	switch {
	case answered == 0:
		return StageTasksAndQuestionsGenerated, conv.ID
	case answered < len(questions):
		return StageQuestionsPartiallyAnswered, conv.ID
	default:
		return StageAllQuestionsAnswered, conv.ID
	}
}

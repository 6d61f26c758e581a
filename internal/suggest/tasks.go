package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"codescout/internal/llm"
	"codescout/internal/prompts"
	"codescout/internal/types"
)

// generatedTasks is the task list together with the messages that
// produced it, so the conversation chain records the exact prompt and
// response.
type generatedTasks struct {
	TaskList         types.TaskList
	SystemMessage    string
	AssistantMessage string
}

// generateTasks asks the model to plan tasks and questions for the
// query. A malformed reply is retried once with a corrective note.
func (c *Controller) generateTasks(ctx context.Context, userQuery, repoName string) (generatedTasks, error) {
	systemPrompt := prompts.TaskGeneration(userQuery, repoName)
	msgs := []llm.Message{llm.System(systemPrompt)}

	completion, err := c.Gateway.Chat(ctx, msgs, nil)
	if err != nil {
		return generatedTasks{}, fmt.Errorf("generate tasks: %w", err)
	}

	taskList, parseErr := parseTaskList(completion.Content)
	if parseErr != nil {
		log.Warn().Err(parseErr).Msg("task_list_parse_retry")
		msgs = append(msgs,
			llm.Assistant(completion.Content),
			llm.System("Your previous response was not the required JSON object. Respond with ONLY the JSON object described above."),
		)
		completion, err = c.Gateway.Chat(ctx, msgs, nil)
		if err != nil {
			return generatedTasks{}, fmt.Errorf("generate tasks: %w", err)
		}
		taskList, parseErr = parseTaskList(completion.Content)
		if parseErr != nil {
			return generatedTasks{}, fmt.Errorf("%w: task list: %v", llm.ErrBadCompletion, parseErr)
		}
	}

	return generatedTasks{
		TaskList:         taskList,
		SystemMessage:    systemPrompt,
		AssistantMessage: completion.Content,
	}, nil
}

// parseTaskList decodes the model's JSON object, tolerating surrounding
// prose or markdown fences by cutting to the outermost braces.
func parseTaskList(reply string) (types.TaskList, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return types.TaskList{}, fmt.Errorf("no JSON object in reply")
	}
	var tl types.TaskList
	if err := json.Unmarshal([]byte(reply[start:end+1]), &tl); err != nil {
		return types.TaskList{}, err
	}
	return tl, nil
}

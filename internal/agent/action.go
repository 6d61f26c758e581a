package agent

import (
	"encoding/json"
	"fmt"

	"codescout/internal/llm"
	"codescout/internal/prompts"
)

// ActionKind discriminates Action variants.
type ActionKind string

const (
	// ActionQuery bootstraps an exchange from the raw user query; it
	// dispatches nothing and goes straight to action selection.
	ActionQuery  ActionKind = "query"
	ActionPath   ActionKind = "path"
	ActionCode   ActionKind = "code"
	ActionProc   ActionKind = "proc"
	ActionAnswer ActionKind = "answer"
)

// Action is one decision of the model: a retrieval call or the terminal
// answer. Call retains the raw function call for history replay.
type Action struct {
	Kind    ActionKind
	Text    string
	Indices []int
	Call    *llm.FunctionCall
}

// Terminal reports whether executing this action ends the exchange.
func (a Action) Terminal() bool { return a.Kind == ActionAnswer }

type queryArgs struct {
	Query string `json:"query"`
}

type procArgs struct {
	Query string `json:"query"`
	Paths []int  `json:"paths"`
}

type noneArgs struct {
	Paths []int `json:"paths"`
}

// ParseAction interprets a function call returned by the model. Unknown
// names and malformed argument JSON surface as ErrBadCompletion.
func ParseAction(call *llm.FunctionCall) (Action, error) {
	if call == nil {
		return Action{}, fmt.Errorf("%w: model answered directly instead of calling a function", llm.ErrBadCompletion)
	}
	switch call.Name {
	case prompts.FuncCode, prompts.FuncPath:
		var args queryArgs
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return Action{}, fmt.Errorf("%w: %s arguments: %v", llm.ErrBadCompletion, call.Name, err)
		}
		kind := ActionCode
		if call.Name == prompts.FuncPath {
			kind = ActionPath
		}
		return Action{Kind: kind, Text: args.Query, Call: call}, nil
	case prompts.FuncProc:
		var args procArgs
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return Action{}, fmt.Errorf("%w: proc arguments: %v", llm.ErrBadCompletion, err)
		}
		return Action{Kind: ActionProc, Text: args.Query, Indices: args.Paths, Call: call}, nil
	case prompts.FuncNone:
		var args noneArgs
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return Action{}, fmt.Errorf("%w: none arguments: %v", llm.ErrBadCompletion, err)
		}
		return Action{Kind: ActionAnswer, Indices: args.Paths, Call: call}, nil
	default:
		return Action{}, fmt.Errorf("%w: unknown function %q", llm.ErrBadCompletion, call.Name)
	}
}

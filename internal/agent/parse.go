package agent

import (
	"errors"
	"fmt"
	"strings"
)

// The model replies in the ReAct text grammar:
//
//	Thought: free text
//	Action: tool name
//	Action Input: tool input
//
// or, to finish:
//
//	Thought: I now know the final answer
//	Final Answer: text for the user
//
// This file is the only place that grammar is interpreted. Everything
// the loop knows about a completion comes out of parseCompletion, so
// format drift stays contained here.

// ErrNoParse reports a completion that matches neither an action nor a
// final answer.
var ErrNoParse = errors.New("completion matches no known step format")

const (
	finalAnswerMarker = "Final Answer:"
	actionMarker      = "Action:"
	actionInputMarker = "Action Input:"
)

// stepKind discriminates parsed reasoning steps.
type stepKind int

const (
	stepAction stepKind = iota
	stepFinal
)

// step is one parsed model response.
type step struct {
	kind  stepKind
	tool  string // stepAction
	input string // stepAction
	final string // stepFinal
}

// parseCompletion parses a raw completion into a step.
//
// When a completion contains both a final answer and an action, the
// final answer wins: the model has decided it is done, and executing a
// trailing hallucinated action would cause side effects the user never
// confirmed.
func parseCompletion(text string) (step, error) {
	if idx := strings.Index(text, finalAnswerMarker); idx >= 0 {
		return step{
			kind:  stepFinal,
			final: strings.TrimSpace(text[idx+len(finalAnswerMarker):]),
		}, nil
	}

	actionIdx := strings.Index(text, actionMarker)
	if actionIdx < 0 {
		return step{}, fmt.Errorf("%w: no Action or Final Answer found", ErrNoParse)
	}

	rest := text[actionIdx+len(actionMarker):]
	inputIdx := strings.Index(rest, actionInputMarker)

	var tool, input string
	if inputIdx < 0 {
		// Action without input: tolerate it, some tools take none.
		tool = firstLine(rest)
	} else {
		tool = firstLine(rest[:inputIdx])
		input = rest[inputIdx+len(actionInputMarker):]
		// Drop anything the model invented past its own action, such
		// as a fabricated Observation.
		if obsIdx := strings.Index(input, "\nObservation:"); obsIdx >= 0 {
			input = input[:obsIdx]
		}
		input = cleanField(input)
	}

	tool = cleanField(tool)
	if tool == "" {
		return step{}, fmt.Errorf("%w: empty action name", ErrNoParse)
	}

	return step{kind: stepAction, tool: tool, input: input}, nil
}

// firstLine returns s up to the first newline, trimmed.
func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// cleanField strips markdown code fences, backticks, and wrapping
// quotes that models habitually add around tool names and inputs.
func cleanField(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.Trim(s, "`")
	s = strings.Trim(s, `"`)
	return strings.TrimSpace(s)
}

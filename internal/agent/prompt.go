package agent

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/avmeyer/attache/internal/tools"
)

// DefaultHistoryTurns is how many past turns are surfaced into the
// prompt when the executor's config does not say otherwise. Older turns
// are retained by the session (up to its storage cap) but not shown to
// the model.
const DefaultHistoryTurns = 4

// Turn is one past exchange surfaced into the prompt.
type Turn struct {
	Role    string // "User" or "Assistant"
	Content string
}

// promptTemplate is the ReAct prompt. The scheduling rules teach the
// model to resolve relative dates against the current time, to only ask
// for genuinely missing details, and to batch clarifying questions into
// a single message.
var promptTemplate = template.Must(template.New("react").Parse(
	`Answer the following questions as best you can. You have access to the following tools:

{{range .Tools}}{{.Name}}: {{.Description}}
{{end}}
Use the following format:

Question: the input question you must answer
Thought: you should always think about what to do
Action: the action to take, should be one of [{{.ToolNames}}]
Action Input: the input to the action
Observation: the result of the action
... (this Thought/Action/Action Input/Observation can repeat N times)
Thought: I now know the final answer
Final Answer: the final answer to the original input question

IMPORTANT CONTEXT:
- Current time is {{.CurrentTime}}.
- This is part of a conversation. Remember what you asked the user previously and use their responses to fill in missing information.

IMPORTANT RULES FOR SCHEDULING:
1. When the user mentions relative time like "tomorrow at 5pm", calculate the ISO datetime based on the current time.
2. Be SMART about what information is missing:
   - If the user provides BOTH an event name AND a date/time (e.g., "schedule dinner tomorrow"), only ask for missing details (time if not specified, location if relevant).
   - If the user is vague (e.g., "schedule something"), ask for ALL missing details: What? When? Where?
   - When the user responds to your clarifying questions, ACCEPT their answer and use it to complete the task.
   - Only ask for information that is truly needed - don't be overly strict.
3. Ask for clarification only on information that is genuinely missing or unclear.
4. Combine clarifying questions into ONE message, not multiple separate questions.

{{.History}}Begin!

Question: {{.Input}}
Thought:{{.Scratchpad}}`))

// promptData is the template context for one loop iteration.
type promptData struct {
	Tools       []tools.Tool
	ToolNames   string
	CurrentTime string
	History     string
	Input       string
	Scratchpad  string
}

// renderPrompt assembles the full prompt for one model call. Only the
// last historyTurns entries of history are shown.
func renderPrompt(toolset []tools.Tool, now time.Time, history []Turn, historyTurns int, input, scratchpad string) (string, error) {
	names := make([]string, 0, len(toolset))
	for _, t := range toolset {
		names = append(names, t.Name)
	}

	var sb strings.Builder
	if err := promptTemplate.Execute(&sb, promptData{
		Tools:       toolset,
		ToolNames:   strings.Join(names, ", "),
		CurrentTime: now.Format(time.RFC3339),
		History:     renderHistory(history, historyTurns),
		Input:       input,
		Scratchpad:  scratchpad,
	}); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return sb.String(), nil
}

// renderHistory formats the rolling history block. Returns an empty
// string on the first turn so the prompt carries no empty section.
func renderHistory(history []Turn, k int) string {
	if len(history) == 0 {
		return ""
	}
	if k <= 0 {
		k = DefaultHistoryTurns
	}
	if len(history) > k {
		history = history[len(history)-k:]
	}

	var sb strings.Builder
	sb.WriteString("CONVERSATION HISTORY:\n")
	for i, turn := range history {
		fmt.Fprintf(&sb, "%d. %s: %s\n", i+1, turn.Role, turn.Content)
	}
	sb.WriteString("\n")
	return sb.String()
}

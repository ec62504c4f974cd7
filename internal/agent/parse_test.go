package agent

import (
	"errors"
	"testing"
)

func TestParseCompletion(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantKind  stepKind
		wantTool  string
		wantInput string
		wantFinal string
		wantErr   bool
	}{
		{
			name:      "final answer",
			text:      "Thought: I now know the final answer\nFinal Answer: Your meeting is booked.",
			wantKind:  stepFinal,
			wantFinal: "Your meeting is booked.",
		},
		{
			name:      "action with input",
			text:      "Thought: I should create the event\nAction: create_calendar_event\nAction Input: Meeting | 2024-11-22T14:00:00 | 2024-11-22T15:00:00",
			wantKind:  stepAction,
			wantTool:  "create_calendar_event",
			wantInput: "Meeting | 2024-11-22T14:00:00 | 2024-11-22T15:00:00",
		},
		{
			name:     "action with empty input",
			text:     "Thought: let me check the calendar\nAction: list_calendar_events\nAction Input:",
			wantKind: stepAction,
			wantTool: "list_calendar_events",
		},
		{
			name:     "action without input line",
			text:     "Action: list_calendar_events",
			wantKind: stepAction,
			wantTool: "list_calendar_events",
		},
		{
			name:      "backticked tool name",
			text:      "Action: `create_calendar_event`\nAction Input: \"Dinner | 2024-11-22T19:00:00\"",
			wantKind:  stepAction,
			wantTool:  "create_calendar_event",
			wantInput: "Dinner | 2024-11-22T19:00:00",
		},
		{
			name:      "input truncated at hallucinated observation",
			text:      "Action: list_calendar_events\nAction Input: \nObservation: there are 3 events",
			wantKind:  stepAction,
			wantTool:  "list_calendar_events",
			wantInput: "",
		},
		{
			name:      "both action and final answer favors final answer",
			text:      "Action: create_calendar_event\nAction Input: X | 2024-11-22T10:00:00\nFinal Answer: All done.",
			wantKind:  stepFinal,
			wantFinal: "All done.",
		},
		{
			name:    "pure prose",
			text:    "Sure, I can help with scheduling! What would you like to do?",
			wantErr: true,
		},
		{
			name:    "empty completion",
			text:    "",
			wantErr: true,
		},
		{
			name:    "action marker with empty name",
			text:    "Action:\nAction Input: something",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCompletion(tt.text)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseCompletion(%q) = %+v, want error", tt.text, got)
				}
				if !errors.Is(err, ErrNoParse) {
					t.Errorf("error = %v, want ErrNoParse", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseCompletion(%q) error: %v", tt.text, err)
			}
			if got.kind != tt.wantKind {
				t.Errorf("kind = %v, want %v", got.kind, tt.wantKind)
			}
			if got.tool != tt.wantTool {
				t.Errorf("tool = %q, want %q", got.tool, tt.wantTool)
			}
			if got.input != tt.wantInput {
				t.Errorf("input = %q, want %q", got.input, tt.wantInput)
			}
			if got.final != tt.wantFinal {
				t.Errorf("final = %q, want %q", got.final, tt.wantFinal)
			}
		})
	}
}

// Package agent implements the reasoning loop that turns free-text
// scheduling requests into tool invocations.
//
// One Run call handles one user turn: render prompt, ask the model for
// the next step, execute the chosen tool, fold the observation back in,
// repeat until the model produces a final answer or a budget runs out.
// Run never fails past the turn boundary — every failure mode degrades
// to some text the caller can show the user.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avmeyer/attache/internal/llm"
	"github.com/avmeyer/attache/internal/tools"
)

// Defaults for loop budgets.
const (
	DefaultMaxIterations = 8
	DefaultMaxTurnTime   = 90 * time.Second
	DefaultModelTimeout  = 60 * time.Second
)

// User-facing degradation messages. The loop guarantee is that the
// caller always gets one of these or a real answer, never an error.
const (
	msgIterationBudget = "I wasn't able to complete this within the allotted steps. Could you rephrase or break the request into smaller parts?"
	msgTimeBudget      = "I ran out of time working on this request. Please try again."
	msgModelFailure    = "I'm having trouble reaching my language model right now. Please try again in a moment."
)

// Config bounds one Executor's loop.
type Config struct {
	// MaxIterations caps think/act/observe cycles per turn. A failed
	// parse counts as an iteration.
	MaxIterations int

	// MaxTurnTime caps wall-clock time per turn.
	MaxTurnTime time.Duration

	// ModelTimeout caps one completion call so a hung provider cannot
	// consume the whole turn budget.
	ModelTimeout time.Duration

	// HistoryTurns is how many past turns are surfaced into the prompt.
	HistoryTurns int

	// Now is the clock, injectable for tests. Also feeds the prompt's
	// current-time context for relative date resolution.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.MaxTurnTime <= 0 {
		c.MaxTurnTime = DefaultMaxTurnTime
	}
	if c.ModelTimeout <= 0 {
		c.ModelTimeout = DefaultModelTimeout
	}
	if c.HistoryTurns <= 0 {
		c.HistoryTurns = DefaultHistoryTurns
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Executor runs the reasoning loop over a fixed tool set. It holds no
// per-turn state; history arrives with each Run call, so a single
// Executor serves a session for its whole lifetime.
type Executor struct {
	llm    llm.Client
	tools  []tools.Tool
	byName map[string]tools.Tool
	logger *slog.Logger
	cfg    Config
}

// NewExecutor creates an executor over the given bound tools.
func NewExecutor(client llm.Client, toolset []tools.Tool, logger *slog.Logger, cfg Config) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[string]tools.Tool, len(toolset))
	for _, t := range toolset {
		byName[t.Name] = t
	}
	return &Executor{
		llm:    client,
		tools:  toolset,
		byName: byName,
		logger: logger,
		cfg:    cfg.withDefaults(),
	}
}

// Run processes one user turn and returns the response text. It always
// returns non-empty text: budget exhaustion, parse failures, tool
// errors, and model transport errors all degrade to a message rather
// than an error.
func (e *Executor) Run(ctx context.Context, input string, history []Turn) string {
	start := e.cfg.Now()
	deadline := start.Add(e.cfg.MaxTurnTime)

	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	scratchpad := ""

	for iter := 1; iter <= e.cfg.MaxIterations; iter++ {
		if e.cfg.Now().After(deadline) || ctx.Err() != nil {
			e.logger.Warn("turn wall-clock budget exhausted",
				"iterations", iter-1, "elapsed", e.cfg.Now().Sub(start))
			return msgTimeBudget
		}

		prompt, err := renderPrompt(e.tools, e.cfg.Now(), history, e.cfg.HistoryTurns, input, scratchpad)
		if err != nil {
			// Template execution over plain strings cannot realistically
			// fail, but the turn guarantee holds regardless.
			e.logger.Error("prompt render failed", "error", err)
			return msgModelFailure
		}

		completion, err := e.complete(ctx, prompt)
		if err != nil {
			e.logger.Warn("model call failed", "iteration", iter, "error", err)
			return msgModelFailure
		}

		st, err := parseCompletion(completion)
		if err != nil {
			e.logger.Debug("unparseable completion", "iteration", iter, "error", err)
			// Feed the format error back as an observation and let the
			// model correct itself. Counts as a full iteration.
			scratchpad += completionForScratchpad(completion) +
				"\nObservation: Your last response did not follow the required format. " +
				"Reply with either 'Action:' and 'Action Input:' lines, or a 'Final Answer:' line.\nThought:"
			continue
		}

		if st.kind == stepFinal {
			e.logger.Info("turn complete",
				"iterations", iter, "elapsed", e.cfg.Now().Sub(start))
			if st.final == "" {
				return msgIterationBudget
			}
			return st.final
		}

		obs := e.invokeTool(ctx, st.tool, st.input)
		e.logger.Debug("tool invoked",
			"iteration", iter, "tool", st.tool, "observation_len", len(obs))

		scratchpad += completionForScratchpad(completion) +
			"\nObservation: " + obs + "\nThought:"
	}

	e.logger.Warn("turn iteration budget exhausted",
		"iterations", e.cfg.MaxIterations, "elapsed", e.cfg.Now().Sub(start))
	return msgIterationBudget
}

// complete calls the model with the per-call timeout applied.
func (e *Executor) complete(ctx context.Context, prompt string) (string, error) {
	mctx, cancel := context.WithTimeout(ctx, e.cfg.ModelTimeout)
	defer cancel()
	return e.llm.Complete(mctx, prompt)
}

// invokeTool executes one action and returns the observation text.
// Unknown tools and tool errors become observations, never failures:
// the model gets to read about the problem and try something else.
func (e *Executor) invokeTool(ctx context.Context, name, input string) string {
	tool, ok := e.byName[name]
	if !ok {
		names := make([]string, 0, len(e.tools))
		for _, t := range e.tools {
			names = append(names, t.Name)
		}
		return fmt.Sprintf("Unknown tool %q. Available tools: %s", name, strings.Join(names, ", "))
	}

	out, err := tool.Run(ctx, input)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Sprintf("The %s tool timed out before completing.", name)
		}
		return tools.ErrorText("%s failed: %v", name, err)
	}
	if out == "" {
		return fmt.Sprintf("The %s tool returned no output.", name)
	}
	return out
}

// completionForScratchpad trims a completion for scratchpad reuse so
// accumulated steps stay compact.
func completionForScratchpad(completion string) string {
	return strings.TrimRight(completion, " \n\t")
}

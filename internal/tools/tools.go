// Package tools defines the tools available to the agent and the
// registry that binds them to a user's credential.
//
// Tools accept a single free-text input and return free-text output
// because the reasoning loop speaks to the model in plain text. Input
// validation failures are reported as ERROR-prefixed result strings so
// the loop can feed them back as observations; Go errors are reserved
// for unexpected failures and never escape the loop either.
package tools

import (
	"context"
	"fmt"
	"log/slog"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string
	Description string
	Run         func(ctx context.Context, input string) (string, error)
}

// Provider is a capability bundle that produces tools bound to one
// user's credential (e.g. an OAuth access token). Providers own no
// state beyond what they need to build clients.
type Provider interface {
	// Name identifies the provider in the registry and in logs.
	Name() string

	// Tools builds the provider's tools bound to the given credential.
	Tools(ctx context.Context, credential string) ([]Tool, error)
}

// ErrorText formats a tool result reporting an input or domain problem.
// The ERROR prefix is part of the tool output contract: the model sees
// it as an observation and can correct itself or ask the user.
func ErrorText(format string, args ...any) string {
	return "ERROR: " + fmt.Sprintf(format, args...)
}

// Registry holds the registered providers. It is populated once at
// startup and read-only afterwards; Register must not be called after
// the server starts serving.
type Registry struct {
	logger    *slog.Logger
	providers []Provider
	byName    map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		byName: make(map[string]Provider),
	}
}

// Register adds a provider. Duplicate provider names are a
// configuration error.
func (r *Registry) Register(p Provider) error {
	if _, exists := r.byName[p.Name()]; exists {
		return fmt.Errorf("provider %q already registered", p.Name())
	}
	r.byName[p.Name()] = p
	r.providers = append(r.providers, p)
	return nil
}

// Providers returns the registered provider names in registration order.
func (r *Registry) Providers() []string {
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Name())
	}
	return names
}

// InstantiateAll builds the union of all providers' tools bound to the
// given credential. A provider that fails to construct is skipped and
// logged rather than aborting the whole session — one misconfigured
// capability must not take down the rest.
//
// Tool names must be unique across providers. If a later provider
// produces a name that is already bound, the first registration wins
// and the duplicate is logged and dropped.
func (r *Registry) InstantiateAll(ctx context.Context, credential string) []Tool {
	var all []Tool
	seen := make(map[string]string) // tool name -> provider name

	for _, p := range r.providers {
		ts, err := p.Tools(ctx, credential)
		if err != nil {
			r.logger.Warn("skipping tool provider", "provider", p.Name(), "error", err)
			continue
		}
		for _, t := range ts {
			if prev, dup := seen[t.Name]; dup {
				r.logger.Warn("dropping duplicate tool name",
					"tool", t.Name, "provider", p.Name(), "bound_by", prev)
				continue
			}
			seen[t.Name] = p.Name()
			all = append(all, t)
		}
	}

	return all
}

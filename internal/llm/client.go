// Package llm provides completion clients for the reasoning loop.
//
// The loop drives the model through a single text-in, text-out contract:
// it renders one prompt per iteration and parses the raw completion.
// Provider-specific wire formats stay behind this interface.
package llm

import "context"

// Client is the interface all completion providers implement.
type Client interface {
	// Complete sends a single prompt and returns the raw text completion.
	Complete(ctx context.Context, prompt string) (string, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}

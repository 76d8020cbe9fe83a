// Package orchestrate composes text engines. A Chain tries engines in
// order until one produces a completion, so a remote engine can fall back
// to a local one when it is unreachable.
package orchestrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/chorus/internal/engine"
)

// Chain is a TextEngine that delegates to the first engine able to serve
// each call. Token operations go to the primary engine only; mixing token
// vocabularies across engines would corrupt prompts.
type Chain struct {
	engines []engine.TextEngine
}

func NewChain(engines ...engine.TextEngine) (*Chain, error) {
	if len(engines) == 0 {
		return nil, fmt.Errorf("chain needs at least one engine")
	}
	return &Chain{engines: engines}, nil
}

func (c *Chain) Name() string {
	names := make([]string, len(c.engines))
	for i, e := range c.engines {
		names[i] = e.Name()
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

// Primary returns the first engine in the chain.
func (c *Chain) Primary() engine.TextEngine { return c.engines[0] }

func (c *Chain) Tokenize(ctx context.Context, text string) ([]int32, error) {
	return c.engines[0].Tokenize(ctx, text)
}

func (c *Chain) Detokenize(ctx context.Context, tokens []int32) (string, error) {
	return c.engines[0].Detokenize(ctx, tokens)
}

func (c *Chain) Generate(ctx context.Context, tokens []int32, cfg engine.SamplingConfig) ([]int32, error) {
	var lastErr error
	for _, e := range c.engines {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := e.Generate(ctx, tokens, cfg)
		if err == nil {
			return out, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("all engines failed: %w", lastErr)
}

// Complete tries each engine's prompt path in order. Cancellation stops
// the chain; a cancelled attempt is not retried downstream.
func (c *Chain) Complete(ctx context.Context, prompt string, cfg engine.SamplingConfig) (string, error) {
	var lastErr error
	for _, e := range c.engines {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		out, err := engine.Complete(ctx, e, prompt, cfg)
		if err == nil {
			return out, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("all engines failed: %w", lastErr)
}

// Package handler defines the agent's work function: the paid computation
// behind the payment gateway.
package handler

import (
	"context"
	"fmt"
)

// Handler turns a paid prompt into a result. Implementations must be safe
// for concurrent use; the gateway invokes one call per request.
type Handler interface {
	Handle(ctx context.Context, prompt string) (string, error)
}

// Func adapts a plain function to Handler.
type Func func(ctx context.Context, prompt string) (string, error)

func (f Func) Handle(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// New builds the backend named in configuration.
func New(backend, apiKey, model string) (Handler, error) {
	switch backend {
	case "", "echo":
		return NewEcho(), nil
	case "openai":
		return NewOpenAI(apiKey, model)
	default:
		return nil, fmt.Errorf("handler: unknown backend %q", backend)
	}
}

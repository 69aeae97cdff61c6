package handler

import "context"

// Echo answers with the prompt itself. Default backend for development and
// for agents whose value is the protocol surface, not the computation.
type Echo struct{}

func NewEcho() *Echo { return &Echo{} }

func (*Echo) Handle(ctx context.Context, prompt string) (string, error) {
	return "Echo: " + prompt, nil
}

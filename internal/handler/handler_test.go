package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEcho(t *testing.T) {
	h := NewEcho()
	out, err := h.Handle(context.Background(), "what is the CRO price?")
	require.NoError(t, err)
	assert.Equal(t, "Echo: what is the CRO price?", out)
}

func TestNewBackendSelection(t *testing.T) {
	h, err := New("", "", "")
	require.NoError(t, err)
	assert.IsType(t, &Echo{}, h)

	h, err = New("echo", "", "")
	require.NoError(t, err)
	assert.IsType(t, &Echo{}, h)

	h, err = New("openai", "sk-test", "")
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, h)

	_, err = New("openai", "", "")
	assert.Error(t, err)

	_, err = New("quantum", "", "")
	assert.Error(t, err)
}

func TestFuncAdapter(t *testing.T) {
	h := Func(func(ctx context.Context, prompt string) (string, error) {
		return "ok:" + prompt, nil
	})
	out, err := h.Handle(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "ok:x", out)
}

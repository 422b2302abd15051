package grader

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/llm-verdict/internal/llm"
	"github.com/giantswarm/llm-verdict/internal/provider"
	"github.com/giantswarm/llm-verdict/internal/testutil"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  bool
	}{
		{name: "exact", reply: "TRUE", want: true},
		{name: "padded", reply: "  TRUE\n", want: true},
		{name: "false", reply: "FALSE", want: false},
		{name: "empty", reply: "", want: false},
		{name: "lowercase", reply: "true", want: false},
		{name: "mixed case", reply: "True", want: false},
		{name: "maybe", reply: "MAYBE", want: false},
		{name: "multi-word", reply: "TRUE, mostly", want: false},
		{name: "sentence", reply: "The answer is TRUE", want: false},
		{name: "truncated", reply: "TR", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseVerdict(tt.reply))
		})
	}
}

func TestBuildPromptEmbedsVerbatim(t *testing.T) {
	prompt := BuildPrompt("Canberra is the capital.", "Must say Canberra.")
	assert.Contains(t, prompt, "```\nCanberra is the capital.\n```")
	assert.Contains(t, prompt, "```\nMust say Canberra.\n```")
	assert.Contains(t, prompt, "`TRUE`")
	assert.Contains(t, prompt, "`FALSE`")
}

func TestGradeSendsSingleTokenRequest(t *testing.T) {
	backend := &testutil.MockBackend{DefaultResponse: "TRUE"}
	g := NewGrader(backend, Config{})

	verdict, err := g.Grade(context.Background(), "Canberra", "Must say Canberra")
	require.NoError(t, err)
	assert.True(t, verdict)

	req := backend.LastRequest()
	assert.Equal(t, DefaultGradingModel, req.Model)
	assert.Equal(t, 1, req.MaxTokens)
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.0, *req.Temperature)
	assert.Contains(t, req.Prompt, "Canberra")
}

func TestGradeFailsClosed(t *testing.T) {
	backend := &testutil.MockBackend{DefaultResponse: "Probably TRUE"}
	g := NewGrader(backend, Config{Model: "judge"})

	verdict, err := g.Grade(context.Background(), "x", "y")
	require.NoError(t, err)
	assert.False(t, verdict)
	assert.Equal(t, "judge", backend.LastRequest().Model)
}

func TestGradeSingleAttempt(t *testing.T) {
	backend := &testutil.MockBackend{
		Script: []testutil.Reply{
			{Err: &llm.StatusError{Code: http.StatusTooManyRequests}},
			{Text: "TRUE"},
		},
	}
	g := NewGrader(backend, Config{})

	verdict, err := g.Grade(context.Background(), "x", "y")
	require.Error(t, err)
	assert.False(t, verdict)
	assert.True(t, provider.IsKind(err, provider.KindRateLimited))
	assert.Equal(t, 1, backend.Calls())
}

func TestGradeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	backend := &testutil.MockBackend{
		OnSend: func(context.Context, llm.Request) { cancel() },
		Script: []testutil.Reply{{Err: context.Canceled}},
	}
	g := NewGrader(backend, Config{})

	_, err := g.Grade(ctx, "x", "y")
	assert.ErrorIs(t, err, context.Canceled)
}

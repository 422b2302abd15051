// Package grader judges a single model response against review instructions
// using a second model call.
package grader

import (
	"context"
	"log/slog"
	"strings"

	"github.com/giantswarm/llm-verdict/internal/llm"
	"github.com/giantswarm/llm-verdict/internal/metrics"
	"github.com/giantswarm/llm-verdict/internal/provider"
)

// DefaultGradingModel is the default model used for grading.
const DefaultGradingModel = "claude-3-5-sonnet-20240620"

// Config holds grading configuration.
type Config struct {
	Model string
}

// Grader asks a backing model for a TRUE/FALSE verdict.
type Grader struct {
	backend llm.Backend
	config  Config
}

// NewGrader creates a new Grader.
func NewGrader(backend llm.Backend, config Config) *Grader {
	if config.Model == "" {
		config.Model = DefaultGradingModel
	}
	return &Grader{backend: backend, config: config}
}

// Grade returns true only when the model answers exactly TRUE, ignoring
// surrounding whitespace. Any other reply is false. A single attempt is made;
// backend failures are returned as *provider.Error.
func (g *Grader) Grade(ctx context.Context, response, reviewInstructions string) (bool, error) {
	reply, err := g.backend.Send(ctx, llm.Request{
		Model:       g.config.Model,
		Prompt:      BuildPrompt(response, reviewInstructions),
		MaxTokens:   1,
		Temperature: llm.Float64Ptr(0),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		metrics.RecordGrade("error")
		return false, provider.Classify(g.config.Model, err)
	}

	verdict := ParseVerdict(reply)
	if !verdict && strings.TrimSpace(reply) != "FALSE" {
		slog.Debug("ungradable reply treated as false", "reply", reply)
	}
	metrics.RecordGrade(verdictLabel(verdict))
	return verdict, nil
}

// ParseVerdict interprets a grading reply. Ambiguous output, including a
// lowercase "true", fails closed.
func ParseVerdict(reply string) bool {
	return strings.TrimSpace(reply) == "TRUE"
}

func verdictLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

// Package answer produces assistant replies for health questions.
//
// A Provider turns a question plus short history into a Result. The OpenAI
// provider calls a chat-completion model; Fallback returns topic-matched
// canned answers; Chain runs the first and substitutes the second on any
// failure so a question is never left unanswered.
package answer

import (
	"context"
	"errors"
	"strings"

	"github.com/tbourn/chatdys-backend/internal/domain"
	"github.com/tbourn/chatdys-backend/internal/observability"
)

// ErrNotConfigured is returned by a provider that has no credentials.
var ErrNotConfigured = errors.New("answer provider not configured")

// ErrEmptyAnswer is returned when the model produced no content.
var ErrEmptyAnswer = errors.New("answer provider returned empty answer")

// Turn is one prior message given to the model as context.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the input to a Provider.
type Request struct {
	Question string
	History  []Turn
	UserID   string
}

// Result is a produced answer and its metadata.
type Result struct {
	Answer          string
	Sources         []domain.Source
	ConfidenceScore int
	ModelUsed       string
	TokensUsed      int
}

// Provider answers questions.
type Provider interface {
	Answer(ctx context.Context, req Request) (*Result, error)
}

// Chain answers with Primary and falls back to Fallback on error. The
// returned error is the primary failure (nil on success) and is meant for
// recording, not for failing the request.
type Chain struct {
	Primary  Provider
	Fallback Provider
}

// Answer implements the fallback policy. It only fails when both providers
// fail.
func (c Chain) Answer(ctx context.Context, req Request) (*Result, error) {
	var primaryErr error
	if c.Primary != nil {
		res, err := c.Primary.Answer(ctx, req)
		if err == nil && res != nil && strings.TrimSpace(res.Answer) != "" {
			observability.AnswerProvider.WithLabelValues("model").Inc()
			return res, nil
		}
		if err == nil {
			err = ErrEmptyAnswer
		}
		primaryErr = err
	} else {
		primaryErr = ErrNotConfigured
	}

	if c.Fallback == nil {
		return nil, primaryErr
	}
	// The fallback must not inherit a deadline the primary already exhausted.
	res, err := c.Fallback.Answer(context.WithoutCancel(ctx), req)
	if err != nil {
		return nil, errors.Join(primaryErr, err)
	}
	observability.AnswerProvider.WithLabelValues("fallback").Inc()
	return res, primaryErr
}

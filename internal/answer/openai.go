package answer

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tbourn/chatdys-backend/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// SystemPrompt frames the assistant for every completion.
const SystemPrompt = `You are ChatDys, an AI assistant specialized in dysautonomia, POTS (Postural Orthostatic Tachycardia Syndrome), and Long Covid. You provide evidence-based medical information to help users understand their conditions and manage their symptoms.

Key guidelines:
1. Always provide accurate, evidence-based medical information
2. Cite sources when possible and mention if information comes from medical literature
3. Remind users that you're not a replacement for professional medical advice
4. Be empathetic and understanding of the challenges these conditions present
5. Focus on practical, actionable advice for symptom management
6. Explain medical terms in accessible language
7. Encourage users to work with their healthcare providers

Areas of expertise:
- POTS and other forms of dysautonomia
- Long Covid and post-viral syndromes
- Symptom management strategies
- Lifestyle modifications (diet, exercise, sleep)
- Treatment options and medications
- Diagnostic processes and tests

Always be supportive and acknowledge the real challenges these conditions present while providing helpful, accurate information.`

// Completer is the subset of *openai.Client used here.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI answers with a chat-completion model.
type OpenAI struct {
	Client        Completer
	Model         string
	MaxTokens     int
	Temperature   float32
	HistoryWindow int
}

// NewOpenAI builds a provider from configuration. It returns nil when no API
// key is configured.
func NewOpenAI(cfg config.OpenAIConfig) *OpenAI {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &OpenAI{
		Client:        openai.NewClientWithConfig(oc),
		Model:         cfg.Model,
		MaxTokens:     cfg.MaxTokens,
		Temperature:   float32(cfg.Temperature),
		HistoryWindow: cfg.HistoryWindow,
	}
}

// Messages builds the completion transcript: system prompt, the last
// HistoryWindow turns, then the question.
func (o *OpenAI) Messages(req Request) []openai.ChatCompletionMessage {
	history := req.History
	if o.HistoryWindow > 0 && len(history) > o.HistoryWindow {
		history = history[len(history)-o.HistoryWindow:]
	}
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt})
	for _, t := range history {
		role := openai.ChatMessageRoleUser
		if t.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	return append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Question})
}

// Answer implements Provider.
func (o *OpenAI) Answer(ctx context.Context, req Request) (*Result, error) {
	if o == nil || o.Client == nil {
		return nil, ErrNotConfigured
	}
	ctx, span := otel.Tracer("answer/OpenAI").Start(ctx, "Answer")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", o.Model),
		attribute.Int("llm.history", len(req.History)),
	)

	resp, err := o.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:            o.Model,
		Messages:         o.Messages(req),
		MaxTokens:        o.MaxTokens,
		Temperature:      o.Temperature,
		PresencePenalty:  0.1,
		FrequencyPenalty: 0.1,
		User:             req.UserID,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyAnswer
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return nil, ErrEmptyAnswer
	}
	span.SetAttributes(attribute.Int("llm.tokens", resp.Usage.TotalTokens))

	model := resp.Model
	if model == "" {
		model = o.Model
	}
	return &Result{
		Answer:          text,
		Sources:         ExtractSources(text),
		ConfidenceScore: Score(text),
		ModelUsed:       model,
		TokensUsed:      resp.Usage.TotalTokens,
	}, nil
}

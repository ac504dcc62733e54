package llmservice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"document-qa/internal/config"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

var ErrEmptyResponse = errors.New("empty response from model")

// NewEmbedder returns the "text -> vector" provider described by cfg.
func NewEmbedder(cfg *config.LLMConfig) (embeddings.Embedder, error) {
	log.Debug().Str("provider", cfg.Provider).Str("base_url", cfg.BaseURL).
		Str("model", cfg.Model).Msg("Creating embedder")

	switch cfg.Provider {
	case config.ProviderOpenAI, config.ProviderOllama:
		client, err := newLangchainClient(cfg)
		if err != nil {
			return nil, err
		}
		// Batching is done by the caller; one provider request per call.
		return embeddings.NewEmbedder(client, embeddings.WithStripNewLines(false))
	case config.ProviderGoOpenAI:
		return NewGoOpenAIClient(cfg), nil
	case config.ProviderOpenAISDK:
		return NewOpenAISDKClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// NewChatModel returns the "messages -> text" provider described by cfg.
func NewChatModel(cfg *config.LLMConfig) (llms.Model, error) {
	log.Debug().Str("provider", cfg.Provider).Str("base_url", cfg.BaseURL).
		Str("model", cfg.Model).Msg("Creating chat model")

	switch cfg.Provider {
	case config.ProviderOpenAI, config.ProviderOllama:
		return newLangchainClient(cfg)
	case config.ProviderGoOpenAI:
		return NewGoOpenAIClient(cfg), nil
	case config.ProviderOpenAISDK:
		return NewOpenAISDKClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// langchainClient is satisfied by both langchaingo backends.
type langchainClient interface {
	llms.Model
	embeddings.EmbedderClient
}

func newLangchainClient(cfg *config.LLMConfig) (langchainClient, error) {
	httpClient := &http.Client{Timeout: time.Duration(cfg.TimeoutSecs) * time.Second}

	if cfg.Provider == config.ProviderOllama {
		llm, err := ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
			ollama.WithHTTPClient(httpClient),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		return llm, nil
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	return llm, nil
}

// GenerateContent sends a system and a user message and returns the text of
// the first choice.
func GenerateContent(ctx context.Context, model llms.Model, system, user string, options ...llms.CallOption) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, system),
		llms.TextParts(schema.ChatMessageTypeHuman, user),
	}

	res, err := model.GenerateContent(ctx, messages, options...)
	if err != nil {
		return "", err
	}
	if len(res.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return res.Choices[0].Content, nil
}

type chatMessage struct {
	role string
	text string
}

// flattenMessages maps langchaingo messages onto OpenAI chat roles, keeping
// only text parts.
func flattenMessages(messages []llms.MessageContent) []chatMessage {
	out := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		var text strings.Builder
		for _, part := range m.Parts {
			if tc, ok := part.(llms.TextContent); ok {
				text.WriteString(tc.Text)
			}
		}
		role := "user"
		switch m.Role {
		case schema.ChatMessageTypeSystem:
			role = "system"
		case schema.ChatMessageTypeAI:
			role = "assistant"
		}
		out = append(out, chatMessage{role: role, text: text.String()})
	}
	return out
}

func callOptions(defaults *config.LLMConfig, options []llms.CallOption) llms.CallOptions {
	opts := llms.CallOptions{
		Model:       defaults.Model,
		Temperature: defaults.Temperature,
		MaxTokens:   defaults.MaxTokens,
	}
	for _, o := range options {
		o(&opts)
	}
	return opts
}

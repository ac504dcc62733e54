package llmservice

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"document-qa/internal/config"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tmc/langchaingo/llms"
)

// OpenAISDKClient uses the official openai-go SDK. SDK retries are off.
type OpenAISDKClient struct {
	client openai.Client
	cfg    config.LLMConfig
}

func NewOpenAISDKClient(cfg *config.LLMConfig) *OpenAISDKClient {
	client := openai.NewClient(
		option.WithAPIKey(strings.TrimPrefix(cfg.Key, "Bearer ")),
		option.WithBaseURL(cfg.BaseURL),
		option.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.TimeoutSecs) * time.Second}),
		option.WithMaxRetries(0),
	)
	return &OpenAISDKClient{client: client, cfg: *cfg}
}

func (c *OpenAISDKClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:          openai.EmbeddingModel(c.cfg.Model),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding request returned %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (c *OpenAISDKClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *OpenAISDKClient) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := callOptions(&c.cfg, options)

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(opts.Model),
		Temperature: openai.Float(opts.Temperature),
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	for _, m := range flattenMessages(messages) {
		switch m.role {
		case "system":
			params.Messages = append(params.Messages, openai.SystemMessage(m.text))
		case "assistant":
			params.Messages = append(params.Messages, openai.AssistantMessage(m.text))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.text))
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	out := &llms.ContentResponse{}
	for _, choice := range resp.Choices {
		out.Choices = append(out.Choices, &llms.ContentChoice{
			Content:    choice.Message.Content,
			StopReason: choice.FinishReason,
		})
	}
	return out, nil
}

func (c *OpenAISDKClient) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, c, prompt, options...)
}

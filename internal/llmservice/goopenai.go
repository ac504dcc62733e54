package llmservice

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"document-qa/internal/config"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"
)

// GoOpenAIClient talks to an OpenAI-compatible API through sashabaranov/go-openai.
type GoOpenAIClient struct {
	client *goopenai.Client
	cfg    config.LLMConfig
}

func NewGoOpenAIClient(cfg *config.LLMConfig) *GoOpenAIClient {
	clientCfg := goopenai.DefaultConfig(strings.TrimPrefix(cfg.Key, "Bearer "))
	clientCfg.BaseURL = cfg.BaseURL
	clientCfg.HTTPClient = &http.Client{Timeout: time.Duration(cfg.TimeoutSecs) * time.Second}
	return &GoOpenAIClient{
		client: goopenai.NewClientWithConfig(clientCfg),
		cfg:    *cfg,
	}
}

func (c *GoOpenAIClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: texts,
		Model: goopenai.EmbeddingModel(c.cfg.Model),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding request returned %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

func (c *GoOpenAIClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *GoOpenAIClient) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := callOptions(&c.cfg, options)

	req := goopenai.ChatCompletionRequest{
		Model:       opts.Model,
		Temperature: float32(opts.Temperature),
		MaxTokens:   opts.MaxTokens,
	}
	for _, m := range flattenMessages(messages) {
		req.Messages = append(req.Messages, goopenai.ChatCompletionMessage{Role: m.role, Content: m.text})
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	out := &llms.ContentResponse{}
	for _, choice := range resp.Choices {
		out.Choices = append(out.Choices, &llms.ContentChoice{
			Content:    choice.Message.Content,
			StopReason: string(choice.FinishReason),
		})
	}
	return out, nil
}

func (c *GoOpenAIClient) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, c, prompt, options...)
}

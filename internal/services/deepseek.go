package services

import (
	"context"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"gua-backend/internal/models"
)

const (
	deepSeekBaseURL = "https://api.deepseek.com"
	deepSeekModel   = "deepseek-chat"
)

// DeepSeekUpstream talks to the OpenAI-compatible DeepSeek API.
type DeepSeekUpstream struct {
	client *openai.Client
	model  string
}

func NewDeepSeekUpstream(cfg CompletionConfig) *DeepSeekUpstream {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = deepSeekBaseURL
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	model := cfg.Model
	if model == "" {
		model = deepSeekModel
	}

	return &DeepSeekUpstream{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}
}

func (u *DeepSeekUpstream) CreateChatCompletion(ctx context.Context, messages []models.ChatMessage) (*openai.ChatCompletionResponse, error) {
	req := openai.ChatCompletionRequest{
		Model:    u.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
		Stream:   false,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := u.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

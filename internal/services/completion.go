package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"gua-backend/internal/models"
)

const (
	ProviderDeepSeek = "deepseek"
	ProviderGemini   = "gemini"
)

// CompletionConfig selects and configures the upstream model.
type CompletionConfig struct {
	Provider string
	APIKey   string
	// KeyName is the environment variable APIKey was read from.
	KeyName string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Upstream is one chat-completion backend. Replies are always returned in
// the OpenAI response shape, whatever the backend speaks.
type Upstream interface {
	CreateChatCompletion(ctx context.Context, messages []models.ChatMessage) (*openai.ChatCompletionResponse, error)
}

// CompletionProxy relays chat histories to the upstream with the secret
// credential attached. Clients never see the key.
type CompletionProxy struct {
	upstream  Upstream
	configErr error
	log       zerolog.Logger
}

// NewCompletionProxy builds the configured upstream. A missing credential
// is not a startup error: the proxy is still returned and fails every call
// with a ConfigurationError.
func NewCompletionProxy(ctx context.Context, cfg CompletionConfig, log zerolog.Logger) (*CompletionProxy, error) {
	p := &CompletionProxy{log: log}

	if cfg.APIKey == "" {
		p.configErr = &ConfigurationError{
			Setting: cfg.KeyName,
			Message: fmt.Sprintf("Server configuration error: %s is not set", cfg.KeyName),
		}
		log.Error().Str("setting", cfg.KeyName).Str("provider", cfg.Provider).
			Msg("completion credential missing, every chat request will fail")
		return p, nil
	}

	switch strings.ToLower(cfg.Provider) {
	case "", ProviderDeepSeek:
		p.upstream = NewDeepSeekUpstream(cfg)
	case ProviderGemini:
		up, err := NewGeminiUpstream(ctx, cfg)
		if err != nil {
			return nil, err
		}
		p.upstream = up
	default:
		return nil, fmt.Errorf("unknown completion provider %q", cfg.Provider)
	}

	log.Info().Str("provider", cfg.Provider).Msg("completion proxy ready")
	return p, nil
}

func NewCompletionProxyWithUpstream(upstream Upstream, log zerolog.Logger) *CompletionProxy {
	return &CompletionProxy{upstream: upstream, log: log}
}

// Close releases upstream resources when the upstream holds any.
func (p *CompletionProxy) Close() {
	if c, ok := p.upstream.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			p.log.Warn().Err(err).Msg("failed to close completion upstream")
		}
	}
}

// CompleteRaw forwards the history and returns the upstream payload as is.
func (p *CompletionProxy) CompleteRaw(ctx context.Context, messages []models.ChatMessage) (*openai.ChatCompletionResponse, error) {
	if p.configErr != nil {
		return nil, p.configErr
	}
	if len(messages) == 0 {
		return nil, &ValidationError{Fields: map[string]string{"messages": "At least one message is required"}}
	}

	start := time.Now()
	resp, err := p.upstream.CreateChatCompletion(ctx, messages)
	if err != nil {
		cerr := &CompletionError{StatusCode: upstreamStatus(err), Err: err}
		p.log.Error().Err(err).Int("status", cerr.StatusCode).Dur("elapsed", time.Since(start)).
			Msg("completion upstream failed")
		return nil, cerr
	}
	if len(resp.Choices) == 0 {
		return nil, &CompletionError{Err: errors.New("upstream returned no choices")}
	}

	p.log.Debug().Int("messages", len(messages)).Dur("elapsed", time.Since(start)).
		Int("total_tokens", resp.Usage.TotalTokens).Msg("completion done")
	return resp, nil
}

// Complete returns the first choice as an assistant message.
func (p *CompletionProxy) Complete(ctx context.Context, messages []models.ChatMessage) (*models.ChatMessage, error) {
	resp, err := p.CompleteRaw(ctx, messages)
	if err != nil {
		return nil, err
	}

	msg := resp.Choices[0].Message
	if strings.TrimSpace(msg.Content) == "" {
		return nil, &CompletionError{Err: errors.New("upstream returned an empty message")}
	}
	role := msg.Role
	if role == "" {
		role = openai.ChatMessageRoleAssistant
	}
	return &models.ChatMessage{Role: role, Content: msg.Content}, nil
}

// upstreamStatus digs the HTTP status out of an upstream error, 0 when the
// request never got a response.
func upstreamStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return geminiStatus(err)
}

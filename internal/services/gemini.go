package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"gua-backend/internal/models"
)

const geminiModel = "gemini-1.5-flash"

// GeminiUpstream runs the history as a Gemini chat session and wraps the
// reply in the OpenAI response shape.
type GeminiUpstream struct {
	client *genai.Client
	model  *genai.GenerativeModel
	name   string
}

func NewGeminiUpstream(ctx context.Context, cfg CompletionConfig) (*GeminiUpstream, error) {
	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}

	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	name := cfg.Model
	if name == "" {
		name = geminiModel
	}
	model := client.GenerativeModel(name)
	model.SetTemperature(0.7)
	model.SetTopP(0.95)

	return &GeminiUpstream{client: client, model: model, name: name}, nil
}

func (u *GeminiUpstream) Close() error {
	return u.client.Close()
}

func (u *GeminiUpstream) CreateChatCompletion(ctx context.Context, messages []models.ChatMessage) (*openai.ChatCompletionResponse, error) {
	last := messages[len(messages)-1]
	if last.Role != models.SenderUser {
		return nil, errors.New("gemini chat must end with a user message")
	}

	cs := u.model.StartChat()
	cs.History = geminiHistory(messages[:len(messages)-1])

	resp, err := cs.SendMessage(ctx, genai.Text(last.Content))
	if err != nil {
		return nil, fmt.Errorf("Gemini API error: %w", err)
	}

	text := extractText(resp)
	finish := openai.FinishReasonStop
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != genai.FinishReasonStop {
		finish = openai.FinishReason(strings.ToLower(resp.Candidates[0].FinishReason.String()))
	}

	out := &openai.ChatCompletionResponse{
		ID:      "gemini-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   u.name,
	}
	if text != "" {
		out.Choices = []openai.ChatCompletionChoice{{
			Index:        0,
			Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: text},
			FinishReason: finish,
		}}
	}
	if resp.UsageMetadata != nil {
		out.Usage = openai.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}

// geminiHistory maps chat roles onto Gemini's "user" and "model". Gemini
// rejects two consecutive turns from the same role, so those are merged.
func geminiHistory(messages []models.ChatMessage) []*genai.Content {
	history := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := "model"
		if m.Role == models.SenderUser {
			role = "user"
		}
		if n := len(history); n > 0 && history[n-1].Role == role {
			history[n-1].Parts = append(history[n-1].Parts, genai.Text(m.Content))
			continue
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	return history
}

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}

// geminiStatus reports the HTTP status of a Gemini API failure.
func geminiStatus(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}

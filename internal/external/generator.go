package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"pitchcraft/internal/config"
	"pitchcraft/internal/types"
)

// GenerationRequest is one outreach-message generation call. Prompt
// construction beyond this envelope is the upstream model's concern.
type GenerationRequest struct {
	ProfileText string
	Tone        string
}

// GeneratedMessage is the collaborator's output, ready to become an Artifact.
type GeneratedMessage struct {
	Text  string
	Score float64
	Model string
}

// CompletionClient talks to an OpenAI-compatible chat-completions endpoint
// through the BaseClient resilience layer.
type CompletionClient struct {
	base    *BaseClient
	apiKey  types.SecretString
	baseURL string
	model   string
	logger  *slog.Logger
}

// NewCompletionClient creates a CompletionClient from config. The endpoint
// URL points at the API root; the chat-completions path is appended here.
func NewCompletionClient(httpClient *http.Client, cfg config.GenerationConfig, logger *slog.Logger, opts ...BaseClientOption) *CompletionClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &CompletionClient{
		base:    NewBaseClient(httpClient, "generation", DefaultRetryPolicy(), "PitchCraft/1.0", opts...),
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.EndpointURL, "/"),
		model:   cfg.Model,
		logger:  logger,
	}
}

const systemPrompt = "You write short, specific cold-outreach messages. " +
	"Given a person's profile or bio, produce one personalized opening message. " +
	"Reply with the message text only."

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// Generate produces one outreach message for the given profile text.
func (c *CompletionClient) Generate(ctx context.Context, req GenerationRequest) (*GeneratedMessage, error) {
	userPrompt := req.ProfileText
	if req.Tone != "" {
		userPrompt = fmt.Sprintf("Tone: %s\n\n%s", req.Tone, req.ProfileText)
	}

	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to encode generation request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to build generation request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey.Unmask())

	resp, err := c.base.Do(httpReq)
	if err != nil {
		return nil, c.wrapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.logger.WarnContext(ctx, "generation upstream rejected request",
			"status", resp.StatusCode, "body", string(body))
		return nil, types.NewAppError(types.ErrCodeUpstreamGeneration,
			fmt.Sprintf("generation upstream returned %d", resp.StatusCode), nil)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamGeneration,
			"failed to decode generation response", err)
	}
	if len(out.Choices) == 0 {
		return nil, types.NewAppError(types.ErrCodeUpstreamGeneration,
			"generation response contained no choices", nil)
	}

	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return nil, types.NewAppError(types.ErrCodeUpstreamGeneration,
			"generation response contained empty text", nil)
	}

	model := out.Model
	if model == "" {
		model = c.model
	}
	return &GeneratedMessage{
		Text:  text,
		Score: scoreMessage(text),
		Model: model,
	}, nil
}

// wrapTransportError keeps BaseClient's typed errors and tags raw transport
// failures as generation-upstream.
func (c *CompletionClient) wrapTransportError(err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return types.NewAppError(types.ErrCodeUpstreamGeneration,
		"generation request failed", err)
}

// scoreMessage is a coarse length-shaped quality proxy stored alongside the
// artifact. Messages near the 40-120 word range score highest; the score is
// display metadata, not an admission input.
func scoreMessage(text string) float64 {
	words := len(strings.Fields(text))
	switch {
	case words == 0:
		return 0
	case words < 10:
		return 0.3
	case words <= 120:
		return 0.9
	case words <= 250:
		return 0.6
	default:
		return 0.4
	}
}

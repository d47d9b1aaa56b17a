// Package ai wraps the OpenAI chat and embedding endpoints used for task
// generation, board summaries and semantic search.
package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/emna-belhajltaief/smart-task-manager/config"
)

const (
	maxInputChars = 8000
	maxRetries    = 3
	initialDelay  = time.Second
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("openai api key not set")

// Completion is the text of a chat completion plus the tokens it consumed.
type Completion struct {
	Text       string
	TokensUsed int
}

// Client calls the OpenAI REST API.
type Client struct {
	apiKey         string
	baseURL        string
	chatModel      string
	embeddingModel string
	http           *http.Client
	logger         *log.Logger
	initialDelay   time.Duration
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient builds a client from cfg. A nil httpClient uses a client with a
// 60 second timeout.
func NewClient(cfg config.OpenAI, httpClient *http.Client, logger *log.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Client{
		apiKey:         cfg.APIKey,
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		chatModel:      cfg.ChatModel,
		embeddingModel: cfg.EmbeddingModel,
		http:           httpClient,
		logger:         logger,
		initialDelay:   initialDelay,
	}
}

// Complete sends prompt as the user message, preceded by system when it is
// not empty.
func (c *Client) Complete(ctx context.Context, system, prompt string) (Completion, error) {
	req := chatRequest{Model: c.chatModel}
	if system != "" {
		req.Messages = append(req.Messages, message{Role: "system", Content: system})
	}
	req.Messages = append(req.Messages, message{Role: "user", Content: prompt})

	var resp chatResponse
	if err := c.post(ctx, "/chat/completions", req, &resp); err != nil {
		return Completion{}, err
	}
	if len(resp.Choices) == 0 {
		return Completion{}, errors.New("openai returned no choices")
	}
	return Completion{Text: resp.Choices[0].Message.Content, TokensUsed: resp.Usage.TotalTokens}, nil
}

// Embed returns the embedding of text, truncated to the model input limit.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp embeddingResponse
	if err := c.post(ctx, "/embeddings", embeddingRequest{Model: c.embeddingModel, Input: Truncate(text)}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("openai returned no embedding")
	}
	return resp.Data[0].Embedding, nil
}

// Truncate cuts s to the embedding input limit without splitting a rune.
func Truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxInputChars {
		return s
	}
	return string(r[:maxInputChars])
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	if c.apiKey == "" {
		return ErrNotConfigured
	}
	body, err := sonic.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.initialDelay << (attempt - 1)
			c.logger.WithFields(log.Fields{
				"path":    path,
				"attempt": attempt + 1,
				"delay":   delay.String(),
			}).WithError(lastErr).Debug("retrying openai request")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("openai request: %w", err)
			continue
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			var apiErr apiError
			if sonic.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
				lastErr = fmt.Errorf("openai error (%d): %s", resp.StatusCode, apiErr.Error.Message)
			} else {
				lastErr = fmt.Errorf("openai error (%d): %s", resp.StatusCode, string(data))
			}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				continue
			}
			return lastErr
		}

		if err := sonic.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("max retries (%d) exceeded: %w", maxRetries, lastErr)
}

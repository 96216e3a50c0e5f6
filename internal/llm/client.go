package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cognicore/sentiprep/pkg/sentiprep/insight"
	"github.com/cognicore/sentiprep/pkg/sentiprep/internalerr"
	"github.com/cognicore/sentiprep/pkg/sentiprep/model"
)

// Client calls an OpenAI-compatible chat completion endpoint and implements
// the translation, inference and insight capabilities on top of it.
type Client struct {
	BaseURL string
	APIKey  string
	Model   string
	// Temperature for sentiment and insight prompts; translation always
	// uses a low temperature.
	Temperature float64

	HTTPClient *http.Client
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// callOptions tunes one completion.
type callOptions struct {
	temperature float64
	maxTokens   int
}

// Translate asks the model to translate text into targetLang.
func (c *Client) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	out, err := c.complete(ctx, "", translatePrompt(text, sourceLang, targetLang), callOptions{
		temperature: 0.2,
		maxTokens:   max(100, min(len(text)*3, 1000)),
	})
	if err != nil {
		return "", err
	}
	translated := cleanTranslation(out)
	if translated == "" {
		return "", fmt.Errorf("llm: empty translation")
	}
	return translated, nil
}

// InferSentiment asks the model for a sentiment label and confidence.
func (c *Client) InferSentiment(ctx context.Context, text string) (model.Sentiment, error) {
	out, err := c.complete(ctx, "", sentimentPrompt(text), callOptions{
		temperature: c.Temperature,
		maxTokens:   200,
	})
	if err != nil {
		return model.Sentiment{}, err
	}
	return parseSentiment(out)
}

// GenerateInsights asks the model for bullet insights over a job summary.
func (c *Client) GenerateInsights(ctx context.Context, in insight.Input) ([]string, error) {
	system := "You are a customer experience analyst. Base every statement on the provided figures."
	out, err := c.complete(ctx, system, insightsPrompt(in), callOptions{
		temperature: c.Temperature,
		maxTokens:   800,
	})
	if err != nil {
		return nil, err
	}
	return insight.SplitLines(out), nil
}

// Chat sends a system and user message and returns the reply.
func (c *Client) Chat(ctx context.Context, system, user string) (string, error) {
	return c.complete(ctx, system, user, callOptions{temperature: c.Temperature})
}

func (c *Client) complete(ctx context.Context, system, user string, opts callOptions) (string, error) {
	if c.BaseURL == "" || c.Model == "" {
		return "", fmt.Errorf("%w: llm base URL and model required", internalerr.ErrInvalidConfig)
	}
	var messages []chatMessage
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: user})

	payload, err := c.send(ctx, messages, opts)
	if err != nil {
		return "", err
	}
	if len(payload.Choices) == 0 {
		return "", fmt.Errorf("llm: empty response")
	}
	return strings.TrimSpace(payload.Choices[0].Message.Content), nil
}

func (c *Client) send(ctx context.Context, messages []chatMessage, opts callOptions) (*chatResponse, error) {
	temp := opts.temperature
	reqBody, err := json.Marshal(chatRequest{
		Model:       c.Model,
		Messages:    messages,
		Temperature: &temp,
		MaxTokens:   opts.maxTokens,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	var payload chatResponse
	decodeErr := json.Unmarshal(body, &payload)
	if payload.Error != nil {
		return nil, fmt.Errorf("llm error (status %d): %s", resp.StatusCode, payload.Error.Message)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("llm: unexpected status %d: %s", resp.StatusCode, snippet(body))
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("llm: decode response: %w", decodeErr)
	}
	return &payload, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

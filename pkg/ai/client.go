package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Usage reports the tokens a completion actually consumed.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Completion is a model response plus its usage accounting.
type Completion struct {
	Text  string
	Usage Usage
}

// Client is one concrete provider/model binding. A Client is constructed
// lazily by the Router the first time its provider is needed.
type Client interface {
	// Complete sends a system prompt and user prompt to the model and
	// returns the assistant's response text with usage.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (*Completion, error)

	// ModelName returns the model identifier for diagnostics and pricing.
	ModelName() string
}

const defaultMaxCompletionTokens = 8192

// OpenAIClient implements Client against the OpenAI chat completions API
// (or any compatible endpoint via OPENAI_BASE_URL).
type OpenAIClient struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

// NewOpenAIClient creates a client from environment configuration:
//
//	OPENAI_API_KEY  – required
//	OPENAI_BASE_URL – optional (default https://api.openai.com/v1)
func NewOpenAIClient(model string) (*OpenAIClient, error) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	base := os.Getenv("OPENAI_BASE_URL")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		BaseURL:    strings.TrimRight(base, "/"),
		APIKey:     key,
		Model:      model,
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

type chatRequest struct {
	Model               string        `json:"model,omitempty"`
	Messages            []chatMessage `json:"messages"`
	MaxCompletionTokens int           `json:"max_completion_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// ModelName returns the model identifier.
func (c *OpenAIClient) ModelName() string { return c.Model }

// Complete sends a chat completion request.
func (c *OpenAIClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (*Completion, error) {
	reqBody := chatRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxCompletionTokens: defaultMaxCompletionTokens,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned %d: %s", resp.StatusCode, string(respBody))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if chatResp.Error != nil {
		return nil, fmt.Errorf("API error [%s]: %s", chatResp.Error.Code, chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	if chatResp.Choices[0].FinishReason == "length" {
		return nil, fmt.Errorf("response truncated at max_completion_tokens")
	}

	return &Completion{
		Text: chatResp.Choices[0].Message.Content,
		Usage: Usage{
			InputTokens:  chatResp.Usage.PromptTokens,
			OutputTokens: chatResp.Usage.CompletionTokens,
		},
	}, nil
}

// AzureOpenAIClient implements Client using the Azure OpenAI REST API.
type AzureOpenAIClient struct {
	Endpoint   string // e.g. https://<resource>.openai.azure.com
	APIKey     string
	Deployment string
	APIVersion string
	HTTPClient *http.Client
}

// NewAzureOpenAIClient creates a client from environment variables:
//
//	AZURE_OPENAI_ENDPOINT    – required
//	AZURE_OPENAI_API_KEY     – required
//	AZURE_OPENAI_API_VERSION – optional (default "2024-02-01")
//
// The deployment name is the model segment of the step's model spec.
func NewAzureOpenAIClient(deployment string) (*AzureOpenAIClient, error) {
	endpoint := os.Getenv("AZURE_OPENAI_ENDPOINT")
	if endpoint == "" {
		return nil, fmt.Errorf("AZURE_OPENAI_ENDPOINT is required")
	}
	key := os.Getenv("AZURE_OPENAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("AZURE_OPENAI_API_KEY is required")
	}
	return &AzureOpenAIClient{
		Endpoint:   strings.TrimRight(endpoint, "/"),
		APIKey:     key,
		Deployment: deployment,
		APIVersion: envOrDefault("AZURE_OPENAI_API_VERSION", "2024-02-01"),
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// ModelName returns the deployment name.
func (c *AzureOpenAIClient) ModelName() string { return c.Deployment }

// Complete sends a chat completion request to Azure OpenAI.
func (c *AzureOpenAIClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (*Completion, error) {
	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		c.Endpoint, c.Deployment, c.APIVersion)

	reqBody := chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxCompletionTokens: defaultMaxCompletionTokens,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Azure OpenAI returned %d: %s", resp.StatusCode, string(respBody))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if chatResp.Error != nil {
		return nil, fmt.Errorf("API error [%s]: %s", chatResp.Error.Code, chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	if chatResp.Choices[0].FinishReason == "length" {
		return nil, fmt.Errorf("response truncated at max_completion_tokens")
	}

	return &Completion{
		Text: chatResp.Choices[0].Message.Content,
		Usage: Usage{
			InputTokens:  chatResp.Usage.PromptTokens,
			OutputTokens: chatResp.Usage.CompletionTokens,
		},
	}, nil
}

// AnthropicClient implements Client using the Anthropic Messages API.
type AnthropicClient struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

// NewAnthropicClient creates a client from environment configuration:
//
//	ANTHROPIC_API_KEY  – required
//	ANTHROPIC_BASE_URL – optional (default https://api.anthropic.com)
func NewAnthropicClient(model string) (*AnthropicClient, error) {
	key := os.Getenv("ANTHROPIC_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	base := os.Getenv("ANTHROPIC_BASE_URL")
	if base == "" {
		base = "https://api.anthropic.com"
	}
	return &AnthropicClient{
		BaseURL:    strings.TrimRight(base, "/"),
		APIKey:     key,
		Model:      model,
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

type anthropicRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Messages  []chatMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// ModelName returns the model identifier.
func (c *AnthropicClient) ModelName() string { return c.Model }

// Complete sends a messages request to Anthropic.
func (c *AnthropicClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (*Completion, error) {
	reqBody := anthropicRequest{
		Model:     c.Model,
		MaxTokens: defaultMaxCompletionTokens,
		System:    systemPrompt,
		Messages:  []chatMessage{{Role: "user", Content: userPrompt}},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Anthropic returned %d: %s", resp.StatusCode, string(respBody))
	}

	var msgResp anthropicResponse
	if err := json.Unmarshal(respBody, &msgResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if msgResp.Error != nil {
		return nil, fmt.Errorf("API error [%s]: %s", msgResp.Error.Type, msgResp.Error.Message)
	}

	var text strings.Builder
	for _, block := range msgResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("no text content in response")
	}

	return &Completion{
		Text: text.String(),
		Usage: Usage{
			InputTokens:  msgResp.Usage.InputTokens,
			OutputTokens: msgResp.Usage.OutputTokens,
		},
	}, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

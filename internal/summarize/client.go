package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultEndpoint is the Anthropic messages API.
const DefaultEndpoint = "https://api.anthropic.com/v1/messages"

const anthropicAPIVersion = "2023-06-01"

// summaryPrompt instructs the model to return a compact bullet recap.
const summaryPrompt = `You are a helpful assistant that summarizes group chat conversations.

Analyze the following chat messages and create a concise summary in bullet point format.

Focus on:
- Main topics discussed
- Key decisions or conclusions
- Important questions or concerns
- Action items or tasks mentioned
- Notable announcements

Provide a brief summary in bullet points (maximum 8 points).`

// Client calls the summarization provider.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient builds a Client. For the bedrock provider the HTTP client signs
// requests with SigV4.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Provider == "" {
		cfg.Provider = ProviderAnthropic
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 500
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	httpClient := &http.Client{Timeout: timeout}
	if cfg.Provider == ProviderBedrock {
		transport, err := newBedrockSigningTransport(cfg.AWSRegion)
		if err != nil {
			return nil, fmt.Errorf("bedrock transport: %w", err)
		}
		httpClient.Transport = transport
	}

	return &Client{cfg: cfg, httpClient: httpClient}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

// MaxOutputTokens returns the response token cap sent to the provider.
func (c *Client) MaxOutputTokens() int { return c.cfg.MaxTokens }

// Summarize sends the formatted transcript to the provider and returns the
// summary prose with actual token usage.
func (c *Client) Summarize(ctx context.Context, formatted string) (*Result, error) {
	start := time.Now()

	reqBody := anthropicRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		System:      summaryPrompt,
		Temperature: c.cfg.Temperature,
		Messages: []anthropicMessage{
			{Role: "user", Content: "Please summarize the following conversation:\n\n" + formatted},
		},
	}
	endpoint := c.cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if c.cfg.Provider == ProviderBedrock {
		// Bedrock addresses the model in the URL, not the body.
		reqBody.Model = ""
		reqBody.AnthropicVersion = "bedrock-2023-05-31"
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Provider == ProviderAnthropic {
		req.Header.Set("x-api-key", c.cfg.APIKey)
		req.Header.Set("anthropic-version", anthropicAPIVersion)
	}

	log.Debug().
		Str("provider", c.cfg.Provider).
		Str("model", c.cfg.Model).
		Int("max_tokens", c.cfg.MaxTokens).
		Int("payload_bytes", len(payload)).
		Msg("summarize: calling provider")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Category: CategoryUnknown, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Category: CategoryUnknown, StatusCode: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		perr := classifyProviderError(resp.StatusCode, body)
		log.Error().
			Str("category", string(perr.Category)).
			Int("status", resp.StatusCode).
			Str("message", perr.Message).
			Msg("summarize: provider error")
		return nil, perr
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &ProviderError{Category: CategoryUnknown, StatusCode: resp.StatusCode,
			Message: fmt.Sprintf("malformed response: %v", err)}
	}

	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	summary := strings.TrimSpace(sb.String())
	if summary == "" {
		return nil, &ProviderError{Category: CategoryUnknown, StatusCode: resp.StatusCode,
			Message: "empty summary returned"}
	}

	return &Result{
		Summary:      summary,
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
		Duration:     time.Since(start),
	}, nil
}

// Package summarize calls the summarization provider and reports token
// usage. Provider failures carry a machine-distinguishable category so the
// transport can phrase differentiated guidance; they are always terminal for
// the current request and never retried here.
package summarize

import (
	"fmt"
	"time"
)

// Providers supported by the client.
const (
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

// Config configures the summarizer client.
type Config struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	Endpoint    string        `yaml:"endpoint"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	AWSRegion   string        `yaml:"aws_region"`
}

// Validate checks the summarizer configuration.
func (c *Config) Validate() error {
	switch c.Provider {
	case "", ProviderAnthropic, ProviderBedrock:
	default:
		return fmt.Errorf("summarizer.provider must be %q or %q, got %q",
			ProviderAnthropic, ProviderBedrock, c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("summarizer.model is required")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("summarizer.max_tokens must be >= 0, got %d", c.MaxTokens)
	}
	return nil
}

// Result is a completed summarization with actual token usage.
type Result struct {
	Summary      string
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
}

// anthropicMessage is a message in Anthropic chat format.
type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicRequest is the request body for the Anthropic messages API. Also
// used for Bedrock with AnthropicVersion set to "bedrock-2023-05-31".
type anthropicRequest struct {
	Model            string             `json:"model,omitempty"`
	MaxTokens        int                `json:"max_tokens"`
	System           string             `json:"system,omitempty"`
	Messages         []anthropicMessage `json:"messages"`
	Temperature      float64            `json:"temperature,omitempty"`
	AnthropicVersion string             `json:"anthropic_version,omitempty"`
}

// anthropicResponse is the response from the Anthropic messages API.
type anthropicResponse struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

package llm

import (
	"context"
	"time"
)

// Client defines the interface for LLM providers.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Request is a single prompt, optionally with an image.
type Request struct {
	Image       *Image
	System      string
	Prompt      string
	Temperature float64
	JSON        bool
}

// Image is an inline image payload.
type Image struct {
	MIMEType string
	Data     []byte
}

// Config holds provider and call-policy settings.
type Config struct {
	Provider      string
	APIKey        string
	Model         string
	BaseURL       string
	Timeout       time.Duration
	RetryDelay    time.Duration
	CacheTTL      time.Duration
	MaxAttempts   int
	RateLimit     int
	MaxImageWidth int
	MaxTokens     int
}

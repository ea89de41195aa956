package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/milo/internal/common"
	"github.com/Veraticus/milo/internal/model"
	"github.com/Veraticus/milo/internal/service"
)

// DefaultAPIBase is the Discord REST endpoint.
const DefaultAPIBase = "https://discord.com/api/v10"

// maxPageSize is the most messages Discord returns per history request.
const maxPageSize = 100

// ErrUnauthorized is returned when Discord rejects the bot token.
var ErrUnauthorized = errors.New("discord rejected the bot token")

// APIError is a non-success Discord REST response.
type APIError struct {
	Method     string
	Path       string
	Body       string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("discord %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// ClientConfig configures the REST client.
type ClientConfig struct {
	Token         string
	ApplicationID string
	BaseURL       string
	Timeout       time.Duration
	Retry         service.RetryOptions
}

// Client talks to the Discord REST API.
type Client struct {
	httpClient    *http.Client
	logger        *slog.Logger
	token         string
	applicationID string
	baseURL       string
	retry         service.RetryOptions
}

// NewClient creates a REST client.
func NewClient(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("%w: discord token", common.ErrMissingConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultAPIBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	retry := cfg.Retry
	if retry.MaxAttempts <= 0 {
		retry = service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     10 * time.Second,
			Multiplier:   2,
		}
	}

	return &Client{
		httpClient:    &http.Client{Timeout: timeout},
		logger:        logger,
		token:         cfg.Token,
		applicationID: cfg.ApplicationID,
		baseURL:       baseURL,
		retry:         retry,
	}, nil
}

// do sends one request, retrying on 429 and 5xx. out may be nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	return common.WithRetry(ctx, func() error {
		return c.attempt(ctx, method, path, payload, out)
	}, c.retry)
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("User-Agent", "DiscordBot (https://github.com/Veraticus/milo, 1.0)")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &common.RetryableError{Err: fmt.Errorf("discord request failed: %w", err), Retryable: true}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.logger.Warn("Discord rate limited", "path", path, "retry_after", resp.Header.Get("Retry-After"))
		return fmt.Errorf("%w: discord %s %s", common.ErrRateLimit, method, path)
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode >= 500:
		return &common.RetryableError{
			Err:       &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(respBody)},
			Retryable: true,
		}
	case resp.StatusCode >= 300:
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode discord response: %w", err)
	}
	return nil
}

// FetchMessagesAfter returns up to limit messages newer than after, oldest
// first. With no marker it returns the channel's most recent messages.
func (c *Client) FetchMessagesAfter(ctx context.Context, channelID string, after model.Marker, limit int) ([]model.Message, error) {
	query := url.Values{}
	if !after.IsZero() {
		query.Set("after", after.String())
	}
	return c.fetchMessages(ctx, channelID, query, limit)
}

// FetchMessagesBefore returns up to limit messages older than before, oldest first.
func (c *Client) FetchMessagesBefore(ctx context.Context, channelID string, before model.Marker, limit int) ([]model.Message, error) {
	query := url.Values{}
	if !before.IsZero() {
		query.Set("before", before.String())
	}
	return c.fetchMessages(ctx, channelID, query, limit)
}

func (c *Client) fetchMessages(ctx context.Context, channelID string, query url.Values, limit int) ([]model.Message, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	query.Set("limit", strconv.Itoa(limit))

	var raw []Message
	path := "/channels/" + url.PathEscape(channelID) + "/messages?" + query.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	messages := toModels(raw)
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].ID.Compare(messages[j].ID) < 0
	})
	return messages, nil
}

// SendMessage posts content to a channel.
func (c *Client) SendMessage(ctx context.Context, channelID, content string) error {
	return c.postMessage(ctx, channelID, outgoingMessage{Content: content})
}

// ReplyToMessage posts content as a reply to messageID without pinging its author.
func (c *Client) ReplyToMessage(ctx context.Context, channelID string, messageID model.Marker, content string) error {
	return c.postMessage(ctx, channelID, outgoingMessage{
		Content: content,
		MessageReference: &MessageReference{
			MessageID: messageID.String(),
			ChannelID: channelID,
		},
		AllowedMentions: &allowedMentions{Parse: []string{}},
	})
}

func (c *Client) postMessage(ctx context.Context, channelID string, msg outgoingMessage) error {
	path := "/channels/" + url.PathEscape(channelID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, msg, nil); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// RespondToInteraction answers a slash command with a channel message.
func (c *Client) RespondToInteraction(ctx context.Context, interaction Interaction, content string, ephemeral bool) error {
	data := &interactionCallbackData{Content: content}
	if ephemeral {
		data.Flags = ephemeralFlag
	}

	path := "/interactions/" + url.PathEscape(interaction.ID) + "/" + url.PathEscape(interaction.Token) + "/callback"
	if err := c.do(ctx, http.MethodPost, path, interactionResponse{Type: 4, Data: data}, nil); err != nil {
		return fmt.Errorf("failed to respond to interaction: %w", err)
	}
	return nil
}

// RegisterCommands replaces the application's global slash commands.
func (c *Client) RegisterCommands(ctx context.Context, commands []Command) ([]Command, error) {
	if c.applicationID == "" {
		return nil, fmt.Errorf("%w: discord application id", common.ErrMissingConfig)
	}

	var registered []Command
	path := "/applications/" + url.PathEscape(c.applicationID) + "/commands"
	if err := c.do(ctx, http.MethodPut, path, commands, &registered); err != nil {
		return nil, fmt.Errorf("failed to register commands: %w", err)
	}
	return registered, nil
}

// CurrentUser returns the bot's own account.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/users/@me", nil, &user); err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}
	return &user, nil
}

// GatewayURL returns the websocket URL to connect the gateway to.
func (c *Client) GatewayURL(ctx context.Context) (string, error) {
	var resp struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodGet, "/gateway/bot", nil, &resp); err != nil {
		return "", fmt.Errorf("failed to get gateway url: %w", err)
	}
	return resp.URL, nil
}

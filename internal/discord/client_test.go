package discord

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/milo/internal/common"
	"github.com/Veraticus/milo/internal/model"
	"github.com/Veraticus/milo/internal/service"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{
		Token:         "test-token",
		ApplicationID: "app-1",
		BaseURL:       server.URL,
		Retry: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
		},
	}, nil)
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresToken(t *testing.T) {
	_, err := NewClient(ClientConfig{}, nil)
	assert.ErrorIs(t, err, common.ErrMissingConfig)
}

func TestFetchMessagesAfter(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/channels/chan-1/messages", r.URL.Path)
		assert.Equal(t, "1100000000000000005", r.URL.Query().Get("after"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bot test-token", r.Header.Get("Authorization"))

		// Discord returns newest first.
		_, _ = w.Write([]byte(`[
			{"id":"1100000000000000007","channel_id":"chan-1","content":"b","author":{"id":"u2","username":"bob"},
			 "member":{"nick":"Bobby"},"attachments":[]},
			{"id":"1100000000000000006","channel_id":"chan-1","content":"a","author":{"id":"u1","username":"alice","global_name":"Alice"},
			 "attachments":[{"id":"att-1","filename":"r.png","url":"https://cdn/r.png?ex=1","content_type":"image/png"}]}
		]`))
	})

	messages, err := client.FetchMessagesAfter(context.Background(), "chan-1", model.Marker("1100000000000000005"), 50)
	require.NoError(t, err)
	require.Len(t, messages, 2)

	assert.Equal(t, model.Marker("1100000000000000006"), messages[0].ID)
	assert.Equal(t, "Alice", messages[0].Author.Name())
	require.Len(t, messages[0].Attachments, 1)
	assert.Equal(t, "att-1", messages[0].Attachments[0].Ref())
	assert.Equal(t, "Bobby", messages[1].Author.Name())
}

func TestFetchMessages_LimitsAndMarkers(t *testing.T) {
	tests := []struct {
		fetch      func(c *Client) error
		name       string
		wantLimit  string
		wantAfter  string
		wantBefore string
	}{
		{
			name: "no marker fetches latest",
			fetch: func(c *Client) error {
				_, err := c.FetchMessagesAfter(context.Background(), "c", "", 0)
				return err
			},
			wantLimit: "100",
		},
		{
			name: "before marker",
			fetch: func(c *Client) error {
				_, err := c.FetchMessagesBefore(context.Background(), "c", model.Marker("42"), 20)
				return err
			},
			wantLimit:  "20",
			wantBefore: "42",
		},
		{
			name: "limit capped",
			fetch: func(c *Client) error {
				_, err := c.FetchMessagesAfter(context.Background(), "c", model.Marker("7"), 500)
				return err
			},
			wantLimit: "100",
			wantAfter: "7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.wantLimit, r.URL.Query().Get("limit"))
				assert.Equal(t, tt.wantAfter, r.URL.Query().Get("after"))
				assert.Equal(t, tt.wantBefore, r.URL.Query().Get("before"))
				_, _ = w.Write([]byte(`[]`))
			})
			require.NoError(t, tt.fetch(client))
		})
	}
}

func TestReplyToMessage(t *testing.T) {
	var got outgoingMessage
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/channels/chan-1/messages", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"1"}`))
	})

	err := client.ReplyToMessage(context.Background(), "chan-1", model.Marker("99"), "Recorded.")
	require.NoError(t, err)

	assert.Equal(t, "Recorded.", got.Content)
	require.NotNil(t, got.MessageReference)
	assert.Equal(t, "99", got.MessageReference.MessageID)
	require.NotNil(t, got.AllowedMentions)
	assert.Empty(t, got.AllowedMentions.Parse)
}

func TestRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"id":"bot","username":"milo","bot":true}`))
	})

	user, err := client.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bot", user.ID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"Missing Access"}`))
	})

	err := client.SendMessage(context.Background(), "chan-1", "hi")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestUnauthorized(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.CurrentUser(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRespondToInteraction(t *testing.T) {
	var got interactionResponse
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/interactions/int-1/tok/callback", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	})

	err := client.RespondToInteraction(context.Background(), Interaction{ID: "int-1", Token: "tok"}, "Only admins.", true)
	require.NoError(t, err)

	assert.Equal(t, 4, got.Type)
	require.NotNil(t, got.Data)
	assert.Equal(t, "Only admins.", got.Data.Content)
	assert.Equal(t, ephemeralFlag, got.Data.Flags)
}

func TestRegisterCommands(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/applications/app-1/commands", r.URL.Path)

		var commands []Command
		require.NoError(t, json.NewDecoder(r.Body).Decode(&commands))
		_ = json.NewEncoder(w).Encode(commands)
	})

	registered, err := client.RegisterCommands(context.Background(), DefaultCommands())
	require.NoError(t, err)
	require.Len(t, registered, 5)

	names := make([]string, 0, len(registered))
	for _, c := range registered {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"start", "end", "status", "undo", "delete"}, names)
	require.Len(t, registered[4].Options, 1)
	assert.True(t, registered[4].Options[0].Required)
}

func TestInteractionOptions(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   int
		wantOK bool
	}{
		{name: "number", raw: `3`, want: 3, wantOK: true},
		{name: "string", raw: `"4"`, want: 4, wantOK: true},
		{name: "garbage", raw: `"x"`, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			interaction := Interaction{Data: &InteractionData{
				Name:    "delete",
				Options: []InteractionOption{{Name: "position", Type: OptionInteger, Value: json.RawMessage(tt.raw)}},
			}}

			got, ok := interaction.IntOption("position")
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := Interaction{}.IntOption("position")
	assert.False(t, ok)
}

func TestInteractionInvoker(t *testing.T) {
	guild := Interaction{Member: &Member{User: &User{ID: "u1"}}}
	dm := Interaction{User: &User{ID: "u2"}}

	assert.Equal(t, "u1", guild.Invoker().ID)
	assert.Equal(t, "u2", dm.Invoker().ID)
	assert.Empty(t, Interaction{}.Invoker().ID)
}

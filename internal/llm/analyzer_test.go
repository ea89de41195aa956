package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/milo/internal/model"
)

func newTestAnalyzer(client Client) *Analyzer {
	a := NewAnalyzer(client, nil, testConfig(), nil)
	a.pick = func(int) int { return 0 }
	a.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	return a
}

func TestAnalyzer_Analyze(t *testing.T) {
	client := &scriptedClient{responses: []scriptedResponse{
		{text: `{"intent":"RECEIPT","amount":15000,"item":"meatballs","response":"Fine."}`},
	}}
	a := newTestAnalyzer(client)

	history := []model.Message{
		{Author: model.Author{Username: "ana"}, Content: "lunch?"},
	}
	got := a.Analyze(context.Background(), "meatballs 15k", history)

	assert.Equal(t, IntentReceipt, got.Kind)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(15000)))
	assert.Equal(t, "meatballs", got.Item)

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.True(t, req.JSON)
	assert.Contains(t, req.Prompt, "User (ana): lunch?")
	assert.True(t, strings.HasSuffix(req.Prompt, "Current input: meatballs 15k"))
	assert.Contains(t, req.Prompt, "2024-06-01")
}

func TestAnalyzer_ProviderFailure(t *testing.T) {
	client := &scriptedClient{responses: []scriptedResponse{{err: errors.New("boom")}}}
	a := newTestAnalyzer(client)

	got := a.Analyze(context.Background(), "hello", nil)

	assert.Equal(t, IntentChat, got.Kind)
	assert.Equal(t, fallbackReplies[0], got.Reply)
}

func TestAnalyzer_RetriesRateLimit(t *testing.T) {
	client := &scriptedClient{responses: []scriptedResponse{
		rateLimited(),
		{text: `{"intent":"CHAT","amount":null,"item":null,"response":"Meow."}`},
	}}
	a := newTestAnalyzer(client)

	got := a.Analyze(context.Background(), "hi", nil)

	assert.Equal(t, IntentChat, got.Kind)
	assert.Equal(t, "Meow.", got.Reply)
	assert.Equal(t, 2, client.calls())
}

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/milo/internal/model"
	"github.com/Veraticus/milo/internal/service"
)

// IntentKind classifies a text message.
type IntentKind int

const (
	// IntentChat is conversation that records nothing.
	IntentChat IntentKind = iota
	// IntentReceipt is an expense stated in words.
	IntentReceipt
)

func (k IntentKind) String() string {
	if k == IntentReceipt {
		return "receipt"
	}
	return "chat"
}

// Intent is the classifier's reading of a text message. For receipts, Item
// is empty when the user gave an amount but not what it was for.
type Intent struct {
	Amount decimal.Decimal
	Item   string
	Reply  string
	Kind   IntentKind
}

// Analyzer classifies free text as chat or an expense.
type Analyzer struct {
	client  Client
	limiter *RateLimiter
	logger  *slog.Logger
	pick    func(n int) int
	now     func() time.Time
	retry   service.RetryOptions
	timeout time.Duration
}

// NewAnalyzer creates a text analyzer. A nil limiter disables rate limiting.
func NewAnalyzer(client Client, limiter *RateLimiter, cfg Config, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Analyzer{
		client:  client,
		limiter: limiter,
		logger:  logger,
		pick:    rand.IntN,
		now:     time.Now,
		retry:   retryOptions(cfg),
		timeout: callTimeout(cfg),
	}
}

// Analyze classifies text given recent channel history, oldest first.
// Provider failures degrade to a canned chat reply.
func (a *Analyzer) Analyze(ctx context.Context, text string, history []model.Message) Intent {
	raw, err := generateWithRetry(ctx, a.client, a.limiter, a.retry, a.timeout, Request{
		System:      textAnalysisPrompt,
		Prompt:      buildAnalysisPrompt(text, history, a.now()),
		Temperature: 0.7,
		JSON:        true,
	})
	if err != nil {
		a.logger.Warn("Text analysis failed", "error", err)
		return Intent{Kind: IntentChat, Reply: fallbackReplies[a.pick(len(fallbackReplies))]}
	}

	intent := parseIntent(raw)
	a.logger.Debug("Analyzed text", "intent", intent.Kind, "amount", intent.Amount, "item", intent.Item)
	return intent
}

func buildAnalysisPrompt(text string, history []model.Message, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current date: %s\n\nChat history:\n", now.Format("2006-01-02"))
	for _, msg := range history {
		fmt.Fprintf(&b, "User (%s): %s\n", msg.Author.Name(), msg.Content)
	}
	fmt.Fprintf(&b, "\nCurrent input: %s", text)
	return b.String()
}

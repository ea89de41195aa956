package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/milo/internal/common"
	"github.com/Veraticus/milo/internal/service"
)

// ExtractionKind classifies an extraction outcome.
type ExtractionKind int

const (
	// KindAmount means a plausible total was found.
	KindAmount ExtractionKind = iota
	// KindNotAReceipt means the model judged the image not to be a receipt.
	KindNotAReceipt
	// KindFailure means no judgement could be made.
	KindFailure
)

func (k ExtractionKind) String() string {
	switch k {
	case KindAmount:
		return "amount"
	case KindNotAReceipt:
		return "not-a-receipt"
	default:
		return "failure"
	}
}

// Extraction is the outcome of reading one image.
type Extraction struct {
	Amount decimal.Decimal
	Reason string
	Kind   ExtractionKind
}

// Amount builds a successful extraction.
func Amount(v decimal.Decimal) Extraction {
	return Extraction{Kind: KindAmount, Amount: v}
}

// NotAReceipt builds a negative extraction.
func NotAReceipt() Extraction {
	return Extraction{Kind: KindNotAReceipt}
}

// Failed builds a failed extraction.
func Failed(reason string) Extraction {
	return Extraction{Kind: KindFailure, Reason: reason}
}

// ImageRef identifies an attachment. Key is stable across fetches and is
// used for caching; URL is where the bytes live.
type ImageRef struct {
	Key string
	URL string
}

// Extractor reads receipt totals and writes comments about non-receipts.
type Extractor struct {
	client   Client
	fetcher  ImageFetcher
	limiter  *RateLimiter
	results  *ttlCache[Extraction]
	images   *ttlCache[*Image]
	logger   *slog.Logger
	pick     func(n int) int
	retry    service.RetryOptions
	timeout  time.Duration
	maxWidth int
}

// NewExtractor creates an extractor. A nil limiter disables rate limiting.
func NewExtractor(client Client, fetcher ImageFetcher, limiter *RateLimiter, cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if fetcher == nil {
		fetcher = NewHTTPFetcher(cfg.Timeout)
	}

	return &Extractor{
		client:   client,
		fetcher:  fetcher,
		limiter:  limiter,
		results:  newTTLCache[Extraction](cfg.CacheTTL),
		images:   newTTLCache[*Image](time.Minute),
		logger:   logger,
		pick:     rand.IntN,
		retry:    retryOptions(cfg),
		timeout:  callTimeout(cfg),
		maxWidth: cfg.MaxImageWidth,
	}
}

// Close releases cache goroutines.
func (e *Extractor) Close() {
	e.results.Close()
	e.images.Close()
}

// ExtractAmount reads the grand total from an image. It never returns an
// error: every problem is reported as a Failure outcome.
func (e *Extractor) ExtractAmount(ctx context.Context, ref ImageRef) Extraction {
	if cached, ok := e.results.get(ref.Key); ok {
		e.logger.Debug("Extraction cache hit", "attachment", ref.Key, "kind", cached.Kind)
		return cached
	}

	img, err := e.loadImage(ctx, ref)
	if err != nil {
		e.logger.Warn("Failed to download image", "attachment", ref.Key, "error", err)
		return Failed("image download failed")
	}

	text, err := generateWithRetry(ctx, e.client, e.limiter, e.retry, e.timeout, Request{
		Prompt: receiptExtractionPrompt,
		Image:  img,
	})
	if err != nil {
		result := failureFrom(err)
		e.logger.Warn("Extraction failed", "attachment", ref.Key, "reason", result.Reason, "error", err)
		return result
	}

	result := ParseAmount(text)
	if result.Kind != KindFailure {
		e.results.set(ref.Key, result)
	}

	e.logger.Debug("Extracted image",
		"attachment", ref.Key,
		"kind", result.Kind,
		"amount", result.Amount,
		"reason", result.Reason)

	return result
}

// ExtractComment produces a short in-character remark about an image that
// is not a receipt. It falls back to a canned remark on any failure.
func (e *Extractor) ExtractComment(ctx context.Context, ref ImageRef) string {
	img, err := e.loadImage(ctx, ref)
	if err != nil {
		return e.fallbackComment()
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return e.fallbackComment()
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	text, err := e.client.Generate(callCtx, Request{
		Prompt:      commentPrompt,
		Image:       img,
		Temperature: 0.9,
	})
	if err != nil {
		e.logger.Debug("Comment generation failed", "attachment", ref.Key, "error", err)
		return e.fallbackComment()
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return e.fallbackComment()
	}
	return text
}

func (e *Extractor) fallbackComment() string {
	return fallbackComments[e.pick(len(fallbackComments))]
}

// loadImage downloads and normalizes an image, reusing recent downloads so
// the comment path does not fetch twice.
func (e *Extractor) loadImage(ctx context.Context, ref ImageRef) (*Image, error) {
	if img, ok := e.images.get(ref.Key); ok {
		return img, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	data, err := e.fetcher.Fetch(fetchCtx, ref.URL)
	if err != nil {
		return nil, err
	}

	img := normalizeImage(data, e.maxWidth)
	e.images.set(ref.Key, img)
	return img, nil
}

// generateWithRetry calls the provider, retrying only rate-limit responses.
// Each attempt gets its own timeout.
func generateWithRetry(ctx context.Context, client Client, limiter *RateLimiter, opts service.RetryOptions, timeout time.Duration, req Request) (string, error) {
	var out string
	err := common.WithRetry(ctx, func() error {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		text, err := client.Generate(attemptCtx, req)
		if err != nil {
			return &common.RetryableError{Err: err, Retryable: IsRateLimited(err)}
		}
		out = text
		return nil
	}, opts)
	return out, err
}

func failureFrom(err error) Extraction {
	switch {
	case IsRateLimited(err):
		return Failed("rate limited")
	case errors.Is(err, context.DeadlineExceeded):
		return Failed("timeout")
	case errors.Is(err, context.Canceled):
		return Failed("canceled")
	default:
		return Failed(fmt.Sprintf("provider error: %v", err))
	}
}

func retryOptions(cfg Config) service.RetryOptions {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	return service.RetryOptions{
		MaxAttempts:  attempts,
		InitialDelay: delay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
	}
}

func callTimeout(cfg Config) time.Duration {
	if cfg.Timeout <= 0 {
		return 20 * time.Second
	}
	return cfg.Timeout
}

package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const notAReceiptSentinel = "NOT_A_RECEIPT"

var (
	// MinAmount and MaxAmount bound a plausible receipt total.
	MinAmount = decimal.NewFromInt(100)
	MaxAmount = decimal.NewFromInt(100_000_000)

	amountNoise = regexp.MustCompile(`(?i)[rp.,\s]`)
	digitRun    = regexp.MustCompile(`\d+`)
	fencePrefix = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*")
	fenceSuffix = regexp.MustCompile("(?s)\\s*```$")
)

// ParseAmount interprets a model's reply to the extraction prompt.
func ParseAmount(text string) Extraction {
	upper := strings.ToUpper(strings.TrimSpace(text))
	if strings.Contains(upper, notAReceiptSentinel) || upper == "NOT A RECEIPT" {
		return NotAReceipt()
	}

	digits := digitRun.FindString(amountNoise.ReplaceAllString(text, ""))
	if digits == "" {
		return Failed(fmt.Sprintf("could not parse total from %q", truncate(text, 80)))
	}

	amount, err := decimal.NewFromString(digits)
	if err != nil {
		return Failed(fmt.Sprintf("invalid total %q", digits))
	}
	if amount.LessThan(MinAmount) || amount.GreaterThan(MaxAmount) {
		return Failed(fmt.Sprintf("amount %s out of range", amount))
	}

	return Amount(amount)
}

// cleanJSON strips markdown code fences models wrap JSON in.
func cleanJSON(raw string) string {
	s := strings.TrimSpace(raw)
	s = fencePrefix.ReplaceAllString(s, "")
	s = fenceSuffix.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

type intentPayload struct {
	Intent   string          `json:"intent"`
	Amount   json.RawMessage `json:"amount"`
	Item     *string         `json:"item"`
	Response string          `json:"response"`
}

// parseIntent interprets a model's reply to the text-analysis prompt.
// Output that is not the expected JSON is passed through as chat.
func parseIntent(raw string) Intent {
	cleaned := cleanJSON(raw)

	var payload intentPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return Intent{Kind: IntentChat, Reply: cleaned}
	}

	if !strings.EqualFold(strings.TrimSpace(payload.Intent), "RECEIPT") {
		return Intent{Kind: IntentChat, Reply: strings.TrimSpace(payload.Response)}
	}

	amount, ok := parseLooseAmount(payload.Amount)
	if !ok {
		return Intent{Kind: IntentChat, Reply: strings.TrimSpace(payload.Response)}
	}

	intent := Intent{
		Kind:   IntentReceipt,
		Amount: amount,
		Reply:  strings.TrimSpace(payload.Response),
	}
	if payload.Item != nil {
		intent.Item = strings.TrimSpace(*payload.Item)
	}
	return intent
}

// parseLooseAmount accepts a JSON number or a string such as "Rp15.000".
func parseLooseAmount(raw json.RawMessage) (decimal.Decimal, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return decimal.Zero, false
	}

	var amount decimal.Decimal
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		digits := digitRun.FindString(amountNoise.ReplaceAllString(s, ""))
		if digits == "" {
			return decimal.Zero, false
		}
		amount, err = decimal.NewFromString(digits)
		if err != nil {
			return decimal.Zero, false
		}
	} else {
		var err error
		amount, err = decimal.NewFromString(trimmed)
		if err != nil {
			return decimal.Zero, false
		}
	}

	if !amount.IsPositive() {
		return decimal.Zero, false
	}
	return amount, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Package llm turns receipt photos and chat text into ledger input using
// language models. It supports Gemini, Anthropic and OpenAI, with retry on
// rate limiting, a shared request rate limiter and per-attachment caching.
package llm

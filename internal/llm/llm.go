// Package llm is a tiered gateway to an external text synthesizer, with
// per-provider timeout and escalation to the next tier on rate-limit or
// transient failure.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/recall/recalld/internal/apperr"
)

// Message is a single turn in the prompt sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Result is the outcome of a successful generation.
type Result struct {
	Answer          string
	TokenUsageEstim int
}

// Provider is the common capability set every LLM tier implements.
type Provider interface {
	Name() string
	Generate(ctx context.Context, messages []Message, timeout time.Duration) (Result, error)
}

// Gateway tries providers in order, escalating to the next tier on
// failure.
type Gateway struct {
	providers []Provider
	timeout   time.Duration
	log       zerolog.Logger
}

// NewGateway constructs a tiered gateway over providers, tried in list
// order.
func NewGateway(providers []Provider, timeout time.Duration, log zerolog.Logger) *Gateway {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Gateway{providers: providers, timeout: timeout, log: log.With().Str("component", "llm_gateway").Logger()}
}

// Generate builds the fixed system+user prompt template and tries each
// provider tier until one succeeds, raising LlmUnavailable if every tier
// fails.
func (g *Gateway) Generate(ctx context.Context, systemPrompt, userPrompt string) (Result, error) {
	if len(g.providers) == 0 {
		return Result{}, apperr.LlmUnavailable(fmt.Errorf("no llm providers configured"))
	}

	messages := []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}

	var lastErr error
	for _, p := range g.providers {
		result, err := p.Generate(ctx, messages, g.timeout)
		if err == nil {
			return result, nil
		}
		lastErr = err
		g.log.Warn().Err(err).Str("provider", p.Name()).Msg("llm_tier_failed")
	}
	return Result{}, apperr.LlmUnavailable(lastErr)
}

// BuildPrompt assembles the system message (instructions + citation
// convention) and the user message (question plus numbered retrieved
// chunks).
func BuildPrompt(question string, numbered []NumberedChunk) (system, user string) {
	system = "You are a careful research assistant. Answer the user's question strictly " +
		"using the numbered source chunks provided. Cite sources as [n] immediately " +
		"after any claim drawn from chunk n. If the chunks do not support an answer, say so."

	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n\nSources:\n")
	for _, c := range numbered {
		fmt.Fprintf(&b, "[%d] (%s) %s\n", c.Index, c.Title, c.Text)
	}
	return system, b.String()
}

// NumberedChunk is one entry in the context list handed to the LLM.
type NumberedChunk struct {
	Index int
	Title string
	Text  string
}

// ollamaProvider is a Provider backed by an Ollama-compatible /api/chat
// endpoint, one tier implementation among many.
type ollamaProvider struct {
	name   string
	host   string
	model  string
	client *http.Client
}

// NewOllamaProvider constructs a Provider tier targeting an Ollama-style
// chat endpoint.
func NewOllamaProvider(name, host, model string) Provider {
	return &ollamaProvider{
		name:   name,
		host:   strings.TrimRight(host, "/"),
		model:  model,
		client: &http.Client{},
	}
}

func (p *ollamaProvider) Name() string { return p.name }

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatResponse struct {
	Message Message `json:"message"`
	Error   string  `json:"error"`
}

func (p *ollamaProvider) Generate(ctx context.Context, messages []Message, timeout time.Duration) (Result, error) {
	if p.host == "" {
		return Result{}, fmt.Errorf("provider %s: host not configured", p.name)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{Model: p.model, Messages: messages, Stream: false})
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("provider %s: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Result{}, apperr.RateLimited(0)
	}
	if resp.StatusCode >= 400 {
		return Result{}, fmt.Errorf("provider %s returned status %s", p.name, resp.Status)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != "" {
		return Result{}, fmt.Errorf("provider %s error: %s", p.name, parsed.Error)
	}

	estTokens := (len(parsed.Message.Content) + 3) / 4
	return Result{Answer: parsed.Message.Content, TokenUsageEstim: estTokens}, nil
}

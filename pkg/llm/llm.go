// Package llm exposes typed completion primitives over a cache-first
// OpenAI client: every call is fingerprinted, looked up in the
// completion store, and only sent to the remote model on a miss.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/binarymax/llm-primitives/pkg/models"
	"github.com/binarymax/llm-primitives/pkg/pricing"
	"github.com/binarymax/llm-primitives/pkg/prompt"
	"github.com/binarymax/llm-primitives/pkg/store"
)

const defaultSystem = "You are a helpful assistant."

// Options configures an LLM client.
type Options struct {
	APIKey  string // falls back to OPENAI_API_KEY
	BaseURL string // for OpenAI-compatible endpoints; empty uses the default
	Model   string
	System  string
	GroupID string // partition key written to every cached completion
	Prompts string // optional directory of prompt templates
	Store   store.Store
}

// LLM asks typed questions of a chat model and memoizes the answers.
type LLM struct {
	client    *openai.Client
	store     store.Store
	model     string
	system    string
	groupID   string
	templates *prompt.Registry
}

// Completion is the outcome of one cache-first call.
type Completion struct {
	ID       int64
	Response openai.ChatCompletionResponse
	TookMs   int64
	Cost     float64
	Cached   bool
}

// New builds an LLM client. The store is required; everything else has
// a default.
func New(opts Options) (*LLM, error) {
	if opts.Store == nil {
		return nil, errors.New("llm: store is required")
	}
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	cfg := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	l := &LLM{
		client:  openai.NewClientWithConfig(cfg),
		store:   opts.Store,
		model:   opts.Model,
		system:  opts.System,
		groupID: opts.GroupID,
	}
	if l.model == "" {
		l.model = openai.GPT4o
	}
	if l.system == "" {
		l.system = defaultSystem
	}
	if opts.Prompts != "" {
		reg, err := prompt.LoadDir(opts.Prompts)
		if err != nil {
			return nil, err
		}
		l.templates = reg
	}
	return l, nil
}

// Render executes a named prompt template loaded from Options.Prompts.
func (l *LLM) Render(name string, data any) (string, error) {
	if l.templates == nil {
		return "", errors.New("llm: no prompt templates loaded")
	}
	return l.templates.Render(name, data)
}

// buildRequest assembles the full request object. The same value is
// fingerprinted, stored verbatim, and sent to the model, so it must be
// built identically on every call for a given question.
func (l *LLM) buildRequest(content string, format *openai.ChatCompletionResponseFormat, temperature float32, maxTokens int, stream bool) openai.ChatCompletionRequest {
	var messages []openai.ChatCompletionMessage
	if l.system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: l.system})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: content})

	req := openai.ChatCompletionRequest{
		Model:       l.model,
		Messages:    messages,
		Temperature: temperature,
		Stream:      stream,
	}
	if format != nil {
		req.ResponseFormat = format
	}
	if maxTokens > 0 {
		req.MaxCompletionTokens = maxTokens
	}
	if stream {
		req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	return req
}

// completion runs the cache-first flow: lookup, call on miss, persist.
// Storage failures degrade to a miss on the read path and to an
// unsaved-but-returned completion on the write path.
func (l *LLM) completion(ctx context.Context, content string, format *openai.ChatCompletionResponseFormat, temperature float32, maxTokens int) (*Completion, error) {
	req := l.buildRequest(content, format, temperature, maxTokens, false)

	cached, err := l.store.FindByHash(ctx, l.model, req, l.groupID)
	if err != nil {
		log.Warn().Err(err).Msg("completion cache lookup failed")
	}
	if hit := fromCache(cached); hit != nil {
		return hit, nil
	}

	start := time.Now()
	resp, err := l.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	took := time.Since(start).Milliseconds()
	cost := pricing.Cost(resp)

	id, err := l.store.Create(ctx, l.model, req, resp, took, cost, l.groupID)
	if err != nil {
		// The answer is still usable; it just was not cached.
		log.Warn().Err(err).Msg("completion cache write failed")
	}
	return &Completion{ID: id, Response: resp, TookMs: took, Cost: cost}, nil
}

// fromCache decodes the canonical hit from a lookup result, or nil.
func fromCache(records []models.CompletionRecord) *Completion {
	if len(records) == 0 || records[0].Response == nil {
		return nil
	}
	rec := records[0]
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(rec.Response, &resp); err != nil {
		log.Warn().Err(err).Int64("id", rec.ID).Msg("cached response not decodable")
		return nil
	}
	c := &Completion{ID: rec.ID, Response: resp, Cached: true}
	if rec.Took != nil {
		c.TookMs = *rec.Took
	}
	if rec.Cost != nil {
		c.Cost = *rec.Cost
	}
	return c
}

// structuredField pulls one field out of a structured-output answer,
// or the whole document when key is empty.
func structuredField(resp openai.ChatCompletionResponse, key string) (json.RawMessage, error) {
	if len(resp.Choices) == 0 {
		return nil, errors.New("completion has no choices")
	}
	content := []byte(resp.Choices[0].Message.Content)
	if key == "" {
		if !json.Valid(content) {
			return nil, errors.New("structured response is not valid JSON")
		}
		return json.RawMessage(content), nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(content, &fields); err != nil {
		return nil, fmt.Errorf("decode structured response: %w", err)
	}
	v, ok := fields[key]
	if !ok {
		return nil, fmt.Errorf("structured response missing %q", key)
	}
	return v, nil
}

// Bool asks a yes/no question.
func (l *LLM) Bool(ctx context.Context, content string, temperature float32) (bool, error) {
	c, err := l.completion(ctx, content, jsonSchemaFormat(boolSchema()), temperature, 0)
	if err != nil {
		return false, err
	}
	raw, err := structuredField(c.Response, "answer")
	if err != nil {
		return false, err
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, fmt.Errorf("decode bool answer: %w", err)
	}
	return v, nil
}

// Enum asks the model to pick one of the given options.
func (l *LLM) Enum(ctx context.Context, content string, options []string, temperature float32) (string, error) {
	c, err := l.completion(ctx, content, jsonSchemaFormat(enumSchema(options)), temperature, 0)
	if err != nil {
		return "", err
	}
	raw, err := structuredField(c.Response, "option")
	if err != nil {
		return "", err
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("decode enum answer: %w", err)
	}
	return v, nil
}

// Int asks for an integer answer.
func (l *LLM) Int(ctx context.Context, content string, temperature float32) (int, error) {
	c, err := l.completion(ctx, content, jsonSchemaFormat(intSchema()), temperature, 0)
	if err != nil {
		return 0, err
	}
	raw, err := structuredField(c.Response, "answer")
	if err != nil {
		return 0, err
	}
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("decode int answer: %w", err)
	}
	return v, nil
}

// Float asks for a floating point answer.
func (l *LLM) Float(ctx context.Context, content string, temperature float32) (float64, error) {
	c, err := l.completion(ctx, content, jsonSchemaFormat(floatSchema()), temperature, 0)
	if err != nil {
		return 0, err
	}
	raw, err := structuredField(c.Response, "answer")
	if err != nil {
		return 0, err
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("decode float answer: %w", err)
	}
	return v, nil
}

// Date asks for an ISO-8601 date. today anchors relative questions and
// defaults to the current date.
func (l *LLM) Date(ctx context.Context, content string, today string, temperature float32) (time.Time, error) {
	c, err := l.completion(ctx, content, jsonSchemaFormat(dateSchema(today)), temperature, 0)
	if err != nil {
		return time.Time{}, err
	}
	raw, err := structuredField(c.Response, "answer")
	if err != nil {
		return time.Time{}, err
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return time.Time{}, fmt.Errorf("decode date answer: %w", err)
	}
	parsed, err := time.Parse("2006-01-02", v)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, v)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date answer %q: %w", v, err)
	}
	return parsed, nil
}

// String asks for a plain text answer, optionally capped at maxTokens.
func (l *LLM) String(ctx context.Context, content string, maxTokens int, temperature float32) (string, error) {
	c, err := l.completion(ctx, content, nil, temperature, maxTokens)
	if err != nil {
		return "", err
	}
	if len(c.Response.Choices) == 0 {
		return "", errors.New("completion has no choices")
	}
	return c.Response.Choices[0].Message.Content, nil
}

// JSON asks for a document matching the caller's schema and returns it
// undecoded.
func (l *LLM) JSON(ctx context.Context, content string, schema *openai.ChatCompletionResponseFormatJSONSchema, temperature float32) (json.RawMessage, error) {
	c, err := l.completion(ctx, content, jsonSchemaFormat(schema), temperature, 0)
	if err != nil {
		return nil, err
	}
	return structuredField(c.Response, "")
}

// Complete runs the cache-first flow for a plain question and returns
// the full outcome, including cache state and cost.
func (l *LLM) Complete(ctx context.Context, content string, temperature float32) (*Completion, error) {
	return l.completion(ctx, content, nil, temperature, 0)
}

// Costs returns the aggregated spend recorded in the store.
func (l *LLM) Costs(ctx context.Context, f models.CostFilter) ([]models.CostBucket, error) {
	return l.store.CostSummary(ctx, f)
}

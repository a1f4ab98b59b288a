package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/binarymax/llm-primitives/pkg/models"
	"github.com/binarymax/llm-primitives/pkg/store/sqlite"
)

// fakeOpenAI is a minimal chat completions endpoint that always answers
// with a fixed message and counts how often it was actually called.
type fakeOpenAI struct {
	mu      sync.Mutex
	calls   int
	content string
}

func (f *fakeOpenAI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeOpenAI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	resp := map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "gpt-4o",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": f.content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func newTestLLM(t *testing.T, handler http.Handler, opts Options) *LLM {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	if opts.Store == nil {
		s, err := sqlite.Open(filepath.Join(t.TempDir(), "llm_test.db"))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = s.Close() })
		opts.Store = s
	}
	opts.APIKey = "test-key"
	opts.BaseURL = srv.URL + "/v1"
	if opts.Model == "" {
		opts.Model = "gpt-4o"
	}

	l, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestBoolUsesCacheOnSecondAsk(t *testing.T) {
	f := &fakeOpenAI{content: `{"answer":true}`}
	l := newTestLLM(t, f, Options{GroupID: "tests"})
	ctx := context.Background()

	answer, err := l.Bool(ctx, "On a clear day, the sky is blue.", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !answer {
		t.Error("expected true")
	}
	if f.callCount() != 1 {
		t.Fatalf("expected 1 remote call, got %d", f.callCount())
	}

	// Same question again: answered from the store.
	answer, err = l.Bool(ctx, "On a clear day, the sky is blue.", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !answer {
		t.Error("expected cached true")
	}
	if f.callCount() != 1 {
		t.Errorf("second ask should not reach the model, got %d calls", f.callCount())
	}
}

func TestDifferentQuestionsMiss(t *testing.T) {
	f := &fakeOpenAI{content: `{"answer":true}`}
	l := newTestLLM(t, f, Options{})
	ctx := context.Background()

	if _, err := l.Bool(ctx, "first question", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Bool(ctx, "second question", 0); err != nil {
		t.Fatal(err)
	}
	if f.callCount() != 2 {
		t.Errorf("distinct questions should each reach the model, got %d calls", f.callCount())
	}
}

func TestEnum(t *testing.T) {
	f := &fakeOpenAI{content: `{"option":"blue"}`}
	l := newTestLLM(t, f, Options{})

	answer, err := l.Enum(context.Background(), "On a clear day, the sky is the following color.", []string{"blue", "green", "red"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if answer != "blue" {
		t.Errorf("expected blue, got %q", answer)
	}
}

func TestInt(t *testing.T) {
	f := &fakeOpenAI{content: `{"answer":42}`}
	l := newTestLLM(t, f, Options{})

	answer, err := l.Int(context.Background(), "How many is six times seven?", 0)
	if err != nil {
		t.Fatal(err)
	}
	if answer != 42 {
		t.Errorf("expected 42, got %d", answer)
	}
}

func TestFloat(t *testing.T) {
	f := &fakeOpenAI{content: `{"answer":3.14}`}
	l := newTestLLM(t, f, Options{})

	answer, err := l.Float(context.Background(), "Pi to two decimals.", 0)
	if err != nil {
		t.Fatal(err)
	}
	if answer != 3.14 {
		t.Errorf("expected 3.14, got %v", answer)
	}
}

func TestDate(t *testing.T) {
	f := &fakeOpenAI{content: `{"answer":"2026-03-15"}`}
	l := newTestLLM(t, f, Options{})

	answer, err := l.Date(context.Background(), "When is the ides of March?", "2026-01-01", 0)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	if !answer.Equal(want) {
		t.Errorf("expected %v, got %v", want, answer)
	}
}

func TestString(t *testing.T) {
	f := &fakeOpenAI{content: "plain text answer"}
	l := newTestLLM(t, f, Options{})

	answer, err := l.String(context.Background(), "Say something.", 100, 0)
	if err != nil {
		t.Fatal(err)
	}
	if answer != "plain text answer" {
		t.Errorf("unexpected answer %q", answer)
	}
}

func TestJSON(t *testing.T) {
	f := &fakeOpenAI{content: `{"city":"Boston","population":650000}`}
	l := newTestLLM(t, f, Options{})

	schema := &openai.ChatCompletionResponseFormatJSONSchema{
		Name:   "city_info",
		Strict: true,
		Schema: &jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"city":       {Type: jsonschema.String},
				"population": {Type: jsonschema.Integer},
			},
			Required:             []string{"city", "population"},
			AdditionalProperties: false,
		},
	}
	raw, err := l.JSON(context.Background(), "Describe Boston.", schema, 0)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		City string `json:"city"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.City != "Boston" {
		t.Errorf("unexpected document: %s", raw)
	}
}

func TestCompleteRecordsCostAndLatency(t *testing.T) {
	f := &fakeOpenAI{content: "hi"}
	l := newTestLLM(t, f, Options{GroupID: "costing"})
	ctx := context.Background()

	c, err := l.Complete(ctx, "hello there", 0)
	if err != nil {
		t.Fatal(err)
	}
	if c.Cached {
		t.Error("first call should not be cached")
	}
	if c.ID <= 0 {
		t.Errorf("expected persisted id, got %d", c.ID)
	}
	// gpt-4o is in the price table, so usage must price above zero.
	if c.Cost <= 0 {
		t.Errorf("expected positive cost, got %v", c.Cost)
	}

	buckets, err := l.Costs(ctx, models.CostFilter{GroupID: "costing"})
	if err != nil {
		t.Fatal(err)
	}
	if len(buckets) != 1 || buckets[0].Count != 1 {
		t.Fatalf("expected one recorded completion, got %+v", buckets)
	}
	if buckets[0].TotalCost != c.Cost {
		t.Errorf("stored cost %v does not match computed %v", buckets[0].TotalCost, c.Cost)
	}

	c2, err := l.Complete(ctx, "hello there", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !c2.Cached {
		t.Error("second call should be served from cache")
	}
	if c2.ID != c.ID {
		t.Errorf("cache hit should carry the original id: %d vs %d", c2.ID, c.ID)
	}
}

func TestGroupsDoNotShareCache(t *testing.T) {
	f := &fakeOpenAI{content: "hi"}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	s, err := sqlite.Open(filepath.Join(t.TempDir(), "llm_test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	newClient := func(group string) *LLM {
		l, err := New(Options{
			APIKey:  "test-key",
			BaseURL: srv.URL + "/v1",
			Model:   "gpt-4o",
			GroupID: group,
			Store:   s,
		})
		if err != nil {
			t.Fatal(err)
		}
		return l
	}

	ctx := context.Background()
	if _, err := newClient("team-a").String(ctx, "shared question", 0, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := newClient("team-b").String(ctx, "shared question", 0, 0); err != nil {
		t.Fatal(err)
	}
	if f.callCount() != 2 {
		t.Errorf("groups must not share cache entries, got %d calls", f.callCount())
	}
}

func TestRenderTemplates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "greet.tmpl")
	if err := os.WriteFile(path, []byte("Hello {{.Name}}!"), 0o644); err != nil {
		t.Fatal(err)
	}

	f := &fakeOpenAI{content: "hi"}
	l := newTestLLM(t, f, Options{Prompts: dir})

	out, err := l.Render("greet", map[string]string{"Name": "Max"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "Hello Max!" {
		t.Errorf("unexpected render %q", out)
	}
}

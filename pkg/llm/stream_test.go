package llm

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
)

// fakeStreamOpenAI serves a chat completion as SSE chunks followed by
// a usage-bearing chunk and [DONE].
type fakeStreamOpenAI struct {
	mu     sync.Mutex
	calls  int
	chunks []string
}

func (f *fakeStreamOpenAI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeStreamOpenAI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	for _, chunk := range f.chunks {
		fmt.Fprintf(w, "data: {\"id\":\"chatcmpl-test\",\"object\":\"chat.completion.chunk\",\"created\":1700000000,\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q},\"finish_reason\":null}]}\n\n", chunk)
	}
	fmt.Fprint(w, "data: {\"id\":\"chatcmpl-test\",\"object\":\"chat.completion.chunk\",\"created\":1700000000,\"model\":\"gpt-4o\",\"choices\":[],\"usage\":{\"prompt_tokens\":10,\"completion_tokens\":2,\"total_tokens\":12}}\n\n")
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func TestStreamRelaysChunksAndCaches(t *testing.T) {
	f := &fakeStreamOpenAI{chunks: []string{"Hel", "lo ", "world"}}
	l := newTestLLM(t, f, Options{GroupID: "streams"})
	ctx := context.Background()

	var events []StreamEvent
	res, err := l.Stream(ctx, "greet the world", func(e StreamEvent) { events = append(events, e) }, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Cached {
		t.Error("first stream should not be cached")
	}
	if res.Output != "Hello world" {
		t.Errorf("unexpected output %q", res.Output)
	}
	if res.Cost <= 0 {
		t.Errorf("expected positive cost from usage chunk, got %v", res.Cost)
	}
	if res.ID <= 0 {
		t.Errorf("expected persisted id, got %d", res.ID)
	}

	if len(events) < 3 {
		t.Fatalf("expected ready, chunks, done; got %d events", len(events))
	}
	if !events[0].Ready {
		t.Error("first event should be the ready signal")
	}
	if !events[len(events)-1].Done {
		t.Error("last event should be the done marker")
	}
	var text string
	for _, e := range events {
		text += e.Chunk
	}
	if text != "Hello world" {
		t.Errorf("relayed chunks assemble to %q", text)
	}

	// Persisted response carries the assembled message.
	if len(res.Response.Choices) != 1 || res.Response.Choices[0].Message.Content != "Hello world" {
		t.Errorf("assembled response choice missing: %+v", res.Response.Choices)
	}
}

func TestStreamReplaysFromCache(t *testing.T) {
	f := &fakeStreamOpenAI{chunks: []string{"cached ", "answer"}}
	l := newTestLLM(t, f, Options{GroupID: "streams"})
	ctx := context.Background()

	if _, err := l.Stream(ctx, "same question", func(StreamEvent) {}, 0); err != nil {
		t.Fatal(err)
	}
	if f.callCount() != 1 {
		t.Fatalf("expected 1 remote call, got %d", f.callCount())
	}

	var events []StreamEvent
	res, err := l.Stream(ctx, "same question", func(e StreamEvent) { events = append(events, e) }, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Cached {
		t.Error("second stream should replay from cache")
	}
	if f.callCount() != 1 {
		t.Errorf("replay must not reach the model, got %d calls", f.callCount())
	}
	if res.Output != "cached answer" {
		t.Errorf("unexpected replayed output %q", res.Output)
	}
	if !events[0].Ready || !events[len(events)-1].Done {
		t.Error("replay should still send ready and done markers")
	}
}

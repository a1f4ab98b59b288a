package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/binarymax/llm-primitives/pkg/pricing"
)

// StreamEvent is one message relayed to a streaming sink: a readiness
// signal, a content chunk with its elapsed time, or the final done
// marker.
type StreamEvent struct {
	Ready  bool
	Chunk  string
	TimeMs int64
	Done   bool
}

// StreamFunc receives relayed events in order.
type StreamFunc func(StreamEvent)

// StreamResult is the outcome of a streamed completion.
type StreamResult struct {
	ID       int64
	Response openai.ChatCompletionResponse
	Output   string
	TookMs   int64
	Cost     float64
	Cached   bool
}

// Stream relays a completion chunk by chunk to send. A cache hit
// replays the stored answer; a miss streams from the model and caches
// only the fully assembled response — there is no partial cache entry.
func (l *LLM) Stream(ctx context.Context, content string, send StreamFunc, temperature float32) (*StreamResult, error) {
	req := l.buildRequest(content, nil, temperature, 0, true)

	cached, err := l.store.FindByHash(ctx, l.model, req, l.groupID)
	if err != nil {
		log.Warn().Err(err).Msg("stream cache lookup failed")
	}
	if hit := fromCache(cached); hit != nil {
		send(StreamEvent{Ready: true})
		var output strings.Builder
		for _, choice := range hit.Response.Choices {
			send(StreamEvent{Chunk: choice.Message.Content})
			output.WriteString(choice.Message.Content)
		}
		send(StreamEvent{Done: true, TimeMs: hit.TookMs})
		return &StreamResult{
			ID:       hit.ID,
			Response: hit.Response,
			Output:   output.String(),
			TookMs:   hit.TookMs,
			Cost:     hit.Cost,
			Cached:   true,
		}, nil
	}

	send(StreamEvent{Ready: true})

	start := time.Now()
	stream, err := l.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion stream: %w", err)
	}
	defer stream.Close()

	var output strings.Builder
	var final openai.ChatCompletionResponse
	final.Model = l.model
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("chat completion stream: %w", err)
		}
		var delta string
		if len(chunk.Choices) > 0 {
			delta = chunk.Choices[0].Delta.Content
		}
		output.WriteString(delta)
		if chunk.Usage != nil {
			// The usage-bearing chunk carries the response envelope.
			final.ID = chunk.ID
			final.Object = "chat.completion"
			final.Created = chunk.Created
			final.Model = chunk.Model
			final.Usage = *chunk.Usage
		}
		send(StreamEvent{Chunk: delta, TimeMs: time.Since(start).Milliseconds()})
	}
	took := time.Since(start).Milliseconds()
	send(StreamEvent{Done: true, TimeMs: took})

	// Persist the assembled message as a normal completion choice so a
	// later non-streamed read sees a complete response.
	final.Choices = append(final.Choices, openai.ChatCompletionChoice{
		Index: 0,
		Message: openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: output.String(),
		},
		FinishReason: openai.FinishReasonStop,
	})

	cost := pricing.Cost(final)
	id, err := l.store.Create(ctx, l.model, req, final, took, cost, l.groupID)
	if err != nil {
		log.Warn().Err(err).Msg("stream cache write failed")
	}
	return &StreamResult{
		ID:       id,
		Response: final,
		Output:   output.String(),
		TookMs:   took,
		Cost:     cost,
	}, nil
}

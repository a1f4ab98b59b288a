// Package pricing computes the monetary cost of a completion from a
// per-million-token price table.
package pricing

import (
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

// ModelPrice holds USD prices per million tokens.
type ModelPrice struct {
	Input  float64
	Output float64
}

// perMillion is keyed by the versioned model id the API reports back,
// not the alias the request used.
var perMillion = map[string]ModelPrice{
	"o1-2024-12-17":                           {Input: 15.00, Output: 60.00},
	"o1-mini-2024-09-12":                      {Input: 1.10, Output: 4.40},
	"o3-mini-2025-01-31":                      {Input: 1.10, Output: 4.40},
	"gpt-4.5-preview-2025-02-27":              {Input: 75.00, Output: 150.00},
	"gpt-4o":                                  {Input: 5.00, Output: 15.00},
	"gpt-4o-2024-08-06":                       {Input: 2.50, Output: 10.00},
	"gpt-4o-2024-05-13":                       {Input: 5.00, Output: 15.00},
	"gpt-4o-mini":                             {Input: 0.15, Output: 0.60},
	"gpt-4o-mini-2024-07-18":                  {Input: 0.15, Output: 0.60},
	"gpt-4-0613":                              {Input: 30.00, Output: 60.00},
	"gpt-4-turbo-2024-04-09":                  {Input: 10.00, Output: 30.00},
	"gpt-3.5-turbo":                           {Input: 0.003, Output: 0.006},
	"gpt-4.1":                                 {Input: 2.00, Output: 8.00},
	"gpt-4.1-2025-04-14":                      {Input: 2.00, Output: 8.00},
	"gpt-4.1-mini":                            {Input: 0.40, Output: 1.60},
	"gpt-4.1-mini-2025-04-14":                 {Input: 0.40, Output: 1.60},
	"gpt-4.1-nano":                            {Input: 0.10, Output: 0.40},
	"gpt-4.1-nano-2025-04-14":                 {Input: 0.10, Output: 0.40},
	"gpt-4o-audio-preview-2024-12-17":         {Input: 2.50, Output: 10.00},
	"gpt-4o-realtime-preview-2024-12-17":      {Input: 5.00, Output: 20.00},
	"gpt-4o-mini-audio-preview-2024-12-17":    {Input: 0.15, Output: 0.60},
	"gpt-4o-mini-realtime-preview-2024-12-17": {Input: 0.60, Output: 2.40},
	"o1-pro-2025-03-19":                       {Input: 150.00, Output: 600.00},
	"o3-pro-2025-06-10":                       {Input: 20.00, Output: 80.00},
	"o3-2025-04-16":                           {Input: 2.00, Output: 8.00},
	"o4-mini-2025-04-16":                      {Input: 1.10, Output: 4.40},
	"codex-mini-latest":                       {Input: 1.50, Output: 6.00},
	"gpt-4o-mini-search-preview-2025-03-11":   {Input: 0.15, Output: 0.60},
	"gpt-4o-search-preview-2025-03-11":        {Input: 2.50, Output: 10.00},
	"computer-use-preview-2025-03-11":         {Input: 3.00, Output: 12.00},
}

// Lookup returns the price entry for a model.
func Lookup(model string) (ModelPrice, bool) {
	p, ok := perMillion[model]
	return p, ok
}

// Register adds or overrides a price entry. Intended for models the
// built-in table does not know yet.
func Register(model string, price ModelPrice) {
	perMillion[model] = price
}

// Cost prices a response by its reported usage. A model missing from
// the table costs 0 with a logged warning; it is never an error.
func Cost(resp openai.ChatCompletionResponse) float64 {
	price, ok := perMillion[resp.Model]
	if !ok {
		log.Warn().Str("model", resp.Model).Msg("no pricing information for model")
		return 0
	}
	input := float64(resp.Usage.PromptTokens) / 1_000_000 * price.Input
	output := float64(resp.Usage.CompletionTokens) / 1_000_000 * price.Output
	return input + output
}

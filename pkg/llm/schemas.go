package llm

import (
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
)

// Strict structured-output schemas for the typed primitives. Each one
// wraps a single field so the answer is trivially extractable.

func jsonSchemaFormat(s *openai.ChatCompletionResponseFormatJSONSchema) *openai.ChatCompletionResponseFormat {
	return &openai.ChatCompletionResponseFormat{
		Type:       openai.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: s,
	}
}

func boolSchema() *openai.ChatCompletionResponseFormatJSONSchema {
	return &openai.ChatCompletionResponseFormatJSONSchema{
		Name:        "boolean_value",
		Description: "Answer true or false based on the request.",
		Strict:      true,
		Schema: &jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"answer": {Type: jsonschema.Boolean},
			},
			Required:             []string{"answer"},
			AdditionalProperties: false,
		},
	}
}

func enumSchema(options []string) *openai.ChatCompletionResponseFormatJSONSchema {
	return &openai.ChatCompletionResponseFormatJSONSchema{
		Name:        "choice",
		Description: "Choose the best option based on the request.",
		Strict:      true,
		Schema: &jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"option": {Type: jsonschema.String, Enum: options},
			},
			Required:             []string{"option"},
			AdditionalProperties: false,
		},
	}
}

func intSchema() *openai.ChatCompletionResponseFormatJSONSchema {
	return &openai.ChatCompletionResponseFormatJSONSchema{
		Name:        "integer_value",
		Description: "Provide the answer to the request as an integer.",
		Strict:      true,
		Schema: &jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"answer": {Type: jsonschema.Integer},
			},
			Required:             []string{"answer"},
			AdditionalProperties: false,
		},
	}
}

func floatSchema() *openai.ChatCompletionResponseFormatJSONSchema {
	return &openai.ChatCompletionResponseFormatJSONSchema{
		Name:        "float_value",
		Description: "Provide the answer to the request as a floating point number.",
		Strict:      true,
		Schema: &jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"answer": {Type: jsonschema.Number},
			},
			Required:             []string{"answer"},
			AdditionalProperties: false,
		},
	}
}

// dateSchema embeds today's date in the description so the model can
// resolve relative questions. The date is part of the fingerprinted
// request: the same question asked on different days caches separately.
func dateSchema(today string) *openai.ChatCompletionResponseFormatJSONSchema {
	if today == "" {
		today = time.Now().UTC().Format("2006-01-02")
	}
	return &openai.ChatCompletionResponseFormatJSONSchema{
		Name:        "date_value",
		Description: fmt.Sprintf("Today's date is %s. Provide the answer to the request as an ISO 8601 date.", today),
		Strict:      true,
		Schema: &jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"answer": {Type: jsonschema.String, Description: "A valid ISO-8601 date"},
			},
			Required:             []string{"answer"},
			AdditionalProperties: false,
		},
	}
}

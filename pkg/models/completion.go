package models

import (
	"encoding/json"
	"time"
)

// LabelNew is the lifecycle tag assigned to every freshly created
// completion. The store never validates or rewrites labels.
const LabelNew = "new"

// CompletionRecord is one persisted completion: the verbatim prompt and
// response, the dedup key (model + prompt hash), and its cost accounting.
type CompletionRecord struct {
	ID         int64           `json:"id"`
	Model      string          `json:"model"`
	PromptHash string          `json:"prompt_hash"`
	Prompt     json.RawMessage `json:"prompt"`
	Response   json.RawMessage `json:"response"`
	Gold       json.RawMessage `json:"gold,omitempty"`
	Label      string          `json:"label"`
	Took       *int64          `json:"took,omitempty"`
	Cost       *float64        `json:"cost,omitempty"`
	GroupID    *string         `json:"groupid,omitempty"`
	Created    time.Time       `json:"created"`
	Updated    *time.Time      `json:"updated,omitempty"`
}

package fingerprint

import (
	"encoding/base64"
	"testing"
)

type prompt struct {
	Model       string   `json:"model"`
	Messages    []string `json:"messages"`
	Temperature float64  `json:"temperature"`
}

func TestHashDeterminism(t *testing.T) {
	p := prompt{Model: "gpt-4o", Messages: []string{"hello"}, Temperature: 0}

	h1, err := Hash(p)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := Hash(p)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("same input hashed differently: %s vs %s", h1, h2)
	}
}

func TestHashDistinguishesInputs(t *testing.T) {
	a := prompt{Model: "gpt-4o", Messages: []string{"hello"}}
	b := prompt{Model: "gpt-4o", Messages: []string{"hello"}, Temperature: 0.5}
	c := prompt{Model: "gpt-4o-mini", Messages: []string{"hello"}}

	ha, _ := Hash(a)
	hb, _ := Hash(b)
	hc, _ := Hash(c)

	if ha == hb {
		t.Error("temperature change should change the hash")
	}
	if ha == hc {
		t.Error("model change should change the hash")
	}
}

func TestHashMapKeyOrder(t *testing.T) {
	// Maps marshal with sorted keys, so insertion order is irrelevant.
	m1 := map[string]any{"a": 1, "b": 2}
	m2 := map[string]any{"b": 2, "a": 1}

	h1, _ := Hash(m1)
	h2, _ := Hash(m2)
	if h1 != h2 {
		t.Error("map key order should not affect the hash")
	}
}

func TestSumIsBase64(t *testing.T) {
	s := Sum([]byte("hello"))
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		t.Fatalf("digest is not standard base64: %v", err)
	}
	if len(raw) != 32 {
		t.Errorf("expected 32-byte digest, got %d", len(raw))
	}
}

func TestHashRejectsUnmarshalable(t *testing.T) {
	if _, err := Hash(func() {}); err == nil {
		t.Error("expected error for unserializable value")
	}
}

package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Shape constrains the model to emit a JSON object matching Schema.
type Shape struct {
	Name   string
	Schema map[string]any
}

type Request struct {
	// Model overrides the service's default model when set.
	Model       string
	Messages    []Message
	Shape       *Shape
	Temperature *float64
	MaxTokens   int
}

type Response struct {
	Text  string
	Model string
}

type Service interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

func Temperature(value float64) *float64 {
	return &value
}

// DecodeJSON strips an optional markdown fence from text and unmarshals the
// remaining JSON into target.
func DecodeJSON(text string, target any) error {
	body := StripFence(text)
	if body == "" {
		return fmt.Errorf("empty completion")
	}
	if err := json.Unmarshal([]byte(body), target); err != nil {
		return fmt.Errorf("decode completion json: %w", err)
	}
	return nil
}

// StripFence removes a surrounding ``` fence, with or without a language tag.
func StripFence(value string) string {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if newline := strings.IndexByte(trimmed, '\n'); newline >= 0 {
		tag := strings.TrimSpace(trimmed[:newline])
		if tag == "" || !strings.ContainsAny(tag, " {[") {
			trimmed = trimmed[newline+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// ObjectSchema builds a JSON schema object with every property required.
func ObjectSchema(properties map[string]any, required ...string) map[string]any {
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}

package handlers

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/peter-hollis-orkastrate/engram-sub001/internal/task"
)

// payloadSchemas is the canonical per-ActionType payload contract
// (JSON-equivalent object shapes; the wire form stays JSON).
var payloadSchemas = map[task.ActionType]string{
	task.ActionClipboard: `{
		"type": "object",
		"properties": {"text": {"type": "string", "minLength": 1}},
		"required": ["text"]
	}`,
	task.ActionNotification: `{
		"type": "object",
		"properties": {
			"title": {"type": "string", "minLength": 1},
			"body":  {"type": "string"}
		},
		"required": ["title"]
	}`,
	task.ActionQuickNote: `{
		"type": "object",
		"properties": {"text": {"type": "string", "minLength": 1}},
		"required": ["text"]
	}`,
	task.ActionReminder: `{
		"type": "object",
		"properties": {
			"message": {"type": "string", "minLength": 1},
			"fire_at": {"type": "string"}
		},
		"required": ["message"]
	}`,
	task.ActionShellCommand: `{
		"type": "object",
		"properties": {"command": {"type": "string", "minLength": 1}},
		"required": ["command"]
	}`,
}

var compiledSchemas = mustCompileSchemas()

func mustCompileSchemas() map[task.ActionType]*jsonschema.Schema {
	out := make(map[task.ActionType]*jsonschema.Schema, len(payloadSchemas))
	for at, raw := range payloadSchemas {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
		if err != nil {
			panic(fmt.Sprintf("payload schema for %s: %v", at, err))
		}
		c := jsonschema.NewCompiler()
		name := string(at) + ".json"
		if err := c.AddResource(name, doc); err != nil {
			panic(fmt.Sprintf("payload schema for %s: %v", at, err))
		}
		schema, err := c.Compile(name)
		if err != nil {
			panic(fmt.Sprintf("payload schema for %s: %v", at, err))
		}
		out[at] = schema
	}
	return out
}

// ValidatePayload checks payload shape against the action type's schema.
// A mismatch is an InvalidPayload task error (terminal, no retry).
func ValidatePayload(at task.ActionType, payload task.Payload) error {
	schema, ok := compiledSchemas[at]
	if !ok {
		return task.NewError(task.KindInvalidPayload, "no schema for action type %q", at)
	}
	if err := schema.Validate(map[string]any(payload)); err != nil {
		return task.WrapError(task.KindInvalidPayload, err, "payload rejected for %s", at)
	}
	return nil
}

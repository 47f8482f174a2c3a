// Package toolparse extracts tool calls from a backend response.
package toolparse

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-go-golems/docagent/pkg/backend"
	"github.com/go-go-golems/docagent/pkg/conversation"
	"github.com/go-go-golems/docagent/pkg/inference/tools"
	"github.com/rs/zerolog/log"
)

const (
	OpenTag  = "<tool_call>"
	CloseTag = "</tool_call>"
)

var (
	markupRe   = regexp.MustCompile(`(?s)<tool_call>(.*?)</tool_call>`)
	toolNameRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)
)

// Extract returns the tool calls of resp and the text left once textual
// markup has been removed. The structured tool-calls field wins over the
// single function-call field, which wins over markup in the content.
func Extract(resp *backend.ChatResponse) ([]conversation.ToolCall, string) {
	if resp == nil {
		return nil, ""
	}
	if len(resp.ToolCalls) > 0 {
		calls := make([]conversation.ToolCall, 0, len(resp.ToolCalls))
		for _, c := range resp.ToolCalls {
			calls = append(calls, withID(c))
		}
		return calls, resp.Text
	}
	if resp.FunctionCall != nil && resp.FunctionCall.Name != "" {
		return []conversation.ToolCall{withID(*resp.FunctionCall)}, resp.Text
	}
	return ParseMarkup(resp.Text)
}

// ParseMarkup parses <tool_call>{"name": ..., "arguments": {...}}</tool_call>
// blocks. "args" is accepted in place of "arguments". Blocks that do not
// parse or name an invalid tool are dropped from the text and ignored.
func ParseMarkup(text string) ([]conversation.ToolCall, string) {
	if !strings.Contains(text, OpenTag) {
		return nil, text
	}
	var calls []conversation.ToolCall
	cleaned := markupRe.ReplaceAllStringFunc(text, func(m string) string {
		body := strings.TrimSpace(markupRe.FindStringSubmatch(m)[1])
		call, ok := parseBlock(body)
		if !ok {
			log.Debug().Str("component", "toolparse").Str("block", body).Msg("ignoring unparsable tool call markup")
			return ""
		}
		calls = append(calls, call)
		return ""
	})
	return calls, strings.TrimSpace(cleaned)
}

func parseBlock(body string) (conversation.ToolCall, bool) {
	var raw struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
		Args      json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return conversation.ToolCall{}, false
	}
	if !toolNameRe.MatchString(raw.Name) {
		return conversation.ToolCall{}, false
	}
	args := raw.Arguments
	if len(args) == 0 || string(args) == "null" {
		args = raw.Args
	}
	if string(args) == "null" {
		args = nil
	}
	return conversation.ToolCall{
		ID:        conversation.NewCallID(),
		Name:      raw.Name,
		Arguments: args,
	}, true
}

func withID(c conversation.ToolCall) conversation.ToolCall {
	if c.ID == "" {
		c.ID = conversation.NewCallID()
	}
	return c
}

// ProtocolPrompt describes the tool catalog and the markup protocol for
// backends without structured tool calls.
func ProtocolPrompt(catalog []tools.Tool) string {
	if len(catalog) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("You can call the following tools:\n\n")
	for _, t := range catalog {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		sb.WriteString(fmt.Sprintf("- %s: %s\n  parameters: %s\n", t.Name, t.Description, compact(params)))
	}
	sb.WriteString("\nTo call a tool, answer with one block per call and nothing else:\n")
	sb.WriteString(OpenTag + `{"name": "tool_name", "arguments": {...}}` + CloseTag + "\n")
	sb.WriteString("Tool results are sent back to you in the next message. Answer normally once you have what you need.")
	return sb.String()
}

func compact(raw json.RawMessage) string {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(b)
}

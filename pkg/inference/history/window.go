// Package history bounds the conversation history sent with each request.
package history

import (
	"github.com/go-go-golems/docagent/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/tiktoken-go/tokenizer"
)

// Counter counts the tokens of a piece of text.
type Counter interface {
	Count(text string) int
}

// perTurnOverhead approximates the role and separator tokens of one message.
const perTurnOverhead = 4

type codecCounter struct {
	codec tokenizer.Codec
}

// NewCounter returns a counter for model, falling back to cl100k_base when
// the tokenizer does not know the model.
func NewCounter(model string) (Counter, error) {
	if model != "" {
		if c, err := tokenizer.ForModel(tokenizer.Model(model)); err == nil {
			return codecCounter{codec: c}, nil
		}
	}
	c, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, errors.Wrap(err, "could not load tokenizer")
	}
	return codecCounter{codec: c}, nil
}

func (c codecCounter) Count(text string) int {
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		// rough estimate, four characters per token
		return len(text)/4 + 1
	}
	return len(ids)
}

// Window returns the most recent turns of a prior conversation: at most
// limit turns (0 keeps all), then trimmed from the front until they fit in
// maxTokens (0 is unbounded). System turns are dropped, instructions are
// sent separately, and the window never starts with an orphaned tool result.
func Window(turns []conversation.Turn, limit int, maxTokens int, counter Counter) []conversation.Turn {
	out := make([]conversation.Turn, 0, len(turns))
	for _, t := range turns {
		if t.Role == conversation.RoleSystem {
			continue
		}
		out = append(out, t)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}

	if maxTokens > 0 && counter != nil {
		total := 0
		costs := make([]int, len(out))
		for i, t := range out {
			costs[i] = Cost(t, counter)
			total += costs[i]
		}
		start := 0
		for start < len(out) && total > maxTokens {
			total -= costs[start]
			start++
		}
		out = out[start:]
	}

	for len(out) > 0 && out[0].Role == conversation.RoleTool {
		out = out[1:]
	}
	return out
}

// Cost is the token count of one turn including its tool calls.
func Cost(t conversation.Turn, counter Counter) int {
	n := perTurnOverhead + counter.Count(t.Text)
	for _, c := range t.ToolCalls {
		n += counter.Count(c.Name) + counter.Count(c.ArgumentString())
	}
	return n
}

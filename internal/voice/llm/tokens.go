package llm

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter measures prompt text.
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter counts with the BPE encoding of the configured model.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter selects the encoding for model, falling back to
// cl100k_base for models tiktoken does not know (Llama, Mixtral on Groq).
func NewTiktokenCounter(model string) (*TiktokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// perMessageOverhead approximates role and separator tokens in chat formats.
const perMessageOverhead = 4

// TrimHistory drops the oldest messages until the system prompt plus history
// fit within budget. The newest message is always kept.
func TrimHistory(counter TokenCounter, systemPrompt string, history []Message, budget int) []Message {
	if len(history) == 0 {
		return history
	}
	used := counter.Count(systemPrompt) + perMessageOverhead
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := counter.Count(history[i].Content) + perMessageOverhead
		if used+cost > budget && i < len(history)-1 {
			break
		}
		used += cost
		start = i
	}
	return history[start:]
}

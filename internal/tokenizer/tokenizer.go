package tokenizer

import (
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Message represents a chat message for token counting purposes.
type Message struct {
	Role    string
	Content string
	Name    string // optional
}

// Tokenizer provides token counting using tiktoken encodings.
// Encodings are cached via sync.Once to avoid repeated initialization.
type Tokenizer struct {
	cl100kOnce sync.Once
	cl100kEnc  *tiktoken.Tiktoken
	cl100kErr  error

	o200kOnce sync.Once
	o200kEnc  *tiktoken.Tiktoken
	o200kErr  error
}

// modelEncodings maps model names to their tiktoken encoding. Non-OpenAI
// vendors do not publish tokenizers compatible with tiktoken; cl100k_base
// is close enough for estimation purposes.
var modelEncodings = map[string]string{
	// OpenAI
	"gpt-5":   "o200k_base",
	"o3":      "o200k_base",
	"o4-mini": "o200k_base",

	// Anthropic
	"claude-opus-4.1": "cl100k_base",
	"claude-sonnet-4": "cl100k_base",

	// Google
	"gemini-2.5-pro":   "cl100k_base",
	"gemini-2.5-flash": "cl100k_base",

	// xAI
	"grok-4":       "cl100k_base",
	"grok-4-heavy": "cl100k_base",

	// Mistral family
	"mistral-medium": "cl100k_base",
	"mixtral-8x7b":   "cl100k_base",
}

// New creates a new Tokenizer instance.
func New() *Tokenizer {
	return &Tokenizer{}
}

// GetEncoding returns the encoding name for the given model.
// Unknown models default to cl100k_base.
func (t *Tokenizer) GetEncoding(model string) string {
	if enc, ok := modelEncodings[model]; ok {
		return enc
	}

	// Try prefix matching for versioned model names.
	lower := strings.ToLower(model)
	for m, enc := range modelEncodings {
		if strings.HasPrefix(lower, m) {
			return enc
		}
	}

	return "cl100k_base"
}

// getEncoder returns the cached tiktoken encoder for the given model.
func (t *Tokenizer) getEncoder(model string) (*tiktoken.Tiktoken, error) {
	encName := t.GetEncoding(model)

	switch encName {
	case "o200k_base":
		t.o200kOnce.Do(func() {
			t.o200kEnc, t.o200kErr = tiktoken.GetEncoding("o200k_base")
		})
		return t.o200kEnc, t.o200kErr
	default:
		t.cl100kOnce.Do(func() {
			t.cl100kEnc, t.cl100kErr = tiktoken.GetEncoding("cl100k_base")
		})
		return t.cl100kEnc, t.cl100kErr
	}
}

// Count counts the number of tokens in the given text for the specified
// model. If the encoding cannot be initialized (e.g. no BPE data available),
// it falls back to the bytes/4 heuristic so estimation never fails.
func (t *Tokenizer) Count(model, text string) int {
	enc, err := t.getEncoder(model)
	if err != nil {
		return approximate(text)
	}
	tokens := enc.Encode(text, nil, nil)
	return len(tokens)
}

// CountMessages counts the total number of tokens across a slice of chat
// messages for the specified model. Each message incurs a 4-token overhead
// (role framing), and an additional 3 tokens are added for reply priming.
func (t *Tokenizer) CountMessages(model string, messages []Message) int {
	enc, err := t.getEncoder(model)
	if err != nil {
		total := 3
		for _, msg := range messages {
			total += 4 + approximate(msg.Role) + approximate(msg.Content) + approximate(msg.Name)
		}
		return total
	}

	total := 0
	for _, msg := range messages {
		// Every message has a 4-token overhead: <im_start>{role}\n ... <im_end>\n
		total += 4
		total += len(enc.Encode(msg.Role, nil, nil))
		total += len(enc.Encode(msg.Content, nil, nil))
		if msg.Name != "" {
			total += len(enc.Encode(msg.Name, nil, nil))
		}
	}

	// 3 tokens for reply priming (<im_start>assistant<im_sep>)
	total += 3

	return total
}

// approximate estimates a token count as bytes/4, the usual rule of thumb
// for English text.
func approximate(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

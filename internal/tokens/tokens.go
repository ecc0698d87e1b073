// Package tokens provides token counting for usage accounting when a
// provider response omits usage counts.
package tokens

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/calliope-ai/calliope/internal/domain"
)

// Counter counts tokens for models it supports.
type Counter interface {
	SupportsModel(model string) bool
	Count(model, text string) (int, error)
}

// Registry resolves the right counter for a model, falling back to a
// character-based estimator for unknown models.
type Registry struct {
	counters []Counter
	fallback Counter
}

// NewRegistry creates a registry with the tiktoken counter registered and
// the estimator as fallback.
func NewRegistry() *Registry {
	return &Registry{
		counters: []Counter{NewTiktokenCounter()},
		fallback: NewEstimator(),
	}
}

// Register adds a counter to the registry.
func (r *Registry) Register(c Counter) {
	r.counters = append(r.counters, c)
}

// Count counts tokens in text using the best counter for the model.
func (r *Registry) Count(model, text string) int {
	for _, c := range r.counters {
		if c.SupportsModel(model) {
			if n, err := c.Count(model, text); err == nil {
				return n
			}
			break
		}
	}
	n, _ := r.fallback.Count(model, text)
	return n
}

// EstimateUsage fills in a usage struct from prompt and completion text.
// Used when a provider stream ends without reporting counts.
func (r *Registry) EstimateUsage(model, prompt, completion string) domain.Usage {
	p := r.Count(model, prompt)
	c := r.Count(model, completion)
	return domain.Usage{PromptTokens: p, CompletionTokens: c, TotalTokens: p + c}
}

// TiktokenCounter provides accurate counts for OpenAI-family models.
type TiktokenCounter struct {
	mu    sync.RWMutex
	cache map[tokenizer.Encoding]tokenizer.Codec
}

// NewTiktokenCounter creates a tiktoken-backed counter.
func NewTiktokenCounter() *TiktokenCounter {
	return &TiktokenCounter{cache: make(map[tokenizer.Encoding]tokenizer.Codec)}
}

func (c *TiktokenCounter) SupportsModel(model string) bool {
	m := strings.ToLower(model)
	for _, prefix := range []string{"gpt-", "o1", "o3", "o4", "text-embedding", "chatgpt"} {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}

func (c *TiktokenCounter) Count(model, text string) (int, error) {
	codec, err := c.codecFor(model)
	if err != nil {
		return 0, err
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (c *TiktokenCounter) codecFor(model string) (tokenizer.Codec, error) {
	if codec, err := tokenizer.ForModel(tokenizer.Model(model)); err == nil {
		return codec, nil
	}

	// Fall back to the o200k encoding used by current chat models.
	encoding := tokenizer.O200kBase

	c.mu.RLock()
	if cached, ok := c.cache[encoding]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	codec, err := tokenizer.Get(encoding)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[encoding] = codec
	c.mu.Unlock()
	return codec, nil
}

// Estimator approximates token counts from character length. Roughly four
// characters per token holds for English prose across providers.
type Estimator struct {
	CharsPerToken int
}

// NewEstimator creates an estimator with the default ratio.
func NewEstimator() *Estimator {
	return &Estimator{CharsPerToken: 4}
}

func (e *Estimator) SupportsModel(string) bool {
	return true
}

func (e *Estimator) Count(_, text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	n := (len(text) + e.CharsPerToken - 1) / e.CharsPerToken
	return n, nil
}

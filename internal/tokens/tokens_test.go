package tokens

import "testing"

func TestEstimatorFallback(t *testing.T) {
	r := NewRegistry()

	// An unknown model falls back to the character estimator.
	n := r.Count("some-custom-model", "abcdefgh")
	if n != 2 {
		t.Errorf("Count = %d, want 2 (4 chars per token)", n)
	}
	if got := r.Count("some-custom-model", ""); got != 0 {
		t.Errorf("empty text Count = %d, want 0", got)
	}
}

func TestTiktokenCounterModelSupport(t *testing.T) {
	c := NewTiktokenCounter()
	supported := []string{"gpt-4o", "gpt-3.5-turbo", "o1-mini", "text-embedding-3-small", "chatgpt-4o-latest"}
	for _, m := range supported {
		if !c.SupportsModel(m) {
			t.Errorf("SupportsModel(%q) = false", m)
		}
	}
	if c.SupportsModel("claude-sonnet-4") {
		t.Error("non-OpenAI model should not claim tiktoken support")
	}
}

func TestEstimateUsage(t *testing.T) {
	r := NewRegistry()
	usage := r.EstimateUsage("custom", "12345678", "1234")
	if usage.PromptTokens != 2 {
		t.Errorf("prompt tokens = %d, want 2", usage.PromptTokens)
	}
	if usage.CompletionTokens != 1 {
		t.Errorf("completion tokens = %d, want 1", usage.CompletionTokens)
	}
	if usage.TotalTokens != usage.PromptTokens+usage.CompletionTokens {
		t.Errorf("total = %d", usage.TotalTokens)
	}
}

package chain

import "testing"

func TestResolveTemplate(t *testing.T) {
	fields := map[string]string{
		"topic":    "compilers",
		"audience": "beginners",
	}
	results := []string{"first output", "second output"}

	tests := []struct {
		name string
		tmpl string
		want string
	}{
		{
			name: "field substitution",
			tmpl: "Explain {{topic}} to {{audience}}",
			want: "Explain compilers to beginners",
		},
		{
			name: "result substitution is one-based",
			tmpl: "Summarize: {{result_1}}",
			want: "Summarize: first output",
		},
		{
			name: "second result",
			tmpl: "{{result_2}}",
			want: "second output",
		},
		{
			name: "whitespace inside braces",
			tmpl: "{{ topic }} and {{  result_1  }}",
			want: "compilers and first output",
		},
		{
			name: "unresolved placeholder left verbatim",
			tmpl: "use {{missing}} here",
			want: "use {{missing}} here",
		},
		{
			name: "result index out of range left verbatim",
			tmpl: "{{result_5}}",
			want: "{{result_5}}",
		},
		{
			name: "no placeholders",
			tmpl: "plain text",
			want: "plain text",
		},
		{
			name: "mixed fields and results",
			tmpl: "{{topic}}: {{result_1}} / {{result_2}}",
			want: "compilers: first output / second output",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveTemplate(tt.tmpl, fields, results)
			if got != tt.want {
				t.Errorf("ResolveTemplate(%q) = %q, want %q", tt.tmpl, got, tt.want)
			}
		})
	}
}

func TestResolveTemplateIdempotent(t *testing.T) {
	fields := map[string]string{"name": "value"}
	once := ResolveTemplate("{{name}}", fields, nil)
	twice := ResolveTemplate(once, fields, nil)
	if once != twice {
		t.Errorf("resolution is not idempotent: %q then %q", once, twice)
	}
}

func TestResultKey(t *testing.T) {
	if got := ResultKey(1); got != "result_1" {
		t.Errorf("ResultKey(1) = %q, want result_1", got)
	}
}

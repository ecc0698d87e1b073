package llm

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/calliope-ai/calliope/internal/domain"
)

// Tool is a callable exposed to models during completion.
type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON Schema object describing the arguments.
	Parameters map[string]any
	// Execute runs the tool. Arguments arrive as the raw JSON the model
	// produced; implementations validate their own shape.
	Execute func(ctx context.Context, args json.RawMessage) (string, error)
}

// ToolSet is a concurrency-safe named collection of tools.
type ToolSet struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolSet creates an empty tool set.
func NewToolSet() *ToolSet {
	return &ToolSet{tools: make(map[string]Tool)}
}

// Register adds a tool. Later registrations replace earlier ones.
func (s *ToolSet) Register(t Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[t.Name] = t
}

// Get returns the named tool.
func (s *ToolSet) Get(name string) (Tool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tools[name]
	return t, ok
}

// Definitions returns the tool definitions to attach to a request, sorted
// by name for stable request bodies.
func (s *ToolSet) Definitions() []domain.ToolDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]domain.ToolDefinition, 0, len(s.tools))
	for _, t := range s.tools {
		defs = append(defs, domain.ToolDefinition{
			Type: "function",
			Function: domain.FunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].Function.Name < defs[j].Function.Name
	})
	return defs
}

// call executes one tool call, mapping failures to the tool error taxonomy.
func (s *ToolSet) call(ctx context.Context, tc domain.ToolCallResult) (string, error) {
	t, ok := s.Get(tc.Name)
	if !ok {
		return "", domain.ErrUnknownTool(tc.Name)
	}
	if !json.Valid([]byte(tc.Arguments)) {
		return "", domain.ErrInvalidToolArguments(tc.Name, errInvalidJSON)
	}
	out, err := t.Execute(ctx, json.RawMessage(tc.Arguments))
	if err != nil {
		// Execute may already return taxonomy errors (e.g. argument
		// validation); keep those intact.
		if ce := domain.AsCoreError(err); ce.Type == domain.ErrorTypeTool {
			return "", ce
		}
		return "", domain.ErrToolExecution(tc.Name, err)
	}
	return out, nil
}

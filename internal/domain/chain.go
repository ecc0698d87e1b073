package domain

import (
	"fmt"
	"time"
)

// FieldType enumerates supported input field kinds.
type FieldType string

const (
	FieldShortText    FieldType = "short_text"
	FieldLongText     FieldType = "long_text"
	FieldSingleSelect FieldType = "single_select"
	FieldMultiSelect  FieldType = "multi_select"
)

// InputField is one user-supplied input declared by a chain.
type InputField struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Type    FieldType `json:"type"`
	Options []string  `json:"options,omitempty"`
}

// PromptStep is one model invocation within a chain.
type PromptStep struct {
	ID            string `json:"id"`
	Position      int    `json:"position"`
	ParallelGroup string `json:"parallel_group,omitempty"` // steps sharing a group run concurrently
	TemplateText  string `json:"template_text"`
	SystemContext string `json:"system_context,omitempty"`
	ProviderRef   string `json:"provider_ref"`
	ModelID       string `json:"model_id"`
	Timeout       time.Duration `json:"timeout,omitempty"`

	// ContinueOnError lets a chain author opt a sequential step out of the
	// default abort-remainder policy. Defaults to false, matching the
	// historical behavior.
	ContinueOnError bool `json:"continue_on_error,omitempty"`
}

// ChainDefinition is an ordered, optionally grouped-parallel sequence of
// prompt steps defining one assistant.
type ChainDefinition struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Steps  []PromptStep `json:"steps"`
	Fields []InputField `json:"fields,omitempty"`
}

// Validate checks the structural invariants of a chain definition:
// step positions strictly increasing (parallel-group members share a
// position rank), at least one step, and non-empty provider refs.
func (c *ChainDefinition) Validate() error {
	if len(c.Steps) == 0 {
		return ErrValidation("chain has no steps")
	}
	lastPos := -1
	lastGroup := ""
	for i, s := range c.Steps {
		if s.ProviderRef == "" {
			return ErrValidation(fmt.Sprintf("step %d has no provider", i))
		}
		if s.TemplateText == "" {
			return ErrValidation(fmt.Sprintf("step %d has no template", i))
		}
		if s.ParallelGroup != "" && s.ParallelGroup == lastGroup {
			// Group members share a position rank.
			if s.Position != lastPos {
				return ErrValidation(fmt.Sprintf("step %d breaks its parallel group rank", i))
			}
			continue
		}
		if s.Position <= lastPos {
			return ErrValidation(fmt.Sprintf("step %d position %d is not increasing", i, s.Position))
		}
		lastPos = s.Position
		lastGroup = s.ParallelGroup
	}
	return nil
}

// StepGroups partitions the steps into execution units in position order.
// A unit is either a single sequential step or all members of one parallel
// group.
func (c *ChainDefinition) StepGroups() [][]PromptStep {
	var groups [][]PromptStep
	for i := 0; i < len(c.Steps); {
		s := c.Steps[i]
		if s.ParallelGroup == "" {
			groups = append(groups, []PromptStep{s})
			i++
			continue
		}
		j := i
		for j < len(c.Steps) && c.Steps[j].ParallelGroup == s.ParallelGroup {
			j++
		}
		groups = append(groups, c.Steps[i:j])
		i = j
	}
	return groups
}

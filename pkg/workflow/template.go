package workflow

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/steward-project/steward/pkg/errors"
)

// TemplateContext carries the data available to step prompt templates
// and output templates.
type TemplateContext struct {
	// Inputs holds the workflow input values.
	Inputs map[string]interface{}

	// Steps holds completed step outputs keyed by step ID, each rendered
	// via StepOutput.ToMap.
	Steps map[string]map[string]interface{}

	// Env holds selected environment values.
	Env map[string]string

	// raw keeps the unflattened outputs for function-step RunContexts.
	raw map[string]StepOutput
}

// NewTemplateContext creates a context with initialized maps.
func NewTemplateContext(inputs map[string]interface{}) *TemplateContext {
	if inputs == nil {
		inputs = make(map[string]interface{})
	}
	return &TemplateContext{
		Inputs: inputs,
		Steps:  make(map[string]map[string]interface{}),
		Env:    make(map[string]string),
		raw:    make(map[string]StepOutput),
	}
}

// RecordStep publishes a completed step's output to later steps.
// A skipped step records an empty output so template references resolve
// to empty strings instead of failing.
func (c *TemplateContext) RecordStep(stepID string, output StepOutput) {
	c.Steps[stepID] = output.ToMap()
	c.raw[stepID] = output
}

// Clone returns a copy safe to hand to a parallel child. Step output
// maps are shared (they are read-only by convention); the registries
// holding them are copied.
func (c *TemplateContext) Clone() *TemplateContext {
	clone := &TemplateContext{
		Inputs: make(map[string]interface{}, len(c.Inputs)),
		Steps:  make(map[string]map[string]interface{}, len(c.Steps)),
		Env:    make(map[string]string, len(c.Env)),
		raw:    make(map[string]StepOutput, len(c.raw)),
	}
	for k, v := range c.Inputs {
		clone.Inputs[k] = v
	}
	for k, v := range c.Steps {
		clone.Steps[k] = v
	}
	for k, v := range c.Env {
		clone.Env[k] = v
	}
	for k, v := range c.raw {
		clone.raw[k] = v
	}
	return clone
}

// ToMap renders the context for template execution. Input values are
// flattened to the top level in addition to the "inputs" namespace, so
// {{.prompt}} and {{.inputs.prompt}} both work.
func (c *TemplateContext) ToMap() map[string]interface{} {
	m := make(map[string]interface{}, len(c.Inputs)+3)
	for k, v := range c.Inputs {
		m[k] = v
	}
	m["inputs"] = c.Inputs

	steps := make(map[string]interface{}, len(c.Steps))
	for id, output := range c.Steps {
		steps[id] = output
	}
	m["steps"] = steps
	m["env"] = c.Env
	return m
}

// templateFuncs are available in step prompts and output templates.
var templateFuncs = template.FuncMap{
	"truncate": truncateRunes,
	"upper":    strings.ToUpper,
	"lower":    strings.ToLower,
	"trim":     strings.TrimSpace,
	"join":     strings.Join,
	"default": func(fallback string, value interface{}) string {
		s := fmt.Sprintf("%v", value)
		if value == nil || s == "" {
			return fallback
		}
		return s
	},
}

// truncateRunes bounds a string to n runes, appending an ellipsis marker
// when content was dropped. Synthesis prompts use this to keep collected
// metrics within a sane prompt size.
func truncateRunes(n int, s string) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// ResolveTemplate renders a template string against the context.
// A reference to an undefined value renders as "<no value>" in
// text/template; that is reported as an error since it almost always
// means a mistyped step ID.
func (c *TemplateContext) ResolveTemplate(text string) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	tmpl, err := template.New("step").Funcs(templateFuncs).Parse(text)
	if err != nil {
		return "", &errors.ValidationError{
			Field:   "template",
			Message: fmt.Sprintf("invalid template: %v", err),
		}
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, c.ToMap()); err != nil {
		return "", &errors.ValidationError{
			Field:   "template",
			Message: fmt.Sprintf("template execution failed: %v", err),
		}
	}

	result := buf.String()
	if strings.Contains(result, "<no value>") {
		return "", &errors.ValidationError{
			Field:      "template",
			Message:    fmt.Sprintf("template %q references an undefined value", text),
			Suggestion: "check step ids and input names referenced by the template",
		}
	}
	return result, nil
}

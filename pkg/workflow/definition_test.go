package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steward-project/steward/pkg/errors"
)

const healthAuditYAML = `
name: system-health-audit
description: Audit system health and investigate concerns
version: "1.0"
inputs:
  system_name:
    type: string
    required: true
steps:
  - id: collect_status
    agent: performance
    prompt: "Collect system status for {{.inputs.system_name}}"
  - id: triage
    condition:
      expression: containsAny(steps.collect_status.response, ["warning", "critical"])
      then:
        - id: investigate
          agent: performance
          prompt: "Investigate the concerns"
      else:
        - id: summarize
          agent: performance
          prompt: "Summarize the healthy state"
outputs:
  report: "{{.steps.triage.response}}"
`

func TestParseDefinitionYAML(t *testing.T) {
	def, err := ParseDefinition([]byte(healthAuditYAML))
	require.NoError(t, err)

	assert.Equal(t, "system-health-audit", def.Name)
	require.Len(t, def.Steps, 2)

	// Types are inferred from the populated fields.
	assert.Equal(t, StepTypeAgent, def.Steps[0].Type)
	assert.Equal(t, StepTypeCondition, def.Steps[1].Type)
	require.NotNil(t, def.Steps[1].Condition)
	assert.Len(t, def.Steps[1].Condition.Then, 1)
	assert.Len(t, def.Steps[1].Condition.Else, 1)
	assert.True(t, def.Inputs["system_name"].Required)
}

func TestParseDefinitionInvalidYAML(t *testing.T) {
	_, err := ParseDefinition([]byte("steps: ["))
	require.Error(t, err)

	var vErr *errors.ValidationError
	assert.True(t, errors.As(err, &vErr))
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		def     Definition
		wantMsg string
	}{
		{
			name:    "missing name",
			def:     Definition{Steps: []StepDefinition{{ID: "a", Agent: "x", Prompt: "p"}}},
			wantMsg: "name is required",
		},
		{
			name:    "no steps",
			def:     Definition{Name: "empty"},
			wantMsg: "no steps",
		},
		{
			name: "duplicate ids",
			def: Definition{Name: "dup", Steps: []StepDefinition{
				{ID: "a", Agent: "x", Prompt: "p"},
				{ID: "a", Agent: "y", Prompt: "p"},
			}},
			wantMsg: "duplicate step id",
		},
		{
			name: "duplicate id in nested branch",
			def: Definition{Name: "dup-nested", Steps: []StepDefinition{
				{ID: "a", Agent: "x", Prompt: "p"},
				{ID: "cond", Condition: &ConditionDefinition{
					Expression: "true",
					Then:       []StepDefinition{{ID: "a", Agent: "y", Prompt: "p"}},
				}},
			}},
			wantMsg: "duplicate step id",
		},
		{
			name:    "agent step without prompt",
			def:     Definition{Name: "w", Steps: []StepDefinition{{ID: "a", Agent: "x"}}},
			wantMsg: "requires a prompt",
		},
		{
			name:    "agent step without agent",
			def:     Definition{Name: "w", Steps: []StepDefinition{{ID: "a", Type: StepTypeAgent, Prompt: "p"}}},
			wantMsg: "requires an agent",
		},
		{
			name:    "parallel without children",
			def:     Definition{Name: "w", Steps: []StepDefinition{{ID: "a", Type: StepTypeParallel}}},
			wantMsg: "requires child steps",
		},
		{
			name: "condition without then",
			def: Definition{Name: "w", Steps: []StepDefinition{
				{ID: "a", Condition: &ConditionDefinition{Expression: "true"}},
			}},
			wantMsg: "requires a then branch",
		},
		{
			name: "condition expression does not compile",
			def: Definition{Name: "w", Steps: []StepDefinition{
				{ID: "a", Condition: &ConditionDefinition{
					Expression: "steps.x >",
					Then:       []StepDefinition{{ID: "b", Agent: "x", Prompt: "p"}},
				}},
			}},
			wantMsg: "does not compile",
		},
		{
			name:    "function step without function",
			def:     Definition{Name: "w", Steps: []StepDefinition{{ID: "a", Type: StepTypeFunction}}},
			wantMsg: "requires a function name",
		},
		{
			name: "bad if gate",
			def: Definition{Name: "w", Steps: []StepDefinition{
				{ID: "a", Agent: "x", Prompt: "p", If: "inputs. >"},
			}},
			wantMsg: "does not compile",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.def.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestEffectiveTimeout(t *testing.T) {
	agent := StepDefinition{Type: StepTypeAgent}
	assert.Equal(t, DefaultAgentStepTimeout, agent.effectiveTimeout())

	fn := StepDefinition{Type: StepTypeFunction}
	assert.Equal(t, DefaultFunctionStepTimeout, fn.effectiveTimeout())

	custom := StepDefinition{Type: StepTypeAgent, Timeout: 42}
	assert.Equal(t, 42*time.Second, custom.effectiveTimeout())
}

func TestEffectiveRetry(t *testing.T) {
	leaf := StepDefinition{Type: StepTypeAgent}
	retry := leaf.effectiveRetry()
	assert.Equal(t, DefaultRetryMaxAttempts, retry.MaxAttempts)
	assert.Equal(t, DefaultRetryBackoffBase, retry.BackoffBase)
	assert.Equal(t, DefaultRetryBackoffMultiplier, retry.BackoffMultiplier)

	// Containers never retry; their children carry their own policy.
	parallel := StepDefinition{Type: StepTypeParallel}
	assert.Equal(t, 1, parallel.effectiveRetry().MaxAttempts)

	custom := StepDefinition{Type: StepTypeAgent, Retry: &RetryDefinition{MaxAttempts: 5}}
	retry = custom.effectiveRetry()
	assert.Equal(t, 5, retry.MaxAttempts)
	assert.Equal(t, DefaultRetryBackoffBase, retry.BackoffBase)
}

package workflow

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/steward-project/steward/pkg/errors"
	"github.com/steward-project/steward/pkg/workflow/expression"
)

// StepType identifies how a step executes.
type StepType string

const (
	// StepTypeAgent delegates a prompt to a named agent.
	StepTypeAgent StepType = "agent"
	// StepTypeParallel runs child steps concurrently.
	StepTypeParallel StepType = "parallel"
	// StepTypeCondition evaluates a boolean expression and runs one of
	// two branches.
	StepTypeCondition StepType = "condition"
	// StepTypeFunction runs a registered synthesis function.
	StepTypeFunction StepType = "function"
)

// Defaults applied during validation.
const (
	// DefaultAgentStepTimeout bounds agent steps; tool-heavy IBM i
	// investigations can run long.
	DefaultAgentStepTimeout = 600 * time.Second

	// DefaultFunctionStepTimeout bounds function steps.
	DefaultFunctionStepTimeout = 120 * time.Second

	// DefaultRetryMaxAttempts is the default attempt count for retryable steps.
	DefaultRetryMaxAttempts = 2

	// DefaultRetryBackoffBase is the initial backoff delay in seconds.
	DefaultRetryBackoffBase = 1

	// DefaultRetryBackoffMultiplier grows the delay between attempts.
	DefaultRetryBackoffMultiplier = 2.0

	// DefaultParallelConcurrency bounds concurrently running parallel children.
	DefaultParallelConcurrency = 3
)

// ErrorStrategy controls how a failed step affects the run.
type ErrorStrategy string

const (
	// ErrorStrategyFail stops the workflow on step failure (default).
	ErrorStrategyFail ErrorStrategy = "fail"
	// ErrorStrategyIgnore records the failure and continues with an
	// empty output.
	ErrorStrategyIgnore ErrorStrategy = "ignore"
	// ErrorStrategyFallback continues with a configured fallback text.
	ErrorStrategyFallback ErrorStrategy = "fallback"
)

// Definition describes a workflow: its inputs, its step graph, and its
// declared outputs.
type Definition struct {
	// Name uniquely identifies the workflow (kebab-case).
	Name string `yaml:"name"`

	// Description summarizes what the workflow does.
	Description string `yaml:"description,omitempty"`

	// Version is the definition version.
	Version string `yaml:"version,omitempty"`

	// Inputs declares the workflow's input parameters.
	Inputs map[string]InputDefinition `yaml:"inputs,omitempty"`

	// Steps is the top-level step sequence, executed in order.
	Steps []StepDefinition `yaml:"steps"`

	// Outputs maps output names to templates over the final context,
	// e.g. report: "{{.steps.recommendations.response}}".
	Outputs map[string]string `yaml:"outputs,omitempty"`
}

// InputDefinition declares a workflow input parameter.
type InputDefinition struct {
	// Type is the expected type (string, number, boolean). Informational.
	Type string `yaml:"type,omitempty"`

	// Description documents the parameter.
	Description string `yaml:"description,omitempty"`

	// Required marks the parameter as mandatory.
	Required bool `yaml:"required,omitempty"`

	// Default supplies a value when the caller omits the parameter.
	Default interface{} `yaml:"default,omitempty"`
}

// StepDefinition describes a single step in the graph.
type StepDefinition struct {
	// ID uniquely identifies the step within the workflow. Later steps
	// reference this step's output as {{.steps.<id>.response}}.
	ID string `yaml:"id"`

	// Name is an optional display name.
	Name string `yaml:"name,omitempty"`

	// Type selects the execution mechanism. Defaults to "agent" when an
	// agent is named, "condition" when a condition block is present,
	// "parallel" when child steps are present, and "function" when a
	// function is named.
	Type StepType `yaml:"type,omitempty"`

	// Agent names the agent to delegate to (agent steps).
	Agent string `yaml:"agent,omitempty"`

	// Prompt is the prompt template for agent steps.
	Prompt string `yaml:"prompt,omitempty"`

	// Function names the registered function to run (function steps).
	Function string `yaml:"function,omitempty"`

	// If gates the step: when the expression evaluates false the step
	// is skipped. Distinct from Condition, which chooses a branch.
	If string `yaml:"if,omitempty"`

	// Condition defines the branch choice for condition steps.
	Condition *ConditionDefinition `yaml:"condition,omitempty"`

	// Steps holds the children of parallel steps.
	Steps []StepDefinition `yaml:"steps,omitempty"`

	// MaxConcurrency bounds parallel children running at once.
	MaxConcurrency int `yaml:"maxConcurrency,omitempty"`

	// Timeout bounds the step in seconds. Zero applies the type default.
	Timeout int `yaml:"timeout,omitempty"`

	// Retry configures retry behavior. Nil applies the default policy.
	Retry *RetryDefinition `yaml:"retry,omitempty"`

	// OnError selects the failure strategy. Nil means fail.
	OnError *ErrorDefinition `yaml:"onError,omitempty"`
}

// ConditionDefinition chooses between two branches based on a boolean
// expression over the run context.
type ConditionDefinition struct {
	// Expression is an expr-lang boolean over {inputs, steps, env}.
	Expression string `yaml:"expression"`

	// Then runs when the expression is true.
	Then []StepDefinition `yaml:"then"`

	// Else runs when the expression is false. Optional.
	Else []StepDefinition `yaml:"else,omitempty"`
}

// RetryDefinition configures retry with exponential backoff.
type RetryDefinition struct {
	// MaxAttempts is the total attempt count, including the first.
	MaxAttempts int `yaml:"maxAttempts,omitempty"`

	// BackoffBase is the initial delay in seconds.
	BackoffBase int `yaml:"backoffBase,omitempty"`

	// BackoffMultiplier grows the delay between attempts.
	BackoffMultiplier float64 `yaml:"backoffMultiplier,omitempty"`
}

// ErrorDefinition configures the failure strategy for a step.
type ErrorDefinition struct {
	// Strategy is fail, ignore, or fallback.
	Strategy ErrorStrategy `yaml:"strategy"`

	// Fallback is the output text used with the fallback strategy.
	Fallback string `yaml:"fallback,omitempty"`
}

// LoadDefinition reads and validates a workflow definition from a YAML file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading workflow file %s", path)
	}
	return ParseDefinition(data)
}

// ParseDefinition parses and validates a workflow definition from YAML.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, &errors.ValidationError{
			Field:   "workflow",
			Message: fmt.Sprintf("invalid YAML: %v", err),
		}
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks structural invariants and infers step types.
// It mutates the definition: inferred types and retry/timeout defaults
// are filled in so the executor sees a normalized graph.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return &errors.ValidationError{Field: "name", Message: "workflow name is required"}
	}
	if len(d.Steps) == 0 {
		return &errors.ValidationError{
			Field:      "steps",
			Message:    "workflow has no steps",
			Suggestion: "define at least one step",
		}
	}

	seen := make(map[string]bool)
	eval := expression.NewEvaluator()
	return validateSteps(d.Steps, seen, eval)
}

func validateSteps(steps []StepDefinition, seen map[string]bool, eval *expression.Evaluator) error {
	for i := range steps {
		step := &steps[i]
		if step.ID == "" {
			return &errors.ValidationError{
				Field:   "steps",
				Message: fmt.Sprintf("step %d has no id", i),
			}
		}
		if seen[step.ID] {
			return &errors.ValidationError{
				Field:      "steps",
				Message:    fmt.Sprintf("duplicate step id %q", step.ID),
				Suggestion: "step ids must be unique across the whole workflow",
			}
		}
		seen[step.ID] = true

		if step.Type == "" {
			step.Type = inferStepType(step)
		}

		switch step.Type {
		case StepTypeAgent:
			if step.Agent == "" {
				return &errors.ValidationError{
					Field:   fmt.Sprintf("steps.%s.agent", step.ID),
					Message: "agent step requires an agent id",
				}
			}
			if step.Prompt == "" {
				return &errors.ValidationError{
					Field:   fmt.Sprintf("steps.%s.prompt", step.ID),
					Message: "agent step requires a prompt",
				}
			}
		case StepTypeParallel:
			if len(step.Steps) == 0 {
				return &errors.ValidationError{
					Field:   fmt.Sprintf("steps.%s.steps", step.ID),
					Message: "parallel step requires child steps",
				}
			}
			if err := validateSteps(step.Steps, seen, eval); err != nil {
				return err
			}
		case StepTypeCondition:
			if step.Condition == nil || step.Condition.Expression == "" {
				return &errors.ValidationError{
					Field:   fmt.Sprintf("steps.%s.condition", step.ID),
					Message: "condition step requires an expression",
				}
			}
			if err := eval.Validate(step.Condition.Expression); err != nil {
				return &errors.ValidationError{
					Field:   fmt.Sprintf("steps.%s.condition.expression", step.ID),
					Message: fmt.Sprintf("expression does not compile: %v", err),
				}
			}
			if len(step.Condition.Then) == 0 {
				return &errors.ValidationError{
					Field:   fmt.Sprintf("steps.%s.condition.then", step.ID),
					Message: "condition step requires a then branch",
				}
			}
			if err := validateSteps(step.Condition.Then, seen, eval); err != nil {
				return err
			}
			if err := validateSteps(step.Condition.Else, seen, eval); err != nil {
				return err
			}
		case StepTypeFunction:
			if step.Function == "" {
				return &errors.ValidationError{
					Field:   fmt.Sprintf("steps.%s.function", step.ID),
					Message: "function step requires a function name",
				}
			}
		default:
			return &errors.ValidationError{
				Field:   fmt.Sprintf("steps.%s.type", step.ID),
				Message: fmt.Sprintf("unknown step type %q", step.Type),
			}
		}

		if step.If != "" {
			if err := eval.Validate(step.If); err != nil {
				return &errors.ValidationError{
					Field:   fmt.Sprintf("steps.%s.if", step.ID),
					Message: fmt.Sprintf("expression does not compile: %v", err),
				}
			}
		}
	}
	return nil
}

// inferStepType guesses the type from the populated fields.
func inferStepType(step *StepDefinition) StepType {
	switch {
	case step.Condition != nil:
		return StepTypeCondition
	case len(step.Steps) > 0:
		return StepTypeParallel
	case step.Function != "":
		return StepTypeFunction
	default:
		return StepTypeAgent
	}
}

// effectiveTimeout returns the step timeout with the type default applied.
func (s *StepDefinition) effectiveTimeout() time.Duration {
	if s.Timeout > 0 {
		return time.Duration(s.Timeout) * time.Second
	}
	if s.Type == StepTypeFunction {
		return DefaultFunctionStepTimeout
	}
	return DefaultAgentStepTimeout
}

// effectiveRetry returns the retry policy with defaults applied.
// Parallel and condition containers never retry; their children do.
func (s *StepDefinition) effectiveRetry() RetryDefinition {
	if s.Type == StepTypeParallel || s.Type == StepTypeCondition {
		return RetryDefinition{MaxAttempts: 1}
	}
	retry := RetryDefinition{
		MaxAttempts:       DefaultRetryMaxAttempts,
		BackoffBase:       DefaultRetryBackoffBase,
		BackoffMultiplier: DefaultRetryBackoffMultiplier,
	}
	if s.Retry != nil {
		if s.Retry.MaxAttempts > 0 {
			retry.MaxAttempts = s.Retry.MaxAttempts
		}
		if s.Retry.BackoffBase > 0 {
			retry.BackoffBase = s.Retry.BackoffBase
		}
		if s.Retry.BackoffMultiplier > 0 {
			retry.BackoffMultiplier = s.Retry.BackoffMultiplier
		}
	}
	return retry
}

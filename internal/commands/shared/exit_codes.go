// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shared

import (
	"errors"
	"fmt"
	"os"

	stewarderrors "github.com/steward-project/steward/pkg/errors"
)

// Exit codes for the steward CLI.
const (
	ExitSuccess         = 0
	ExitExecutionFailed = 1
	ExitInvalidInput    = 2
	ExitProviderError   = 4
	ExitConnectionError = 5
)

// ExitError is an error carrying a process exit code.
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewExecutionError wraps a run failure.
func NewExecutionError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitExecutionFailed, Message: msg, Cause: cause}
}

// NewInvalidInputError wraps bad flags, arguments, or configuration.
func NewInvalidInputError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitInvalidInput, Message: msg, Cause: cause}
}

// NewProviderError wraps an LLM provider failure.
func NewProviderError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitProviderError, Message: msg, Cause: cause}
}

// NewConnectionError wraps an MCP server connection failure.
func NewConnectionError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitConnectionError, Message: msg, Cause: cause}
}

// HandleExitError prints the error, surfaces any suggestion carried by a
// typed error in the chain, and exits with the appropriate code.
func HandleExitError(err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "Error:", err.Error())
	if suggestion := suggestionFor(err); suggestion != "" {
		fmt.Fprintln(os.Stderr, "Hint:", suggestion)
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.Code)
	}
	os.Exit(ExitExecutionFailed)
}

// suggestionFor extracts actionable guidance from the error chain.
func suggestionFor(err error) string {
	var validation *stewarderrors.ValidationError
	if errors.As(err, &validation) {
		return validation.Suggestion
	}
	var provider *stewarderrors.ProviderError
	if errors.As(err, &provider) {
		return provider.Suggestion
	}
	return ""
}

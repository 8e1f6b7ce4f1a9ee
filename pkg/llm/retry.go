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

package llm

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/steward-project/steward/pkg/errors"
)

// RetryConfig controls the backoff behavior of RetryableProvider.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first failure.
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the backoff.
	MaxDelay time.Duration

	// Multiplier scales the delay after each attempt.
	Multiplier float64

	// Jitter is the fraction of random variance applied to each delay.
	Jitter float64
}

// DefaultRetryConfig returns the standard retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// HTTPError carries an HTTP status code alongside a provider error so the
// retry policy can classify it.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// RetryableProvider wraps a provider with retry, exponential backoff, and
// client-side rate limiting.
type RetryableProvider struct {
	provider Provider
	config   RetryConfig
	limiter  *rate.Limiter
}

// NewRetryableProvider wraps a provider with the given retry policy. A nil
// limiter disables client-side rate limiting.
func NewRetryableProvider(provider Provider, config RetryConfig, limiter *rate.Limiter) *RetryableProvider {
	return &RetryableProvider{
		provider: provider,
		config:   config,
		limiter:  limiter,
	}
}

// WithRateLimit wraps a provider with the default retry policy and a limiter
// allowing rps requests per second with the given burst.
func WithRateLimit(provider Provider, rps float64, burst int) *RetryableProvider {
	return NewRetryableProvider(provider, DefaultRetryConfig(), rate.NewLimiter(rate.Limit(rps), burst))
}

func (r *RetryableProvider) Name() string {
	return r.provider.Name()
}

func (r *RetryableProvider) Capabilities() Capabilities {
	return r.provider.Capabilities()
}

// Complete invokes the wrapped provider, retrying retryable failures with
// exponential backoff. Each attempt waits for the rate limiter first.
func (r *RetryableProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.calculateBackoff(attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := r.wait(ctx); err != nil {
			return nil, err
		}

		resp, err := r.provider.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryableError(err) {
			return nil, err
		}
	}

	return nil, errors.Wrapf(lastErr, "completion failed after %d attempts", r.config.MaxRetries+1)
}

// Stream invokes the wrapped provider's stream, retrying failures that occur
// before any chunk is delivered. Once a stream has started it is never
// retried.
func (r *RetryableProvider) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.calculateBackoff(attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := r.wait(ctx); err != nil {
			return nil, err
		}

		ch, err := r.provider.Stream(ctx, req)
		if err == nil {
			return ch, nil
		}
		lastErr = err
		if !isRetryableError(err) {
			return nil, err
		}
	}

	return nil, errors.Wrapf(lastErr, "stream failed after %d attempts", r.config.MaxRetries+1)
}

func (r *RetryableProvider) wait(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	return r.limiter.Wait(ctx)
}

// calculateBackoff returns the delay before the given retry attempt, with
// jitter applied.
func (r *RetryableProvider) calculateBackoff(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= r.config.Multiplier
	}
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}
	if r.config.Jitter > 0 {
		jitter := delay * r.config.Jitter * (2*rand.Float64() - 1)
		delay += jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// isRetryableError reports whether a failure is worth retrying. Rate limits
// and server errors are; context cancellation and client errors are not.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var httpErr *HTTPError
	if stderrors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}

	var provErr *errors.ProviderError
	if stderrors.As(err, &provErr) {
		return provErr.StatusCode == http.StatusTooManyRequests || provErr.StatusCode >= 500
	}

	// Network-level failures (connection reset, DNS) arrive as plain errors.
	return true
}

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
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steward-project/steward/pkg/errors"
)

type flakyProvider struct {
	failures int
	calls    int
	err      error
}

func (p *flakyProvider) Name() string               { return "flaky" }
func (p *flakyProvider) Capabilities() Capabilities { return Capabilities{} }

func (p *flakyProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	p.calls++
	if p.calls <= p.failures {
		return nil, p.err
	}
	return &CompletionResponse{Content: "ok"}, nil
}

func (p *flakyProvider) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	p.calls++
	if p.calls <= p.failures {
		return nil, p.err
	}
	ch := make(chan StreamChunk)
	close(ch)
	return ch, nil
}

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetryRecoversFromServerErrors(t *testing.T) {
	provider := &flakyProvider{failures: 2, err: &HTTPError{StatusCode: 500, Message: "server error"}}
	wrapped := NewRetryableProvider(provider, fastRetryConfig(), nil)

	resp, err := wrapped.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 3, provider.calls)
}

func TestRetryGivesUpAfterMaxRetries(t *testing.T) {
	provider := &flakyProvider{failures: 10, err: &HTTPError{StatusCode: 503, Message: "unavailable"}}
	wrapped := NewRetryableProvider(provider, fastRetryConfig(), nil)

	_, err := wrapped.Complete(context.Background(), CompletionRequest{})
	require.Error(t, err)
	assert.Equal(t, 4, provider.calls, "initial attempt plus three retries")
}

func TestRetryDoesNotRetryClientErrors(t *testing.T) {
	provider := &flakyProvider{failures: 10, err: &HTTPError{StatusCode: 400, Message: "bad request"}}
	wrapped := NewRetryableProvider(provider, fastRetryConfig(), nil)

	_, err := wrapped.Complete(context.Background(), CompletionRequest{})
	require.Error(t, err)
	assert.Equal(t, 1, provider.calls)
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	provider := &flakyProvider{failures: 10, err: &HTTPError{StatusCode: 500, Message: "server error"}}
	cfg := fastRetryConfig()
	cfg.InitialDelay = time.Second
	wrapped := NewRetryableProvider(provider, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := wrapped.Complete(ctx, CompletionRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRetryStream(t *testing.T) {
	provider := &flakyProvider{failures: 1, err: &HTTPError{StatusCode: 429, Message: "rate limited"}}
	wrapped := NewRetryableProvider(provider, fastRetryConfig(), nil)

	ch, err := wrapped.Stream(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	for range ch {
	}
	assert.Equal(t, 2, provider.calls)
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"http 500", &HTTPError{StatusCode: 500}, true},
		{"http 429", &HTTPError{StatusCode: http.StatusTooManyRequests}, true},
		{"http 401", &HTTPError{StatusCode: 401}, false},
		{"provider 503", &errors.ProviderError{Provider: "anthropic", StatusCode: 503}, true},
		{"provider 400", &errors.ProviderError{Provider: "anthropic", StatusCode: 400}, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"network error", assert.AnError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableError(tt.err))
		})
	}
}

func TestCalculateBackoffIsCapped(t *testing.T) {
	r := NewRetryableProvider(nil, RetryConfig{
		MaxRetries:   5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   10.0,
	}, nil)

	for attempt := 1; attempt <= 5; attempt++ {
		delay := r.calculateBackoff(attempt)
		assert.LessOrEqual(t, delay, time.Second)
		assert.GreaterOrEqual(t, delay, time.Duration(0))
	}
}

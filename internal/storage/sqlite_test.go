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

package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steward-project/steward/pkg/agent"
	"github.com/steward-project/steward/pkg/errors"
	"github.com/steward-project/steward/pkg/llm"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "steward.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func appendRun(t *testing.T, store *Store, agentID, sessionID, prompt, response string, at time.Time) {
	t.Helper()
	err := store.AppendRun(context.Background(), agent.RunRecord{
		AgentID:   agentID,
		SessionID: sessionID,
		Prompt:    prompt,
		Response:  response,
		Usage:     llm.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
		CreatedAt: at,
	})
	require.NoError(t, err)
}

func TestDefaultPathEnvOverride(t *testing.T) {
	t.Setenv(EnvDBPath, "/tmp/custom.db")
	path, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.db", path)

	t.Setenv(EnvDBPath, "")
	path, err = DefaultPath()
	require.NoError(t, err)
	assert.Contains(t, path, filepath.Join(".steward", "steward.db"))
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}

func TestSessionLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	session, err := store.CreateSession(ctx, "performance", "morning check")
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)

	got, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "performance", got.AgentID)
	assert.Equal(t, "morning check", got.Name)

	_, err = store.GetSession(ctx, "missing")
	var nfErr *errors.NotFoundError
	assert.ErrorAs(t, err, &nfErr)

	_, err = store.CreateSession(ctx, "performance", "second")
	require.NoError(t, err)
	sessions, err := store.ListSessions(ctx, "performance")
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestAppendRunCreatesSessionOnTheFly(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	appendRun(t, store, "performance", "cli-session", "cpu?", "42%", time.Now())

	session, err := store.GetSession(ctx, "cli-session")
	require.NoError(t, err)
	assert.Equal(t, "performance", session.AgentID)
}

func TestAppendRunRequiresSession(t *testing.T) {
	store := openTestStore(t)
	err := store.AppendRun(context.Background(), agent.RunRecord{AgentID: "performance"})
	assert.Error(t, err)
}

func TestRecentRunsLimitsPerSession(t *testing.T) {
	store := openTestStore(t)
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		appendRun(t, store, "performance", "s1",
			fmt.Sprintf("prompt %d", i), fmt.Sprintf("response %d", i),
			base.Add(time.Duration(i)*time.Minute))
	}

	records, err := store.RecentRuns(context.Background(), "performance", "s1", 3, 2)
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Oldest of the kept runs first, newest last.
	assert.Equal(t, "prompt 2", records[0].Prompt)
	assert.Equal(t, "prompt 4", records[2].Prompt)
	assert.Equal(t, 15, records[0].Usage.TotalTokens)
}

func TestRecentRunsSpansSessions(t *testing.T) {
	store := openTestStore(t)
	base := time.Now().Add(-2 * time.Hour)

	appendRun(t, store, "performance", "old", "old prompt", "old response", base)
	appendRun(t, store, "performance", "older", "older prompt", "older response", base.Add(-time.Hour))
	appendRun(t, store, "performance", "current", "current prompt", "current response", base.Add(time.Hour))

	records, err := store.RecentRuns(context.Background(), "performance", "current", 3, 2)
	require.NoError(t, err)
	require.Len(t, records, 2, "two sessions: most recent other session plus the current one")

	assert.Equal(t, "old prompt", records[0].Prompt)
	assert.Equal(t, "current prompt", records[1].Prompt, "active session replays last")
}

func TestRecentRunsIgnoresOtherAgents(t *testing.T) {
	store := openTestStore(t)
	now := time.Now()

	appendRun(t, store, "performance", "p1", "perf prompt", "perf response", now)
	appendRun(t, store, "sysadmin-discovery", "d1", "disc prompt", "disc response", now)

	records, err := store.RecentRuns(context.Background(), "performance", "p1", 3, 2)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "perf prompt", records[0].Prompt)
}

func TestRecentRunsZeroConfig(t *testing.T) {
	store := openTestStore(t)
	records, err := store.RecentRuns(context.Background(), "performance", "s1", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSearchRuns(t *testing.T) {
	store := openTestStore(t)
	now := time.Now()

	appendRun(t, store, "performance", "s1", "check CPU utilization", "CPU at 85%, approaching limit", now)
	appendRun(t, store, "performance", "s1", "check disk", "ASP usage nominal", now.Add(time.Minute))

	records, err := store.SearchRuns(context.Background(), "performance", "CPU")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Response, "approaching limit")

	records, err = store.SearchRuns(context.Background(), "performance", "nothing")
	require.NoError(t, err)
	assert.Empty(t, records)
}

package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steward-project/steward/pkg/llm"
)

func TestEstimateTokens(t *testing.T) {
	cm := NewContextManager(1000)

	assert.Equal(t, 0, cm.EstimateTokens(nil))

	msgs := []llm.Message{{Role: llm.RoleUser, Content: strings.Repeat("a", 400)}}
	estimate := cm.EstimateTokens(msgs)
	assert.Equal(t, 110, estimate, "400 chars / 4 + 10 overhead")

	withCall := []llm.Message{{
		Role:      llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{{Name: "system_status", Arguments: `{"detail":"full"}`}},
	}}
	assert.Greater(t, cm.EstimateTokens(withCall), 20)
}

func TestShouldPrune(t *testing.T) {
	cm := NewContextManager(100)

	small := []llm.Message{{Content: "hi"}}
	assert.False(t, cm.ShouldPrune(small))

	big := []llm.Message{{Content: strings.Repeat("a", 1000)}}
	assert.True(t, cm.ShouldPrune(big))
}

func TestPruneKeepsSystemAndRecent(t *testing.T) {
	cm := NewContextManager(200)

	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: "You are an administrator."},
	}
	for i := 0; i < 20; i++ {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: strings.Repeat("x", 100)})
	}

	pruned := cm.Prune(msgs)
	require.NotEmpty(t, pruned)
	assert.Equal(t, llm.RoleSystem, pruned[0].Role, "system message always survives")
	assert.Less(t, len(pruned), len(msgs))
	assert.LessOrEqual(t, cm.EstimateTokens(pruned), 200)

	// The newest message must be the last one kept.
	assert.Equal(t, msgs[len(msgs)-1], pruned[len(pruned)-1])
}

func TestPruneEmpty(t *testing.T) {
	cm := NewContextManager(100)
	assert.Empty(t, cm.Prune(nil))
}

func TestTruncateContent(t *testing.T) {
	short := "brief output"
	assert.Equal(t, short, TruncateContent(short, 100))

	long := strings.Repeat("word ", 500)
	truncated := TruncateContent(long, 50)
	assert.Less(t, len(truncated), len(long))
	assert.True(t, strings.HasSuffix(truncated, "..."))
}

package agent

import (
	"strings"

	"github.com/steward-project/steward/pkg/llm"
)

// defaultContextTokens is the assumed context window when the model does
// not advertise one.
const defaultContextTokens = 100000

// ContextManager watches conversation size and prunes old messages when the
// estimated token count approaches the window.
type ContextManager struct {
	maxTokens      int
	pruneThreshold int
}

// NewContextManager creates a manager that prunes at 80% of maxTokens.
func NewContextManager(maxTokens int) *ContextManager {
	return &ContextManager{
		maxTokens:      maxTokens,
		pruneThreshold: int(float64(maxTokens) * 0.8),
	}
}

// ShouldPrune reports whether the conversation should be pruned.
func (cm *ContextManager) ShouldPrune(messages []llm.Message) bool {
	return cm.EstimateTokens(messages) > cm.pruneThreshold
}

// Prune drops the oldest messages until the conversation fits, always
// keeping the leading system message.
func (cm *ContextManager) Prune(messages []llm.Message) []llm.Message {
	if len(messages) == 0 {
		return messages
	}

	pruned := []llm.Message{messages[0]}
	remaining := cm.maxTokens - cm.EstimateTokens(pruned)

	// Walk newest to oldest, keeping what fits.
	var kept []llm.Message
	for i := len(messages) - 1; i > 0; i-- {
		msgTokens := estimateMessageTokens(&messages[i])
		if remaining-msgTokens < 0 {
			break
		}
		remaining -= msgTokens
		kept = append([]llm.Message{messages[i]}, kept...)
	}

	return append(pruned, kept...)
}

// EstimateTokens estimates the token count of a conversation using the
// rough 4-characters-per-token heuristic.
func (cm *ContextManager) EstimateTokens(messages []llm.Message) int {
	total := 0
	for i := range messages {
		total += estimateMessageTokens(&messages[i])
	}
	return total
}

func estimateMessageTokens(msg *llm.Message) int {
	tokens := len(msg.Content)/4 + 10
	for _, call := range msg.ToolCalls {
		tokens += len(call.Name)/4 + len(call.Arguments)/4 + 20
	}
	return tokens
}

// TruncateContent shortens text to roughly fit a token budget, breaking at
// a word boundary where possible.
func TruncateContent(content string, maxTokens int) string {
	maxChars := maxTokens * 4
	if len(content) <= maxChars {
		return content
	}
	truncated := content[:maxChars-3]
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > 0 {
		truncated = truncated[:lastSpace]
	}
	return truncated + "..."
}

package retrieval

import (
	"fmt"

	"github.com/llamaedge/nexus-gateway/internal/downstream"
)

// MergeContext folds assembled context into messages per policy (spec §4.D
// step 6). systemMessageSupported, when false, silently downgrades
// system-message to last-user-message (a model whose prompt template has no
// system role). Returns the rewritten message list; messages is never
// mutated in place.
func MergeContext(messages []downstream.ChatMessage, context string, policy MergePolicy, systemMessageSupported bool) []downstream.ChatMessage {
	effective := policy
	if effective == PolicySystemMessage && !systemMessageSupported {
		effective = PolicyLastUserMessage
	}

	out := make([]downstream.ChatMessage, len(messages))
	copy(out, messages)

	switch effective {
	case PolicySystemMessage:
		wrapped := fmt.Sprintf(ContextTemplate, context)
		for i, m := range out {
			if m.Role == "system" {
				out[i].Content = wrapped
				return out
			}
		}
		return append([]downstream.ChatMessage{{Role: "system", Content: wrapped}}, out...)

	case PolicyLastUserMessage:
		lastUserIdx := -1
		for i, m := range out {
			if m.Role == "user" {
				lastUserIdx = i
			}
		}
		if lastUserIdx == -1 {
			return out
		}
		wrapped := fmt.Sprintf(ContextTemplate, context) + "\n\nThe question is:\n" + out[lastUserIdx].Content
		out[lastUserIdx].Content = wrapped
		return out

	default:
		return out
	}
}

package chat

import (
	"strings"

	"github.com/slack-go/slack"
)

// FormValues flattens the input state of a message into block_id -> value.
// Only the onboarding inputs (action IDs ending in "_input") are read.
func FormValues(state *slack.BlockActionStates) map[string]string {
	out := map[string]string{}
	if state == nil {
		return out
	}
	for blockID, actions := range state.Values {
		for actionID, a := range actions {
			if !strings.HasSuffix(actionID, inputSuffix) {
				continue
			}
			out[blockID] = strings.TrimSpace(a.Value)
		}
	}
	return out
}

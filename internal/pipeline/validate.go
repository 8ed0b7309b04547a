package pipeline

import (
	"fmt"

	"github.com/casr-dev/casr/pkg/ir"
)

// ValidationResult buckets validation findings by severity. Errors are
// fatal: the pipeline stops a conversion rather than write a session that
// failed them. Warnings and info are advisory and accumulate into the
// conversion result.
type ValidationResult struct {
	Errors   []string
	Warnings []string
	Info     []string
}

// HasErrors reports whether any fatal finding was recorded.
func (v ValidationResult) HasErrors() bool { return len(v.Errors) > 0 }

// Validate checks a canonical session for the conditions every codec
// should have produced. Errors are checked first; once any error is found
// (no messages, no user message, no assistant message) the remaining
// warning and info checks are skipped.
func Validate(session ir.CanonicalSession) ValidationResult {
	var result ValidationResult

	if len(session.Messages) == 0 {
		result.Errors = append(result.Errors, "session has no messages")
		return result
	}

	hasUser, hasAssistant := false, false
	for _, m := range session.Messages {
		if m.Role.Equal(ir.User) {
			hasUser = true
		}
		if m.Role.Equal(ir.Assistant) {
			hasAssistant = true
		}
	}
	if !hasUser {
		result.Errors = append(result.Errors, "session has no user message")
	}
	if !hasAssistant {
		result.Errors = append(result.Errors, "session has no assistant message")
	}
	if result.HasErrors() {
		return result
	}

	if session.Workspace == nil {
		result.Warnings = append(result.Warnings, "session has no workspace")
	}

	hasTimestamp := false
	for _, m := range session.Messages {
		if m.Timestamp != nil {
			hasTimestamp = true
			break
		}
	}
	if !hasTimestamp {
		result.Warnings = append(result.Warnings, "session has no timestamps")
	}

	for i := 1; i < len(session.Messages); i++ {
		prev, cur := session.Messages[i-1], session.Messages[i]
		if !isUserOrAssistant(prev.Role) || !isUserOrAssistant(cur.Role) {
			continue
		}
		if prev.Role.Equal(cur.Role) {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"consecutive %s messages at index %d and %d", cur.Role.String(), i-1, i,
			))
			break
		}
	}

	if len(session.Messages) < 3 {
		result.Warnings = append(result.Warnings, "session has fewer than 3 messages")
	}

	knownCallIDs := map[string]bool{}
	hasToolCalls := false
	for _, m := range session.Messages {
		for _, tc := range m.ToolCalls {
			hasToolCalls = true
			if tc.ID != "" {
				knownCallIDs[tc.ID] = true
			}
		}
	}
	if hasToolCalls {
		result.Info = append(result.Info, "session contains tool calls")
	}

	for _, m := range session.Messages {
		for _, tr := range m.ToolResults {
			if tr.CallID != "" && !knownCallIDs[tr.CallID] {
				result.Info = append(result.Info, fmt.Sprintf(
					"message %d has a tool result with an unknown call id %q", m.Idx, tr.CallID,
				))
				break
			}
		}
	}

	return result
}

func isUserOrAssistant(role ir.MessageRole) bool {
	return role.Equal(ir.User) || role.Equal(ir.Assistant)
}
